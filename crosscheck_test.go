package sgxfeatures

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	kcpuid "github.com/klauspost/cpuid/v2"
)

// referenceFor builds the cpuid.CPUInfo an independent decoder would report
// for sgxMachine.
func referenceFor() kcpuid.CPUInfo {
	return kcpuid.CPUInfo{
		VendorString: "GenuineIntel",
		BrandName:    "Intel(R) Core(TM) i7-8700 CPU @ 3.20GHz",
		Family:       6,
		Model:        0x9E,
		Stepping:     0xA,
		SGX: kcpuid.SGXSupport{
			Available:           true,
			LaunchControl:       true,
			SGX1Supported:       true,
			MaxEnclaveSizeNot64: 1 << 31,
			MaxEnclaveSize64:    1 << 36,
			EPCSections: []kcpuid.SGXEPCSection{
				{BaseAddress: 0x70200000, EPCSize: 0x05D80000},
				{BaseAddress: 0x180000000, EPCSize: 0x01000000},
			},
		},
	}
}

func TestCrossCheck_Agree(t *testing.T) {
	r := probeSGXMachine(t)
	if got := crossCheck(r, referenceFor()); len(got) != 0 {
		t.Errorf("crossCheck() = %v, want no mismatches", got)
	}
}

func TestCrossCheck_Mismatches(t *testing.T) {
	r := probeSGXMachine(t)
	ref := referenceFor()
	ref.Stepping = 0xB
	ref.SGX.LaunchControl = false
	ref.SGX.EPCSections = ref.SGX.EPCSections[:1]
	ref.SGX.EPCSections[0].EPCSize = 0x04000000

	want := []Mismatch{
		{Field: "stepping", Report: "10", Reference: "11"},
		{Field: "sgx_lc", Report: "true", Reference: "false"},
		{Field: "epc_sections", Report: "2", Reference: "1"},
		{Field: "epc[0].size", Report: "0x5d80000", Reference: "0x4000000"},
	}
	if diff := cmp.Diff(want, crossCheck(r, ref)); diff != "" {
		t.Errorf("crossCheck() mismatch (-want +got):\n%s", diff)
	}
}

func TestCrossCheck_PartialReport(t *testing.T) {
	r := &Report{Vendor: &VendorInfo{Vendor: "AuthenticAMD"}}
	ref := referenceFor()
	ref.VendorString = "AuthenticAMD"
	if got := crossCheck(r, ref); len(got) != 0 {
		t.Errorf("crossCheck() = %v, want no mismatches for a vendor-only report", got)
	}
}

func TestMismatch_String(t *testing.T) {
	m := Mismatch{Field: "sgx2", Report: "false", Reference: "true"}
	if got, want := m.String(), `sgx2: report "false", reference "true"`; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
