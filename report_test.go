package sgxfeatures

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func probeSGXMachine(t *testing.T, opts ...ProbeOption) *Report {
	t.Helper()
	_, _, backends := fakeBackends(sgxMachine(), map[uint32]uint64{MSRFeatureControl: 0x60005}, true)
	r, err := ProbeWith(append(backends, opts...)...)
	if err != nil {
		t.Fatalf("ProbeWith() error = %v", err)
	}
	return r
}

func groupNames(groups []FieldGroup) []string {
	var names []string
	for _, g := range groups {
		names = append(names, g.Name)
	}
	return names
}

func TestReport_Groups(t *testing.T) {
	r := probeSGXMachine(t, WithMSRs())

	want := []string{
		"CPUID.(EAX=00H/01H/80000000H)",
		"CPUID.(EAX=07H,ECX=0)",
		"CPUID.(EAX=12H,ECX=0)",
		"CPUID.(EAX=12H,ECX=1)",
		"CPUID.(EAX=12H,ECX=2..)",
		"CPUID.(EAX=0DH,ECX=0..1)",
		"MSR",
	}
	groups := r.Groups()
	if diff := cmp.Diff(want, groupNames(groups)); diff != "" {
		t.Fatalf("group names mismatch (-want +got):\n%s", diff)
	}

	fields := map[string]string{}
	for _, g := range groups {
		for _, f := range g.Fields {
			fields[f.Name] = f.String()
		}
	}
	for name, want := range map[string]string{
		"Vendor":                     "GenuineIntel",
		"MaxBasicLeaf":               "0x16",
		"Brand":                      "Intel(R) Core(TM) i7-8700 CPU @ 3.20GHz",
		"Model":                      "14",
		"ExtendedModel":              "9",
		"SGX":                        "yes",
		"SGX2":                       "no",
		"MaxEnclaveSize_64":          "36",
		"MISCSELECT":                 "0x0",
		"EPC[0].Base":                "0x70200000",
		"EPC[1].Size":                "0x1000000",
		"EPC[1].Protection":          "c",
		"XCR0":                       "0x2e7",
		"IA32_FEATURE_CONTROL":       "0x60005",
		"FEATURE_CONTROL.SGX_ENABLE": "yes",
		"IA32_SGX_SVN_STATUS":        "not available",
	} {
		if got := fields[name]; got != want {
			t.Errorf("field %s = %q, want %q", name, got, want)
		}
	}
}

func TestReport_GroupsPartial(t *testing.T) {
	r := &Report{Vendor: &VendorInfo{Vendor: "AuthenticAMD", MaxBasicLeaf: 0x10}}
	groups := r.Groups()
	if diff := cmp.Diff([]string{"CPUID.(EAX=00H/01H/80000000H)"}, groupNames(groups)); diff != "" {
		t.Fatalf("group names mismatch (-want +got):\n%s", diff)
	}
	if n := len(groups[0].Fields); n != 2 {
		t.Errorf("partial basic group has %d fields, want 2", n)
	}

	if got := (&Report{}).Groups(); len(got) != 0 {
		t.Errorf("empty report groups = %v", groupNames(got))
	}
}

func TestReport_String(t *testing.T) {
	r := probeSGXMachine(t, WithMSRs())
	r.Kernel = &KernelSupport{
		Release:     "6.8.0-test",
		ConfigError: ErrNoKernelConfig,
		Driver:      ProbeResult{Supported: true},
		BTFEnclave:  ProbeResult{Error: errors.New("no BTF")},
	}
	r.VDSO = &VDSOInfo{Base: 0x7ffd3000, Size: 8192, Symbols: 12, EnterEnclave: ProbeResult{Supported: true}}

	out := r.String()
	for _, want := range []string{
		"CPUID.(EAX=12H,ECX=0):\n  SGX1: yes\n",
		"  Max enclave size (64-bit): 64 GiB\n",
		"  Max enclave size (32-bit): 2.0 GiB\n",
		"  EPC total: ",
		" in 2 section(s)\n",
		"   9 PKRU (user)\n",
		"  MSR access: yes\n",
		"Kernel: 6.8.0-test\n",
		"  BTF struct sgx_encl: no (error: no BTF)\n",
		"  Kernel config: not available (",
		"  Base: 0x7ffd3000 (8.0 KiB, 12 symbols)\n",
		"  __vdso_sgx_enter_enclave: yes\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("String() missing %q\n%s", want, out)
		}
	}
}

func TestReport_JSON(t *testing.T) {
	r := probeSGXMachine(t)
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	for _, key := range []string{"vendor", "brand", "signature", "extended_features", "sgx", "attributes", "epc", "xsave", "xcr0"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("JSON missing %q", key)
		}
	}
	for _, key := range []string{"privileges", "msrs", "kernel", "vdso"} {
		if _, ok := decoded[key]; ok {
			t.Errorf("JSON has %q for a section that was not probed", key)
		}
	}
}

func TestField_String(t *testing.T) {
	tests := []struct {
		f    Field
		want string
	}{
		{Field{"b", true}, "yes"},
		{Field{"b", false}, "no"},
		{Field{"n", uint8(36)}, "36"},
		{Field{"h", Hex(0x241f)}, "0x241f"},
		{Field{"s", "GenuineIntel"}, "GenuineIntel"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("Field{%v}.String() = %q, want %q", tt.f.Value, got, tt.want)
		}
	}
}
