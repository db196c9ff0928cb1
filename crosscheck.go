package sgxfeatures

import (
	"fmt"
	"strings"

	kcpuid "github.com/klauspost/cpuid/v2"
)

// Mismatch is a field on which the report and an independent CPUID decoder
// disagree.
type Mismatch struct {
	Field     string `json:"field"`
	Report    string `json:"report"`
	Reference string `json:"reference"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: report %q, reference %q", m.Field, m.Report, m.Reference)
}

// CrossCheck compares the report with github.com/klauspost/cpuid/v2's view
// of the processor running this process. Mismatches are diagnostics only;
// they usually mean the report was probed through another backend or the
// two decoders read a field differently.
func CrossCheck(r *Report) []Mismatch {
	return crossCheck(r, kcpuid.CPU)
}

func crossCheck(r *Report, ref kcpuid.CPUInfo) []Mismatch {
	var out []Mismatch
	cmp := func(field string, ours, theirs any) {
		o, t := fmt.Sprint(ours), fmt.Sprint(theirs)
		if o != t {
			out = append(out, Mismatch{Field: field, Report: o, Reference: t})
		}
	}

	if r.Vendor != nil {
		cmp("vendor", r.Vendor.Vendor, ref.VendorString)
	}
	if r.Brand != nil && r.Brand.Supported {
		cmp("brand", strings.TrimSpace(r.Brand.Brand), strings.TrimSpace(ref.BrandName))
	}
	if s := r.Signature; s != nil {
		cmp("family", s.DisplayFamily(), ref.Family)
		cmp("model", s.DisplayModel(), ref.Model)
		cmp("stepping", s.Stepping, ref.Stepping)
	}
	if r.Extended != nil {
		cmp("sgx", r.Extended.SGX, ref.SGX.Available)
		cmp("sgx_lc", r.Extended.SGXLaunchConfig, ref.SGX.LaunchControl)
	}
	if c := r.SGX; c != nil && ref.SGX.Available {
		cmp("sgx1", c.SGX1, ref.SGX.SGX1Supported)
		cmp("sgx2", c.SGX2, ref.SGX.SGX2Supported)
		if size, ok := c.MaxEnclaveSizeNot64(); ok {
			cmp("max_enclave_size_not64", size, ref.SGX.MaxEnclaveSizeNot64)
		}
		if size, ok := c.MaxEnclaveSize64(); ok {
			cmp("max_enclave_size_64", size, ref.SGX.MaxEnclaveSize64)
		}
	}
	if r.Attributes != nil && ref.SGX.Available {
		cmp("epc_sections", len(r.EPC), len(ref.SGX.EPCSections))
		for i := range min(len(r.EPC), len(ref.SGX.EPCSections)) {
			ours, theirs := r.EPC[i], ref.SGX.EPCSections[i]
			cmp(fmt.Sprintf("epc[%d].base", i), Hex(ours.BasePhysAddr), Hex(theirs.BaseAddress))
			cmp(fmt.Sprintf("epc[%d].size", i), Hex(ours.Size), Hex(theirs.EPCSize))
		}
	}
	return out
}
