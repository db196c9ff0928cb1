package sgxfeatures

import (
	"fmt"
	"slices"
)

// VDSOEnterEnclaveSymbol is the vDSO entry point exported by kernels whose
// in-tree SGX driver supports enclave entry from user space.
const VDSOEnterEnclaveSymbol = "__vdso_sgx_enter_enclave"

// VDSOInfo describes the vDSO mapped into the current process.
type VDSOInfo struct {
	Base         uintptr     `json:"base"`
	Size         uint64      `json:"size"`
	Symbols      int         `json:"symbols"`
	EnterEnclave ProbeResult `json:"enter_enclave"`
}

// VDSOSymbols returns every dynamic symbol name exported by the vDSO, in
// hash-table order.
func VDSOSymbols() ([]string, error) {
	image, _, err := LocateVDSO()
	if err != nil {
		return nil, err
	}
	st, err := ResolveSymbolTable(image)
	if err != nil {
		return nil, fmt.Errorf("vDSO: %w", err)
	}
	return slices.Collect(st.Symbols()), nil
}

// probeVDSO never fails; a missing image or symbol table leaves Base or
// Symbols zero and is reported through EnterEnclave.
func probeVDSO() *VDSOInfo {
	image, base, err := LocateVDSO()
	if err != nil {
		return &VDSOInfo{EnterEnclave: ProbeResult{Error: err}}
	}
	info := &VDSOInfo{Base: base, Size: uint64(len(image))}
	st, err := ResolveSymbolTable(image)
	if err != nil {
		info.EnterEnclave = ProbeResult{Error: err}
		return info
	}
	info.Symbols = st.Len()
	info.EnterEnclave = enterEnclaveResult(st)
	return info
}

// enterEnclaveResult walks every bucket and chain instead of hashing the name.
func enterEnclaveResult(st *SymbolTable) ProbeResult {
	for name := range st.Symbols() {
		if name == VDSOEnterEnclaveSymbol {
			return ProbeResult{Supported: true}
		}
	}
	return ProbeResult{Supported: false}
}
