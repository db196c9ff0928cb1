package sgxfeatures

// XSAVEInfo is decoded from CPUID leaf 0x0D, sub-leaves 0 and 1.
//
// SGX saves enclave state with XSAVE, and SECS.ATTRIBUTES.XFRM must be a
// subset of what XCR0 enables.
type XSAVEInfo struct {
	// MaxSizeEnabled is the XSAVE area size for the features enabled in XCR0.
	MaxSizeEnabled uint32 `json:"max_size_enabled"`
	// MaxSizeSupported is the XSAVE area size if every XCR0 bit were set.
	MaxSizeSupported uint32 `json:"max_size_supported"`
	// SizeEnabledWithXSS is the size for XCR0 | IA32_XSS.
	SizeEnabledWithXSS uint32 `json:"size_enabled_with_xss"`

	// SupportedXCR0 is the mask of user state components (EDX:EAX of sub-leaf 0).
	SupportedXCR0 uint64 `json:"supported_xcr0"`
	// SupportedXSS is the mask of supervisor state components (EDX:ECX of sub-leaf 1).
	SupportedXSS uint64 `json:"supported_xss"`

	XSAVEOPT   bool `json:"xsaveopt"`
	XSAVEC     bool `json:"xsavec"`
	XGETBVECX1 bool `json:"xgetbv_ecx1"`
	XSS        bool `json:"xss"`
	XFD        bool `json:"xfd"`
}

// DecodeXSAVE decodes leaf 0x0D sub-leaves 0 and 1.
func DecodeXSAVE(sub0, sub1 RegisterSet) XSAVEInfo {
	return XSAVEInfo{
		MaxSizeEnabled:     sub0.EBX,
		MaxSizeSupported:   sub0.ECX,
		SizeEnabledWithXSS: sub1.EBX,
		SupportedXCR0:      uint64(sub0.EDX)<<32 | uint64(sub0.EAX),
		SupportedXSS:       uint64(sub1.EDX)<<32 | uint64(sub1.ECX),
		XSAVEOPT:           bit(sub1.EAX, 0),
		XSAVEC:             bit(sub1.EAX, 1),
		XGETBVECX1:         bit(sub1.EAX, 2),
		XSS:                bit(sub1.EAX, 3),
		XFD:                bit(sub1.EAX, 4),
	}
}

// ReadXSAVE queries and decodes leaf 0x0D.
func ReadXSAVE(q RegisterQuerier) XSAVEInfo {
	return DecodeXSAVE(q.Query(LeafXSAVE, 0), q.Query(LeafXSAVE, 1))
}

// XCR0Readable reports whether XGETBV may be executed: the processor
// advertises it in leaf 0x0D and the OS has enabled it (CPUID.1:ECX.OSXSAVE).
func XCR0Readable(sig Signature, x XSAVEInfo) bool {
	return x.XGETBVECX1 && sig.OSXSAVE
}

// XCR0State is the value of XCR0, when it could be read.
type XCR0State struct {
	Available bool   `json:"available"`
	Value     uint64 `json:"value"`
}

// StateComponent is one XSAVE-managed state component.
type StateComponent struct {
	Bit  uint
	Name string
	// Supervisor components live in IA32_XSS rather than XCR0.
	Supervisor bool
}

var stateComponents = []StateComponent{
	{Bit: 0, Name: "x87"},
	{Bit: 1, Name: "SSE"},
	{Bit: 2, Name: "AVX"},
	{Bit: 3, Name: "MPX BNDREGS"},
	{Bit: 4, Name: "MPX BNDCSR"},
	{Bit: 5, Name: "AVX-512 opmask"},
	{Bit: 6, Name: "AVX-512 ZMM_Hi256"},
	{Bit: 7, Name: "AVX-512 Hi16_ZMM"},
	{Bit: 8, Name: "PT", Supervisor: true},
	{Bit: 9, Name: "PKRU"},
	{Bit: 10, Name: "PASID", Supervisor: true},
	{Bit: 11, Name: "CET_U", Supervisor: true},
	{Bit: 12, Name: "CET_S", Supervisor: true},
	{Bit: 13, Name: "HDC", Supervisor: true},
	{Bit: 14, Name: "UINTR", Supervisor: true},
	{Bit: 15, Name: "LBR", Supervisor: true},
	{Bit: 16, Name: "HWP", Supervisor: true},
	{Bit: 17, Name: "AMX XTILECFG"},
	{Bit: 18, Name: "AMX XTILEDATA"},
	{Bit: 19, Name: "APX"},
}

// StateComponents returns the known components whose bit is set in the
// user mask xcr0 (user components) or xss (supervisor components).
func StateComponents(xcr0, xss uint64) []StateComponent {
	var out []StateComponent
	for _, c := range stateComponents {
		mask := xcr0
		if c.Supervisor {
			mask = xss
		}
		if mask&(1<<c.Bit) != 0 {
			out = append(out, c)
		}
	}
	return out
}
