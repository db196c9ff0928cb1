package sgxfeatures

import "fmt"

// Report is the decoded capability set of CPU 0. Sections after Vendor are
// nil when probing stopped before reaching them.
type Report struct {
	Vendor     *VendorInfo       `json:"vendor,omitempty"`
	Brand      *BrandInfo        `json:"brand,omitempty"`
	Signature  *Signature        `json:"signature,omitempty"`
	Extended   *ExtendedFeatures `json:"extended_features,omitempty"`
	SGX        *SGXCapabilities  `json:"sgx,omitempty"`
	Attributes *SGXAttributes    `json:"attributes,omitempty"`
	EPC        []EPCSection      `json:"epc,omitempty"`
	XSAVE      *XSAVEInfo        `json:"xsave,omitempty"`
	XCR0       XCR0State         `json:"xcr0"`

	Privileges *Privileges `json:"privileges,omitempty"`
	MSRs       *SGXMSRs    `json:"msrs,omitempty"`

	Kernel *KernelSupport `json:"kernel,omitempty"`
	VDSO   *VDSOInfo      `json:"vdso,omitempty"`

	// querier answers leaf-bit requirements in [Report.Check].
	querier RegisterQuerier
}

// Privileges records the checks made before reading MSRs.
type Privileges struct {
	// Privileged is the outcome of the check gating MSR reads.
	Privileged  bool        `json:"privileged"`
	CapSysAdmin ProbeResult `json:"cap_sys_admin"`
	CapSysRawIO ProbeResult `json:"cap_sys_rawio"`
}

// Hex is a raw quantity rendered in hexadecimal.
type Hex uint64

func (h Hex) String() string {
	return fmt.Sprintf("%#x", uint64(h))
}

// Field is one named decoded value: a bool, a small integer, a string or a
// [Hex] raw quantity.
type Field struct {
	Name  string
	Value any
}

func (f Field) String() string {
	if v, ok := f.Value.(bool); ok {
		return yesNo(v)
	}
	return fmt.Sprint(f.Value)
}

// FieldGroup collects the fields decoded from one leaf.
type FieldGroup struct {
	Name   string
	Fields []Field
}

// Groups returns the decoded fields grouped by the leaf they came from, in
// probe order. Sections that were not reached are omitted.
func (r *Report) Groups() []FieldGroup {
	var groups []FieldGroup
	if g, ok := r.basicGroup(); ok {
		groups = append(groups, g)
	}
	if e := r.Extended; e != nil {
		groups = append(groups, FieldGroup{Name: "CPUID.(EAX=07H,ECX=0)", Fields: []Field{
			{"SGX", e.SGX},
			{"SGX_LC", e.SGXLaunchConfig},
			{"SGX_KEYS", e.SGXAttestationKeys},
		}})
	}
	if c := r.SGX; c != nil {
		groups = append(groups, FieldGroup{Name: "CPUID.(EAX=12H,ECX=0)", Fields: []Field{
			{"SGX1", c.SGX1},
			{"SGX2", c.SGX2},
			{"OVERSUB-VMX", c.OversubVMX},
			{"OVERSUB-Supervisor", c.OversubSupervisor},
			{"EVERIFYREPORT2", c.EVERIFYREPORT2},
			{"EUPDATESVN", c.EUPDATESVN},
			{"EDECCSSA", c.EDECCSSA},
			{"MISCSELECT", Hex(c.MiscSelect)},
			{"MaxEnclaveSize_Not64", c.MaxEnclaveSizeNot64Exp},
			{"MaxEnclaveSize_64", c.MaxEnclaveSize64Exp},
		}})
	}
	if a := r.Attributes; a != nil {
		groups = append(groups, FieldGroup{Name: "CPUID.(EAX=12H,ECX=1)", Fields: []Field{
			{"DEBUG", a.Debug},
			{"MODE64BIT", a.Mode64Bit},
			{"PROVISIONKEY", a.ProvisionKey},
			{"EINITTOKEN_KEY", a.EINITTokenKey},
			{"CET", a.CET},
			{"KSS", a.KSS},
			{"AEXNOTIFY", a.AEXNotify},
			{"ATTRIBUTES", Hex(a.Attributes)},
			{"XFRM", Hex(a.XFRM)},
		}})
	}
	if r.Attributes != nil {
		g := FieldGroup{Name: "CPUID.(EAX=12H,ECX=2..)"}
		for _, s := range r.EPC {
			prefix := fmt.Sprintf("EPC[%d].", s.Index)
			g.Fields = append(g.Fields,
				Field{prefix + "Base", Hex(s.BasePhysAddr)},
				Field{prefix + "Size", Hex(s.Size)},
				Field{prefix + "Protection", s.Protection()},
			)
		}
		groups = append(groups, g)
	}
	if x := r.XSAVE; x != nil {
		groups = append(groups, FieldGroup{Name: "CPUID.(EAX=0DH,ECX=0..1)", Fields: []Field{
			{"MaxSizeEnabled", x.MaxSizeEnabled},
			{"MaxSizeSupported", x.MaxSizeSupported},
			{"SizeEnabledWithXSS", x.SizeEnabledWithXSS},
			{"SupportedXCR0", Hex(x.SupportedXCR0)},
			{"SupportedXSS", Hex(x.SupportedXSS)},
			{"XSAVEOPT", x.XSAVEOPT},
			{"XSAVEC", x.XSAVEC},
			{"XGETBV_ECX1", x.XGETBVECX1},
			{"XSS", x.XSS},
			{"XFD", x.XFD},
			{"XCR0", r.xcr0Value()},
		}})
	}
	if m := r.MSRs; m != nil {
		groups = append(groups, m.group())
	}
	return groups
}

func (r *Report) basicGroup() (FieldGroup, bool) {
	if r.Vendor == nil {
		return FieldGroup{}, false
	}
	g := FieldGroup{Name: "CPUID.(EAX=00H/01H/80000000H)", Fields: []Field{
		{"Vendor", r.Vendor.Vendor},
		{"MaxBasicLeaf", Hex(r.Vendor.MaxBasicLeaf)},
	}}
	if b := r.Brand; b != nil {
		g.Fields = append(g.Fields, Field{"MaxExtendedLeaf", Hex(b.MaxExtendedLeaf)})
		if b.Supported {
			g.Fields = append(g.Fields, Field{"Brand", b.Brand})
		} else {
			g.Fields = append(g.Fields, Field{"Brand", "not supported"})
		}
	}
	if s := r.Signature; s != nil {
		g.Fields = append(g.Fields,
			Field{"Stepping", s.Stepping},
			Field{"Model", s.Model},
			Field{"Family", s.Family},
			Field{"ProcessorType", s.ProcessorType},
			Field{"ExtendedModel", s.ExtendedModel},
			Field{"ExtendedFamily", s.ExtendedFamily},
			Field{"SMX", s.SMX},
		)
	}
	return g, true
}

func (r *Report) xcr0Value() any {
	if !r.XCR0.Available {
		return "not available"
	}
	return Hex(r.XCR0.Value)
}

func (m *SGXMSRs) group() FieldGroup {
	g := FieldGroup{Name: "MSR"}
	add := func(name string, v MSRValue) {
		if v.Available() {
			g.Fields = append(g.Fields, Field{name, Hex(v.Value)})
			return
		}
		g.Fields = append(g.Fields, Field{name, "not available"})
	}
	add("IA32_FEATURE_CONTROL", m.FeatureControl)
	if fc, ok := m.FeatureControlBits(); ok {
		g.Fields = append(g.Fields,
			Field{"FEATURE_CONTROL.Locked", fc.Locked},
			Field{"FEATURE_CONTROL.SGX_LC", fc.SGXLaunchControl},
			Field{"FEATURE_CONTROL.SGX_ENABLE", fc.SGXGlobalEnable},
		)
	}
	for i, v := range m.LEPubKeyHash {
		add(fmt.Sprintf("IA32_SGXLEPUBKEYHASH%d", i), v)
	}
	add("IA32_SGX_SVN_STATUS", m.SVNStatus)
	for i, v := range m.OwnerEpoch {
		add(fmt.Sprintf("MSR_SGXOWNEREPOCH%d", i), v)
	}
	return g
}
