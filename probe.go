package sgxfeatures

import "fmt"

// probeConfig holds the configuration for a probe operation.
type probeConfig struct {
	querier    RegisterQuerier
	xcr        XCRReader
	msr        MSRReader
	available  func() bool
	privileged func() bool
	epcLimit   uint32

	msrs       bool
	kernel     bool
	vdso       bool
	configPath string
	devRoot    string
}

// ProbeOption configures what [ProbeWith] collects.
type ProbeOption func(*probeConfig)

// WithQuerier replaces the CPUID backend. Unless [WithAvailabilityCheck] is
// also given, the instruction-availability probe is skipped: a replacement
// backend does not execute CPUID in this process.
func WithQuerier(q RegisterQuerier) ProbeOption {
	return func(c *probeConfig) {
		c.querier = q
		if c.available == nil {
			c.available = func() bool { return true }
		}
	}
}

// WithAvailabilityCheck replaces the CPUID instruction-availability probe.
func WithAvailabilityCheck(fn func() bool) ProbeOption {
	return func(c *probeConfig) {
		c.available = fn
	}
}

// WithXCRReader replaces the XGETBV backend.
func WithXCRReader(r XCRReader) ProbeOption {
	return func(c *probeConfig) {
		c.xcr = r
	}
}

// WithMSRReader replaces the MSR backend. MSRs are still only read with
// [WithMSRs].
func WithMSRReader(r MSRReader) ProbeOption {
	return func(c *probeConfig) {
		c.msr = r
	}
}

// WithPrivilegeCheck replaces [HasPrivilege] as the gate for MSR reads.
func WithPrivilegeCheck(fn func() bool) ProbeOption {
	return func(c *probeConfig) {
		c.privileged = fn
	}
}

// WithEPCLimit sets the highest leaf 0x12 sub-leaf inspected for EPC
// sections. Zero selects [DefaultEPCSubleafLimit].
func WithEPCLimit(limit uint32) ProbeOption {
	return func(c *probeConfig) {
		c.epcLimit = limit
	}
}

// WithMSRs reads the SGX MSRs of CPU 0 when the privilege check passes.
func WithMSRs() ProbeOption {
	return func(c *probeConfig) {
		c.msrs = true
	}
}

// WithKernel probes kernel-side SGX support: config, BTF and device nodes.
func WithKernel() ProbeOption {
	return func(c *probeConfig) {
		c.kernel = true
	}
}

// WithVDSO looks for the SGX enclave entry point in the vDSO.
func WithVDSO() ProbeOption {
	return func(c *probeConfig) {
		c.vdso = true
	}
}

// WithKernelConfigPath reads the kernel config from path instead of the
// default locations. It implies [WithKernel].
func WithKernelConfigPath(path string) ProbeOption {
	return func(c *probeConfig) {
		c.configPath = path
		c.kernel = true
	}
}

// withDevRoot sets the directory holding the SGX device nodes.
func withDevRoot(path string) ProbeOption {
	return func(c *probeConfig) {
		c.devRoot = path
	}
}

// WithAll enables every optional probe.
func WithAll() ProbeOption {
	return func(c *probeConfig) {
		c.msrs = true
		c.kernel = true
		c.vdso = true
	}
}

func newProbeConfig(opts []ProbeOption) *probeConfig {
	cfg := &probeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.querier == nil {
		cfg.querier = NativeQuerier()
	}
	if cfg.available == nil {
		cfg.available = QuerySupported
	}
	if cfg.xcr == nil {
		cfg.xcr = NativeXCRReader()
	}
	if cfg.msr == nil {
		cfg.msr = NewMSRReader()
	}
	if cfg.privileged == nil {
		cfg.privileged = HasPrivilege
	}
	if cfg.devRoot == "" {
		cfg.devRoot = defaultDevRoot
	}
	return cfg
}

// ProbeWith decodes the SGX capabilities of CPU 0.
//
// CPUID is always decoded. MSRs, kernel support and the vDSO are only probed
// when the corresponding option is given. On a fatal condition the report
// decoded so far is returned together with a *[FatalError]. Unreadable MSRs,
// XCR0, kernel config or vDSO are recorded in the report and never fail the
// probe.
func ProbeWith(opts ...ProbeOption) (*Report, error) {
	cfg := newProbeConfig(opts)
	r := &Report{querier: cfg.querier}

	if !cfg.available() {
		return r, &FatalError{Stage: StageCPUID, Reason: "CPUID instruction not available"}
	}
	q := cfg.querier

	vendor := DecodeVendor(q.Query(LeafVendor, 0))
	r.Vendor = &vendor
	if !vendor.Genuine {
		return r, &FatalError{
			Stage:  StageVendor,
			Reason: fmt.Sprintf("vendor %q is not %q", vendor.Vendor, ExpectedVendor),
		}
	}
	if !vendor.CanEnumerateSGX() {
		return r, &FatalError{
			Stage:  StageMaxLeaf,
			Reason: fmt.Sprintf("maximum basic leaf %#x is below %#x", vendor.MaxBasicLeaf, LeafSGX),
		}
	}

	brand := ReadBrand(q)
	r.Brand = &brand
	sig := DecodeSignature(q.Query(LeafSignature, 0))
	r.Signature = &sig

	ext := DecodeExtendedFeatures(q.Query(LeafExtendedFeatures, 0))
	r.Extended = &ext
	if !ext.SGX {
		return r, &FatalError{Stage: StageSGXLeaf, Reason: "SGX not supported (CPUID.(EAX=07H,ECX=0):EBX[2] clear)"}
	}

	caps := DecodeSGXCapabilities(q.Query(LeafSGX, 0))
	r.SGX = &caps
	attrs := DecodeSGXAttributes(q.Query(LeafSGX, 1))
	r.Attributes = &attrs
	r.EPC = EnumerateEPC(q, cfg.epcLimit)

	xsave := ReadXSAVE(q)
	r.XSAVE = &xsave
	if XCR0Readable(sig, xsave) {
		r.XCR0 = XCR0State{Available: true, Value: cfg.xcr.ReadXCR0()}
	}

	if cfg.msrs {
		r.Privileges = &Privileges{Privileged: cfg.privileged()}
		r.Privileges.CapSysAdmin = probeCapability(capSysAdmin)
		r.Privileges.CapSysRawIO = probeCapability(capSysRawIO)
		if r.Privileges.Privileged {
			m := ReadSGXMSRs(cfg.msr)
			r.MSRs = &m
		}
	}

	if cfg.kernel {
		r.Kernel = probeKernel(cfg.configPath, cfg.devRoot)
	}
	if cfg.vdso {
		r.VDSO = probeVDSO()
	}

	return r, nil
}

// Probe decodes everything [WithAll] enables, using the native backends.
// Nothing is cached; every call queries the hardware again.
func Probe() (*Report, error) {
	return ProbeWith(WithAll())
}
