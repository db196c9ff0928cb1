package sgxfeatures

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// errNotProbed marks a result whose section was not collected.
var errNotProbed = errors.New("not probed")

// Check probes what the requirements need and returns a *[FeatureError]
// for the first unsatisfied requirement, or nil if all are met. A fatal
// probe condition is returned wrapped; it matches *[FatalError].
func Check(required ...Requirement) error {
	r, err := ProbeWith(ProbeOptionsFor(required...)...)
	if err != nil {
		return fmt.Errorf("probe features: %w", err)
	}
	return r.Check(required...)
}

// ProbeOptionsFor returns the [ProbeOption] values needed to evaluate the
// given requirements. CPUID is always probed and needs no option.
func ProbeOptionsFor(required ...Requirement) []ProbeOption {
	rs := normalizeRequirements(required)

	var needMSRs, needKernel, needVDSO bool
	for _, f := range rs.features {
		switch f {
		case FeatureSGXEnabled, FeatureLEHashWritable, FeatureCapSysAdmin:
			needMSRs = true
		case FeatureKernelDriver, FeatureEnclaveDevice, FeatureProvisionDevice:
			needKernel = true
		case FeatureVDSOEnterEnclave:
			needVDSO = true
		}
	}

	var opts []ProbeOption
	if needMSRs {
		opts = append(opts, WithMSRs())
	}
	if needKernel {
		opts = append(opts, WithKernel())
	}
	if needVDSO {
		opts = append(opts, WithVDSO())
	}
	return opts
}

// Check evaluates the requirements against the report. Leaf bits are
// queried through the backend the report was probed with.
func (r *Report) Check(required ...Requirement) error {
	rs := normalizeRequirements(required)

	for _, f := range rs.features {
		result, known := r.Result(f)
		if !known {
			return &FeatureError{Feature: f.String(), Reason: "unknown feature"}
		}
		if !result.Supported {
			return &FeatureError{
				Feature: f.String(),
				Reason:  r.Diagnose(f),
				Err:     result.Error,
			}
		}
	}

	for _, lb := range rs.leafBits {
		if err := r.checkLeafBit(lb); err != nil {
			return err
		}
	}

	if rs.epcSize > 0 {
		total := TotalEPCSize(r.EPC)
		if total < rs.epcSize {
			return &FeatureError{
				Feature: fmt.Sprintf("epc >= %s", humanize.IBytes(rs.epcSize)),
				Reason:  fmt.Sprintf("only %s of EPC reported; increase the PRM size in firmware setup", humanize.IBytes(total)),
			}
		}
	}

	return nil
}

func (r *Report) checkLeafBit(lb LeafBitRequirement) error {
	if lb.Bit > 31 {
		return &FeatureError{Feature: lb.String(), Reason: "bit index out of range"}
	}
	if r.querier == nil {
		return &FeatureError{Feature: lb.String(), Reason: "report has no CPUID backend", Err: errNotProbed}
	}
	regs := r.querier.Query(lb.Leaf, lb.Subleaf)
	if regs.Get(lb.Register)&(1<<lb.Bit) == 0 {
		return &FeatureError{Feature: lb.String(), Reason: "bit not set"}
	}
	return nil
}

// Result maps a [Feature] to its corresponding [ProbeResult] in the report.
// Returns false as the second value if the feature is unknown.
func (r *Report) Result(f Feature) (ProbeResult, bool) {
	switch f {
	case FeatureSGX:
		if r.Extended == nil {
			return notProbed(), true
		}
		return ProbeResult{Supported: r.Extended.SGX}, true
	case FeatureLaunchControl:
		if r.Extended == nil {
			return notProbed(), true
		}
		return ProbeResult{Supported: r.Extended.SGXLaunchConfig}, true
	case FeatureAttestationKeys:
		if r.Extended == nil {
			return notProbed(), true
		}
		return ProbeResult{Supported: r.Extended.SGXAttestationKeys}, true
	case FeatureSGX1, FeatureSGX2, FeatureEDECCSSA:
		if r.SGX == nil {
			return notProbed(), true
		}
		return ProbeResult{Supported: map[Feature]bool{
			FeatureSGX1:     r.SGX.SGX1,
			FeatureSGX2:     r.SGX.SGX2,
			FeatureEDECCSSA: r.SGX.EDECCSSA,
		}[f]}, true
	case FeatureAEXNotify, FeatureKSS, FeatureMode64Bit:
		if r.Attributes == nil {
			return notProbed(), true
		}
		return ProbeResult{Supported: map[Feature]bool{
			FeatureAEXNotify: r.Attributes.AEXNotify,
			FeatureKSS:       r.Attributes.KSS,
			FeatureMode64Bit: r.Attributes.Mode64Bit,
		}[f]}, true
	case FeatureEPC:
		if r.Attributes == nil {
			return notProbed(), true
		}
		return ProbeResult{Supported: len(r.EPC) > 0}, true
	case FeatureSGXEnabled, FeatureLEHashWritable:
		if r.MSRs == nil {
			return notProbed(), true
		}
		fc, ok := r.MSRs.FeatureControlBits()
		if !ok {
			return ProbeResult{Error: r.MSRs.FeatureControl.Error}, true
		}
		if f == FeatureSGXEnabled {
			return ProbeResult{Supported: fc.SGXEnabled()}, true
		}
		return ProbeResult{Supported: fc.LEHashWritable()}, true
	case FeatureKernelDriver:
		if r.Kernel == nil {
			return notProbed(), true
		}
		return r.Kernel.Driver, true
	case FeatureEnclaveDevice:
		if r.Kernel == nil {
			return notProbed(), true
		}
		if r.Kernel.LegacyDevice.Supported {
			return r.Kernel.LegacyDevice, true
		}
		return r.Kernel.EnclaveDevice, true
	case FeatureProvisionDevice:
		if r.Kernel == nil {
			return notProbed(), true
		}
		return r.Kernel.ProvisionDevice, true
	case FeatureVDSOEnterEnclave:
		if r.VDSO == nil {
			return notProbed(), true
		}
		return r.VDSO.EnterEnclave, true
	case FeatureCapSysAdmin:
		if r.Privileges == nil {
			return notProbed(), true
		}
		return r.Privileges.CapSysAdmin, true
	default:
		return ProbeResult{}, false
	}
}

func notProbed() ProbeResult {
	return ProbeResult{Error: errNotProbed}
}

// Diagnose returns an enriched reason string explaining why a feature
// is not supported and what the operator can do to fix it.
func (r *Report) Diagnose(f Feature) string {
	var kc *KernelConfig
	if r.Kernel != nil {
		kc = r.Kernel.Config
	}

	switch f {
	case FeatureSGX:
		if r.Extended != nil {
			return "CPUID does not report SGX; enable SGX in firmware setup or use an SGX-capable processor"
		}
	case FeatureSGX1:
		if r.SGX != nil {
			return "SGX1 leaf functions not reported; SGX may be disabled in firmware"
		}
	case FeatureSGX2:
		if r.SGX != nil {
			return "processor lacks SGX2 (dynamic enclave memory management)"
		}
	case FeatureLaunchControl:
		if r.Extended != nil {
			return "flexible launch control not supported; the in-kernel driver requires SGX_LC"
		}
	case FeatureEPC:
		if r.Attributes != nil {
			return "no EPC section reported; reserve PRM memory in firmware setup"
		}
	case FeatureSGXEnabled:
		if fc, ok := r.featureControl(); ok {
			if !fc.Locked {
				return "IA32_FEATURE_CONTROL not locked by firmware; SGX stays unusable until it is"
			}
			return "SGX disabled in IA32_FEATURE_CONTROL; enable SGX in firmware setup"
		}
		return "IA32_FEATURE_CONTROL not readable; run as root with the msr module loaded"
	case FeatureLEHashWritable:
		if fc, ok := r.featureControl(); ok {
			if !fc.Locked {
				return "IA32_FEATURE_CONTROL not locked by firmware"
			}
			return "launch enclave key hash locked; select unlocked SGX launch control in firmware setup"
		}
		return "IA32_FEATURE_CONTROL not readable; run as root with the msr module loaded"
	case FeatureKernelDriver:
		if kc != nil && !kc.SGX.IsEnabled() {
			return "CONFIG_X86_SGX not set; rebuild kernel (5.11+) with CONFIG_X86_SGX=y"
		}
	case FeatureEnclaveDevice:
		return "/dev/sgx_enclave missing; requires the in-kernel SGX driver (Linux 5.11+)"
	case FeatureProvisionDevice:
		return "/dev/sgx_provision missing; requires the in-kernel SGX driver (Linux 5.11+)"
	case FeatureVDSOEnterEnclave:
		return VDSOEnterEnclaveSymbol + " not exported by the vDSO; requires Linux 5.11+ with CONFIG_X86_SGX"
	case FeatureCapSysAdmin:
		return "missing CAP_SYS_ADMIN; run as root or add CAP_SYS_ADMIN"
	}

	// Fallback: use the probe error if available.
	result, known := r.Result(f)
	if known && result.Error != nil {
		return result.Error.Error()
	}
	return "not supported"
}

func (r *Report) featureControl() (FeatureControl, bool) {
	if r.MSRs == nil {
		return FeatureControl{}, false
	}
	return r.MSRs.FeatureControlBits()
}
