package sgxfeatures

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedPlatform is returned by operations that need Linux.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrUnreadable is matched by every MSR read failure.
	ErrUnreadable = errors.New("msr not readable")
	// ErrReservedMSR is returned for addresses in the hypervisor-reserved
	// range [0x40000000, 0x4000FFFF]. It also matches ErrUnreadable.
	ErrReservedMSR = errors.New("msr address in reserved range")
	// ErrSymbolTableNotFound is returned when an ELF image lacks a dynamic
	// segment or one of DT_SYMTAB, DT_STRTAB, DT_HASH.
	ErrSymbolTableNotFound = errors.New("symbol table not found")
	// ErrNoVDSO is returned when the process has no vDSO mapping.
	ErrNoVDSO = errors.New("vDSO not found")
)

// ProbeResult represents the outcome of a probe.
type ProbeResult struct {
	// Supported indicates whether the feature is available.
	Supported bool
	// Error is non-nil if the probe itself failed (not just unsupported).
	Error error
}

// MarshalJSON renders Error as its message.
func (r ProbeResult) MarshalJSON() ([]byte, error) {
	out := struct {
		Supported bool   `json:"supported"`
		Error     string `json:"error,omitempty"`
	}{Supported: r.Supported}
	if r.Error != nil {
		out.Error = r.Error.Error()
	}
	return json.Marshal(out)
}

// FeatureError represents an error when a required feature is unavailable.
type FeatureError struct {
	Feature string
	Reason  string
	Err     error
}

func (e *FeatureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("feature %s: %s: %v", e.Feature, e.Reason, e.Err)
	}
	return fmt.Sprintf("feature %s: %s", e.Feature, e.Reason)
}

func (e *FeatureError) Unwrap() error {
	return e.Err
}

// Stage identifies the probe step that hit a fatal condition.
type Stage string

const (
	StageCPUID   Stage = "cpuid"
	StageVendor  Stage = "vendor"
	StageMaxLeaf Stage = "max-leaf"
	StageSGXLeaf Stage = "sgx"
)

// FatalError reports a condition after which probing cannot continue: no
// CPUID, wrong vendor, SGX leaf out of range or SGX absent. The probe returns
// it with whatever was decoded so far; deciding to exit is up to the caller.
type FatalError struct {
	Stage  Stage  `json:"stage"`
	Reason string `json:"reason"`
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Reason)
}

// Feature represents an SGX capability that can be checked via [Check].
type Feature int

const (
	// FeatureSGX requires CPUID.(EAX=7,ECX=0):EBX[2].
	FeatureSGX Feature = iota
	// FeatureSGX1 requires the SGX1 leaf functions.
	FeatureSGX1
	// FeatureSGX2 requires the SGX2 leaf functions (EDMM).
	FeatureSGX2
	// FeatureLaunchControl requires flexible launch control (SGX_LC).
	FeatureLaunchControl
	// FeatureAttestationKeys requires SGX attestation services (SGX_KEYS).
	FeatureAttestationKeys
	// FeatureEDECCSSA requires EDECCSSA.
	FeatureEDECCSSA
	// FeatureAEXNotify requires the AEXNOTIFY attribute.
	FeatureAEXNotify
	// FeatureKSS requires Key Separation and Sharing.
	FeatureKSS
	// FeatureMode64Bit requires 64-bit enclaves.
	FeatureMode64Bit
	// FeatureEPC requires at least one EPC section.
	FeatureEPC
	// FeatureSGXEnabled requires IA32_FEATURE_CONTROL locked with SGX enabled.
	FeatureSGXEnabled
	// FeatureLEHashWritable requires writable IA32_SGXLEPUBKEYHASH MSRs.
	FeatureLEHashWritable
	// FeatureKernelDriver requires the in-kernel SGX driver.
	FeatureKernelDriver
	// FeatureEnclaveDevice requires /dev/sgx_enclave (or the legacy /dev/isgx).
	FeatureEnclaveDevice
	// FeatureProvisionDevice requires /dev/sgx_provision.
	FeatureProvisionDevice
	// FeatureVDSOEnterEnclave requires __vdso_sgx_enter_enclave in the vDSO.
	FeatureVDSOEnterEnclave
	// FeatureCapSysAdmin requires CAP_SYS_ADMIN (needed for MSR reads).
	FeatureCapSysAdmin
)

var featureNames = map[Feature]string{
	FeatureSGX:              "sgx",
	FeatureSGX1:             "sgx1",
	FeatureSGX2:             "sgx2",
	FeatureLaunchControl:    "sgx-lc",
	FeatureAttestationKeys:  "sgx-keys",
	FeatureEDECCSSA:         "edeccssa",
	FeatureAEXNotify:        "aex-notify",
	FeatureKSS:              "kss",
	FeatureMode64Bit:        "mode64bit",
	FeatureEPC:              "epc",
	FeatureSGXEnabled:       "sgx-enabled",
	FeatureLEHashWritable:   "flc-writable",
	FeatureKernelDriver:     "kernel-driver",
	FeatureEnclaveDevice:    "enclave-device",
	FeatureProvisionDevice:  "provision-device",
	FeatureVDSOEnterEnclave: "vdso-enter-enclave",
	FeatureCapSysAdmin:      "cap-sys-admin",
}

func (f Feature) String() string {
	if name, ok := featureNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Feature(%d)", f)
}

// FeatureValues returns every known feature in declaration order.
func FeatureValues() []Feature {
	out := make([]Feature, 0, len(featureNames))
	for f := FeatureSGX; f <= FeatureCapSysAdmin; f++ {
		out = append(out, f)
	}
	return out
}

// FeatureNames returns the names of every known feature in declaration order.
func FeatureNames() []string {
	values := FeatureValues()
	out := make([]string, 0, len(values))
	for _, f := range values {
		out = append(out, f.String())
	}
	return out
}

// ParseFeature looks a feature up by name, ignoring case.
func ParseFeature(name string) (Feature, error) {
	name = strings.TrimSpace(name)
	for f, n := range featureNames {
		if strings.EqualFold(n, name) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown feature %q", name)
}
