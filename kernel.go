package sgxfeatures

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strings"
)

// ConfigValue represents a kernel configuration option's state.
type ConfigValue int

const (
	// ConfigNotSet means the option is not set or not found.
	ConfigNotSet ConfigValue = iota
	// ConfigModule means the option is set to =m (module).
	ConfigModule
	// ConfigBuiltin means the option is set to =y (built-in).
	ConfigBuiltin
)

// IsEnabled returns true if the config option is set (either =m or =y).
func (v ConfigValue) IsEnabled() bool {
	return v == ConfigModule || v == ConfigBuiltin
}

func (v ConfigValue) String() string {
	switch v {
	case ConfigNotSet:
		return "not set"
	case ConfigModule:
		return "m"
	case ConfigBuiltin:
		return "y"
	default:
		return fmt.Sprintf("ConfigValue(%d)", v)
	}
}

// MarshalText renders the value the way it appears in a kernel config.
func (v ConfigValue) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// KernelConfig holds parsed kernel configuration values.
type KernelConfig struct {
	raw map[string]ConfigValue

	SGX    ConfigValue `json:"sgx"`     // CONFIG_X86_SGX
	SGXKVM ConfigValue `json:"sgx_kvm"` // CONFIG_X86_SGX_KVM
}

// Get returns the ConfigValue for a kernel config key.
// The key should not include the CONFIG_ prefix.
func (kc *KernelConfig) Get(key string) ConfigValue {
	if kc == nil || kc.raw == nil {
		return ConfigNotSet
	}
	return kc.raw[key]
}

// NewKernelConfig creates a KernelConfig from a raw config map.
// The map is copied.
func NewKernelConfig(raw map[string]ConfigValue) *KernelConfig {
	copied := maps.Clone(raw)
	if copied == nil {
		copied = map[string]ConfigValue{}
	}
	return &KernelConfig{
		raw:    copied,
		SGX:    copied["X86_SGX"],
		SGXKVM: copied["X86_SGX_KVM"],
	}
}

// parseConfig extracts CONFIG_* entries with =y or =m values.
func parseConfig(r io.Reader) (*KernelConfig, error) {
	raw := make(map[string]ConfigValue)
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || !strings.HasPrefix(line, "CONFIG_") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "CONFIG_"), "=")
		if !ok {
			continue
		}
		switch value {
		case "y":
			raw[key] = ConfigBuiltin
		case "m":
			raw[key] = ConfigModule
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NewKernelConfig(raw), nil
}

// Device nodes exposed by the SGX drivers, relative to /dev.
const (
	devSGXEnclave   = "sgx_enclave"
	devSGXProvision = "sgx_provision"
	devSGXVEPC      = "sgx_vepc"
	devISGX         = "isgx"
)

// KernelSupport describes what the running kernel offers for SGX.
type KernelSupport struct {
	Release string        `json:"release"`
	Config  *KernelConfig `json:"config,omitempty"`
	// ConfigError is set when no kernel config could be read.
	ConfigError error `json:"-"`

	// Driver is the in-kernel driver, detected from the config, from
	// struct sgx_encl in vmlinux BTF, or from its device node.
	Driver ProbeResult `json:"driver"`
	// BTFEnclave reports struct sgx_encl in vmlinux BTF.
	BTFEnclave ProbeResult `json:"btf_sgx_encl"`

	EnclaveDevice   ProbeResult `json:"enclave_device"`
	ProvisionDevice ProbeResult `json:"provision_device"`
	VEPCDevice      ProbeResult `json:"vepc_device"`
	// LegacyDevice is /dev/isgx from the out-of-tree driver.
	LegacyDevice ProbeResult `json:"legacy_device"`
}

// MarshalJSON renders ConfigError as its message.
func (k KernelSupport) MarshalJSON() ([]byte, error) {
	type plain KernelSupport
	out := struct {
		plain
		ConfigError string `json:"config_error,omitempty"`
	}{plain: plain(k)}
	if k.ConfigError != nil {
		out.ConfigError = k.ConfigError.Error()
	}
	return json.Marshal(out)
}

// probeDevice reports whether a device node exists under devRoot.
func probeDevice(devRoot, name string) ProbeResult {
	_, err := os.Stat(filepath.Join(devRoot, name))
	if err == nil {
		return ProbeResult{Supported: true}
	}
	if os.IsNotExist(err) {
		return ProbeResult{Supported: false}
	}
	return ProbeResult{Supported: false, Error: err}
}

func probeDevices(ks *KernelSupport, devRoot string) {
	ks.EnclaveDevice = probeDevice(devRoot, devSGXEnclave)
	ks.ProvisionDevice = probeDevice(devRoot, devSGXProvision)
	ks.VEPCDevice = probeDevice(devRoot, devSGXVEPC)
	ks.LegacyDevice = probeDevice(devRoot, devISGX)
}

// driverResult combines the independent driver signals; any positive one
// wins, otherwise the first probe error is surfaced.
func driverResult(ks *KernelSupport) ProbeResult {
	if ks.Config != nil && ks.Config.SGX.IsEnabled() {
		return ProbeResult{Supported: true}
	}
	if ks.BTFEnclave.Supported || ks.EnclaveDevice.Supported {
		return ProbeResult{Supported: true}
	}
	if ks.Config == nil && ks.BTFEnclave.Error != nil {
		return ProbeResult{Error: ks.BTFEnclave.Error}
	}
	return ProbeResult{}
}
