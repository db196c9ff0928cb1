//go:build !linux

package sgxfeatures

// ErrNoKernelConfig is returned when no kernel config source is available.
// On non-Linux platforms, kernel config is never available.
var ErrNoKernelConfig = ErrUnsupportedPlatform

const defaultDevRoot = "/dev"

func probeKernel(_, _ string) *KernelSupport {
	ks := &KernelSupport{ConfigError: ErrNoKernelConfig}
	ks.Driver = ProbeResult{Error: ErrUnsupportedPlatform}
	ks.BTFEnclave = ProbeResult{Error: ErrUnsupportedPlatform}
	return ks
}
