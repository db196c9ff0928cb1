//go:build linux

package sgxfeatures

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cilium/ebpf/btf"
	"golang.org/x/sys/unix"
)

// ErrNoKernelConfig is returned when no kernel config source is available.
var ErrNoKernelConfig = errors.New("no kernel config found")

const defaultDevRoot = "/dev"

// btfEnclaveType is the driver's enclave descriptor.
const btfEnclaveType = "sgx_encl"

// configSource describes a kernel config file location.
type configSource struct {
	path       string
	compressed bool
}

// configSources lists where the config of the given release may live, in
// priority order.
func configSources(release string) []configSource {
	return []configSource{
		{path: "/proc/config.gz", compressed: true},
		{path: "/boot/config-" + release},
		{path: "/lib/modules/" + release + "/config"},
	}
}

// readKernelConfig reads the kernel config from path when set, or else from
// the first readable default location.
func readKernelConfig(path, release string) (*KernelConfig, error) {
	sources := configSources(release)
	if path != "" {
		sources = []configSource{{path: path, compressed: isGzip(path)}}
	}

	var lastErr error
	for _, src := range sources {
		kc, err := parseConfigFrom(src)
		if err == nil {
			return kc, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %w", ErrNoKernelConfig, lastErr)
}

func isGzip(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var magic [2]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return false
	}
	return magic == [2]byte{0x1f, 0x8b}
}

// kernelRelease returns the kernel release string (e.g., "6.17.0-1005-aws").
func kernelRelease() (string, error) {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return "", err
	}
	return unix.ByteSliceToString(uname.Release[:]), nil
}

// parseConfigFrom reads and parses a kernel config from the given source.
func parseConfigFrom(src configSource) (*KernelConfig, error) {
	f, err := os.Open(src.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var reader io.Reader = f
	if src.compressed {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		reader = gr
	}
	return parseConfig(reader)
}

// probeBTFType looks a named type up in the kernel's vmlinux BTF.
func probeBTFType(name string) ProbeResult {
	spec, err := btf.LoadKernelSpec()
	if err != nil {
		return ProbeResult{Error: fmt.Errorf("loading kernel BTF: %w", err)}
	}
	if _, err := spec.AnyTypeByName(name); err != nil {
		if errors.Is(err, btf.ErrNotFound) {
			return ProbeResult{Supported: false}
		}
		return ProbeResult{Error: err}
	}
	return ProbeResult{Supported: true}
}

// probeKernel collects kernel-side SGX support. Every part is optional; the
// result is always non-nil.
func probeKernel(configPath, devRoot string) *KernelSupport {
	ks := &KernelSupport{}
	release, err := kernelRelease()
	if err == nil {
		ks.Release = release
	}
	ks.Config, ks.ConfigError = readKernelConfig(configPath, release)
	ks.BTFEnclave = probeBTFType(btfEnclaveType)
	probeDevices(ks, devRoot)
	ks.Driver = driverResult(ks)
	return ks
}
