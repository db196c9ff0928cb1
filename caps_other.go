//go:build !linux

package sgxfeatures

const (
	capSysRawIO = 17
	capSysAdmin = 21
)

// HasPrivilege is always false outside Linux.
func HasPrivilege() bool {
	return false
}

func probeCapability(_ uint) ProbeResult {
	return ProbeResult{Supported: false}
}
