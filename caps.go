//go:build linux

package sgxfeatures

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux capability constants.
// These match the values in <linux/capability.h>.
const (
	capSysRawIO = 17 // CAP_SYS_RAWIO (checked by the msr driver on open)
	capSysAdmin = 21 // CAP_SYS_ADMIN
)

// HasPrivilege reports whether the process holds CAP_SYS_ADMIN in its
// effective set, raising it from the permitted set if needed. Any failure
// (capability unknown to the kernel, not permitted, capset refused) yields
// false without an error: privileged reads are then simply skipped.
func HasPrivilege() bool {
	if _, err := unix.PrctlRetInt(unix.PR_CAPBSET_READ, capSysAdmin, 0, 0, 0); err != nil {
		return false
	}

	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return false
	}

	idx, mask := capSysAdmin/32, uint32(1)<<(capSysAdmin%32)
	if data[idx].Effective&mask != 0 {
		return true
	}
	if data[idx].Permitted&mask == 0 {
		return false
	}

	// Capabilities are per thread; the Go scheduler may run the later reads
	// on any of them.
	data[idx].Effective |= mask
	_, _, errno := syscall.AllThreadsSyscall(unix.SYS_CAPSET,
		uintptr(unsafe.Pointer(&hdr)), uintptr(unsafe.Pointer(&data[0])), 0)
	return errno == 0
}

// probeCapability checks if the current process has the specified capability
// in its effective set.
func probeCapability(capability uint) ProbeResult {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return ProbeResult{Supported: false, Error: err}
	}
	mask := uint32(1) << (capability % 32)
	return ProbeResult{Supported: data[capability/32].Effective&mask != 0}
}
