//go:build linux

package sgxfeatures

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// DeviceMSRReader reads MSRs through the Linux msr driver
// (/dev/cpu/<n>/msr), one positioned 8-byte read per register.
type DeviceMSRReader struct {
	root string
}

// NewMSRReader returns a reader over /dev/cpu.
func NewMSRReader() *DeviceMSRReader {
	return &DeviceMSRReader{root: defaultDevCPURoot}
}

// ReadMSR reads the register at address on the given CPU. Reserved
// addresses are refused before the device is opened.
func (r *DeviceMSRReader) ReadMSR(address uint32, cpu int) (uint64, error) {
	if err := checkMSRAddress(address); err != nil {
		return 0, err
	}

	path := filepath.Join(r.root, strconv.Itoa(cpu), "msr")
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, fmt.Errorf("msr %#x: cpu %d has no msr device: %w: %w", address, cpu, ErrUnreadable, err)
	}
	defer unix.Close(fd)

	var buf [8]byte
	n, err := unix.Pread(fd, buf[:], int64(address))
	if err != nil {
		return 0, fmt.Errorf("msr %#x: %w: %w", address, ErrUnreadable, err)
	}
	if n != len(buf) {
		return 0, fmt.Errorf("msr %#x: short read of %d bytes: %w", address, n, ErrUnreadable)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
