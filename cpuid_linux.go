//go:build linux

package sgxfeatures

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

const defaultDevCPURoot = "/dev/cpu"

// DeviceQuerier answers CPUID queries through the Linux cpuid driver
// (/dev/cpu/<n>/cpuid), which executes the instruction on a specific CPU.
type DeviceQuerier struct {
	f   *os.File
	cpu int
}

// OpenCPUIDDevice opens the cpuid device of the given logical CPU.
// It requires the cpuid kernel module and read access to the device node.
func OpenCPUIDDevice(cpu int) (*DeviceQuerier, error) {
	return openCPUIDDevice(defaultDevCPURoot, cpu)
}

func openCPUIDDevice(root string, cpu int) (*DeviceQuerier, error) {
	path := filepath.Join(root, strconv.Itoa(cpu), "cpuid")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cpuid device: %w", err)
	}
	return &DeviceQuerier{f: f, cpu: cpu}, nil
}

// Query reads the 16-byte register block at offset subleaf<<32 | leaf.
// A failed or short read yields an all-zero register set, the same answer
// the hardware gives for an undefined leaf.
func (d *DeviceQuerier) Query(leaf, subleaf uint32) RegisterSet {
	var buf [16]byte
	off := int64(uint64(subleaf)<<32 | uint64(leaf))
	n, err := unix.Pread(int(d.f.Fd()), buf[:], off)
	if err != nil || n != len(buf) {
		return RegisterSet{}
	}
	return RegisterSet{
		EAX: binary.LittleEndian.Uint32(buf[0:4]),
		EBX: binary.LittleEndian.Uint32(buf[4:8]),
		ECX: binary.LittleEndian.Uint32(buf[8:12]),
		EDX: binary.LittleEndian.Uint32(buf[12:16]),
	}
}

// CPU returns the logical CPU the device is bound to.
func (d *DeviceQuerier) CPU() int {
	return d.cpu
}

// Close releases the device.
func (d *DeviceQuerier) Close() error {
	return d.f.Close()
}
