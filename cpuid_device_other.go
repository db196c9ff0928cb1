//go:build !linux

package sgxfeatures

// DeviceQuerier is only available on Linux.
type DeviceQuerier struct{}

// OpenCPUIDDevice always fails on non-Linux platforms.
func OpenCPUIDDevice(_ int) (*DeviceQuerier, error) {
	return nil, ErrUnsupportedPlatform
}

func (d *DeviceQuerier) Query(_, _ uint32) RegisterSet { return RegisterSet{} }

func (d *DeviceQuerier) CPU() int { return 0 }

func (d *DeviceQuerier) Close() error { return nil }
