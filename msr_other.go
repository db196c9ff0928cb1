//go:build !linux

package sgxfeatures

import "fmt"

// DeviceMSRReader has no backing device outside Linux; every read fails.
type DeviceMSRReader struct{}

// NewMSRReader returns a reader whose reads always fail.
func NewMSRReader() *DeviceMSRReader {
	return &DeviceMSRReader{}
}

func (r *DeviceMSRReader) ReadMSR(address uint32, _ int) (uint64, error) {
	if err := checkMSRAddress(address); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("msr %#x: %w: %w", address, ErrUnreadable, ErrUnsupportedPlatform)
}
