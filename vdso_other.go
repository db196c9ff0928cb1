//go:build !linux

package sgxfeatures

// LocateVDSO is only implemented on Linux.
func LocateVDSO() ([]byte, uintptr, error) {
	return nil, 0, ErrUnsupportedPlatform
}
