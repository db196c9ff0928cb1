//go:build !386 && !amd64

package sgxfeatures

// There is no CPUID on this architecture: the availability probe fails and
// every query returns zeros.

func idFlagToggles() bool { return false }

type nativeQuerier struct{}

func (nativeQuerier) Query(_, _ uint32) RegisterSet { return RegisterSet{} }

func (nativeQuerier) ReadXCR0() uint64 { return 0 }
