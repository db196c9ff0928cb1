//go:build 386 || amd64

package sgxfeatures

// cpuid executes CPUID with EAX=eaxArg and ECX=ecxArg.
//
//go:noescape
func cpuid(eaxArg, ecxArg uint32) (eax, ebx, ecx, edx uint32)

// xgetbv executes XGETBV with ECX=index.
//
//go:noescape
func xgetbv(index uint32) (eax, edx uint32)

// idFlagToggles reports whether EFLAGS.ID can be flipped.
//
//go:noescape
func idFlagToggles() bool

type nativeQuerier struct{}

func (nativeQuerier) Query(leaf, subleaf uint32) RegisterSet {
	eax, ebx, ecx, edx := cpuid(leaf, subleaf)
	return RegisterSet{EAX: eax, EBX: ebx, ECX: ecx, EDX: edx}
}

func (nativeQuerier) ReadXCR0() uint64 {
	eax, edx := xgetbv(0)
	return uint64(edx)<<32 | uint64(eax)
}
