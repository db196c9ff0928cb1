package sgxfeatures

import "fmt"

// LeafQuery selects a CPUID leaf and sub-leaf.
type LeafQuery struct {
	Leaf    uint32
	Subleaf uint32
}

func (q LeafQuery) String() string {
	return fmt.Sprintf("EAX=%#x, ECX=%#x", q.Leaf, q.Subleaf)
}

// RegisterSet holds the four output registers of one CPUID invocation.
// It is a value type and is never mutated once returned by a query.
type RegisterSet struct {
	EAX uint32 `json:"eax"`
	EBX uint32 `json:"ebx"`
	ECX uint32 `json:"ecx"`
	EDX uint32 `json:"edx"`
}

// IsZero reports whether all four registers are zero.
func (r RegisterSet) IsZero() bool {
	return r.EAX == 0 && r.EBX == 0 && r.ECX == 0 && r.EDX == 0
}

func (r RegisterSet) String() string {
	return fmt.Sprintf("eax: %08x  ebx: %08x  ecx: %08x  edx: %08x", r.EAX, r.EBX, r.ECX, r.EDX)
}

// Register names one of the four CPUID output registers.
type Register int

const (
	EAX Register = iota
	EBX
	ECX
	EDX
)

func (r Register) String() string {
	switch r {
	case EAX:
		return "eax"
	case EBX:
		return "ebx"
	case ECX:
		return "ecx"
	case EDX:
		return "edx"
	default:
		return fmt.Sprintf("Register(%d)", int(r))
	}
}

// Get returns the value of register reg, or zero for an unknown register.
func (r RegisterSet) Get(reg Register) uint32 {
	switch reg {
	case EAX:
		return r.EAX
	case EBX:
		return r.EBX
	case ECX:
		return r.ECX
	case EDX:
		return r.EDX
	default:
		return 0
	}
}

// RegisterQuerier issues CPUID queries.
//
// Query cannot fail: undefined leaves return whatever the platform returns,
// possibly all zeros, and the absence of a feature is signaled by its bits.
type RegisterQuerier interface {
	Query(leaf, subleaf uint32) RegisterSet
}

// QuerierFunc adapts a plain function to [RegisterQuerier].
type QuerierFunc func(leaf, subleaf uint32) RegisterSet

// Query calls f(leaf, subleaf).
func (f QuerierFunc) Query(leaf, subleaf uint32) RegisterSet {
	return f(leaf, subleaf)
}

// XCRReader reads extended control registers.
//
// ReadXCR0 must only be called once the caller has established that XGETBV
// is usable (see [XSAVEInfo.XGETBVECX1] and [Signature.OSXSAVE]).
type XCRReader interface {
	ReadXCR0() uint64
}

// XCRReaderFunc adapts a plain function to [XCRReader].
type XCRReaderFunc func() uint64

// ReadXCR0 calls f().
func (f XCRReaderFunc) ReadXCR0() uint64 {
	return f()
}

// NativeQuerier returns the querier backed by the CPUID instruction of the
// executing processor. On non-x86 builds it returns all-zero register sets.
func NativeQuerier() RegisterQuerier {
	return nativeQuerier{}
}

// NativeXCRReader returns the XCR reader backed by the XGETBV instruction.
func NativeXCRReader() XCRReader {
	return nativeQuerier{}
}

// QuerySupported reports whether the CPUID instruction is available, by
// toggling the ID flag (bit 21) of EFLAGS and checking that the change sticks.
// It does not rely on CPUID itself and must be called before any other query.
func QuerySupported() bool {
	return idFlagToggles()
}
