package sgxfeatures

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// CPUID leaves used by the decoders.
const (
	LeafVendor           uint32 = 0x00
	LeafSignature        uint32 = 0x01
	LeafExtendedFeatures uint32 = 0x07
	LeafXSAVE            uint32 = 0x0D
	LeafSGX              uint32 = 0x12
	LeafExtendedMax      uint32 = 0x80000000

	leafBrandFirst uint32 = 0x80000002
	leafBrandLast  uint32 = 0x80000004
)

// ExpectedVendor is the CPUID.0 vendor string of the processors that
// implement SGX.
const ExpectedVendor = "GenuineIntel"

// VendorInfo is decoded from CPUID leaf 0.
type VendorInfo struct {
	// MaxBasicLeaf is the highest basic leaf the processor answers.
	MaxBasicLeaf uint32 `json:"max_basic_leaf"`
	Vendor       string `json:"vendor"`
	// Genuine is a case-sensitive match of Vendor against ExpectedVendor.
	Genuine bool `json:"genuine"`
}

// DecodeVendor decodes leaf 0. The vendor string is stored in EBX, EDX, ECX,
// in that order.
func DecodeVendor(r RegisterSet) VendorInfo {
	var b [12]byte
	binary.LittleEndian.PutUint32(b[0:4], r.EBX)
	binary.LittleEndian.PutUint32(b[4:8], r.EDX)
	binary.LittleEndian.PutUint32(b[8:12], r.ECX)

	vendor := b[:]
	if i := bytes.IndexByte(vendor, 0); i >= 0 {
		vendor = vendor[:i]
	}
	return VendorInfo{
		MaxBasicLeaf: r.EAX,
		Vendor:       string(vendor),
		Genuine:      string(vendor) == ExpectedVendor,
	}
}

// CanEnumerateSGX reports whether the SGX leaf (0x12) is within range.
func (v VendorInfo) CanEnumerateSGX() bool {
	return v.MaxBasicLeaf >= LeafSGX
}

// BrandInfo is decoded from the extended leaves 0x80000000 and up.
type BrandInfo struct {
	MaxExtendedLeaf uint32 `json:"max_extended_leaf"`
	// Supported is false when the processor has no extended leaves.
	Supported bool   `json:"supported"`
	Brand     string `json:"brand,omitempty"`
}

// DecodeBrand decodes the brand string from the 0x80000000 register set and
// the brand leaves that follow it. Every register contributes four bytes,
// least significant first. Decoding stops at the first non-printable byte;
// later bytes and later leaves are ignored.
func DecodeBrand(maxLeaf RegisterSet, leaves ...RegisterSet) BrandInfo {
	info := BrandInfo{MaxExtendedLeaf: maxLeaf.EAX}
	if maxLeaf.EAX&LeafExtendedMax == 0 {
		return info
	}
	info.Supported = true

	var b strings.Builder
	for _, l := range leaves {
		if !appendPrintable(&b, l.EAX, l.EBX, l.ECX, l.EDX) {
			break
		}
	}
	info.Brand = b.String()
	return info
}

// ReadBrand queries the brand leaves, from 0x80000002 up to the reported
// maximum (at most 0x80000004), and decodes them.
func ReadBrand(q RegisterQuerier) BrandInfo {
	maxLeaf := q.Query(LeafExtendedMax, 0)
	if maxLeaf.EAX&LeafExtendedMax == 0 {
		return DecodeBrand(maxLeaf)
	}

	last := min(maxLeaf.EAX, leafBrandLast)
	var leaves []RegisterSet
	for leaf := leafBrandFirst; leaf <= last; leaf++ {
		leaves = append(leaves, q.Query(leaf, 0))
	}
	return DecodeBrand(maxLeaf, leaves...)
}

func appendPrintable(b *strings.Builder, regs ...uint32) bool {
	for _, r := range regs {
		for i := 0; i < 4; i++ {
			c := byte(r >> (8 * i))
			if c < 0x20 || c > 0x7e {
				return false
			}
			b.WriteByte(c)
		}
	}
	return true
}

// Signature is decoded from CPUID leaf 1.
type Signature struct {
	Stepping       uint8 `json:"stepping"`
	Model          uint8 `json:"model"`
	Family         uint8 `json:"family"`
	ProcessorType  uint8 `json:"processor_type"`
	ExtendedModel  uint8 `json:"extended_model"`
	ExtendedFamily uint8 `json:"extended_family"`

	// SMX is Safer Mode Extensions (ECX bit 6).
	SMX bool `json:"smx"`
	// XSAVE is ECX bit 26, OSXSAVE is ECX bit 27 (XGETBV usable).
	XSAVE   bool `json:"xsave"`
	OSXSAVE bool `json:"osxsave"`
}

// DecodeSignature decodes leaf 1.
func DecodeSignature(r RegisterSet) Signature {
	return Signature{
		Stepping:       uint8(r.EAX & 0xF),
		Model:          uint8((r.EAX >> 4) & 0xF),
		Family:         uint8((r.EAX >> 8) & 0xF),
		ProcessorType:  uint8((r.EAX >> 12) & 0x3),
		ExtendedModel:  uint8((r.EAX >> 16) & 0xF),
		ExtendedFamily: uint8((r.EAX >> 20) & 0xFF),
		SMX:            bit(r.ECX, 6),
		XSAVE:          bit(r.ECX, 26),
		OSXSAVE:        bit(r.ECX, 27),
	}
}

// DisplayFamily combines the family and extended family fields.
func (s Signature) DisplayFamily() uint32 {
	f := uint32(s.Family)
	if s.Family == 0xF {
		f += uint32(s.ExtendedFamily)
	}
	return f
}

// DisplayModel combines the model and extended model fields.
func (s Signature) DisplayModel() uint32 {
	m := uint32(s.Model)
	if s.Family == 0x6 || s.Family == 0xF {
		m += uint32(s.ExtendedModel) << 4
	}
	return m
}

// ExtendedFeatures is decoded from CPUID leaf 7, sub-leaf 0.
type ExtendedFeatures struct {
	Raw RegisterSet `json:"raw"`
	// SGX is EBX bit 2. Without it there is nothing else to probe.
	SGX bool `json:"sgx"`
	// SGXLaunchConfig is ECX bit 30 (SGX_LC, flexible launch control).
	SGXLaunchConfig bool `json:"sgx_lc"`
	// SGXAttestationKeys is EDX bit 1 (SGX_KEYS).
	SGXAttestationKeys bool `json:"sgx_keys"`
}

// DecodeExtendedFeatures decodes leaf 7 sub-leaf 0.
func DecodeExtendedFeatures(r RegisterSet) ExtendedFeatures {
	return ExtendedFeatures{
		Raw:                r,
		SGX:                bit(r.EBX, 2),
		SGXLaunchConfig:    bit(r.ECX, 30),
		SGXAttestationKeys: bit(r.EDX, 1),
	}
}

// SGXCapabilities is decoded from leaf 0x12, sub-leaf 0.
type SGXCapabilities struct {
	SGX1              bool `json:"sgx1"`
	SGX2              bool `json:"sgx2"`
	OversubVMX        bool `json:"oversub_vmx"`        // EINCVIRTCHILD, EDECVIRTCHILD, ESETCONTEXT
	OversubSupervisor bool `json:"oversub_supervisor"` // ETRACKC, ERDINFO, ELDBC, ELDUC
	EVERIFYREPORT2    bool `json:"everifyreport2"`
	EUPDATESVN        bool `json:"eupdatesvn"`
	EDECCSSA          bool `json:"edeccssa"`

	// MiscSelect is the bit vector of supported extended SSA MISC features.
	MiscSelect uint32 `json:"miscselect"`

	// Maximum enclave sizes, as powers of two.
	MaxEnclaveSizeNot64Exp uint8 `json:"max_enclave_size_not64_exp"`
	MaxEnclaveSize64Exp    uint8 `json:"max_enclave_size_64_exp"`
}

// DecodeSGXCapabilities decodes leaf 0x12 sub-leaf 0.
func DecodeSGXCapabilities(r RegisterSet) SGXCapabilities {
	return SGXCapabilities{
		SGX1:                   bit(r.EAX, 0),
		SGX2:                   bit(r.EAX, 1),
		OversubVMX:             bit(r.EAX, 5),
		OversubSupervisor:      bit(r.EAX, 6),
		EVERIFYREPORT2:         bit(r.EAX, 7),
		EUPDATESVN:             bit(r.EAX, 10),
		EDECCSSA:               bit(r.EAX, 11),
		MiscSelect:             r.EBX,
		MaxEnclaveSizeNot64Exp: uint8(r.EDX & 0xFF),
		MaxEnclaveSize64Exp:    uint8((r.EDX >> 8) & 0xFF),
	}
}

// MaxEnclaveSize64 returns 2^MaxEnclaveSize64Exp; ok is false if the value
// does not fit in 64 bits.
func (c SGXCapabilities) MaxEnclaveSize64() (size uint64, ok bool) {
	return pow2(c.MaxEnclaveSize64Exp)
}

// MaxEnclaveSizeNot64 returns 2^MaxEnclaveSizeNot64Exp; ok is false if the
// value does not fit in 64 bits.
func (c SGXCapabilities) MaxEnclaveSizeNot64() (size uint64, ok bool) {
	return pow2(c.MaxEnclaveSizeNot64Exp)
}

func pow2(exp uint8) (uint64, bool) {
	if exp >= 64 {
		return 0, false
	}
	return 1 << exp, true
}

// SGXAttributes is decoded from leaf 0x12, sub-leaf 1: the SECS.ATTRIBUTES
// bits that ECREATE accepts.
type SGXAttributes struct {
	Debug         bool `json:"debug"`
	Mode64Bit     bool `json:"mode64bit"`
	ProvisionKey  bool `json:"provisionkey"`
	EINITTokenKey bool `json:"einittoken_key"`
	CET           bool `json:"cet"`
	KSS           bool `json:"kss"`
	AEXNotify     bool `json:"aexnotify"`

	// Attributes is SECS.ATTRIBUTES[63:0] (EBX:EAX).
	Attributes uint64 `json:"attributes"`
	// XFRM is SECS.ATTRIBUTES[127:64] (EDX:ECX), the XSAVE feature request mask.
	XFRM uint64 `json:"xfrm"`
}

// DecodeSGXAttributes decodes leaf 0x12 sub-leaf 1.
func DecodeSGXAttributes(r RegisterSet) SGXAttributes {
	return SGXAttributes{
		Debug:         bit(r.EAX, 1),
		Mode64Bit:     bit(r.EAX, 2),
		ProvisionKey:  bit(r.EAX, 4),
		EINITTokenKey: bit(r.EAX, 5),
		CET:           bit(r.EAX, 6),
		KSS:           bit(r.EAX, 7),
		AEXNotify:     bit(r.EAX, 10),
		Attributes:    uint64(r.EBX)<<32 | uint64(r.EAX),
		XFRM:          uint64(r.EDX)<<32 | uint64(r.ECX),
	}
}

// EPCLeafType is the sub-leaf type in EAX[3:0] of leaf 0x12, sub-leaf 2+.
type EPCLeafType uint8

const (
	// EPCLeafInvalid terminates the enumeration when all registers are zero.
	EPCLeafInvalid EPCLeafType = 0
	// EPCLeafSection describes one EPC section.
	EPCLeafSection EPCLeafType = 1
)

// DefaultEPCSubleafLimit is the highest sub-leaf inspected by EnumerateEPC
// when no limit is given. Hardware ends the list earlier with an invalid leaf.
const DefaultEPCSubleafLimit uint32 = 16

const epcFirstSubleaf uint32 = 2

// EPCSection is one Enclave Page Cache section.
type EPCSection struct {
	Index           uint32 `json:"index"`
	Confidentiality bool   `json:"confidentiality"`
	Integrity       bool   `json:"integrity"`
	BasePhysAddr    uint64 `json:"base_phys_addr"`
	Size            uint64 `json:"size"`
}

// Protection returns the two-letter protection summary: "ci", "c" or "".
func (s EPCSection) Protection() string {
	var p string
	if s.Confidentiality {
		p += "c"
	}
	if s.Integrity {
		p += "i"
	}
	return p
}

// DecodeEPCLeaf decodes one EPC enumeration sub-leaf. The section is only
// meaningful when the returned type is EPCLeafSection.
//
// The 52-bit base address and size are each split across two registers:
// bits 31:12 in the low register and bits 51:32 in bits 19:0 of the next.
func DecodeEPCLeaf(subleaf uint32, r RegisterSet) (EPCLeafType, EPCSection) {
	t := EPCLeafType(r.EAX & 0x0F)
	if t != EPCLeafSection {
		return t, EPCSection{}
	}

	s := EPCSection{
		BasePhysAddr: uint64(r.EAX&0xFFFFF000) | uint64(r.EBX&0x000FFFFF)<<32,
		Size:         uint64(r.ECX&0xFFFFF000) | uint64(r.EDX&0x000FFFFF)<<32,
	}
	if subleaf >= epcFirstSubleaf {
		s.Index = subleaf - epcFirstSubleaf
	}
	switch r.ECX & 0x0F {
	case 0x1:
		s.Confidentiality = true
		s.Integrity = true
	case 0x2:
		s.Confidentiality = true
	}
	return t, s
}

// EnumerateEPC walks leaf 0x12 from sub-leaf 2 up to limit (inclusive) and
// returns the EPC sections found. An all-zero invalid leaf ends the walk;
// reserved leaf types are skipped. A zero limit means DefaultEPCSubleafLimit.
func EnumerateEPC(q RegisterQuerier, limit uint32) []EPCSection {
	if limit == 0 {
		limit = DefaultEPCSubleafLimit
	}

	var sections []EPCSection
	for sub := epcFirstSubleaf; sub != 0 && sub <= limit; sub++ {
		r := q.Query(LeafSGX, sub)
		t, s := DecodeEPCLeaf(sub, r)
		if t == EPCLeafInvalid && r.IsZero() {
			break
		}
		if t == EPCLeafSection {
			sections = append(sections, s)
		}
	}
	return sections
}

// TotalEPCSize sums the sizes of all sections.
func TotalEPCSize(sections []EPCSection) uint64 {
	var total uint64
	for _, s := range sections {
		total += s.Size
	}
	return total
}

func bit(v uint32, n uint) bool {
	return (v>>n)&1 == 1
}
