package sgxfeatures

import "encoding/binary"

// fakeQuerier answers from a fixed table and records every query.
// Leaves missing from the table read as all zeros.
type fakeQuerier struct {
	leaves map[LeafQuery]RegisterSet
	calls  []LeafQuery
}

func (f *fakeQuerier) Query(leaf, subleaf uint32) RegisterSet {
	q := LeafQuery{Leaf: leaf, Subleaf: subleaf}
	f.calls = append(f.calls, q)
	return f.leaves[q]
}

func (f *fakeQuerier) queried(leaf, subleaf uint32) bool {
	for _, c := range f.calls {
		if c.Leaf == leaf && c.Subleaf == subleaf {
			return true
		}
	}
	return false
}

// packRegs packs up to 16 bytes of s into EAX, EBX, ECX, EDX, least
// significant byte first.
func packRegs(s string) RegisterSet {
	var b [16]byte
	copy(b[:], s)
	return RegisterSet{
		EAX: binary.LittleEndian.Uint32(b[0:4]),
		EBX: binary.LittleEndian.Uint32(b[4:8]),
		ECX: binary.LittleEndian.Uint32(b[8:12]),
		EDX: binary.LittleEndian.Uint32(b[12:16]),
	}
}

// vendorRegs builds a leaf 0 answer for the 12-byte vendor string s.
func vendorRegs(maxLeaf uint32, s string) RegisterSet {
	var b [12]byte
	copy(b[:], s)
	return RegisterSet{
		EAX: maxLeaf,
		EBX: binary.LittleEndian.Uint32(b[0:4]),
		EDX: binary.LittleEndian.Uint32(b[4:8]),
		ECX: binary.LittleEndian.Uint32(b[8:12]),
	}
}

// sgxMachine returns the leaves of a Coffee Lake class processor with SGX1,
// flexible launch control and two EPC sections.
func sgxMachine() map[LeafQuery]RegisterSet {
	return map[LeafQuery]RegisterSet{
		{Leaf: LeafVendor}:            vendorRegs(0x16, "GenuineIntel"),
		{Leaf: LeafExtendedMax}:       {EAX: 0x80000008},
		{Leaf: 0x80000002}:            packRegs("Intel(R) Core(TM"),
		{Leaf: 0x80000003}:            packRegs(") i7-8700 CPU @ "),
		{Leaf: 0x80000004}:            packRegs("3.20GHz\x00\x00\x00\x00\x00\x00\x00\x00\x00"),
		{Leaf: LeafSignature}:         {EAX: 0x000906EA, ECX: 1<<6 | 1<<26 | 1<<27},
		{Leaf: LeafExtendedFeatures}:  {EBX: 1 << 2, ECX: 1 << 30},
		{Leaf: LeafSGX, Subleaf: 0}:   {EAX: 0x1, EDX: 0x241F},
		{Leaf: LeafSGX, Subleaf: 1}:   {EAX: 0x36, ECX: 0x1F},
		{Leaf: LeafSGX, Subleaf: 2}:   {EAX: 0x70200001, ECX: 0x05D80001},
		{Leaf: LeafSGX, Subleaf: 3}:   {EAX: 0x80000001, EBX: 0x1, ECX: 0x01000002},
		{Leaf: LeafXSAVE, Subleaf: 0}: {EAX: 0x1F, EBX: 0x440, ECX: 0x440},
		{Leaf: LeafXSAVE, Subleaf: 1}: {EAX: 0xF, EBX: 0x3C0, ECX: 0x100},
	}
}
