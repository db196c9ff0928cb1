package sgxfeatures

import "fmt"

// Requirement describes a gate condition consumable by [Check].
//
// Built-in implementations include:
//   - [Feature]
//   - [FeatureGroup]
//   - [LeafBitRequirement]
//   - [EPCSizeRequirement]
type Requirement interface {
	isRequirement()
}

// FeatureGroup is a reusable set of [Requirement] items.
//
// Groups can include simple [Feature] values and parameterized requirements.
type FeatureGroup []Requirement

// LeafBitRequirement requires a single CPUID output bit to be set.
type LeafBitRequirement struct {
	Leaf     uint32
	Subleaf  uint32
	Register Register
	Bit      uint
}

func (r LeafBitRequirement) String() string {
	return fmt.Sprintf("CPUID.(EAX=%#x,ECX=%#x):%s[%d]", r.Leaf, r.Subleaf, r.Register, r.Bit)
}

// EPCSizeRequirement requires at least Bytes of Enclave Page Cache in total.
type EPCSizeRequirement struct {
	Bytes uint64
}

// RequireLeafBit creates a requirement for one CPUID output bit.
func RequireLeafBit(leaf, subleaf uint32, reg Register, bit uint) LeafBitRequirement {
	return LeafBitRequirement{Leaf: leaf, Subleaf: subleaf, Register: reg, Bit: bit}
}

// RequireEPCSize creates a requirement for a minimum total EPC size.
func RequireEPCSize(bytes uint64) EPCSizeRequirement {
	return EPCSizeRequirement{Bytes: bytes}
}

func (Feature) isRequirement()            {}
func (FeatureGroup) isRequirement()       {}
func (LeafBitRequirement) isRequirement() {}
func (EPCSizeRequirement) isRequirement() {}

type requirementSet struct {
	features []Feature
	leafBits []LeafBitRequirement
	// epcSize is the largest EPC size asked for; zero means none.
	epcSize uint64

	seenFeatures map[Feature]struct{}
	seenLeafBits map[LeafBitRequirement]struct{}
}

func normalizeRequirements(required []Requirement) requirementSet {
	rs := requirementSet{
		seenFeatures: map[Feature]struct{}{},
		seenLeafBits: map[LeafBitRequirement]struct{}{},
	}
	for _, req := range required {
		rs.add(req)
	}
	return rs
}

func (rs *requirementSet) add(req Requirement) {
	switch r := req.(type) {
	case Feature:
		if _, ok := rs.seenFeatures[r]; ok {
			return
		}
		rs.seenFeatures[r] = struct{}{}
		rs.features = append(rs.features, r)
	case FeatureGroup:
		for _, nested := range r {
			if nested == nil {
				continue
			}
			rs.add(nested)
		}
	case LeafBitRequirement:
		if _, ok := rs.seenLeafBits[r]; ok {
			return
		}
		rs.seenLeafBits[r] = struct{}{}
		rs.leafBits = append(rs.leafBits, r)
	case EPCSizeRequirement:
		rs.epcSize = max(rs.epcSize, r.Bytes)
	}
}
