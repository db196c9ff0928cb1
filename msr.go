package sgxfeatures

import (
	"encoding/json"
	"fmt"
)

// SGX-related model specific registers.
const (
	MSRFeatureControl    uint32 = 0x3A
	MSRSGXLEPubKeyHash0  uint32 = 0x8C
	MSRSGXOwnerEpoch0    uint32 = 0x300
	MSRSGXSVNStatus      uint32 = 0x500
	msrReservedRangeLow  uint32 = 0x40000000
	msrReservedRangeHigh uint32 = 0x4000FFFF
)

// ProbeCPU is the logical CPU every privileged read targets. Processors in
// a multi-socket system could in principle disagree; only CPU 0 is reported.
const ProbeCPU = 0

// MSRReader reads 64-bit model specific registers.
type MSRReader interface {
	// ReadMSR returns the raw register value. Every failure matches
	// ErrUnreadable and means "not available here", never a fatal condition.
	ReadMSR(address uint32, cpu int) (uint64, error)
}

// IsReservedMSR reports whether address lies in the range reserved for
// hypervisor interfaces. Such addresses are never read.
func IsReservedMSR(address uint32) bool {
	return address >= msrReservedRangeLow && address <= msrReservedRangeHigh
}

func checkMSRAddress(address uint32) error {
	if IsReservedMSR(address) {
		return fmt.Errorf("msr %#x: %w: %w", address, ErrUnreadable, ErrReservedMSR)
	}
	return nil
}

// MSRValue is the outcome of one MSR read.
type MSRValue struct {
	Value uint64
	Error error
}

// Available reports whether the register was read.
func (v MSRValue) Available() bool {
	return v.Error == nil
}

// MarshalJSON renders an unreadable register as null.
func (v MSRValue) MarshalJSON() ([]byte, error) {
	if v.Error != nil {
		return []byte("null"), nil
	}
	return json.Marshal(v.Value)
}

func readMSRValue(r MSRReader, address uint32) MSRValue {
	val, err := r.ReadMSR(address, ProbeCPU)
	return MSRValue{Value: val, Error: err}
}

// FeatureControl is the decoded IA32_FEATURE_CONTROL register.
type FeatureControl struct {
	Raw uint64 `json:"raw"`
	// Locked (bit 0) freezes the register until reset.
	Locked bool `json:"locked"`
	// SGXLaunchControl (bit 17) makes IA32_SGXLEPUBKEYHASH writable.
	SGXLaunchControl bool `json:"sgx_launch_control"`
	// SGXGlobalEnable (bit 18) enables the SGX leaf functions.
	SGXGlobalEnable bool `json:"sgx_global_enable"`
}

// DecodeFeatureControl decodes IA32_FEATURE_CONTROL.
func DecodeFeatureControl(raw uint64) FeatureControl {
	return FeatureControl{
		Raw:              raw,
		Locked:           raw&1 == 1,
		SGXLaunchControl: (raw>>17)&1 == 1,
		SGXGlobalEnable:  (raw>>18)&1 == 1,
	}
}

// LEHashWritable reports whether the launch enclave public key hash can be
// changed by the OS.
func (fc FeatureControl) LEHashWritable() bool {
	return fc.Locked && fc.SGXLaunchControl
}

// SGXEnabled reports whether firmware locked the register with SGX on.
func (fc FeatureControl) SGXEnabled() bool {
	return fc.Locked && fc.SGXGlobalEnable
}

// SGXMSRs are the SGX registers read from CPU 0. Each entry is independently
// unavailable on platforms that do not implement it.
type SGXMSRs struct {
	FeatureControl MSRValue    `json:"feature_control"`
	LEPubKeyHash   [4]MSRValue `json:"le_pubkey_hash"`
	SVNStatus      MSRValue    `json:"svn_status"`
	OwnerEpoch     [2]MSRValue `json:"owner_epoch"`
}

// ReadSGXMSRs reads the SGX registers through r. The caller is expected to
// have checked [HasPrivilege] first.
func ReadSGXMSRs(r MSRReader) SGXMSRs {
	var m SGXMSRs
	m.FeatureControl = readMSRValue(r, MSRFeatureControl)
	for i := range m.LEPubKeyHash {
		m.LEPubKeyHash[i] = readMSRValue(r, MSRSGXLEPubKeyHash0+uint32(i))
	}
	m.SVNStatus = readMSRValue(r, MSRSGXSVNStatus)
	for i := range m.OwnerEpoch {
		m.OwnerEpoch[i] = readMSRValue(r, MSRSGXOwnerEpoch0+uint32(i))
	}
	return m
}

// FeatureControlBits decodes FeatureControl; ok is false if it was unreadable.
func (m SGXMSRs) FeatureControlBits() (fc FeatureControl, ok bool) {
	if !m.FeatureControl.Available() {
		return FeatureControl{}, false
	}
	return DecodeFeatureControl(m.FeatureControl.Value), true
}

// LEPubKeyHashValues returns the four hash words; ok is false unless all
// four were readable.
func (m SGXMSRs) LEPubKeyHashValues() (hash [4]uint64, ok bool) {
	for i, v := range m.LEPubKeyHash {
		if !v.Available() {
			return [4]uint64{}, false
		}
		hash[i] = v.Value
	}
	return hash, true
}

// OwnerEpochValues returns both owner epoch words; ok is false unless both
// were readable.
func (m SGXMSRs) OwnerEpochValues() (epoch [2]uint64, ok bool) {
	for i, v := range m.OwnerEpoch {
		if !v.Available() {
			return [2]uint64{}, false
		}
		epoch[i] = v.Value
	}
	return epoch, true
}
