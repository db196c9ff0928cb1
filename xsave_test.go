package sgxfeatures

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeXSAVE(t *testing.T) {
	sub0 := RegisterSet{EAX: 0x2E7, EBX: 0xA88, ECX: 0xA88, EDX: 0x0}
	sub1 := RegisterSet{EAX: 0x1F, EBX: 0xB00, ECX: 0x1900, EDX: 0x1}
	want := XSAVEInfo{
		MaxSizeEnabled:     0xA88,
		MaxSizeSupported:   0xA88,
		SizeEnabledWithXSS: 0xB00,
		SupportedXCR0:      0x2E7,
		SupportedXSS:       0x1_0000_1900,
		XSAVEOPT:           true,
		XSAVEC:             true,
		XGETBVECX1:         true,
		XSS:                true,
		XFD:                true,
	}
	if d := cmp.Diff(want, DecodeXSAVE(sub0, sub1)); d != "" {
		t.Errorf("DecodeXSAVE() mismatch (-want +got):\n%s", d)
	}
}

func TestReadXSAVE(t *testing.T) {
	q := &fakeQuerier{leaves: sgxMachine()}
	got := ReadXSAVE(q)
	if !got.XGETBVECX1 || got.SupportedXCR0 != 0x1F {
		t.Errorf("ReadXSAVE() = %+v", got)
	}
	want := []LeafQuery{{LeafXSAVE, 0}, {LeafXSAVE, 1}}
	if d := cmp.Diff(want, q.calls); d != "" {
		t.Errorf("queries mismatch (-want +got):\n%s", d)
	}
}

func TestXCR0Readable(t *testing.T) {
	tests := []struct {
		name    string
		osxsave bool
		ecx1    bool
		want    bool
	}{
		{"both", true, true, true},
		{"os has not enabled xsave", false, true, false},
		{"no xgetbv ecx=1", true, false, false},
		{"neither", false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := XCR0Readable(Signature{OSXSAVE: tt.osxsave}, XSAVEInfo{XGETBVECX1: tt.ecx1})
			if got != tt.want {
				t.Errorf("XCR0Readable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStateComponents(t *testing.T) {
	// x87, SSE, AVX in XCR0; PT and CET_U in IA32_XSS. Bit 8 in XCR0 and
	// bit 2 in IA32_XSS belong to the other register and are ignored.
	got := StateComponents(0x7|1<<8, 1<<8|1<<11|1<<2)
	var names []string
	for _, c := range got {
		names = append(names, c.Name)
	}
	want := []string{"x87", "SSE", "AVX", "PT", "CET_U"}
	if d := cmp.Diff(want, names); d != "" {
		t.Errorf("StateComponents() mismatch (-want +got):\n%s", d)
	}
}
