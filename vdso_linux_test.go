//go:build linux

package sgxfeatures

import (
	"errors"
	"slices"
	"testing"

	"github.com/prometheus/procfs"
)

func TestFindMapping(t *testing.T) {
	maps := []*procfs.ProcMap{
		{StartAddr: 0x400000, EndAddr: 0x401000, Pathname: "/usr/bin/sgxfeatures"},
		{StartAddr: 0x7ffd1000, EndAddr: 0x7ffd3000, Pathname: "[vvar]"},
		{StartAddr: 0x7ffd3000, EndAddr: 0x7ffd5000, Pathname: "[vdso]"},
	}

	tests := []struct {
		name    string
		maps    []*procfs.ProcMap
		base    uintptr
		want    int
		wantErr bool
	}{
		{name: "at start", maps: maps, base: 0x7ffd3000, want: 0x2000},
		{name: "inside", maps: maps, base: 0x7ffd4000, want: 0x1000},
		{name: "outside", maps: maps, base: 0x7ffd1000, wantErr: true},
		{name: "no vdso", maps: maps[:2], base: 0x7ffd3000, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := findMapping(tt.maps, tt.base)
			if tt.wantErr {
				if !errors.Is(err, ErrNoVDSO) {
					t.Fatalf("findMapping() error = %v, want ErrNoVDSO", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("findMapping() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("findMapping() = %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestLiveVDSO(t *testing.T) {
	image, base, err := LocateVDSO()
	if errors.Is(err, ErrNoVDSO) {
		t.Skip("process has no vDSO")
	}
	if err != nil {
		t.Fatalf("LocateVDSO() error: %v", err)
	}
	if base == 0 || len(image) == 0 {
		t.Fatalf("LocateVDSO() = %d bytes at %#x", len(image), base)
	}

	st, err := ResolveSymbolTable(image)
	if err != nil {
		t.Fatalf("ResolveSymbolTable(vDSO) error: %v", err)
	}
	names := slices.Collect(st.Symbols())
	if len(names) == 0 {
		t.Fatal("vDSO exports no symbols")
	}
	// Every walked name must also be reachable through its own bucket.
	for _, name := range names {
		if _, ok := st.Lookup(name); !ok {
			t.Errorf("Lookup(%q) not found", name)
		}
	}

	info := probeVDSO()
	if info.Base != base || info.Symbols != st.Len() {
		t.Errorf("probeVDSO() = %+v, want base %#x with %d symbols", info, base, st.Len())
	}
	if _, exported := st.Lookup(VDSOEnterEnclaveSymbol); exported != info.EnterEnclave.Supported {
		t.Errorf("EnterEnclave.Supported = %v, symbol exported = %v", info.EnterEnclave.Supported, exported)
	}
}
