//go:build linux

package sgxfeatures

import (
	"fmt"
	"unsafe"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// atSysinfoEHDR is the auxiliary vector tag carrying the vDSO base address.
const atSysinfoEHDR = 33

// LocateVDSO returns the vDSO image of the current process and its base
// address. The base comes from AT_SYSINFO_EHDR; the length from the [vdso]
// mapping in /proc/self/maps. The returned slice aliases process memory and
// must not be written to.
func LocateVDSO() ([]byte, uintptr, error) {
	auxv, err := unix.Auxv()
	if err != nil {
		return nil, 0, fmt.Errorf("reading auxiliary vector: %w", err)
	}
	var base uintptr
	for _, kv := range auxv {
		if kv[0] == atSysinfoEHDR {
			base = kv[1]
			break
		}
	}
	if base == 0 {
		return nil, 0, ErrNoVDSO
	}

	size, err := vdsoMappingSize(base)
	if err != nil {
		return nil, 0, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(base)), size), base, nil
}

func vdsoMappingSize(base uintptr) (int, error) {
	self, err := procfs.Self()
	if err != nil {
		return 0, fmt.Errorf("opening /proc/self: %w", err)
	}
	maps, err := self.ProcMaps()
	if err != nil {
		return 0, fmt.Errorf("reading /proc/self/maps: %w", err)
	}
	return findMapping(maps, base)
}

func findMapping(maps []*procfs.ProcMap, base uintptr) (int, error) {
	for _, m := range maps {
		if m.Pathname != "[vdso]" {
			continue
		}
		if base < m.StartAddr || base >= m.EndAddr {
			return 0, fmt.Errorf("%w: AT_SYSINFO_EHDR %#x outside [vdso] mapping %#x-%#x",
				ErrNoVDSO, base, m.StartAddr, m.EndAddr)
		}
		return int(m.EndAddr - base), nil
	}
	return 0, fmt.Errorf("%w: no [vdso] entry in /proc/self/maps", ErrNoVDSO)
}
