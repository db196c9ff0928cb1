package sgxfeatures

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// String returns a human-readable summary of the report.
func (r *Report) String() string {
	var b strings.Builder

	for _, g := range r.Groups() {
		fmt.Fprintf(&b, "%s:\n", g.Name)
		for _, f := range g.Fields {
			fmt.Fprintf(&b, "  %s: %s\n", f.Name, f)
		}
		b.WriteString("\n")
	}

	if r.SGX != nil {
		b.WriteString("Enclave limits:\n")
		writeSize(&b, "  Max enclave size (64-bit)", r.SGX.MaxEnclaveSize64)
		writeSize(&b, "  Max enclave size (32-bit)", r.SGX.MaxEnclaveSizeNot64)
		if len(r.EPC) > 0 {
			fmt.Fprintf(&b, "  EPC total: %s in %d section(s)\n", humanize.IBytes(TotalEPCSize(r.EPC)), len(r.EPC))
		} else {
			b.WriteString("  EPC total: none\n")
		}
		b.WriteString("\n")
	}

	if x := r.XSAVE; x != nil {
		xcr0 := x.SupportedXCR0
		if r.XCR0.Available {
			xcr0 = r.XCR0.Value
		}
		b.WriteString("XSAVE state components:\n")
		for _, c := range StateComponents(xcr0, x.SupportedXSS) {
			kind := "user"
			if c.Supervisor {
				kind = "supervisor"
			}
			fmt.Fprintf(&b, "  %2d %s (%s)\n", c.Bit, c.Name, kind)
		}
		b.WriteString("\n")
	}

	if p := r.Privileges; p != nil {
		b.WriteString("Privileges:\n")
		fmt.Fprintf(&b, "  MSR access: %s\n", yesNo(p.Privileged))
		writeResult(&b, "  CAP_SYS_ADMIN", p.CapSysAdmin)
		writeResult(&b, "  CAP_SYS_RAWIO", p.CapSysRawIO)
		b.WriteString("\n")
	}

	if k := r.Kernel; k != nil {
		fmt.Fprintf(&b, "Kernel: %s\n", k.Release)
		writeResult(&b, "  SGX driver", k.Driver)
		writeResult(&b, "  BTF struct sgx_encl", k.BTFEnclave)
		writeResult(&b, "  /dev/sgx_enclave", k.EnclaveDevice)
		writeResult(&b, "  /dev/sgx_provision", k.ProvisionDevice)
		writeResult(&b, "  /dev/sgx_vepc", k.VEPCDevice)
		writeResult(&b, "  /dev/isgx", k.LegacyDevice)
		if k.Config != nil {
			writeConfig(&b, "  CONFIG_X86_SGX", k.Config.SGX)
			writeConfig(&b, "  CONFIG_X86_SGX_KVM", k.Config.SGXKVM)
		} else if k.ConfigError != nil {
			fmt.Fprintf(&b, "  Kernel config: not available (%v)\n", k.ConfigError)
		}
		b.WriteString("\n")
	}

	if v := r.VDSO; v != nil {
		b.WriteString("vDSO:\n")
		if v.Base != 0 {
			fmt.Fprintf(&b, "  Base: %#x (%s, %d symbols)\n", v.Base, humanize.IBytes(v.Size), v.Symbols)
		}
		writeResult(&b, "  "+VDSOEnterEnclaveSymbol, v.EnterEnclave)
	}

	return b.String()
}

func writeSize(b *strings.Builder, name string, size func() (uint64, bool)) {
	if v, ok := size(); ok {
		fmt.Fprintf(b, "%s: %s\n", name, humanize.IBytes(v))
		return
	}
	fmt.Fprintf(b, "%s: out of range\n", name)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func writeResult(b *strings.Builder, name string, r ProbeResult) {
	if r.Error != nil {
		fmt.Fprintf(b, "%s: %s (error: %v)\n", name, yesNo(r.Supported), r.Error)
	} else {
		fmt.Fprintf(b, "%s: %s\n", name, yesNo(r.Supported))
	}
}

func writeConfig(b *strings.Builder, name string, v ConfigValue) {
	fmt.Fprintf(b, "%s: %s\n", name, v)
}
