// Package sgxfeatures detects Intel SGX (Software Guard Extensions) support.
//
// It queries the processor through CPUID, reads the SGX model specific
// registers of CPU 0 and inspects the kernel (config, BTF, device nodes and
// the vDSO), then decodes the raw results into a named [Report]. Nothing is
// ever written to the CPU or the platform, and nothing is cached.
//
// # API Model
//
// sgxfeatures exposes two API families:
//   - [Check] for pass/fail readiness validation using [Requirement] items
//   - [Probe]/[ProbeWith] for diagnostics data collection using WithX options
//
// The decoders ([DecodeVendor], [DecodeSGXCapabilities], [DecodeEPCLeaf],
// ...) are pure functions of [RegisterSet] values and can be used on their
// own, for example on register dumps taken elsewhere.
//
// # Quick Check
//
//	if err := sgxfeatures.Check(sgxfeatures.FeatureSGX2, sgxfeatures.FeatureEnclaveDevice); err != nil {
//	    var fe *sgxfeatures.FeatureError
//	    if errors.As(err, &fe) {
//	        log.Fatalf("platform not ready: %s: %s", fe.Feature, fe.Reason)
//	    }
//	    log.Fatal(err)
//	}
//
// # Full Probe
//
//	r, err := sgxfeatures.Probe()
//	var fatal *sgxfeatures.FatalError
//	if errors.As(err, &fatal) {
//	    fmt.Print(r) // whatever was decoded before the fatal condition
//	    log.Fatal(fatal)
//	}
//	fmt.Print(r)
//
// # Backends
//
// CPUID is executed in-process on amd64 and 386 through [NativeQuerier]. On
// Linux the cpuid driver can be used instead with [OpenCPUIDDevice]. MSRs are
// read through the msr driver (/dev/cpu/N/msr) and need CAP_SYS_ADMIN, which
// [HasPrivilege] checks and raises when permitted.
//
// # Errors
//
// Conditions that make further probing pointless (no CPUID, a non-Intel
// vendor, leaf 0x12 out of range, SGX absent) are returned as *[FatalError]
// together with the partial report; the package never exits the process.
// Anything else that cannot be read (an MSR, XCR0, the kernel config, the
// vDSO symbol table) is recorded in the report as not available.
package sgxfeatures
