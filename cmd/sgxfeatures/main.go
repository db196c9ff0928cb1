package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/apex/log"
	clihandler "github.com/apex/log/handlers/cli"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/leodido/sgxfeatures"
	"github.com/leodido/structcli"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thediveo/enumflag/v2"
)

// Build metadata injected via ldflags.
// When built without ldflags these remain at their zero values and the
// version command omits them.
var (
	version = ""
	commit  = ""
	date    = ""
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow)
)

func main() {
	log.SetHandler(clihandler.Default)

	var verbose bool
	root := &cobra.Command{
		Use:   "sgxfeatures",
		Short: "Intel SGX capability detection",
		Long: `sgxfeatures probes the processor and the kernel for Intel SGX support.

It decodes the SGX CPUID leaves (capabilities, enclave attributes, EPC sections),
the XSAVE state leaves, the SGX MSRs of CPU 0 and the kernel side: config, BTF,
device nodes and the vDSO enclave entry point. Use it for operator diagnostics,
CI/CD gating or container runtime validation.`,
		SilenceUsage: true,
		PersistentPreRun: func(c *cobra.Command, args []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "Log every CPUID and MSR access")

	root.AddCommand(probeCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(vdsoCmd())
	root.AddCommand(crosscheckCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// backendOptions returns the library options selecting the CPUID and MSR
// backends, and a cleanup function to run once probing is done. Every backend
// is wrapped so that accesses are logged at debug level.
func backendOptions(cpuidDevice bool) ([]sgxfeatures.ProbeOption, func(), error) {
	opts := []sgxfeatures.ProbeOption{
		sgxfeatures.WithMSRReader(loggingMSRReader{sgxfeatures.NewMSRReader()}),
	}
	if !cpuidDevice {
		opts = append(opts,
			sgxfeatures.WithQuerier(loggingQuerier{sgxfeatures.NativeQuerier()}),
			sgxfeatures.WithAvailabilityCheck(sgxfeatures.QuerySupported),
		)
		return opts, func() {}, nil
	}

	dev, err := sgxfeatures.OpenCPUIDDevice(sgxfeatures.ProbeCPU)
	if err != nil {
		return nil, nil, err
	}
	log.WithField("cpu", dev.CPU()).Debug("using cpuid device")
	opts = append(opts, sgxfeatures.WithQuerier(loggingQuerier{dev}))
	return opts, func() { dev.Close() }, nil
}

// ProbeOptions defines flags for the probe subcommand.
type ProbeOptions struct {
	JSON         bool   `flag:"json" flagshort:"j" flagdescr:"Output in JSON format"`
	EPCLimit     int    `flag:"epc-limit" flagdescr:"Highest CPUID leaf 0x12 sub-leaf inspected for EPC sections (0 for the default)"`
	MSR          bool   `flag:"msr" flagdescr:"Read the SGX MSRs of CPU 0 (needs CAP_SYS_ADMIN and the msr module)"`
	KernelConfig string `flag:"kernel-config" flagdescr:"Kernel config file to read instead of the default locations"`
	CPUIDDevice  bool   `flag:"cpuid-device" flagdescr:"Query CPUID through /dev/cpu/0/cpuid instead of executing it in-process"`
}

func (o *ProbeOptions) Attach(c *cobra.Command) error {
	return structcli.Define(c, o)
}

func (o *ProbeOptions) libraryOptions() ([]sgxfeatures.ProbeOption, func(), error) {
	if o.EPCLimit < 0 {
		return nil, nil, fmt.Errorf("--epc-limit must not be negative")
	}
	opts, cleanup, err := backendOptions(o.CPUIDDevice)
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts,
		sgxfeatures.WithEPCLimit(uint32(o.EPCLimit)),
		sgxfeatures.WithKernel(),
		sgxfeatures.WithVDSO(),
	)
	if o.KernelConfig != "" {
		opts = append(opts, sgxfeatures.WithKernelConfigPath(o.KernelConfig))
	}
	if o.MSR {
		opts = append(opts, sgxfeatures.WithMSRs())
	}
	return opts, cleanup, nil
}

func probeCmd() *cobra.Command {
	opts := &ProbeOptions{}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Probe SGX support and display results",
		PreRunE: func(c *cobra.Command, args []string) error {
			return structcli.Unmarshal(c, opts)
		},
		RunE: func(c *cobra.Command, args []string) error {
			libOpts, cleanup, err := opts.libraryOptions()
			if err != nil {
				return err
			}
			defer cleanup()

			r, err := sgxfeatures.ProbeWith(libOpts...)
			var fatal *sgxfeatures.FatalError
			if err != nil && !errors.As(err, &fatal) {
				return err
			}

			if opts.JSON {
				if err := printJSON(struct {
					Report *sgxfeatures.Report      `json:"report"`
					Fatal  *sgxfeatures.FatalError `json:"fatal,omitempty"`
				}{r, fatal}); err != nil {
					return err
				}
			} else {
				fmt.Print(r)
			}

			if fatal != nil {
				failColor.Fprintf(os.Stderr, "FATAL: %s\n", fatal)
				cleanup()
				os.Exit(1)
			}
			return nil
		},
	}

	if err := opts.Attach(cmd); err != nil {
		panic(err)
	}
	return cmd
}

// CheckOptions defines flags for the check subcommand.
type CheckOptions struct {
	Require     featureRequirements `flag:"require" flagshort:"r" flagdescr:"Required features (see available features above)" flagcustom:"true"`
	EPCSize     string              `flag:"epc-size" flagdescr:"Minimum total EPC size (e.g. 64MiB)"`
	JSON        bool                `flag:"json" flagshort:"j" flagdescr:"Output in JSON format"`
	CPUIDDevice bool                `flag:"cpuid-device" flagdescr:"Query CPUID through /dev/cpu/0/cpuid instead of executing it in-process"`
}

func (o *CheckOptions) Attach(c *cobra.Command) error {
	return structcli.Define(c, o)
}

func (o *CheckOptions) DefineRequire(name, short, descr string, structField reflect.StructField, fieldValue reflect.Value) (pflag.Value, string) {
	fieldPtr := fieldValue.Addr().Interface().(*featureRequirements)
	*fieldPtr = nil
	return fieldPtr, descr
}

func (o *CheckOptions) DecodeRequire(input any) (any, error) {
	s, ok := input.(string)
	if !ok {
		return input, nil
	}

	return parseFeatureRequirements(s)
}

// CompleteRequire completes comma-separated feature names.
func (o *CheckOptions) CompleteRequire(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	prefix := ""
	current := toComplete
	if i := strings.LastIndex(toComplete, ","); i >= 0 {
		prefix, current = toComplete[:i+1], toComplete[i+1:]
	}

	selected := map[string]bool{}
	for _, part := range strings.Split(prefix, ",") {
		if part = strings.TrimSpace(part); part != "" {
			selected[strings.ToLower(part)] = true
		}
	}

	var out []string
	for _, name := range sgxfeatures.FeatureNames() {
		if selected[name] || !strings.HasPrefix(name, strings.ToLower(current)) {
			continue
		}
		out = append(out, prefix+name)
	}
	return out, cobra.ShellCompDirectiveNoFileComp | cobra.ShellCompDirectiveNoSpace
}

func (o *CheckOptions) requirements() ([]sgxfeatures.Requirement, error) {
	requirements := make([]sgxfeatures.Requirement, 0, len(o.Require)+1)
	for _, f := range o.Require {
		requirements = append(requirements, f)
	}
	if o.EPCSize != "" {
		size, err := humanize.ParseBytes(o.EPCSize)
		if err != nil {
			return nil, fmt.Errorf("--epc-size: %w", err)
		}
		requirements = append(requirements, sgxfeatures.RequireEPCSize(size))
	}
	return requirements, nil
}

func checkCmd() *cobra.Command {
	opts := &CheckOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check specific SGX feature requirements",
		Long:  checkLongDescription(),
		PreRunE: func(c *cobra.Command, args []string) error {
			return structcli.Unmarshal(c, opts)
		},
		RunE: func(c *cobra.Command, args []string) error {
			if len(opts.Require) == 0 && opts.EPCSize == "" {
				return fmt.Errorf("no features specified")
			}
			requirements, err := opts.requirements()
			if err != nil {
				return err
			}

			libOpts, cleanup, err := backendOptions(opts.CPUIDDevice)
			if err != nil {
				return err
			}
			defer cleanup()
			libOpts = append(libOpts, sgxfeatures.ProbeOptionsFor(requirements...)...)

			r, err := sgxfeatures.ProbeWith(libOpts...)
			if err == nil {
				err = r.Check(requirements...)
			}
			if err == nil {
				if opts.JSON {
					return printJSON(map[string]any{"ok": true})
				}
				okColor.Println("OK: all requirements satisfied")
				return nil
			}

			var fe *sgxfeatures.FeatureError
			var fatal *sgxfeatures.FatalError
			switch {
			case errors.As(err, &fe):
				if opts.JSON {
					printJSON(map[string]any{"ok": false, "feature": fe.Feature, "reason": fe.Reason})
				} else {
					failColor.Fprintf(os.Stderr, "FAIL: %s: %s\n", fe.Feature, fe.Reason)
				}
			case errors.As(err, &fatal):
				if opts.JSON {
					printJSON(map[string]any{"ok": false, "fatal": fatal})
				} else {
					failColor.Fprintf(os.Stderr, "FATAL: %s\n", fatal)
				}
			default:
				return err
			}
			cleanup()
			os.Exit(1)
			return nil
		},
	}

	if err := opts.Attach(cmd); err != nil {
		panic(err)
	}
	return cmd
}

// VDSOOptions defines flags for the vdso subcommand.
type VDSOOptions struct {
	JSON bool `flag:"json" flagshort:"j" flagdescr:"Output in JSON format"`
}

func (o *VDSOOptions) Attach(c *cobra.Command) error {
	return structcli.Define(c, o)
}

func vdsoCmd() *cobra.Command {
	opts := &VDSOOptions{}

	cmd := &cobra.Command{
		Use:   "vdso",
		Short: "List the dynamic symbols exported by the vDSO",
		PreRunE: func(c *cobra.Command, args []string) error {
			return structcli.Unmarshal(c, opts)
		},
		RunE: func(c *cobra.Command, args []string) error {
			symbols, err := sgxfeatures.VDSOSymbols()
			if err != nil {
				return err
			}
			log.WithField("count", len(symbols)).Debug("resolved vDSO symbols")

			if opts.JSON {
				return printJSON(symbols)
			}
			for _, name := range symbols {
				if name == sgxfeatures.VDSOEnterEnclaveSymbol {
					okColor.Println(name)
					continue
				}
				fmt.Println(name)
			}
			return nil
		},
	}

	if err := opts.Attach(cmd); err != nil {
		panic(err)
	}
	return cmd
}

// CrosscheckOptions defines flags for the crosscheck subcommand.
type CrosscheckOptions struct {
	JSON        bool `flag:"json" flagshort:"j" flagdescr:"Output in JSON format"`
	CPUIDDevice bool `flag:"cpuid-device" flagdescr:"Query CPUID through /dev/cpu/0/cpuid instead of executing it in-process"`
}

func (o *CrosscheckOptions) Attach(c *cobra.Command) error {
	return structcli.Define(c, o)
}

func crosscheckCmd() *cobra.Command {
	opts := &CrosscheckOptions{}

	cmd := &cobra.Command{
		Use:   "crosscheck",
		Short: "Compare the CPUID decoding with github.com/klauspost/cpuid",
		PreRunE: func(c *cobra.Command, args []string) error {
			return structcli.Unmarshal(c, opts)
		},
		RunE: func(c *cobra.Command, args []string) error {
			libOpts, cleanup, err := backendOptions(opts.CPUIDDevice)
			if err != nil {
				return err
			}
			defer cleanup()

			r, err := sgxfeatures.ProbeWith(libOpts...)
			var fatal *sgxfeatures.FatalError
			if errors.As(err, &fatal) {
				log.WithField("stage", fatal.Stage).Warn(fatal.Reason)
			} else if err != nil {
				return err
			}

			mismatches := sgxfeatures.CrossCheck(r)
			if opts.JSON {
				return printJSON(mismatches)
			}
			if len(mismatches) == 0 {
				okColor.Println("OK: decoders agree")
				return nil
			}
			for _, m := range mismatches {
				warnColor.Println(m)
			}
			return nil
		},
	}

	if err := opts.Attach(cmd); err != nil {
		panic(err)
	}
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show processor and tool version",
		RunE: func(c *cobra.Command, args []string) error {
			if version != "" {
				fmt.Printf("sgxfeatures %s", version)
				if commit != "" {
					fmt.Printf(" (%s)", commit)
				}
				if date != "" {
					fmt.Printf(" built %s", date)
				}
				fmt.Println()
			} else {
				fmt.Println("sgxfeatures (dev)")
			}

			if !sgxfeatures.QuerySupported() {
				fmt.Println("CPU: CPUID not available")
				return nil
			}
			q := sgxfeatures.NativeQuerier()
			vendor := sgxfeatures.DecodeVendor(q.Query(sgxfeatures.LeafVendor, 0))
			brand := sgxfeatures.ReadBrand(q)
			fmt.Printf("CPU: %s %s\n", vendor.Vendor, strings.TrimSpace(brand.Brand))
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func availableFeatures() string {
	return strings.Join(sgxfeatures.FeatureNames(), ", ")
}

func checkLongDescription() string {
	return fmt.Sprintf(`Check that the platform supports all required SGX features.
Exits with code 0 if all requirements are met, 1 if any are missing.

Available features:
%s`, formatWrappedList(sgxfeatures.FeatureNames(), "  ", 80))
}

func formatWrappedList(items []string, indent string, maxWidth int) string {
	if len(items) == 0 {
		return indent + "(none)"
	}

	lines := make([]string, 0, len(items))
	line := indent
	for i, item := range items {
		token := item
		if i < len(items)-1 {
			token += ", "
		}

		if len(line)+len(token) > maxWidth && line != indent {
			lines = append(lines, strings.TrimRight(line, " "))
			line = indent + token
			continue
		}

		line += token
	}

	lines = append(lines, strings.TrimRight(line, " "))
	return strings.Join(lines, "\n")
}

type featureRequirements []sgxfeatures.Feature

var featureIdentifierMap = func() map[sgxfeatures.Feature][]string {
	ids := make(map[sgxfeatures.Feature][]string, len(sgxfeatures.FeatureValues()))
	for _, f := range sgxfeatures.FeatureValues() {
		ids[f] = []string{f.String()}
	}
	return ids
}()

func (r *featureRequirements) String() string {
	names := make([]string, 0, len(*r))
	for _, f := range *r {
		names = append(names, f.String())
	}

	return strings.Join(names, ",")
}

func (r *featureRequirements) Set(input string) error {
	features, err := parseFeatureRequirements(input)
	if err != nil {
		return err
	}

	*r = append(*r, features...)
	return nil
}

func (r *featureRequirements) Type() string {
	return "feature"
}

func parseFeatureRequirements(input string) (featureRequirements, error) {
	if strings.TrimSpace(input) == "" {
		return featureRequirements{}, nil
	}

	parts := strings.Split(input, ",")
	features := make(featureRequirements, 0, len(parts))
	for _, part := range parts {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}

		var feature sgxfeatures.Feature
		enumValue := enumflag.New(&feature, "sgxfeatures.Feature", featureIdentifierMap, enumflag.EnumCaseInsensitive)
		if err := enumValue.Set(name); err != nil {
			return nil, fmt.Errorf("unknown feature: %q (available: %s)", name, availableFeatures())
		}

		features = append(features, feature)
	}

	return features, nil
}
