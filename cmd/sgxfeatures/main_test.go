package main

import (
	"strings"
	"testing"

	"github.com/leodido/sgxfeatures"
	"github.com/spf13/cobra"
)

func TestParseFeatureRequirements_CaseInsensitive(t *testing.T) {
	got, err := parseFeatureRequirements(" SGX2, kss, Enclave-Device ")
	if err != nil {
		t.Fatalf("parseFeatureRequirements() error = %v", err)
	}

	want := featureRequirements{
		sgxfeatures.FeatureSGX2,
		sgxfeatures.FeatureKSS,
		sgxfeatures.FeatureEnclaveDevice,
	}

	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestParseFeatureRequirements_UnknownFeature(t *testing.T) {
	_, err := parseFeatureRequirements("tdx")
	if err == nil {
		t.Fatal("parseFeatureRequirements(tdx) expected error")
	}

	msg := err.Error()
	if !strings.Contains(msg, `unknown feature: "tdx"`) {
		t.Fatalf("error %q missing unknown feature context", msg)
	}
	if !strings.Contains(msg, "available:") {
		t.Fatalf("error %q missing available features", msg)
	}
}

func TestParseFeatureRequirements_Empty(t *testing.T) {
	got, err := parseFeatureRequirements(" , ")
	if err != nil {
		t.Fatalf("parseFeatureRequirements() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %v, want none", got)
	}
}

func TestFeatureRequirementsString(t *testing.T) {
	r := featureRequirements{
		sgxfeatures.FeatureLaunchControl,
		sgxfeatures.FeatureVDSOEnterEnclave,
	}
	if got, want := r.String(), "sgx-lc,vdso-enter-enclave"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestFeatureRequirementsSet_Appends(t *testing.T) {
	var r featureRequirements
	if err := r.Set("sgx"); err != nil {
		t.Fatal(err)
	}
	if err := r.Set("sgx1,epc"); err != nil {
		t.Fatal(err)
	}
	if got, want := r.String(), "sgx,sgx1,epc"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestCheckLongDescription_UsesEnumNames(t *testing.T) {
	desc := checkLongDescription()
	if !strings.Contains(desc, "Available features:") {
		t.Fatalf("checkLongDescription() missing header: %q", desc)
	}

	for _, name := range sgxfeatures.FeatureNames() {
		if !strings.Contains(desc, name) {
			t.Fatalf("checkLongDescription() missing feature %q", name)
		}
	}
}

func TestCheckOptionsCompleteRequire(t *testing.T) {
	opts := &CheckOptions{}

	t.Run("empty input returns feature candidates", func(t *testing.T) {
		got, directive := opts.CompleteRequire(nil, nil, "")
		if len(got) == 0 {
			t.Fatal("expected non-empty candidates")
		}
		if got[0] != sgxfeatures.FeatureNames()[0] {
			t.Fatalf("first candidate = %q, want %q", got[0], sgxfeatures.FeatureNames()[0])
		}
		if directive != cobra.ShellCompDirectiveNoFileComp|cobra.ShellCompDirectiveNoSpace {
			t.Fatalf("directive = %v, want %v", directive, cobra.ShellCompDirectiveNoFileComp|cobra.ShellCompDirectiveNoSpace)
		}
	})

	t.Run("prefix filter is case-insensitive", func(t *testing.T) {
		got, _ := opts.CompleteRequire(nil, nil, "SGX-")
		if len(got) == 0 {
			t.Fatal("expected filtered candidates")
		}
		for _, c := range got {
			if !strings.HasPrefix(c, "sgx-") {
				t.Fatalf("candidate %q does not match expected prefix", c)
			}
		}
	})

	t.Run("comma-separated completion prefixes and avoids duplicates", func(t *testing.T) {
		got, _ := opts.CompleteRequire(nil, nil, "SGX1,sgx")
		if len(got) == 0 {
			t.Fatal("expected comma-separated candidates")
		}
		for _, c := range got {
			if !strings.HasPrefix(c, "SGX1,") {
				t.Fatalf("candidate %q missing expected prefix", c)
			}
			if strings.EqualFold(c, "SGX1,sgx1") {
				t.Fatalf("duplicate selected feature suggested: %q", c)
			}
		}
	})
}

func TestCheckOptionsRequirements(t *testing.T) {
	t.Run("features and epc size", func(t *testing.T) {
		opts := &CheckOptions{
			Require: featureRequirements{sgxfeatures.FeatureSGX, sgxfeatures.FeatureEPC},
			EPCSize: "64MiB",
		}
		got, err := opts.requirements()
		if err != nil {
			t.Fatalf("requirements() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("len(requirements()) = %d, want 3", len(got))
		}
		size, ok := got[2].(sgxfeatures.EPCSizeRequirement)
		if !ok || size.Bytes != 64<<20 {
			t.Fatalf("requirements()[2] = %#v, want 64 MiB", got[2])
		}
	})

	t.Run("bad size", func(t *testing.T) {
		opts := &CheckOptions{EPCSize: "lots"}
		if _, err := opts.requirements(); err == nil || !strings.Contains(err.Error(), "--epc-size") {
			t.Fatalf("requirements() error = %v, want --epc-size error", err)
		}
	})
}

func TestProbeOptionsNegativeEPCLimit(t *testing.T) {
	opts := &ProbeOptions{EPCLimit: -1}
	if _, _, err := opts.libraryOptions(); err == nil {
		t.Fatal("libraryOptions() accepted a negative --epc-limit")
	}
}

func TestFormatWrappedList(t *testing.T) {
	got := formatWrappedList([]string{"sgx", "sgx1", "sgx2", "sgx-lc"}, "  ", 14)
	for _, line := range strings.Split(got, "\n") {
		if len(line) > 14 {
			t.Errorf("line %q longer than 14 columns", line)
		}
		if line != "" && !strings.HasPrefix(line, "  ") {
			t.Errorf("line %q missing indent", line)
		}
	}
	for _, name := range []string{"sgx", "sgx1", "sgx2", "sgx-lc"} {
		if !strings.Contains(got, name) {
			t.Errorf("formatWrappedList() dropped %q", name)
		}
	}
}
