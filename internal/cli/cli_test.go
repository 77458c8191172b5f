package cli

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestRootCommandTree(t *testing.T) {
	root := Root()
	if root.Use != "drainit" {
		t.Errorf("root.Use = %q, want %q", root.Use, "drainit")
	}
	want := map[string]bool{"ingest": false, "rainfall-config": false, "capacity": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; !ok {
			t.Errorf("unexpected subcommand %q", c.Name())
			continue
		}
		want[c.Name()] = true
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestIngestCmdFlags(t *testing.T) {
	root := Root()
	var ingest *cobra.Command
	for _, c := range root.Commands() {
		if c.Name() == "ingest" {
			ingest = c
		}
	}
	if ingest == nil {
		t.Fatal("ingest subcommand not found")
	}
	for _, name := range []string{"source", "output"} {
		if ingest.Flags().Lookup(name) == nil {
			t.Errorf("ingest command missing flag %q", name)
		}
	}
}

func TestRainfallConfigCmdFlags(t *testing.T) {
	root := Root()
	for _, c := range root.Commands() {
		if c.Name() != "rainfall-config" {
			continue
		}
		for _, name := range []string{"root", "output", "frequencies"} {
			if c.Flags().Lookup(name) == nil {
				t.Errorf("rainfall-config command missing flag %q", name)
			}
		}
		freqFlag := c.Flags().Lookup("frequencies")
		if freqFlag != nil && freqFlag.DefValue == "" {
			t.Error("frequencies flag has no default value")
		}
	}
}

func TestCapacityCmdFlags(t *testing.T) {
	root := Root()
	for _, c := range root.Commands() {
		if c.Name() != "capacity" {
			continue
		}
		for _, name := range []string{
			"points", "flowdir", "slope", "flowlen", "curvenumber",
			"precip-config", "output-points", "output-sheds",
			"sheds-simplify", "workers",
		} {
			if c.Flags().Lookup(name) == nil {
				t.Errorf("capacity command missing flag %q", name)
			}
		}
	}
}
