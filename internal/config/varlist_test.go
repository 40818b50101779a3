package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseVariables_FlattensGroupsInOrder(t *testing.T) {
	raw := []byte(`
variables:
  - L:A32NX_PARK_BRAKE_LEVER_POS
groups:
  gear:
    - L:A32NX_GEAR_LEVER_POSITION_REQUEST
    - L:A32NX_PARK_BRAKE_LEVER_POS
  autopilot:
    - L:A32NX_AUTOPILOT_1_ACTIVE
    - "  "
  electrics:
    - L:A32NX_ELEC_AC_1_BUS_IS_POWERED
`)

	names, err := ParseVariables(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		"L:A32NX_PARK_BRAKE_LEVER_POS",
		"L:A32NX_GEAR_LEVER_POSITION_REQUEST",
		"L:A32NX_AUTOPILOT_1_ACTIVE",
		"L:A32NX_ELEC_AC_1_BUS_IS_POWERED",
	}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("expected %v, got %v", want, names)
	}
}

func TestParseVariables_Malformed(t *testing.T) {
	if _, err := ParseVariables([]byte("variables: [unterminated")); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadVariables_MissingFile(t *testing.T) {
	if _, err := LoadVariables("/nonexistent/vars.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestUseVariablesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vars.yaml")
	if err := os.WriteFile(path, []byte("variables:\n  - L:A32NX_TRANSPONDER_MODE\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{Variables: DefaultVariables}
	if err := cfg.UseVariablesFile(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Variables) != 1 || cfg.Poll.VariablesFile != path {
		t.Errorf("expected variables from %s, got %v", path, cfg.Variables)
	}

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(empty, []byte("variables: []\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := cfg.UseVariablesFile(empty); err == nil {
		t.Error("expected error for empty variable list")
	}
}
