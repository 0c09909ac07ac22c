package topology

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadParsesAndValidatesDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.yaml")
	doc := `
controllers:
  - ain1: 5
    ain2: 6
    bin1: 13
    bin2: 19
    pwma: 12
    pwmb: 18
    stby: 21
pumps:
  - pump_id: 1
    controller_index: 0
    channel: "A"
    ingredient_name: Gin
    nominal_flow_rate_ml_s: 10
    calibration_factor: 1.0
  - pump_id: 2
    controller_index: 0
    channel: "B"
    ingredient_name: Tonic
    nominal_flow_rate_ml_s: 10
    calibration_factor: 1.0
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	topo, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(topo.Controllers) != 1 || len(topo.Pumps) != 2 {
		t.Fatalf("topo = %+v, want 1 controller and 2 pumps", topo)
	}
}

func TestLoadRejectsInvalidTopology(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.yaml")
	doc := `
controllers:
  - ain1: 5
    ain2: 6
    bin1: 13
    bin2: 19
    pwma: 12
    pwmb: 18
    stby: 21
pumps:
  - pump_id: 1
    controller_index: 0
    channel: "A"
    ingredient_name: Gin
    nominal_flow_rate_ml_s: 10
    calibration_factor: 1.0
  - pump_id: 1
    controller_index: 0
    channel: "B"
    ingredient_name: Tonic
    nominal_flow_rate_ml_s: 10
    calibration_factor: 1.0
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load succeeded on topology with duplicate pump ids, want error")
	}
}

func TestDumpRoundTripsThroughLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.yaml")
	topo := validTopology()

	b, err := Dump(&topo)
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write dump: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load reloaded: %v", err)
	}
	if len(reloaded.Pumps) != len(topo.Pumps) || reloaded.Pumps[0].IngredientName != topo.Pumps[0].IngredientName {
		t.Fatalf("reloaded = %+v, want match of original %+v", reloaded, topo)
	}
}

func TestLoadCalibrationOverridesMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calibration.yaml")

	overrides, err := LoadCalibrationOverrides(path)
	if err != nil {
		t.Fatalf("LoadCalibrationOverrides: %v", err)
	}
	if len(overrides) != 0 {
		t.Fatalf("overrides = %+v, want empty", overrides)
	}
}

func TestSaveAndLoadCalibrationOverridesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calibration.yaml")

	want := CalibrationOverrides{1: 1.25, 2: 0.9}
	if err := SaveCalibrationOverrides(path, want); err != nil {
		t.Fatalf("SaveCalibrationOverrides: %v", err)
	}

	got, err := LoadCalibrationOverrides(path)
	if err != nil {
		t.Fatalf("LoadCalibrationOverrides: %v", err)
	}
	if got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("got = %+v, want %+v", got, want)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("leftover temp file %s after atomic replace", e.Name())
		}
	}
}

func TestApplyCalibrationOverridesUpdatesMatchingPumpsOnly(t *testing.T) {
	topo := validTopology()
	overrides := CalibrationOverrides{1: 1.5}

	ApplyCalibrationOverrides(&topo, overrides)

	if topo.Pumps[0].CalibrationFactor != 1.5 {
		t.Errorf("pump 1 calibration = %v, want 1.5", topo.Pumps[0].CalibrationFactor)
	}
	if topo.Pumps[1].CalibrationFactor != 1.0 {
		t.Errorf("pump 2 calibration = %v, want unchanged 1.0", topo.Pumps[1].CalibrationFactor)
	}
}
