package topology

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a HardwareTopology document from path.
func Load(path string) (*HardwareTopology, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("topology: read %s: %w", path, err)
	}
	var t HardwareTopology
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("topology: parse %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Dump serializes t back to YAML, for the round-trip property in
// spec.md §8 invariant 8 (byte-identical modulo whitespace when
// calibration factors are unchanged).
func Dump(t *HardwareTopology) ([]byte, error) {
	return yaml.Marshal(t)
}

// CalibrationOverrides is the small persisted document that survives
// restart: pump id -> calibration factor. Kept separate from the
// build-time topology document so recalibration never rewrites the
// pin assignments, mirroring cocktail_manager.py's separate
// favorites/history documents alongside the static hardware config.
type CalibrationOverrides map[int]float64

// LoadCalibrationOverrides reads the persisted calibration-factor
// document. A missing file is not an error: it means no pump has ever
// been recalibrated.
func LoadCalibrationOverrides(path string) (CalibrationOverrides, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return CalibrationOverrides{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("topology: read calibration overrides %s: %w", path, err)
	}
	var overrides CalibrationOverrides
	if err := yaml.Unmarshal(b, &overrides); err != nil {
		return nil, fmt.Errorf("topology: parse calibration overrides %s: %w", path, err)
	}
	return overrides, nil
}

// SaveCalibrationOverrides persists overrides to path using an
// atomic-replace write: write to a sibling .tmp file, then rename
// over the target, matching cocktail_manager.py's save_database and
// cleaning_system.py's _save_history.
func SaveCalibrationOverrides(path string, overrides CalibrationOverrides) error {
	b, err := yaml.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("topology: marshal calibration overrides: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".calibration-*.tmp")
	if err != nil {
		return fmt.Errorf("topology: create temp calibration file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("topology: write temp calibration file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("topology: close temp calibration file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("topology: replace calibration file %s: %w", path, err)
	}
	return nil
}

// ApplyCalibrationOverrides overwrites each pump binding's
// CalibrationFactor with the persisted value, when present.
func ApplyCalibrationOverrides(t *HardwareTopology, overrides CalibrationOverrides) {
	for i := range t.Pumps {
		if factor, ok := overrides[t.Pumps[i].PumpID]; ok {
			t.Pumps[i].CalibrationFactor = factor
		}
	}
}
