package alignment

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// savedAlignment is the on-disk YAML form of an Offset, tagged with the
// mount mode it was computed for so a saved alt-az alignment is never
// applied to an equatorial session.
type savedAlignment struct {
	MountMode   string             `yaml:"mount_mode"`
	Calibration map[string]float64 `yaml:"calibration"`
}

// axis key names per mount mode.
func axisKeys(mountMode string) (string, string) {
	if mountMode == "eq" {
		return "ra", "dec"
	}
	return "azm", "alt"
}

// SaveFile writes the offset to path as YAML.
func SaveFile(path string, o Offset, mountMode string) error {
	k1, k2 := axisKeys(mountMode)
	data, err := yaml.Marshal(savedAlignment{
		MountMode:   mountMode,
		Calibration: map[string]float64{k1: o.A1, k2: o.A2},
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadFile reads an offset saved by SaveFile, verifying the mount mode
// matches.
func LoadFile(path, mountMode string) (Offset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Offset{}, err
	}
	var saved savedAlignment
	if err := yaml.Unmarshal(data, &saved); err != nil {
		return Offset{}, fmt.Errorf("%s: %w", path, err)
	}
	if saved.MountMode != mountMode {
		return Offset{}, fmt.Errorf("%s: alignment saved for mount mode %q, want %q",
			path, saved.MountMode, mountMode)
	}
	k1, k2 := axisKeys(mountMode)
	a1, ok1 := saved.Calibration[k1]
	a2, ok2 := saved.Calibration[k2]
	if !ok1 || !ok2 {
		return Offset{}, fmt.Errorf("%s: missing calibration keys %s/%s", path, k1, k2)
	}
	return Offset{A1: a1, A2: a2}, nil
}
