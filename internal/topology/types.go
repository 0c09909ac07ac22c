// Package topology loads and validates the build-time hardware
// description: the ordered sequence of H-bridge controllers and the
// pump bindings that sit on their channels. Grounded on
// hardware_config.py's TB6612FNGConfig/PumpConfig dataclasses and
// HardwareValidator.
package topology

import (
	"fmt"
	"sort"
	"strings"

	"github.com/epicfatigue/cocktailcore/internal/coreerr"
)

// Channel identifies one of the two motor channels on a controller.
type Channel string

const (
	ChannelA Channel = "A"
	ChannelB Channel = "B"
)

// ControllerPinout is the seven pin numbers wired to one TB6612FNG-
// style dual H-bridge chip.
type ControllerPinout struct {
	AIN1 int `yaml:"ain1"`
	AIN2 int `yaml:"ain2"`
	BIN1 int `yaml:"bin1"`
	BIN2 int `yaml:"bin2"`
	PWMA int `yaml:"pwma"`
	PWMB int `yaml:"pwmb"`
	STBY int `yaml:"stby"`
}

func (c ControllerPinout) directionPins() [4]int {
	return [4]int{c.AIN1, c.AIN2, c.BIN1, c.BIN2}
}

// PumpBinding binds one ingredient identity and flow calibration to a
// controller channel.
type PumpBinding struct {
	PumpID              int     `yaml:"pump_id"`
	ControllerIndex     int     `yaml:"controller_index"`
	Channel             Channel `yaml:"channel"`
	IngredientName      string  `yaml:"ingredient_name"`
	NominalFlowRateMlS  float64 `yaml:"nominal_flow_rate_ml_s"`
	CalibrationFactor   float64 `yaml:"calibration_factor"`
	ReservoirCapacityMl float64 `yaml:"reservoir_capacity_ml"`
}

// EffectiveFlowRate is nominal flow rate scaled by calibration.
func (p PumpBinding) EffectiveFlowRate() float64 {
	return p.NominalFlowRateMlS * p.CalibrationFactor
}

// HardwareTopology is the build-time constant description of the
// physical machine: an ordered sequence of controllers and pumps.
type HardwareTopology struct {
	Controllers []ControllerPinout `yaml:"controllers"`
	Pumps       []PumpBinding      `yaml:"pumps"`
}

// Validate enforces invariants H1-H3 from spec.md §3.
func (t *HardwareTopology) Validate() error {
	if err := t.validateDirectionPins(); err != nil {
		return err
	}
	if err := t.validateChannelCollisions(); err != nil {
		return err
	}
	if err := t.validatePumpIdentities(); err != nil {
		return err
	}
	return nil
}

// validateDirectionPins enforces H1: direction pins are pairwise
// distinct across all controllers. PWM and standby pins may repeat.
func (t *HardwareTopology) validateDirectionPins() error {
	seen := make(map[int]int) // pin -> controller index that claimed it first
	for i, c := range t.Controllers {
		for _, pin := range c.directionPins() {
			if owner, ok := seen[pin]; ok {
				return fmt.Errorf("%w: direction pin %d used by controllers %d and %d",
					coreerr.ErrConfig, pin, owner, i)
			}
			seen[pin] = i
		}
	}
	return nil
}

// validateChannelCollisions enforces H2: each (controller_index,
// channel) pair is bound by at most one pump.
func (t *HardwareTopology) validateChannelCollisions() error {
	type key struct {
		controller int
		channel    Channel
	}
	seen := make(map[key]int)
	for i, p := range t.Pumps {
		if p.ControllerIndex < 0 || p.ControllerIndex >= len(t.Controllers) {
			return fmt.Errorf("%w: pump %d references controller index %d out of range",
				coreerr.ErrConfig, p.PumpID, p.ControllerIndex)
		}
		if p.Channel != ChannelA && p.Channel != ChannelB {
			return fmt.Errorf("%w: pump %d has invalid channel %q", coreerr.ErrConfig, p.PumpID, p.Channel)
		}
		k := key{p.ControllerIndex, p.Channel}
		if owner, ok := seen[k]; ok {
			return fmt.Errorf("%w: controller %d channel %s bound by pumps %d and %d",
				coreerr.ErrConfig, p.ControllerIndex, p.Channel, t.Pumps[owner].PumpID, p.PumpID)
		}
		seen[k] = i
	}
	return nil
}

// validatePumpIdentities enforces H3: pump ids are unique and
// ingredient names are unique case-insensitively.
func (t *HardwareTopology) validatePumpIdentities() error {
	ids := make(map[int]bool)
	names := make(map[string]int)
	for i, p := range t.Pumps {
		if ids[p.PumpID] {
			return fmt.Errorf("%w: duplicate pump id %d", coreerr.ErrConfig, p.PumpID)
		}
		ids[p.PumpID] = true

		lower := strings.ToLower(p.IngredientName)
		if owner, ok := names[lower]; ok {
			return fmt.Errorf("%w: ingredient %q bound by pumps %d and %d",
				coreerr.ErrConfig, p.IngredientName, t.Pumps[owner].PumpID, p.PumpID)
		}
		names[lower] = i
	}
	return nil
}

// SortedPumps returns pumps ordered by pump id, for deterministic
// iteration (construction order, logging, snapshots).
func (t *HardwareTopology) SortedPumps() []PumpBinding {
	out := make([]PumpBinding, len(t.Pumps))
	copy(out, t.Pumps)
	sort.Slice(out, func(i, j int) bool { return out[i].PumpID < out[j].PumpID })
	return out
}
