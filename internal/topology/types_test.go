package topology

import (
	"errors"
	"testing"

	"github.com/epicfatigue/cocktailcore/internal/coreerr"
)

func validTopology() HardwareTopology {
	return HardwareTopology{
		Controllers: []ControllerPinout{
			{AIN1: 5, AIN2: 6, BIN1: 13, BIN2: 19, PWMA: 12, PWMB: 18, STBY: 21},
		},
		Pumps: []PumpBinding{
			{PumpID: 1, ControllerIndex: 0, Channel: ChannelA, IngredientName: "Gin", NominalFlowRateMlS: 10, CalibrationFactor: 1.0},
			{PumpID: 2, ControllerIndex: 0, Channel: ChannelB, IngredientName: "Tonic", NominalFlowRateMlS: 10, CalibrationFactor: 1.0},
		},
	}
}

func TestValidateAcceptsWellFormedTopology(t *testing.T) {
	topo := validTopology()
	if err := topo.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsDuplicateDirectionPins(t *testing.T) {
	topo := validTopology()
	topo.Controllers = append(topo.Controllers, topo.Controllers[0])

	err := topo.Validate()
	if !errors.Is(err, coreerr.ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}

func TestValidateRejectsChannelCollision(t *testing.T) {
	topo := validTopology()
	topo.Pumps[1].Channel = ChannelA

	err := topo.Validate()
	if !errors.Is(err, coreerr.ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}

func TestValidateRejectsDuplicatePumpID(t *testing.T) {
	topo := validTopology()
	topo.Pumps[1].PumpID = topo.Pumps[0].PumpID

	err := topo.Validate()
	if !errors.Is(err, coreerr.ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}

func TestValidateRejectsDuplicateIngredientCaseInsensitive(t *testing.T) {
	topo := validTopology()
	topo.Pumps[1].IngredientName = "GIN"

	err := topo.Validate()
	if !errors.Is(err, coreerr.ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}

func TestValidateRejectsOutOfRangeControllerIndex(t *testing.T) {
	topo := validTopology()
	topo.Pumps[0].ControllerIndex = 5

	err := topo.Validate()
	if !errors.Is(err, coreerr.ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}

func TestSortedPumpsOrdersByPumpID(t *testing.T) {
	topo := validTopology()
	topo.Pumps[0], topo.Pumps[1] = topo.Pumps[1], topo.Pumps[0]

	sorted := topo.SortedPumps()
	if sorted[0].PumpID != 1 || sorted[1].PumpID != 2 {
		t.Fatalf("sorted order = %+v, want [1 2]", sorted)
	}
}

func TestEffectiveFlowRateScalesByCalibration(t *testing.T) {
	b := PumpBinding{NominalFlowRateMlS: 10, CalibrationFactor: 1.5}
	if got := b.EffectiveFlowRate(); got != 15 {
		t.Errorf("EffectiveFlowRate = %v, want 15", got)
	}
}
