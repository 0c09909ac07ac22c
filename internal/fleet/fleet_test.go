package fleet

import (
	"errors"
	"testing"
	"time"

	"github.com/epicfatigue/cocktailcore/internal/coreerr"
	"github.com/epicfatigue/cocktailcore/internal/gpioport"
	"github.com/epicfatigue/cocktailcore/internal/hbridge"
	"github.com/epicfatigue/cocktailcore/internal/pump"
	"github.com/epicfatigue/cocktailcore/internal/topology"
)

func buildFleet(t *testing.T) (*Fleet, *hbridge.Controller) {
	t.Helper()
	port := gpioport.NewSimPort()
	pins := topology.ControllerPinout{AIN1: 5, AIN2: 6, BIN1: 13, BIN2: 19, PWMA: 12, PWMB: 18, STBY: 21}
	ctrl := hbridge.New(0, pins, port)
	if err := ctrl.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	f := New()
	f.Add(pump.New(topology.PumpBinding{
		PumpID: 1, Channel: topology.ChannelA, IngredientName: "Gin", NominalFlowRateMlS: 50,
	}, ctrl))
	f.Add(pump.New(topology.PumpBinding{
		PumpID: 2, Channel: topology.ChannelB, IngredientName: "Tonic Water", NominalFlowRateMlS: 50,
	}, ctrl))
	f.SetControllers([]*hbridge.Controller{ctrl})
	return f, ctrl
}

func TestDispenseByIngredientExactMatch(t *testing.T) {
	f, _ := buildFleet(t)
	if err := f.DispenseByIngredient("gin", 2.0, 80); err != nil {
		t.Fatalf("DispenseByIngredient: %v", err)
	}
	p, _ := f.Pump(1)
	if got := p.Snapshot().VolumeDispensedMl; got != 2.0 {
		t.Errorf("volume = %v, want 2.0", got)
	}
}

func TestDispenseByIngredientSubstringFallback(t *testing.T) {
	f, _ := buildFleet(t)
	if err := f.DispenseByIngredient("tonic", 1.0, 80); err != nil {
		t.Fatalf("DispenseByIngredient: %v", err)
	}
	p, _ := f.Pump(2)
	if got := p.Snapshot().VolumeDispensedMl; got != 1.0 {
		t.Errorf("volume = %v, want 1.0", got)
	}
}

func TestDispenseByIngredientUnknown(t *testing.T) {
	f, _ := buildFleet(t)
	err := f.DispenseByIngredient("Absinthe", 1.0, 80)
	if !errors.Is(err, coreerr.ErrUnknownIngredient) {
		t.Fatalf("err = %v, want ErrUnknownIngredient", err)
	}
}

func TestAcquireOperationRejectsSecondOwner(t *testing.T) {
	f, _ := buildFleet(t)
	token, err := f.AcquireOperation(Operation{Kind: Dispensing, Label: "recipe-1"})
	if err != nil {
		t.Fatalf("AcquireOperation: %v", err)
	}
	if _, err := f.AcquireOperation(Operation{Kind: Cleaning, Label: "quick"}); !errors.Is(err, coreerr.ErrFleetBusy) {
		t.Fatalf("err = %v, want ErrFleetBusy", err)
	}
	f.ReleaseOperation(token)
	if _, err := f.AcquireOperation(Operation{Kind: Cleaning, Label: "quick"}); err != nil {
		t.Fatalf("AcquireOperation after release: %v", err)
	}
}

func TestDispenseByIngredientRejectsWhileMarkerHeldByOther(t *testing.T) {
	f, _ := buildFleet(t)
	if _, err := f.AcquireOperation(Operation{Kind: Cleaning, Label: "quick"}); err != nil {
		t.Fatalf("AcquireOperation: %v", err)
	}

	err := f.DispenseByIngredient("gin", 1.0, 80)
	if !errors.Is(err, coreerr.ErrFleetBusy) {
		t.Fatalf("err = %v, want ErrFleetBusy", err)
	}
}

func TestDispenseByIngredientWithTokenRejectsStaleToken(t *testing.T) {
	f, _ := buildFleet(t)
	token, err := f.AcquireOperation(Operation{Kind: Dispensing, Label: "recipe-1"})
	if err != nil {
		t.Fatalf("AcquireOperation: %v", err)
	}
	f.ReleaseOperation(token)

	if err := f.DispenseByIngredientWithToken(token, "gin", 1.0, 80); !errors.Is(err, coreerr.ErrFleetBusy) {
		t.Fatalf("err = %v, want ErrFleetBusy", err)
	}
}

func TestDispenseByIngredientWithTokenSucceedsForHolder(t *testing.T) {
	f, _ := buildFleet(t)
	token, err := f.AcquireOperation(Operation{Kind: Dispensing, Label: "recipe-1"})
	if err != nil {
		t.Fatalf("AcquireOperation: %v", err)
	}
	defer f.ReleaseOperation(token)

	if err := f.DispenseByIngredientWithToken(token, "gin", 2.0, 80); err != nil {
		t.Fatalf("DispenseByIngredientWithToken: %v", err)
	}
	p, _ := f.Pump(1)
	if got := p.Snapshot().VolumeDispensedMl; got != 2.0 {
		t.Errorf("volume = %v, want 2.0", got)
	}
}

func TestEmergencyStopAbortsAndBlocksNewDispenses(t *testing.T) {
	// Start a dispense on a slow-flow pump via a fresh fleet so it has
	// time to run before we stop it.
	port := gpioport.NewSimPort()
	pins := topology.ControllerPinout{AIN1: 5, AIN2: 6, BIN1: 13, BIN2: 19, PWMA: 12, PWMB: 18, STBY: 21}
	ctrl := hbridge.New(0, pins, port)
	if err := ctrl.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	slow := fleetWithSlowPump(t, ctrl)

	done := make(chan error, 1)
	go func() { done <- slow.DispenseByIngredient("gin", 10, 80) }()
	time.Sleep(50 * time.Millisecond)

	slow.EmergencyStop()

	select {
	case err := <-done:
		var aborted *coreerr.Aborted
		if !errors.As(err, &aborted) {
			t.Fatalf("err = %v, want *coreerr.Aborted", err)
		}
	case <-time.After(time.Second):
		t.Fatal("dispense did not return after emergency stop")
	}

	if !slow.IsEmergencyStopped() {
		t.Fatal("expected emergency stop flag set")
	}
	err := slow.DispenseByIngredient("gin", 1, 80)
	if !errors.Is(err, coreerr.ErrEmergencyStopped) {
		t.Fatalf("err = %v, want ErrEmergencyStopped", err)
	}
}

func fleetWithSlowPump(t *testing.T, ctrl *hbridge.Controller) *Fleet {
	t.Helper()
	f := New()
	f.Add(pump.New(topology.PumpBinding{
		PumpID: 1, Channel: topology.ChannelA, IngredientName: "Gin", NominalFlowRateMlS: 1.0,
	}, ctrl))
	return f
}

func TestResetEmergencyRequiresQuiescence(t *testing.T) {
	f, ctrl := buildFleet(t)
	_ = ctrl
	f.EmergencyStop()

	p, _ := f.Pump(1)
	p.EmergencyStop() // belt and suspenders: already stopped, but status must be Idle
	if err := f.ResetEmergency(); err != nil {
		t.Fatalf("ResetEmergency: %v", err)
	}
	if f.IsEmergencyStopped() {
		t.Fatal("expected flag cleared")
	}
}

func TestDispenseDeassertsStandbyOnceChannelsStayIdle(t *testing.T) {
	port := gpioport.NewSimPort()
	pins := topology.ControllerPinout{AIN1: 5, AIN2: 6, BIN1: 13, BIN2: 19, PWMA: 12, PWMB: 18, STBY: 21}
	ctrl := hbridge.New(0, pins, port)
	if err := ctrl.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	f := New()
	f.Add(pump.New(topology.PumpBinding{
		PumpID: 1, Channel: topology.ChannelA, IngredientName: "Gin", NominalFlowRateMlS: 50,
	}, ctrl))
	f.SetControllers([]*hbridge.Controller{ctrl})

	if err := f.DispenseByIngredient("gin", 2.0, 80); err != nil {
		t.Fatalf("DispenseByIngredient: %v", err)
	}

	// Standby should still be asserted immediately after the dispense
	// (within StandbyIdleDelay of the channel going idle).
	if lvl := port.Level(21); lvl != gpioport.High {
		t.Errorf("stby = %v immediately after dispense, want still High", lvl)
	}

	time.Sleep(2 * hbridge.StandbyIdleDelay)
	if lvl := port.Level(21); lvl != gpioport.Low {
		t.Errorf("stby = %v after idle delay, want Low", lvl)
	}
}

func TestSnapshotListsAvailableIngredients(t *testing.T) {
	f, _ := buildFleet(t)
	snap := f.Snapshot()
	if len(snap.Pumps) != 2 {
		t.Fatalf("len(Pumps) = %d, want 2", len(snap.Pumps))
	}
	if len(snap.AvailableIngredients) != 2 {
		t.Fatalf("len(AvailableIngredients) = %d, want 2", len(snap.AvailableIngredients))
	}
}
