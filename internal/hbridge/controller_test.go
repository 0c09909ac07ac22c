package hbridge

import (
	"testing"
	"time"

	"github.com/epicfatigue/cocktailcore/internal/gpioport"
	"github.com/epicfatigue/cocktailcore/internal/topology"
)

func init() {
	sleepFn = func(time.Duration) {}
}

func testPinout() topology.ControllerPinout {
	return topology.ControllerPinout{
		AIN1: 5, AIN2: 6, BIN1: 13, BIN2: 19, PWMA: 12, PWMB: 18, STBY: 21,
	}
}

func TestInitDrivesDirectionPinsLowAndAssertsStandby(t *testing.T) {
	port := gpioport.NewSimPort()
	c := New(0, testPinout(), port)

	if err := c.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	for _, pin := range []int{5, 6, 13, 19} {
		if lvl := port.Level(pin); lvl != gpioport.Low {
			t.Errorf("pin %d = %v, want Low", pin, lvl)
		}
	}
	if lvl := port.Level(21); lvl != gpioport.High {
		t.Errorf("stby = %v, want High", lvl)
	}
	if d := port.Duty(12); d != 0 {
		t.Errorf("pwmA duty = %d, want 0", d)
	}
}

func TestSetChannelForwardDrivesExpectedPins(t *testing.T) {
	port := gpioport.NewSimPort()
	c := New(0, testPinout(), port)
	if err := c.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := c.SetChannel(A, 80, Forward); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}

	if lvl := port.Level(5); lvl != gpioport.High {
		t.Errorf("ain1 = %v, want High", lvl)
	}
	if lvl := port.Level(6); lvl != gpioport.Low {
		t.Errorf("ain2 = %v, want Low", lvl)
	}
	if d := port.Duty(12); d != 80 {
		t.Errorf("pwma duty = %d, want 80", d)
	}

	state := c.ChannelState(A)
	if state.Direction != Forward || state.SpeedPercent != 80 {
		t.Errorf("channel state = %+v, want Forward/80", state)
	}
}

func TestSetChannelClampsBelowMinDuty(t *testing.T) {
	port := gpioport.NewSimPort()
	c := New(0, testPinout(), port)
	if err := c.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := c.SetChannel(A, 5, Forward); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}
	if d := port.Duty(12); d != MinDutyPercent {
		t.Errorf("duty = %d, want clamped to %d", d, MinDutyPercent)
	}
}

func TestStopChannelZeroesDutyAndDirection(t *testing.T) {
	port := gpioport.NewSimPort()
	c := New(0, testPinout(), port)
	if err := c.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := c.SetChannel(A, 90, Reverse); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}

	if err := c.StopChannel(A); err != nil {
		t.Fatalf("StopChannel: %v", err)
	}

	if d := port.Duty(12); d != 0 {
		t.Errorf("duty = %d, want 0", d)
	}
	if lvl := port.Level(5); lvl != gpioport.Low {
		t.Errorf("ain1 = %v, want Low", lvl)
	}
	if lvl := port.Level(6); lvl != gpioport.Low {
		t.Errorf("ain2 = %v, want Low", lvl)
	}
	if !c.ChannelState(A).idle() {
		t.Errorf("channel state not idle after stop")
	}
}

func TestShutdownIsIdempotentAndDeassertsStandby(t *testing.T) {
	port := gpioport.NewSimPort()
	c := New(0, testPinout(), port)
	if err := c.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := c.SetChannel(A, 80, Forward); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}

	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if lvl := port.Level(21); lvl != gpioport.Low {
		t.Errorf("stby = %v, want Low after shutdown", lvl)
	}
	if err := c.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestBothChannelsIdleReflectsElectricalState(t *testing.T) {
	port := gpioport.NewSimPort()
	c := New(0, testPinout(), port)
	if err := c.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !c.BothChannelsIdle() {
		t.Fatalf("expected both channels idle right after Init")
	}
	if err := c.SetChannel(B, 80, Forward); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}
	if c.BothChannelsIdle() {
		t.Fatalf("expected channel B reported as active")
	}
}
