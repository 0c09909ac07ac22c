// Package hbridge drives one dual-H-bridge chip (TB6612FNG-style):
// two motor channels sharing a standby line and, per channel, a PWM
// duty-cycle signal. Grounded on tb6612_controller.py's
// TB6612Controller, reworked around the gpioport.Port abstraction in
// place of RPi.GPIO / the mock shim the source falls back to.
package hbridge

import "time"

// defaultSleep is the real-time implementation of sleepFn (see
// controller.go); tests substitute a no-op to avoid paying
// StartupDelay on every assertion.
func defaultSleep(d time.Duration) {
	time.Sleep(d)
}

// Direction is a motor channel's commanded direction.
type Direction string

const (
	Forward Direction = "forward"
	Reverse Direction = "reverse"
	Stopped Direction = "stopped"
)

// Tuning constants from spec.md §4.2/§4.3.
const (
	DefaultFrequencyHz  = 1000
	StartupDelay        = 100 * time.Millisecond
	MinDutyPercent      = 30
	DefaultSpeedPercent = 100

	// StandbyIdleDelay is how long every channel of every controller
	// in the fleet must stay electrically idle before the fleet
	// deasserts standby (spec.md §5, testable property 2).
	StandbyIdleDelay = 60 * time.Millisecond
)

// ChannelState is the electrical state of one motor channel: the
// commanded direction and duty cycle actually being driven. This is
// the L1 view; the pump-level status enum (Idle/Pumping/Error/...)
// lives one layer up in package pump.
type ChannelState struct {
	Direction    Direction
	SpeedPercent int
}

// idle reports whether the channel is electrically quiescent:
// both direction pins low and duty zero (spec.md invariant P2).
func (c ChannelState) idle() bool {
	return c.Direction == Stopped && c.SpeedPercent == 0
}

func clampSpeed(speed int) int {
	if speed <= 0 {
		return 0
	}
	if speed > 100 {
		speed = 100
	}
	if speed < MinDutyPercent {
		speed = MinDutyPercent
	}
	return speed
}
