package hbridge

import (
	"fmt"
	"log"
	"sync"

	"github.com/epicfatigue/cocktailcore/internal/coreerr"
	"github.com/epicfatigue/cocktailcore/internal/gpioport"
	"github.com/epicfatigue/cocktailcore/internal/topology"
)

// Channel identifies a motor channel on a controller.
type Channel = topology.Channel

const (
	A = topology.ChannelA
	B = topology.ChannelB
)

// Controller owns one dual-H-bridge chip: two channels and the
// standby line they share. Init asserts standby (chip enabled), and
// SetChannel re-asserts it if it has been deasserted; stopping
// channels never deasserts it. A caller that wants "all channels Idle
// for 50ms -> maybe standby" behavior (spec.md testable property 2)
// does so by calling StopAll and later Deassert from a higher layer —
// the fleet owns that decision per spec.md §5, not the controller.
type Controller struct {
	id     int
	pins   topology.ControllerPinout
	port   gpioport.Port

	mu          sync.Mutex
	initialized bool
	standbyLow  bool // true while standby is not asserted: before Init and after Deassert/Shutdown
	pwmA        gpioport.PWMHandle
	pwmB        gpioport.PWMHandle
	channelA    ChannelState
	channelB    ChannelState
}

// New constructs a controller bound to pins on port. Call Init before
// use.
func New(id int, pins topology.ControllerPinout, port gpioport.Port) *Controller {
	return &Controller{id: id, pins: pins, port: port, standbyLow: true}
}

// ID returns the controller's index within its fleet.
func (c *Controller) ID() int { return c.id }

// Init configures all seven pins as outputs, drives all four
// direction pins low, opens two PWM handles at DefaultFrequencyHz,
// starts both PWMs at duty 0, and asserts standby.
func (c *Controller) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}

	outputPins := []int{c.pins.AIN1, c.pins.AIN2, c.pins.BIN1, c.pins.BIN2, c.pins.PWMA, c.pins.PWMB, c.pins.STBY}
	for _, pin := range outputPins {
		if err := c.port.ConfigureOutput(pin); err != nil {
			return &coreerr.InitFailed{Pin: pin, Err: err}
		}
	}
	for _, pin := range []int{c.pins.AIN1, c.pins.AIN2, c.pins.BIN1, c.pins.BIN2} {
		if err := c.port.Write(pin, gpioport.Low); err != nil {
			return &coreerr.InitFailed{Pin: pin, Err: err}
		}
	}

	pwmA, err := c.port.OpenPWM(c.pins.PWMA, DefaultFrequencyHz)
	if err != nil {
		return &coreerr.InitFailed{Pin: c.pins.PWMA, Err: err}
	}
	pwmB, err := c.port.OpenPWM(c.pins.PWMB, DefaultFrequencyHz)
	if err != nil {
		return &coreerr.InitFailed{Pin: c.pins.PWMB, Err: err}
	}
	if err := pwmA.Start(0); err != nil {
		return &coreerr.InitFailed{Pin: c.pins.PWMA, Err: err}
	}
	if err := pwmB.Start(0); err != nil {
		return &coreerr.InitFailed{Pin: c.pins.PWMB, Err: err}
	}
	c.pwmA, c.pwmB = pwmA, pwmB

	if err := c.assertStandbyLocked(); err != nil {
		return &coreerr.InitFailed{Pin: c.pins.STBY, Err: err}
	}

	c.initialized = true
	log.Printf("hbridge: controller %d initialized", c.id)
	return nil
}

// assertStandbyLocked drives STBY high (enabling the chip) and waits
// StartupDelay before the caller drives direction pins, per spec.md
// §4.2. Caller must hold c.mu.
func (c *Controller) assertStandbyLocked() error {
	if err := c.port.Write(c.pins.STBY, gpioport.High); err != nil {
		return fmt.Errorf("hbridge: controller %d assert standby: %w", c.id, err)
	}
	c.standbyLow = false
	sleepFn(StartupDelay)
	return nil
}

// SetChannel commands one channel to run at speedPercent in
// direction. If the chip is currently in standby it is asserted
// first, with the mandated startup delay, before direction pins are
// driven.
func (c *Controller) SetChannel(ch Channel, speedPercent int, direction Direction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return fmt.Errorf("hbridge: controller %d not initialized", c.id)
	}

	if c.standbyLow {
		if err := c.assertStandbyLocked(); err != nil {
			return err
		}
	}

	duty := 0
	if direction != Stopped && speedPercent > 0 {
		duty = clampSpeed(speedPercent)
	} else {
		direction = Stopped
	}

	switch ch {
	case A:
		return c.driveChannelLocked(c.pins.AIN1, c.pins.AIN2, c.pwmA, &c.channelA, duty, direction)
	case B:
		return c.driveChannelLocked(c.pins.BIN1, c.pins.BIN2, c.pwmB, &c.channelB, duty, direction)
	default:
		return fmt.Errorf("hbridge: controller %d invalid channel %q", c.id, ch)
	}
}

// driveChannelLocked applies the ordering requirement from spec.md
// §4.2: duty goes to zero before direction pins change when stopping,
// to avoid a forward-then-reverse transient, and duty is only raised
// after direction pins are set when starting/changing direction.
// Caller must hold c.mu.
func (c *Controller) driveChannelLocked(in1, in2 int, pwm gpioport.PWMHandle, state *ChannelState, duty int, direction Direction) error {
	stopping := duty == 0

	if stopping {
		if err := pwm.SetDuty(0); err != nil {
			return fmt.Errorf("hbridge: controller %d duty: %w", c.id, err)
		}
	}

	var in1Level, in2Level gpioport.Level
	switch direction {
	case Forward:
		in1Level, in2Level = gpioport.High, gpioport.Low
	case Reverse:
		in1Level, in2Level = gpioport.Low, gpioport.High
	default:
		in1Level, in2Level = gpioport.Low, gpioport.Low
	}
	if err := c.port.Write(in1, in1Level); err != nil {
		return fmt.Errorf("hbridge: controller %d direction pin %d: %w", c.id, in1, err)
	}
	if err := c.port.Write(in2, in2Level); err != nil {
		return fmt.Errorf("hbridge: controller %d direction pin %d: %w", c.id, in2, err)
	}

	if !stopping {
		if err := pwm.SetDuty(duty); err != nil {
			return fmt.Errorf("hbridge: controller %d duty: %w", c.id, err)
		}
	}

	state.Direction = direction
	state.SpeedPercent = duty
	return nil
}

// StopChannel is equivalent to SetChannel(ch, 0, Stopped).
func (c *Controller) StopChannel(ch Channel) error {
	return c.SetChannel(ch, 0, Stopped)
}

// StopAll stops both channels. It does not itself deassert standby —
// spec.md §5 reserves that decision for the fleet, which only
// deasserts standby once every channel across every controller is
// Idle.
func (c *Controller) StopAll() error {
	if err := c.StopChannel(A); err != nil {
		return err
	}
	return c.StopChannel(B)
}

// ChannelState returns a snapshot of one channel's electrical state.
func (c *Controller) ChannelState(ch Channel) ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch == A {
		return c.channelA
	}
	return c.channelB
}

// Deassert drives standby low, placing the chip in its low-power
// state. Callers (the fleet) must first confirm both channels are
// Idle.
func (c *Controller) Deassert() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.standbyLow {
		return nil
	}
	if err := c.port.Write(c.pins.STBY, gpioport.Low); err != nil {
		return fmt.Errorf("hbridge: controller %d deassert standby: %w", c.id, err)
	}
	c.standbyLow = true
	return nil
}

// BothChannelsIdle reports whether both channels are electrically
// quiescent right now.
func (c *Controller) BothChannelsIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelA.idle() && c.channelB.idle()
}

// Shutdown stops all channels, closes both PWM handles, drives
// standby low, and releases every pin. Idempotent.
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return nil
	}

	if c.pwmA != nil {
		_ = c.pwmA.SetDuty(0)
	}
	if c.pwmB != nil {
		_ = c.pwmB.SetDuty(0)
	}
	for _, pin := range []int{c.pins.AIN1, c.pins.AIN2, c.pins.BIN1, c.pins.BIN2} {
		_ = c.port.Write(pin, gpioport.Low)
	}
	c.channelA = ChannelState{}
	c.channelB = ChannelState{}

	if c.pwmA != nil {
		_ = c.pwmA.Close()
	}
	if c.pwmB != nil {
		_ = c.pwmB.Close()
	}

	_ = c.port.Write(c.pins.STBY, gpioport.Low)
	c.standbyLow = true
	c.initialized = false

	log.Printf("hbridge: controller %d shut down", c.id)
	return nil
}

// sleepFn is indirected so tests can skip real delays.
var sleepFn = defaultSleep
