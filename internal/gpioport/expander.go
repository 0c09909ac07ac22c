package gpioport

import (
	"fmt"
	"log"
	"sync"

	"github.com/reef-pi/rpi/i2c"

	"github.com/epicfatigue/cocktailcore/internal/expander/pcf8575"
)

// expanderBase is the first pin number routed to an I2C expander chip
// rather than an on-board GPIO line (spec.md §6: "range [0, 27] for
// on-board pins plus an optional expander range >= 100").
const expanderBase = 100

// ExpanderPort extends a real or simulated on-board Port with a bank
// of PCF8575 16-bit I2C GPIO expander pins (numbers expanderBase..
// expanderBase+15), adapted from the teacher pack's pcf8575 driver:
// the shadow-latch + mutex pattern is kept, but it drives this
// package's Port contract instead of reef-pi's hal.DigitalOutputPin.
//
// The PCF8575 has no PWM capability, so OpenPWM on an expander pin is
// rejected — expander pins only ever carry the TB6612's digital
// direction lines, never the PWM or standby rails.
type ExpanderPort struct {
	onboard Port

	mu     sync.Mutex
	chip   *pcf8575.PCF8575
	shadow uint16
	debug  bool
}

// NewExpanderPort wraps onboard with a PCF8575 at the given I2C
// address on bus. onboard handles pin numbers below expanderBase;
// this wrapper handles expanderBase..expanderBase+15.
func NewExpanderPort(onboard Port, addr byte, bus i2c.Bus, debug bool) (*ExpanderPort, error) {
	chip := pcf8575.New(addr, bus)
	e := &ExpanderPort{
		onboard: onboard,
		chip:    chip,
		shadow:  0xFFFF, // safe default: all pins released/high
		debug:   debug,
	}
	if err := chip.Write16(e.shadow); err != nil {
		return nil, fmt.Errorf("gpioport: expander addr=0x%02X init failed: %w", addr, err)
	}
	return e, nil
}

func (e *ExpanderPort) isExpanderPin(pin int) bool {
	return pin >= expanderBase && pin < expanderBase+16
}

func (e *ExpanderPort) ConfigureOutput(pin int) error {
	if !e.isExpanderPin(pin) {
		return e.onboard.ConfigureOutput(pin)
	}
	// Driving a pin low is the PCF8575's "output" behavior; the
	// configure step just establishes the safe initial state.
	return e.setBit(pin-expanderBase, false)
}

func (e *ExpanderPort) Write(pin int, level Level) error {
	if !e.isExpanderPin(pin) {
		return e.onboard.Write(pin, level)
	}
	// bit=1 => released/high, bit=0 => driven low (teacher pcf8575
	// hal.go writePin semantics, invert=false).
	return e.setBit(pin-expanderBase, level == High)
}

func (e *ExpanderPort) setBit(bit int, released bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	mask := uint16(1 << bit)
	prev := e.shadow
	if released {
		e.shadow |= mask
	} else {
		e.shadow &^= mask
	}

	if e.debug {
		log.Printf("gpioport: expander bit=%d released=%v shadow 0x%04X -> 0x%04X", bit, released, prev, e.shadow)
	}

	if err := e.chip.Write16(e.shadow); err != nil {
		e.shadow = prev
		return fmt.Errorf("gpioport: expander write bit %d: %w", bit, err)
	}
	return nil
}

func (e *ExpanderPort) OpenPWM(pin int, frequencyHz int) (PWMHandle, error) {
	if !e.isExpanderPin(pin) {
		return e.onboard.OpenPWM(pin, frequencyHz)
	}
	return nil, fmt.Errorf("gpioport: expander pin %d has no PWM capability", pin)
}

func (e *ExpanderPort) ReleaseAll() error {
	e.mu.Lock()
	e.shadow = 0xFFFF
	err := e.chip.ReleaseAll()
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("gpioport: expander release all: %w", err)
	}
	return e.onboard.ReleaseAll()
}
