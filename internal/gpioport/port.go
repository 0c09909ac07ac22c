// Package gpioport abstracts the digital-output, PWM, and cleanup
// primitives the rest of the dispenser core needs from a GPIO
// backend. Two concrete variants are provided: a real port backed by
// github.com/warthog618/gpiod (grounded on
// aleFerri99-device-gpiod/gpio.GPIO) and a simulated port that keeps
// an in-memory map of pin state for tests and developer-machine runs.
//
// Selection happens once, at fleet-construction time; there is no
// global mutable selection.
package gpioport

// Level is a digital output level.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// Port is the capability set every GPIO backend must provide.
type Port interface {
	// ConfigureOutput prepares pin as a digital output, driven low.
	ConfigureOutput(pin int) error

	// Write drives pin to level. pin must already be configured as an
	// output.
	Write(pin int, level Level) error

	// OpenPWM opens a PWM channel on pin at frequencyHz and returns a
	// handle for controlling its duty cycle.
	OpenPWM(pin int, frequencyHz int) (PWMHandle, error)

	// ReleaseAll releases every pin and PWM channel this port has
	// claimed. Called on shutdown; must be safe to call more than
	// once.
	ReleaseAll() error
}

// PWMHandle controls one previously opened PWM channel.
type PWMHandle interface {
	// Start begins PWM output at dutyPercent (0-100).
	Start(dutyPercent int) error

	// SetDuty changes the duty cycle of a running PWM channel.
	SetDuty(dutyPercent int) error

	// Stop drives the duty cycle to 0 without releasing the
	// underlying pin.
	Stop() error

	// Close releases the PWM channel and its pin.
	Close() error
}
