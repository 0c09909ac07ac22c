// Package coreerr defines the stable error taxonomy shared across the
// dispenser core (motor driver, pump fleet, recipe executor, cleaning
// controller). Callers use errors.Is/errors.As against the sentinels
// below rather than matching on message text.
package coreerr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig signals a topology validation failure. Fatal; the
	// process refuses to start.
	ErrConfig = errors.New("config error")

	// ErrHardwareFault signals a GPIO or PWM primitive reported
	// failure. The affected pump transitions to Error and is not
	// auto-recovered.
	ErrHardwareFault = errors.New("hardware fault")

	// ErrEmergencyStopped signals an operation attempted while the
	// fleet emergency-stop flag is set.
	ErrEmergencyStopped = errors.New("emergency stopped")

	// ErrFleetBusy signals a second concurrent operation attempted
	// against the fleet.
	ErrFleetBusy = errors.New("fleet busy")

	// ErrUnknownIngredient signals no pump binds the requested
	// ingredient.
	ErrUnknownIngredient = errors.New("unknown ingredient")

	// ErrVolumeTooLarge signals a requested dispense volume would run
	// longer than MaxPourTimeS.
	ErrVolumeTooLarge = errors.New("volume too large")

	// ErrVolumeNonPositive signals a requested dispense volume is not
	// strictly positive.
	ErrVolumeNonPositive = errors.New("volume non-positive")

	// ErrUnsatisfiableRecipe signals a recipe cannot be executed with
	// the pumps currently bound.
	ErrUnsatisfiableRecipe = errors.New("unsatisfiable recipe")

	// ErrAborted signals a dispense terminated early (emergency stop
	// or cancellation).
	ErrAborted = errors.New("aborted")

	// ErrCancelled signals a recipe or cleaning cycle stopped by the
	// caller or by an emergency stop.
	ErrCancelled = errors.New("cancelled")

	// ErrInvalidMeasurement signals a calibration call with a
	// non-positive measured volume.
	ErrInvalidMeasurement = errors.New("invalid measurement")

	// ErrOutOfBounds signals a calibration factor outside [0.5, 2.0].
	ErrOutOfBounds = errors.New("calibration factor out of bounds")

	// ErrNotQuiesced signals reset_emergency was called while a pump
	// was not Idle.
	ErrNotQuiesced = errors.New("fleet not quiesced")

	// ErrPumpNotIdle signals a dispense was requested against a pump
	// that is not Idle.
	ErrPumpNotIdle = errors.New("pump not idle")

	// ErrPumpDisabled signals a dispense was requested against a pump
	// that has been administratively disabled.
	ErrPumpDisabled = errors.New("pump disabled")
)

// Aborted carries the partial-dispense metadata for an early-terminated
// dispense (emergency stop or per-operation cancel).
type Aborted struct {
	DispensedMl float64
}

func (a *Aborted) Error() string {
	return fmt.Sprintf("%s: dispensed %.3fml before stopping", ErrAborted, a.DispensedMl)
}

func (a *Aborted) Unwrap() error { return ErrAborted }

// UnsatisfiableRecipe carries the list of ingredients with no bound,
// enabled pump.
type UnsatisfiableRecipe struct {
	Missing []string
}

func (u *UnsatisfiableRecipe) Error() string {
	return fmt.Sprintf("%s: missing %v", ErrUnsatisfiableRecipe, u.Missing)
}

func (u *UnsatisfiableRecipe) Unwrap() error { return ErrUnsatisfiableRecipe }

// Cancelled carries the ingredients that had already been dispensed
// (fully or partially) by the time a recipe execution was cancelled.
type Cancelled struct {
	Completed []string
}

func (c *Cancelled) Error() string {
	return fmt.Sprintf("%s: completed %v before stopping", ErrCancelled, c.Completed)
}

func (c *Cancelled) Unwrap() error { return ErrCancelled }

// InitFailed signals a controller initialization failure on a specific
// GPIO pin number.
type InitFailed struct {
	Pin int
	Err error
}

func (e *InitFailed) Error() string {
	return fmt.Sprintf("%s: init failed on pin %d: %v", ErrHardwareFault, e.Pin, e.Err)
}

func (e *InitFailed) Unwrap() error { return ErrHardwareFault }
