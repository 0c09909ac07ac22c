// Package pump binds one hardware channel to an ingredient identity
// and a calibrated flow rate. Grounded on pumps.py's Pump/TB6612Controller
// pairing, reworked around the hbridge.Controller abstraction in place
// of a per-pump RPi.GPIO/PWM instance.
package pump

import (
	"fmt"
	"sync"
	"time"

	"github.com/reef-pi/hal"

	"github.com/epicfatigue/cocktailcore/internal/coreerr"
	"github.com/epicfatigue/cocktailcore/internal/hbridge"
	"github.com/epicfatigue/cocktailcore/internal/topology"
)

// Status mirrors pumps.py's PumpStatus enum.
type Status string

const (
	Idle        Status = "idle"
	Pumping     Status = "pumping"
	Error       Status = "error"
	Disabled    Status = "disabled"
	Calibrating Status = "calibrating"
)

// Tuning constants from spec.md §4.3.
const (
	DefaultSpeedPercent  = hbridge.DefaultSpeedPercent
	MaxPourTimeS         = 60.0
	MinCalibrationFactor = 0.5
	MaxCalibrationFactor = 2.0
)

// State is a read-only snapshot of a pump's runtime state, safe to
// hand to a UI or telemetry consumer without holding any lock.
type State struct {
	PumpID             int
	Ingredient         string
	Status             Status
	Direction          hbridge.Direction
	SpeedPercent       int
	VolumeDispensedMl  float64
	TotalRuntimeS      float64
	CalibrationFactor  float64
	Enabled            bool
	OperationStartedAt time.Time // zero unless Status == Pumping
}

// Pump wraps one controller channel with an ingredient identity,
// calibration factor, and runtime counters. All mutation goes through
// mu; the long dispense wait is performed without holding it, per the
// concurrency contract that governs the fleet above it.
type Pump struct {
	binding    topology.PumpBinding
	controller *hbridge.Controller
	channel    topology.Channel

	mu                sync.Mutex
	status            Status
	direction         hbridge.Direction
	speedPercent      int
	volumeDispensedMl float64
	totalRuntimeS     float64
	calibrationFactor float64
	enabled           bool
	startedAt         time.Time

	// stopRequested is polled from the dispense wait loop; it is the
	// mechanism behind both emergency_stop and Cancel.
	stopRequested chan struct{}
}

// New constructs a Pump bound to one channel of controller. The
// pump starts Idle and enabled. A binding with no calibration factor
// (zero or negative) starts at a factor of 1.0.
func New(binding topology.PumpBinding, controller *hbridge.Controller) *Pump {
	factor := binding.CalibrationFactor
	if factor <= 0 {
		factor = 1.0
	}
	return &Pump{
		binding:           binding,
		controller:        controller,
		channel:           binding.Channel,
		status:            Idle,
		direction:         hbridge.Stopped,
		calibrationFactor: factor,
		enabled:           true,
	}
}

// ID returns the pump's configured identity.
func (p *Pump) ID() int { return p.binding.PumpID }

// Ingredient returns the ingredient name this pump is bound to.
func (p *Pump) Ingredient() string { return p.binding.IngredientName }

// Snapshot returns a consistent copy of the pump's current state.
func (p *Pump) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return State{
		PumpID:            p.binding.PumpID,
		Ingredient:        p.binding.IngredientName,
		Status:            p.status,
		Direction:         p.direction,
		SpeedPercent:      p.speedPercent,
		VolumeDispensedMl: p.volumeDispensedMl,
		TotalRuntimeS:     p.totalRuntimeS,
		CalibrationFactor: p.calibrationFactor,
		Enabled:           p.enabled,
		OperationStartedAt: func() time.Time {
			if p.status == Pumping {
				return p.startedAt
			}
			return time.Time{}
		}(),
	}
}

// effectiveFlowRate returns nominal flow rate scaled by the current
// calibration factor. Caller must hold p.mu.
func (p *Pump) effectiveFlowRate() float64 {
	return p.binding.NominalFlowRateMlS * p.calibrationFactor
}

// Dispense runs the pump forward for the volume that, at the current
// calibrated flow rate, takes duration_s of wall time. speedPercent
// of 0 selects DefaultSpeedPercent.
func (p *Pump) Dispense(volumeMl float64, speedPercent int) error {
	if volumeMl <= 0 {
		return fmt.Errorf("pump %d: %w", p.binding.PumpID, coreerr.ErrVolumeNonPositive)
	}
	if speedPercent <= 0 {
		speedPercent = DefaultSpeedPercent
	}

	p.mu.Lock()
	if p.status == Disabled || !p.enabled {
		p.mu.Unlock()
		return fmt.Errorf("pump %d: %w", p.binding.PumpID, coreerr.ErrPumpDisabled)
	}
	if p.status != Idle {
		p.mu.Unlock()
		return fmt.Errorf("pump %d: %w", p.binding.PumpID, coreerr.ErrPumpNotIdle)
	}

	flowRate := p.effectiveFlowRate()
	durationS := volumeMl / flowRate
	if durationS > MaxPourTimeS {
		p.mu.Unlock()
		return fmt.Errorf("pump %d: %w", p.binding.PumpID, coreerr.ErrVolumeTooLarge)
	}
	p.mu.Unlock()

	elapsed, aborted, err := p.runForDuration(durationS, speedPercent)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if aborted {
		fraction := elapsed / durationS
		if fraction > 1 {
			fraction = 1
		}
		dispensed := volumeMl * fraction
		p.volumeDispensedMl += dispensed
		p.mu.Unlock()
		return &coreerr.Aborted{DispensedMl: dispensed}
	}
	p.volumeDispensedMl += volumeMl
	p.mu.Unlock()
	return nil
}

// PulseFor drives the pump forward at speedPercent for a fixed wall-
// clock duration rather than a fixed volume, used by the cleaning
// controller to circulate liquid through a pump without crediting it
// against volumeDispensedMl (circulation is not a metered dispense).
func (p *Pump) PulseFor(d time.Duration, speedPercent int) error {
	if speedPercent <= 0 {
		speedPercent = DefaultSpeedPercent
	}

	p.mu.Lock()
	if p.status == Disabled || !p.enabled {
		p.mu.Unlock()
		return fmt.Errorf("pump %d: %w", p.binding.PumpID, coreerr.ErrPumpDisabled)
	}
	if p.status != Idle {
		p.mu.Unlock()
		return fmt.Errorf("pump %d: %w", p.binding.PumpID, coreerr.ErrPumpNotIdle)
	}
	p.mu.Unlock()

	_, _, err := p.runForDuration(d.Seconds(), speedPercent)
	return err
}

// runForDuration drives the pump forward at speedPercent for
// durationS seconds, handling the Idle->Pumping->Idle transition, the
// channel sequencing, and abort detection. It does not touch
// volumeDispensedMl; callers apply their own crediting policy.
func (p *Pump) runForDuration(durationS float64, speedPercent int) (elapsed float64, aborted bool, err error) {
	p.mu.Lock()
	p.status = Pumping
	p.direction = hbridge.Forward
	p.speedPercent = speedPercent
	p.startedAt = time.Now()
	stop := make(chan struct{})
	p.stopRequested = stop
	p.mu.Unlock()

	if err := p.controller.SetChannel(p.channel, speedPercent, hbridge.Forward); err != nil {
		p.mu.Lock()
		p.status = Error
		p.direction = hbridge.Stopped
		p.speedPercent = 0
		p.mu.Unlock()
		return 0, false, fmt.Errorf("pump %d: %w", p.binding.PumpID, fmt.Errorf("%w: %v", coreerr.ErrHardwareFault, err))
	}

	elapsed, aborted = p.waitOrAbort(durationS, stop)

	if stopErr := p.controller.StopChannel(p.channel); stopErr != nil {
		p.mu.Lock()
		p.status = Error
		p.direction = hbridge.Stopped
		p.speedPercent = 0
		p.mu.Unlock()
		return 0, false, fmt.Errorf("pump %d: %w", p.binding.PumpID, fmt.Errorf("%w: %v", coreerr.ErrHardwareFault, stopErr))
	}

	p.mu.Lock()
	p.direction = hbridge.Stopped
	p.speedPercent = 0
	p.totalRuntimeS += elapsed
	p.status = Idle
	p.mu.Unlock()

	return elapsed, aborted, nil
}

// waitOrAbort sleeps in small slices so stop requests are noticed
// within 10ms, per the suspension-point granularity the fleet
// contract requires. Returns the elapsed time and whether the wait
// was cut short.
func (p *Pump) waitOrAbort(durationS float64, stop <-chan struct{}) (float64, bool) {
	const tick = 10 * time.Millisecond
	target := time.Duration(durationS * float64(time.Second))
	started := time.Now()
	timer := time.NewTimer(target)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return durationS, false
		case <-stop:
			return time.Since(started).Seconds(), true
		case <-time.After(tick):
			if time.Since(started) >= target {
				return durationS, false
			}
		}
	}
}

// EmergencyStop synchronously stops this pump's channel and forces
// status back to Idle, bypassing the normal dispense lifecycle. It is
// safe to call concurrently with an in-flight Dispense.
func (p *Pump) EmergencyStop() {
	p.mu.Lock()
	stop := p.stopRequested
	wasPumping := p.status == Pumping
	p.mu.Unlock()

	if wasPumping && stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}

	_ = p.controller.StopChannel(p.channel)

	p.mu.Lock()
	p.status = Idle
	p.direction = hbridge.Stopped
	p.speedPercent = 0
	p.mu.Unlock()
}

// Calibrate blends a new calibration factor derived from a measured
// dispense into the pump's current factor, per the smoothed-update
// rule: new_factor = expected/measured, blended 0.7*old + 0.3*new.
func (p *Pump) Calibrate(expectedMl, measuredMl float64) error {
	if measuredMl <= 0 {
		return fmt.Errorf("pump %d: %w", p.binding.PumpID, coreerr.ErrInvalidMeasurement)
	}

	newFactor := expectedMl / measuredMl
	if newFactor < MinCalibrationFactor || newFactor > MaxCalibrationFactor {
		return fmt.Errorf("pump %d: %w", p.binding.PumpID, coreerr.ErrOutOfBounds)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	blended := 0.7*p.calibrationFactor + 0.3*newFactor
	if blended < MinCalibrationFactor {
		blended = MinCalibrationFactor
	}
	if blended > MaxCalibrationFactor {
		blended = MaxCalibrationFactor
	}
	p.calibrationFactor = blended
	return nil
}

// SetEnabled administratively enables or disables the pump. A
// disabled pump rejects new dispenses with ErrPumpDisabled but is not
// otherwise touched.
func (p *Pump) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
	if !enabled && p.status == Idle {
		p.status = Disabled
	}
	if enabled && p.status == Disabled {
		p.status = Idle
	}
}

// ResetError clears an Error status back to Idle, for use after an
// operator has addressed a hardware fault.
func (p *Pump) ResetError() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == Error {
		p.status = Idle
	}
}

// HALMetadata describes this pump in the vocabulary the rest of the
// driver pack uses to describe hardware to a UI: a motor-output
// capability bound to one ingredient, grounded on the
// hal.Metadata/hal.Capability shape every driver in the pack exposes
// (ads1115tds, pcf8575, robotank_ph all carry one).
func (p *Pump) HALMetadata() hal.Metadata {
	return hal.Metadata{
		Name:         fmt.Sprintf("pump-%d", p.binding.PumpID),
		Description:  fmt.Sprintf("%s dispense pump", p.binding.IngredientName),
		Capabilities: []hal.Capability{hal.DigitalOutput},
	}
}

// HALSnapshot reports this pump's state in the hal.Snapshot shape the
// pack's analog drivers use for their calibration-wizard and
// telemetry UI (ads1115tds.Snapshot, robotank_ph driver), adapted here
// for a motor-driven pump instead of an analog sensor: Value is
// cumulative volume dispensed, and per-signal detail covers runtime
// and calibration state.
func (p *Pump) HALSnapshot() hal.Snapshot {
	s := p.Snapshot()
	return hal.Snapshot{
		Value: s.VolumeDispensedMl,
		Unit:  "ml",
		Signals: map[string]hal.Signal{
			"runtime_s":          {Now: s.TotalRuntimeS, Unit: "s"},
			"calibration_factor": {Now: s.CalibrationFactor, Unit: "x"},
			"speed_percent":      {Now: float64(s.SpeedPercent), Unit: "%"},
		},
		Meta: map[string]any{
			"pump_id":    s.PumpID,
			"ingredient": s.Ingredient,
			"status":     string(s.Status),
			"direction":  string(s.Direction),
			"enabled":    s.Enabled,
		},
	}
}
