package cleaning

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/epicfatigue/cocktailcore/internal/coreerr"
	"github.com/epicfatigue/cocktailcore/internal/fleet"
	"github.com/epicfatigue/cocktailcore/internal/progress"
)

// Controller drives one cleaning cycle at a time across a fleet's
// pumps. It holds the fleet's current-operation marker for the
// duration of the cycle, exactly as the recipe executor does for a
// recipe.
type Controller struct {
	fleet          *fleet.Fleet
	solutionPumpID int // pump id of the dedicated cleaning-solution pump, 0 if none

	mu        sync.Mutex
	listener  progress.Broadcaster
	running   bool
	stopReq   chan struct{}
	history   *History
	scheduler *MaintenanceScheduler
}

// NewController constructs a Controller bound to f. solutionPumpID
// names the pump designated to supply cleaning/sanitizing solution;
// per the open question this spec leaves unresolved, that pump is an
// ordinary fleet member and is subject to the same mutual-exclusion
// rules as any ingredient pump.
func NewController(f *fleet.Fleet, solutionPumpID int, history *History) *Controller {
	return &Controller{
		fleet:          f,
		solutionPumpID: solutionPumpID,
		history:        history,
		scheduler:      NewMaintenanceScheduler(history),
	}
}

// SetProgressListener installs l as the active progress listener.
func (c *Controller) SetProgressListener(l progress.Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener.Set(l)
}

func (c *Controller) emit(step string, percent float64, message string) {
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()
	l.Emit(progress.Event{Step: step, Percent: percent, Message: message})
}

// IsRunning reports whether a cycle is currently in flight.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stop requests that an in-flight cycle abort at the next phase-loop
// suspension point. A no-op if no cycle is running.
func (c *Controller) Stop() {
	c.mu.Lock()
	ch := c.stopReq
	c.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
}

// Start runs cycle to completion against the given target pump ids,
// blocking the calling goroutine. It acquires the fleet marker for
// the duration of the cycle and releases it on every exit path.
func (c *Controller) Start(cycle Cycle, pumpIDs []int) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("cleaning: %w", coreerr.ErrFleetBusy)
	}
	c.running = true
	c.stopReq = make(chan struct{})
	stopReq := c.stopReq
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	label := fmt.Sprintf("%s", cycle.Mode)
	token, err := c.fleet.AcquireOperation(fleet.Operation{Kind: fleet.Cleaning, Label: label})
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return err
	}
	defer c.fleet.ReleaseOperation(token)

	started := time.Now()
	c.emit(string(cycle.Mode), 0, "starting")

	totalPhases := len(cycle.Phases)
	aborted := false
	phasesCompleted := 0

	for i, spec := range cycle.Phases {
		select {
		case <-stopReq:
			aborted = true
		default:
		}
		if aborted {
			break
		}

		base := float64(i) / float64(totalPhases) * 100
		span := 100.0 / float64(totalPhases)

		if spec.Phase == Dry {
			if err := c.runDryPhase(spec, pumpIDs, base, span, stopReq); err != nil {
				aborted = true
				break
			}
		} else {
			if err := c.runLiquidPhase(spec, pumpIDs, base, span, stopReq); err != nil {
				aborted = true
				break
			}
		}
		phasesCompleted++
	}

	elapsed := time.Since(started).Seconds()

	if aborted {
		c.stopAllTargets(pumpIDs)
		c.emit(string(cycle.Mode), 0, "aborted")
		if c.history != nil {
			c.history.Append(HistoryRecord{
				Timestamp: started, Mode: cycle.Mode, DurationS: elapsed,
				Success: false, PumpsCleaned: pumpIDs, PhasesCompleted: phasesCompleted,
			})
		}
		return coreerr.ErrCancelled
	}

	c.emit(string(cycle.Mode), 100, "complete")
	if c.history != nil {
		c.history.Append(HistoryRecord{
			Timestamp: started, Mode: cycle.Mode, DurationS: elapsed,
			Success: true, PumpsCleaned: pumpIDs, PhasesCompleted: phasesCompleted,
		})
	}
	log.Printf("cleaning: %s cycle complete in %.1fs", cycle.Mode, elapsed)
	return nil
}

func (c *Controller) stopAllTargets(pumpIDs []int) {
	for _, id := range pumpIDs {
		if p, ok := c.fleet.Pump(id); ok {
			p.EmergencyStop()
		}
	}
	if c.solutionPumpID != 0 {
		if p, ok := c.fleet.Pump(c.solutionPumpID); ok {
			p.EmergencyStop()
		}
	}
}

// runLiquidPhase circulates liquid through every target pump: a short
// pulse per pump at half the configured pressure, with a gap between
// pumps, repeating for the phase's configured duration. Clean and
// Sanitize phases additionally run the dedicated solution pump once at
// phase start.
func (c *Controller) runLiquidPhase(spec PhaseSpec, pumpIDs []int, base, span float64, stopReq <-chan struct{}) error {
	if (spec.Phase == Clean || spec.Phase == Sanitize) && c.solutionPumpID != 0 && spec.SolutionVolumeMl > 0 {
		if p, ok := c.fleet.Pump(c.solutionPumpID); ok {
			if err := p.Dispense(spec.SolutionVolumeMl, spec.PressurePercent); err != nil {
				return fmt.Errorf("cleaning: solution pump: %w", err)
			}
		}
	}

	duration := time.Duration(spec.DurationS) * time.Second
	deadline := time.Now().Add(duration)
	halfPressure := spec.PressurePercent / 2
	if halfPressure < 1 {
		halfPressure = 1
	}

	for time.Now().Before(deadline) {
		select {
		case <-stopReq:
			return coreerr.ErrCancelled
		default:
		}

		phaseProgress := 1 - time.Until(deadline).Seconds()/duration.Seconds()
		c.emit(string(spec.Phase), base+phaseProgress*span, fmt.Sprintf("circulating pumps %v", pumpIDs))

		for _, id := range pumpIDs {
			select {
			case <-stopReq:
				return coreerr.ErrCancelled
			default:
			}
			p, ok := c.fleet.Pump(id)
			if !ok {
				continue
			}
			if err := p.PulseFor(pulseOn, halfPressure); err != nil {
				return fmt.Errorf("cleaning: pulse pump %d: %w", id, err)
			}
			select {
			case <-stopReq:
				return coreerr.ErrCancelled
			case <-time.After(pulseGap):
			}
		}

		select {
		case <-stopReq:
			return coreerr.ErrCancelled
		case <-time.After(liquidTick):
		}
	}
	return nil
}

func (c *Controller) runDryPhase(spec PhaseSpec, pumpIDs []int, base, span float64, stopReq <-chan struct{}) error {
	duration := time.Duration(spec.DurationS) * time.Second
	deadline := time.Now().Add(duration)

	for time.Now().Before(deadline) {
		select {
		case <-stopReq:
			return coreerr.ErrCancelled
		default:
		}
		remaining := time.Until(deadline)
		phaseProgress := 1 - remaining.Seconds()/duration.Seconds()
		c.emit(string(Dry), base+phaseProgress*span, fmt.Sprintf("%.0fs remaining", remaining.Seconds()))

		select {
		case <-stopReq:
			return coreerr.ErrCancelled
		case <-time.After(dryTick):
		}
	}
	return nil
}
