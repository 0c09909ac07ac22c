// Package fleet owns the dictionary of pumps indexed by id and by
// ingredient name, the process-wide emergency-stop flag, and the
// single-owner current-operation marker. Grounded on pumps.py's
// PumpManager, reworked as an explicitly constructed value rather than
// a module-level singleton (per the source's "pump manager" pattern
// flagged for re-architecture).
package fleet

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/reef-pi/hal"

	"github.com/epicfatigue/cocktailcore/internal/coreerr"
	"github.com/epicfatigue/cocktailcore/internal/hbridge"
	"github.com/epicfatigue/cocktailcore/internal/pump"
)

// OperationKind identifies what, if anything, currently holds the
// fleet's single-owner marker.
type OperationKind string

const (
	NoOperation OperationKind = "none"
	Dispensing  OperationKind = "dispensing"
	Cleaning    OperationKind = "cleaning"
	Calibrating OperationKind = "calibrating"
)

// Operation describes the current holder of the fleet marker.
type Operation struct {
	Kind  OperationKind
	Label string // recipe id, cleaning mode/phase, or pump id as a string
}

// OperationToken is proof of having acquired the fleet marker via
// AcquireOperation. Only the holder of a valid token may dispense
// through DispenseByIngredientWithToken while that marker is held;
// every other caller (including a second concurrent holder) is
// rejected with ErrFleetBusy. This is what makes the single-owner
// marker an enforced caller identity rather than just a status label.
type OperationToken struct {
	id uint64
}

// Snapshot is a consistent read-only view of the whole fleet, for UI
// or telemetry consumers.
type Snapshot struct {
	EmergencyStop        bool
	CurrentOperation     Operation
	Pumps                []pump.State
	AvailableIngredients []string
}

// Fleet holds every pump in the machine plus the shared safety state
// that spans them.
type Fleet struct {
	mu                 sync.Mutex
	pumpsByID          map[int]*pump.Pump
	pumpIDByIngredient map[string]int
	order              []int // pump ids in construction order, for deterministic snapshots
	controllers        []*hbridge.Controller

	emergencyStop    bool
	currentOperation Operation
	tokenSeq         uint64
	activeToken      OperationToken
}

// New constructs an empty fleet. Use Add to register pumps.
func New() *Fleet {
	return &Fleet{
		pumpsByID:          make(map[int]*pump.Pump),
		pumpIDByIngredient: make(map[string]int),
		currentOperation:   Operation{Kind: NoOperation},
	}
}

// Add registers a pump with the fleet. Not safe to call concurrently
// with dispense operations; intended for use during startup wiring
// only.
func (f *Fleet) Add(p *pump.Pump) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pumpsByID[p.ID()] = p
	f.pumpIDByIngredient[strings.ToLower(p.Ingredient())] = p.ID()
	f.order = append(f.order, p.ID())
}

// SetControllers registers the H-bridge controllers backing this
// fleet's pumps, so the fleet can carry out the idle-then-deassert
// standby policy spec.md §5 assigns to it rather than to an individual
// controller. Like Add, intended for startup wiring only.
func (f *Fleet) SetControllers(controllers []*hbridge.Controller) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controllers = append([]*hbridge.Controller(nil), controllers...)
}

// lookupPump resolves an ingredient name to a pump, exact match first
// then case-insensitive substring fallback. Caller must hold f.mu.
func (f *Fleet) lookupPump(ingredient string) (*pump.Pump, bool) {
	key := strings.ToLower(ingredient)
	if id, ok := f.pumpIDByIngredient[key]; ok {
		return f.pumpsByID[id], true
	}
	for name, id := range f.pumpIDByIngredient {
		if strings.Contains(name, key) || strings.Contains(key, name) {
			return f.pumpsByID[id], true
		}
	}
	return nil, false
}

// LookupPump resolves name to a pump, exact match first then
// case-insensitive substring fallback, without dispensing. Used by
// the recipe executor to target a per-operation cancel at the
// specific pump currently pouring.
func (f *Fleet) LookupPump(name string) (*pump.Pump, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookupPump(name)
}

// ResolveIngredient reports whether name binds to an enabled pump,
// without dispensing. Used by the recipe executor's precondition
// check.
func (f *Fleet) ResolveIngredient(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.lookupPump(name)
	return ok && p.Snapshot().Enabled
}

// AcquireOperation takes ownership of the fleet marker for op, or
// returns ErrFleetBusy if a different operation already holds it. The
// returned token is the caller's proof of ownership: it must be
// presented to DispenseByIngredientWithToken to dispense while still
// holding the marker, and to ReleaseOperation to release it. Holding
// the marker is how the recipe executor and cleaning controller
// serialize against each other and against ad-hoc dispenses.
func (f *Fleet) AcquireOperation(op Operation) (OperationToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emergencyStop {
		return OperationToken{}, coreerr.ErrEmergencyStopped
	}
	if f.currentOperation.Kind != NoOperation {
		return OperationToken{}, coreerr.ErrFleetBusy
	}
	f.tokenSeq++
	token := OperationToken{id: f.tokenSeq}
	f.activeToken = token
	f.currentOperation = op
	return token, nil
}

// ReleaseOperation clears the fleet marker if token is the one
// currently active, and checks every controller for the idle-then-
// deassert standby policy. A stale or zero token is a no-op, so a
// caller that lost a race (e.g. after an emergency stop already
// cleared the marker) can't clobber a later owner's operation.
func (f *Fleet) ReleaseOperation(token OperationToken) {
	f.mu.Lock()
	if f.activeToken == token {
		f.currentOperation = Operation{Kind: NoOperation}
		f.activeToken = OperationToken{}
	}
	f.mu.Unlock()
	f.maybeDeassertIdleControllers()
}

// DispenseByIngredient resolves name to a pump and dispenses volumeMl
// from it. This is the ad-hoc entry point for a caller that does not
// already hold the fleet marker (e.g. an operator's one-off pour
// command): it acquires its own marker for the duration of the
// dispense and rejects with ErrFleetBusy if the fleet is already busy
// with a recipe or cleaning cycle, per spec.md §4.4. A caller that
// already holds the marker (the recipe executor, the cleaning
// controller) must use DispenseByIngredientWithToken instead.
func (f *Fleet) DispenseByIngredient(name string, volumeMl float64, speedPercent int) error {
	f.mu.Lock()
	if f.emergencyStop {
		f.mu.Unlock()
		return coreerr.ErrEmergencyStopped
	}
	if f.currentOperation.Kind != NoOperation {
		f.mu.Unlock()
		return coreerr.ErrFleetBusy
	}
	p, ok := f.lookupPump(name)
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("fleet: %w: %s", coreerr.ErrUnknownIngredient, name)
	}
	f.tokenSeq++
	token := OperationToken{id: f.tokenSeq}
	f.activeToken = token
	f.currentOperation = Operation{Kind: Dispensing, Label: fmt.Sprintf("pump:%d", p.ID())}
	f.mu.Unlock()

	err := p.Dispense(volumeMl, speedPercent)
	f.ReleaseOperation(token)
	return err
}

// DispenseByIngredientWithToken dispenses on behalf of a caller that
// already holds the fleet marker via AcquireOperation. It rejects with
// ErrFleetBusy if token does not match the currently active marker —
// the concrete case this guards against is a caller that lost its
// marker to an emergency stop or a race, rather than a legitimate
// second owner (AcquireOperation itself already prevents that).
func (f *Fleet) DispenseByIngredientWithToken(token OperationToken, name string, volumeMl float64, speedPercent int) error {
	f.mu.Lock()
	if f.emergencyStop {
		f.mu.Unlock()
		return coreerr.ErrEmergencyStopped
	}
	if f.activeToken != token {
		f.mu.Unlock()
		return coreerr.ErrFleetBusy
	}
	p, ok := f.lookupPump(name)
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("fleet: %w: %s", coreerr.ErrUnknownIngredient, name)
	}
	f.mu.Unlock()

	err := p.Dispense(volumeMl, speedPercent)
	f.maybeDeassertIdleControllers()
	return err
}

// maybeDeassertIdleControllers checks every controller the fleet owns
// and, if every channel on every controller is electrically idle right
// now, schedules a deassert of all of them after StandbyIdleDelay
// elapses with no new activity. Standby pins may be shared between
// controllers, so no controller is deasserted while any channel of any
// controller is still active. Re-checking idle state after the delay
// (rather than deasserting immediately) is what makes this the
// fleet-level idle-then-deassert policy spec.md §5 calls for, instead
// of the controller's own immediate StopAll.
func (f *Fleet) maybeDeassertIdleControllers() {
	f.mu.Lock()
	controllers := append([]*hbridge.Controller(nil), f.controllers...)
	f.mu.Unlock()

	allIdle := func() bool {
		for _, c := range controllers {
			if !c.BothChannelsIdle() {
				return false
			}
		}
		return true
	}
	if len(controllers) == 0 || !allIdle() {
		return
	}
	go func() {
		time.Sleep(hbridge.StandbyIdleDelay)
		if !allIdle() {
			return
		}
		for _, ctrl := range controllers {
			if err := ctrl.Deassert(); err != nil {
				log.Printf("fleet: deassert controller %d: %v", ctrl.ID(), err)
			}
		}
	}()
}

// EmergencyStop sets the flag and synchronously stops every pump
// before returning, per the concurrency contract: synchronous with
// respect to GPIO, asynchronous with respect to any in-flight
// dispense's eventual return.
func (f *Fleet) EmergencyStop() {
	f.mu.Lock()
	f.emergencyStop = true
	pumps := make([]*pump.Pump, 0, len(f.pumpsByID))
	for _, p := range f.pumpsByID {
		pumps = append(pumps, p)
	}
	f.currentOperation = Operation{Kind: NoOperation}
	f.activeToken = OperationToken{}
	f.mu.Unlock()

	for _, p := range pumps {
		p.EmergencyStop()
	}
}

// ResetEmergency clears the flag, provided every pump is Idle.
// Otherwise returns ErrNotQuiesced and leaves the flag set.
func (f *Fleet) ResetEmergency() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range f.pumpsByID {
		if p.Snapshot().Status != pump.Idle {
			return coreerr.ErrNotQuiesced
		}
	}
	f.emergencyStop = false
	return nil
}

// IsEmergencyStopped reports the current flag value.
func (f *Fleet) IsEmergencyStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emergencyStop
}

// Pump returns the pump registered under id, if any.
func (f *Fleet) Pump(id int) (*pump.Pump, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pumpsByID[id]
	return p, ok
}

// Snapshot returns a consistent read-only view of the whole fleet.
func (f *Fleet) Snapshot() Snapshot {
	f.mu.Lock()
	ids := append([]int(nil), f.order...)
	sort.Ints(ids)
	ingredients := make([]string, 0, len(f.pumpIDByIngredient))
	for name := range f.pumpIDByIngredient {
		ingredients = append(ingredients, name)
	}
	sort.Strings(ingredients)
	es := f.emergencyStop
	op := f.currentOperation
	f.mu.Unlock()

	states := make([]pump.State, 0, len(ids))
	for _, id := range ids {
		if p, ok := f.Pump(id); ok {
			states = append(states, p.Snapshot())
		}
	}

	return Snapshot{
		EmergencyStop:        es,
		CurrentOperation:     op,
		Pumps:                states,
		AvailableIngredients: ingredients,
	}
}

// HALMetadata describes the fleet as a whole in the pack's
// hal.Metadata vocabulary, for a telemetry/UI consumer that wants one
// entry point per hardware unit rather than per pump.
func (f *Fleet) HALMetadata() hal.Metadata {
	f.mu.Lock()
	n := len(f.order)
	f.mu.Unlock()
	return hal.Metadata{
		Name:         "cocktail-fleet",
		Description:  fmt.Sprintf("%d-pump cocktail dispenser fleet", n),
		Capabilities: []hal.Capability{hal.DigitalOutput},
	}
}

// HALSnapshots returns one hal.Snapshot per pump, ordered the same
// way Snapshot's Pumps slice is, for a telemetry consumer that wants
// the pack's Snapshot shape instead of this package's own State type.
func (f *Fleet) HALSnapshots() []hal.Snapshot {
	f.mu.Lock()
	ids := append([]int(nil), f.order...)
	sort.Ints(ids)
	f.mu.Unlock()

	out := make([]hal.Snapshot, 0, len(ids))
	for _, id := range ids {
		if p, ok := f.Pump(id); ok {
			out = append(out, p.HALSnapshot())
		}
	}
	return out
}
