// Package recipe sequences the pours of a drink recipe across the
// fleet: ordering by category, scaling by dose, emitting progress,
// and handling cooperative cancellation. Grounded on
// cocktail_manager.py's dispense path (progress_callback,
// _notify_progress, the per-ingredient dispense loop).
package recipe

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/epicfatigue/cocktailcore/internal/coreerr"
	"github.com/epicfatigue/cocktailcore/internal/fleet"
	"github.com/epicfatigue/cocktailcore/internal/progress"
	"github.com/epicfatigue/cocktailcore/internal/pump"
)

// Category classifies an ingredient for pour-ordering purposes.
type Category string

const (
	Spirits Category = "spirits"
	Syrup   Category = "syrup"
	Juice   Category = "juice"
	Mixer   Category = "mixer"
	Garnish Category = "garnish"
)

// categoryRank gives the fixed total order Spirits < Syrup < Juice <
// Mixer < Garnish used to sequence pours: heavier, more viscous
// spirits first, carbonated mixers last to preserve fizz.
var categoryRank = map[Category]int{
	Spirits: 0,
	Syrup:   1,
	Juice:   2,
	Mixer:   3,
	Garnish: 4,
}

// ValidCategory reports whether c is one of the known pour
// categories.
func ValidCategory(c Category) bool {
	_, ok := categoryRank[c]
	return ok
}

// Pour is one ingredient line in a recipe.
type Pour struct {
	IngredientName string
	VolumeMl       float64
	Category       Category
}

// Recipe is the input to Execute: an ordered list of pours. The dose
// scalar is not part of the recipe; it is passed to Execute and
// applied uniformly to every pour.
type Recipe struct {
	ID          string
	DisplayName string
	Pours       []Pour
}

const (
	// InterPourSettleDelay is the pause inserted between dispenses so
	// liquids settle before the next pour begins.
	InterPourSettleDelay = 200 * time.Millisecond
	// DefaultDoseScalar is used when a caller passes a non-positive
	// scalar.
	DefaultDoseScalar = 1.0
	MinDoseScalar     = 0.5
	MaxDoseScalar     = 3.0
)

// Executor drives recipes across a fleet, one pour at a time, in the
// fixed category order.
type Executor struct {
	fleet *fleet.Fleet

	mu          sync.Mutex
	listener    progress.Broadcaster
	cancelled   chan struct{}
	currentPump *pump.Pump
}

// NewExecutor constructs an Executor bound to f.
func NewExecutor(f *fleet.Fleet) *Executor {
	return &Executor{fleet: f}
}

// SetProgressListener installs l as the active progress listener.
func (e *Executor) SetProgressListener(l progress.Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener.Set(l)
}

func (e *Executor) emit(step string, percent float64, message string) {
	e.mu.Lock()
	l := e.listener
	e.mu.Unlock()
	l.Emit(progress.Event{Step: step, Percent: percent, Message: message})
}

// Cancel requests that an in-flight Execute stop at the next
// suspension point. It also stops whichever pump is currently
// pouring, so the in-flight dispense itself returns Aborted rather
// than running to completion before the executor notices.
func (e *Executor) Cancel() {
	e.mu.Lock()
	ch := e.cancelled
	p := e.currentPump
	e.mu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
	if p != nil {
		p.EmergencyStop()
	}
}

// sortedNonGarnishPours returns the indices of non-garnish pours in
// r.Pours, ordered by the fixed category total order with a stable
// sort preserving recipe input order within a category.
func sortedNonGarnishPours(pours []Pour) []int {
	idx := make([]int, 0, len(pours))
	for i, p := range pours {
		if p.Category != Garnish {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return categoryRank[pours[idx[a]].Category] < categoryRank[pours[idx[b]].Category]
	})
	return idx
}

// Execute runs recipe to completion, scaling every pour volume by
// doseScalar. It acquires the fleet's current-operation marker for
// the duration of the recipe and releases it on every exit path.
func (e *Executor) Execute(r Recipe, doseScalar float64) error {
	if doseScalar <= 0 {
		doseScalar = DefaultDoseScalar
	}
	if doseScalar < MinDoseScalar {
		doseScalar = MinDoseScalar
	}
	if doseScalar > MaxDoseScalar {
		doseScalar = MaxDoseScalar
	}

	var missing []string
	for _, p := range r.Pours {
		if p.Category == Garnish {
			continue
		}
		if !ValidCategory(p.Category) {
			missing = append(missing, p.IngredientName)
			continue
		}
		if !e.fleet.ResolveIngredient(p.IngredientName) {
			missing = append(missing, p.IngredientName)
		}
	}
	if len(missing) > 0 {
		return &coreerr.UnsatisfiableRecipe{Missing: missing}
	}

	token, err := e.fleet.AcquireOperation(fleet.Operation{Kind: fleet.Dispensing, Label: r.ID})
	if err != nil {
		return err
	}
	defer e.fleet.ReleaseOperation(token)

	e.mu.Lock()
	e.cancelled = make(chan struct{})
	cancelled := e.cancelled
	e.mu.Unlock()

	order := sortedNonGarnishPours(r.Pours)
	total := len(r.Pours)
	var completed []string

	stepIndex := 0
	for _, pourIdx := range order {
		p := r.Pours[pourIdx]

		select {
		case <-cancelled:
			return &coreerr.Cancelled{Completed: completed}
		default:
		}

		progressPct := float64(stepIndex) / float64(total) * 100
		e.emit(fmt.Sprintf("pour %s", p.IngredientName), progressPct, "")

		if target, ok := e.fleet.LookupPump(p.IngredientName); ok {
			e.mu.Lock()
			e.currentPump = target
			e.mu.Unlock()
		}

		scaledVolume := p.VolumeMl * doseScalar
		if err := e.fleet.DispenseByIngredientWithToken(token, p.IngredientName, scaledVolume, 0); err != nil {
			var aborted *coreerr.Aborted
			if errors.As(err, &aborted) {
				return &coreerr.Cancelled{Completed: completed}
			}
			return fmt.Errorf("recipe %s: dispense %s: %w", r.ID, p.IngredientName, err)
		}
		completed = append(completed, p.IngredientName)
		stepIndex++

		select {
		case <-cancelled:
			return &coreerr.Cancelled{Completed: completed}
		case <-time.After(InterPourSettleDelay):
		}
	}

	for _, p := range r.Pours {
		if p.Category != Garnish {
			continue
		}
		progressPct := float64(stepIndex) / float64(total) * 100
		e.emit(fmt.Sprintf("garnish %s", p.IngredientName), progressPct, "")
		stepIndex++
	}

	e.emit("complete", 100, "")
	return nil
}

