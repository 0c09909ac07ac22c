package cleaning

import (
	"sync"
	"time"
)

// Maintenance thresholds, grounded on cleaning_system.py's
// MaintenanceScheduler._load_maintenance_config.
const (
	QuickCleaningCocktailInterval = 5
	StandardCleaningIntervalHours = 24
	DeepCleaningIntervalHours     = 168
	MaxCocktailsWithoutCleaning   = 10
)

// MaintenanceScheduler tracks cocktails poured since the last cleaning
// and decides whether a cycle is due, and which one.
type MaintenanceScheduler struct {
	history *History

	mu                  sync.Mutex
	cocktailsSinceQuick int
}

// NewMaintenanceScheduler constructs a scheduler backed by history,
// which it consults for the last successful Standard/Deep cycle.
func NewMaintenanceScheduler(history *History) *MaintenanceScheduler {
	return &MaintenanceScheduler{history: history}
}

// OnCocktailMade records that one cocktail was poured, advancing the
// quick-cleaning cocktail counter. Call ResetQuickCounter once the
// corresponding cycle has actually run.
func (s *MaintenanceScheduler) OnCocktailMade() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cocktailsSinceQuick++
}

// ResetQuickCounter zeroes the cocktail counter, typically called
// after a Quick or larger cycle completes successfully.
func (s *MaintenanceScheduler) ResetQuickCounter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cocktailsSinceQuick = 0
}

// CocktailsSinceQuickClean reports the current cocktail counter.
func (s *MaintenanceScheduler) CocktailsSinceQuickClean() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cocktailsSinceQuick
}

// NeedsCleaning reports whether a cycle is due, and the most urgent
// mode if so. Priority mirrors needs_cleaning: cocktail-count quick
// cleaning first, then overdue Standard, then overdue Deep. A mode
// with no prior successful run in history is treated as overdue.
func (s *MaintenanceScheduler) NeedsCleaning(now time.Time) (bool, Mode) {
	s.mu.Lock()
	cocktails := s.cocktailsSinceQuick
	s.mu.Unlock()

	if cocktails >= QuickCleaningCocktailInterval {
		return true, Quick
	}

	if s.history != nil {
		if last, ok := s.history.LastSuccessful(Standard); ok {
			if now.Sub(last.Timestamp).Hours() >= StandardCleaningIntervalHours {
				return true, Standard
			}
		} else {
			return true, Standard
		}

		if last, ok := s.history.LastSuccessful(Deep); ok {
			if now.Sub(last.Timestamp).Hours() >= DeepCleaningIntervalHours {
				return true, Deep
			}
		} else {
			return true, Deep
		}
	}

	return false, Quick
}

// NextScheduled returns the earliest upcoming due time across the
// Standard and Deep cycles, and which mode that deadline belongs to.
func (s *MaintenanceScheduler) NextScheduled(now time.Time) (time.Time, Mode) {
	nextStandard := now
	if s.history != nil {
		if last, ok := s.history.LastSuccessful(Standard); ok {
			nextStandard = last.Timestamp.Add(StandardCleaningIntervalHours * time.Hour)
		}
	}

	nextDeep := now
	if s.history != nil {
		if last, ok := s.history.LastSuccessful(Deep); ok {
			nextDeep = last.Timestamp.Add(DeepCleaningIntervalHours * time.Hour)
		}
	}

	if nextDeep.Before(nextStandard) {
		return nextDeep, Deep
	}
	return nextStandard, Standard
}
