// Package cleaning drives the fleet through multi-phase rinse/clean/
// sanitize/dry cycles, as an alternative top-level driver alongside
// the recipe executor. Grounded on cleaning_system.py's CleaningSystem/
// CleaningCycle/MaintenanceScheduler, reworked around the fleet's
// single-owner operation marker instead of its own ad hoc lock.
package cleaning

import "time"

// Phase is one state in the cleaning state machine.
type Phase string

const (
	Rinse      Phase = "rinse"
	Clean      Phase = "clean"
	Sanitize   Phase = "sanitize"
	FinalRinse Phase = "final_rinse"
	Dry        Phase = "dry"
)

// Mode names a built-in cleaning cycle.
type Mode string

const (
	Quick        Mode = "quick"
	Standard     Mode = "standard"
	Deep         Mode = "deep"
	SanitizeOnly Mode = "sanitize_only"
)

// PhaseSpec is the per-phase tuning for one cycle definition.
type PhaseSpec struct {
	Phase            Phase
	DurationS        int
	SolutionVolumeMl float64
	PressurePercent  int
}

// Cycle is a named ordered sequence of phases.
type Cycle struct {
	Mode   Mode
	Phases []PhaseSpec
}

// TotalDuration sums the configured phase durations.
func (c Cycle) TotalDuration() time.Duration {
	var total time.Duration
	for _, p := range c.Phases {
		total += time.Duration(p.DurationS) * time.Second
	}
	return total
}

// BuiltinCycles are the four standard cleaning cycles, grounded on
// cleaning_system.py's CLEANING_CYCLES table.
var BuiltinCycles = map[Mode]Cycle{
	Quick: {
		Mode: Quick,
		Phases: []PhaseSpec{
			{Phase: Rinse, DurationS: 10, SolutionVolumeMl: 50, PressurePercent: 60},
			{Phase: Clean, DurationS: 15, SolutionVolumeMl: 30, PressurePercent: 60},
		},
	},
	Standard: {
		Mode: Standard,
		Phases: []PhaseSpec{
			{Phase: Rinse, DurationS: 20, SolutionVolumeMl: 100, PressurePercent: 80},
			{Phase: Clean, DurationS: 30, SolutionVolumeMl: 75, PressurePercent: 80},
			{Phase: Sanitize, DurationS: 25, SolutionVolumeMl: 50, PressurePercent: 80},
			{Phase: FinalRinse, DurationS: 15, SolutionVolumeMl: 100, PressurePercent: 80},
		},
	},
	Deep: {
		Mode: Deep,
		Phases: []PhaseSpec{
			{Phase: Rinse, DurationS: 30, SolutionVolumeMl: 150, PressurePercent: 100},
			{Phase: Clean, DurationS: 60, SolutionVolumeMl: 100, PressurePercent: 100},
			{Phase: Sanitize, DurationS: 45, SolutionVolumeMl: 75, PressurePercent: 100},
			{Phase: FinalRinse, DurationS: 30, SolutionVolumeMl: 150, PressurePercent: 100},
			{Phase: Dry, DurationS: 120, SolutionVolumeMl: 0, PressurePercent: 100},
		},
	},
	SanitizeOnly: {
		Mode: SanitizeOnly,
		Phases: []PhaseSpec{
			{Phase: Sanitize, DurationS: 30, SolutionVolumeMl: 60, PressurePercent: 75},
			{Phase: FinalRinse, DurationS: 20, SolutionVolumeMl: 80, PressurePercent: 75},
		},
	},
}

// pulseOn/pulseGap are the liquid-phase circulation parameters: one
// pump pulsed for pulseOn at half the phase pressure, with a short gap
// before the next pump takes its turn.
const (
	pulseOn    = 500 * time.Millisecond
	pulseGap   = 200 * time.Millisecond
	liquidTick = time.Second
	dryTick    = 2 * time.Second
)

// HistoryRecord is one append-only entry in the bounded cleaning
// history ring.
type HistoryRecord struct {
	Timestamp       time.Time
	Mode            Mode
	DurationS       float64
	Success         bool
	PumpsCleaned    []int
	PhasesCompleted int
}

const historyCapacity = 100
