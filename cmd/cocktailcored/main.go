// Command cocktailcored wires the dispenser core's packages into a
// running process: it loads the hardware topology, brings up every
// H-bridge controller and pump, and exposes the recipe executor and
// cleaning controller over a tiny line-oriented stdin command loop.
// There is no network/UI surface here; that is explicitly out of
// scope (see spec.md §1) and left to whatever wraps this binary.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/epicfatigue/cocktailcore/internal/cleaning"
	"github.com/epicfatigue/cocktailcore/internal/fleet"
	"github.com/epicfatigue/cocktailcore/internal/gpioport"
	"github.com/epicfatigue/cocktailcore/internal/hbridge"
	"github.com/epicfatigue/cocktailcore/internal/progress"
	"github.com/epicfatigue/cocktailcore/internal/pump"
	"github.com/epicfatigue/cocktailcore/internal/recipe"
	"github.com/epicfatigue/cocktailcore/internal/topology"
)

func main() {
	topoPath := flag.String("topology", "topology.yaml", "path to the hardware topology document")
	calibPath := flag.String("calibration", "calibration.yaml", "path to the persisted calibration overrides")
	historyPath := flag.String("cleaning-history", "cleaning-history.yaml", "path to the persisted cleaning history")
	solutionPumpID := flag.Int("solution-pump", 0, "pump id dedicated to cleaning solution, 0 if none")
	chip := flag.String("gpio-chip", "gpiochip0", "gpiod chip name, ignored in -sim mode")
	sim := flag.Bool("sim", false, "use the in-memory simulated GPIO port instead of real hardware")
	flag.Parse()

	topo, err := topology.Load(*topoPath)
	if err != nil {
		log.Fatalf("cocktailcored: load topology: %v", err)
	}

	overrides, err := topology.LoadCalibrationOverrides(*calibPath)
	if err != nil {
		log.Fatalf("cocktailcored: load calibration overrides: %v", err)
	}
	topology.ApplyCalibrationOverrides(topo, overrides)

	var port gpioport.Port
	if *sim {
		port = gpioport.NewSimPort()
	} else {
		port = gpioport.NewRealPort(*chip)
	}
	defer port.ReleaseAll()

	f, controllers, err := buildFleet(topo, port)
	if err != nil {
		log.Fatalf("cocktailcored: build fleet: %v", err)
	}
	defer func() {
		for _, c := range controllers {
			if err := c.Shutdown(); err != nil {
				log.Printf("cocktailcored: controller shutdown: %v", err)
			}
		}
	}()

	history, err := cleaning.LoadHistory(*historyPath)
	if err != nil {
		log.Fatalf("cocktailcored: load cleaning history: %v", err)
	}

	exec := recipe.NewExecutor(f)
	cleaner := cleaning.NewController(f, *solutionPumpID, history)
	scheduler := cleaning.NewMaintenanceScheduler(history)

	exec.SetProgressListener(func(ev progress.Event) {
		log.Printf("recipe: %s %.0f%% %s", ev.Step, ev.Percent, ev.Message)
	})
	cleaner.SetProgressListener(func(ev progress.Event) {
		log.Printf("cleaning: %s %.0f%% %s", ev.Step, ev.Percent, ev.Message)
	})

	watchSignals(f)
	runREPL(f, exec, cleaner, scheduler)
}

// buildFleet constructs one hbridge.Controller per topology entry and
// one pump.Pump per binding, wiring them into a fresh fleet.Fleet.
func buildFleet(topo *topology.HardwareTopology, port gpioport.Port) (*fleet.Fleet, []*hbridge.Controller, error) {
	controllers := make([]*hbridge.Controller, len(topo.Controllers))
	for i, pins := range topo.Controllers {
		ctrl := hbridge.New(i, pins, port)
		if err := ctrl.Init(); err != nil {
			return nil, nil, fmt.Errorf("controller %d: %w", i, err)
		}
		controllers[i] = ctrl
	}

	f := fleet.New()
	for _, binding := range topo.SortedPumps() {
		if binding.ControllerIndex < 0 || binding.ControllerIndex >= len(controllers) {
			return nil, nil, fmt.Errorf("pump %d: controller index %d out of range", binding.PumpID, binding.ControllerIndex)
		}
		f.Add(pump.New(binding, controllers[binding.ControllerIndex]))
	}
	f.SetControllers(controllers)
	return f, controllers, nil
}

// watchSignals ties SIGINT/SIGTERM to the same emergency-stop path the
// repl's own "estop" command uses.
func watchSignals(f *fleet.Fleet) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Printf("cocktailcored: received %v, emergency-stopping fleet", sig)
		f.EmergencyStop()
		os.Exit(1)
	}()
}

// runREPL is a minimal line-oriented operator console: pour, recipe,
// clean, estop, reset, status, quit. It exists so this binary is
// runnable and testable end to end without a real UI layer, which
// spec.md explicitly leaves to something else.
func runREPL(f *fleet.Fleet, exec *recipe.Executor, cleaner *cleaning.Controller, scheduler *cleaning.MaintenanceScheduler) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("cocktailcored ready. commands: pour <ingredient> <ml>, recipe <id> <ingredient:ml:category>..., clean <quick|standard|deep|sanitize_only> <pump_ids...>, estop, reset, status, quit")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "pour":
			handlePour(f, fields)
		case "recipe":
			handleRecipe(f, exec, cleaner, scheduler, fields)
		case "clean":
			handleClean(cleaner, scheduler, fields)
		case "estop":
			f.EmergencyStop()
			fmt.Println("fleet emergency-stopped")
		case "reset":
			if err := f.ResetEmergency(); err != nil {
				fmt.Println("reset failed:", err)
			} else {
				fmt.Println("emergency flag cleared")
			}
		case "status":
			printStatus(f)
		case "quit", "exit":
			return
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

func handlePour(f *fleet.Fleet, fields []string) {
	if len(fields) != 3 {
		fmt.Println("usage: pour <ingredient> <ml>")
		return
	}
	ml, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		fmt.Println("invalid volume:", err)
		return
	}
	if err := f.DispenseByIngredient(fields[1], ml, 0); err != nil {
		fmt.Println("pour failed:", err)
		return
	}
	fmt.Println("poured", ml, "ml of", fields[1])
}

func handleRecipe(f *fleet.Fleet, exec *recipe.Executor, cleaner *cleaning.Controller, scheduler *cleaning.MaintenanceScheduler, fields []string) {
	if len(fields) < 3 {
		fmt.Println("usage: recipe <id> <ingredient:ml:category>...")
		return
	}
	r := recipe.Recipe{ID: fields[1]}
	for _, spec := range fields[2:] {
		parts := strings.SplitN(spec, ":", 3)
		if len(parts) != 3 {
			fmt.Println("invalid pour spec:", spec)
			return
		}
		ml, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			fmt.Println("invalid volume in", spec, ":", err)
			return
		}
		r.Pours = append(r.Pours, recipe.Pour{
			IngredientName: parts[0],
			VolumeMl:       ml,
			Category:       recipe.Category(parts[2]),
		})
	}
	if err := exec.Execute(r, recipe.DefaultDoseScalar); err != nil {
		fmt.Println("recipe failed:", err)
		return
	}
	scheduler.OnCocktailMade()
	fmt.Println("recipe", r.ID, "complete")

	triggerAutoClean(f, cleaner, scheduler)
}

// triggerAutoClean consults the maintenance scheduler after a recipe
// has fully completed (never while one is in flight) and, if due,
// launches the indicated cleaning cycle across every fleet pump.
// cleaner.Start itself acquires the fleet marker, so this is a no-op
// if another operation is already holding it.
func triggerAutoClean(f *fleet.Fleet, cleaner *cleaning.Controller, scheduler *cleaning.MaintenanceScheduler) {
	if cleaner.IsRunning() {
		return
	}
	due, mode := scheduler.NeedsCleaning(time.Now())
	if !due {
		return
	}
	cycle, ok := cleaning.BuiltinCycles[mode]
	if !ok {
		return
	}

	pumpIDs := fleetPumpIDs(f)
	go func() {
		log.Printf("cocktailcored: auto-triggering %s clean", mode)
		if err := cleaner.Start(cycle, pumpIDs); err != nil {
			log.Printf("cocktailcored: auto-clean %s failed: %v", mode, err)
			return
		}
		if mode == cleaning.Quick {
			scheduler.ResetQuickCounter()
		}
	}()
}

func fleetPumpIDs(f *fleet.Fleet) []int {
	snap := f.Snapshot()
	ids := make([]int, 0, len(snap.Pumps))
	for _, p := range snap.Pumps {
		ids = append(ids, p.PumpID)
	}
	return ids
}

func handleClean(cleaner *cleaning.Controller, scheduler *cleaning.MaintenanceScheduler, fields []string) {
	if len(fields) < 2 {
		fmt.Println("usage: clean <quick|standard|deep|sanitize_only> <pump_ids...>")
		return
	}
	mode := cleaning.Mode(fields[1])
	cycle, ok := cleaning.BuiltinCycles[mode]
	if !ok {
		fmt.Println("unknown cleaning mode:", fields[1])
		return
	}
	pumpIDs := make([]int, 0, len(fields)-2)
	for _, s := range fields[2:] {
		id, err := strconv.Atoi(s)
		if err != nil {
			fmt.Println("invalid pump id:", s)
			return
		}
		pumpIDs = append(pumpIDs, id)
	}
	go func() {
		if err := cleaner.Start(cycle, pumpIDs); err != nil {
			log.Printf("cleaning cycle %s ended: %v", mode, err)
			return
		}
		if mode == cleaning.Quick {
			scheduler.ResetQuickCounter()
		}
	}()
}

func printStatus(f *fleet.Fleet) {
	snap := f.Snapshot()
	fmt.Printf("emergency_stop=%v current_operation=%s\n", snap.EmergencyStop, snap.CurrentOperation.Kind)
	for _, p := range snap.Pumps {
		fmt.Printf("  pump %d (%s): status=%s dispensed=%.1fml runtime=%.1fs calibration=%.3f\n",
			p.PumpID, p.Ingredient, p.Status, p.VolumeDispensedMl, p.TotalRuntimeS, p.CalibrationFactor)
	}
}
