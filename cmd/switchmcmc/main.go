// Command switchmcmc runs one MCMC chain of the switching-diffusion
// movement model: it reads a fix table and a run configuration, samples
// the posterior over movement parameters, switching rates and the
// latent switch history, and appends thinned parameter/rate traces to
// timestamped CSV files.
package main

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/wildtrack/switchmcmc/internal/chain"
	"github.com/wildtrack/switchmcmc/internal/checkpoint"
	"github.com/wildtrack/switchmcmc/internal/config"
	"github.com/wildtrack/switchmcmc/internal/habitat"
	"github.com/wildtrack/switchmcmc/internal/model"
	"github.com/wildtrack/switchmcmc/internal/trace"
)

var (
	fixesPath    = flag.String("fixes", "", "CSV table of fixes (columns: x,y,t and optional state)")
	configPath   = flag.String("config", "", "Run configuration JSON")
	habitatPath  = flag.String("habitat", "", "Optional habitat raster JSON")
	outDir       = flag.String("out", "traces", "Directory for trace output")
	checkpointDB = flag.String("checkpoint-db", "", "Optional SQLite checkpoint database")
	resumeRun    = flag.String("resume", "", "Resume the run with this identifier from the checkpoint database")
	seedOverride = flag.Uint64("seed", 0, "Override the configured random seed (0 keeps the config value)")
)

func main() {
	flag.Parse()
	if *fixesPath == "" || *configPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(); err != nil {
		log.Fatalf("switchmcmc: %v", err)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	var regions habitat.Map = habitat.Single{}
	if *habitatPath != "" {
		raster, err := habitat.Load(*habitatPath)
		if err != nil {
			return err
		}
		regions = raster
	}

	fixes, err := loadFixes(*fixesPath, *cfg.States, regions)
	if err != nil {
		return err
	}
	obs, err := chain.NewObservationStore(fixes)
	if err != nil {
		return err
	}

	params, err := cfg.BuildParams()
	if err != nil {
		return err
	}
	rateModel, err := cfg.BuildRates()
	if err != nil {
		return err
	}
	updaterCfg, err := cfg.BuildUpdaterConfig()
	if err != nil {
		return err
	}

	state := &chain.ChainState{
		Obs:      obs,
		Switches: chain.NewSwitchSet(),
		Params:   params,
		Rates:    rateModel,
	}

	runID := uuid.NewString()
	var store *checkpoint.Store
	if *checkpointDB != "" {
		if store, err = checkpoint.Open(*checkpointDB); err != nil {
			return err
		}
		defer store.Close()
	}
	if *resumeRun != "" {
		if store == nil {
			return fmt.Errorf("resume requires -checkpoint-db")
		}
		snap, err := store.Load(*resumeRun)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("no checkpoint found for run %q", *resumeRun)
		}
		if err != nil {
			return err
		}
		if err := snap.Restore(state); err != nil {
			return err
		}
		runID = *resumeRun
		log.Printf("resumed run %s at iteration %d", runID, state.Iteration)
	}

	seed := cfg.SeedValue()
	if *seedOverride != 0 {
		seed = *seedOverride
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	start := time.Now()
	sink, err := trace.NewRun(*outDir, start, state.Params.TraceHeader(), state.Rates.TraceHeader())
	if err != nil {
		return err
	}
	defer sink.Close()

	driver, err := chain.NewDriver(cfg.BuildDriverConfig(), state, model.NewUpdater(updaterCfg), regions, sink, rng)
	if err != nil {
		return err
	}
	if store != nil {
		driver.Checkpoint = func(cs *chain.ChainState) error {
			snap, err := checkpoint.Capture(runID, cs)
			if err != nil {
				return err
			}
			return store.Save(snap)
		}
	}

	log.Printf("run %s: %d fixes, %d states, %d iterations, seed %d",
		runID, obs.Len(), params.NumStates(), *cfg.Iterations, seed)

	if err := driver.Run(); err != nil {
		return err
	}

	st := driver.Stats
	log.Printf("done: window accept %d/%d (sim failures %d), param accepts %d over %d sweeps, refine accept %d/%d",
		st.WindowAccepted, st.WindowProposed, st.SimFailures,
		st.ParamAccepted, st.ParamSweeps,
		st.RefineAccepted, st.RefineProposed)
	log.Printf("traces: %s %s", sink.ParamsPath, sink.RatesPath)
	return nil
}

// loadFixes reads the fix table. The CSV must have a header naming at
// least x, y and t columns; an optional state column supplies initial
// labels, otherwise every fix starts in state 1. Malformed rows are
// setup failures; the sampler never sees bad data.
func loadFixes(path string, nStates int, regions habitat.Map) ([]chain.Fix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixes: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read fixes header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[name] = i
	}
	for _, name := range []string{"x", "y", "t"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("fixes table missing required column %q", name)
		}
	}
	stateCol, hasState := col["state"]

	var fixes []chain.Fix
	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("fixes line %d: %w", line+1, err)
		}
		line++
		x, err := strconv.ParseFloat(rec[col["x"]], 64)
		if err != nil {
			return nil, fmt.Errorf("fixes line %d: bad x: %w", line, err)
		}
		y, err := strconv.ParseFloat(rec[col["y"]], 64)
		if err != nil {
			return nil, fmt.Errorf("fixes line %d: bad y: %w", line, err)
		}
		t, err := strconv.ParseFloat(rec[col["t"]], 64)
		if err != nil {
			return nil, fmt.Errorf("fixes line %d: bad t: %w", line, err)
		}
		state := 1
		if hasState {
			state, err = strconv.Atoi(rec[stateCol])
			if err != nil || state < 1 || state > nStates {
				return nil, fmt.Errorf("fixes line %d: state must be an integer in 1..%d", line, nStates)
			}
		}
		fixes = append(fixes, chain.Fix{
			X: x, Y: y, T: t,
			State:   state,
			Habitat: regions.Region(x, y),
		})
	}
	return fixes, nil
}
