package chain

import (
	"fmt"
	"math/rand/v2"

	"github.com/wildtrack/switchmcmc/internal/habitat"
	"github.com/wildtrack/switchmcmc/internal/model"
	"github.com/wildtrack/switchmcmc/internal/monitoring"
	"github.com/wildtrack/switchmcmc/internal/rates"
)

// ChainState is the complete mutable state of one chain: the unit that
// checkpointing persists and restores. The Driver owns it exclusively;
// no component keeps hidden state of its own.
type ChainState struct {
	Obs       *ObservationStore
	Switches  *SwitchSet
	Params    *model.Params
	Rates     rates.Model
	Iteration int
}

// Augmented builds the full time-ordered augmented dataset: the merge
// of all fixes and all inferred switch events, tagged per element. It
// is rebuilt once per use; components receive it read-only.
func (cs *ChainState) Augmented() []Point {
	return MergeAugmented(cs.Obs.Window(0, cs.Obs.Len()), 0, cs.Switches.All(), 0)
}

// CollectCounts tallies the rate-update sufficient statistics from an
// augmented trajectory: per-state and per-habitat sojourn exposures,
// and realized jump counts attributed to the habitat of the sojourn
// they end (the habitat of the segment's starting point).
func CollectCounts(points []Point, nStates, nHabitats int) rates.Counts {
	c := rates.NewCounts(nStates, nHabitats)
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		dt := b.T - a.T
		c.StateTime[a.State-1] += dt
		if a.Habitat >= 0 && a.Habitat < nHabitats {
			c.HabTime[a.Habitat] += dt
		}
		if b.Kind == KindSwitch {
			c.PairJumps[a.State-1][b.State-1]++
			if a.Habitat >= 0 && a.Habitat < nHabitats {
				c.HabJumps[a.Habitat]++
			}
		}
	}
	return c
}

// TraceSink receives parameter and rate trace rows on thinning
// boundaries. Rows arrive in strictly increasing iteration order.
type TraceSink interface {
	WriteParams(iteration int, row []float64) error
	WriteRates(iteration int, row []float64) error
}

// Config carries the run-scoped control parameters of the sampler.
type Config struct {
	LenMin, LenMax  int     // fix-window length range, inclusive
	Thin            int     // trace emission stride
	PrUpdateMove    float64 // probability of a parameter sweep per iteration
	RefineSD        float64 // local refinement proposal spread
	Iterations      int
	MaxRetries      int // simulator retry budget
	CheckpointEvery int // 0 disables checkpointing
}

// Validate fails fast on control parameters that would stall or skew
// the sampler.
func (c Config) Validate() error {
	if c.LenMin < 2 {
		return fmt.Errorf("driver config: len_min must be at least 2, got %d", c.LenMin)
	}
	if c.LenMax < c.LenMin {
		return fmt.Errorf("driver config: len_max %d smaller than len_min %d", c.LenMax, c.LenMin)
	}
	if c.Thin <= 0 {
		return fmt.Errorf("driver config: thin must be positive, got %d", c.Thin)
	}
	if c.PrUpdateMove < 0 || c.PrUpdateMove > 1 {
		return fmt.Errorf("driver config: pr_update_move must be in [0,1], got %g", c.PrUpdateMove)
	}
	if c.RefineSD < 0 {
		return fmt.Errorf("driver config: refine_sd must be non-negative, got %g", c.RefineSD)
	}
	if c.Iterations <= 0 {
		return fmt.Errorf("driver config: iterations must be positive, got %d", c.Iterations)
	}
	return nil
}

// Counters aggregates per-move acceptance statistics for end-of-run
// reporting.
type Counters struct {
	WindowProposed, WindowAccepted int
	SimFailures                    int
	ParamSweeps, ParamAccepted     int
	RefineProposed, RefineAccepted int
}

// Driver orchestrates one chain. It owns the ChainState and is the only
// component that mutates the observation store and switch set.
type Driver struct {
	cfg     Config
	state   *ChainState
	sim     *Simulator
	updater *model.Updater
	refiner *Refiner
	regions habitat.Map
	rng     *rand.Rand
	sink    TraceSink

	// Checkpoint, when non-nil, is invoked every CheckpointEvery
	// iterations with the current chain state.
	Checkpoint func(*ChainState) error

	Stats Counters
}

// NewDriver wires a Driver from validated parts. The rng is the
// chain's single source of randomness; a fixed seed reproduces the run
// bit for bit.
func NewDriver(cfg Config, state *ChainState, updater *model.Updater, regions habitat.Map, sink TraceSink, rng *rand.Rand) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if regions == nil {
		regions = habitat.Single{}
	}
	return &Driver{
		cfg:     cfg,
		state:   state,
		sim:     NewSimulator(cfg.MaxRetries, regions),
		updater: updater,
		refiner: NewRefiner(cfg.RefineSD, regions),
		regions: regions,
		rng:     rng,
		sink:    sink,
	}, nil
}

// State exposes the chain state for inspection and checkpointing.
func (d *Driver) State() *ChainState { return d.state }

// Run executes the configured number of iterations sequentially.
// Iteration-level conditions never abort the chain; only trace or
// checkpoint I/O failures propagate.
func (d *Driver) Run() error {
	progress := d.cfg.Iterations / 10
	for i := 0; i < d.cfg.Iterations; i++ {
		if err := d.Step(); err != nil {
			return err
		}
		if progress > 0 && (i+1)%progress == 0 {
			monitoring.Logf("chain: iteration %d/%d, %d switch points, window acceptance %.2f",
				d.state.Iteration, d.cfg.Iterations, d.state.Switches.Len(),
				float64(d.Stats.WindowAccepted)/float64(d.Stats.WindowProposed))
		}
	}
	return nil
}

// Step runs one full iteration of the update cycle.
func (d *Driver) Step() error {
	d.state.Iteration++

	// 1. Window selection: length uniform on [LenMin, LenMax], start
	// uniform over valid positions.
	n := d.cfg.LenMin + d.rng.IntN(d.cfg.LenMax-d.cfg.LenMin+1)
	if n > d.state.Obs.Len() {
		n = d.state.Obs.Len()
	}
	start := d.rng.IntN(d.state.Obs.Len() - n + 1)
	win := d.state.Obs.Window(start, n)
	tBeg, tEnd := win[0].T, win[n-1].T

	// 2. Trajectory proposal.
	d.Stats.WindowProposed++
	prop, status := d.sim.Propose(win, start, d.state.Params, d.state.Rates, d.rng)
	simFailed := status != SimOK
	if simFailed {
		d.Stats.SimFailures++
	} else {
		// 3. Accept/reject on the Hastings ratio with one fresh
		// uniform draw.
		curEvs, evBase := d.state.Switches.Between(tBeg, tEnd)
		cur := MergeAugmented(win, start, curEvs, evBase)
		hr := HastingsRatio(prop.Points, cur, d.state.Params)
		if hr >= 1 || d.rng.Float64() < hr {
			d.accept(prop, tBeg, tEnd)
			d.Stats.WindowAccepted++
		}
	}

	// 4. Movement-parameter sweep, gated by PrUpdateMove.
	if d.rng.Float64() < d.cfg.PrUpdateMove {
		aug := d.state.Augmented()
		d.Stats.ParamSweeps++
		d.Stats.ParamAccepted += d.updater.Update(d.state.Params, func(p *model.Params) float64 {
			return PathLogLik(aug, p)
		}, d.rng)
	}

	// 5. Switching-rate update: only when this iteration's simulation
	// succeeded and at least one switch exists.
	if !simFailed && d.state.Switches.Len() > 0 {
		counts := CollectCounts(d.state.Augmented(), d.state.Params.NumStates(), d.regions.Regions())
		d.state.Rates.Update(counts, d.rng)
	}

	// 6. Local refinement.
	if d.state.Switches.Len() > 0 {
		d.Stats.RefineProposed++
		if d.refiner.Step(d.state, d.state.Augmented(), d.rng) {
			d.Stats.RefineAccepted++
		}
	}

	// 7. Trace emission on thinning boundaries.
	if d.sink != nil && d.state.Iteration%d.cfg.Thin == 0 {
		if err := d.sink.WriteParams(d.state.Iteration, d.state.Params.TraceRow()); err != nil {
			return fmt.Errorf("trace params: %w", err)
		}
		if err := d.sink.WriteRates(d.state.Iteration, d.state.Rates.TraceRow()); err != nil {
			return fmt.Errorf("trace rates: %w", err)
		}
	}

	// 8. Checkpoint boundary.
	if d.Checkpoint != nil && d.cfg.CheckpointEvery > 0 && d.state.Iteration%d.cfg.CheckpointEvery == 0 {
		if err := d.Checkpoint(d.state); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
	}
	return nil
}

// accept applies an accepted candidate window: relabel the states of
// every fix with time in the closed interval [tBeg, tEnd] and replace
// the switch set's coverage of (tBeg, tEnd) wholesale.
func (d *Driver) accept(prop *Proposal, tBeg, tEnd float64) {
	for _, i := range prop.FixIdx {
		pt := prop.Points[i]
		if pt.T >= tBeg && pt.T <= tEnd {
			d.state.Obs.SetState(pt.Index, pt.State)
		}
	}
	d.state.Switches.ReplaceRange(tBeg, tEnd, prop.Events())
}
