// Package config loads and validates the run configuration: initial
// parameter values, priors, proposal spreads, homogeneity constraints
// and the sampler control parameters. Fields omitted from the JSON file
// fall back to defaults where a default cannot change model semantics;
// everything semantic is required and validated before any iteration
// runs.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/wildtrack/switchmcmc/internal/chain"
	"github.com/wildtrack/switchmcmc/internal/model"
	"github.com/wildtrack/switchmcmc/internal/rates"
)

// PriorSpec is a Gaussian prior on a component's sampling scale.
type PriorSpec struct {
	Mean float64 `json:"mean"`
	SD   float64 `json:"sd"`
}

// RunConfig is the top-level configuration schema. Control parameters
// are pointer-typed so partial configs are safe: omitted fields take
// documented defaults.
type RunConfig struct {
	States     *int     `json:"states,omitempty"`
	Kappa      *float64 `json:"kappa,omitempty"`
	LenMin     *int     `json:"len_min,omitempty"`
	LenMax     *int     `json:"len_max,omitempty"`
	Thin       *int     `json:"thin,omitempty"`
	Iterations *int     `json:"iterations,omitempty"`

	PrUpdateMove    *float64 `json:"pr_update_move,omitempty"`
	RefineSD        *float64 `json:"refine_sd,omitempty"`
	MaxRetries      *int     `json:"max_retries,omitempty"`
	CheckpointEvery *int     `json:"checkpoint_every,omitempty"`
	Seed            *uint64  `json:"seed,omitempty"`

	// Movement model: one entry per state.
	ProcessKinds      []string     `json:"process_kinds"` // "rw" or "ou"
	InitialMu         [][2]float64 `json:"initial_mu"`
	InitialAttraction []float64    `json:"initial_attraction"`
	InitialVariance   []float64    `json:"initial_variance"`

	// Priors and proposals, keyed by component name: mu_x, mu_y,
	// attraction, log_variance.
	Priors      map[string]PriorSpec `json:"priors"`
	ProposalSD  map[string]float64   `json:"proposal_sd"`
	Homogeneous []string             `json:"homogeneous,omitempty"`

	// Switching rates. Exactly one of InitialRates (ordered state-pair
	// matrix) or InitialHabitatRates (adaptive variant) must be set.
	InitialRates        [][]float64 `json:"initial_rates,omitempty"`
	InitialHabitatRates []float64   `json:"initial_habitat_rates,omitempty"`
	RatePriorA          *float64    `json:"rate_prior_a,omitempty"`
	RatePriorB          *float64    `json:"rate_prior_b,omitempty"`
}

// Defaults for control parameters that do not alter model semantics.
const (
	DefaultThin         = 10
	DefaultPrUpdateMove = 0.5
	DefaultMaxRetries   = 50
	DefaultRatePrior    = 1.0
	DefaultSeed         = 1
)

// Load reads and validates a RunConfig from a JSON file.
func Load(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fails fast with a descriptive cause on any configuration
// that is missing, inconsistent with the state count, or would change
// model semantics if silently defaulted.
func (c *RunConfig) Validate() error {
	if c.States == nil || *c.States < 2 {
		return fmt.Errorf("config: states must be set to at least 2")
	}
	s := *c.States
	if c.Kappa == nil || *c.Kappa <= 0 {
		return fmt.Errorf("config: kappa must be set to a positive value")
	}
	if c.Iterations == nil || *c.Iterations <= 0 {
		return fmt.Errorf("config: iterations must be set to a positive value")
	}
	if c.LenMin == nil || c.LenMax == nil {
		return fmt.Errorf("config: len_min and len_max must be set")
	}
	if *c.LenMin < 2 || *c.LenMax < *c.LenMin {
		return fmt.Errorf("config: window lengths invalid: len_min=%d len_max=%d", *c.LenMin, *c.LenMax)
	}

	if len(c.ProcessKinds) != s {
		return fmt.Errorf("config: process_kinds has %d entries, want %d", len(c.ProcessKinds), s)
	}
	for i, k := range c.ProcessKinds {
		if k != "rw" && k != "ou" {
			return fmt.Errorf("config: process_kinds[%d] must be \"rw\" or \"ou\", got %q", i, k)
		}
	}
	if len(c.InitialMu) != s || len(c.InitialAttraction) != s || len(c.InitialVariance) != s {
		return fmt.Errorf("config: initial parameter vectors must all have %d entries (mu=%d attraction=%d variance=%d)",
			s, len(c.InitialMu), len(c.InitialAttraction), len(c.InitialVariance))
	}
	for i := 0; i < s; i++ {
		if c.InitialVariance[i] <= 0 {
			return fmt.Errorf("config: initial_variance[%d] must be positive, got %g", i, c.InitialVariance[i])
		}
		if c.ProcessKinds[i] == "ou" && c.InitialAttraction[i] <= 0 {
			return fmt.Errorf("config: initial_attraction[%d] must be positive for an OU state, got %g",
				i, c.InitialAttraction[i])
		}
	}

	for _, name := range []string{"mu_x", "mu_y", "attraction", "log_variance"} {
		p, ok := c.Priors[name]
		if !ok {
			return fmt.Errorf("config: prior %q is required", name)
		}
		if p.SD <= 0 {
			return fmt.Errorf("config: prior %q sd must be positive, got %g", name, p.SD)
		}
		sd, ok := c.ProposalSD[name]
		if !ok {
			return fmt.Errorf("config: proposal_sd %q is required", name)
		}
		if sd <= 0 {
			return fmt.Errorf("config: proposal_sd %q must be positive, got %g", name, sd)
		}
	}
	if p := c.Priors["attraction"]; p.Mean > 0 {
		// Attraction is sampled as its negative; a positive prior mean
		// on the sampling scale would put mass on negative attraction.
		return fmt.Errorf("config: attraction prior mean must be non-positive on the sampling scale, got %g", p.Mean)
	}
	for _, name := range c.Homogeneous {
		if _, ok := model.ComponentNames[name]; !ok {
			return fmt.Errorf("config: unknown homogeneous component %q", name)
		}
		if err := c.checkHomogeneousInitial(name); err != nil {
			return err
		}
	}

	hasPair := len(c.InitialRates) > 0
	hasHabitat := len(c.InitialHabitatRates) > 0
	if hasPair == hasHabitat {
		return fmt.Errorf("config: exactly one of initial_rates or initial_habitat_rates must be set")
	}
	if c.RatePriorA != nil && *c.RatePriorA <= 0 {
		return fmt.Errorf("config: rate_prior_a must be positive, got %g", *c.RatePriorA)
	}
	if c.RatePriorB != nil && *c.RatePriorB <= 0 {
		return fmt.Errorf("config: rate_prior_b must be positive, got %g", *c.RatePriorB)
	}

	if c.PrUpdateMove != nil && (*c.PrUpdateMove < 0 || *c.PrUpdateMove > 1) {
		return fmt.Errorf("config: pr_update_move must be in [0,1], got %g", *c.PrUpdateMove)
	}
	if c.RefineSD == nil || *c.RefineSD < 0 {
		return fmt.Errorf("config: refine_sd must be set to a non-negative value")
	}
	return nil
}

// checkHomogeneousInitial rejects initial values that differ across
// states for a component flagged homogeneous. The updater moves a
// homogeneous component by one shared delta, so states that start
// unequal stay unequal for the whole run.
func (c *RunConfig) checkHomogeneousInitial(name string) error {
	value := func(i int) float64 {
		switch name {
		case "mu_x":
			return c.InitialMu[i][0]
		case "mu_y":
			return c.InitialMu[i][1]
		case "attraction":
			return c.InitialAttraction[i]
		default:
			return c.InitialVariance[i]
		}
	}
	ref, haveRef := 0.0, false
	for i := 0; i < *c.States; i++ {
		// Attraction is only a parameter of OU states.
		if name == "attraction" && c.ProcessKinds[i] != "ou" {
			continue
		}
		if !haveRef {
			ref, haveRef = value(i), true
			continue
		}
		if value(i) != ref {
			return fmt.Errorf("config: homogeneous component %q has unequal initial values (%g vs %g at state %d)",
				name, ref, value(i), i+1)
		}
	}
	return nil
}

// ratePrior returns the Beta shape pair with defaults applied.
func (c *RunConfig) ratePrior() (a, b float64) {
	a, b = DefaultRatePrior, DefaultRatePrior
	if c.RatePriorA != nil {
		a = *c.RatePriorA
	}
	if c.RatePriorB != nil {
		b = *c.RatePriorB
	}
	return a, b
}

// BuildParams constructs the initial movement parameters on the
// sampling scale.
func (c *RunConfig) BuildParams() (*model.Params, error) {
	s := *c.States
	p := &model.Params{
		Kinds: make([]model.ProcessKind, s),
		Mu:    make([][2]float64, s),
		B:     make([]float64, s),
		LogV:  make([]float64, s),
	}
	for i := 0; i < s; i++ {
		if c.ProcessKinds[i] == "ou" {
			p.Kinds[i] = model.OrnsteinUhlenbeck
		}
		p.Mu[i] = c.InitialMu[i]
		p.B[i] = -c.InitialAttraction[i]
		p.LogV[i] = math.Log(c.InitialVariance[i])
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// BuildRates constructs the switching-rate variant selected by the
// configuration.
func (c *RunConfig) BuildRates() (rates.Model, error) {
	a, b := c.ratePrior()
	if len(c.InitialHabitatRates) > 0 {
		return rates.NewHabitatRates(*c.Kappa, c.InitialHabitatRates, *c.States, a, b)
	}
	return rates.NewPairRates(*c.Kappa, c.InitialRates, a, b)
}

// BuildUpdaterConfig assembles priors, proposal spreads and homogeneity
// flags for the parameter updater.
func (c *RunConfig) BuildUpdaterConfig() (model.UpdaterConfig, error) {
	var uc model.UpdaterConfig
	for name, comp := range model.ComponentNames {
		p := c.Priors[name]
		uc.Priors[comp] = model.Prior{Mean: p.Mean, SD: p.SD}
		uc.ProposalSD[comp] = c.ProposalSD[name]
	}
	for _, name := range c.Homogeneous {
		uc.Homogeneous[model.ComponentNames[name]] = true
	}
	if err := uc.Validate(); err != nil {
		return model.UpdaterConfig{}, err
	}
	return uc, nil
}

// BuildDriverConfig assembles the sampler control parameters with
// defaults applied.
func (c *RunConfig) BuildDriverConfig() chain.Config {
	dc := chain.Config{
		LenMin:       *c.LenMin,
		LenMax:       *c.LenMax,
		Thin:         DefaultThin,
		PrUpdateMove: DefaultPrUpdateMove,
		RefineSD:     *c.RefineSD,
		Iterations:   *c.Iterations,
		MaxRetries:   DefaultMaxRetries,
	}
	if c.Thin != nil {
		dc.Thin = *c.Thin
	}
	if c.PrUpdateMove != nil {
		dc.PrUpdateMove = *c.PrUpdateMove
	}
	if c.MaxRetries != nil {
		dc.MaxRetries = *c.MaxRetries
	}
	if c.CheckpointEvery != nil {
		dc.CheckpointEvery = *c.CheckpointEvery
	}
	return dc
}

// SeedValue returns the PCG seed with the default applied.
func (c *RunConfig) SeedValue() uint64 {
	if c.Seed != nil {
		return *c.Seed
	}
	return DefaultSeed
}
