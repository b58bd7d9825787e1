package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Component identifies one movement-parameter component on its sampling
// scale. Priors, proposal spreads and homogeneity constraints are all
// indexed by component.
type Component int

const (
	CompMuX Component = iota
	CompMuY
	CompB
	CompLogV
	numComponents
)

// ComponentNames maps the configuration-file spelling of each component
// to its index.
var ComponentNames = map[string]Component{
	"mu_x":         CompMuX,
	"mu_y":         CompMuY,
	"attraction":   CompB,
	"log_variance": CompLogV,
}

// Prior is a Gaussian prior on a component's sampling scale.
type Prior struct {
	Mean float64
	SD   float64
}

// UpdaterConfig carries priors, random-walk proposal spreads and
// homogeneity flags per component. A homogeneous component holds a
// single shared value across states and receives one proposal per
// sweep instead of one per state.
type UpdaterConfig struct {
	Priors      [4]Prior
	ProposalSD  [4]float64
	Homogeneous [4]bool
}

// Validate rejects configurations that would silently change model
// semantics: non-positive prior or proposal spreads.
func (c UpdaterConfig) Validate() error {
	for i := 0; i < int(numComponents); i++ {
		if c.Priors[i].SD <= 0 {
			return fmt.Errorf("movement prior %d: sd must be positive, got %g", i, c.Priors[i].SD)
		}
		if c.ProposalSD[i] <= 0 {
			return fmt.Errorf("movement proposal %d: sd must be positive, got %g", i, c.ProposalSD[i])
		}
	}
	return nil
}

// Updater performs component-wise Gaussian random-walk Metropolis moves
// over movement parameters against a caller-supplied log-likelihood of
// the full augmented dataset.
type Updater struct {
	cfg UpdaterConfig
}

// NewUpdater builds an Updater. The config must already be validated.
func NewUpdater(cfg UpdaterConfig) *Updater {
	return &Updater{cfg: cfg}
}

// get reads component c of state s on the sampling scale.
func get(p *Params, s int, c Component) float64 {
	switch c {
	case CompMuX:
		return p.Mu[s][0]
	case CompMuY:
		return p.Mu[s][1]
	case CompB:
		return p.B[s]
	default:
		return p.LogV[s]
	}
}

// set writes component c of state s on the sampling scale.
func set(p *Params, s int, c Component, v float64) {
	switch c {
	case CompMuX:
		p.Mu[s][0] = v
	case CompMuY:
		p.Mu[s][1] = v
	case CompB:
		p.B[s] = v
	default:
		p.LogV[s] = v
	}
}

// valid reports whether the proposed sampling-scale value keeps the
// component inside its natural-unit constraint for state s. Attraction
// proposals that leave beta = -B non-positive are rejected outright.
func valid(p *Params, s int, c Component, v float64) bool {
	if c == CompB && p.Kinds[s] == OrnsteinUhlenbeck && v >= 0 {
		return false
	}
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Update performs one sweep of component-wise Metropolis moves, mutating
// p in place only for accepted proposals. logLik must return the
// log-likelihood of the full augmented dataset under the given
// parameters. Returns the number of accepted moves.
func (u *Updater) Update(p *Params, logLik func(*Params) float64, rng *rand.Rand) int {
	accepted := 0
	curLik := logLik(p)

	for c := Component(0); c < numComponents; c++ {
		states := u.targets(p, c)
		if len(states) == 0 {
			continue
		}
		if u.cfg.Homogeneous[c] {
			// One shared proposal applied to every state.
			delta := rng.NormFloat64() * u.cfg.ProposalSD[c]
			cand := p.Clone()
			ok := true
			var dPrior float64
			for _, s := range states {
				v := get(p, s, c) + delta
				if !valid(p, s, c, v) {
					ok = false
					break
				}
				set(cand, s, c, v)
			}
			if !ok {
				continue
			}
			// The shared component carries one prior evaluation, not
			// one per state, so a constrained component is not
			// over-penalised.
			prior := distuv.Normal{Mu: u.cfg.Priors[c].Mean, Sigma: u.cfg.Priors[c].SD}
			dPrior = prior.LogProb(get(cand, states[0], c)) - prior.LogProb(get(p, states[0], c))

			candLik := logLik(cand)
			if accept(candLik+dPrior-curLik, rng) {
				*p = *cand
				curLik = candLik
				accepted++
			}
			continue
		}

		for _, s := range states {
			v := get(p, s, c) + rng.NormFloat64()*u.cfg.ProposalSD[c]
			if !valid(p, s, c, v) {
				continue
			}
			cand := p.Clone()
			set(cand, s, c, v)

			prior := distuv.Normal{Mu: u.cfg.Priors[c].Mean, Sigma: u.cfg.Priors[c].SD}
			dPrior := prior.LogProb(v) - prior.LogProb(get(p, s, c))

			candLik := logLik(cand)
			if accept(candLik+dPrior-curLik, rng) {
				*p = *cand
				curLik = candLik
				accepted++
			}
		}
	}
	return accepted
}

// targets lists the states whose component c is subject to update.
// Attraction only exists for Ornstein–Uhlenbeck states.
func (u *Updater) targets(p *Params, c Component) []int {
	states := make([]int, 0, p.NumStates())
	for s := 0; s < p.NumStates(); s++ {
		if c == CompB && p.Kinds[s] != OrnsteinUhlenbeck {
			continue
		}
		states = append(states, s)
	}
	return states
}

// accept applies the Metropolis rule to a log acceptance ratio.
func accept(logRatio float64, rng *rand.Rand) bool {
	if logRatio >= 0 {
		return true
	}
	return rng.Float64() < math.Exp(logRatio)
}
