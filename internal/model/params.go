// Package model implements the state-dependent movement model: per-state
// process kinds (random walk or Ornstein–Uhlenbeck), movement parameters
// on their sampling scale, Gaussian transition densities, and the
// random-walk Metropolis parameter updater.
package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// ProcessKind selects the movement law for one behavioural state.
type ProcessKind uint8

const (
	// RandomWalk is Brownian motion with constant drift Mu and
	// per-unit-time variance V.
	RandomWalk ProcessKind = iota
	// OrnsteinUhlenbeck is mean-reverting motion attracted to the
	// centre Mu with strength -B and stationary-scale variance V.
	OrnsteinUhlenbeck
)

// bZeroEps is the |b| threshold below which the OU variance integral is
// replaced by its b -> 0 limit (v*dt) to avoid 0/0.
const bZeroEps = 1e-12

// Params holds all movement parameters, indexed by state, on the
// sampling scale: the attraction strength beta >= 0 is stored negated
// (B = -beta) and the variance is stored as its logarithm. Natural-unit
// accessors recover beta and v.
type Params struct {
	Kinds []ProcessKind // movement law per state
	Mu    [][2]float64  // OU centre or RW drift, natural scale
	B     []float64     // negated attraction; ignored for RandomWalk states
	LogV  []float64     // log diffusion variance
}

// NumStates returns the number of behavioural states.
func (p *Params) NumStates() int { return len(p.Kinds) }

// Variance returns the diffusion variance of state s in natural units.
func (p *Params) Variance(s int) float64 { return math.Exp(p.LogV[s]) }

// Attraction returns the attraction strength of state s in natural
// units (beta = -B >= 0). Zero for random-walk states.
func (p *Params) Attraction(s int) float64 {
	if p.Kinds[s] == RandomWalk {
		return 0
	}
	return -p.B[s]
}

// Clone returns a deep copy. Used to stage parameter proposals so a
// rejected move leaves the current values untouched.
func (p *Params) Clone() *Params {
	c := &Params{
		Kinds: make([]ProcessKind, len(p.Kinds)),
		Mu:    make([][2]float64, len(p.Mu)),
		B:     make([]float64, len(p.B)),
		LogV:  make([]float64, len(p.LogV)),
	}
	copy(c.Kinds, p.Kinds)
	copy(c.Mu, p.Mu)
	copy(c.B, p.B)
	copy(c.LogV, p.LogV)
	return c
}

// Validate checks vector lengths against the state count and that every
// parameter is finite and within its constraint.
func (p *Params) Validate() error {
	n := len(p.Kinds)
	if n == 0 {
		return fmt.Errorf("movement params: at least one state required")
	}
	if len(p.Mu) != n || len(p.B) != n || len(p.LogV) != n {
		return fmt.Errorf("movement params: mu/b/logv lengths (%d/%d/%d) do not match %d states",
			len(p.Mu), len(p.B), len(p.LogV), n)
	}
	for s := 0; s < n; s++ {
		if math.IsNaN(p.Mu[s][0]) || math.IsNaN(p.Mu[s][1]) {
			return fmt.Errorf("movement params: state %d has NaN mu", s+1)
		}
		if math.IsNaN(p.LogV[s]) || math.IsInf(p.LogV[s], 0) {
			return fmt.Errorf("movement params: state %d has non-finite log variance", s+1)
		}
		if p.Kinds[s] == OrnsteinUhlenbeck && p.B[s] >= 0 {
			return fmt.Errorf("movement params: state %d attraction must be positive, got %g", s+1, -p.B[s])
		}
	}
	return nil
}

// Step describes the Gaussian transition over one movement segment:
// independent x and y components with means (MeanX, MeanY) and common
// variance Var.
type Step struct {
	MeanX, MeanY float64
	Var          float64
}

// Transition returns the distribution of the position at t0+dt given
// position (x, y) at t0 under state s.
func (p *Params) Transition(s int, x, y, dt float64) Step {
	v := p.Variance(s)
	switch p.Kinds[s] {
	case OrnsteinUhlenbeck:
		b := p.B[s]
		if b > -bZeroEps {
			return Step{MeanX: x, MeanY: y, Var: v * dt}
		}
		w := math.Exp(b * dt)
		return Step{
			MeanX: p.Mu[s][0] + w*(x-p.Mu[s][0]),
			MeanY: p.Mu[s][1] + w*(y-p.Mu[s][1]),
			Var:   v * (1 - math.Exp(2*b*dt)) / (-2 * b),
		}
	default: // RandomWalk
		return Step{
			MeanX: x + p.Mu[s][0]*dt,
			MeanY: y + p.Mu[s][1]*dt,
			Var:   v * dt,
		}
	}
}

// LogTransition returns the log transition density of moving from
// (x0, y0) to (x1, y1) over dt under state s.
func (p *Params) LogTransition(s int, x0, y0, x1, y1, dt float64) float64 {
	st := p.Transition(s, x0, y0, dt)
	if st.Var <= 0 || math.IsNaN(st.Var) {
		return math.Inf(-1)
	}
	sd := math.Sqrt(st.Var)
	nx := distuv.Normal{Mu: st.MeanX, Sigma: sd}
	ny := distuv.Normal{Mu: st.MeanY, Sigma: sd}
	return nx.LogProb(x1) + ny.LogProb(y1)
}

// SampleStep draws the position at t0+dt given (x0, y0) at t0 under
// state s.
func (p *Params) SampleStep(s int, x0, y0, dt float64, rng *rand.Rand) (x1, y1 float64) {
	st := p.Transition(s, x0, y0, dt)
	sd := math.Sqrt(st.Var)
	return st.MeanX + rng.NormFloat64()*sd, st.MeanY + rng.NormFloat64()*sd
}

// TraceHeader returns one column name per traced (state, component)
// cell, in natural units.
func (p *Params) TraceHeader() []string {
	cols := make([]string, 0, 4*p.NumStates())
	for s := 0; s < p.NumStates(); s++ {
		cols = append(cols,
			fmt.Sprintf("s%d_mu_x", s+1),
			fmt.Sprintf("s%d_mu_y", s+1),
			fmt.Sprintf("s%d_attraction", s+1),
			fmt.Sprintf("s%d_variance", s+1),
		)
	}
	return cols
}

// TraceRow returns current values matching TraceHeader, in natural units.
func (p *Params) TraceRow() []float64 {
	row := make([]float64, 0, 4*p.NumStates())
	for s := 0; s < p.NumStates(); s++ {
		row = append(row, p.Mu[s][0], p.Mu[s][1], p.Attraction(s), p.Variance(s))
	}
	return row
}
