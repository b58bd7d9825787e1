// Package rates implements the switching-rate models of the behavioural
// process. Two variants exist, chosen once at setup: PairRates indexes
// intensities by ordered state pair, HabitatRates (the adaptive model)
// indexes the leave intensity by the habitat of the current sojourn.
// Both keep the total intensity of leaving any sojourn inside
// [0, kappa], the uniformization bound, by construction: updated leave
// rates are drawn as kappa times a Beta variate, and PairRates splits
// the leave rate over destinations with a Dirichlet draw.
package rates

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Model is the switching-rate variant interface. All intensities are
// bounded by Kappa so the uniformization construction in the trajectory
// simulator stays valid after every update.
type Model interface {
	// Kappa returns the fixed dominating rate of the run.
	Kappa() float64
	// Leave returns the total intensity of leaving state s while in
	// habitat h.
	Leave(state, habitat int) float64
	// SampleDest draws the state entered by a switch out of state s in
	// habitat h.
	SampleDest(state, habitat int, rng *rand.Rand) int
	// Update redraws the rates from the jump counts and sojourn
	// exposures of the current augmented dataset.
	Update(c Counts, rng *rand.Rand)
	// TraceHeader and TraceRow describe the emitted trace columns.
	TraceHeader() []string
	TraceRow() []float64
}

// Counts aggregates the sufficient statistics the rate updates need:
// realized jump counts and sojourn-time exposures, tallied both by
// state and by habitat of the sojourn so either variant can consume
// them.
type Counts struct {
	PairJumps [][]int   // [from][to] realized switches
	StateTime []float64 // total time spent in each state
	HabJumps  []int     // switches occurring from a sojourn in each habitat
	HabTime   []float64 // total sojourn time per habitat
}

// NewCounts allocates zeroed counts for nStates states and nHabitats
// habitat regions.
func NewCounts(nStates, nHabitats int) Counts {
	pj := make([][]int, nStates)
	for i := range pj {
		pj[i] = make([]int, nStates)
	}
	return Counts{
		PairJumps: pj,
		StateTime: make([]float64, nStates),
		HabJumps:  make([]int, nHabitats),
		HabTime:   make([]float64, nHabitats),
	}
}

// betaDraw returns kappa * Beta(a + jumps, b + trials - jumps) where
// trials = kappa * exposure is the expected number of dominating-process
// candidates over the sojourn. The second shape is floored at b so a
// short exposure never produces an invalid Beta parameter.
func betaDraw(kappa, a, b float64, jumps int, exposure float64, rng *rand.Rand) float64 {
	n := float64(jumps)
	trials := kappa * exposure
	beta := b + trials - n
	if beta < b {
		beta = b
	}
	d := distuv.Beta{Alpha: a + n, Beta: beta, Src: rng}
	return kappa * d.Rand()
}

// PairRates is the unconstrained variant: one intensity per ordered
// pair of distinct states.
type PairRates struct {
	Bound  float64     // kappa
	R      [][]float64 // [from][to], diagonal zero
	PriorA float64     // Beta shape for realized jumps
	PriorB float64     // Beta shape for surviving candidates
}

// NewPairRates validates the initial rate matrix against the state
// count and the uniformization bound. The bound applies to each row's
// total: leaving a state at more than kappa would break the thinning
// construction.
func NewPairRates(kappa float64, initial [][]float64, priorA, priorB float64) (*PairRates, error) {
	if kappa <= 0 {
		return nil, fmt.Errorf("switching rates: kappa must be positive, got %g", kappa)
	}
	if priorA <= 0 || priorB <= 0 {
		return nil, fmt.Errorf("switching rates: beta prior shapes must be positive, got (%g, %g)", priorA, priorB)
	}
	n := len(initial)
	if n < 2 {
		return nil, fmt.Errorf("switching rates: need at least 2 states, got %d", n)
	}
	r := make([][]float64, n)
	for i, row := range initial {
		if len(row) != n {
			return nil, fmt.Errorf("switching rates: row %d has %d entries, want %d", i, len(row), n)
		}
		r[i] = make([]float64, n)
		var sum float64
		for j, v := range row {
			if i == j {
				continue
			}
			if v < 0 || v > kappa || math.IsNaN(v) {
				return nil, fmt.Errorf("switching rates: rate[%d][%d]=%g outside [0, %g]", i, j, v, kappa)
			}
			r[i][j] = v
			sum += v
		}
		if sum > kappa {
			return nil, fmt.Errorf("switching rates: state %d total leave rate %g exceeds bound %g", i+1, sum, kappa)
		}
	}
	return &PairRates{Bound: kappa, R: r, PriorA: priorA, PriorB: priorB}, nil
}

func (p *PairRates) Kappa() float64 { return p.Bound }

func (p *PairRates) Leave(state, habitat int) float64 {
	var sum float64
	for j, v := range p.R[state] {
		if j != state {
			sum += v
		}
	}
	return sum
}

func (p *PairRates) SampleDest(state, habitat int, rng *rand.Rand) int {
	total := p.Leave(state, habitat)
	if total <= 0 {
		// Unreachable when thinning gates on Leave > 0; fall back to a
		// uniform draw over the other states.
		n := len(p.R)
		d := rng.IntN(n - 1)
		if d >= state {
			d++
		}
		return d
	}
	u := rng.Float64() * total
	for j, v := range p.R[state] {
		if j == state {
			continue
		}
		u -= v
		if u < 0 {
			return j
		}
	}
	return len(p.R) - 1
}

// Update redraws each state's rates jointly: the total leave rate as
// kappa times a Beta variate over all jumps out of the state, split
// across destinations by a Dirichlet draw shaped by the per-pair jump
// counts. The row sum therefore never exceeds the bound.
func (p *PairRates) Update(c Counts, rng *rand.Rand) {
	for i := range p.R {
		jumps := 0
		for j, n := range c.PairJumps[i] {
			if j != i {
				jumps += n
			}
		}
		leave := betaDraw(p.Bound, p.PriorA, p.PriorB, jumps, c.StateTime[i], rng)

		w := make([]float64, len(p.R[i]))
		var total float64
		for j := range p.R[i] {
			if j == i {
				continue
			}
			g := distuv.Gamma{Alpha: p.PriorA + float64(c.PairJumps[i][j]), Beta: 1, Src: rng}
			w[j] = g.Rand()
			total += w[j]
		}
		for j := range p.R[i] {
			switch {
			case j == i:
				p.R[i][j] = 0
			case total > 0:
				p.R[i][j] = leave * w[j] / total
			default:
				p.R[i][j] = leave / float64(len(p.R[i])-1)
			}
		}
	}
}

func (p *PairRates) TraceHeader() []string {
	cols := make([]string, 0, len(p.R)*(len(p.R)-1))
	for i := range p.R {
		for j := range p.R[i] {
			if i != j {
				cols = append(cols, fmt.Sprintf("rate_%d_to_%d", i+1, j+1))
			}
		}
	}
	return cols
}

func (p *PairRates) TraceRow() []float64 {
	row := make([]float64, 0, len(p.R)*(len(p.R)-1))
	for i := range p.R {
		for j := range p.R[i] {
			if i != j {
				row = append(row, p.R[i][j])
			}
		}
	}
	return row
}

// HabitatRates is the adaptive variant: the leave intensity depends
// only on the habitat of the current sojourn, and the entered state is
// uniform over the other states.
type HabitatRates struct {
	Bound   float64
	R       []float64 // leave intensity per habitat
	PriorA  float64
	PriorB  float64
	NStates int
}

// NewHabitatRates validates the initial per-habitat intensities.
func NewHabitatRates(kappa float64, initial []float64, nStates int, priorA, priorB float64) (*HabitatRates, error) {
	if kappa <= 0 {
		return nil, fmt.Errorf("switching rates: kappa must be positive, got %g", kappa)
	}
	if priorA <= 0 || priorB <= 0 {
		return nil, fmt.Errorf("switching rates: beta prior shapes must be positive, got (%g, %g)", priorA, priorB)
	}
	if nStates < 2 {
		return nil, fmt.Errorf("switching rates: need at least 2 states, got %d", nStates)
	}
	if len(initial) == 0 {
		return nil, fmt.Errorf("switching rates: adaptive variant needs at least one habitat rate")
	}
	r := make([]float64, len(initial))
	for h, v := range initial {
		if v < 0 || v > kappa || math.IsNaN(v) {
			return nil, fmt.Errorf("switching rates: habitat %d rate %g outside [0, %g]", h, v, kappa)
		}
		r[h] = v
	}
	return &HabitatRates{Bound: kappa, R: r, PriorA: priorA, PriorB: priorB, NStates: nStates}, nil
}

func (h *HabitatRates) Kappa() float64 { return h.Bound }

func (h *HabitatRates) Leave(state, habitat int) float64 {
	if habitat < 0 || habitat >= len(h.R) {
		return 0
	}
	return h.R[habitat]
}

func (h *HabitatRates) SampleDest(state, habitat int, rng *rand.Rand) int {
	d := rng.IntN(h.NStates - 1)
	if d >= state {
		d++
	}
	return d
}

func (h *HabitatRates) Update(c Counts, rng *rand.Rand) {
	for hab := range h.R {
		jumps := 0
		exposure := 0.0
		if hab < len(c.HabJumps) {
			jumps = c.HabJumps[hab]
			exposure = c.HabTime[hab]
		}
		h.R[hab] = betaDraw(h.Bound, h.PriorA, h.PriorB, jumps, exposure, rng)
	}
}

func (h *HabitatRates) TraceHeader() []string {
	cols := make([]string, len(h.R))
	for hab := range h.R {
		cols[hab] = fmt.Sprintf("rate_habitat_%d", hab)
	}
	return cols
}

func (h *HabitatRates) TraceRow() []float64 {
	row := make([]float64, len(h.R))
	copy(row, h.R)
	return row
}
