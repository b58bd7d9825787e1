package chain

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/wildtrack/switchmcmc/internal/habitat"
	"github.com/wildtrack/switchmcmc/internal/model"
	"github.com/wildtrack/switchmcmc/internal/rates"
)

// SimStatus reports the outcome of a trajectory proposal. Failure is an
// expected outcome: the driver treats it as "no proposal this
// iteration", never as an error.
type SimStatus uint8

const (
	// SimOK means a candidate consistent with both endpoint states was
	// produced.
	SimOK SimStatus = iota
	// SimEndpointMismatch means the retry budget was exhausted without
	// the simulated state sequence reaching the final fix's state.
	SimEndpointMismatch
	// SimDegenerateBridge means a switch-position bridge had
	// non-positive or non-finite weights.
	SimDegenerateBridge
)

// String returns a short label for logging.
func (s SimStatus) String() string {
	switch s {
	case SimOK:
		return "ok"
	case SimEndpointMismatch:
		return "endpoint-mismatch"
	case SimDegenerateBridge:
		return "degenerate-bridge"
	default:
		return "unknown"
	}
}

// Proposal is a successful simulator result: the merged candidate data
// block plus index maps back into it for fixes and inserted switch
// points.
type Proposal struct {
	Points    []Point // time-ordered candidate window
	FixIdx    []int   // positions in Points that are fixes
	SwitchIdx []int   // positions in Points that are switch events
}

// Events extracts the proposal's switch points as store-ready events.
func (p *Proposal) Events() []SwitchEvent {
	evs := make([]SwitchEvent, 0, len(p.SwitchIdx))
	for _, i := range p.SwitchIdx {
		pt := p.Points[i]
		evs = append(evs, SwitchEvent{X: pt.X, Y: pt.Y, T: pt.T, State: pt.State, Habitat: pt.Habitat})
	}
	return evs
}

// Simulator proposes candidate sub-trajectories between the first and
// last fix of a window via uniformization/thinning: candidate epochs
// from a homogeneous Poisson process of rate kappa, each thinned to an
// actual switch with probability Leave(state, habitat)/kappa, with
// switch positions drawn from an explicit Gaussian bridge towards the
// next fix. The construction retries until the simulated state at the
// window's final fix matches its stored label.
type Simulator struct {
	MaxRetries int
	Regions    habitat.Map
}

// NewSimulator builds a Simulator with the given retry budget. A nil
// habitat map degenerates to a single region.
func NewSimulator(maxRetries int, regions habitat.Map) *Simulator {
	if regions == nil {
		regions = habitat.Single{}
	}
	if maxRetries <= 0 {
		maxRetries = 50
	}
	return &Simulator{MaxRetries: maxRetries, Regions: regions}
}

// Propose simulates one candidate window over the fixes win (store
// offset fixBase). Interior fixes are relabeled to the simulated state
// at their times; boundary fix states are never altered.
func (s *Simulator) Propose(win []Fix, fixBase int, p *model.Params, rm rates.Model, rng *rand.Rand) (*Proposal, SimStatus) {
	last := len(win) - 1
	tBeg, tEnd := win[0].T, win[last].T
	kappa := rm.Kappa()
	poisson := distuv.Poisson{Lambda: kappa * (tEnd - tBeg), Src: rng}

	for attempt := 0; attempt < s.MaxRetries; attempt++ {
		// Dominating-process candidate epochs on (tBeg, tEnd).
		n := int(poisson.Rand())
		epochs := make([]float64, 0, n)
		for k := 0; k < n; k++ {
			epochs = append(epochs, tBeg+rng.Float64()*(tEnd-tBeg))
		}
		sort.Float64s(epochs)

		points := make([]Point, 0, len(win)+n/2)
		first := win[0]
		points = append(points, Point{X: first.X, Y: first.Y, T: first.T, State: first.State, Habitat: first.Habitat, Kind: KindFix, Index: fixBase})

		state := first.State
		fi := 1 // next fix to pass
		degenerate := false

		for _, tau := range epochs {
			// Emit fixes passed before this epoch, relabeled to the
			// running state.
			for fi < last && win[fi].T < tau {
				f := win[fi]
				points = append(points, Point{X: f.X, Y: f.Y, T: f.T, State: state, Habitat: f.Habitat, Kind: KindFix, Index: fixBase + fi})
				fi++
			}
			prev := points[len(points)-1]
			if tau == prev.T || tau == win[fi].T {
				continue // switch times never coincide with existing points
			}
			// Leave intensities are bounded by kappa, so the thinning
			// probability is a true probability.
			pr := rm.Leave(state-1, prev.Habitat) / kappa
			if rng.Float64() >= pr {
				continue // thinned away
			}
			dest := rm.SampleDest(state-1, prev.Habitat, rng) + 1

			// Position from a Gaussian bridge between the previous
			// point and the next fix.
			next := win[fi]
			x, y, ok := bridgeSample(p, prev, state, dest, tau, next, rng)
			if !ok {
				degenerate = true
				break
			}
			points = append(points, Point{
				X: x, Y: y, T: tau,
				State:   dest,
				Habitat: s.Regions.Region(x, y),
				Kind:    KindSwitch,
			})
			state = dest
		}
		if degenerate {
			return nil, SimDegenerateBridge
		}

		// Endpoint constraint: the state entered by the last switch must
		// match the stored label of the final fix.
		if state != win[last].State {
			continue
		}

		for fi < last {
			f := win[fi]
			points = append(points, Point{X: f.X, Y: f.Y, T: f.T, State: state, Habitat: f.Habitat, Kind: KindFix, Index: fixBase + fi})
			fi++
		}
		points = append(points, Point{X: win[last].X, Y: win[last].Y, T: win[last].T, State: win[last].State, Habitat: win[last].Habitat, Kind: KindFix, Index: fixBase + last})

		prop := &Proposal{Points: points}
		sw := 0
		for i, pt := range points {
			if pt.Kind == KindFix {
				prop.FixIdx = append(prop.FixIdx, i)
			} else {
				points[i].Index = sw
				prop.SwitchIdx = append(prop.SwitchIdx, i)
				sw++
			}
		}
		return prop, SimOK
	}
	return nil, SimEndpointMismatch
}

// bridgeSample draws a switch position at time tau from the Gaussian
// bridge between prev and the next fix, weighting the two legs by the
// diffusion variances of the state held before the switch and the state
// entered. Returns ok=false when the bridge is degenerate.
func bridgeSample(p *model.Params, prev Point, before, entered int, tau float64, next Fix, rng *rand.Rand) (x, y float64, ok bool) {
	mx, my, v, ok := bridgeMoments(p, prev.X, prev.Y, prev.T, before, entered, tau, next)
	if !ok {
		return 0, 0, false
	}
	sd := math.Sqrt(v)
	return mx + rng.NormFloat64()*sd, my + rng.NormFloat64()*sd, true
}

// bridgeMoments returns the mean and per-axis variance of the bridge
// distribution used both to sample switch positions and to evaluate
// their proposal density in the Hastings ratio.
func bridgeMoments(p *model.Params, x0, y0, t0 float64, before, entered int, tau float64, next Fix) (mx, my, v float64, ok bool) {
	w1 := p.Variance(before-1) * (tau - t0)
	w2 := p.Variance(entered-1) * (next.T - tau)
	total := w1 + w2
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return 0, 0, 0, false
	}
	frac := w1 / total
	mx = x0 + frac*(next.X-x0)
	my = y0 + frac*(next.Y-y0)
	v = w1 * w2 / total
	if v <= 0 || math.IsNaN(v) {
		return 0, 0, 0, false
	}
	return mx, my, v, true
}
