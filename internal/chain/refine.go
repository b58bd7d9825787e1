package chain

import (
	"math"
	"math/rand/v2"

	"github.com/wildtrack/switchmcmc/internal/habitat"
)

// Refiner performs the single-switch-point Metropolis move: perturb the
// time and position of the switch event immediately preceding a
// uniformly chosen fix, and accept on the likelihood of the two
// adjacent movement segments plus the switching-process exposure
// change. This reaches fine time-scale mixing that whole-window
// resampling is too coarse for.
type Refiner struct {
	SD      float64 // random-walk spread for time and both coordinates
	Regions habitat.Map
}

// NewRefiner builds a Refiner. A nil habitat map degenerates to a
// single region.
func NewRefiner(sd float64, regions habitat.Map) *Refiner {
	if regions == nil {
		regions = habitat.Single{}
	}
	return &Refiner{SD: sd, Regions: regions}
}

// Step attempts one refinement move against the chain state. Returns
// true when a move was proposed and accepted; a fix whose augmented
// predecessor is not a switch point is a no-op.
func (r *Refiner) Step(cs *ChainState, aug []Point, rng *rand.Rand) bool {
	// Uniform fix index, excluding the first fix: its predecessor can
	// never be a switch point.
	k := 1 + rng.IntN(cs.Obs.Len()-1)

	// Locate the fix in the augmented view.
	pos := -1
	for i, pt := range aug {
		if pt.Kind == KindFix && pt.Index == k {
			pos = i
			break
		}
	}
	if pos <= 0 || aug[pos-1].Kind != KindSwitch {
		return false
	}
	sw := aug[pos-1]
	anchorBefore := aug[pos-2] // exists: the first augmented element is a fix
	anchorAfter := aug[pos]

	// Propose perturbed time and position.
	tau := sw.T + rng.NormFloat64()*r.SD
	if tau <= anchorBefore.T || tau >= anchorAfter.T {
		return false
	}
	x := sw.X + rng.NormFloat64()*r.SD
	y := sw.Y + rng.NormFloat64()*r.SD
	hab := r.Regions.Region(x, y)

	p := cs.Params
	rm := cs.Rates

	// Movement likelihood of the two adjacent segments.
	newLik := p.LogTransition(anchorBefore.State-1, anchorBefore.X, anchorBefore.Y, x, y, tau-anchorBefore.T) +
		p.LogTransition(sw.State-1, x, y, anchorAfter.X, anchorAfter.Y, anchorAfter.T-tau)
	oldLik := p.LogTransition(anchorBefore.State-1, anchorBefore.X, anchorBefore.Y, sw.X, sw.Y, sw.T-anchorBefore.T) +
		p.LogTransition(sw.State-1, sw.X, sw.Y, anchorAfter.X, anchorAfter.Y, anchorAfter.T-sw.T)

	// Switching-process prior: sojourn exposures around the moved
	// point. The jump intensity into sw.State uses the habitat of the
	// preceding anchor, which the move does not touch, so it cancels
	// unless the rates are habitat-adaptive for the exit segment.
	leaveBefore := rm.Leave(anchorBefore.State-1, anchorBefore.Habitat)
	leaveOld := rm.Leave(sw.State-1, sw.Habitat)
	leaveNew := rm.Leave(sw.State-1, hab)
	oldPrior := -leaveBefore*(sw.T-anchorBefore.T) - leaveOld*(anchorAfter.T-sw.T)
	newPrior := -leaveBefore*(tau-anchorBefore.T) - leaveNew*(anchorAfter.T-tau)

	logRatio := (newLik + newPrior) - (oldLik + oldPrior)
	if math.IsNaN(logRatio) {
		return false
	}
	if logRatio < 0 && rng.Float64() >= math.Exp(logRatio) {
		return false
	}

	return cs.Switches.UpdateAt(sw.Index, SwitchEvent{
		X: x, Y: y, T: tau, State: sw.State, Habitat: hab,
	}) == nil
}
