package chain

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/wildtrack/switchmcmc/internal/model"
)

// PathLogLik returns the movement-model log-likelihood of an augmented
// trajectory: the sum over consecutive elements of the transition
// log-density under the state active on each segment, which is the
// state entered at the segment's starting point.
func PathLogLik(points []Point, p *model.Params) float64 {
	var ll float64
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		ll += p.LogTransition(a.State-1, a.X, a.Y, b.X, b.Y, b.T-a.T)
	}
	return ll
}

// bridgeLogDensity returns the total log-density, under the simulator's
// bridge proposal, of every switch position in the path. Evaluating the
// same density for both the candidate and the path it would replace is
// what corrects the Hastings ratio for the proposal's asymmetry: the
// switching-process prior itself cancels because states are proposed
// from it.
func bridgeLogDensity(points []Point, p *model.Params) float64 {
	var ld float64
	for i, pt := range points {
		if pt.Kind != KindSwitch {
			continue
		}
		prev := points[i-1]
		// The next fix anchors the bridge's far end.
		var next Fix
		found := false
		for j := i + 1; j < len(points); j++ {
			if points[j].Kind == KindFix {
				next = Fix{X: points[j].X, Y: points[j].Y, T: points[j].T}
				found = true
				break
			}
		}
		if !found {
			return math.Inf(-1) // window must end in a fix
		}
		mx, my, v, ok := bridgeMoments(p, prev.X, prev.Y, prev.T, prev.State, pt.State, pt.T, next)
		if !ok {
			return math.Inf(-1)
		}
		sd := math.Sqrt(v)
		nx := distuv.Normal{Mu: mx, Sigma: sd}
		ny := distuv.Normal{Mu: my, Sigma: sd}
		ld += nx.LogProb(pt.X) + ny.LogProb(pt.Y)
	}
	return ld
}

// HastingsRatio computes the Metropolis–Hastings acceptance ratio
// between a candidate window and the current window covering the same
// time span:
//
//	HR = [L(cand) / q(cand)] / [L(cur) / q(cur)]
//
// where L is the movement path likelihood and q the bridge density of
// the path's switch positions. Values above 1 mean automatic
// acceptance; the caller supplies the single uniform draw.
func HastingsRatio(cand, cur []Point, p *model.Params) float64 {
	candLik, candBridge := PathLogLik(cand, p), bridgeLogDensity(cand, p)
	if !finite(candLik) || !finite(candBridge) {
		return 0
	}
	curLik, curBridge := PathLogLik(cur, p), bridgeLogDensity(cur, p)
	if !finite(curLik) || !finite(curBridge) {
		// Replacing a numerically impossible path is always accepted.
		return math.Inf(1)
	}
	return math.Exp((candLik - candBridge) - (curLik - curBridge))
}

func finite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}
