package chain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildtrack/switchmcmc/internal/model"
)

func logNormal(x, mean, variance float64) float64 {
	return -0.5*math.Log(2*math.Pi*variance) - (x-mean)*(x-mean)/(2*variance)
}

func TestPathLogLikMatchesManualSum(t *testing.T) {
	t.Parallel()

	p := simParams(t) // state 1 drift (0,0), state 2 drift (0.5,0), both variance 1
	path := []Point{
		{X: 0, Y: 0, T: 0, State: 1, Kind: KindFix},
		{X: 0.3, Y: -0.2, T: 0.5, State: 2, Kind: KindSwitch},
		{X: 1.0, Y: 0.1, T: 1.5, State: 2, Kind: KindFix},
	}

	want := logNormal(0.3, 0, 0.5) + logNormal(-0.2, 0, 0.5) + // state 1, dt 0.5
		logNormal(1.0, 0.3+0.5, 1.0) + logNormal(0.1, -0.2, 1.0) // state 2 drift, dt 1
	assert.InDelta(t, want, PathLogLik(path, p), 1e-12)
}

// A two-fix window with a single midpoint switch between two unit-variance
// random walks has an analytically tractable ratio: the candidate's score is
// its two-segment path density divided by the symmetric bridge density of
// the switch position, against the current single-segment path.
func TestHastingsRatioAnalytic(t *testing.T) {
	t.Parallel()

	p := &model.Params{
		Kinds: []model.ProcessKind{model.RandomWalk, model.RandomWalk},
		Mu:    [][2]float64{{0, 0}, {1, 0}},
		B:     []float64{0, 0},
		LogV:  []float64{0, 0},
	}
	require.NoError(t, p.Validate())

	cur := []Point{
		{X: 0, Y: 0, T: 0, State: 1, Kind: KindFix},
		{X: 1, Y: 0, T: 1, State: 2, Kind: KindFix},
	}
	cand := []Point{
		{X: 0, Y: 0, T: 0, State: 1, Kind: KindFix},
		{X: 0.3, Y: -0.1, T: 0.5, State: 2, Kind: KindSwitch},
		{X: 1, Y: 0, T: 1, State: 2, Kind: KindFix},
	}

	likCand := logNormal(0.3, 0, 0.5) + logNormal(-0.1, 0, 0.5) +
		logNormal(1, 0.3+0.5, 0.5) + logNormal(0, -0.1, 0.5)
	likCur := logNormal(1, 0, 1) + logNormal(0, 0, 1)

	// Bridge toward (1,0): equal leg weights 0.5 give mean (0.5,0) and
	// variance 0.25.
	qCand := logNormal(0.3, 0.5, 0.25) + logNormal(-0.1, 0, 0.25)

	want := math.Exp((likCand - qCand) - likCur)
	assert.InDelta(t, want, HastingsRatio(cand, cur, p), 1e-10*want)
}

func TestHastingsRatioSymmetricWindowIsOne(t *testing.T) {
	t.Parallel()

	p := simParams(t)
	path := []Point{
		{X: 0, Y: 0, T: 0, State: 1, Kind: KindFix},
		{X: 0.4, Y: 0.2, T: 0.7, State: 2, Kind: KindSwitch},
		{X: 1, Y: 0, T: 2, State: 2, Kind: KindFix},
	}
	assert.InDelta(t, 1.0, HastingsRatio(path, path, p), 1e-12)
}

func TestHastingsRatioGuards(t *testing.T) {
	t.Parallel()

	p := simParams(t)
	good := []Point{
		{X: 0, Y: 0, T: 0, State: 1, Kind: KindFix},
		{X: 1, Y: 0, T: 1, State: 1, Kind: KindFix},
	}
	// A switch with no following fix has no bridge anchor.
	dangling := []Point{
		{X: 0, Y: 0, T: 0, State: 1, Kind: KindFix},
		{X: 0.5, Y: 0, T: 0.5, State: 2, Kind: KindSwitch},
	}

	assert.Equal(t, 0.0, HastingsRatio(dangling, good, p))
	assert.True(t, math.IsInf(HastingsRatio(good, dangling, p), 1))
}
