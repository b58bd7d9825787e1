package rates

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPairRatesValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kappa   float64
		initial [][]float64
		priorA  float64
		priorB  float64
		wantErr string
	}{
		{"valid", 2, [][]float64{{0, 1}, {0.5, 0}}, 1, 1, ""},
		{"negative kappa", -1, [][]float64{{0, 1}, {1, 0}}, 1, 1, "kappa must be positive"},
		{"rate above bound", 2, [][]float64{{0, 3}, {1, 0}}, 1, 1, "outside [0, 2]"},
		{"row sum above bound", 1, [][]float64{{0, 0.9, 0.9}, {0.9, 0, 0.9}, {0.9, 0.9, 0}}, 1, 1, "total leave rate 1.8 exceeds bound 1"},
		{"ragged matrix", 2, [][]float64{{0, 1}, {1}}, 1, 1, "row 1 has 1 entries"},
		{"single state", 2, [][]float64{{0}}, 1, 1, "at least 2 states"},
		{"bad prior", 2, [][]float64{{0, 1}, {1, 0}}, 0, 1, "prior shapes must be positive"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewPairRates(tc.kappa, tc.initial, tc.priorA, tc.priorB)
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestPairRatesUpdateStaysInBounds(t *testing.T) {
	t.Parallel()
	const kappa = 3.0
	p, err := NewPairRates(kappa, [][]float64{{0, 1}, {1, 0}}, 1, 1)
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(17, 19))

	c := NewCounts(2, 1)
	c.PairJumps[0][1] = 4
	c.PairJumps[1][0] = 2
	c.StateTime[0] = 10
	c.StateTime[1] = 0.01 // exposure shorter than the jump count implies

	for i := 0; i < 1000; i++ {
		p.Update(c, rng)
		for from := 0; from < 2; from++ {
			for to := 0; to < 2; to++ {
				if from == to {
					assert.Zero(t, p.R[from][to])
					continue
				}
				assert.GreaterOrEqual(t, p.R[from][to], 0.0)
				assert.LessOrEqual(t, p.R[from][to], kappa)
			}
		}
	}
}

func TestPairRatesTotalLeaveStaysBounded(t *testing.T) {
	t.Parallel()
	// With three states the leave rate sums three pair rates; every
	// redraw must keep the total at or below the uniformization bound
	// or the thinning probability would exceed one.
	const kappa = 1.0
	p, err := NewPairRates(kappa, [][]float64{{0, 0.4, 0.4}, {0.4, 0, 0.4}, {0.4, 0.4, 0}}, 1, 1)
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(59, 61))

	c := NewCounts(3, 1)
	c.PairJumps[0][1] = 6
	c.PairJumps[0][2] = 3
	c.PairJumps[1][0] = 2
	c.PairJumps[2][1] = 5
	c.StateTime[0] = 1.5
	c.StateTime[1] = 8
	c.StateTime[2] = 4

	for i := 0; i < 1000; i++ {
		p.Update(c, rng)
		for s := 0; s < 3; s++ {
			leave := p.Leave(s, 0)
			assert.GreaterOrEqual(t, leave, 0.0)
			assert.LessOrEqual(t, leave, kappa, "state %d leave rate at redraw %d", s+1, i)
		}
	}
}

func TestPairRatesLeaveAndDest(t *testing.T) {
	t.Parallel()
	p, err := NewPairRates(5, [][]float64{{0, 1, 2}, {0.5, 0, 0}, {0, 0.25, 0}}, 1, 1)
	require.NoError(t, err)

	assert.InDelta(t, 3.0, p.Leave(0, 0), 1e-12)
	assert.InDelta(t, 0.5, p.Leave(1, 0), 1e-12)

	// Destinations from state 0 must follow the 1:2 intensity split.
	rng := rand.New(rand.NewPCG(23, 29))
	counts := [3]int{}
	const draws = 20000
	for i := 0; i < draws; i++ {
		counts[p.SampleDest(0, 0, rng)]++
	}
	assert.Zero(t, counts[0], "self-transition drawn")
	assert.InDelta(t, 1.0/3, float64(counts[1])/draws, 0.02)
	assert.InDelta(t, 2.0/3, float64(counts[2])/draws, 0.02)
}

func TestHabitatRatesUpdateStaysInBounds(t *testing.T) {
	t.Parallel()
	const kappa = 2.0
	h, err := NewHabitatRates(kappa, []float64{0.5, 1.5}, 3, 2, 2)
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(31, 37))

	c := NewCounts(3, 2)
	c.HabJumps[0] = 1
	c.HabJumps[1] = 8
	c.HabTime[0] = 5
	c.HabTime[1] = 4

	for i := 0; i < 1000; i++ {
		h.Update(c, rng)
		for hab := range h.R {
			assert.GreaterOrEqual(t, h.R[hab], 0.0)
			assert.LessOrEqual(t, h.R[hab], kappa)
		}
	}
}

func TestHabitatRatesDestUniform(t *testing.T) {
	t.Parallel()
	h, err := NewHabitatRates(2, []float64{1}, 3, 1, 1)
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(41, 43))

	counts := [3]int{}
	const draws = 30000
	for i := 0; i < draws; i++ {
		counts[h.SampleDest(1, 0, rng)]++
	}
	assert.Zero(t, counts[1], "self-transition drawn")
	assert.InDelta(t, 0.5, float64(counts[0])/draws, 0.02)
	assert.InDelta(t, 0.5, float64(counts[2])/draws, 0.02)
}

func TestHabitatRatesLeaveOutOfRange(t *testing.T) {
	t.Parallel()
	h, err := NewHabitatRates(2, []float64{1}, 2, 1, 1)
	require.NoError(t, err)
	assert.Zero(t, h.Leave(0, 5))
}

func TestBetaDrawFloorsSecondShape(t *testing.T) {
	t.Parallel()
	// More jumps than expected candidates must not produce an invalid
	// Beta parameter.
	rng := rand.New(rand.NewPCG(47, 53))
	for i := 0; i < 100; i++ {
		v := betaDraw(1.0, 1, 1, 10, 0.001, rng)
		assert.False(t, math.IsNaN(v))
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}
