package chain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFixes() []Fix {
	return []Fix{
		{X: 0, Y: 0, T: 0, State: 1},
		{X: 1, Y: 0, T: 1, State: 1},
		{X: 2, Y: 1, T: 2.5, State: 2},
		{X: 3, Y: 1, T: 4, State: 2},
	}
}

func TestNewObservationStoreValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fixes   []Fix
		wantErr string
	}{
		{"valid", testFixes(), ""},
		{"too few", testFixes()[:1], "at least 2 fixes"},
		{"duplicate time", []Fix{{T: 0}, {T: 0}}, "strictly increasing"},
		{"decreasing time", []Fix{{T: 1}, {T: 0.5}}, "strictly increasing"},
		{"nan position", []Fix{{X: math.NaN(), T: 0}, {T: 1}}, "non-finite position"},
		{"inf position", []Fix{{Y: math.Inf(1), T: 0}, {T: 1}}, "non-finite position"},
		{"nan time", []Fix{{T: math.NaN()}, {T: 1}}, "NaN time"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewObservationStore(tc.fixes)
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestObservationStoreCopiesInput(t *testing.T) {
	t.Parallel()
	in := testFixes()
	obs, err := NewObservationStore(in)
	require.NoError(t, err)

	in[0].State = 99
	assert.Equal(t, 1, obs.At(0).State, "store must not alias caller data")

	obs.SetState(0, 2)
	assert.Equal(t, 2, obs.At(0).State)
	assert.Equal(t, []int{2, 1, 2, 2}, obs.States())
}

func TestSwitchSetReplaceRange(t *testing.T) {
	t.Parallel()
	s := NewSwitchSet()
	s.ReplaceRange(0, 10, []SwitchEvent{
		{T: 1, State: 2},
		{T: 3, State: 1},
		{T: 7, State: 2},
	})
	require.Equal(t, 3, s.Len())

	// Replace the middle, leaving the flanks untouched. Events at the
	// interval bounds themselves are outside the open interval.
	s.ReplaceRange(1, 7, []SwitchEvent{{T: 2, State: 1}, {T: 5, State: 2}})
	require.Equal(t, 4, s.Len())
	times := []float64{}
	for i := 0; i < s.Len(); i++ {
		times = append(times, s.At(i).T)
	}
	assert.Equal(t, []float64{1, 2, 5, 7}, times)

	// Empty replacement removes the covered events.
	s.ReplaceRange(0, 10, nil)
	assert.Zero(t, s.Len())
}

func TestSwitchSetBetween(t *testing.T) {
	t.Parallel()
	s := NewSwitchSet()
	s.ReplaceRange(0, 10, []SwitchEvent{{T: 1}, {T: 3}, {T: 7}})

	evs, base := s.Between(1, 7)
	require.Len(t, evs, 1)
	assert.Equal(t, 3.0, evs[0].T)
	assert.Equal(t, 1, base)

	evs, base = s.Between(0, 10)
	assert.Len(t, evs, 3)
	assert.Equal(t, 0, base)
}

func TestSwitchSetUpdateAtPreservesOrder(t *testing.T) {
	t.Parallel()
	s := NewSwitchSet()
	s.ReplaceRange(0, 10, []SwitchEvent{{T: 1}, {T: 3}, {T: 7}})

	require.NoError(t, s.UpdateAt(1, SwitchEvent{T: 2.5}))
	assert.Equal(t, 2.5, s.At(1).T)

	err := s.UpdateAt(1, SwitchEvent{T: 0.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ordering")

	err = s.UpdateAt(1, SwitchEvent{T: 8})
	require.Error(t, err)

	assert.Error(t, s.UpdateAt(5, SwitchEvent{T: 2}))
}

func TestNewSwitchSetFromEvents(t *testing.T) {
	t.Parallel()
	_, err := NewSwitchSetFromEvents([]SwitchEvent{{T: 2}, {T: 1}})
	assert.Error(t, err)

	s, err := NewSwitchSetFromEvents([]SwitchEvent{{T: 1}, {T: 2}})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
}

func TestMergeAugmented(t *testing.T) {
	t.Parallel()
	fixes := testFixes()
	evs := []SwitchEvent{
		{T: 0.5, State: 2},
		{T: 3.1, State: 1},
	}

	merged := MergeAugmented(fixes, 10, evs, 3)
	require.Len(t, merged, 6)

	// Global time order with per-element kind tags.
	for i := 1; i < len(merged); i++ {
		assert.Less(t, merged[i-1].T, merged[i].T)
	}
	assert.Equal(t, KindFix, merged[0].Kind)
	assert.Equal(t, KindSwitch, merged[1].Kind)
	assert.Equal(t, KindSwitch, merged[4].Kind)

	// Back-references map rank positions to the owning sets.
	assert.Equal(t, 10, merged[0].Index)
	assert.Equal(t, 3, merged[1].Index)
	assert.Equal(t, 11, merged[2].Index)
	assert.Equal(t, 4, merged[4].Index)
	assert.Equal(t, 13, merged[5].Index)
}
