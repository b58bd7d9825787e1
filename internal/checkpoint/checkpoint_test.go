package checkpoint

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildtrack/switchmcmc/internal/chain"
	"github.com/wildtrack/switchmcmc/internal/model"
	"github.com/wildtrack/switchmcmc/internal/rates"
)

func testChainState(t *testing.T) *chain.ChainState {
	t.Helper()
	obs, err := chain.NewObservationStore([]chain.Fix{
		{X: 0, Y: 0, T: 0, State: 1},
		{X: 1, Y: 0.5, T: 1, State: 2},
		{X: 2, Y: 0.3, T: 2.5, State: 2},
	})
	require.NoError(t, err)
	switches, err := chain.NewSwitchSetFromEvents([]chain.SwitchEvent{
		{X: 0.4, Y: 0.2, T: 0.6, State: 2},
	})
	require.NoError(t, err)
	rm, err := rates.NewPairRates(2, [][]float64{{0, 0.7}, {0.4, 0}}, 1, 1)
	require.NoError(t, err)
	p := &model.Params{
		Kinds: []model.ProcessKind{model.RandomWalk, model.OrnsteinUhlenbeck},
		Mu:    [][2]float64{{0.1, -0.2}, {5, 5}},
		B:     []float64{0, -1.5},
		LogV:  []float64{0.25, -0.5},
	}
	require.NoError(t, p.Validate())
	return &chain.ChainState{Obs: obs, Switches: switches, Params: p, Rates: rm, Iteration: 730}
}

func TestSnapshotRoundTripThroughStore(t *testing.T) {
	t.Parallel()

	cs := testChainState(t)
	snap, err := Capture("run-a1", cs)
	require.NoError(t, err)
	assert.Equal(t, "pair", snap.RateVariant)

	store, err := Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(snap))
	loaded, err := store.Load("run-a1")
	require.NoError(t, err)

	if diff := cmp.Diff(snap, loaded); diff != "" {
		t.Fatalf("snapshot mismatch (-saved +loaded):\n%s", diff)
	}

	// Restoring onto a fresh state of the same shape reproduces the
	// chain exactly.
	fresh := testChainState(t)
	fresh.Iteration = 0
	fresh.Obs.SetState(1, 1)
	require.NoError(t, loaded.Restore(fresh))

	assert.Equal(t, 730, fresh.Iteration)
	assert.Equal(t, cs.Obs.States(), fresh.Obs.States())
	assert.Equal(t, cs.Switches.All(), fresh.Switches.All())
	if diff := cmp.Diff(cs.Params, fresh.Params); diff != "" {
		t.Fatalf("params mismatch:\n%s", diff)
	}
	assert.Equal(t, cs.Rates.Kappa(), fresh.Rates.Kappa())
	assert.Equal(t, cs.Rates.TraceRow(), fresh.Rates.TraceRow())
}

func TestSnapshotHabitatVariant(t *testing.T) {
	t.Parallel()

	cs := testChainState(t)
	rm, err := rates.NewHabitatRates(2, []float64{0.5, 1.0}, 2, 1, 1)
	require.NoError(t, err)
	cs.Rates = rm

	snap, err := Capture("run-h", cs)
	require.NoError(t, err)
	assert.Equal(t, "habitat", snap.RateVariant)
	require.NotNil(t, snap.HabitatRates)

	fresh := testChainState(t)
	require.NoError(t, snap.Restore(fresh))
	assert.Equal(t, rm.TraceRow(), fresh.Rates.TraceRow())
}

func TestSaveOverwritesSameRun(t *testing.T) {
	t.Parallel()

	store, err := Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	defer store.Close()

	cs := testChainState(t)
	first, err := Capture("run-b2", cs)
	require.NoError(t, err)
	require.NoError(t, store.Save(first))

	cs.Iteration = 1500
	second, err := Capture("run-b2", cs)
	require.NoError(t, err)
	require.NoError(t, store.Save(second))

	loaded, err := store.Load("run-b2")
	require.NoError(t, err)
	assert.Equal(t, 1500, loaded.Iteration)
}

func TestLoadMissingRun(t *testing.T) {
	t.Parallel()

	store, err := Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Load("nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRestoreValidation(t *testing.T) {
	t.Parallel()

	cs := testChainState(t)
	snap, err := Capture("run-c3", cs)
	require.NoError(t, err)

	t.Run("fix count mismatch", func(t *testing.T) {
		t.Parallel()
		short, err := chain.NewObservationStore([]chain.Fix{
			{X: 0, Y: 0, T: 0, State: 1},
			{X: 1, Y: 0, T: 1, State: 1},
		})
		require.NoError(t, err)
		other := testChainState(t)
		other.Obs = short
		assert.Error(t, snap.Restore(other))
	})

	t.Run("unknown rate variant", func(t *testing.T) {
		t.Parallel()
		bad := *snap
		bad.RateVariant = "markov"
		assert.Error(t, bad.Restore(testChainState(t)))
	})

	t.Run("unordered switches", func(t *testing.T) {
		t.Parallel()
		bad := *snap
		bad.Switches = []chain.SwitchEvent{
			{X: 0, Y: 0, T: 0.9, State: 2},
			{X: 0, Y: 0, T: 0.1, State: 1},
		}
		assert.Error(t, bad.Restore(testChainState(t)))
	})
}
