// Package checkpoint persists and restores the complete chain state
// (fix state labels, switch set, movement parameters, switching rates
// and iteration counter) as one atomic unit in a SQLite database, so
// an interrupted run can resume exactly where it stopped.
package checkpoint

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/wildtrack/switchmcmc/internal/chain"
	"github.com/wildtrack/switchmcmc/internal/model"
	"github.com/wildtrack/switchmcmc/internal/rates"
)

// Rate variant tags stored alongside snapshots.
const (
	variantPair    = "pair"
	variantHabitat = "habitat"
)

// Snapshot is the serializable form of a ChainState.
type Snapshot struct {
	RunID     string              `json:"run_id"`
	Iteration int                 `json:"iteration"`
	FixStates []int               `json:"fix_states"`
	Switches  []chain.SwitchEvent `json:"switches"`
	Params    *model.Params       `json:"params"`

	RateVariant  string              `json:"rate_variant"`
	PairRates    *rates.PairRates    `json:"pair_rates,omitempty"`
	HabitatRates *rates.HabitatRates `json:"habitat_rates,omitempty"`
}

// Capture builds a Snapshot from the live chain state.
func Capture(runID string, cs *chain.ChainState) (*Snapshot, error) {
	snap := &Snapshot{
		RunID:     runID,
		Iteration: cs.Iteration,
		FixStates: cs.Obs.States(),
		Switches:  cs.Switches.All(),
		Params:    cs.Params.Clone(),
	}
	switch rm := cs.Rates.(type) {
	case *rates.PairRates:
		snap.RateVariant = variantPair
		snap.PairRates = rm
	case *rates.HabitatRates:
		snap.RateVariant = variantHabitat
		snap.HabitatRates = rm
	default:
		return nil, fmt.Errorf("checkpoint: unknown rate model %T", cs.Rates)
	}
	return snap, nil
}

// Restore applies the snapshot onto a chain state built from the same
// observation data, replacing labels, switch set, parameters, rates and
// the iteration counter.
func (s *Snapshot) Restore(cs *chain.ChainState) error {
	if len(s.FixStates) != cs.Obs.Len() {
		return fmt.Errorf("checkpoint: snapshot has %d fix labels, observations have %d",
			len(s.FixStates), cs.Obs.Len())
	}
	if err := s.Params.Validate(); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	switches, err := chain.NewSwitchSetFromEvents(s.Switches)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	switch s.RateVariant {
	case variantPair:
		if s.PairRates == nil {
			return fmt.Errorf("checkpoint: pair variant without rates")
		}
		cs.Rates = s.PairRates
	case variantHabitat:
		if s.HabitatRates == nil {
			return fmt.Errorf("checkpoint: habitat variant without rates")
		}
		cs.Rates = s.HabitatRates
	default:
		return fmt.Errorf("checkpoint: unknown rate variant %q", s.RateVariant)
	}
	for i, st := range s.FixStates {
		cs.Obs.SetState(i, st)
	}
	cs.Switches = switches
	cs.Params = s.Params.Clone()
	cs.Iteration = s.Iteration
	return nil
}

// Store is a SQLite-backed checkpoint repository. One row per run;
// saves overwrite the previous checkpoint of the same run atomically.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the checkpoint database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			run_id TEXT PRIMARY KEY,
			iteration INTEGER NOT NULL,
			created TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			state TEXT NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Save writes the snapshot in a single transaction.
func (s *Store) Save(snap *Snapshot) error {
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("checkpoint encode: %w", err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO checkpoints (run_id, iteration, state) VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			iteration = excluded.iteration,
			created = CURRENT_TIMESTAMP,
			state = excluded.state
	`, snap.RunID, snap.Iteration, string(blob))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("checkpoint save: %w", err)
	}
	return tx.Commit()
}

// Load reads the latest snapshot of a run. Returns sql.ErrNoRows when
// the run has no checkpoint.
func (s *Store) Load(runID string) (*Snapshot, error) {
	var blob string
	err := s.db.QueryRow(`SELECT state FROM checkpoints WHERE run_id = ?`, runID).Scan(&blob)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(blob), &snap); err != nil {
		return nil, fmt.Errorf("checkpoint decode: %w", err)
	}
	return &snap, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
