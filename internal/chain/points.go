// Package chain implements the per-iteration MCMC update cycle over the
// augmented movement dataset: windowed trajectory resampling by
// uniformization/thinning, Metropolis–Hastings acceptance, switch-set
// maintenance, movement-parameter and switching-rate updates, and
// single-point local refinement.
package chain

import (
	"fmt"
	"math"
	"sort"
)

// PointKind tags whether an augmented-trajectory element originates from
// the observation store or from the inferred switch set.
type PointKind uint8

const (
	KindFix PointKind = iota
	KindSwitch
)

// Fix is one observed position. Only its State label is ever mutated
// after setup, and only by accepted trajectory updates.
type Fix struct {
	X, Y    float64
	T       float64
	State   int // 1..S
	Habitat int
}

// SwitchEvent is one inferred behavioural switch. State is the state
// entered at time T; T never coincides with a fix time.
type SwitchEvent struct {
	X, Y    float64
	T       float64
	State   int
	Habitat int
}

// Point is one element of an augmented trajectory: the time-ordered
// merge of fixes and switch events. Index refers back to the owning
// store (fix index or switch-set position) so accepted proposals can be
// mapped onto both sets.
type Point struct {
	X, Y    float64
	T       float64
	State   int
	Habitat int
	Kind    PointKind
	Index   int
}

// ObservationStore owns the ordered fix sequence. Construction
// validates the invariants the sampler depends on; violations are fatal
// setup errors, never mid-run conditions.
type ObservationStore struct {
	fixes []Fix
}

// NewObservationStore validates and adopts the fix sequence: times must
// be strictly increasing and unique, positions finite, and there must be
// at least two fixes to define any movement segment.
func NewObservationStore(fixes []Fix) (*ObservationStore, error) {
	if len(fixes) < 2 {
		return nil, fmt.Errorf("observations: need at least 2 fixes, got %d", len(fixes))
	}
	for i, f := range fixes {
		if math.IsNaN(f.X) || math.IsNaN(f.Y) || math.IsInf(f.X, 0) || math.IsInf(f.Y, 0) {
			return nil, fmt.Errorf("observations: fix %d has non-finite position (%g, %g)", i, f.X, f.Y)
		}
		if math.IsNaN(f.T) {
			return nil, fmt.Errorf("observations: fix %d has NaN time", i)
		}
		if i > 0 && f.T <= fixes[i-1].T {
			return nil, fmt.Errorf("observations: fix times must be strictly increasing, fix %d has t=%g after t=%g",
				i, f.T, fixes[i-1].T)
		}
	}
	out := make([]Fix, len(fixes))
	copy(out, fixes)
	return &ObservationStore{fixes: out}, nil
}

// Len returns the number of fixes.
func (o *ObservationStore) Len() int { return len(o.fixes) }

// At returns fix i by value.
func (o *ObservationStore) At(i int) Fix { return o.fixes[i] }

// SetState relabels fix i. Only the accept step of the driver and
// checkpoint restore call this.
func (o *ObservationStore) SetState(i, state int) { o.fixes[i].State = state }

// Window returns fixes [start, start+n) by value.
func (o *ObservationStore) Window(start, n int) []Fix {
	out := make([]Fix, n)
	copy(out, o.fixes[start:start+n])
	return out
}

// States returns a copy of all state labels, for checkpointing.
func (o *ObservationStore) States() []int {
	out := make([]int, len(o.fixes))
	for i, f := range o.fixes {
		out[i] = f.State
	}
	return out
}

// SwitchSet is the totally time-ordered set of currently inferred
// switch events. The driver owns it exclusively and mutates it only in
// the accept step and on accepted refinement moves.
type SwitchSet struct {
	events []SwitchEvent
}

// NewSwitchSet returns an empty switch set.
func NewSwitchSet() *SwitchSet { return &SwitchSet{} }

// NewSwitchSetFromEvents adopts an already time-ordered event sequence,
// validating the ordering. Used by checkpoint restore.
func NewSwitchSetFromEvents(evs []SwitchEvent) (*SwitchSet, error) {
	for i := 1; i < len(evs); i++ {
		if evs[i].T <= evs[i-1].T {
			return nil, fmt.Errorf("switch set: event times must be strictly increasing, got %g after %g",
				evs[i].T, evs[i-1].T)
		}
	}
	out := make([]SwitchEvent, len(evs))
	copy(out, evs)
	return &SwitchSet{events: out}, nil
}

// Len returns the number of events.
func (s *SwitchSet) Len() int { return len(s.events) }

// At returns event i by value.
func (s *SwitchSet) At(i int) SwitchEvent { return s.events[i] }

// All returns a copy of all events in time order.
func (s *SwitchSet) All() []SwitchEvent {
	out := make([]SwitchEvent, len(s.events))
	copy(out, s.events)
	return out
}

// searchTime returns the index of the first event with time >= t.
func (s *SwitchSet) searchTime(t float64) int {
	return sort.Search(len(s.events), func(i int) bool { return s.events[i].T >= t })
}

// Between returns the events with times strictly inside (t0, t1),
// together with the index of the first one.
func (s *SwitchSet) Between(t0, t1 float64) ([]SwitchEvent, int) {
	lo := s.searchTime(t0)
	for lo < len(s.events) && s.events[lo].T <= t0 {
		lo++
	}
	hi := lo
	for hi < len(s.events) && s.events[hi].T < t1 {
		hi++
	}
	out := make([]SwitchEvent, hi-lo)
	copy(out, s.events[lo:hi])
	return out, lo
}

// ReplaceRange removes every event with time strictly inside (t0, t1)
// and splices in evs, which must already be time-ordered and inside the
// interval. The set stays globally sorted because the interval bounds
// are fix times and the replacement is contiguous.
func (s *SwitchSet) ReplaceRange(t0, t1 float64, evs []SwitchEvent) {
	lo := s.searchTime(t0)
	for lo < len(s.events) && s.events[lo].T <= t0 {
		lo++
	}
	hi := lo
	for hi < len(s.events) && s.events[hi].T < t1 {
		hi++
	}
	merged := make([]SwitchEvent, 0, len(s.events)-(hi-lo)+len(evs))
	merged = append(merged, s.events[:lo]...)
	merged = append(merged, evs...)
	merged = append(merged, s.events[hi:]...)
	s.events = merged
}

// UpdateAt replaces event i in place. The new time must preserve the
// global ordering; out-of-order updates are rejected so a refinement
// move can never corrupt the set.
func (s *SwitchSet) UpdateAt(i int, ev SwitchEvent) error {
	if i < 0 || i >= len(s.events) {
		return fmt.Errorf("switch set: index %d out of range", i)
	}
	if i > 0 && ev.T <= s.events[i-1].T {
		return fmt.Errorf("switch set: time %g would break ordering with predecessor %g", ev.T, s.events[i-1].T)
	}
	if i < len(s.events)-1 && ev.T >= s.events[i+1].T {
		return fmt.Errorf("switch set: time %g would break ordering with successor %g", ev.T, s.events[i+1].T)
	}
	s.events[i] = ev
	return nil
}

// MergeAugmented merges a slice of fixes (taken from store position
// fixBase) with switch events (taken from switch-set position evBase)
// into one time-ordered augmented trajectory with per-element kind tags
// and back-references. Both inputs are already sorted, so this is a
// single stable two-way merge; fix and event times never collide.
func MergeAugmented(fixes []Fix, fixBase int, evs []SwitchEvent, evBase int) []Point {
	out := make([]Point, 0, len(fixes)+len(evs))
	i, j := 0, 0
	for i < len(fixes) || j < len(evs) {
		takeFix := j >= len(evs) || (i < len(fixes) && fixes[i].T < evs[j].T)
		if takeFix {
			f := fixes[i]
			out = append(out, Point{X: f.X, Y: f.Y, T: f.T, State: f.State, Habitat: f.Habitat, Kind: KindFix, Index: fixBase + i})
			i++
		} else {
			e := evs[j]
			out = append(out, Point{X: e.X, Y: e.Y, T: e.T, State: e.State, Habitat: e.Habitat, Kind: KindSwitch, Index: evBase + j})
			j++
		}
	}
	return out
}
