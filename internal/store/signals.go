package store

import (
	"encoding/json"
	"fmt"

	"github.com/scottidler/loopr/internal/models"
)

const collectionSignals = "signals"

// SignalStore is the Signal-typed view over the generic Store (spec.md
// §4.5, C5/C1).
type SignalStore struct{ s *Store }

// Signals builds the Signal-typed view over s.
func (s *Store) Signals() *SignalStore { return &SignalStore{s: s} }

func (ss *SignalStore) Create(sig models.Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	return ss.s.Create(collectionSignals, sig.ID, sig)
}

func (ss *SignalStore) Get(id string) (models.Signal, bool, error) {
	raw, found, err := ss.s.Get(collectionSignals, id)
	if err != nil || !found {
		return models.Signal{}, found, err
	}
	var sig models.Signal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return models.Signal{}, false, fmt.Errorf("decode signal %s: %w", id, err)
	}
	return sig, true, nil
}

// Acknowledge is the only mutation a signal undergoes after creation: it
// stamps acknowledged_at. Acknowledgment is idempotent — re-acknowledging an
// already-acknowledged signal is a no-op, never an error (spec.md §8.1 #5).
func (ss *SignalStore) Acknowledge(id string, ackMillis int64) error {
	sig, found, err := ss.Get(id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("acknowledge signal %s: not found", id)
	}
	if sig.Acknowledged() {
		return nil
	}
	sig.AcknowledgedAt = ackMillis
	return ss.s.Update(collectionSignals, id, sig)
}

// Query returns every signal matching filters.
func (ss *SignalStore) Query(filters ...Filter) ([]models.Signal, error) {
	rows, err := ss.s.Query(collectionSignals, filters...)
	if err != nil {
		return nil, err
	}
	out := make([]models.Signal, 0, len(rows))
	for _, raw := range rows {
		var sig models.Signal
		if err := json.Unmarshal(raw, &sig); err != nil {
			return nil, fmt.Errorf("decode signal row: %w", err)
		}
		out = append(out, sig)
	}
	return out, nil
}

// PendingForTarget returns every unacknowledged signal explicitly targeting
// loopID (selector-addressed signals are resolved separately, since matching
// them requires parent-chain/kind/status lookups the index alone can't do).
func (ss *SignalStore) PendingForTarget(loopID string) ([]models.Signal, error) {
	all, err := ss.Query(Eq("target_loop", loopID), Absent("acknowledged_at"))
	if err != nil {
		return nil, err
	}
	return all, nil
}

// PendingWithSelectors returns every unacknowledged signal that carries a
// target_selector, for the caller to resolve against the loop hierarchy.
func (ss *SignalStore) PendingWithSelectors() ([]models.Signal, error) {
	all, err := ss.Query(Absent("target_loop"), Absent("acknowledged_at"))
	if err != nil {
		return nil, err
	}
	return all, nil
}
