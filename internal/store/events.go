package store

import (
	"encoding/json"
	"fmt"

	"github.com/scottidler/loopr/internal/models"
)

const collectionEvents = "events"
const collectionMerges = "merges"

// EventStore is the Event-typed view over the generic Store (C9/C1).
type EventStore struct{ s *Store }

// Events builds the Event-typed view over s.
func (s *Store) Events() *EventStore { return &EventStore{s: s} }

// Append writes an Event. Events are never updated or deleted; they are a
// pure observability stream.
func (es *EventStore) Append(e models.Event) error {
	return es.s.Create(collectionEvents, e.ID, e)
}

// Query returns every event matching filters.
func (es *EventStore) Query(filters ...Filter) ([]models.Event, error) {
	rows, err := es.s.Query(collectionEvents, filters...)
	if err != nil {
		return nil, err
	}
	out := make([]models.Event, 0, len(rows))
	for _, raw := range rows {
		var e models.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode event row: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// ForLoop returns every event recorded against loopID.
func (es *EventStore) ForLoop(loopID string) ([]models.Event, error) {
	return es.Query(Eq("loop_id", loopID))
}

// MergeStore is the MergeRecord-typed view over the generic Store (C2/C1).
type MergeStore struct{ s *Store }

// Merges builds the MergeRecord-typed view over s.
func (s *Store) Merges() *MergeStore { return &MergeStore{s: s} }

// Append writes a MergeRecord. Like events, merge records are an append-only
// audit trail and are never updated in place.
func (ms *MergeStore) Append(m models.MergeRecord) error {
	return ms.s.Create(collectionMerges, m.ID, m)
}

// ForLoop returns every merge record for loopID.
func (ms *MergeStore) ForLoop(loopID string) ([]models.MergeRecord, error) {
	rows, err := ms.s.Query(collectionMerges, Eq("loop_id", loopID))
	if err != nil {
		return nil, err
	}
	out := make([]models.MergeRecord, 0, len(rows))
	for _, raw := range rows {
		var m models.MergeRecord
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode merge record row: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}
