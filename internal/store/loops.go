package store

import (
	"encoding/json"
	"fmt"

	"github.com/scottidler/loopr/internal/models"
)

const collectionLoops = "loops"

// LoopStore is the Loop-typed view over the generic Store, translating
// models.Loop marshal/unmarshal so LoopManager/LoopDriver never touch raw
// JSON (spec.md §4.1, C1).
type LoopStore struct{ s *Store }

// Loops builds the Loop-typed view over s.
func (s *Store) Loops() *LoopStore { return &LoopStore{s: s} }

func (ls *LoopStore) Create(l models.Loop) error {
	if err := l.Validate(); err != nil {
		return err
	}
	return ls.s.Create(collectionLoops, l.ID, l)
}

func (ls *LoopStore) Get(id string) (models.Loop, bool, error) {
	raw, found, err := ls.s.Get(collectionLoops, id)
	if err != nil || !found {
		return models.Loop{}, found, err
	}
	var l models.Loop
	if err := json.Unmarshal(raw, &l); err != nil {
		return models.Loop{}, false, fmt.Errorf("decode loop %s: %w", id, err)
	}
	return l, true, nil
}

func (ls *LoopStore) Update(l models.Loop) error {
	if err := l.Validate(); err != nil {
		return err
	}
	return ls.s.Update(collectionLoops, l.ID, l)
}

// Query returns every loop matching filters, decoded from raw JSON.
func (ls *LoopStore) Query(filters ...Filter) ([]models.Loop, error) {
	rows, err := ls.s.Query(collectionLoops, filters...)
	if err != nil {
		return nil, err
	}
	out := make([]models.Loop, 0, len(rows))
	for _, raw := range rows {
		var l models.Loop
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, fmt.Errorf("decode loop row: %w", err)
		}
		out = append(out, l)
	}
	return out, nil
}

// Children returns every loop whose parent_id is id.
func (ls *LoopStore) Children(id string) ([]models.Loop, error) {
	return ls.Query(Eq("parent_id", id))
}

// ByStatus returns every loop in the given status.
func (ls *LoopStore) ByStatus(status models.Status) ([]models.Loop, error) {
	return ls.Query(Eq("status", string(status)))
}
