package store

import (
	"encoding/json"
	"fmt"

	"github.com/scottidler/loopr/internal/models"
)

const collectionToolJobs = "tool_jobs"

// ToolJobStore is the ToolJob-typed view over the generic Store (spec.md
// §4.4, C4/C1).
type ToolJobStore struct{ s *Store }

// ToolJobs builds the ToolJob-typed view over s.
func (s *Store) ToolJobs() *ToolJobStore { return &ToolJobStore{s: s} }

func (tjs *ToolJobStore) Create(tj models.ToolJob) error {
	return tjs.s.Create(collectionToolJobs, tj.ID, tj)
}

func (tjs *ToolJobStore) Get(id string) (models.ToolJob, bool, error) {
	raw, found, err := tjs.s.Get(collectionToolJobs, id)
	if err != nil || !found {
		return models.ToolJob{}, found, err
	}
	var tj models.ToolJob
	if err := json.Unmarshal(raw, &tj); err != nil {
		return models.ToolJob{}, false, fmt.Errorf("decode tool job %s: %w", id, err)
	}
	return tj, true, nil
}

func (tjs *ToolJobStore) Update(tj models.ToolJob) error {
	return tjs.s.Update(collectionToolJobs, tj.ID, tj)
}

// Query returns every tool job matching filters.
func (tjs *ToolJobStore) Query(filters ...Filter) ([]models.ToolJob, error) {
	rows, err := tjs.s.Query(collectionToolJobs, filters...)
	if err != nil {
		return nil, err
	}
	out := make([]models.ToolJob, 0, len(rows))
	for _, raw := range rows {
		var tj models.ToolJob
		if err := json.Unmarshal(raw, &tj); err != nil {
			return nil, fmt.Errorf("decode tool job row: %w", err)
		}
		out = append(out, tj)
	}
	return out, nil
}

// ForLoop returns every tool job dispatched on behalf of loopID.
func (tjs *ToolJobStore) ForLoop(loopID string) ([]models.ToolJob, error) {
	return tjs.Query(Eq("loop_id", loopID))
}
