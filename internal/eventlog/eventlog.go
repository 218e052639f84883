// Package eventlog is the convenience front for EventLog (spec.md §3.1, C9):
// a thin layer over store.EventStore that stamps and logs every record in
// one call, and a CLI-facing tail/query surface over the append-only
// stream. The durability itself lives in store.EventStore (C1); this
// package is the "write + observe" ergonomics the rest of the engine calls
// through, shaped after a Multi fan-out logger pattern (one call updates
// every sink).
package eventlog

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/scottidler/loopr/internal/logger"
	"github.com/scottidler/loopr/internal/models"
	"github.com/scottidler/loopr/internal/store"
)

// Log is the EventLog (C9).
type Log struct {
	events *store.EventStore
	merges *store.MergeStore
	sink   logger.Logger
}

// New builds a Log over s, optionally fanning every event out to sink too
// (sink may be nil).
func New(s *store.Store, sink logger.Logger) *Log {
	return &Log{events: s.Events(), merges: s.Merges(), sink: sink}
}

// Record appends an Event with a fresh id and the current time.
func (l *Log) Record(t models.EventType, loopID string, data map[string]any) (models.Event, error) {
	e := models.Event{
		ID:        uuid.NewString(),
		Type:      t,
		LoopID:    loopID,
		Data:      data,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := l.events.Append(e); err != nil {
		return models.Event{}, err
	}
	return e, nil
}

// LoopIteration records a loop.iteration event and logs it to the console
// sink, mirroring Driver's per-iteration console output (spec.md §6.2's
// "loop.iteration" push event).
func (l *Log) LoopIteration(loopID string, iteration int, passed bool) error {
	if l.sink != nil {
		l.sink.LoopIteration(loopID, iteration, passed)
	}
	_, err := l.Record(models.EventLoopIteration, loopID, map[string]any{
		"iteration": iteration, "passed": passed,
	})
	return err
}

// SignalEmitted records a signal.emitted event.
func (l *Log) SignalEmitted(sig models.Signal) error {
	if l.sink != nil {
		l.sink.SignalEmitted(sig.ID, string(sig.Kind), sig.TargetLoop+sig.TargetSelector)
	}
	_, err := l.Record(models.EventSignalEmitted, sig.TargetLoop, map[string]any{
		"signal_id": sig.ID, "kind": string(sig.Kind), "target_selector": sig.TargetSelector,
	})
	return err
}

// MergeCompleted records both the Event and the MergeRecord for a
// successful fast-forward (spec.md §6.2's "merge.completed" event plus the
// MergeRecord entity of §3.1).
func (l *Log) MergeCompleted(m models.MergeRecord) error {
	if l.sink != nil {
		l.sink.MergeCompleted(m.LoopID, m.PreMergeHead, m.PostMergeHead, m.FilesChanged)
	}
	if err := l.merges.Append(m); err != nil {
		return err
	}
	_, err := l.Record(models.EventMergeCompleted, m.LoopID, map[string]any{
		"pre_merge_head": m.PreMergeHead, "post_merge_head": m.PostMergeHead, "files_changed": m.FilesChanged,
	})
	return err
}

// ForLoop returns every event recorded against loopID, in store order.
func (l *Log) ForLoop(loopID string) ([]models.Event, error) {
	return l.events.ForLoop(loopID)
}

// Tail returns the most recent n events across every loop, newest last.
func (l *Log) Tail(n int) ([]models.Event, error) {
	all, err := l.events.Query()
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt < all[j].CreatedAt })
	if n <= 0 || n >= len(all) {
		return all, nil
	}
	return all[len(all)-n:], nil
}
