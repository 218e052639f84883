// Package signalbus implements SignalBus (spec.md §4.5, C5): persisted
// coordination signals with explicit-target and selector-based addressing,
// at-least-once delivery, and idempotent acknowledgment. Built directly on
// store.SignalStore/store.LoopStore (C1) rather than an in-memory pubsub,
// since every signal must survive a crash and be re-delivered on restart —
// a durability guarantee plain in-memory signal channels don't provide.
package signalbus

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/scottidler/loopr/internal/models"
	"github.com/scottidler/loopr/internal/store"
)

// Bus is the SignalBus (C5).
type Bus struct {
	signals *store.SignalStore
	loops   *store.LoopStore

	// AckPollInterval governs how often InvalidateDescendants polls the
	// store while waiting for targeted descendants to acknowledge Stop.
	AckPollInterval time.Duration
	// AckDeadline bounds that wait (spec.md §4.5 "configured ack deadline").
	AckDeadline time.Duration
}

// New builds a Bus over s.
func New(s *store.Store, ackDeadline time.Duration) *Bus {
	return &Bus{
		signals:         s.Signals(),
		loops:           s.Loops(),
		AckPollInterval: 100 * time.Millisecond,
		AckDeadline:     ackDeadline,
	}
}

// Emit persists sig, assigning ID/CreatedAt if unset (spec.md §4.5
// "emit(signal) — persists and returns").
func (b *Bus) Emit(sig models.Signal) (models.Signal, error) {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.CreatedAt == 0 {
		sig.CreatedAt = time.Now().UnixMilli()
	}
	if err := b.signals.Create(sig); err != nil {
		return models.Signal{}, err
	}
	return sig, nil
}

// Check returns the oldest unacknowledged signal explicitly targeting
// loopID, or failing that the oldest unacknowledged signal whose selector
// matches loopID (spec.md §4.5 "check"; precedence: specific target wins).
func (b *Bus) Check(loopID string) (*models.Signal, error) {
	targeted, err := b.signals.PendingForTarget(loopID)
	if err != nil {
		return nil, err
	}
	if len(targeted) > 0 {
		return oldest(targeted), nil
	}

	candidates, err := b.signals.PendingWithSelectors()
	if err != nil {
		return nil, err
	}
	var matched []models.Signal
	for _, sig := range candidates {
		sel, err := models.ParseSelector(sig.TargetSelector)
		if err != nil {
			continue
		}
		resolved, err := resolveSelector(b.loops, sel)
		if err != nil {
			return nil, err
		}
		if matchesLoop(resolved, loopID) {
			matched = append(matched, sig)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}
	return oldest(matched), nil
}

func oldest(sigs []models.Signal) *models.Signal {
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].CreatedAt < sigs[j].CreatedAt })
	return &sigs[0]
}

// Acknowledge marks a signal acknowledged, idempotently (spec.md §4.5
// "acknowledge(signal_id) — idempotent").
func (b *Bus) Acknowledge(signalID string) error {
	return b.signals.Acknowledge(signalID, time.Now().UnixMilli())
}

// InvalidateDescendants is the convenience operation of spec.md §4.5: emit a
// Stop signal targeting descendants:<ancestorID>, wait up to AckDeadline for
// running descendants to acknowledge, then mark every non-terminal
// descendant Invalidated regardless of whether it acknowledged in time
// (spec.md invariant #7 "cascade totality").
func (b *Bus) InvalidateDescendants(ctx context.Context, ancestorID, reason string) (int, error) {
	descendants, err := descendantsOf(b.loops, ancestorID)
	if err != nil {
		return 0, err
	}

	if _, err := b.Emit(models.Signal{
		Kind:           models.SignalStop,
		SourceLoop:     ancestorID,
		TargetSelector: "descendants:" + ancestorID,
		Reason:         reason,
	}); err != nil {
		return 0, err
	}

	b.waitForAcks(ctx, descendants)

	count := 0
	for _, d := range descendants {
		current, found, err := b.loops.Get(d.ID)
		if err != nil {
			return count, err
		}
		if !found || current.Status.Terminal() {
			continue
		}
		current.Status = models.StatusInvalidated
		current.UpdatedAt = time.Now().UnixMilli()
		if err := b.loops.Update(current); err != nil {
			return count, fmt.Errorf("invalidate %s: %w", d.ID, err)
		}
		count++
	}
	return count, nil
}

func (b *Bus) waitForAcks(ctx context.Context, descendants []models.Loop) {
	deadline := time.Now().Add(b.AckDeadline)
	running := make(map[string]bool)
	for _, d := range descendants {
		if d.Status == models.StatusRunning {
			running[d.ID] = true
		}
	}
	if len(running) == 0 {
		return
	}

	ticker := time.NewTicker(b.AckPollInterval)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		allAcked := true
		for id := range running {
			pending, err := b.Check(id)
			if err != nil {
				continue
			}
			if pending != nil && pending.Kind == models.SignalStop {
				allAcked = false
			}
		}
		if allAcked {
			return
		}
	}
}
