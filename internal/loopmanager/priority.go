package loopmanager

import (
	"sort"
	"time"

	"github.com/scottidler/loopr/internal/models"
)

// basePriority is the per-kind starting priority of spec.md §4.7's table.
var basePriority = map[models.Kind]int{
	models.KindPlan:  40,
	models.KindSpec:  60,
	models.KindPhase: 80,
	models.KindCode:  100,
}

// priority computes spec.md §4.7's ranking formula:
//
//	priority = base[kind] + age_boost + depth_boost - retry_penalty
func priority(l models.Loop, depth int, now time.Time) int {
	base := basePriority[l.Kind]

	minutesWaiting := int(now.Sub(time.UnixMilli(l.CreatedAt)).Minutes())
	ageBoost := minutesWaiting
	if ageBoost > 50 {
		ageBoost = 50
	}

	depthBoost := 10 * depth

	retryPenalty := 0
	if l.Iteration >= 1 {
		retryPenalty = 5 * (l.Iteration - 1)
		if retryPenalty > 30 {
			retryPenalty = 30
		}
	}

	return base + ageBoost + depthBoost - retryPenalty
}

// rankedLoop pairs a loop with its computed priority for stable
// sorting (ties break by CreatedAt, FIFO).
type rankedLoop struct {
	loop     models.Loop
	priority int
}

// rank orders runnable in descending priority order, breaking ties by
// CreatedAt ascending (spec.md §4.7 step 4).
func rank(runnable []models.Loop, depthOf func(id string) int, now time.Time) []models.Loop {
	ranked := make([]rankedLoop, len(runnable))
	for i, l := range runnable {
		ranked[i] = rankedLoop{loop: l, priority: priority(l, depthOf(l.ID), now)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].priority != ranked[j].priority {
			return ranked[i].priority > ranked[j].priority
		}
		return ranked[i].loop.CreatedAt < ranked[j].loop.CreatedAt
	})
	out := make([]models.Loop, len(ranked))
	for i, r := range ranked {
		out[i] = r.loop
	}
	return out
}
