package signalbus

import (
	"github.com/scottidler/loopr/internal/models"
	"github.com/scottidler/loopr/internal/store"
)

// resolveSelector returns every loop matching sel against the loop hierarchy
// in loops (spec.md §4.5 selector semantics table).
func resolveSelector(loops *store.LoopStore, sel models.Selector) ([]models.Loop, error) {
	switch sel.Kind {
	case models.SelectorChildren:
		return loops.Children(sel.Arg)
	case models.SelectorKindMatch:
		return loops.Query(store.Eq("kind", sel.Arg))
	case models.SelectorStatus:
		return loops.Query(store.Eq("status", sel.Arg))
	case models.SelectorDescendants:
		return descendantsOf(loops, sel.Arg)
	default:
		return nil, nil
	}
}

// descendantsOf walks the loop tree breadth-first from ancestorID, returning
// every loop whose parent chain reaches it (spec.md "descendants:<id>
// matches any loop whose parent chain reaches <id>").
func descendantsOf(loops *store.LoopStore, ancestorID string) ([]models.Loop, error) {
	var out []models.Loop
	frontier := []string{ancestorID}
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			children, err := loops.Children(id)
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				out = append(out, c)
				next = append(next, c.ID)
			}
		}
		frontier = next
	}
	return out, nil
}

// matchesLoop reports whether loopID appears in the resolved selector set.
func matchesLoop(resolved []models.Loop, loopID string) bool {
	for _, l := range resolved {
		if l.ID == loopID {
			return true
		}
	}
	return false
}
