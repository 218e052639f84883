// Package artifact turns structured descriptors (PlanDescriptor,
// SpecDescriptor, PhaseDescriptor) into the two artifact forms spec.md §6.4
// requires the engine to store: the descriptor itself (for spawning
// children) and a rendered human-readable document (for review). Markdown
// generation is local string building; yuin/goldmark renders that markdown
// to HTML for the review surface, the same markdown-to-HTML conversion
// step a task/plan viewer needs for its own display surface (out of scope
// here, but the conversion step is not).
package artifact

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/scottidler/loopr/internal/models"
)

// RenderPlanMarkdown renders a PlanDescriptor as a human-readable document.
func RenderPlanMarkdown(d models.PlanDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n\n## Specs\n\n", d.Title, d.Overview)
	for _, s := range d.Specs {
		fmt.Fprintf(&b, "- **%s** — %s\n\n  %s\n", s.Name, s.Title, s.Description)
		if len(s.Dependencies) > 0 {
			fmt.Fprintf(&b, "  depends on: %s\n", strings.Join(s.Dependencies, ", "))
		}
	}
	return b.String()
}

// RenderSpecMarkdown renders a SpecDescriptor as a human-readable document.
func RenderSpecMarkdown(d models.SpecDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n\n## Phases\n\n", d.Title, d.Overview)
	for _, p := range d.Phases {
		fmt.Fprintf(&b, "- **%s** — %s\n\n  %s\n", p.Name, p.Title, p.Description)
		if p.Validation != "" {
			fmt.Fprintf(&b, "  validation: `%s`\n", p.Validation)
		}
	}
	return b.String()
}

// RenderPhaseMarkdown renders a PhaseDescriptor as a human-readable document.
func RenderPhaseMarkdown(d models.PhaseDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n\n## Tasks\n\n", d.Title, d.Objective)
	for _, t := range d.Tasks {
		action := t.Action
		if action == "" {
			action = models.ActionModify
		}
		if t.File != "" {
			fmt.Fprintf(&b, "- [%s] `%s` — %s\n", action, t.File, t.Description)
		} else {
			fmt.Fprintf(&b, "- [%s] %s\n", action, t.Description)
		}
	}
	fmt.Fprintf(&b, "\nValidation command: `%s`\n", d.ValidationCommand)
	return b.String()
}

// ToHTML renders markdown to HTML for the review surface.
func ToHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render artifact markdown: %w", err)
	}
	return buf.String(), nil
}
