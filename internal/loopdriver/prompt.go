package loopdriver

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/scottidler/loopr/internal/engineerr"
)

// promptTemplateFuncs is kept minimal and deterministic; prompt template
// CONTENT is explicitly out of scope (spec.md §1 Non-goals) — only the
// rendering mechanism belongs here. text/template is the stdlib choice: no
// third-party templating library appears anywhere in the example corpus, so
// there is nothing to ground a swap-in on (documented in DESIGN.md).
var promptTemplateFuncs = template.FuncMap{}

// renderPrompt renders the template at templateBody (already read from
// prompt_path by the caller) against ctx.
func renderPrompt(name, templateBody string, ctx map[string]any) (string, error) {
	tmpl, err := template.New(name).Funcs(promptTemplateFuncs).Parse(templateBody)
	if err != nil {
		return "", fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("render prompt template %s: %w", name, err)
	}
	return buf.String(), nil
}

// withFeedback appends the "Previous Attempt Feedback" section spec.md
// §4.6 step 2 requires whenever progress is non-empty.
func withFeedback(task, progress string) string {
	if progress == "" {
		return task
	}
	return task + "\n\n--- Previous Attempt Feedback ---\n" + progress
}

// budgetPolicy holds the limits for the context-budget truncation of
// spec.md §4.6 step 2: trim progress to its two most recent iterations,
// then cut the whole message to ToolOutputThreshold characters, failing
// with ContextOverflow if the message is still over budget. ArtifactThreshold
// is not read: artifact inclusions are not summarized separately.
type budgetPolicy struct {
	ModelContextTokens   int
	ReservedOutputTokens int
	ArtifactThreshold    int
	ToolOutputThreshold  int
}

// estimateTokens is a conservative 4-chars-per-token heuristic, the common
// rough estimator used when a real tokenizer isn't available — adequate
// here since the budget check only needs to be conservative, not exact.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// truncateToBudget applies that two-step policy to userMessage (already
// containing the rendered task plus feedback), returning the possibly
// truncated message or a *engineerr.ContextOverflowError if it cannot be
// brought into budget.
func (p budgetPolicy) truncateToBudget(systemPrompt, progress, userMessage string) (string, error) {
	budget := p.ModelContextTokens - p.ReservedOutputTokens
	used := func(msg string) int { return estimateTokens(systemPrompt) + estimateTokens(msg) }

	if used(userMessage) <= budget {
		return userMessage, nil
	}

	// Step 1: drop oldest progress entries, keep at least the two most
	// recent "--- Iteration N Failed" sections.
	msg := userMessage
	if progress != "" {
		trimmedProgress := keepRecentSections(progress, 2)
		msg = strings.Replace(userMessage, progress, trimmedProgress, 1)
		if used(msg) <= budget {
			return msg, nil
		}
	}

	// Step 2: msg carries no artifact/tool-output boundary markers, so the
	// whole message is cut to ToolOutputThreshold characters; inclusions
	// are not summarized or truncated one by one.
	if len(msg) > p.ToolOutputThreshold {
		msg = msg[:p.ToolOutputThreshold] + "\n...[truncated to fit context budget]...\n"
	}
	if used(msg) <= budget {
		return msg, nil
	}

	return "", &engineerr.ContextOverflowError{UsedTokens: used(msg), LimitTokens: budget}
}

// keepRecentSections keeps only the last n "--- Iteration N Failed" sections
// of a progress string built by models.Loop.AppendFailure.
func keepRecentSections(progress string, n int) string {
	if progress == "" {
		return progress
	}
	sections := strings.Split(progress, "\n--- Iteration")
	if len(sections) <= n {
		return progress
	}
	kept := sections[len(sections)-n:]
	for i := range kept {
		kept[i] = "--- Iteration" + kept[i]
	}
	return strings.Join(kept, "\n")
}
