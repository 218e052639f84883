package cmd

import (
	"fmt"
	"strings"

	"github.com/scottidler/loopr/internal/llm"
	"github.com/scottidler/loopr/internal/models"
	"github.com/scottidler/loopr/internal/tools"
)

// shellQuote wraps s in single quotes for sh -c, escaping embedded single
// quotes the POSIX way ('\'').
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// defaultCatalog registers the handful of tools every loop kind may call,
// each a thin args-builder over a shell command (spec.md's Non-goals
// exclude sandboxed runner internals and prompt template content — only the
// lane a tool runs in and the command it maps to are this engine's
// concern).
func defaultCatalog() *tools.ToolCatalog {
	c := tools.NewToolCatalog()

	c.Register(tools.ToolDef{
		Name:     "read_file",
		Lane:     models.LaneNoNet,
		PathKeys: []string{"path"},
		Command: func(input map[string]any) ([]string, error) {
			path, err := requireString(input, "path")
			if err != nil {
				return nil, err
			}
			return []string{"cat", path}, nil
		},
	})

	c.Register(tools.ToolDef{
		Name:     "list_dir",
		Lane:     models.LaneNoNet,
		PathKeys: []string{"path"},
		Command: func(input map[string]any) ([]string, error) {
			path, _ := input["path"].(string)
			if path == "" {
				path = "."
			}
			return []string{"ls", "-la", path}, nil
		},
	})

	c.Register(tools.ToolDef{
		Name:     "grep",
		Lane:     models.LaneNoNet,
		PathKeys: []string{"path"},
		Command: func(input map[string]any) ([]string, error) {
			pattern, err := requireString(input, "pattern")
			if err != nil {
				return nil, err
			}
			path, _ := input["path"].(string)
			if path == "" {
				path = "."
			}
			return []string{"grep", "-rn", pattern, path}, nil
		},
	})

	c.Register(tools.ToolDef{
		Name:     "write_file",
		Lane:     models.LaneNoNet,
		PathKeys: []string{"path"},
		Command: func(input map[string]any) ([]string, error) {
			path, err := requireString(input, "path")
			if err != nil {
				return nil, err
			}
			content, _ := input["content"].(string)
			script := fmt.Sprintf("printf '%%s' %s > %s", shellQuote(content), shellQuote(path))
			return []string{"sh", "-c", script}, nil
		},
	})

	c.Register(tools.ToolDef{
		Name: "web_fetch",
		Lane: models.LaneNet,
		Command: func(input map[string]any) ([]string, error) {
			url, err := requireString(input, "url")
			if err != nil {
				return nil, err
			}
			return []string{"curl", "-fsSL", url}, nil
		},
	})

	return c
}

func requireString(input map[string]any, key string) (string, error) {
	v, ok := input[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("tool input missing required string field %q", key)
	}
	return v, nil
}

// toolSchemasForKind returns the tool schema set visible to a loop of the
// given kind (spec.md §4.6 step 3). Every kind sees the same read/search
// surface; only Code loops may write. Plan/Spec/Phase loops get neither a
// file-writing tool nor a descriptor-emitting tool, and the driver does not
// keep the model's text response.
func toolSchemasForKind(kind models.Kind) []llm.ToolSchema {
	base := []llm.ToolSchema{
		{Name: "read_file", Description: "Read a file's contents.", InputSchema: map[string]any{
			"type": "object", "properties": map[string]any{"path": map[string]any{"type": "string"}}, "required": []string{"path"},
		}},
		{Name: "list_dir", Description: "List a directory's entries.", InputSchema: map[string]any{
			"type": "object", "properties": map[string]any{"path": map[string]any{"type": "string"}},
		}},
		{Name: "grep", Description: "Search files for a pattern.", InputSchema: map[string]any{
			"type": "object", "properties": map[string]any{
				"pattern": map[string]any{"type": "string"}, "path": map[string]any{"type": "string"},
			}, "required": []string{"pattern"},
		}},
	}
	if kind == models.KindCode {
		base = append(base, llm.ToolSchema{
			Name: "write_file", Description: "Write a file's contents, creating or overwriting it.",
			InputSchema: map[string]any{
				"type": "object", "properties": map[string]any{
					"path": map[string]any{"type": "string"}, "content": map[string]any{"type": "string"},
				}, "required": []string{"path", "content"},
			},
		})
	}
	return base
}
