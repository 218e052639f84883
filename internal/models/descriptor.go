package models

import "fmt"

// SpecRef is one entry in a PlanDescriptor's spec list.
type SpecRef struct {
	Name         string   `json:"name"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// PlanDescriptor is the structured output of a Plan loop (spec.md §6.4),
// loaded from a JSON file by artifact.LoadPlanDescriptor.
type PlanDescriptor struct {
	Title    string    `json:"title"`
	Overview string    `json:"overview"`
	Specs    []SpecRef `json:"specs"`
}

// PhaseRef is one entry in a SpecDescriptor's phase list.
type PhaseRef struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Validation  string `json:"validation,omitempty"`
}

// SpecDescriptor is the structured output a Spec loop emits.
type SpecDescriptor struct {
	Name     string     `json:"name"`
	Title    string     `json:"title"`
	Overview string     `json:"overview"`
	Phases   []PhaseRef `json:"phases"`
}

// TaskAction is the filesystem action a Phase task performs.
type TaskAction string

const (
	ActionCreate TaskAction = "create"
	ActionModify TaskAction = "modify"
	ActionDelete TaskAction = "delete"
)

// PhaseTask is one entry in a PhaseDescriptor's task list.
type PhaseTask struct {
	Description string     `json:"description"`
	File        string     `json:"file,omitempty"`
	Action      TaskAction `json:"action,omitempty"`
}

// PhaseDescriptor is the structured output a Phase loop emits.
type PhaseDescriptor struct {
	Name             string      `json:"name"`
	Title            string      `json:"title"`
	Objective        string      `json:"objective"`
	Tasks            []PhaseTask `json:"tasks"`
	ValidationCommand string     `json:"validation_command"`
}

// Validate checks the cardinality and field requirements from spec.md §6.4:
// non-empty required strings, unique names within the parent, dependencies
// referencing existing sibling names, and 1..=10 specs.
func (d *PlanDescriptor) Validate() error {
	if d.Title == "" {
		return fmt.Errorf("plan descriptor: title is required")
	}
	if d.Overview == "" {
		return fmt.Errorf("plan descriptor: overview is required")
	}
	if len(d.Specs) < 1 || len(d.Specs) > 10 {
		return fmt.Errorf("plan descriptor: must have 1..=10 specs, got %d", len(d.Specs))
	}
	seen := make(map[string]bool, len(d.Specs))
	for _, s := range d.Specs {
		if s.Name == "" {
			return fmt.Errorf("plan descriptor: spec name is required")
		}
		if s.Title == "" || s.Description == "" {
			return fmt.Errorf("plan descriptor: spec %q requires title and description", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("plan descriptor: duplicate spec name %q", s.Name)
		}
		seen[s.Name] = true
	}
	for _, s := range d.Specs {
		for _, dep := range s.Dependencies {
			if !seen[dep] {
				return fmt.Errorf("plan descriptor: spec %q depends on unknown sibling %q", s.Name, dep)
			}
		}
	}
	return nil
}

// Validate checks the SpecDescriptor against spec.md §6.4: 3..=7 phases,
// unique names, non-empty required strings.
func (d *SpecDescriptor) Validate() error {
	if d.Name == "" || d.Title == "" || d.Overview == "" {
		return fmt.Errorf("spec descriptor: name, title, and overview are required")
	}
	if len(d.Phases) < 3 || len(d.Phases) > 7 {
		return fmt.Errorf("spec descriptor: must have 3..=7 phases, got %d", len(d.Phases))
	}
	seen := make(map[string]bool, len(d.Phases))
	for _, p := range d.Phases {
		if p.Name == "" || p.Title == "" || p.Description == "" {
			return fmt.Errorf("spec descriptor: phase requires name, title, and description")
		}
		if seen[p.Name] {
			return fmt.Errorf("spec descriptor: duplicate phase name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Validate checks the PhaseDescriptor against spec.md §6.4: non-empty
// required strings, and valid task actions.
func (d *PhaseDescriptor) Validate() error {
	if d.Name == "" || d.Title == "" || d.Objective == "" {
		return fmt.Errorf("phase descriptor: name, title, and objective are required")
	}
	if d.ValidationCommand == "" {
		return fmt.Errorf("phase descriptor: validation_command is required")
	}
	if len(d.Tasks) == 0 {
		return fmt.Errorf("phase descriptor: at least one task is required")
	}
	for i, t := range d.Tasks {
		if t.Description == "" {
			return fmt.Errorf("phase descriptor: task %d requires a description", i)
		}
		switch t.Action {
		case "", ActionCreate, ActionModify, ActionDelete:
		default:
			return fmt.Errorf("phase descriptor: task %d has invalid action %q", i, t.Action)
		}
	}
	return nil
}
