package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validPlanDescriptor() PlanDescriptor {
	return PlanDescriptor{
		Title:    "Add a counter",
		Overview: "Introduce a counter feature end to end.",
		Specs: []SpecRef{
			{Name: "counter-api", Title: "Counter API", Description: "Expose a counter endpoint"},
		},
	}
}

func TestPlanDescriptorValidate_Cardinality(t *testing.T) {
	d := validPlanDescriptor()
	assert.NoError(t, d.Validate())

	d.Specs = nil
	assert.Error(t, d.Validate())

	d = validPlanDescriptor()
	for i := 0; i < 11; i++ {
		d.Specs = append(d.Specs, SpecRef{Name: "s", Title: "t", Description: "d"})
	}
	assert.Error(t, d.Validate())
}

func TestPlanDescriptorValidate_DuplicateAndUnknownDependency(t *testing.T) {
	d := validPlanDescriptor()
	d.Specs = append(d.Specs, SpecRef{Name: "counter-api", Title: "dup", Description: "dup"})
	assert.Error(t, d.Validate())

	d = validPlanDescriptor()
	d.Specs[0].Dependencies = []string{"nonexistent"}
	assert.Error(t, d.Validate())
}

func TestSpecDescriptorValidate_PhaseCardinality(t *testing.T) {
	d := SpecDescriptor{Name: "n", Title: "t", Overview: "o"}
	assert.Error(t, d.Validate())

	for i := 0; i < 3; i++ {
		d.Phases = append(d.Phases, PhaseRef{Name: "p", Title: "t", Description: "d"})
	}
	assert.Error(t, d.Validate()) // duplicate phase names

	d.Phases = nil
	for i := 0; i < 3; i++ {
		d.Phases = append(d.Phases, PhaseRef{Name: string(rune('a' + i)), Title: "t", Description: "d"})
	}
	assert.NoError(t, d.Validate())
}

func TestPhaseDescriptorValidate_TaskAction(t *testing.T) {
	d := PhaseDescriptor{
		Name: "n", Title: "t", Objective: "o", ValidationCommand: "go test ./...",
		Tasks: []PhaseTask{{Description: "do it", Action: "bogus"}},
	}
	assert.Error(t, d.Validate())

	d.Tasks[0].Action = ActionCreate
	assert.NoError(t, d.Validate())
}
