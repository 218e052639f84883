package artifact

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/scottidler/loopr/internal/models"
)

// LoadPlanDescriptor reads and validates a PlanDescriptor from the JSON file
// at path (spec.md §6.4).
func LoadPlanDescriptor(path string) (models.PlanDescriptor, error) {
	var d models.PlanDescriptor
	if err := readJSON(path, &d); err != nil {
		return d, err
	}
	return d, d.Validate()
}

// LoadSpecDescriptor reads and validates a SpecDescriptor.
func LoadSpecDescriptor(path string) (models.SpecDescriptor, error) {
	var d models.SpecDescriptor
	if err := readJSON(path, &d); err != nil {
		return d, err
	}
	return d, d.Validate()
}

// LoadPhaseDescriptor reads and validates a PhaseDescriptor.
func LoadPhaseDescriptor(path string) (models.PhaseDescriptor, error) {
	var d models.PhaseDescriptor
	if err := readJSON(path, &d); err != nil {
		return d, err
	}
	return d, d.Validate()
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read descriptor %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode descriptor %s: %w", path, err)
	}
	return nil
}
