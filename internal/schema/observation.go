package schema

import (
	"errors"
	"fmt"
	"sort"

	"rewardcraft/internal/model"
)

var ErrObservationMismatch = errors.New("observation does not match schema")

// CheckObservation verifies obs carries exactly the schema's observation
// variables with the declared lengths.
func CheckObservation(s model.EnvironmentSchema, obs model.Observation) error {
	for _, v := range s.Observations {
		values, ok := obs[v.Name]
		if !ok {
			return fmt.Errorf("%w: missing %q", ErrObservationMismatch, v.Name)
		}
		if len(values) != v.Len() {
			return fmt.Errorf("%w: %q has %d components, want %d", ErrObservationMismatch, v.Name, len(values), v.Len())
		}
		if v.Kind == model.KindEnum {
			idx := values[0]
			if idx != float64(int(idx)) || idx < 0 || int(idx) >= len(v.EnumValues) {
				return fmt.Errorf("%w: %q index %g outside %d values", ErrObservationMismatch, v.Name, idx, len(v.EnumValues))
			}
		}
	}
	if len(obs) != len(s.Observations) {
		extra := make([]string, 0)
		for name := range obs {
			if _, ok := s.Observation(name); !ok {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
		return fmt.Errorf("%w: undeclared %v", ErrObservationMismatch, extra)
	}
	return nil
}

// ZeroObservation returns the observation with every component at zero.
func ZeroObservation(s model.EnvironmentSchema) model.Observation {
	obs := make(model.Observation, len(s.Observations))
	for _, v := range s.Observations {
		obs[v.Name] = make([]float64, v.Len())
	}
	return obs
}
