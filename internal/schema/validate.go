package schema

import (
	"fmt"
	"go/token"
	"go/types"
	"regexp"
	"strings"

	"rewardcraft/internal/model"
)

var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// reservedName reports whether name would collide with Go syntax, a
// predeclared identifier, or the math package inside a reward function.
func reservedName(name string) bool {
	return token.IsKeyword(name) || types.Universe.Lookup(name) != nil || name == "math"
}

func normalize(s model.EnvironmentSchema) model.EnvironmentSchema {
	s.ID = strings.TrimSpace(s.ID)
	if s.Name == "" {
		s.Name = s.ID
	}
	s.Observations = normalizeVars(s.Observations, model.MutabilityObservation)
	s.Configuration = normalizeVars(s.Configuration, model.MutabilityConfiguration)
	if s.Success.Comparator == "" {
		s.Success.Comparator = "<"
	}
	return s
}

func normalizeVars(vars []model.VariableSpec, mutability model.Mutability) []model.VariableSpec {
	out := cloneVars(vars)
	for i := range out {
		out[i].Name = strings.TrimSpace(out[i].Name)
		out[i].Mutability = mutability
		if out[i].Kind == "" {
			out[i].Kind = model.KindScalar
		}
		if out[i].Kind != model.KindVector && out[i].Shape == 0 {
			out[i].Shape = 1
		}
	}
	return out
}

// Validate checks the structural rules every registered schema obeys.
func Validate(s model.EnvironmentSchema) error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSchema)
	}
	if len(s.Observations) == 0 {
		return fmt.Errorf("%w: %s: at least one observation variable is required", ErrInvalidSchema, s.ID)
	}
	seen := make(map[string]struct{})
	all := append(append([]model.VariableSpec(nil), s.Observations...), s.Configuration...)
	for _, v := range all {
		if !identifierPattern.MatchString(v.Name) {
			return fmt.Errorf("%w: %s: variable name %q must be lower snake_case", ErrInvalidSchema, s.ID, v.Name)
		}
		if reservedName(v.Name) {
			return fmt.Errorf("%w: %s: variable name %q is reserved in Go", ErrInvalidSchema, s.ID, v.Name)
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("%w: %s: duplicate variable %q", ErrInvalidSchema, s.ID, v.Name)
		}
		seen[v.Name] = struct{}{}
		switch v.Kind {
		case model.KindVector:
			if v.Shape < 1 {
				return fmt.Errorf("%w: %s: vector %q needs shape >= 1", ErrInvalidSchema, s.ID, v.Name)
			}
		case model.KindScalar:
		case model.KindEnum:
			if len(v.EnumValues) == 0 {
				return fmt.Errorf("%w: %s: enum %q needs values", ErrInvalidSchema, s.ID, v.Name)
			}
		default:
			return fmt.Errorf("%w: %s: variable %q has unknown kind %q", ErrInvalidSchema, s.ID, v.Name, v.Kind)
		}
		if v.Bounds != nil && v.Bounds.Min > v.Bounds.Max {
			return fmt.Errorf("%w: %s: variable %q has min > max", ErrInvalidSchema, s.ID, v.Name)
		}
	}
	if len(s.Configuration) > 1 {
		return fmt.Errorf("%w: %s: at most one configuration variable is supported", ErrInvalidSchema, s.ID)
	}
	if len(s.Configuration) == 1 {
		cfg := s.Configuration[0]
		if cfg.Kind != model.KindScalar || cfg.Bounds == nil {
			return fmt.Errorf("%w: %s: configuration %q must be a bounded scalar", ErrInvalidSchema, s.ID, cfg.Name)
		}
	}
	succ, ok := s.Observation(s.Success.Variable)
	if !ok {
		return fmt.Errorf("%w: %s: success variable %q is not an observation", ErrInvalidSchema, s.ID, s.Success.Variable)
	}
	if succ.Kind != model.KindScalar {
		return fmt.Errorf("%w: %s: success variable %q must be a scalar", ErrInvalidSchema, s.ID, succ.Name)
	}
	if s.Success.Comparator != "<" && s.Success.Comparator != "<=" {
		return fmt.Errorf("%w: %s: success comparator %q unsupported", ErrInvalidSchema, s.ID, s.Success.Comparator)
	}
	return nil
}
