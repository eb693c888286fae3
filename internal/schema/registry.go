package schema

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"rewardcraft/internal/envid"
	"rewardcraft/internal/fault"
	"rewardcraft/internal/model"
)

var (
	ErrSchemaExists  = errors.New("environment schema already registered")
	ErrInvalidSchema = errors.New("invalid environment schema")
)

// Registry holds environment schemas keyed by canonical id. It is written
// during start-up and only read afterwards.
type Registry struct {
	mu sync.RWMutex
	m  map[string]model.EnvironmentSchema
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[string]model.EnvironmentSchema)}
}

// NewBuiltinRegistry returns a registry preloaded with the embedded schemas.
func NewBuiltinRegistry() (*Registry, error) {
	r := NewRegistry()
	schemas, err := Builtin()
	if err != nil {
		return nil, err
	}
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(s model.EnvironmentSchema) error {
	s = normalize(s)
	if err := Validate(s); err != nil {
		return err
	}
	key := envid.Normalize(s.ID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.m[key]; exists {
		return fmt.Errorf("%w: %s", ErrSchemaExists, s.ID)
	}
	r.m[key] = clone(s)
	return nil
}

// Get resolves an environment id (any alias accepted by envid.Normalize).
func (r *Registry) Get(id string) (model.EnvironmentSchema, error) {
	key := envid.Normalize(id)
	r.mu.RLock()
	s, ok := r.m[key]
	r.mu.RUnlock()
	if !ok || key == "" {
		return model.EnvironmentSchema{}, fault.UnknownEnvironment(id)
	}
	return clone(s), nil
}

// List returns the registered schema ids in canonical order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.m))
	for k := range r.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, r.m[k].ID)
	}
	return ids
}

func clone(s model.EnvironmentSchema) model.EnvironmentSchema {
	out := s
	out.Observations = cloneVars(s.Observations)
	out.Configuration = cloneVars(s.Configuration)
	return out
}

func cloneVars(in []model.VariableSpec) []model.VariableSpec {
	if in == nil {
		return nil
	}
	out := make([]model.VariableSpec, len(in))
	for i, v := range in {
		out[i] = v
		if v.Bounds != nil {
			b := *v.Bounds
			out[i].Bounds = &b
		}
		if v.EnumValues != nil {
			out[i].EnumValues = append([]string(nil), v.EnumValues...)
		}
	}
	return out
}
