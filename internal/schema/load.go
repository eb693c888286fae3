package schema

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"rewardcraft/internal/model"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

func Parse(data []byte) (model.EnvironmentSchema, error) {
	var s model.EnvironmentSchema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return model.EnvironmentSchema{}, fmt.Errorf("schema: parse yaml: %w", err)
	}
	s = normalize(s)
	if err := Validate(s); err != nil {
		return model.EnvironmentSchema{}, err
	}
	return s, nil
}

// Builtin returns the embedded schemas sorted by file name.
func Builtin() ([]model.EnvironmentSchema, error) {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, err
	}
	out := make([]model.EnvironmentSchema, 0, len(entries))
	for _, entry := range entries {
		data, err := builtinFS.ReadFile("builtin/" + entry.Name())
		if err != nil {
			return nil, err
		}
		s, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("schema: builtin %s: %w", entry.Name(), err)
		}
		out = append(out, s)
	}
	return out, nil
}

// LoadDir registers every *.yaml / *.yml file in dir. A missing directory is
// not an error.
func (r *Registry) LoadDir(dir string) (int, error) {
	if strings.TrimSpace(dir) == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("schema: read dir %s: %w", dir, err)
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, fmt.Errorf("schema: read %s: %w", path, err)
		}
		s, err := Parse(data)
		if err != nil {
			return 0, fmt.Errorf("schema: %s: %w", path, err)
		}
		if err := r.Register(s); err != nil {
			return 0, fmt.Errorf("schema: %s: %w", path, err)
		}
	}
	return len(paths), nil
}
