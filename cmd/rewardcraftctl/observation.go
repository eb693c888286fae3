package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"rewardcraft/internal/model"
)

// readObservation loads a YAML or JSON mapping of variable names to a number
// or a list of numbers.
func readObservation(path string) (model.Observation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse observation %s: %w", path, err)
	}
	obs := make(model.Observation, len(raw))
	for name, node := range raw {
		switch node.Kind {
		case yaml.ScalarNode:
			var v float64
			if err := node.Decode(&v); err != nil {
				return nil, fmt.Errorf("observation %s: %w", name, err)
			}
			obs[name] = []float64{v}
		case yaml.SequenceNode:
			var v []float64
			if err := node.Decode(&v); err != nil {
				return nil, fmt.Errorf("observation %s: %w", name, err)
			}
			obs[name] = v
		default:
			return nil, fmt.Errorf("observation %s: expected a number or a list of numbers", name)
		}
	}
	return obs, nil
}
