package assemble

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"rewardcraft/internal/fault"
	"rewardcraft/internal/model"
	"rewardcraft/internal/planner"
)

const (
	DefaultMinStages = 2
	DefaultMaxStages = 5
)

var (
	ErrStageCount  = errors.New("curriculum stage count out of range")
	ErrMismatch    = errors.New("tasks and reward artifacts do not correspond")
	ErrUnknownTask = errors.New("override names an unknown task")
)

var defaultSignal = regexp.MustCompile(planner.DefaultSignalPattern)

type Options struct {
	MinStages int
	MaxStages int
	// SignalPattern phrases the final task; planner.DefaultSignalPattern when nil.
	SignalPattern *regexp.Regexp
}

// Assemble binds tasks, their accepted reward artifacts, and per-task
// threshold overrides into one curriculum. Overrides are keyed by task name;
// tasks without an entry run without a threshold. Out-of-range overrides are
// rejected, never clamped. The result shares no memory with the inputs and is
// identical for identical inputs.
func Assemble(s model.EnvironmentSchema, tasks []model.TaskSpec, artifacts []model.RewardArtifact, overrides map[string]model.ConfigOverride, opts Options) (model.Curriculum, error) {
	if opts.MinStages <= 0 {
		opts.MinStages = DefaultMinStages
	}
	if opts.MaxStages <= 0 {
		opts.MaxStages = DefaultMaxStages
	}
	if opts.SignalPattern == nil {
		opts.SignalPattern = defaultSignal
	}
	if len(tasks) < opts.MinStages || len(tasks) > opts.MaxStages {
		return model.Curriculum{}, fmt.Errorf("%w: %d stages, want %d..%d", ErrStageCount, len(tasks), opts.MinStages, opts.MaxStages)
	}

	byTask := make(map[string]model.RewardArtifact, len(artifacts))
	for _, a := range artifacts {
		if _, dup := byTask[a.SourceTask]; dup {
			return model.Curriculum{}, fmt.Errorf("%w: two artifacts for task %q", ErrMismatch, a.SourceTask)
		}
		byTask[a.SourceTask] = a
	}
	if len(artifacts) != len(tasks) {
		return model.Curriculum{}, fmt.Errorf("%w: %d tasks, %d artifacts", ErrMismatch, len(tasks), len(artifacts))
	}
	names := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if _, dup := names[t.Name]; dup {
			return model.Curriculum{}, fmt.Errorf("%w: task %q appears twice", ErrMismatch, t.Name)
		}
		names[t.Name] = struct{}{}
		if _, ok := byTask[t.Name]; !ok {
			return model.Curriculum{}, fmt.Errorf("%w: no artifact for task %q", ErrMismatch, t.Name)
		}
	}
	for name := range overrides {
		if _, ok := names[name]; !ok {
			return model.Curriculum{}, fmt.Errorf("%w: %q", ErrUnknownTask, name)
		}
	}

	final := tasks[len(tasks)-1]
	if err := planner.CheckSignalPhrase(opts.SignalPattern, final, s.Success); err != nil {
		return model.Curriculum{}, err
	}
	if !byTask[final.Name].Signal {
		return model.Curriculum{}, fault.NotSignal("final task %s has no signal reward", final.Name)
	}

	stages := make([]model.Stage, 0, len(tasks))
	for i, t := range tasks {
		ov, err := bindOverride(s, t.Name, overrides[t.Name])
		if err != nil {
			return model.Curriculum{}, err
		}
		stages = append(stages, model.Stage{
			Index:    i,
			Task:     t,
			Reward:   cloneArtifact(byTask[t.Name]),
			Override: ov,
		})
	}
	c := model.Curriculum{EnvironmentID: s.ID, Stages: stages}
	fp, err := Fingerprint(c)
	if err != nil {
		return model.Curriculum{}, err
	}
	c.Fingerprint = fp
	return c, nil
}

// CheckOverrides applies the same threshold rules Assemble does to overrides
// before any tasks exist, so a bad request fails before generation starts.
func CheckOverrides(s model.EnvironmentSchema, overrides map[string]model.ConfigOverride) error {
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := bindOverride(s, name, overrides[name]); err != nil {
			return err
		}
	}
	return nil
}

func bindOverride(s model.EnvironmentSchema, task string, ov model.ConfigOverride) (model.ConfigOverride, error) {
	cfg, ok := s.Threshold()
	if !ok {
		if ov.Value != nil {
			return model.ConfigOverride{}, fault.Newf(fault.KindConfigOutOfBounds, "task %s: %s has no threshold to override", task, s.ID).WithSubject(task)
		}
		return model.ConfigOverride{}, nil
	}
	if ov.Variable != "" && ov.Variable != cfg.Name {
		return model.ConfigOverride{}, fault.Newf(fault.KindConfigOutOfBounds, "task %s: %q is not the threshold variable %q", task, ov.Variable, cfg.Name).WithSubject(ov.Variable)
	}
	out := model.ConfigOverride{Variable: cfg.Name}
	if ov.Value == nil {
		return out, nil
	}
	if !cfg.Bounds.Contains(*ov.Value) {
		return model.ConfigOverride{}, fault.OutOfBounds(cfg.Name, *ov.Value, cfg.Bounds.Min, cfg.Bounds.Max)
	}
	v := *ov.Value
	out.Value = &v
	return out, nil
}

func cloneArtifact(a model.RewardArtifact) model.RewardArtifact {
	out := a
	out.Inputs = append([]string(nil), a.Inputs...)
	out.Components = append([]string(nil), a.Components...)
	out.Weights = make(map[string]float64, len(a.Weights))
	for k, v := range a.Weights {
		out.Weights[k] = v
	}
	return out
}

// Fingerprint hashes the environment and stages; ids and versions are excluded.
func Fingerprint(c model.Curriculum) (string, error) {
	payload, err := json.Marshal(struct {
		EnvironmentID string        `json:"environment_id"`
		Stages        []model.Stage `json:"stages"`
	}{c.EnvironmentID, c.Stages})
	if err != nil {
		return "", fmt.Errorf("assemble: fingerprint: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
