package assemble

import (
	"errors"
	"reflect"
	"testing"

	"rewardcraft/internal/fault"
	"rewardcraft/internal/model"
	"rewardcraft/internal/schema"
)

func fixture(t *testing.T, env string) (model.EnvironmentSchema, []model.TaskSpec, []model.RewardArtifact) {
	t.Helper()
	r, err := schema.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	s, err := r.Get(env)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	tasks := []model.TaskSpec{
		{Name: "approach_goal", Description: "minimize goal_distance"},
		{Name: "reach_goal", Description: s.Success.SignalPhrase()},
	}
	artifacts := []model.RewardArtifact{
		{SourceTask: "reach_goal", FunctionName: "ComputeReward", Source: "b", Weights: map[string]float64{"success_weight": 1}, Components: []string{"success"}, Signal: true},
		{SourceTask: "approach_goal", FunctionName: "ComputeReward", Source: "a", Inputs: []string{"goal_distance"}, Weights: map[string]float64{"distance_weight": 1}, Components: []string{"distance"}},
	}
	return s, tasks, artifacts
}

func ptr(v float64) *float64 { return &v }

func TestAssembleMatchesByTaskName(t *testing.T) {
	s, tasks, arts := fixture(t, "AntMaze_UMaze")
	c, err := Assemble(s, tasks, arts, nil, Options{})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(c.Stages) != 2 || c.Stages[0].Reward.Source != "a" || c.Stages[1].Reward.Source != "b" {
		t.Fatalf("unexpected stages %+v", c.Stages)
	}
	if c.Stages[0].Override.Variable != "distance_threshold" || c.Stages[0].Override.Value != nil {
		t.Fatalf("tasks without override run without threshold, got %+v", c.Stages[0].Override)
	}
	if c.Fingerprint == "" || c.EnvironmentID != "AntMaze_UMaze" {
		t.Fatalf("missing fingerprint or environment: %+v", c)
	}
}

func TestAssembleOverrideBounds(t *testing.T) {
	s, tasks, arts := fixture(t, "AntMaze_UMaze")
	_, err := Assemble(s, tasks, arts, map[string]model.ConfigOverride{"approach_goal": {Value: ptr(9.0)}}, Options{})
	if !fault.Is(err, fault.KindConfigOutOfBounds) {
		t.Fatalf("expected 9.0 rejected, got %v", err)
	}
	_, err = Assemble(s, tasks, arts, map[string]model.ConfigOverride{"approach_goal": {Value: ptr(4.99)}}, Options{})
	if !fault.Is(err, fault.KindConfigOutOfBounds) {
		t.Fatalf("expected 4.99 rejected, got %v", err)
	}
	c, err := Assemble(s, tasks, arts, map[string]model.ConfigOverride{"approach_goal": {Value: nil}, "reach_goal": {Value: ptr(8.0)}}, Options{})
	if err != nil {
		t.Fatalf("null and boundary overrides must be accepted: %v", err)
	}
	if c.Stages[0].Override.Value != nil || *c.Stages[1].Override.Value != 8.0 {
		t.Fatalf("unexpected overrides %+v %+v", c.Stages[0].Override, c.Stages[1].Override)
	}
}

func TestCheckOverridesBeforeTasksExist(t *testing.T) {
	s, _, _ := fixture(t, "AntMaze_UMaze")
	if err := CheckOverrides(s, map[string]model.ConfigOverride{"any_task": {Value: ptr(6)}, "other": {}}); err != nil {
		t.Fatalf("in-bounds overrides must pass: %v", err)
	}
	err := CheckOverrides(s, map[string]model.ConfigOverride{"any_task": {Value: ptr(9)}})
	fe, ok := fault.As(err)
	if !ok || fe.Kind != fault.KindConfigOutOfBounds || fe.Subject != "distance_threshold" {
		t.Fatalf("expected distance_threshold out of bounds, got %v", err)
	}
}

func TestAssembleOverrideWithoutThreshold(t *testing.T) {
	s, tasks, arts := fixture(t, "AdroitHandRelocate")
	if _, err := Assemble(s, tasks, arts, map[string]model.ConfigOverride{"reach_goal": {Value: nil}}, Options{}); err != nil {
		t.Fatalf("null override must be accepted: %v", err)
	}
	_, err := Assemble(s, tasks, arts, map[string]model.ConfigOverride{"reach_goal": {Value: ptr(0.1)}}, Options{})
	if !fault.Is(err, fault.KindConfigOutOfBounds) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestAssembleIsIdempotentAndIsolated(t *testing.T) {
	s, tasks, arts := fixture(t, "AntMaze_UMaze")
	overrides := map[string]model.ConfigOverride{"approach_goal": {Value: ptr(6)}}
	first, err := Assemble(s, tasks, arts, overrides, Options{})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	second, err := Assemble(s, tasks, arts, overrides, Options{})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("assembling the same inputs twice must give equal curricula")
	}
	arts[1].Weights["distance_weight"] = 42
	*overrides["approach_goal"].Value = 7
	if first.Stages[0].Reward.Weights["distance_weight"] != 1 || *first.Stages[0].Override.Value != 6 {
		t.Fatal("curriculum shares memory with its inputs")
	}
}

func TestAssembleRejectsBadShapes(t *testing.T) {
	s, tasks, arts := fixture(t, "AntMaze_UMaze")
	cases := []struct {
		name      string
		tasks     []model.TaskSpec
		arts      []model.RewardArtifact
		overrides map[string]model.ConfigOverride
		want      error
		kind      fault.Kind
	}{
		{name: "single stage", tasks: tasks[1:], arts: arts[:1], want: ErrStageCount},
		{name: "missing artifact", tasks: tasks, arts: arts[:1], want: ErrMismatch},
		{name: "renamed artifact", tasks: tasks, arts: []model.RewardArtifact{arts[0], {SourceTask: "other"}}, want: ErrMismatch},
		{name: "unknown override", tasks: tasks, arts: arts, overrides: map[string]model.ConfigOverride{"ghost": {}}, want: ErrUnknownTask},
		{name: "final misphrased", tasks: []model.TaskSpec{tasks[1], tasks[0]}, arts: arts, kind: fault.KindMalformedArtifact},
		{name: "final not signal", tasks: tasks, arts: []model.RewardArtifact{arts[1], {SourceTask: "reach_goal"}}, kind: fault.KindNotASignalFunction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Assemble(s, tc.tasks, tc.arts, tc.overrides, Options{})
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if tc.kind != "" && !fault.Is(err, tc.kind) {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
		})
	}
}
