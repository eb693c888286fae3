package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rewardcraft/internal/fault"
	"rewardcraft/internal/model"
	"rewardcraft/internal/schema"
)

func antMaze(t *testing.T) model.EnvironmentSchema {
	t.Helper()
	r, err := schema.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	s, err := r.Get("AntMaze_UMaze")
	if err != nil {
		t.Fatalf("get schema: %v", err)
	}
	return s
}

func TestComposeTaskListing(t *testing.T) {
	c, err := NewComposer(Options{})
	if err != nil {
		t.Fatalf("composer: %v", err)
	}
	text, err := c.Compose(StageTaskListing, antMaze(t), History{})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	for _, want := range []string{
		"torso_angular_velocity: vector of length 3",
		"goal_distance: scalar",
		"distance_threshold: scalar in [5, 8], or null for no threshold",
		"at most 5 tasks",
		"reward if goal_distance < 0.45 else 0",
		"maximize, minimize, set",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("planning prompt missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Corrections") {
		t.Fatal("no corrections expected on first attempt")
	}
}

func TestComposeRewardIncludesPriorCurriculumAndCorrections(t *testing.T) {
	c, _ := NewComposer(Options{})
	s := antMaze(t)
	prior := []model.Stage{{
		Index: 0,
		Task:  model.TaskSpec{Name: "approach_goal", Description: "minimize goal_distance"},
		Reward: model.RewardArtifact{
			Source: "func ComputeReward() (float64, map[string]float64) { return 0, nil }",
		},
	}}
	task := model.TaskSpec{Name: "reach_goal", Description: "reward if goal_distance < 0.45 else 0"}
	history := History{Task: &task, Index: 1, Final: true, Prior: prior, Corrections: []string{`variable "block_mass" is not declared`}}
	text, err := c.Compose(StagePerTaskReward, s, history)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	for _, want := range []string{
		"Task 1: approach_goal. minimize goal_distance",
		"func ComputeReward() (float64, map[string]float64) { return 0, nil }",
		"number 2 in the curriculum: reach_goal",
		s.Signature(model.DefaultFunctionName),
		"read-only value distance_threshold",
		"positive reward only when goal_distance < 0.45 holds",
		`1. variable "block_mass" is not declared`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("reward prompt missing %q:\n%s", want, text)
		}
	}

	again, _ := c.Compose(StagePerTaskReward, s, history)
	if again != text {
		t.Fatal("compose must be deterministic")
	}
}

func TestComposeTemplateMissing(t *testing.T) {
	c, err := NewComposerFromTemplates(map[Stage]string{StageSystem: "sys"}, Options{})
	if err != nil {
		t.Fatalf("composer: %v", err)
	}
	if _, err := c.Compose(StageTaskListing, antMaze(t), History{}); !fault.Is(err, fault.KindTemplateMissing) {
		t.Fatalf("expected template missing, got %v", err)
	}
	if _, err := c.Compose(Stage("review"), antMaze(t), History{}); !fault.Is(err, fault.KindTemplateMissing) {
		t.Fatalf("expected template missing for unknown stage, got %v", err)
	}
}

func TestTemplateDirOverride(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "system.tmpl"), []byte("custom system for {{.Schema.ID}}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := NewComposer(Options{TemplateDir: dir, MaxTasks: 4})
	if err != nil {
		t.Fatalf("composer: %v", err)
	}
	req, err := c.Request(StageTaskListing, antMaze(t), History{})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.System != "custom system for AntMaze_UMaze\n" {
		t.Fatalf("unexpected system prompt %q", req.System)
	}
	if !strings.Contains(req.User, "at most 4 tasks") {
		t.Fatalf("expected max task override in planning prompt")
	}
}
