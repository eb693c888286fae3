package planner

import (
	"context"
	"strings"
	"testing"

	"rewardcraft/internal/backend"
	"rewardcraft/internal/fault"
	"rewardcraft/internal/model"
	"rewardcraft/internal/prompt"
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
		t.Fatalf("schema: %v", err)
	}
	return s
}

func newPlanner(t *testing.T, gen backend.Generator, opts Options) *Planner {
	t.Helper()
	c, err := prompt.NewComposer(prompt.Options{})
	if err != nil {
		t.Fatalf("composer: %v", err)
	}
	p, err := New(gen, c, opts)
	if err != nil {
		t.Fatalf("planner: %v", err)
	}
	return p
}

const antPlan = "```yaml\n" + `- name: Approach Goal
  description: minimize goal_distance
  reason: move toward the goal at all
  threshold: 6.0
- name: stable_torso
  description: minimize torso_angular_velocity while keeping torso_velocity toward goal_pos
  reason: avoid flipping over
- name: close_in
  description: minimize goal_distance until it falls below 0.45
  reason: dense version of the final task
  threshold: null
- name: reach_goal
  description: reward if goal_distance < 0.45 else 0
  reason: original task
` + "```"

func TestPlanAcceptsAntMazeCurriculum(t *testing.T) {
	gen := backend.NewScripted(antPlan)
	plan, err := newPlanner(t, gen, Options{}).Plan(context.Background(), antMaze(t))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Tasks) != 4 || len(plan.Tasks) > DefaultMaxTasks {
		t.Fatalf("unexpected task count %d", len(plan.Tasks))
	}
	if plan.Tasks[0].Name != "approach_goal" || plan.Tasks[0].Rationale != "move toward the goal at all" {
		t.Fatalf("unexpected first task %+v", plan.Tasks[0])
	}
	if plan.Tasks[3].Description != "reward if goal_distance < 0.45 else 0" {
		t.Fatalf("unexpected final task %+v", plan.Tasks[3])
	}
	if v := plan.Thresholds["approach_goal"]; v == nil || *v != 6.0 {
		t.Fatalf("expected threshold proposal 6.0, got %v", v)
	}
	if v, ok := plan.Thresholds["close_in"]; !ok || v != nil {
		t.Fatalf("expected explicit null proposal, got %v %v", v, ok)
	}
	if len(plan.Attempts) != 1 || !plan.Attempts[0].Accepted {
		t.Fatalf("unexpected attempts %+v", plan.Attempts)
	}
}

func TestPlanTruncatesLongCurricula(t *testing.T) {
	var b strings.Builder
	b.WriteString("```yaml\n")
	for i := 0; i < 6; i++ {
		b.WriteString("- name: step_" + string(rune('a'+i)) + "\n  description: minimize goal_distance\n")
	}
	b.WriteString("- name: final\n  description: reward if goal_distance < 0.45 else 0\n```")
	plan, err := newPlanner(t, backend.NewScripted(b.String()), Options{}).Plan(context.Background(), antMaze(t))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	names := make([]string, 0, len(plan.Tasks))
	for _, task := range plan.Tasks {
		names = append(names, task.Name)
	}
	if got := strings.Join(names, ","); got != "step_a,step_b,step_c,step_d,final" {
		t.Fatalf("unexpected truncation %s", got)
	}
}

func TestPlanRetriesWithCorrection(t *testing.T) {
	bad := strings.Replace(antPlan, "reward if goal_distance < 0.45 else 0", "reach the goal", 1)
	gen := backend.NewScripted(bad, antPlan)
	var observed []model.AttemptRecord
	plan, err := newPlanner(t, gen, Options{OnAttempt: func(r model.AttemptRecord) { observed = append(observed, r) }}).Plan(context.Background(), antMaze(t))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	reqs := gen.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected one corrective re-prompt, got %d requests", len(reqs))
	}
	if strings.Contains(reqs[0].User, "Corrections") || !strings.Contains(reqs[1].User, "reward if goal_distance < 0.45 else 0") || !strings.Contains(reqs[1].User, "Corrections") {
		t.Fatalf("second prompt must carry the correction:\n%s", reqs[1].User)
	}
	if len(plan.Attempts) != 2 || plan.Attempts[0].Accepted || plan.Attempts[0].ViolationKind != string(fault.KindMalformedArtifact) {
		t.Fatalf("unexpected attempts %+v", plan.Attempts)
	}
	if len(observed) != 2 {
		t.Fatalf("observer saw %d attempts", len(observed))
	}
}

func TestPlanExhaustsAfterBoundedRetries(t *testing.T) {
	single := "```yaml\n- name: final\n  description: reward if goal_distance < 0.45 else 0\n```"
	gen := backend.NewScripted(single, single, single, single, antPlan)
	plan, err := newPlanner(t, gen, Options{}).Plan(context.Background(), antMaze(t))
	if !fault.Is(err, fault.KindSynthesisExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if len(plan.Attempts) != DefaultMaxRetries+1 || gen.Remaining() != 1 {
		t.Fatalf("expected %d attempts, got %d (remaining %d)", DefaultMaxRetries+1, len(plan.Attempts), gen.Remaining())
	}
}

func TestPlanSurfacesBackendFaults(t *testing.T) {
	gen := backend.NewScriptedSteps(backend.Step{Err: fault.New(fault.KindBackendUnavailable, "down")})
	_, err := newPlanner(t, gen, Options{}).Plan(context.Background(), antMaze(t))
	if !fault.Is(err, fault.KindBackendUnavailable) {
		t.Fatalf("expected backend unavailable, got %v", err)
	}
}

func TestParseViolations(t *testing.T) {
	p := newPlanner(t, backend.NewScripted(), Options{})
	s := antMaze(t)
	cases := []struct {
		name string
		text string
		kind fault.Kind
	}{
		{
			name: "unknown variable",
			text: strings.Replace(antPlan, "minimize torso_angular_velocity", "minimize block_mass", 1),
			kind: fault.KindUndeclaredVariable,
		},
		{
			name: "threshold out of bounds",
			text: strings.Replace(antPlan, "threshold: 6.0", "threshold: 9.0", 1),
			kind: fault.KindConfigOutOfBounds,
		},
		{
			name: "missing verb",
			text: strings.Replace(antPlan, "description: minimize goal_distance\n", "description: walk toward goal_pos\n", 1),
			kind: fault.KindMalformedArtifact,
		},
		{
			name: "penultimate ignores success variable",
			text: strings.Replace(antPlan, "minimize goal_distance until it falls below 0.45", "maximize torso_velocity", 1),
			kind: fault.KindMalformedArtifact,
		},
		{
			name: "wrong signal threshold",
			text: strings.Replace(antPlan, "reward if goal_distance < 0.45 else 0", "reward if goal_distance < 0.5 else 0", 1),
			kind: fault.KindMalformedArtifact,
		},
		{
			name: "duplicate names",
			text: strings.Replace(antPlan, "name: stable_torso", "name: approach_goal", 1),
			kind: fault.KindMalformedArtifact,
		},
		{
			name: "not yaml",
			text: "```yaml\n- [unclosed\n```",
			kind: fault.KindMalformedArtifact,
		},
		{
			name: "no variables",
			text: strings.Replace(antPlan, "minimize torso_angular_velocity while keeping torso_velocity toward goal_pos", "maximize happiness", 1),
			kind: fault.KindMalformedArtifact,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := p.Parse(tc.text, s)
			if !fault.Is(err, tc.kind) {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
		})
	}
}

func TestParseAcceptsWrappedJSON(t *testing.T) {
	p := newPlanner(t, backend.NewScripted(), Options{})
	text := "```json\n{\"tasks\": [{\"name\": \"near\", \"description\": \"minimize goal_distance\"}, {\"name\": \"goal\", \"description\": \"Reward if goal_distance < 0.45 else 0.\"}]}\n```"
	tasks, _, err := p.Parse(text, antMaze(t))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
}

func TestNewRejectsPatternWithoutGroups(t *testing.T) {
	c, _ := prompt.NewComposer(prompt.Options{})
	if _, err := New(backend.NewScripted(), c, Options{SignalPattern: `reward if .*`}); err == nil {
		t.Fatal("expected pattern without named groups to be rejected")
	}
}
