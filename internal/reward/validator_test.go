package reward

import (
	"context"
	"strings"
	"testing"
	"time"

	"rewardcraft/internal/fault"
	"rewardcraft/internal/model"
	"rewardcraft/internal/schema"
)

const antHeader = "func ComputeReward(torso_coordinate []float64, torso_orientation []float64, torso_velocity []float64, torso_angular_velocity []float64, goal_pos []float64, goal_distance float64) (float64, map[string]float64) {\n"

func antFunc(body string) string {
	return "Here is the reward function.\n```go\n" + antHeader + body + "\n}\n```\n"
}

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

var task = model.TaskSpec{Name: "approach_goal", Description: "minimize goal_distance"}

const denseBody = `	distance_weight := 1.0
	velocity_weight := 0.1
	distance_reward := -distance_weight * goal_distance
	speed := math.Sqrt(torso_velocity[0]*torso_velocity[0] + torso_velocity[1]*torso_velocity[1])
	velocity_reward := velocity_weight * speed
	reward := distance_reward + velocity_reward
	return reward, map[string]float64{"distance": distance_reward, "velocity": velocity_reward}`

const signalBody = `	success_weight := 1.0
	success_reward := 0.0
	if goal_distance < 0.45 {
		success_reward = success_weight
	}
	return success_reward, map[string]float64{"success": success_reward}`

func TestValidateAcceptsWeightedDenseReward(t *testing.T) {
	v := NewValidator(antMaze(t), DefaultPolicy())
	art, err := v.Validate(context.Background(), antFunc(denseBody), task, false)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if art.SourceTask != "approach_goal" || art.FunctionName != "ComputeReward" || art.Signal {
		t.Fatalf("unexpected artifact header %+v", art)
	}
	if len(art.Inputs) != 2 || art.Inputs[0] != "torso_velocity" || art.Inputs[1] != "goal_distance" {
		t.Fatalf("unexpected inputs %v", art.Inputs)
	}
	if len(art.Weights) != 2 || art.Weights["distance_weight"] != 1.0 || art.Weights["velocity_weight"] != 0.1 {
		t.Fatalf("unexpected weights %v", art.Weights)
	}
	if len(art.Components) != 2 || art.Components[0] != "distance" {
		t.Fatalf("unexpected components %v", art.Components)
	}
	if !strings.HasPrefix(art.Source, "func ComputeReward(") || strings.Contains(art.Source, "package") {
		t.Fatalf("source should be the bare function:\n%s", art.Source)
	}
}

func TestValidateClosedWorld(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		subject string
	}{
		{
			name: "undeclared block_mass",
			body: `	mass_weight := 0.5
	penalty := -mass_weight * block_mass
	return penalty, map[string]float64{"mass": penalty}`,
			subject: "block_mass",
		},
		{
			name: "out of scope local",
			body: `	bonus_weight := 1.0
	if goal_distance < 1 {
		bonus := bonus_weight
		_ = bonus
	}
	return bonus, map[string]float64{"bonus": bonus}`,
			subject: "bonus",
		},
		{
			name: "foreign package",
			body: `	w := 1.0
	d := w * np.Linalg(goal_pos)
	return d, map[string]float64{"d": d}`,
			subject: "np",
		},
		{
			name: "threshold outside comparison",
			body: `	scale_weight := 1.0
	r := scale_weight * distance_threshold * goal_distance
	return r, map[string]float64{"r": r}`,
			subject: "distance_threshold",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewValidator(antMaze(t), DefaultPolicy()).Validate(context.Background(), antFunc(tc.body), task, false)
			fe, ok := fault.As(err)
			if !ok || fe.Kind != fault.KindUndeclaredVariable || fe.Subject != tc.subject {
				t.Fatalf("expected undeclared %q, got %v", tc.subject, err)
			}
		})
	}
}

func TestValidateRejectsUnboundedLoops(t *testing.T) {
	wrap := func(loop string) string {
		return `	sum_weight := 1.0
	total := 0.0
` + loop + `
	r := sum_weight * total
	return r, map[string]float64{"sum": r}`
	}
	cases := map[string]string{
		"condition only":     "\tfor goal_distance >= 0 {\n\t\ttotal += goal_distance\n\t}",
		"no condition":       "\tfor i := 0; ; i++ {\n\t\ttotal += goal_distance\n\t}",
		"infinite":           "\tfor {\n\t\ttotal += goal_distance\n\t}",
		"variable bound":     "\tfor i := 0.0; i < goal_distance; i++ {\n\t\ttotal += i\n\t}",
		"wrong direction":    "\tfor i := 0; i < 3; i-- {\n\t\ttotal += goal_distance\n\t}",
		"counter reassigned": "\tfor i := 0; i < 3; i++ {\n\t\ti = 0\n\t\ttotal += goal_distance\n\t}",
		"range over call":    "\tfor _, p := range append(goal_pos, 1) {\n\t\ttotal += p\n\t}",
	}
	for name, loop := range cases {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := NewValidator(antMaze(t), DefaultPolicy()).Validate(ctx, antFunc(wrap(loop)), task, false)
			if !fault.Is(err, fault.KindMalformedArtifact) {
				t.Fatalf("expected malformed artifact, got %v", err)
			}
		})
	}

	bounded := wrap("\tfor i := 0; i < 2; i++ {\n\t\ttotal += goal_pos[i]\n\t}\n\tfor _, p := range goal_pos {\n\t\ttotal += p\n\t}")
	if _, err := NewValidator(antMaze(t), DefaultPolicy()).Validate(context.Background(), antFunc(bounded), task, false); err != nil {
		t.Fatalf("bounded loops must be accepted: %v", err)
	}
}

func TestValidateThresholdInComparisonIsAllowed(t *testing.T) {
	body := `	reach_weight := 1.0
	reach := 0.0
	if goal_distance < distance_threshold {
		reach = reach_weight
	}
	return reach, map[string]float64{"reach": reach}`
	if _, err := NewValidator(antMaze(t), DefaultPolicy()).Validate(context.Background(), antFunc(body), task, false); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateWeights(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{
			name: "weight shared by two components",
			body: `	distance_weight := 1.0
	distance_reward := -distance_weight * goal_distance
	velocity_reward := -distance_weight * math.Abs(torso_velocity[0])
	return distance_reward + velocity_reward, map[string]float64{"distance": distance_reward, "velocity": velocity_reward}`,
		},
		{
			name: "bare literal scale",
			body: `	reward := -0.5 * goal_distance
	return reward, map[string]float64{"distance": reward}`,
		},
		{
			name: "unweighted term",
			body: `	reward := -goal_distance
	return reward, map[string]float64{"distance": reward}`,
		},
		{
			name: "constant term",
			body: `	distance_weight := 1.0
	reward := -distance_weight*goal_distance + 1.0
	return reward, map[string]float64{"distance": reward}`,
		},
		{
			name: "compound assignment without weight",
			body: `	distance_weight := 1.0
	total := 0.0
	total += -distance_weight * goal_distance
	total -= torso_velocity[0]
	return total, map[string]float64{"total": total}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewValidator(antMaze(t), DefaultPolicy()).Validate(context.Background(), antFunc(tc.body), task, false)
			if !fault.Is(err, fault.KindMissingWeightParameter) {
				t.Fatalf("expected missing weight parameter, got %v", err)
			}
		})
	}
}

func TestValidateReusedWeightNamesTheWeight(t *testing.T) {
	body := `	distance_weight := 1.0
	a := distance_weight * goal_distance
	b := distance_weight * goal_pos[0]
	return a + b, map[string]float64{"a": a, "b": b}`
	_, err := NewValidator(antMaze(t), DefaultPolicy()).Validate(context.Background(), antFunc(body), task, false)
	fe, ok := fault.As(err)
	if !ok || fe.Subject != "distance_weight" {
		t.Fatalf("expected reused weight subject, got %v", err)
	}
}

func TestValidateStructure(t *testing.T) {
	s := antMaze(t)
	cases := []struct {
		name string
		raw  string
		kind fault.Kind
	}{
		{name: "python block", raw: "```python\ndef compute_reward(): pass\n```", kind: fault.KindMalformedArtifact},
		{name: "syntax error", raw: antFunc("return ("), kind: fault.KindMalformedArtifact},
		{name: "wrong name", raw: "```go\n" + strings.Replace(antHeader, "ComputeReward", "Reward", 1) + "return 0, nil\n}\n```", kind: fault.KindMalformedArtifact},
		{name: "swapped parameters", raw: "```go\nfunc ComputeReward(goal_distance float64, torso_coordinate []float64, torso_orientation []float64, torso_velocity []float64, torso_angular_velocity []float64, goal_pos []float64) (float64, map[string]float64) {\nreturn 0, nil\n}\n```", kind: fault.KindMalformedArtifact},
		{name: "wrong parameter type", raw: "```go\n" + strings.Replace(antHeader, "goal_distance float64", "goal_distance []float64", 1) + "return 0, nil\n}\n```", kind: fault.KindMalformedArtifact},
		{name: "undeclared parameter", raw: "```go\n" + strings.Replace(antHeader, "goal_distance float64", "block_mass float64", 1) + "return 0, nil\n}\n```", kind: fault.KindUndeclaredVariable},
		{name: "forbidden import", raw: "```go\nimport \"os\"\n\n" + antHeader + "return 0, nil\n}\n```", kind: fault.KindMalformedArtifact},
		{name: "two functions", raw: "```go\nfunc helper() float64 { return 1 }\n\n" + antHeader + "return 0, nil\n}\n```", kind: fault.KindMalformedArtifact},
		{name: "wrong results", raw: "```go\n" + strings.Replace(antHeader, "(float64, map[string]float64)", "float64", 1) + "return 0\n}\n```", kind: fault.KindMalformedArtifact},
		{name: "goroutine", raw: antFunc("w := 1.0\ngo func() {}()\nr := w * goal_distance\nreturn r, map[string]float64{\"r\": r}"), kind: fault.KindMalformedArtifact},
		{name: "nil components", raw: antFunc("w := 1.0\nreturn w * goal_distance, nil"), kind: fault.KindMalformedArtifact},
		{name: "computed component key", raw: antFunc("w := 1.0\nr := w * goal_distance\nc := map[string]float64{}\nk := \"r\"\nc[k] = r\nreturn r, c"), kind: fault.KindMalformedArtifact},
		{name: "out of range index", raw: antFunc("w := 1.0\nr := w * goal_pos[5]\nreturn r, map[string]float64{\"r\": r}"), kind: fault.KindMalformedArtifact},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewValidator(s, DefaultPolicy()).Validate(context.Background(), tc.raw, task, false)
			if !fault.Is(err, tc.kind) {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
		})
	}
}

func TestValidateRejectsPackageLevelConstWeights(t *testing.T) {
	raw := "```go\npackage reward\n\nimport \"math\"\n\nconst distance_weight = 0.5\n\n" + antHeader +
		"\tr := -distance_weight * math.Abs(goal_distance)\n\treturn r, map[string]float64{\"distance\": r}\n}\n```"
	_, err := NewValidator(antMaze(t), DefaultPolicy()).Validate(context.Background(), raw, task, false)
	if !fault.Is(err, fault.KindMalformedArtifact) {
		t.Fatalf("expected malformed artifact, got %v", err)
	}
	if !strings.Contains(err.Error(), "inside ComputeReward") {
		t.Fatalf("expected corrective message, got %v", err)
	}

	local := antFunc("\tconst distance_weight = 0.5\n\tr := -distance_weight * math.Abs(goal_distance)\n\treturn r, map[string]float64{\"distance\": r}")
	art, err := NewValidator(antMaze(t), DefaultPolicy()).Validate(context.Background(), local, task, false)
	if err != nil {
		t.Fatalf("validate local const: %v", err)
	}
	if art.Weights["distance_weight"] != 0.5 {
		t.Fatalf("expected local const weight, got %v", art.Weights)
	}
}

var finalTask = model.TaskSpec{Name: "reach_goal", Description: "reward if goal_distance < 0.45 else 0"}

func TestValidateSignalFunction(t *testing.T) {
	s := antMaze(t)
	accepted := map[string]string{
		"guarded assignment": signalBody,
		"early return": `	if goal_distance >= 0.45 {
		return 0, map[string]float64{"success": 0}
	}
	success_weight := 10.0
	return success_weight, map[string]float64{"success": success_weight}`,
		"mirrored and conjunction": `	success_weight := 2.0
	if 0.45 > goal_distance && torso_coordinate[2] > -100 {
		return success_weight, map[string]float64{"success": success_weight}
	}
	return 0, map[string]float64{"success": 0}`,
	}
	for name, body := range accepted {
		t.Run(name, func(t *testing.T) {
			art, err := NewValidator(s, DefaultPolicy()).Validate(context.Background(), antFunc(body), finalTask, true)
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if !art.Signal {
				t.Fatal("final artifact must be marked as signal")
			}
		})
	}

	rejected := map[string]string{
		"dense":           denseBody,
		"wrong threshold": strings.Replace(signalBody, "0.45", "0.5", 1),
		"ungated bonus": `	success_weight := 1.0
	alive_weight := 0.01
	r := alive_weight * torso_coordinate[2]
	if goal_distance < 0.45 {
		r += success_weight
	}
	return r, map[string]float64{"r": r}`,
	}
	for name, body := range rejected {
		t.Run(name, func(t *testing.T) {
			_, err := NewValidator(s, DefaultPolicy()).Validate(context.Background(), antFunc(body), finalTask, true)
			if !fault.Is(err, fault.KindNotASignalFunction) {
				t.Fatalf("expected not a signal function, got %v", err)
			}
		})
	}
}

func TestSignalProbeCatchesNegativeReward(t *testing.T) {
	body := strings.Replace(signalBody, "success_weight := 1.0", "success_weight := -1.0", 1)
	s := antMaze(t)

	staticOnly := DefaultPolicy()
	staticOnly.Signal.Probe = false
	if _, err := NewValidator(s, staticOnly).Validate(context.Background(), antFunc(body), finalTask, true); err != nil {
		t.Fatalf("static check alone should accept: %v", err)
	}
	_, err := NewValidator(s, DefaultPolicy()).Validate(context.Background(), antFunc(body), finalTask, true)
	if !fault.Is(err, fault.KindNotASignalFunction) {
		t.Fatalf("expected probe to reject, got %v", err)
	}
}

func TestStaticOnlyRejectsConjunctionGate(t *testing.T) {
	body := `	success_weight := 1.0
	if goal_distance < 0.45 && torso_coordinate[2] > 0 {
		return success_weight, map[string]float64{"success": success_weight}
	}
	return 0, map[string]float64{"success": 0}`
	s := antMaze(t)

	staticOnly := DefaultPolicy()
	staticOnly.Signal.Probe = false
	_, err := NewValidator(s, staticOnly).Validate(context.Background(), antFunc(body), finalTask, true)
	if !fault.Is(err, fault.KindNotASignalFunction) {
		t.Fatalf("expected static-only check to reject the conjunction, got %v", err)
	}

	// With the runtime check enabled the extra condition is exercised and
	// caught on samples where torso_coordinate[2] <= 0.
	_, err = NewValidator(s, DefaultPolicy()).Validate(context.Background(), antFunc(body), finalTask, true)
	if !fault.Is(err, fault.KindNotASignalFunction) {
		t.Fatalf("expected sampled check to reject the conjunction, got %v", err)
	}
}

func TestNonFinalTaskSkipsSignalCheck(t *testing.T) {
	if _, err := NewValidator(antMaze(t), DefaultPolicy()).Validate(context.Background(), antFunc(denseBody), task, false); err != nil {
		t.Fatalf("dense reward must pass for non-final task: %v", err)
	}
}
