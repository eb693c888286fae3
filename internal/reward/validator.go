package reward

import (
	"context"
	"time"

	"rewardcraft/internal/fault"
	"rewardcraft/internal/model"
	"rewardcraft/internal/rewardexec"
	"rewardcraft/internal/schema"
)

// SignalPolicy selects how the final task's artifact is checked for the
// signal property.
type SignalPolicy struct {
	Static  bool  `yaml:"static" json:"static"`
	Probe   bool  `yaml:"probe" json:"probe"`
	Samples int   `yaml:"samples" json:"samples"`
	Seed    int64 `yaml:"seed" json:"seed"`
}

type Policy struct {
	FunctionName string
	// Epsilon is the magnitude under which a bare numeric factor is ignored.
	Epsilon float64
	Signal  SignalPolicy
	// CompileCheck runs every accepted artifact once through the interpreter.
	CompileCheck bool
	// EvalTimeout bounds each interpreted call made while validating.
	EvalTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		FunctionName: model.DefaultFunctionName,
		Epsilon:      1e-9,
		Signal:       SignalPolicy{Static: true, Probe: true, Samples: 32, Seed: 1},
		CompileCheck: true,
		EvalTimeout:  rewardexec.DefaultEvalTimeout,
	}
}

type Validator struct {
	schema model.EnvironmentSchema
	policy Policy
}

func NewValidator(s model.EnvironmentSchema, policy Policy) *Validator {
	if policy.FunctionName == "" {
		policy.FunctionName = model.DefaultFunctionName
	}
	if policy.Epsilon <= 0 {
		policy.Epsilon = 1e-9
	}
	return &Validator{schema: s, policy: policy}
}

// Validate turns raw model output into an accepted artifact for task, or
// returns the first violation found. Checks run in a fixed order: structure,
// closed world, weights, then the signal property for the final task.
func (v *Validator) Validate(ctx context.Context, raw string, task model.TaskSpec, final bool) (model.RewardArtifact, error) {
	p, err := parse(raw, v.schema, v.policy.FunctionName)
	if err != nil {
		return model.RewardArtifact{}, err
	}
	f := analyzeFlow(p)
	components, err := checkComponents(f)
	if err != nil {
		return model.RewardArtifact{}, err
	}
	inputs, err := checkClosedWorld(p, v.schema)
	if err != nil {
		return model.RewardArtifact{}, err
	}
	terms := f.terms()
	weights, err := checkWeights(f, terms, v.policy.Epsilon)
	if err != nil {
		return model.RewardArtifact{}, err
	}
	if final && v.policy.Signal.Static {
		if err := checkSignalStatic(f, terms, v.schema.Success, v.policy.Signal.Probe); err != nil {
			return model.RewardArtifact{}, err
		}
	}

	src, err := p.source()
	if err != nil {
		return model.RewardArtifact{}, err
	}
	art := model.RewardArtifact{
		SourceTask:   task.Name,
		FunctionName: v.policy.FunctionName,
		Source:       src,
		Inputs:       inputs,
		Weights:      weights,
		Components:   components,
		Signal:       final,
	}

	probe := final && v.policy.Signal.Probe
	if !v.policy.CompileCheck && !probe {
		return art, nil
	}
	prog, err := rewardexec.Compile(ctx, v.schema, art, model.ConfigOverride{}, rewardexec.WithEvalTimeout(v.policy.EvalTimeout))
	if err != nil {
		return model.RewardArtifact{}, err
	}
	if _, err := prog.Evaluate(ctx, schema.ZeroObservation(v.schema)); err != nil {
		if ctx.Err() != nil {
			return model.RewardArtifact{}, ctx.Err()
		}
		return model.RewardArtifact{}, fault.Wrap(fault.KindMalformedArtifact, "reward function fails on the zero observation", err)
	}
	if probe {
		if err := probeSignal(ctx, prog, v.schema, v.policy.Signal.Samples, v.policy.Signal.Seed); err != nil {
			return model.RewardArtifact{}, err
		}
	}
	return art, nil
}
