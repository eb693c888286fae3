package rewardexec

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"rewardcraft/internal/fault"
	"rewardcraft/internal/model"
	"rewardcraft/internal/schema"
)

const packageName = "reward"

// DefaultEvalTimeout bounds one call of a reward function.
const DefaultEvalTimeout = time.Second

type Result struct {
	Total      float64            `json:"total"`
	Components map[string]float64 `json:"components"`
}

// Program is a compiled reward function bound to one configuration value.
type Program struct {
	mu      sync.Mutex
	schema  model.EnvironmentSchema
	name    string
	fn      reflect.Value
	timeout time.Duration
}

type Option func(*Program)

// WithEvalTimeout replaces DefaultEvalTimeout; d <= 0 keeps the default.
func WithEvalTimeout(d time.Duration) Option {
	return func(p *Program) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// PackageSource renders the interpreted package for an artifact: the accepted
// declarations plus the configuration variable bound to the override, or to
// +Inf when the stage runs without a threshold.
func PackageSource(s model.EnvironmentSchema, artifact model.RewardArtifact, override model.ConfigOverride) (string, error) {
	var b strings.Builder
	b.WriteString("package " + packageName + "\n\n")
	b.WriteString("import \"math\"\n\n")
	b.WriteString("var _ = math.Inf\n\n")
	if cfg, ok := s.Threshold(); ok {
		if override.Variable != "" && override.Variable != cfg.Name {
			return "", fmt.Errorf("rewardexec: override names %q, environment threshold is %q", override.Variable, cfg.Name)
		}
		value := "math.Inf(1)"
		if override.Value != nil {
			value = strconv.FormatFloat(*override.Value, 'g', -1, 64)
		}
		fmt.Fprintf(&b, "var %s float64 = %s\n\n", cfg.Name, value)
	} else if override.Value != nil {
		return "", fmt.Errorf("rewardexec: environment %s has no threshold to override", s.ID)
	}
	b.WriteString(artifact.Source)
	b.WriteString("\n")
	return b.String(), nil
}

func Compile(ctx context.Context, s model.EnvironmentSchema, artifact model.RewardArtifact, override model.ConfigOverride, opts ...Option) (*Program, error) {
	name := artifact.FunctionName
	if name == "" {
		name = model.DefaultFunctionName
	}
	src, err := PackageSource(s, artifact, override)
	if err != nil {
		return nil, err
	}
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, err
	}
	if _, err := evalSafely(ctx, i, src); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fault.Wrap(fault.KindMalformedArtifact, "reward function does not compile", err)
	}
	fn, err := evalSafely(ctx, i, packageName+"."+name)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fault.Wrap(fault.KindMalformedArtifact, "reward function "+name+" not found", err)
	}
	if fn.Kind() != reflect.Func {
		return nil, fault.Malformed("%s is not a function", name)
	}
	if fn.Type().NumIn() != len(s.Observations) || fn.Type().NumOut() != 2 {
		return nil, fault.Malformed("%s does not match %s", name, s.Signature(name))
	}
	p := &Program{schema: s, name: name, fn: fn, timeout: DefaultEvalTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func evalSafely(ctx context.Context, i *interp.Interpreter, src string) (v reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("interpreter panic: %v", r)
		}
	}()
	return i.EvalWithContext(ctx, src)
}

type outcome struct {
	res Result
	err error
}

// Evaluate runs the reward function on one observation. A call that outlives
// the program's timeout fails with MalformedArtifact; cancelling ctx returns
// ctx.Err(). An abandoned call keeps the program locked until it returns, so
// later calls time out as well.
func (p *Program) Evaluate(ctx context.Context, obs model.Observation) (Result, error) {
	if err := schema.CheckObservation(p.schema, obs); err != nil {
		return Result{}, err
	}
	args := make([]reflect.Value, 0, len(p.schema.Observations))
	for _, v := range p.schema.Observations {
		values := obs[v.Name]
		switch v.Kind {
		case model.KindVector:
			args = append(args, reflect.ValueOf(append([]float64(nil), values...)))
		case model.KindEnum:
			args = append(args, reflect.ValueOf(int(values[0])))
		default:
			args = append(args, reflect.ValueOf(values[0]))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	done := make(chan outcome, 1)
	go func() {
		res, err := p.call(args)
		done <- outcome{res: res, err: err}
	}()
	select {
	case o := <-done:
		return o.res, o.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		return Result{}, fault.Wrap(fault.KindMalformedArtifact, fmt.Sprintf("%s did not return within %s", p.name, p.timeout), callCtx.Err())
	}
}

func (p *Program) call(args []reflect.Value) (res Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fault.Malformed("%s panicked: %v", p.name, r)
		}
	}()
	return decode(p.fn.Call(args))
}

func decode(out []reflect.Value) (Result, error) {
	total := out[0]
	for total.Kind() == reflect.Interface {
		total = total.Elem()
	}
	if total.Kind() != reflect.Float64 && total.Kind() != reflect.Float32 {
		return Result{}, fault.Malformed("total reward has type %s", total.Type())
	}
	res := Result{Total: total.Float(), Components: make(map[string]float64)}
	comps := out[1]
	for comps.Kind() == reflect.Interface {
		comps = comps.Elem()
	}
	if !comps.IsValid() || comps.Kind() != reflect.Map {
		return res, nil
	}
	iter := comps.MapRange()
	for iter.Next() {
		k, v := iter.Key(), iter.Value()
		for v.Kind() == reflect.Interface {
			v = v.Elem()
		}
		res.Components[k.String()] = v.Float()
	}
	return res, nil
}

func (r Result) Finite() bool {
	return !math.IsNaN(r.Total) && !math.IsInf(r.Total, 0)
}

func (p *Program) Schema() model.EnvironmentSchema { return p.schema }
