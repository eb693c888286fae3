package model

import (
	"fmt"
	"strings"
	"time"
)

// DefaultFunctionName is the name every generated reward function carries.
const DefaultFunctionName = "ComputeReward"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

type VariableKind string

const (
	KindVector VariableKind = "vector"
	KindScalar VariableKind = "scalar"
	KindEnum   VariableKind = "enum"
)

type Mutability string

const (
	MutabilityObservation   Mutability = "observation"
	MutabilityConfiguration Mutability = "configuration"
)

type Bounds struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// VariableSpec declares one named quantity of an environment.
type VariableSpec struct {
	Name        string       `json:"name" yaml:"name"`
	Kind        VariableKind `json:"kind" yaml:"kind"`
	Shape       int          `json:"shape,omitempty" yaml:"shape,omitempty"`
	Mutability  Mutability   `json:"mutability" yaml:"mutability"`
	Bounds      *Bounds      `json:"bounds,omitempty" yaml:"bounds,omitempty"`
	EnumValues  []string     `json:"enum_values,omitempty" yaml:"enum_values,omitempty"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
}

// Len is the number of float components the variable occupies in an observation.
func (v VariableSpec) Len() int {
	if v.Kind == KindVector {
		return v.Shape
	}
	return 1
}

type SuccessPredicate struct {
	Variable   string  `json:"variable" yaml:"variable"`
	Comparator string  `json:"comparator" yaml:"comparator"`
	Threshold  float64 `json:"threshold" yaml:"threshold"`
}

func (p SuccessPredicate) Holds(v float64) bool {
	if p.Comparator == "<=" {
		return v <= p.Threshold
	}
	return v < p.Threshold
}

func (p SuccessPredicate) String() string {
	return fmt.Sprintf("%s %s %g", p.Variable, p.Comparator, p.Threshold)
}

// SignalPhrase is the wording the final curriculum task must use.
func (p SuccessPredicate) SignalPhrase() string {
	return "reward if " + p.String() + " else 0"
}

type ActionSpace struct {
	Dimensions  int     `json:"dimensions" yaml:"dimensions"`
	Low         float64 `json:"low" yaml:"low"`
	High        float64 `json:"high" yaml:"high"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
}

type EnvironmentSchema struct {
	ID            string           `json:"id" yaml:"id"`
	Name          string           `json:"name" yaml:"name"`
	Description   string           `json:"description" yaml:"description"`
	Robot         string           `json:"robot,omitempty" yaml:"robot,omitempty"`
	TargetTask    string           `json:"target_task" yaml:"target_task"`
	Observations  []VariableSpec   `json:"observations" yaml:"observations"`
	Configuration []VariableSpec   `json:"configuration,omitempty" yaml:"configuration,omitempty"`
	Success       SuccessPredicate `json:"success" yaml:"success"`
	Actions       ActionSpace      `json:"actions" yaml:"actions"`
}

func (s EnvironmentSchema) Observation(name string) (VariableSpec, bool) {
	for _, v := range s.Observations {
		if v.Name == name {
			return v, true
		}
	}
	return VariableSpec{}, false
}

// Threshold returns the single configuration variable, if the environment has one.
func (s EnvironmentSchema) Threshold() (VariableSpec, bool) {
	if len(s.Configuration) == 0 {
		return VariableSpec{}, false
	}
	return s.Configuration[0], true
}

func (s EnvironmentSchema) ObservationNames() []string {
	names := make([]string, 0, len(s.Observations))
	for _, v := range s.Observations {
		names = append(names, v.Name)
	}
	return names
}

// GoType is the parameter type a variable takes in a reward function.
func (v VariableSpec) GoType() string {
	switch v.Kind {
	case KindVector:
		return "[]float64"
	case KindEnum:
		return "int"
	default:
		return "float64"
	}
}

// Signature renders the reward function contract for this environment.
func (s EnvironmentSchema) Signature(functionName string) string {
	params := make([]string, 0, len(s.Observations))
	for _, v := range s.Observations {
		params = append(params, v.Name+" "+v.GoType())
	}
	return fmt.Sprintf("func %s(%s) (float64, map[string]float64)", functionName, strings.Join(params, ", "))
}

type TaskSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Rationale   string `json:"rationale,omitempty"`
}

type RewardArtifact struct {
	SourceTask   string             `json:"source_task"`
	FunctionName string             `json:"function_name"`
	Source       string             `json:"source"`
	Inputs       []string           `json:"inputs"`
	Weights      map[string]float64 `json:"weights"`
	Components   []string           `json:"components"`
	Signal       bool               `json:"signal"`
}

// ConfigOverride binds the threshold variable for one stage. A nil Value means no threshold.
type ConfigOverride struct {
	Variable string   `json:"variable,omitempty"`
	Value    *float64 `json:"value"`
}

type Stage struct {
	Index    int            `json:"index"`
	Task     TaskSpec       `json:"task"`
	Reward   RewardArtifact `json:"reward"`
	Override ConfigOverride `json:"override"`
}

type Curriculum struct {
	VersionedRecord
	ID            string  `json:"id,omitempty"`
	EnvironmentID string  `json:"environment_id"`
	Stages        []Stage `json:"stages"`
	Fingerprint   string  `json:"fingerprint"`
}

func (c Curriculum) Final() Stage {
	return c.Stages[len(c.Stages)-1]
}

// Observation maps each observation variable to its components; scalars and
// enums are one-element slices.
type Observation map[string][]float64

type BuildStatus string

const (
	BuildRunning   BuildStatus = "running"
	BuildSucceeded BuildStatus = "succeeded"
	BuildFailed    BuildStatus = "failed"
)

type AttemptRecord struct {
	Stage         string `json:"stage"`
	Task          string `json:"task,omitempty"`
	Attempt       int    `json:"attempt"`
	Prompt        string `json:"prompt"`
	Response      string `json:"response,omitempty"`
	Violation     string `json:"violation,omitempty"`
	ViolationKind string `json:"violation_kind,omitempty"`
	Accepted      bool   `json:"accepted"`
}

type FailureRecord struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
	Task    string `json:"task,omitempty"`
}

type BuildRecord struct {
	VersionedRecord
	ID            string          `json:"id"`
	EnvironmentID string          `json:"environment_id"`
	TargetTask    string          `json:"target_task"`
	Status        BuildStatus     `json:"status"`
	CreatedAtUTC  time.Time       `json:"created_at_utc"`
	FinishedAtUTC time.Time       `json:"finished_at_utc,omitempty"`
	Tasks         []TaskSpec      `json:"tasks,omitempty"`
	Attempts      []AttemptRecord `json:"attempts,omitempty"`
	CurriculumID  string          `json:"curriculum_id,omitempty"`
	Failure       *FailureRecord  `json:"failure,omitempty"`
}
