package planner

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"rewardcraft/internal/backend"
	"rewardcraft/internal/fault"
	"rewardcraft/internal/fence"
	"rewardcraft/internal/model"
	"rewardcraft/internal/prompt"
	"rewardcraft/internal/retry"
)

const (
	DefaultMaxTasks   = 5
	DefaultMinTasks   = 2
	DefaultMaxRetries = 3
)

// DefaultSignalPattern matches "reward if <var> <op> <value> else 0".
const DefaultSignalPattern = `(?i)^\s*reward\s+if\s+(?P<var>[a-z_][a-z0-9_]*)\s*(?P<op><=|<)\s*(?P<value>[-+]?(?:[0-9]+\.?[0-9]*|\.[0-9]+)(?:[eE][-+]?[0-9]+)?)\s+else\s+0(?:\.0*)?\s*\.?\s*$`

var (
	actionVerbs   = []string{"maximize", "minimize", "set"}
	snakeCaseWord = regexp.MustCompile(`\b[a-z][a-z0-9]*(?:_[a-z0-9]+)+\b`)
	nameCleaner   = regexp.MustCompile(`[^a-z0-9]+`)
)

type Options struct {
	MaxTasks      int
	MinTasks      int
	MaxRetries    int
	SignalPattern string
	Retry         retry.Policy
	// OnAttempt observes every planning attempt as it completes.
	OnAttempt func(model.AttemptRecord)
}

// Plan is an accepted task list. Thresholds holds each task's proposed
// threshold; a nil value proposes running without one.
type Plan struct {
	Tasks      []model.TaskSpec
	Thresholds map[string]*float64
	Attempts   []model.AttemptRecord
}

type Planner struct {
	gen      backend.Generator
	composer *prompt.Composer
	opts     Options
	signal   *regexp.Regexp
}

func New(gen backend.Generator, composer *prompt.Composer, opts Options) (*Planner, error) {
	if gen == nil {
		return nil, fmt.Errorf("planner: generator is required")
	}
	if composer == nil {
		return nil, fmt.Errorf("planner: composer is required")
	}
	if opts.MaxTasks <= 0 {
		opts.MaxTasks = DefaultMaxTasks
	}
	if opts.MinTasks <= 0 {
		opts.MinTasks = DefaultMinTasks
	}
	if opts.MinTasks > opts.MaxTasks {
		return nil, fmt.Errorf("planner: min tasks %d exceeds max tasks %d", opts.MinTasks, opts.MaxTasks)
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.SignalPattern == "" {
		opts.SignalPattern = DefaultSignalPattern
	}
	re, err := regexp.Compile(opts.SignalPattern)
	if err != nil {
		return nil, fmt.Errorf("planner: signal pattern: %w", err)
	}
	for _, group := range []string{"var", "op", "value"} {
		if re.SubexpIndex(group) < 0 {
			return nil, fmt.Errorf("planner: signal pattern needs a (?P<%s>...) group", group)
		}
	}
	return &Planner{gen: gen, composer: composer, opts: opts, signal: re}, nil
}

// Plan asks the backend for a task list until one passes validation, feeding
// every violation back as a correction. Backend faults end planning at once.
func (p *Planner) Plan(ctx context.Context, s model.EnvironmentSchema) (Plan, error) {
	var (
		attempts    []model.AttemptRecord
		corrections []string
		lastErr     error
	)
	for attempt := 1; attempt <= p.opts.MaxRetries+1; attempt++ {
		req, err := p.composer.Request(prompt.StageTaskListing, s, prompt.History{Corrections: corrections})
		if err != nil {
			return Plan{Attempts: attempts}, err
		}
		text, err := retry.Generate(ctx, p.opts.Retry, p.gen, req)
		if err != nil {
			return Plan{Attempts: attempts}, err
		}
		record := model.AttemptRecord{Stage: string(prompt.StageTaskListing), Attempt: attempt, Prompt: req.User, Response: text}
		tasks, thresholds, verr := p.Parse(text, s)
		if verr != nil {
			record.Violation = verr.Error()
			record.ViolationKind = string(fault.KindOf(verr))
			attempts = append(attempts, record)
			p.observe(record)
			corrections = append(corrections, verr.Error())
			lastErr = verr
			continue
		}
		record.Accepted = true
		attempts = append(attempts, record)
		p.observe(record)
		return Plan{Tasks: tasks, Thresholds: thresholds, Attempts: attempts}, nil
	}
	return Plan{Attempts: attempts}, fault.Exhausted(string(prompt.StageTaskListing), len(attempts), lastErr)
}

func (p *Planner) observe(r model.AttemptRecord) {
	if p.opts.OnAttempt != nil {
		p.opts.OnAttempt(r)
	}
}

type rawTask struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Reason      string   `yaml:"reason"`
	Rationale   string   `yaml:"rationale"`
	Threshold   *float64 `yaml:"threshold"`
}

// Parse decodes and validates one planning response.
func (p *Planner) Parse(text string, s model.EnvironmentSchema) ([]model.TaskSpec, map[string]*float64, error) {
	body, err := fence.Single(text, "yaml", "yml", "json")
	if err != nil {
		return nil, nil, fault.Malformed("expected one ```yaml block with the task list: %v", err)
	}
	raw, err := decodeTasks(body)
	if err != nil {
		return nil, nil, err
	}
	if len(raw) > p.opts.MaxTasks {
		raw = append(raw[:p.opts.MaxTasks-1:p.opts.MaxTasks-1], raw[len(raw)-1])
	}
	if len(raw) < p.opts.MinTasks {
		return nil, nil, fault.Malformed("curriculum has %d tasks, need between %d and %d", len(raw), p.opts.MinTasks, p.opts.MaxTasks)
	}

	tasks := make([]model.TaskSpec, 0, len(raw))
	thresholds := make(map[string]*float64, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for i, rt := range raw {
		name := sanitizeName(rt.Name)
		if name == "" {
			name = fmt.Sprintf("task_%d", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, nil, fault.Malformed("task name %q is used twice", name)
		}
		seen[name] = struct{}{}
		desc := strings.TrimSpace(rt.Description)
		if desc == "" {
			return nil, nil, fault.Malformed("task %s has no description", name)
		}
		rationale := strings.TrimSpace(rt.Reason)
		if rationale == "" {
			rationale = strings.TrimSpace(rt.Rationale)
		}
		if err := checkThreshold(s, name, rt.Threshold); err != nil {
			return nil, nil, err
		}
		thresholds[name] = rt.Threshold
		tasks = append(tasks, model.TaskSpec{Name: name, Description: desc, Rationale: rationale})
	}

	last := len(tasks) - 1
	if err := CheckSignalPhrase(p.signal, tasks[last], s.Success); err != nil {
		return nil, nil, err
	}
	if !mentions(tasks[last-1].Description, s.Success.Variable) {
		return nil, nil, fault.Malformed("task %s precedes the final task and must refer to %s", tasks[last-1].Name, s.Success.Variable)
	}
	for _, t := range tasks[:last] {
		if err := checkDescription(t, s); err != nil {
			return nil, nil, err
		}
	}
	return tasks, thresholds, nil
}

func decodeTasks(body string) ([]rawTask, error) {
	var list []rawTask
	if err := yaml.Unmarshal([]byte(body), &list); err == nil {
		if len(list) == 0 {
			return nil, fault.Malformed("task list is empty")
		}
		return list, nil
	}
	var wrapped struct {
		Tasks []rawTask `yaml:"tasks"`
	}
	if err := yaml.Unmarshal([]byte(body), &wrapped); err != nil {
		return nil, fault.Malformed("task list is not valid yaml: %v", err)
	}
	if len(wrapped.Tasks) == 0 {
		return nil, fault.Malformed("task list is empty")
	}
	return wrapped.Tasks, nil
}

// CheckSignalPhrase reports whether t is described as the binary success
// reward for pred under the phrasing pattern re.
func CheckSignalPhrase(re *regexp.Regexp, t model.TaskSpec, pred model.SuccessPredicate) error {
	want := pred.SignalPhrase()
	m := re.FindStringSubmatch(t.Description)
	if m == nil {
		return fault.Malformed("final task %s must be described exactly as %q", t.Name, want)
	}
	variable := m[re.SubexpIndex("var")]
	op := m[re.SubexpIndex("op")]
	value, err := strconv.ParseFloat(m[re.SubexpIndex("value")], 64)
	if err != nil || variable != pred.Variable || op != pred.Comparator || value != pred.Threshold {
		return fault.Malformed("final task %s must be described exactly as %q", t.Name, want)
	}
	return nil
}

func checkDescription(t model.TaskSpec, s model.EnvironmentSchema) error {
	words := strings.Fields(strings.ToLower(t.Description))
	if len(words) == 0 || !startsWithVerb(words[0]) {
		return fault.Malformed("task %s must start with one of %s", t.Name, strings.Join(actionVerbs, ", "))
	}
	known := make(map[string]struct{})
	for _, v := range append(append([]model.VariableSpec(nil), s.Observations...), s.Configuration...) {
		known[v.Name] = struct{}{}
	}
	for _, word := range snakeCaseWord.FindAllString(t.Description, -1) {
		if _, ok := known[word]; !ok {
			return fault.UndeclaredVariable(word)
		}
	}
	for _, v := range s.Observations {
		if mentions(t.Description, v.Name) {
			return nil
		}
	}
	return fault.Malformed("task %s must be described through the observation variables", t.Name)
}

func checkThreshold(s model.EnvironmentSchema, task string, value *float64) error {
	if value == nil {
		return nil
	}
	cfg, ok := s.Threshold()
	if !ok {
		return fault.Newf(fault.KindConfigOutOfBounds, "task %s proposes a threshold but %s has none", task, s.ID).WithSubject(task)
	}
	if !cfg.Bounds.Contains(*value) {
		return fault.OutOfBounds(cfg.Name, *value, cfg.Bounds.Min, cfg.Bounds.Max)
	}
	return nil
}

func startsWithVerb(word string) bool {
	word = strings.Trim(word, ":,.")
	for _, v := range actionVerbs {
		if word == v {
			return true
		}
	}
	return false
}

func mentions(text, variable string) bool {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(variable) + `\b`)
	return re.MatchString(text)
}

func sanitizeName(name string) string {
	n := nameCleaner.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	return strings.Trim(n, "_")
}
