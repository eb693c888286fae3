package prompt

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"rewardcraft/internal/backend"
	"rewardcraft/internal/fault"
	"rewardcraft/internal/model"
)

type Stage string

const (
	StageSystem        Stage = "system"
	StageTaskListing   Stage = "task_listing"
	StagePerTaskReward Stage = "per_task_reward"
)

const DefaultMaxTasks = 5

//go:embed templates/*.tmpl
var defaultTemplates embed.FS

// History is everything a prompt may depend on besides the schema.
type History struct {
	// Task and Index identify the task a reward is requested for.
	Task  *model.TaskSpec
	Index int
	Final bool
	// Prior holds the accepted stages preceding Task.
	Prior []model.Stage
	// Corrections are violation messages from rejected earlier attempts.
	Corrections []string
}

type Options struct {
	// TemplateDir may hold <stage>.tmpl files replacing the embedded ones.
	TemplateDir  string
	MaxTasks     int
	FunctionName string
}

type Composer struct {
	templates    map[Stage]*template.Template
	maxTasks     int
	functionName string
}

type view struct {
	Schema           model.EnvironmentSchema
	Threshold        *model.VariableSpec
	SuccessPredicate string
	SignalPhrase     string
	MaxTasks         int
	Task             *model.TaskSpec
	Position         int
	Final            bool
	Prior            []model.Stage
	Corrections      []string
	Signature        string
}

var funcs = template.FuncMap{
	"join": strings.Join,
	"inc":  func(i int) int { return i + 1 },
}

func NewComposer(opts Options) (*Composer, error) {
	c := newComposer(opts)
	for _, stage := range []Stage{StageSystem, StageTaskListing, StagePerTaskReward} {
		body, ok, err := readTemplate(opts.TemplateDir, stage)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := c.add(stage, body); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// NewComposerFromTemplates builds a composer from in-memory stage templates
// only; stages absent from the map have no template.
func NewComposerFromTemplates(bodies map[Stage]string, opts Options) (*Composer, error) {
	c := newComposer(opts)
	for stage, body := range bodies {
		if err := c.add(stage, body); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func newComposer(opts Options) *Composer {
	c := &Composer{
		templates:    make(map[Stage]*template.Template),
		maxTasks:     opts.MaxTasks,
		functionName: opts.FunctionName,
	}
	if c.maxTasks <= 0 {
		c.maxTasks = DefaultMaxTasks
	}
	if c.functionName == "" {
		c.functionName = model.DefaultFunctionName
	}
	return c
}

func (c *Composer) add(stage Stage, body string) error {
	common, err := defaultTemplates.ReadFile("templates/common.tmpl")
	if err != nil {
		return err
	}
	tmpl, err := template.New(string(stage)).Funcs(funcs).Parse(string(common))
	if err == nil {
		tmpl, err = tmpl.Parse(body)
	}
	if err != nil {
		return fmt.Errorf("prompt: parse %s template: %w", stage, err)
	}
	c.templates[stage] = tmpl
	return nil
}

func readTemplate(dir string, stage Stage) (string, bool, error) {
	if dir != "" {
		data, err := os.ReadFile(filepath.Join(dir, string(stage)+".tmpl"))
		if err == nil {
			return string(data), true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("prompt: read %s template: %w", stage, err)
		}
	}
	data, err := defaultTemplates.ReadFile("templates/" + string(stage) + ".tmpl")
	if err != nil {
		return "", false, nil
	}
	return string(data), true, nil
}

// Compose renders the prompt text for stage. It is deterministic in its inputs.
func (c *Composer) Compose(stage Stage, schema model.EnvironmentSchema, history History) (string, error) {
	tmpl, ok := c.templates[stage]
	if !ok {
		return "", fault.TemplateMissing(string(stage))
	}
	if stage == StagePerTaskReward && history.Task == nil {
		return "", fmt.Errorf("prompt: %s needs a current task", stage)
	}
	v := view{
		Schema:           schema,
		SuccessPredicate: schema.Success.String(),
		SignalPhrase:     schema.Success.SignalPhrase(),
		MaxTasks:         c.maxTasks,
		Task:             history.Task,
		Position:         history.Index + 1,
		Final:            history.Final,
		Prior:            history.Prior,
		Corrections:      history.Corrections,
		Signature:        schema.Signature(c.functionName),
	}
	if cfg, ok := schema.Threshold(); ok {
		v.Threshold = &cfg
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("prompt: render %s: %w", stage, err)
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}

// Request pairs the system prompt with the rendered stage prompt.
func (c *Composer) Request(stage Stage, schema model.EnvironmentSchema, history History) (backend.Request, error) {
	system, err := c.Compose(StageSystem, schema, History{})
	if err != nil {
		return backend.Request{}, err
	}
	user, err := c.Compose(stage, schema, history)
	if err != nil {
		return backend.Request{}, err
	}
	return backend.Request{System: system, User: user}, nil
}

func (c *Composer) FunctionName() string { return c.functionName }

func (c *Composer) MaxTasks() int { return c.maxTasks }
