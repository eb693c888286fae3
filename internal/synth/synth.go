package synth

import (
	"context"
	"fmt"

	"rewardcraft/internal/backend"
	"rewardcraft/internal/fault"
	"rewardcraft/internal/model"
	"rewardcraft/internal/prompt"
	"rewardcraft/internal/retry"
	"rewardcraft/internal/reward"
)

const DefaultMaxRepairs = 3

type Options struct {
	// MaxRepairs is the number of corrective re-prompts after the first attempt.
	MaxRepairs int
	Retry      retry.Policy
	Policy     reward.Policy
	OnAttempt  func(model.AttemptRecord)
}

// Synthesizer requests one reward function per task and repairs rejected
// responses by re-prompting with the violation.
type Synthesizer struct {
	gen      backend.Generator
	composer *prompt.Composer
	opts     Options
}

func New(gen backend.Generator, composer *prompt.Composer, opts Options) (*Synthesizer, error) {
	if gen == nil {
		return nil, fmt.Errorf("synth: generator is required")
	}
	if composer == nil {
		return nil, fmt.Errorf("synth: composer is required")
	}
	if opts.MaxRepairs < 0 {
		opts.MaxRepairs = 0
	}
	if opts.Policy.FunctionName == "" {
		opts.Policy.FunctionName = composer.FunctionName()
	}
	return &Synthesizer{gen: gen, composer: composer, opts: opts}, nil
}

// Request identifies the task to synthesize and the accepted curriculum before it.
type Request struct {
	Schema model.EnvironmentSchema
	Task   model.TaskSpec
	Index  int
	Final  bool
	Prior  []model.Stage
}

type Result struct {
	Artifact model.RewardArtifact
	Attempts []model.AttemptRecord
}

func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (Result, error) {
	validator := reward.NewValidator(req.Schema, s.opts.Policy)
	var (
		attempts    []model.AttemptRecord
		corrections []string
		lastErr     error
	)
	for attempt := 1; attempt <= s.opts.MaxRepairs+1; attempt++ {
		task := req.Task
		breq, err := s.composer.Request(prompt.StagePerTaskReward, req.Schema, prompt.History{
			Task:        &task,
			Index:       req.Index,
			Final:       req.Final,
			Prior:       req.Prior,
			Corrections: corrections,
		})
		if err != nil {
			return Result{Attempts: attempts}, err
		}
		text, err := retry.Generate(ctx, s.opts.Retry, s.gen, breq)
		if err != nil {
			return Result{Attempts: attempts}, err
		}
		record := model.AttemptRecord{
			Stage:    string(prompt.StagePerTaskReward),
			Task:     req.Task.Name,
			Attempt:  attempt,
			Prompt:   breq.User,
			Response: text,
		}
		art, verr := validator.Validate(ctx, text, req.Task, req.Final)
		if verr != nil {
			if !fault.IsValidation(verr) {
				return Result{Attempts: attempts}, verr
			}
			record.Violation = verr.Error()
			record.ViolationKind = string(fault.KindOf(verr))
			attempts = append(attempts, record)
			s.observe(record)
			corrections = append(corrections, verr.Error())
			lastErr = verr
			continue
		}
		record.Accepted = true
		attempts = append(attempts, record)
		s.observe(record)
		return Result{Artifact: art, Attempts: attempts}, nil
	}
	msg := fmt.Sprintf("task %s: no valid reward function after %d attempts", req.Task.Name, len(attempts))
	return Result{Attempts: attempts}, fault.Wrap(fault.KindSynthesisExhausted, msg, lastErr).WithSubject(req.Task.Name)
}

func (s *Synthesizer) observe(r model.AttemptRecord) {
	if s.opts.OnAttempt != nil {
		s.opts.OnAttempt(r)
	}
}
