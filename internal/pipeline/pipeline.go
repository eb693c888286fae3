// Package pipeline runs a complete curriculum build: plan the tasks,
// synthesise a reward function per task, assemble, persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"rewardcraft/internal/artifacts"
	"rewardcraft/internal/assemble"
	"rewardcraft/internal/backend"
	"rewardcraft/internal/fault"
	"rewardcraft/internal/logging"
	"rewardcraft/internal/model"
	"rewardcraft/internal/planner"
	"rewardcraft/internal/prompt"
	"rewardcraft/internal/retry"
	"rewardcraft/internal/reward"
	"rewardcraft/internal/schema"
	"rewardcraft/internal/storage"
	"rewardcraft/internal/synth"
)

type Options struct {
	MaxTasks      int
	PlanRetries   int
	RepairRetries int
	Retry         retry.Policy
	Policy        reward.Policy
	// ArtifactsDir receives on-disk build artifacts; empty disables them.
	ArtifactsDir string
	// Parallelism bounds BuildMany; zero means one goroutine per request.
	Parallelism int
	Logger      *logging.Logger
	// Observer sees events from every build; BuildMany calls it concurrently.
	Observer Observer
	Now      func() time.Time
	NewID    func() string
}

func DefaultOptions() Options {
	return Options{
		MaxTasks:      planner.DefaultMaxTasks,
		PlanRetries:   planner.DefaultMaxRetries,
		RepairRetries: synth.DefaultMaxRepairs,
		Retry:         retry.DefaultPolicy(),
		Policy:        reward.DefaultPolicy(),
	}
}

type Builder struct {
	registry *schema.Registry
	gen      backend.Generator
	composer *prompt.Composer
	store    storage.Store
	opts     Options
	log      *logging.Logger
}

func New(registry *schema.Registry, gen backend.Generator, composer *prompt.Composer, store storage.Store, opts Options) (*Builder, error) {
	if registry == nil {
		return nil, fmt.Errorf("pipeline: registry is required")
	}
	if gen == nil {
		return nil, fmt.Errorf("pipeline: generator is required")
	}
	if composer == nil {
		return nil, fmt.Errorf("pipeline: composer is required")
	}
	if store == nil {
		return nil, fmt.Errorf("pipeline: store is required")
	}
	if opts.MaxTasks <= 0 {
		opts.MaxTasks = planner.DefaultMaxTasks
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Builder{
		registry: registry,
		gen:      gen,
		composer: composer,
		store:    store,
		opts:     opts,
		log:      opts.Logger.With("pipeline"),
	}, nil
}

// Request names the environment to build for. Overrides are keyed by task
// name; a present key with a nil value runs that stage without a threshold,
// and every present key wins over the planner's proposal.
type Request struct {
	EnvironmentID string
	Overrides     map[string]*float64
	Observer      Observer
}

type Result struct {
	Build      model.BuildRecord
	Curriculum model.Curriculum
	// Dir is the artifact directory, when artifacts are enabled.
	Dir string
}

// run holds the mutable state of one build.
type run struct {
	b        *Builder
	observer Observer
	record   model.BuildRecord
}

func (r *run) emit(ev Event) {
	ev.BuildID = r.record.ID
	ev.EnvironmentID = r.record.EnvironmentID
	ev.Time = r.b.opts.Now().UTC()
	r.b.log.Printf("build %s %s: %s", ev.BuildID, ev.Kind, describe(ev))
	if r.b.opts.Observer != nil {
		r.b.opts.Observer(ev)
	}
	if r.observer != nil {
		r.observer(ev)
	}
}

func describe(ev Event) string {
	var parts []string
	if ev.Task != "" {
		parts = append(parts, fmt.Sprintf("task=%s stage=%d/%d", ev.Task, ev.Index+1, ev.Total))
	}
	if ev.Attempt > 0 {
		parts = append(parts, fmt.Sprintf("attempt=%d", ev.Attempt))
	}
	if ev.Message != "" {
		parts = append(parts, ev.Message)
	}
	return strings.Join(parts, " ")
}

func (b *Builder) Build(ctx context.Context, req Request) (Result, error) {
	r := &run{
		b:        b,
		observer: req.Observer,
		record: model.BuildRecord{
			VersionedRecord: storage.Stamp(),
			ID:              b.opts.NewID(),
			EnvironmentID:   req.EnvironmentID,
			Status:          model.BuildRunning,
			CreatedAtUTC:    b.opts.Now().UTC(),
		},
	}

	s, err := b.registry.Get(req.EnvironmentID)
	if err != nil {
		return r.fail(ctx, model.EnvironmentSchema{}, "", "", err)
	}
	r.record.EnvironmentID = s.ID
	r.record.TargetTask = s.TargetTask
	if err := b.store.SaveBuild(ctx, r.record); err != nil {
		return Result{}, fmt.Errorf("pipeline: save build: %w", err)
	}
	if err := assemble.CheckOverrides(s, mergeOverrides(nil, req.Overrides)); err != nil {
		return r.fail(ctx, s, "assemble", "", err)
	}

	plan, err := r.plan(ctx, s)
	if err != nil {
		return r.fail(ctx, s, string(prompt.StageTaskListing), "", err)
	}
	r.record.Tasks = plan.Tasks

	stages := make([]model.Stage, 0, len(plan.Tasks))
	arts := make([]model.RewardArtifact, 0, len(plan.Tasks))
	for i, task := range plan.Tasks {
		art, err := r.synthesize(ctx, s, plan.Tasks, i, stages)
		if err != nil {
			return r.fail(ctx, s, string(prompt.StagePerTaskReward), task.Name, err)
		}
		arts = append(arts, art)
		stages = append(stages, model.Stage{Index: i, Task: task, Reward: art})
	}

	curriculum, err := assemble.Assemble(s, plan.Tasks, arts, mergeOverrides(plan.Thresholds, req.Overrides), assemble.Options{MaxStages: b.opts.MaxTasks})
	if err != nil {
		return r.fail(ctx, s, "assemble", "", err)
	}
	curriculum.VersionedRecord = storage.Stamp()
	curriculum.ID = b.opts.NewID()
	if err := b.store.SaveCurriculum(ctx, curriculum); err != nil {
		return Result{}, fmt.Errorf("pipeline: save curriculum: %w", err)
	}

	r.record.Status = model.BuildSucceeded
	r.record.CurriculumID = curriculum.ID
	r.record.FinishedAtUTC = b.opts.Now().UTC()
	if err := b.store.SaveBuild(ctx, r.record); err != nil {
		return Result{}, fmt.Errorf("pipeline: save build: %w", err)
	}
	dir, err := b.writeArtifacts(s, r.record, &curriculum)
	if err != nil {
		return Result{}, err
	}
	r.emit(Event{Kind: EventAssembled, Total: len(curriculum.Stages), Message: "fingerprint=" + curriculum.Fingerprint})
	return Result{Build: r.record, Curriculum: curriculum, Dir: dir}, nil
}

func (r *run) plan(ctx context.Context, s model.EnvironmentSchema) (planner.Plan, error) {
	p, err := planner.New(r.b.gen, r.b.composer, planner.Options{
		MaxTasks:   r.b.opts.MaxTasks,
		MaxRetries: r.b.opts.PlanRetries,
		Retry:      r.b.opts.Retry,
		OnAttempt: func(a model.AttemptRecord) {
			r.record.Attempts = append(r.record.Attempts, a)
			r.emit(Event{Kind: EventPlanAttempt, Attempt: a.Attempt})
			if !a.Accepted {
				r.emit(Event{Kind: EventViolation, Attempt: a.Attempt, Message: a.Violation})
			}
		},
	})
	if err != nil {
		return planner.Plan{}, err
	}
	plan, err := p.Plan(ctx, s)
	if err != nil {
		return plan, err
	}
	names := make([]string, 0, len(plan.Tasks))
	for _, t := range plan.Tasks {
		names = append(names, t.Name)
	}
	r.emit(Event{Kind: EventPlanAccepted, Total: len(plan.Tasks), Message: strings.Join(names, ", ")})
	return plan, nil
}

func (r *run) synthesize(ctx context.Context, s model.EnvironmentSchema, tasks []model.TaskSpec, i int, prior []model.Stage) (model.RewardArtifact, error) {
	task := tasks[i]
	total := len(tasks)
	syn, err := synth.New(r.b.gen, r.b.composer, synth.Options{
		MaxRepairs: r.b.opts.RepairRetries,
		Retry:      r.b.opts.Retry,
		Policy:     r.b.opts.Policy,
		OnAttempt: func(a model.AttemptRecord) {
			r.record.Attempts = append(r.record.Attempts, a)
			r.emit(Event{Kind: EventRewardAttempt, Task: task.Name, Index: i, Total: total, Attempt: a.Attempt})
			if !a.Accepted {
				r.emit(Event{Kind: EventViolation, Task: task.Name, Index: i, Total: total, Attempt: a.Attempt, Message: a.Violation})
			}
		},
	})
	if err != nil {
		return model.RewardArtifact{}, err
	}
	res, err := syn.Synthesize(ctx, synth.Request{
		Schema: s,
		Task:   task,
		Index:  i,
		Final:  i == total-1,
		Prior:  prior,
	})
	if err != nil {
		return model.RewardArtifact{}, err
	}
	r.emit(Event{Kind: EventRewardAccepted, Task: task.Name, Index: i, Total: total, Attempt: len(res.Attempts)})
	return res.Artifact, nil
}

// fail persists the build as failed and returns the original error.
func (r *run) fail(ctx context.Context, s model.EnvironmentSchema, stage, task string, cause error) (Result, error) {
	kind := string(fault.KindOf(cause))
	if kind == "" {
		kind = "internal"
	}
	r.record.Status = model.BuildFailed
	r.record.FinishedAtUTC = r.b.opts.Now().UTC()
	r.record.Failure = &model.FailureRecord{Kind: kind, Message: cause.Error(), Stage: stage, Task: task}
	r.emit(Event{Kind: EventFailed, Task: task, Message: cause.Error()})

	if err := r.b.store.SaveBuild(ctx, r.record); err != nil {
		return Result{Build: r.record}, errors.Join(cause, fmt.Errorf("pipeline: save failed build: %w", err))
	}
	dir := ""
	if s.ID != "" {
		var err error
		if dir, err = r.b.writeArtifacts(s, r.record, nil); err != nil {
			return Result{Build: r.record}, errors.Join(cause, err)
		}
	}
	return Result{Build: r.record, Dir: dir}, cause
}

func (b *Builder) writeArtifacts(s model.EnvironmentSchema, record model.BuildRecord, c *model.Curriculum) (string, error) {
	if b.opts.ArtifactsDir == "" {
		return "", nil
	}
	dir, err := artifacts.WriteCurriculumArtifacts(b.opts.ArtifactsDir, s, record, c)
	if err != nil {
		return "", fmt.Errorf("pipeline: write artifacts: %w", err)
	}
	if err := artifacts.AppendBuildIndex(b.opts.ArtifactsDir, artifacts.IndexEntry(record, c)); err != nil {
		return "", fmt.Errorf("pipeline: update build index: %w", err)
	}
	return dir, nil
}

// mergeOverrides gives requested overrides precedence over planner proposals.
func mergeOverrides(proposed, requested map[string]*float64) map[string]model.ConfigOverride {
	out := make(map[string]model.ConfigOverride, len(proposed)+len(requested))
	for name, v := range proposed {
		out[name] = model.ConfigOverride{Value: v}
	}
	for name, v := range requested {
		out[name] = model.ConfigOverride{Value: v}
	}
	return out
}

// BuildMany runs independent builds concurrently. Results line up with
// reqs; a failed build leaves its failed record in the slot and its error
// joined into the returned error. One failure does not cancel the others.
func (b *Builder) BuildMany(ctx context.Context, reqs []Request) ([]Result, error) {
	results := make([]Result, len(reqs))
	errs := make([]error, len(reqs))

	var g errgroup.Group
	if b.opts.Parallelism > 0 {
		g.SetLimit(b.opts.Parallelism)
	}
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			res, err := b.Build(ctx, req)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", req.EnvironmentID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}
