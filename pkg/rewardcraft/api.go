package rewardcraft

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"rewardcraft/internal/artifacts"
	"rewardcraft/internal/backend"
	"rewardcraft/internal/logging"
	"rewardcraft/internal/model"
	"rewardcraft/internal/pipeline"
	"rewardcraft/internal/planner"
	"rewardcraft/internal/prompt"
	"rewardcraft/internal/reward"
	"rewardcraft/internal/rewardexec"
	"rewardcraft/internal/schema"
	"rewardcraft/internal/storage"
)

const (
	defaultArtifactsDir = "artifacts"
	defaultExportsDir   = "exports"
	defaultDBPath       = "rewardcraft.db"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	// SchemaDir adds environment schemas to the built-in ones.
	SchemaDir   string
	TemplateDir string
	// Generator answers prompts; only Plan and Build need it.
	Generator backend.Generator
	Logger    *logging.Logger
	// Pipeline overrides pipeline.DefaultOptions when set.
	Pipeline *pipeline.Options
}

type Client struct {
	store    storage.Store
	registry *schema.Registry
	composer *prompt.Composer
	gen      backend.Generator
	log      *logging.Logger
	pipeline pipeline.Options

	artifactsDir string
	exportsDir   string
}

type BuildRequest struct {
	Environment string
	// Overrides maps task names to a threshold; a nil value means no threshold.
	Overrides map[string]*float64
	Observer  pipeline.Observer
}

type ExportRequest struct {
	BuildID string
	Latest  bool
	OutDir  string
}

type ExportSummary struct {
	BuildID   string
	Directory string
}

// BuildDetail is a persisted build with its curriculum, when it produced one.
type BuildDetail struct {
	Build      model.BuildRecord
	Curriculum *model.Curriculum
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = "memory"
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	popts := pipeline.DefaultOptions()
	if opts.Pipeline != nil {
		popts = *opts.Pipeline
	}
	popts.ArtifactsDir = artifactsDir
	popts.Logger = opts.Logger

	registry, err := schema.NewBuiltinRegistry()
	if err != nil {
		return nil, err
	}
	if opts.SchemaDir != "" {
		if _, err := registry.LoadDir(opts.SchemaDir); err != nil {
			return nil, err
		}
	}
	composer, err := prompt.NewComposer(prompt.Options{
		TemplateDir:  opts.TemplateDir,
		MaxTasks:     popts.MaxTasks,
		FunctionName: popts.Policy.FunctionName,
	})
	if err != nil {
		return nil, err
	}
	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		registry:     registry,
		composer:     composer,
		gen:          opts.Generator,
		log:          opts.Logger,
		pipeline:     popts,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

func (c *Client) Environments() []string {
	return c.registry.List()
}

func (c *Client) Schema(id string) (model.EnvironmentSchema, error) {
	return c.registry.Get(id)
}

// Plan runs only the planning step; nothing is persisted.
func (c *Client) Plan(ctx context.Context, env string) (planner.Plan, error) {
	s, err := c.registry.Get(env)
	if err != nil {
		return planner.Plan{}, err
	}
	gen, err := c.generator()
	if err != nil {
		return planner.Plan{}, err
	}
	p, err := planner.New(gen, c.composer, planner.Options{
		MaxTasks:   c.pipeline.MaxTasks,
		MaxRetries: c.pipeline.PlanRetries,
		Retry:      c.pipeline.Retry,
	})
	if err != nil {
		return planner.Plan{}, err
	}
	return p.Plan(ctx, s)
}

func (c *Client) Build(ctx context.Context, req BuildRequest) (pipeline.Result, error) {
	b, err := c.builder()
	if err != nil {
		return pipeline.Result{}, err
	}
	return b.Build(ctx, pipeline.Request{EnvironmentID: req.Environment, Overrides: req.Overrides, Observer: req.Observer})
}

func (c *Client) BuildMany(ctx context.Context, reqs []BuildRequest) ([]pipeline.Result, error) {
	b, err := c.builder()
	if err != nil {
		return nil, err
	}
	preqs := make([]pipeline.Request, 0, len(reqs))
	for _, r := range reqs {
		preqs = append(preqs, pipeline.Request{EnvironmentID: r.Environment, Overrides: r.Overrides, Observer: r.Observer})
	}
	return b.BuildMany(ctx, preqs)
}

func (c *Client) builder() (*pipeline.Builder, error) {
	gen, err := c.generator()
	if err != nil {
		return nil, err
	}
	return pipeline.New(c.registry, gen, c.composer, c.store, c.pipeline)
}

func (c *Client) generator() (backend.Generator, error) {
	if c.gen == nil {
		return nil, errors.New("no generation backend configured")
	}
	return c.gen, nil
}

// Validate checks a reward function for task offline, without a backend.
func (c *Client) Validate(ctx context.Context, env string, task model.TaskSpec, final bool, source string) (model.RewardArtifact, error) {
	s, err := c.registry.Get(env)
	if err != nil {
		return model.RewardArtifact{}, err
	}
	return reward.NewValidator(s, c.rewardPolicy()).Validate(ctx, source, task, final)
}

func (c *Client) rewardPolicy() reward.Policy {
	policy := c.pipeline.Policy
	if policy.FunctionName == "" {
		policy = reward.DefaultPolicy()
	}
	return policy
}

func (c *Client) Builds(ctx context.Context, limit int) ([]model.BuildRecord, error) {
	if limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	builds, err := c.store.ListBuilds(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(builds) > limit {
		builds = builds[:limit]
	}
	return builds, nil
}

// Show loads a build from the store, falling back to its artifact directory
// so builds from earlier processes stay visible with the memory store.
func (c *Client) Show(ctx context.Context, buildID string) (BuildDetail, error) {
	if buildID == "" {
		return BuildDetail{}, errors.New("build id is required")
	}
	build, ok, err := c.store.GetBuild(ctx, buildID)
	if err != nil {
		return BuildDetail{}, err
	}
	if !ok {
		if build, ok, err = artifacts.ReadBuild(c.artifactsDir, buildID); err != nil {
			return BuildDetail{}, err
		}
	}
	if !ok {
		return BuildDetail{}, fmt.Errorf("build %s not found", buildID)
	}
	detail := BuildDetail{Build: build}
	if build.CurriculumID == "" {
		return detail, nil
	}
	curriculum, ok, err := c.store.GetCurriculum(ctx, build.CurriculumID)
	if err != nil {
		return BuildDetail{}, err
	}
	if !ok {
		if curriculum, ok, err = artifacts.ReadCurriculum(c.artifactsDir, buildID); err != nil {
			return BuildDetail{}, err
		}
	}
	if ok {
		detail.Curriculum = &curriculum
	}
	return detail, nil
}

// Latest returns the newest build id from the artifact index.
func (c *Client) Latest() (string, error) {
	entries, err := artifacts.ListBuildIndex(c.artifactsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no builds available")
	}
	return entries[0].BuildID, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.BuildID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either build id or latest")
	}
	if req.BuildID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires build id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	buildID := req.BuildID
	if req.Latest {
		latest, err := c.Latest()
		if err != nil {
			return ExportSummary{}, err
		}
		buildID = latest
	}

	exportedDir, err := artifacts.ExportBuildArtifacts(c.artifactsDir, buildID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{BuildID: buildID, Directory: filepath.Clean(exportedDir)}, nil
}

// Program compiles one curriculum stage for a training loop, with the stage's
// threshold override bound.
func (c *Client) Program(ctx context.Context, curriculum model.Curriculum, stage int) (*rewardexec.Program, error) {
	if stage < 0 || stage >= len(curriculum.Stages) {
		return nil, fmt.Errorf("stage %d out of range [0, %d)", stage, len(curriculum.Stages))
	}
	s, err := c.registry.Get(curriculum.EnvironmentID)
	if err != nil {
		return nil, err
	}
	st := curriculum.Stages[stage]
	return rewardexec.Compile(ctx, s, st.Reward, st.Override, rewardexec.WithEvalTimeout(c.rewardPolicy().EvalTimeout))
}

// Evaluate runs one stage of a build's curriculum on a single observation.
func (c *Client) Evaluate(ctx context.Context, buildID string, stage int, obs model.Observation) (rewardexec.Result, error) {
	detail, err := c.Show(ctx, buildID)
	if err != nil {
		return rewardexec.Result{}, err
	}
	if detail.Curriculum == nil {
		return rewardexec.Result{}, fmt.Errorf("build %s has no curriculum", buildID)
	}
	p, err := c.Program(ctx, *detail.Curriculum, stage)
	if err != nil {
		return rewardexec.Result{}, err
	}
	return p.Evaluate(ctx, obs)
}
