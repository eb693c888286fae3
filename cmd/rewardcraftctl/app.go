package main

import (
	"context"
	"errors"
	"flag"
	"sort"

	"rewardcraft/internal/backend"
	"rewardcraft/internal/config"
	"rewardcraft/internal/logging"
	"rewardcraft/internal/pipeline"
	"rewardcraft/pkg/rewardcraft"
)

type commonFlags struct {
	configPath string
	flags      config.Flags
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", "", "config file (default rewardcraft.yaml when present)")
	fs.StringVar(&c.flags.Endpoint, "endpoint", "", "chat completions endpoint")
	fs.StringVar(&c.flags.Model, "model", "", "model name")
	fs.StringVar(&c.flags.Store, "store", "", "store backend: memory|sqlite")
	fs.StringVar(&c.flags.StorePath, "db-path", "", "sqlite database path")
	fs.StringVar(&c.flags.WorkDir, "work-dir", "", "directory for artifacts, logs and the database")
	fs.StringVar(&c.flags.Replay, "replay", "", "directory of recorded responses to replay instead of calling the endpoint")
	return c
}

func loadConfig(c *commonFlags) (config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return config.Config{}, err
	}
	return config.Load(c.configPath, c.flags, nil)
}

type app struct {
	cfg    config.Config
	client *rewardcraft.Client
	log    *logging.Logger
}

// openApp resolves configuration and opens a client. needBackend is set for
// commands that send prompts.
func openApp(ctx context.Context, c *commonFlags, needBackend bool) (*app, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Dirs.Logs)
	if err != nil {
		return nil, err
	}

	var gen backend.Generator
	if needBackend {
		if gen, err = newGenerator(cfg); err != nil {
			_ = log.Close()
			return nil, err
		}
	}

	popts := pipeline.DefaultOptions()
	popts.MaxTasks = cfg.Limits.MaxTasks
	popts.PlanRetries = cfg.PlanRetries()
	popts.RepairRetries = cfg.RepairRetries()
	popts.Retry = cfg.RetryPolicy()
	popts.Policy = cfg.RewardPolicy()

	client, err := rewardcraft.New(rewardcraft.Options{
		StoreKind:    cfg.Store.Kind,
		DBPath:       cfg.Store.Path,
		ArtifactsDir: cfg.Dirs.Artifacts,
		SchemaDir:    cfg.Dirs.Schemas,
		TemplateDir:  cfg.Dirs.Templates,
		Generator:    gen,
		Logger:       log,
		Pipeline:     &popts,
	})
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	if err := client.Init(ctx); err != nil {
		_ = client.Close()
		_ = log.Close()
		return nil, err
	}
	log.With("ctl").Printf("config source=%s store=%s work_dir=%s", cfg.Source, cfg.Store.Kind, cfg.WorkDir)
	return &app{cfg: cfg, client: client, log: log}, nil
}

func newGenerator(cfg config.Config) (backend.Generator, error) {
	if cfg.Backend.Replay != "" {
		return backend.LoadReplayDir(cfg.Backend.Replay)
	}
	return backend.NewHTTPClient(backend.HTTPConfig{
		BaseURL:     cfg.Backend.Endpoint,
		Model:       cfg.Backend.Model,
		APIKey:      cfg.Backend.APIKey,
		Temperature: cfg.Backend.Temperature,
		MaxTokens:   cfg.Backend.MaxTokens,
	})
}

func (a *app) Close() {
	_ = a.client.Close()
	_ = a.log.Close()
}

func (a *app) resolveBuild(buildID string, latest bool) (string, error) {
	switch {
	case buildID != "" && latest:
		return "", errors.New("use either --build-id or --latest")
	case buildID != "":
		return buildID, nil
	case latest:
		return a.client.Latest()
	default:
		return "", errors.New("requires --build-id or --latest")
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
