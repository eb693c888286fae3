// Package config loads rewardcraft.yaml and layers environment variables and
// command-line flags over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"rewardcraft/internal/model"
	"rewardcraft/internal/retry"
	"rewardcraft/internal/reward"
)

const (
	DefaultPath    = "rewardcraft.yaml"
	DefaultWorkDir = ".rewardcraft"

	defaultAPIKeyEnv = "REWARDCRAFT_API_KEY"
)

const defaultConfigYAML = `# rewardcraft configuration
version: 1

backend:
  endpoint: https://api.openai.com/v1
  model: gpt-4o
  # The key itself is read from this environment variable (or a .env file).
  api_key_env: REWARDCRAFT_API_KEY
  timeout: 2m
  temperature: 0.2

limits:
  max_tasks: 5
  plan_retries: 3
  repair_retries: 3
  transient_retries: 3
  backoff_base: 500ms
  backoff_max: 8s

signal:
  static: true
  probe: true
  samples: 32
  seed: 1
  # Upper bound on one evaluation of a generated reward function.
  eval_timeout: 1s

store:
  kind: memory

work_dir: .rewardcraft
`

type BackendConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens,omitempty"`
	// Replay serves recorded responses from a directory instead of calling the endpoint.
	Replay string `yaml:"replay,omitempty"`

	APIKey string `yaml:"-"`
}

type LimitsConfig struct {
	MaxTasks         int           `yaml:"max_tasks"`
	PlanRetries      *int          `yaml:"plan_retries"`
	RepairRetries    *int          `yaml:"repair_retries"`
	TransientRetries int           `yaml:"transient_retries"`
	BackoffBase      time.Duration `yaml:"backoff_base"`
	BackoffMax       time.Duration `yaml:"backoff_max"`
}

type SignalConfig struct {
	Static      *bool         `yaml:"static"`
	Probe       *bool         `yaml:"probe"`
	Samples     int           `yaml:"samples"`
	Seed        int64         `yaml:"seed"`
	EvalTimeout time.Duration `yaml:"eval_timeout"`
}

type StoreConfig struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path,omitempty"`
}

type DirsConfig struct {
	Schemas   string `yaml:"schemas,omitempty"`
	Templates string `yaml:"templates,omitempty"`
	Artifacts string `yaml:"artifacts,omitempty"`
	Logs      string `yaml:"logs,omitempty"`
}

// Config is the resolved ctl configuration.
type Config struct {
	Version      int           `yaml:"version"`
	FunctionName string        `yaml:"function_name,omitempty"`
	Backend      BackendConfig `yaml:"backend"`
	Limits       LimitsConfig  `yaml:"limits"`
	Signal       SignalConfig  `yaml:"signal"`
	Store        StoreConfig   `yaml:"store"`
	WorkDir      string        `yaml:"work_dir"`
	Dirs         DirsConfig    `yaml:"dirs"`

	// Source names the file the values came from, or "default".
	Source string `yaml:"-"`
}

// Flags carries command-line values; empty fields leave lower layers alone.
type Flags struct {
	Endpoint  string
	Model     string
	Store     string
	StorePath string
	WorkDir   string
	Replay    string
}

// Default returns the configuration used when no file exists.
func Default() Config {
	var c Config
	if err := yaml.Unmarshal([]byte(defaultConfigYAML), &c); err != nil {
		panic(fmt.Sprintf("config: default config: %v", err))
	}
	c.Source = "default"
	return c
}

// DefaultYAML is the commented template written by `rewardcraftctl init`.
func DefaultYAML() string { return defaultConfigYAML }

// LoadDotEnv loads .env style files into the process environment. Existing
// variables win and missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	return nil
}

// Load resolves the configuration with precedence flags > env > file >
// defaults. An empty path reads DefaultPath when it exists; an explicit path
// must exist. getenv defaults to os.Getenv.
func Load(path string, flags Flags, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.Source = path
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg.applyEnv(getenv)
	cfg.applyFlags(flags)
	cfg.applyDefaults()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.Backend.APIKey = strings.TrimSpace(getenv(cfg.Backend.APIKeyEnv))
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Backend.Endpoint, "REWARDCRAFT_ENDPOINT")
	set(&c.Backend.Model, "REWARDCRAFT_MODEL")
	set(&c.Backend.Replay, "REWARDCRAFT_REPLAY")
	set(&c.Store.Kind, "REWARDCRAFT_STORE")
	set(&c.Store.Path, "REWARDCRAFT_STORE_PATH")
	set(&c.WorkDir, "REWARDCRAFT_WORK_DIR")
}

func (c *Config) applyFlags(f Flags) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&c.Backend.Endpoint, f.Endpoint)
	set(&c.Backend.Model, f.Model)
	set(&c.Backend.Replay, f.Replay)
	set(&c.Store.Kind, f.Store)
	set(&c.Store.Path, f.StorePath)
	set(&c.WorkDir, f.WorkDir)
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.FunctionName == "" {
		c.FunctionName = model.DefaultFunctionName
	}
	if c.Backend.APIKeyEnv == "" {
		c.Backend.APIKeyEnv = defaultAPIKeyEnv
	}
	if c.Limits.MaxTasks == 0 {
		c.Limits.MaxTasks = 5
	}
	if c.Limits.PlanRetries == nil {
		n := 3
		c.Limits.PlanRetries = &n
	}
	if c.Limits.RepairRetries == nil {
		n := 3
		c.Limits.RepairRetries = &n
	}
	if c.Limits.TransientRetries == 0 {
		c.Limits.TransientRetries = 3
	}
	if c.Signal.Static == nil {
		v := true
		c.Signal.Static = &v
	}
	if c.Signal.Probe == nil {
		v := true
		c.Signal.Probe = &v
	}
	if c.Signal.Samples == 0 {
		c.Signal.Samples = 32
	}
	if c.WorkDir == "" {
		c.WorkDir = DefaultWorkDir
	}
	if c.Store.Kind == "" {
		c.Store.Kind = "memory"
	}
}

func (c *Config) normalize() {
	c.Store.Kind = strings.ToLower(strings.TrimSpace(c.Store.Kind))
	c.Backend.Endpoint = strings.TrimRight(strings.TrimSpace(c.Backend.Endpoint), "/")
	c.WorkDir = filepath.Clean(c.WorkDir)
	if c.Store.Kind == "sqlite" && c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.WorkDir, "rewardcraft.db")
	}
	if c.Dirs.Artifacts == "" {
		c.Dirs.Artifacts = filepath.Join(c.WorkDir, "artifacts")
	}
	if c.Dirs.Logs == "" {
		c.Dirs.Logs = filepath.Join(c.WorkDir, "logs")
	}
}

func (c *Config) validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version %d", c.Version)
	}
	switch c.Store.Kind {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("store.kind must be 'memory' or 'sqlite'")
	}
	if c.Limits.MaxTasks < 2 || c.Limits.MaxTasks > 5 {
		return fmt.Errorf("limits.max_tasks must be between 2 and 5")
	}
	if *c.Limits.PlanRetries < 0 || *c.Limits.RepairRetries < 0 || c.Limits.TransientRetries < 1 {
		return fmt.Errorf("limits: retries must not be negative and transient_retries must be >= 1")
	}
	if c.Limits.BackoffMax > 0 && c.Limits.BackoffBase > c.Limits.BackoffMax {
		return fmt.Errorf("limits.backoff_base exceeds limits.backoff_max")
	}
	if !*c.Signal.Static && !*c.Signal.Probe {
		return fmt.Errorf("signal: at least one of static and probe must be enabled")
	}
	if c.Signal.Samples < 0 {
		return fmt.Errorf("signal.samples must not be negative")
	}
	if c.Signal.EvalTimeout < 0 {
		return fmt.Errorf("signal.eval_timeout must not be negative")
	}
	if c.Backend.Replay == "" && (c.Backend.Endpoint == "" || c.Backend.Model == "") {
		return fmt.Errorf("backend.endpoint and backend.model are required")
	}
	return nil
}

func (c Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Attempts = c.Limits.TransientRetries
	if c.Limits.BackoffBase > 0 {
		p.BaseDelay = c.Limits.BackoffBase
	}
	if c.Limits.BackoffMax > 0 {
		p.MaxDelay = c.Limits.BackoffMax
	}
	if c.Backend.Timeout > 0 {
		p.CallTimeout = c.Backend.Timeout
	}
	return p
}

func (c Config) RewardPolicy() reward.Policy {
	p := reward.DefaultPolicy()
	p.FunctionName = c.FunctionName
	p.Signal = reward.SignalPolicy{
		Static:  *c.Signal.Static,
		Probe:   *c.Signal.Probe,
		Samples: c.Signal.Samples,
		Seed:    c.Signal.Seed,
	}
	if c.Signal.EvalTimeout > 0 {
		p.EvalTimeout = c.Signal.EvalTimeout
	}
	return p
}

func (c Config) PlanRetries() int   { return *c.Limits.PlanRetries }
func (c Config) RepairRetries() int { return *c.Limits.RepairRetries }
