package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"rewardcraft/internal/artifacts"
	"rewardcraft/internal/config"
	"rewardcraft/internal/model"
	"rewardcraft/internal/pipeline"
	"rewardcraft/internal/tui"
	"rewardcraft/pkg/rewardcraft"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "envs":
		return runEnvs(ctx, args[1:])
	case "schema":
		return runSchema(ctx, args[1:])
	case "plan":
		return runPlan(ctx, args[1:])
	case "build":
		return runBuild(ctx, args[1:])
	case "validate":
		return runValidate(ctx, args[1:])
	case "builds":
		return runBuilds(ctx, args[1:])
	case "show":
		return runShow(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "eval":
		return runEval(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runInit(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	path := fs.String("config", config.DefaultPath, "config file to create")
	force := fs.Bool("force", false, "overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := os.Stat(*path); err == nil && !*force {
		return fmt.Errorf("%s already exists; use --force to overwrite", *path)
	}
	if err := os.WriteFile(*path, []byte(config.DefaultYAML()), 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", *path)
	return nil
}

func runEnvs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("envs", flag.ContinueOnError)
	common := addCommonFlags(fs)
	jsonOut := fs.Bool("json", false, "emit environment list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	app, err := openApp(ctx, common, false)
	if err != nil {
		return err
	}
	defer app.Close()

	ids := app.client.Environments()
	if *jsonOut {
		return printJSON(ids)
	}
	for _, id := range ids {
		s, err := app.client.Schema(id)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\tsuccess: %s\n", s.ID, s.Name, s.Success)
	}
	return nil
}

func runSchema(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	common := addCommonFlags(fs)
	env := fs.String("env", "", "environment id")
	jsonOut := fs.Bool("json", false, "emit schema as JSON instead of YAML")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *env == "" {
		return errors.New("schema requires --env")
	}
	app, err := openApp(ctx, common, false)
	if err != nil {
		return err
	}
	defer app.Close()

	s, err := app.client.Schema(*env)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(s)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

func runPlan(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	common := addCommonFlags(fs)
	env := fs.String("env", "", "environment id")
	jsonOut := fs.Bool("json", false, "emit the plan as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *env == "" {
		return errors.New("plan requires --env")
	}
	app, err := openApp(ctx, common, true)
	if err != nil {
		return err
	}
	defer app.Close()

	plan, err := app.client.Plan(ctx, *env)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(plan)
	}
	for i, t := range plan.Tasks {
		threshold := "-"
		if v, ok := plan.Thresholds[t.Name]; ok {
			threshold = "null"
			if v != nil {
				threshold = strconv.FormatFloat(*v, 'g', -1, 64)
			}
		}
		fmt.Printf("%d. %s: %s (threshold=%s)\n", i+1, t.Name, t.Description, threshold)
	}
	fmt.Printf("attempts=%d\n", len(plan.Attempts))
	return nil
}

// overrideFlag collects repeated --override task=value|null flags.
type overrideFlag map[string]*float64

func (o overrideFlag) String() string {
	parts := make([]string, 0, len(o))
	for k, v := range o {
		if v == nil {
			parts = append(parts, k+"=null")
			continue
		}
		parts = append(parts, k+"="+strconv.FormatFloat(*v, 'g', -1, 64))
	}
	return strings.Join(parts, ",")
}

func (o overrideFlag) Set(value string) error {
	task, raw, ok := strings.Cut(value, "=")
	task = strings.TrimSpace(task)
	if !ok || task == "" {
		return fmt.Errorf("override must be task=value or task=null, got %q", value)
	}
	raw = strings.TrimSpace(raw)
	if raw == "null" || raw == "none" {
		o[task] = nil
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("override %s: %w", task, err)
	}
	o[task] = &v
	return nil
}

func runBuild(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	common := addCommonFlags(fs)
	envs := fs.String("env", "", "environment id, or a comma-separated list to build concurrently")
	overrides := overrideFlag{}
	fs.Var(overrides, "override", "threshold override task=value|null (repeatable)")
	useTUI := fs.Bool("tui", false, "show live progress")
	jsonOut := fs.Bool("json", false, "emit build results as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ids := splitList(*envs)
	if len(ids) == 0 {
		return errors.New("build requires --env")
	}
	if len(ids) > 1 && (*useTUI || len(overrides) > 0) {
		return errors.New("--tui and --override need a single --env")
	}
	app, err := openApp(ctx, common, true)
	if err != nil {
		return err
	}
	defer app.Close()

	var results []pipeline.Result
	switch {
	case len(ids) > 1:
		reqs := make([]rewardcraft.BuildRequest, 0, len(ids))
		for _, id := range ids {
			reqs = append(reqs, rewardcraft.BuildRequest{Environment: id, Observer: printEvent})
		}
		results, err = app.client.BuildMany(ctx, reqs)
	case *useTUI:
		var res pipeline.Result
		res, err = tui.Run(ctx, ids[0], func(ctx context.Context, observe pipeline.Observer) (pipeline.Result, error) {
			return app.client.Build(ctx, rewardcraft.BuildRequest{Environment: ids[0], Overrides: overrides, Observer: observe})
		})
		results = []pipeline.Result{res}
	default:
		var res pipeline.Result
		res, err = app.client.Build(ctx, rewardcraft.BuildRequest{Environment: ids[0], Overrides: overrides, Observer: printEvent})
		results = []pipeline.Result{res}
	}

	if *jsonOut {
		if perr := printJSON(results); perr != nil {
			return perr
		}
		return err
	}
	for _, res := range results {
		if res.Build.ID == "" {
			continue
		}
		fmt.Printf("build_id=%s env=%s status=%s stages=%d curriculum_id=%s fingerprint=%s artifacts=%s\n",
			res.Build.ID,
			res.Build.EnvironmentID,
			res.Build.Status,
			len(res.Curriculum.Stages),
			res.Curriculum.ID,
			res.Curriculum.Fingerprint,
			res.Dir,
		)
	}
	return err
}

func printEvent(ev pipeline.Event) {
	switch ev.Kind {
	case pipeline.EventPlanAccepted:
		fmt.Fprintf(os.Stderr, "[%s] plan accepted: %s\n", ev.EnvironmentID, ev.Message)
	case pipeline.EventViolation:
		fmt.Fprintf(os.Stderr, "[%s] attempt %d rejected: %s\n", ev.EnvironmentID, ev.Attempt, ev.Message)
	case pipeline.EventRewardAccepted:
		fmt.Fprintf(os.Stderr, "[%s] stage %d/%d %s accepted\n", ev.EnvironmentID, ev.Index+1, ev.Total, ev.Task)
	case pipeline.EventFailed:
		fmt.Fprintf(os.Stderr, "[%s] build failed: %s\n", ev.EnvironmentID, ev.Message)
	}
}

func runValidate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	common := addCommonFlags(fs)
	env := fs.String("env", "", "environment id")
	file := fs.String("file", "", "reward function source (.go or model response)")
	taskName := fs.String("task", "task", "task name")
	description := fs.String("description", "", "task description")
	final := fs.Bool("final", false, "check the signal property of the final task")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *env == "" || *file == "" {
		return errors.New("validate requires --env and --file")
	}
	source, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	app, err := openApp(ctx, common, false)
	if err != nil {
		return err
	}
	defer app.Close()

	art, err := app.client.Validate(ctx, *env, model.TaskSpec{Name: *taskName, Description: *description}, *final, string(source))
	if err != nil {
		return err
	}
	fmt.Printf("valid task=%s inputs=%s weights=%d components=%s signal=%t\n",
		art.SourceTask,
		strings.Join(art.Inputs, ","),
		len(art.Weights),
		strings.Join(art.Components, ","),
		art.Signal,
	)
	return nil
}

func runBuilds(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("builds", flag.ContinueOnError)
	common := addCommonFlags(fs)
	limit := fs.Int("limit", 20, "max builds to list")
	jsonOut := fs.Bool("json", false, "emit builds list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}
	cfg, err := loadConfig(common)
	if err != nil {
		return err
	}

	entries, err := artifacts.ListBuildIndex(cfg.Dirs.Artifacts)
	if err != nil {
		return err
	}
	if len(entries) > *limit {
		entries = entries[:*limit]
	}
	if *jsonOut {
		return printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("no builds found")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("build_id=%s created_at=%s env=%s status=%s stages=%d fingerprint=%s\n",
			e.BuildID,
			e.CreatedAtUTC,
			e.EnvironmentID,
			e.Status,
			e.Stages,
			e.Fingerprint,
		)
	}
	return nil
}

func runShow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	common := addCommonFlags(fs)
	buildID := fs.String("build-id", "", "build id")
	latest := fs.Bool("latest", false, "show the most recent build")
	jsonOut := fs.Bool("json", false, "emit the build as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	app, err := openApp(ctx, common, false)
	if err != nil {
		return err
	}
	defer app.Close()

	id, err := app.resolveBuild(*buildID, *latest)
	if err != nil {
		return err
	}
	detail, err := app.client.Show(ctx, id)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(detail)
	}
	fmt.Print(renderBuild(detail))
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	common := addCommonFlags(fs)
	buildID := fs.String("build-id", "", "build id")
	latest := fs.Bool("latest", false, "export the most recent build from the build index")
	outDir := fs.String("out", "exports", "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	app, err := openApp(ctx, common, false)
	if err != nil {
		return err
	}
	defer app.Close()

	summary, err := app.client.Export(ctx, rewardcraft.ExportRequest{BuildID: *buildID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported build_id=%s to=%s\n", summary.BuildID, summary.Directory)
	return nil
}

func runEval(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	common := addCommonFlags(fs)
	buildID := fs.String("build-id", "", "build id")
	latest := fs.Bool("latest", false, "use the most recent build")
	stage := fs.Int("stage", 0, "curriculum stage, 1-based; 0 means the final stage")
	obsPath := fs.String("obs", "", "observation file (yaml or json)")
	jsonOut := fs.Bool("json", false, "emit the result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *obsPath == "" {
		return errors.New("eval requires --obs")
	}
	obs, err := readObservation(*obsPath)
	if err != nil {
		return err
	}
	app, err := openApp(ctx, common, false)
	if err != nil {
		return err
	}
	defer app.Close()

	id, err := app.resolveBuild(*buildID, *latest)
	if err != nil {
		return err
	}
	idx := *stage - 1
	if *stage == 0 {
		detail, err := app.client.Show(ctx, id)
		if err != nil {
			return err
		}
		if detail.Curriculum == nil {
			return fmt.Errorf("build %s has no curriculum", id)
		}
		idx = len(detail.Curriculum.Stages) - 1
	}
	res, err := app.client.Evaluate(ctx, id, idx, obs)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(res)
	}
	fmt.Printf("build_id=%s stage=%d total=%g\n", id, idx+1, res.Total)
	for _, name := range sortedKeys(res.Components) {
		fmt.Printf("  %s=%g\n", name, res.Components[name])
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: %s <init|envs|schema|plan|build|validate|builds|show|export|eval> [flags]", msg, filepath.Base(os.Args[0]))
}
