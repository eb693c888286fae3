package artifacts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rewardcraft/internal/model"
	"rewardcraft/internal/schema"
)

func fixture(t *testing.T) (model.EnvironmentSchema, model.BuildRecord, model.Curriculum) {
	t.Helper()
	r, err := schema.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	s, err := r.Get("AntMaze_UMaze-v4")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	v := 6.5
	c := model.Curriculum{
		ID:            "cur-1",
		EnvironmentID: s.ID,
		Fingerprint:   "f00d",
		Stages: []model.Stage{
			{
				Index:    0,
				Task:     model.TaskSpec{Name: "approach_goal"},
				Reward:   model.RewardArtifact{FunctionName: "ComputeReward", Source: "const w = 1.0\n\nfunc ComputeReward() (float64, map[string]float64) { return w, map[string]float64{\"a\": w} }"},
				Override: model.ConfigOverride{Variable: "distance_threshold", Value: &v},
			},
			{
				Index:    1,
				Task:     model.TaskSpec{Name: "reach_goal"},
				Reward:   model.RewardArtifact{FunctionName: "ComputeReward", Source: "func ComputeReward() (float64, map[string]float64) { return 0, nil }", Signal: true},
				Override: model.ConfigOverride{Variable: "distance_threshold"},
			},
		},
	}
	b := model.BuildRecord{
		ID:            "build-1",
		EnvironmentID: s.ID,
		Status:        model.BuildSucceeded,
		CreatedAtUTC:  time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		CurriculumID:  c.ID,
	}
	return s, b, c
}

func TestWriteAndExportCurriculumArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")
	s, b, c := fixture(t)

	buildDir, err := WriteCurriculumArtifacts(baseDir, s, b, &c)
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	stage := filepath.Join(buildDir, "stages", "01_approach_goal.go")
	data, err := os.ReadFile(stage)
	if err != nil {
		t.Fatalf("read stage file: %v", err)
	}
	if !strings.Contains(string(data), "var distance_threshold float64 = 6.5") {
		t.Fatalf("stage file does not bind the override:\n%s", data)
	}
	final, err := os.ReadFile(filepath.Join(buildDir, "stages", "02_reach_goal.go"))
	if err != nil {
		t.Fatalf("read final stage: %v", err)
	}
	if !strings.Contains(string(final), "math.Inf(1)") {
		t.Fatalf("null override must bind +Inf:\n%s", final)
	}

	loaded, ok, err := ReadCurriculum(baseDir, b.ID)
	if err != nil || !ok {
		t.Fatalf("read curriculum: ok=%v err=%v", ok, err)
	}
	if loaded.Fingerprint != c.Fingerprint || len(loaded.Stages) != 2 {
		t.Fatalf("unexpected curriculum: %+v", loaded)
	}

	exported, err := ExportBuildArtifacts(baseDir, b.ID, outDir)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	for _, file := range []string{"build.json", "curriculum.json", filepath.Join("stages", "02_reach_goal.go")} {
		if _, err := os.Stat(filepath.Join(exported, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}
}

func TestWriteFailedBuildHasNoCurriculum(t *testing.T) {
	baseDir := t.TempDir()
	s, b, _ := fixture(t)
	b.Status = model.BuildFailed
	b.CurriculumID = ""

	if _, err := WriteCurriculumArtifacts(baseDir, s, b, nil); err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	if _, ok, err := ReadCurriculum(baseDir, b.ID); err != nil || ok {
		t.Fatalf("expected no curriculum, ok=%v err=%v", ok, err)
	}
	got, ok, err := ReadBuild(baseDir, b.ID)
	if err != nil || !ok || got.Status != model.BuildFailed {
		t.Fatalf("unexpected build: %+v ok=%v err=%v", got, ok, err)
	}
}

func TestBuildIndexNewestFirstAndReplaces(t *testing.T) {
	baseDir := t.TempDir()
	entries := []BuildIndexEntry{
		{BuildID: "a", CreatedAtUTC: "2026-01-01T00:00:00Z", Status: "running"},
		{BuildID: "b", CreatedAtUTC: "2026-01-02T00:00:00Z", Status: "succeeded"},
		{BuildID: "a", CreatedAtUTC: "2026-01-01T00:00:00Z", Status: "failed"},
	}
	for _, e := range entries {
		if err := AppendBuildIndex(baseDir, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	index, err := ListBuildIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(index) != 2 || index[0].BuildID != "b" || index[1].Status != "failed" {
		t.Fatalf("unexpected index: %+v", index)
	}
}

func TestExportMissingBuild(t *testing.T) {
	if _, err := ExportBuildArtifacts(t.TempDir(), "nope", t.TempDir()); err == nil {
		t.Fatal("expected error for missing build")
	}
}
