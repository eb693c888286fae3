package artifacts

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"rewardcraft/internal/model"
	"rewardcraft/internal/rewardexec"
)

const (
	buildIndexFile = "build_index.json"
	curriculumFile = "curriculum.json"
	buildFile      = "build.json"
	stagesDir      = "stages"
)

type BuildIndexEntry struct {
	BuildID       string `json:"build_id"`
	EnvironmentID string `json:"environment_id"`
	Status        string `json:"status"`
	Stages        int    `json:"stages"`
	CurriculumID  string `json:"curriculum_id,omitempty"`
	Fingerprint   string `json:"fingerprint,omitempty"`
	CreatedAtUTC  string `json:"created_at_utc"`
}

// WriteCurriculumArtifacts lays a build out under baseDir/<build id>: the
// build record, the curriculum, and one compilable Go file per stage.
func WriteCurriculumArtifacts(baseDir string, s model.EnvironmentSchema, record model.BuildRecord, curriculum *model.Curriculum) (string, error) {
	if record.ID == "" {
		return "", fmt.Errorf("build id is required")
	}

	buildDir := filepath.Join(baseDir, record.ID)
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(buildDir, buildFile), record); err != nil {
		return "", err
	}
	if curriculum == nil {
		return buildDir, nil
	}
	if err := writeJSON(filepath.Join(buildDir, curriculumFile), curriculum); err != nil {
		return "", err
	}

	dir := filepath.Join(buildDir, stagesDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	for _, stage := range curriculum.Stages {
		src, err := rewardexec.PackageSource(s, stage.Reward, stage.Override)
		if err != nil {
			return "", fmt.Errorf("stage %d: %w", stage.Index, err)
		}
		if err := os.WriteFile(filepath.Join(dir, StageFileName(stage)), []byte(src), 0o644); err != nil {
			return "", err
		}
	}
	return buildDir, nil
}

func StageFileName(stage model.Stage) string {
	return fmt.Sprintf("%02d_%s.go", stage.Index+1, stage.Task.Name)
}

func IndexEntry(record model.BuildRecord, curriculum *model.Curriculum) BuildIndexEntry {
	entry := BuildIndexEntry{
		BuildID:       record.ID,
		EnvironmentID: record.EnvironmentID,
		Status:        string(record.Status),
		CurriculumID:  record.CurriculumID,
		CreatedAtUTC:  record.CreatedAtUTC.UTC().Format("2006-01-02T15:04:05.000000000Z"),
	}
	if curriculum != nil {
		entry.Stages = len(curriculum.Stages)
		entry.Fingerprint = curriculum.Fingerprint
	}
	return entry
}

func AppendBuildIndex(baseDir string, entry BuildIndexEntry) error {
	if entry.BuildID == "" {
		return fmt.Errorf("build id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListBuildIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].BuildID == entry.BuildID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, buildIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, buildIndexFile), index)
}

// ListBuildIndex returns the index newest first.
func ListBuildIndex(baseDir string) ([]BuildIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, buildIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []BuildIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []BuildIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry BuildIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Later appends win ties.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]BuildIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ReadCurriculum(baseDir, buildID string) (model.Curriculum, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, buildID, curriculumFile))
	if err != nil {
		if os.IsNotExist(err) {
			return model.Curriculum{}, false, nil
		}
		return model.Curriculum{}, false, err
	}
	var c model.Curriculum
	if err := json.Unmarshal(data, &c); err != nil {
		return model.Curriculum{}, false, err
	}
	return c, true, nil
}

func ReadBuild(baseDir, buildID string) (model.BuildRecord, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, buildID, buildFile))
	if err != nil {
		if os.IsNotExist(err) {
			return model.BuildRecord{}, false, nil
		}
		return model.BuildRecord{}, false, err
	}
	var b model.BuildRecord
	if err := json.Unmarshal(data, &b); err != nil {
		return model.BuildRecord{}, false, err
	}
	return b, true, nil
}

// ExportBuildArtifacts copies a build directory, stage files included, to outDir/<build id>.
func ExportBuildArtifacts(baseDir, buildID, outDir string) (string, error) {
	if buildID == "" {
		return "", fmt.Errorf("build id is required")
	}

	src := filepath.Join(baseDir, buildID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}
	dst := filepath.Join(outDir, buildID)

	err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
	if err != nil {
		return "", err
	}
	return dst, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
