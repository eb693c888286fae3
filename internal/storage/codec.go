package storage

import (
	"encoding/json"
	"errors"
	"sort"

	"rewardcraft/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Stamp marks a record with the versions this build of the codec writes.
func Stamp() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeBuild(b model.BuildRecord) ([]byte, error) {
	return json.Marshal(b)
}

func DecodeBuild(data []byte) (model.BuildRecord, error) {
	var build model.BuildRecord
	if err := json.Unmarshal(data, &build); err != nil {
		return model.BuildRecord{}, err
	}
	if err := checkVersion(build.VersionedRecord); err != nil {
		return model.BuildRecord{}, err
	}
	return build, nil
}

func EncodeCurriculum(c model.Curriculum) ([]byte, error) {
	return json.Marshal(c)
}

func DecodeCurriculum(data []byte) (model.Curriculum, error) {
	var curriculum model.Curriculum
	if err := json.Unmarshal(data, &curriculum); err != nil {
		return model.Curriculum{}, err
	}
	if err := checkVersion(curriculum.VersionedRecord); err != nil {
		return model.Curriculum{}, err
	}
	return curriculum, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

func sortNewestFirst(builds []model.BuildRecord) {
	sort.SliceStable(builds, func(i, j int) bool {
		if builds[i].CreatedAtUTC.Equal(builds[j].CreatedAtUTC) {
			return builds[i].ID > builds[j].ID
		}
		return builds[i].CreatedAtUTC.After(builds[j].CreatedAtUTC)
	})
}
