package storage

import (
	"context"

	"rewardcraft/internal/model"
)

// Store defines transaction-like persistence operations for builds and the
// curricula they produce.
type Store interface {
	Init(ctx context.Context) error
	SaveBuild(ctx context.Context, build model.BuildRecord) error
	GetBuild(ctx context.Context, id string) (model.BuildRecord, bool, error)
	// ListBuilds returns every build, newest first.
	ListBuilds(ctx context.Context) ([]model.BuildRecord, error)
	SaveCurriculum(ctx context.Context, curriculum model.Curriculum) error
	GetCurriculum(ctx context.Context, id string) (model.Curriculum, bool, error)
}
