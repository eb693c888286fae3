package storage

import (
	"context"
	"errors"
	"sync"

	"rewardcraft/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

// MemoryStore keeps encoded records so callers never share memory with it.
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	builds      map[string][]byte
	curricula   map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.builds = make(map[string][]byte)
	s.curricula = make(map[string][]byte)
	return nil
}

func (s *MemoryStore) SaveBuild(_ context.Context, build model.BuildRecord) error {
	payload, err := EncodeBuild(build)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.builds[build.ID] = payload
	return nil
}

func (s *MemoryStore) GetBuild(_ context.Context, id string) (model.BuildRecord, bool, error) {
	s.mu.RLock()
	payload, ok := s.builds[id]
	s.mu.RUnlock()
	if !ok {
		return model.BuildRecord{}, false, nil
	}
	build, err := DecodeBuild(payload)
	if err != nil {
		return model.BuildRecord{}, false, err
	}
	return build, true, nil
}

func (s *MemoryStore) ListBuilds(_ context.Context) ([]model.BuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	builds := make([]model.BuildRecord, 0, len(s.builds))
	for _, payload := range s.builds {
		build, err := DecodeBuild(payload)
		if err != nil {
			return nil, err
		}
		builds = append(builds, build)
	}
	sortNewestFirst(builds)
	return builds, nil
}

func (s *MemoryStore) SaveCurriculum(_ context.Context, curriculum model.Curriculum) error {
	payload, err := EncodeCurriculum(curriculum)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.curricula[curriculum.ID] = payload
	return nil
}

func (s *MemoryStore) GetCurriculum(_ context.Context, id string) (model.Curriculum, bool, error) {
	s.mu.RLock()
	payload, ok := s.curricula[id]
	s.mu.RUnlock()
	if !ok {
		return model.Curriculum{}, false, nil
	}
	curriculum, err := DecodeCurriculum(payload)
	if err != nil {
		return model.Curriculum{}, false, err
	}
	return curriculum, true, nil
}
