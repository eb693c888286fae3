//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteStoreBuildAndCurriculumRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "rewardcraft.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	first := sampleBuild("b1", now)
	if err := store.SaveBuild(ctx, first); err != nil {
		t.Fatalf("save build: %v", err)
	}
	if err := store.SaveBuild(ctx, sampleBuild("b2", now.Add(time.Hour))); err != nil {
		t.Fatalf("save build: %v", err)
	}
	first.Status = "failed"
	if err := store.SaveBuild(ctx, first); err != nil {
		t.Fatalf("upsert build: %v", err)
	}

	loaded, ok, err := store.GetBuild(ctx, "b1")
	if err != nil {
		t.Fatalf("get build: %v", err)
	}
	if !ok || loaded.Status != "failed" {
		t.Fatalf("unexpected build loaded: %+v", loaded)
	}

	list, err := store.ListBuilds(ctx)
	if err != nil {
		t.Fatalf("list builds: %v", err)
	}
	if len(list) != 2 || list[0].ID != "b2" {
		t.Fatalf("expected newest first, got %+v", list)
	}

	if err := store.SaveCurriculum(ctx, sampleCurriculum("c1")); err != nil {
		t.Fatalf("save curriculum: %v", err)
	}
	curriculum, ok, err := store.GetCurriculum(ctx, "c1")
	if err != nil {
		t.Fatalf("get curriculum: %v", err)
	}
	if !ok || curriculum.Fingerprint != "abc" || len(curriculum.Stages) != 1 {
		t.Fatalf("unexpected curriculum loaded: %+v", curriculum)
	}

	if _, ok, err := store.GetCurriculum(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing curriculum, ok=%v err=%v", ok, err)
	}
}

func TestSQLiteStoreRequiresPath(t *testing.T) {
	if err := NewSQLiteStore("").Init(context.Background()); err == nil {
		t.Fatal("expected missing path error")
	}
}
