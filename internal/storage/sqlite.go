//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"rewardcraft/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveBuild(ctx context.Context, build model.BuildRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeBuild(build)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO builds (id, environment_id, status, created_at, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			environment_id = excluded.environment_id,
			status = excluded.status,
			created_at = excluded.created_at,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, build.ID, build.EnvironmentID, string(build.Status), build.CreatedAtUTC.UnixNano(), build.SchemaVersion, build.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetBuild(ctx context.Context, id string) (model.BuildRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.BuildRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM builds WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.BuildRecord{}, false, nil
		}
		return model.BuildRecord{}, false, err
	}

	build, err := DecodeBuild(payload)
	if err != nil {
		return model.BuildRecord{}, false, fmt.Errorf("decode build %s: %w", id, err)
	}
	return build, true, nil
}

func (s *SQLiteStore) ListBuilds(ctx context.Context) ([]model.BuildRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, payload FROM builds`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var builds []model.BuildRecord
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		build, err := DecodeBuild(payload)
		if err != nil {
			return nil, fmt.Errorf("decode build %s: %w", id, err)
		}
		builds = append(builds, build)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortNewestFirst(builds)
	return builds, nil
}

func (s *SQLiteStore) SaveCurriculum(ctx context.Context, curriculum model.Curriculum) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeCurriculum(curriculum)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO curricula (id, environment_id, fingerprint, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			environment_id = excluded.environment_id,
			fingerprint = excluded.fingerprint,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, curriculum.ID, curriculum.EnvironmentID, curriculum.Fingerprint, curriculum.SchemaVersion, curriculum.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetCurriculum(ctx context.Context, id string) (model.Curriculum, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Curriculum{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM curricula WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Curriculum{}, false, nil
		}
		return model.Curriculum{}, false, err
	}

	curriculum, err := DecodeCurriculum(payload)
	if err != nil {
		return model.Curriculum{}, false, fmt.Errorf("decode curriculum %s: %w", id, err)
	}
	return curriculum, true, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS builds (
			id TEXT PRIMARY KEY,
			environment_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS curricula (
			id TEXT PRIMARY KEY,
			environment_id TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
