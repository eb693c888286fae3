package storage

import (
	"errors"
	"fmt"
	"strings"
)

const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
)

var (
	ErrUnsupportedKind   = errors.New("unsupported store kind")
	ErrSQLiteUnavailable = errors.New("sqlite store not compiled in; rebuild with -tags sqlite")
)

// NewStore returns an uninitialised store; callers run Init before use. The
// sqlite kind needs a database path.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindMemory:
		return NewMemoryStore(), nil
	case KindSQLite, "sqlite3":
		if strings.TrimSpace(sqlitePath) == "" {
			return nil, fmt.Errorf("%s store: database path is required", KindSQLite)
		}
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
}

// CloseIfSupported releases stores that hold resources; the memory store has none.
func CloseIfSupported(store Store) error {
	if store == nil {
		return nil
	}
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
