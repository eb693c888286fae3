//go:build !sqlite

package storage

func newSQLiteStore(string) (Store, error) {
	return nil, ErrSQLiteUnavailable
}
