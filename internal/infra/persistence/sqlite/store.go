// Package sqlite provides a file-backed repository on the pure-Go SQLite driver.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"clonefreq/internal/infra/persistence/sqlstore"
	"clonefreq/internal/schema/sqlbundle"
	"clonefreq/pkg/domain"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Driver is the storage driver name reported by the SQLite repository.
const Driver = "sqlite"

const defaultPath = "clonefreq.db"

// Store is the shared SQL repository opened on a SQLite file.
type Store struct {
	*sqlstore.Store
	path string
}

// NewStore opens (creating when needed) the database at path and ensures the
// tables of the supplied studies exist.
func NewStore(ctx context.Context, path string, studies []domain.Study) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, &domain.ConnectionError{Driver: Driver, Err: err}
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY under
	// concurrent batches.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &domain.ConnectionError{Driver: Driver, Err: err}
	}
	inner, err := sqlstore.New(ctx, db, sqlbundle.DialectSQLite, Driver, studies)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner, path: path}, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }
