// Package postgres provides a Postgres-backed repository using pgx through
// database/sql and sqlx. Queries are shared with the SQLite backend.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"clonefreq/internal/infra/persistence/sqlstore"
	"clonefreq/internal/schema/sqlbundle"
	"clonefreq/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/jmoiron/sqlx"
)

// Driver is the storage driver name reported by the Postgres repository.
const Driver = "postgres"

const (
	defaultDriver = "pgx"
	// Default DSN targets a local server and the database name used by the
	// document store deployment.
	defaultDSN            = "postgres://localhost/immds?sslmode=disable"
	defaultConnectTimeout = 10 * time.Second
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Options tunes the connection pool.
type Options struct {
	DSN            string
	ConnectTimeout time.Duration
	MaxOpenConns   int
}

// Store is the shared SQL repository opened on a Postgres pool.
type Store struct {
	*sqlstore.Store
}

// NewStore opens a pool, pings it within the connect timeout and applies the
// relation DDL plus the tables of the supplied studies.
func NewStore(ctx context.Context, opts Options, studies []domain.Study) (*Store, error) {
	dsn := opts.DSN
	if dsn == "" {
		dsn = defaultDSN
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	openMu.Lock()
	raw, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, &domain.ConnectionError{Driver: Driver, Err: fmt.Errorf("open postgres: %w", err)}
	}
	if opts.MaxOpenConns > 0 {
		raw.SetMaxOpenConns(opts.MaxOpenConns)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := raw.PingContext(pingCtx); err != nil {
		_ = raw.Close()
		return nil, &domain.ConnectionError{Driver: Driver, Err: fmt.Errorf("ping postgres: %w", err)}
	}
	inner, err := sqlstore.New(ctx, sqlx.NewDb(raw, defaultDriver), sqlbundle.DialectPostgres, Driver, studies)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Store{Store: inner}, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
