package core

import (
	"context"
	"fmt"
	"time"

	"clonefreq/internal/infra/persistence/memory"
	"clonefreq/internal/infra/persistence/mongo"
	"clonefreq/internal/infra/persistence/postgres"
	"clonefreq/internal/infra/persistence/sqlite"
	"clonefreq/pkg/domain"
)

// StorageDriver identifies a concrete repository implementation.
type StorageDriver string

const (
	StorageMongo    StorageDriver = "mongo"    // document store (default)
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / dry runs)
)

// StorageOptions selects and configures the repository backend.
type StorageOptions struct {
	Driver         StorageDriver
	Mongo          mongo.Options
	SQLitePath     string
	PostgresDSN    string
	ConnectTimeout time.Duration
}

// OpenRepository opens the configured backend. studies lists the collections
// SQL backends create tables for up front.
func OpenRepository(ctx context.Context, opts StorageOptions, studies []domain.Study) (domain.Repository, error) {
	driver := opts.Driver
	if driver == "" {
		driver = StorageMongo
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(ctx, opts.SQLitePath, studies)
	case StoragePostgres:
		return postgres.NewStore(ctx, postgres.Options{DSN: opts.PostgresDSN, ConnectTimeout: opts.ConnectTimeout}, studies)
	case StorageMongo:
		mo := opts.Mongo
		if mo.ConnectTimeout == 0 {
			mo.ConnectTimeout = opts.ConnectTimeout
		}
		return mongo.NewStore(ctx, mo)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
