// Package core wires the ledger, the object store and the pipeline into the
// operations exposed by the chunkledger commands.
package core

import (
	"context"

	"github.com/pkg/errors"

	"chunkledger/internal/config"
	"chunkledger/internal/infra/persistence/postgres"
	"chunkledger/internal/infra/persistence/sqlite"
	"chunkledger/internal/infra/persistence/sqlstore"
	"chunkledger/pkg/ledger"
)

// StorageDriver identifies a concrete ledger backend.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory sqlite (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenLedger selects a ledger backend from the ledger configuration section.
// Defaults to sqlite when the driver is unset.
//
//	driver: memory|sqlite|postgres
//	sqlite_path: path to the sqlite file when driver=sqlite
//	postgres_dsn: DSN when driver=postgres
//	auto_migrate: apply pending migrations after connecting
func OpenLedger(ctx context.Context, cfg config.LedgerConfig, opts ...sqlstore.Option) (ledger.Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = string(StorageSQLite)
	}
	var (
		store *sqlstore.Store
		err   error
	)
	switch StorageDriver(driver) {
	case StorageMemory:
		store, err = sqlite.OpenMemory(opts...)
	case StorageSQLite:
		store, err = sqlite.Open(cfg.SQLitePath, opts...)
	case StoragePostgres:
		store, err = postgres.Open(ctx, cfg.PostgresDSN, postgres.Options{
			MaxOpenConns:    cfg.MaxOpenConns,
			ConnectAttempts: cfg.ConnectAttempts,
			Store:           opts,
		})
	default:
		return nil, errors.Errorf("unknown storage driver %s", driver)
	}
	if err != nil {
		return nil, err
	}
	// An in-memory ledger is useless without its schema.
	if cfg.AutoMigrate || StorageDriver(driver) == StorageMemory {
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}
