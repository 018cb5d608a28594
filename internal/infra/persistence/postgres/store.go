// Package postgres opens the ledger on a PostgreSQL server through pgx.
package postgres

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/avast/retry-go"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx"
	"github.com/pkg/errors"

	"chunkledger/internal/infra/persistence/sqlstore"
	"chunkledger/internal/logging"
)

const (
	driverName = "pgx"
	defaultDSN = "postgres://localhost/chunkledger?sslmode=disable"
	pingDelay  = 500 * time.Millisecond
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns int
	// ConnectAttempts bounds the initial ping; zero means a single attempt.
	ConnectAttempts uint
	Store           []sqlstore.Option
}

// Open connects to dsn, or a local default, and waits until the server
// answers a ping.
func Open(ctx context.Context, dsn string, o Options) (*sqlstore.Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	open := sqlOpen
	openMu.Unlock()
	db, err := open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if o.MaxOpenConns > 0 {
		db.SetMaxOpenConns(o.MaxOpenConns)
		db.SetMaxIdleConns(o.MaxOpenConns)
	}
	attempts := o.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}
	err = retry.Do(
		func() error { return db.PingContext(ctx) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(pingDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logging.Warn().Err(err).Uint("attempt", n+1).Msg("postgres not ready")
		}),
	)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return sqlstore.New(db, sqlstore.DialectPostgres, o.Store...), nil
}

// OverrideSQLOpen replaces sql.Open for tests. Call the returned func to restore it.
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
