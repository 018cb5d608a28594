// Package sqlstore implements the ledger on database/sql with goqu-built
// queries. The same code serves Postgres and SQLite; only the goqu dialect
// and the embedded migrations differ.
package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // register dialect
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // register dialect
	"github.com/pkg/errors"

	"chunkledger/pkg/ledger"
)

// Dialect names a goqu SQL dialect.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

const defaultRemoveBatchSize = 500

var (
	filesTable   = goqu.T("files_to_process")
	chunksTable  = goqu.T("chunk_registry")
	historyTable = goqu.T("upload_history")
	surveysTable = goqu.T("surveys")
	lockTable    = goqu.T("run_lock")
)

// Compile-time contract assertion.
var _ ledger.Store = (*Store)(nil)

// Store is a ledger.Store over a *sql.DB.
type Store struct {
	db              *sql.DB
	gdb             *goqu.Database
	dialect         Dialect
	now             func() time.Time
	removeBatchSize int
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source, used for created_at and lease expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRemoveBatchSize bounds the number of ids per queue delete statement.
func WithRemoveBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.removeBatchSize = n
		}
	}
}

// New wraps an open database. The schema is not touched until Migrate is called.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{
		db:              db,
		gdb:             goqu.New(string(dialect), db),
		dialect:         dialect,
		now:             time.Now,
		removeBatchSize: defaultRemoveBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports the SQL dialect in use.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) unixNow() int64 { return s.now().UTC().Unix() }

func fromUnix(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

// withTx runs fn in a transaction, rolling back when fn fails.
func (s *Store) withTx(ctx context.Context, fn func(tx *goqu.TxDatabase) error) (retErr error) {
	tx, err := s.gdb.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "rows affected")
}
