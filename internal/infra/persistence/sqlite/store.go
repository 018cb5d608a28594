// Package sqlite opens the ledger on an embedded SQLite database.
package sqlite

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"chunkledger/internal/infra/persistence/sqlstore"
)

const defaultPath = "chunkledger.db"

// Open opens (creating if needed) the SQLite ledger at path.
// The pool is capped at one connection so writers never contend for the file lock.
func Open(path string, opts ...sqlstore.Option) (*sqlstore.Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errors.Wrapf(err, "create directory for %s", path)
	}
	return open(path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", opts...)
}

// OpenMemory opens a private in-memory ledger. It lives as long as the store.
func OpenMemory(opts ...sqlstore.Option) (*sqlstore.Store, error) {
	return open(":memory:?_pragma=foreign_keys(1)", opts...)
}

func open(dsn string, opts ...sqlstore.Option) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}
	return sqlstore.New(db, sqlstore.DialectSQLite, opts...), nil
}
