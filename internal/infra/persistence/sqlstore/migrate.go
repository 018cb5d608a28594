package sqlstore

import (
	"bufio"
	"context"
	"embed"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/pkg/errors"

	"chunkledger/internal/logging"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

type migration struct {
	id   int
	name string
	sql  string
}

var migrationsTable = goqu.T("schema_migrations")

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    applied_at BIGINT NOT NULL
)`

func (d Dialect) migrationDir() string {
	if d == DialectPostgres {
		return "migrations/postgres"
	}
	return "migrations/sqlite"
}

func loadMigrations(d Dialect) ([]migration, error) {
	dir := d.migrationDir()
	entries, err := migrationFS.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", dir)
	}
	var out []migration
	for _, e := range entries {
		id, err := strconv.Atoi(strings.SplitN(e.Name(), "_", 2)[0])
		if err != nil {
			return nil, errors.Wrapf(err, "migration %s has no numeric prefix", e.Name())
		}
		body, err := migrationFS.ReadFile(path.Join(dir, e.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", e.Name())
		}
		out = append(out, migration{id: id, name: e.Name(), sql: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out, nil
}

// LatestVersion is the highest embedded migration for d.
func LatestVersion(d Dialect) (int, error) {
	ms, err := loadMigrations(d)
	if err != nil {
		return 0, err
	}
	if len(ms) == 0 {
		return 0, nil
	}
	return ms[len(ms)-1].id, nil
}

// Migrate applies every pending migration.
func (s *Store) Migrate(ctx context.Context) error {
	latest, err := LatestVersion(s.dialect)
	if err != nil {
		return err
	}
	return s.MigrateTo(ctx, latest)
}

// MigrateTo applies pending migrations up to and including version.
// Each migration runs in its own transaction together with its version row.
func (s *Store) MigrateTo(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return errors.Wrap(err, "create schema_migrations")
	}
	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	ms, err := loadMigrations(s.dialect)
	if err != nil {
		return err
	}
	for _, m := range ms {
		if m.id <= current || m.id > version {
			continue
		}
		err := s.withTx(ctx, func(tx *goqu.TxDatabase) error {
			for _, stmt := range SplitStatements(m.sql) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return errors.Wrapf(err, "migration %s", m.name)
				}
			}
			_, err := tx.Insert(migrationsTable).
				Rows(goqu.Record{"version": m.id, "applied_at": s.unixNow()}).
				Prepared(true).Executor().ExecContext(ctx)
			return errors.Wrapf(err, "record migration %s", m.name)
		})
		if err != nil {
			return err
		}
		logging.Info().Str("migration", m.name).Msg("applied ledger migration")
	}
	return nil
}

// SchemaVersion returns the highest applied migration, 0 for an empty database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	_, err := s.gdb.From(migrationsTable).
		Select(goqu.COALESCE(goqu.MAX("version"), 0)).
		Prepared(true).ScanValContext(ctx, &version)
	if err != nil {
		return 0, errors.Wrap(err, "read schema version")
	}
	return version, nil
}

// SplitStatements splits a semicolon-terminated script into executable statements.
// It drops blank lines and single-line comments that start with "--".
func SplitStatements(script string) []string {
	scanner := bufio.NewScanner(strings.NewReader(script))
	var stmts []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()
	return stmts
}
