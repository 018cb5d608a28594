// Package testutil provides a fake postgres connection for ledger tests that
// need no server. It understands just enough SQL to run migrations: it
// records every statement, tracks applied schema versions transactionally
// and answers the schema version query.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Phase names a driver call that can be made to fail.
type Phase string

const (
	PhasePing   Phase = "ping"
	PhaseExec   Phase = "exec"
	PhaseBegin  Phase = "begin"
	PhaseCommit Phase = "commit"
	PhaseQuery  Phase = "query"
)

// FakeConn is the single connection behind a fake *sql.DB.
type FakeConn struct {
	mu        sync.Mutex
	execs     []string
	versions  []int64
	pending   []int64
	inTx      bool
	rollbacks int
	fail      map[Phase]error
	failOn    map[string]error
}

var fakeSeq atomic.Int64

// NewStubDB registers a driver under a fresh name and opens a *sql.DB on it.
func NewStubDB() (*sql.DB, *FakeConn) {
	conn := &FakeConn{fail: make(map[Phase]error), failOn: make(map[string]error)}
	name := fmt.Sprintf("fakepg%d", fakeSeq.Add(1))
	sql.Register(name, fakeDriver{conn: conn})
	db, err := sql.Open(name, "fake")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Fail makes every call of phase return err. A nil err clears it.
func (c *FakeConn) Fail(phase Phase, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.fail, phase)
		return
	}
	c.fail[phase] = err
}

// FailExecContaining makes statements containing substr fail with err.
func (c *FakeConn) FailExecContaining(substr string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failOn[substr] = err
}

// Execs returns the statements executed so far.
func (c *FakeConn) Execs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.execs...)
}

// Versions returns the committed schema_migrations versions in insert order.
func (c *FakeConn) Versions() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.versions...)
}

// Rollbacks counts rolled back transactions.
func (c *FakeConn) Rollbacks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollbacks
}

type fakeDriver struct{ conn *FakeConn }

func (d fakeDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn. Statements go through the context
// interfaces, so prepared statements are never needed.
func (c *FakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("fake postgres: prepare not supported")
}

// Close implements driver.Conn.
func (c *FakeConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *FakeConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *FakeConn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fail[PhasePing]
}

// BeginTx implements driver.ConnBeginTx.
func (c *FakeConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail[PhaseBegin]; err != nil {
		return nil, err
	}
	c.inTx, c.pending = true, nil
	return fakeTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext. Inserts into
// schema_migrations record a version; everything else is only logged.
func (c *FakeConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, query)
	if err := c.fail[PhaseExec]; err != nil {
		return nil, err
	}
	for substr, err := range c.failOn {
		if strings.Contains(query, substr) {
			return nil, err
		}
	}
	if !isMigrationInsert(query) {
		return driver.RowsAffected(0), nil
	}
	v, err := versionArg(query, args)
	if err != nil {
		return nil, err
	}
	if c.inTx {
		c.pending = append(c.pending, v)
	} else {
		c.versions = append(c.versions, v)
	}
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext. Only the schema version
// query is answered.
func (c *FakeConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail[PhaseQuery]; err != nil {
		return nil, err
	}
	lower := strings.ToLower(query)
	if !strings.Contains(lower, "max(") || !strings.Contains(lower, "schema_migrations") {
		return nil, errors.Errorf("fake postgres: unsupported query %q", query)
	}
	var max driver.Value
	if len(args) > 0 {
		max = args[0].Value
	}
	for _, v := range c.versions {
		if cur, ok := max.(int64); !ok || v > cur {
			max = v
		}
	}
	return &fakeRows{cols: []string{"coalesce"}, rows: [][]driver.Value{{max}}}, nil
}

type fakeTx struct{ conn *FakeConn }

func (t fakeTx) Commit() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail[PhaseCommit]; err != nil {
		c.inTx, c.pending = false, nil
		return err
	}
	c.versions = append(c.versions, c.pending...)
	c.inTx, c.pending = false, nil
	return nil
}

func (t fakeTx) Rollback() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTx, c.pending = false, nil
	c.rollbacks++
	return nil
}

type fakeRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *fakeRows) Columns() []string { return r.cols }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func isMigrationInsert(query string) bool {
	up := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(up, "INSERT INTO") && strings.Contains(strings.ToLower(query), "schema_migrations")
}

// versionArg finds the bound value of the version column.
func versionArg(query string, args []driver.NamedValue) (int64, error) {
	open, closeIdx := strings.Index(query, "("), strings.Index(query, ")")
	if open == -1 || closeIdx <= open {
		return 0, errors.Errorf("fake postgres: cannot parse insert %q", query)
	}
	for i, col := range strings.Split(query[open+1:closeIdx], ",") {
		if strings.Trim(strings.TrimSpace(col), `"`) != "version" {
			continue
		}
		if i >= len(args) {
			return 0, errors.Errorf("fake postgres: missing argument for version in %q", query)
		}
		switch v := args[i].Value.(type) {
		case int64:
			return v, nil
		default:
			return 0, errors.Errorf("fake postgres: version has type %T", v)
		}
	}
	return 0, errors.Errorf("fake postgres: no version column in %q", query)
}
