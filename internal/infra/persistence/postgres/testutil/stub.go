// Package testutil provides a stub database/sql driver for postgres provider
// tests. It understands just enough SQL to keep rows per table: INSERT (with
// ON CONFLICT upserts keyed on the first column), DELETE ... WHERE col=$1 and
// SELECT col, ... FROM table.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
)

// StubConn records statements and keeps rows in memory.
type StubConn struct {
	Execs      []string
	Tables     map[string][]map[string]any
	FailPing   bool
	FailExec   bool
	FailBegin  bool
	FailCommit bool
	FailTables map[string]bool
	RowsErr    error
	Commits    int
	Rollbacks  int
}

var driverSeq atomic.Int64

// NewStubDB registers a fresh driver and returns a sql.DB backed by it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("stubpg%d", driverSeq.Add(1))
	sql.Register(name, stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	db.SetMaxOpenConns(1)
	return db, conn
}

type stubDriver struct{ conn *StubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn; only the context fast paths are supported.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	return stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	verb := strings.ToUpper(strings.Fields(query)[0])
	switch verb {
	case "INSERT":
		table, cols, err := parseInsert(query)
		if err != nil {
			return nil, err
		}
		if c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		if len(cols) != len(args) {
			return nil, fmt.Errorf("column/arg mismatch for %s", table)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = args[i].Value
		}
		if strings.Contains(strings.ToUpper(query), "ON CONFLICT") {
			c.deleteWhere(table, cols[0], row[cols[0]])
		}
		c.Tables[table] = append(c.Tables[table], row)
	case "DELETE":
		table, col, err := parseDelete(query)
		if err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("missing args for delete %s", table)
		}
		c.deleteWhere(table, col, args[0].Value)
	}
	return driver.RowsAffected(1), nil
}

func (c *StubConn) deleteWhere(table, col string, value any) {
	var kept []map[string]any
	for _, row := range c.Tables[table] {
		if row[col] != value {
			kept = append(kept, row)
		}
	}
	c.Tables[table] = kept
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	table, cols, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("query fail for %s", table)
	}
	rows := &stubRows{cols: cols, err: c.RowsErr}
	for _, row := range c.Tables[table] {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		rows.rows = append(rows.rows, vals)
	}
	return rows, nil
}

type stubTx struct{ conn *StubConn }

func (t stubTx) Commit() error {
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	t.conn.Commits++
	return nil
}

func (t stubTx) Rollback() error {
	t.conn.Rollbacks++
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func parseInsert(query string) (string, []string, error) {
	_, rest, ok := strings.Cut(strings.ToLower(query), "into ")
	if !ok {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table, rest, ok := strings.Cut(rest, "(")
	if !ok {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	cols, _, ok := strings.Cut(rest, ")")
	if !ok {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	return strings.TrimSpace(table), splitColumns(cols), nil
}

func parseDelete(query string) (string, string, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	rest, ok := strings.CutPrefix(lower, "delete from ")
	if !ok {
		return "", "", fmt.Errorf("cannot parse delete: %s", query)
	}
	table, where, ok := strings.Cut(rest, " where ")
	if !ok {
		return "", "", fmt.Errorf("cannot parse delete: %s", query)
	}
	col, _, ok := strings.Cut(where, "=")
	if !ok {
		return "", "", fmt.Errorf("cannot parse delete predicate: %s", query)
	}
	return strings.TrimSpace(table), strings.TrimSpace(col), nil
}

func parseSelect(query string) (string, []string, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	rest, ok := strings.CutPrefix(lower, "select ")
	if !ok {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	cols, from, ok := strings.Cut(rest, " from ")
	if !ok || strings.TrimSpace(from) == "" {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	return strings.Fields(from)[0], splitColumns(cols), nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.TrimSpace(part))
	}
	return out
}
