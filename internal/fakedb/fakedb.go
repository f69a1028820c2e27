// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedb holds types to fake an in-memory DB.
//
// Queries return the rows of the current session. Statements executed
// through Exec are recorded in the session.
package fakedb // import "github.com/go-lpc/katherine/internal/fakedb"

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"
)

// Session holds the rows returned by queries and records the executed
// statements.
type Session struct {
	Rows    Rows
	Queries []string
	Execs   []Exec
}

// Exec is a statement executed during a session.
type Exec struct {
	Query string
	Args  []driver.Value
}

var current struct {
	mu   sync.Mutex
	sess *Session
}

// Run runs f with sess as the current session.
func Run(ctx context.Context, sess *Session, f func(ctx context.Context) error) error {
	current.mu.Lock()
	defer current.mu.Unlock()
	current.sess = sess
	defer func() { current.sess = nil }()

	return f(ctx)
}

func session() *Session {
	if current.sess == nil {
		return new(Session)
	}
	return current.sess
}

func init() {
	sql.Register("fakedb", &Driver{})
}

type Driver struct{}

// Open returns a new connection to the database.
func (drv *Driver) Open(name string) (driver.Conn, error) {
	return &Conn{}, nil
}

type Conn struct{}

// Prepare returns a prepared statement, bound to this connection.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &Stmt{query: query}, nil
}

func (c *Conn) Close() error {
	return nil
}

func (c *Conn) Begin() (driver.Tx, error) {
	panic("not implemented")
}

type Stmt struct {
	query string
}

func (stmt *Stmt) Close() error {
	return nil
}

// NumInput returns -1: argument counts are not checked.
func (stmt *Stmt) NumInput() int {
	return -1
}

// Exec records the statement in the current session.
func (stmt *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	sess := session()
	sess.Execs = append(sess.Execs, Exec{
		Query: stmt.query,
		Args:  append([]driver.Value(nil), args...),
	})
	return result{id: int64(len(sess.Execs))}, nil
}

// Query returns the rows of the current session.
func (stmt *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	sess := session()
	sess.Queries = append(sess.Queries, stmt.query)
	return &sess.Rows, nil
}

type result struct {
	id int64
}

func (res result) LastInsertId() (int64, error) { return res.id, nil }
func (res result) RowsAffected() (int64, error) { return 1, nil }

type Rows struct {
	Names  []string
	Values [][]driver.Value
}

// Columns returns the names of the columns.
func (rows *Rows) Columns() []string {
	return rows.Names
}

// Close closes the rows iterator.
func (rows *Rows) Close() error {
	return nil
}

// Next populates dest with the next row.
// It returns io.EOF when there are no more rows.
func (rows *Rows) Next(dest []driver.Value) error {
	if len(rows.Values) == 0 {
		return io.EOF
	}
	copy(dest, rows.Values[0])
	rows.Values = rows.Values[1:]
	return nil
}

var (
	_ driver.Driver = (*Driver)(nil)
	_ driver.Conn   = (*Conn)(nil)
	_ driver.Stmt   = (*Stmt)(nil)
	_ driver.Result = (*result)(nil)
	_ driver.Rows   = (*Rows)(nil)
)
