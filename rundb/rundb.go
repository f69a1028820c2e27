// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rundb records the summary of acquisition runs in a SQL
// database.
//
// MySQL and SQLite3 are supported. MySQL data source names must enable
// parseTime, e.g. "user:pwd@tcp(localhost)/katherine?parseTime=true".
package rundb // import "github.com/go-lpc/katherine/rundb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Run is the summary of an acquisition run.
type Run struct {
	ID      int64
	Start   time.Time
	Stop    time.Time
	Addr    string // address of the readout
	ChipID  string
	Readout string
	Mode    string

	Requested int64 // requested frames
	Completed int64 // completed frames
	State     string
	Dropped   int64 // dropped measurement data records
	Hits      int64
}

// DB exposes convenience methods to record and retrieve runs.
type DB struct {
	db   *sql.DB
	name string
}

const schema = `CREATE TABLE IF NOT EXISTS runs (
	run       BIGINT PRIMARY KEY,
	start     DATETIME NOT NULL,
	stop      DATETIME NOT NULL,
	addr      VARCHAR(64) NOT NULL,
	chip_id   VARCHAR(32) NOT NULL,
	readout   VARCHAR(16) NOT NULL,
	mode      VARCHAR(16) NOT NULL,
	requested BIGINT NOT NULL,
	completed BIGINT NOT NULL,
	state     VARCHAR(16) NOT NULL,
	dropped   BIGINT NOT NULL,
	hits      BIGINT NOT NULL
)`

const columns = "run, start, stop, addr, chip_id, readout, mode, requested, completed, state, dropped, hits"

// Open opens a connection to the runs database, using the named
// database driver ("mysql" or "sqlite3").
func Open(drv, dsn string) (*DB, error) {
	db, err := sql.Open(drv, dsn)
	if err != nil {
		return nil, fmt.Errorf("rundb: could not open %s db: %w", drv, err)
	}

	err = ping(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("rundb: could not ping %s db: %w", drv, err)
	}

	return &DB{db: db, name: drv}, nil
}

func ping(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Init creates the runs table if needed.
func (db *DB) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("rundb: could not create runs table: %w", err)
	}
	return nil
}

// NextID returns the identifier of the next run.
func (db *DB) NextID(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var id sql.NullInt64
	rows, err := db.db.QueryContext(ctx, "SELECT MAX(run) FROM runs")
	if err != nil {
		return 0, fmt.Errorf("rundb: could not query last run id: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("rundb: could not get last run id: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("rundb: could not scan db for last run id: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("rundb: context error while retrieving last run id: %w", err)
	}

	return id.Int64 + 1, nil
}

// Insert records a run.
func (db *DB) Insert(ctx context.Context, run Run) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		"INSERT INTO runs ("+columns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		run.ID, run.Start.UTC(), run.Stop.UTC(), run.Addr, run.ChipID,
		run.Readout, run.Mode, run.Requested, run.Completed,
		run.State, run.Dropped, run.Hits,
	)
	if err != nil {
		return fmt.Errorf("rundb: could not insert run %d: %w", run.ID, err)
	}
	return nil
}

// Last returns the most recent run.
func (db *DB) Last(ctx context.Context) (Run, error) {
	runs, err := db.List(ctx, 1)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, fmt.Errorf("rundb: no run recorded: %w", sql.ErrNoRows)
	}
	return runs[0], nil
}

// List returns the n most recent runs, most recent first.
func (db *DB) List(ctx context.Context, n int) ([]Run, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := db.db.QueryContext(
		ctx,
		"SELECT "+columns+" FROM runs ORDER BY run DESC LIMIT ?", n,
	)
	if err != nil {
		return nil, fmt.Errorf("rundb: could not query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		err = rows.Scan(
			&run.ID, &run.Start, &run.Stop, &run.Addr, &run.ChipID,
			&run.Readout, &run.Mode, &run.Requested, &run.Completed,
			&run.State, &run.Dropped, &run.Hits,
		)
		if err != nil {
			return nil, fmt.Errorf("rundb: could not get run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rundb: could not scan db for runs: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("rundb: context error while retrieving runs: %w", err)
	}

	return runs, nil
}
