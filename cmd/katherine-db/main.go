// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command katherine-db displays the most recent runs recorded in a run
// database.
//
// Usage: katherine-db [OPTIONS]
//
// Example:
//
//	$> katherine-db -db-driver sqlite3 -db-dsn ./runs.db -n 2
//	run=042 start=2026-10-19T10:21:12Z chip=H6-W0007 mode=toa-tot frames=10/10 state=succeeded hits=123456 dropped=0
//	run=041 start=2026-10-19T10:02:45Z chip=H6-W0007 mode=toa-tot frames=3/10 state=aborted hits=34567 dropped=0
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-lpc/katherine/rundb"
)

func main() {
	log.SetPrefix("katherine-db: ")
	log.SetFlags(0)

	var (
		drv    = flag.String("db-driver", "sqlite3", "run database driver (sqlite3, mysql)")
		dsn    = flag.String("db-dsn", "katherine.db", "run database data source name")
		n      = flag.Int("n", 10, "number of runs to display")
		doInit = flag.Bool("init", false, "create the runs table if needed")
	)

	flag.Parse()

	db, err := rundb.Open(*drv, *dsn)
	if err != nil {
		log.Fatalf("could not open run db: %+v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if *doInit {
		err = db.Init(ctx)
		if err != nil {
			log.Fatalf("could not initialize run db: %+v", err)
		}
	}

	err = doQuery(ctx, os.Stdout, db, *n)
	if err != nil {
		log.Fatalf("could not do query: %+v", err)
	}
}

func doQuery(ctx context.Context, w io.Writer, db *rundb.DB, n int) error {
	runs, err := db.List(ctx, n)
	if err != nil {
		return fmt.Errorf("could not list runs: %w", err)
	}
	if len(runs) == 0 {
		log.Printf("no run recorded")
		return nil
	}

	for _, run := range runs {
		fmt.Fprintf(w,
			"run=%03d start=%s chip=%s mode=%s frames=%d/%d state=%s hits=%d dropped=%d\n",
			run.ID, run.Start.UTC().Format(time.RFC3339), run.ChipID, run.Mode,
			run.Completed, run.Requested, run.State, run.Hits, run.Dropped,
		)
	}
	return nil
}
