// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command katherine-find scans a range of IPv4 addresses for Katherine
// readouts.
//
// Usage: katherine-find [OPTIONS] [RANGE]
//
// Example:
//
//	$> katherine-find 192.168.1.100-200
//	Found device: 192.168.1.157,	 chip id: H6-W0007
package main // import "github.com/go-lpc/katherine/cmd/katherine-find"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/go-lpc/katherine/discover"
	"golang.org/x/time/rate"
)

const usage = `katherine-find scans a range of IPv4 addresses for Katherine readouts.

Usage: katherine-find [OPTIONS] [RANGE]

A range is an IPv4 address where each octet may be a dash-separated
interval. The default range is 192.168.1.100-200.

Example:

 $> katherine-find
 $> katherine-find 192.168.1-2.100-200

options:
`

func main() {
	log.SetPrefix("katherine-find: ")
	log.SetFlags(0)

	var (
		freq = flag.Float64("rate", 100, "maximum number of probes per second")
	)

	flag.Usage = func() {
		fmt.Print(usage)
		flag.PrintDefaults()
	}

	flag.Parse()

	r := discover.DefaultRange
	switch flag.NArg() {
	case 0:
	case 1:
		v, err := discover.ParseRange(flag.Arg(0))
		if err != nil {
			flag.Usage()
			log.Fatalf("invalid address range: %+v", err)
		}
		r = v
	default:
		flag.Usage()
		log.Fatalf("too many arguments")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	n, err := find(ctx, os.Stdout, r, rate.Limit(*freq))
	if err != nil {
		log.Fatalf("could not scan %v: %+v", r, err)
	}
	if n == 0 {
		log.Printf("no device found in %v", r)
	}
}

func find(ctx context.Context, w io.Writer, r discover.Range, lim rate.Limit, opts ...discover.Option) (int, error) {
	log.Printf("scanning %d addresses in %v...", r.Len(), r)
	found, err := discover.Scan(ctx, r, append([]discover.Option{
		discover.WithRate(lim),
		discover.WithFound(func(f discover.Found) {
			fmt.Fprintf(w, "Found device: %s,\t chip id: %s\n", f.Addr, f.ChipID)
		}),
	}, opts...)...)
	return len(found), err
}
