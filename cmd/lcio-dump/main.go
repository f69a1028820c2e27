// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// lcio-dump decodes and displays Timepix3 frames embedded in LCIO files.
//
// Usage: lcio-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> lcio-dump -hits ./run.slcio
//	=== run 42 (chip=H6-W0007, format=f_toa_tot) ===
//	=== frame 0 ===
//	Start:       1000000
//	End:         1100000
//	Sent:              3
//	Lost:              0
//	Hits:              3
//	  x=118 y= 12 toa=      1023 ftoa= 4 tot=  12 hits=0 events=0 itot=0
//	  x=119 y= 12 toa=      1024 ftoa= 1 tot=  31 hits=0 events=0 itot=0
//	[...]
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/katherine/internal/xlcio"
	"go-hep.org/x/hep/lcio"
)

const usage = `lcio-dump decodes and displays Timepix3 frames embedded in LCIO files.

Usage: lcio-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> lcio-dump -hits ./run.slcio
 === run 42 (chip=H6-W0007, format=f_toa_tot) ===
 === frame 0 ===
 Start:       1000000
 End:         1100000
 Sent:              3
 Lost:              0
 Hits:              3
   x=118 y= 12 toa=      1023 ftoa= 4 tot=  12 hits=0 events=0 itot=0
   x=119 y= 12 toa=      1024 ftoa= 1 tot=  31 hits=0 events=0 itot=0
 [...]

`

func main() {
	xmain(os.Stdout, os.Args[1:])
}

func xmain(w io.Writer, args []string) {
	log.SetPrefix("lcio-dump: ")
	log.SetFlags(0)

	var (
		fset = flag.NewFlagSet("lcio", flag.ExitOnError)

		hits = fset.Bool("hits", false, "display hits of each frame")
	)

	fset.Usage = func() {
		fmt.Print(usage)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		log.Fatalf("could not parse input arguments: %+v", err)
	}

	if fset.NArg() == 0 {
		fset.Usage()
		log.Fatalf("missing path to input LCIO file")
	}

	for _, fname := range fset.Args() {
		err := process(w, fname, *hits)
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

func process(w io.Writer, fname string, hits bool) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	r, err := lcio.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open LCIO file: %w", err)
	}
	defer r.Close()

	hdr := false
	for r.Next() {
		evt := r.Event()
		if !hdr {
			rhdr := r.RunHeader()
			fmt.Fprintf(wbuf, "=== run %d (chip=%s, format=%s) ===\n",
				rhdr.RunNumber, param(rhdr.Params, "ChipID"), param(rhdr.Params, "Format"),
			)
			hdr = true
		}

		f, err := xlcio.ReadFrame(&evt)
		if err != nil {
			return fmt.Errorf("could not decode frame %d: %w", evt.EventNumber, err)
		}
		fmt.Fprintf(wbuf, "=== frame %d ===\n", f.Index)
		fmt.Fprintf(wbuf, "Start: %13d\n", f.StartTime)
		fmt.Fprintf(wbuf, "End:   %13d\n", f.EndTime)
		fmt.Fprintf(wbuf, "Sent:  %13d\n", f.Sent)
		fmt.Fprintf(wbuf, "Lost:  %13d\n", f.Lost)
		fmt.Fprintf(wbuf, "Hits:  %13d\n", len(f.Hits))

		if !hits {
			continue
		}
		for _, h := range f.Hits {
			fmt.Fprintf(wbuf, "  x=%3d y=%3d toa=%10d ftoa=%2d tot=%4d hits=%d events=%d itot=%d\n",
				h.X, h.Y, h.ToA, h.FToA, h.ToT, h.HitCount, h.EventCount, h.IntegralToT,
			)
		}
	}

	err = r.Err()
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("could not read LCIO file: %w", err)
	}

	return nil
}

func param(ps lcio.Params, key string) string {
	vs := ps.Strings[key]
	if len(vs) == 0 {
		return "N/A"
	}
	return vs[0]
}
