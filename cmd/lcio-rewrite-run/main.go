// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command lcio-rewrite-run reads a Katherine LCIO file and rewrites its
// run number and, optionally, the chip identifier of its run header.
package main // import "github.com/go-lpc/katherine/cmd/lcio-rewrite-run"

import (
	"compress/flate"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"

	"github.com/go-lpc/katherine/internal/xlcio"
	"go-hep.org/x/hep/lcio"
)

func main() {
	log.SetPrefix("lcio-rewrite: ")
	log.SetFlags(0)

	var (
		runnbr = flag.Int("run", 0, "run number to use for output LCIO file")
		chipID = flag.String("chip", "", "chip identifier to use for output LCIO file (default: keep input one)")
		oname  = flag.String("o", "out.slcio", "path to output rewritten LCIO file")
	)

	flag.Usage = func() {
		fmt.Printf(`Usage: lcio-rewrite-run [OPTIONS] FILE.slcio

ex:
 $> lcio-rewrite-run -o output.slcio -run=1234 -chip=H6-W0007 ./input.slcio
 lcio-rewrite: processing frame 0...
 lcio-rewrite: processing frame 100...
 lcio-rewrite: processed 136 frames (hits=42051)

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing input LCIO file to rewrite")
	}

	r, err := lcio.Open(flag.Arg(0))
	if err != nil {
		log.Fatalf("could not open input LCIO file: %+v", err)
	}
	defer r.Close()

	w, err := lcio.Create(*oname)
	if err != nil {
		log.Fatalf("could not create output LCIO file: %+v", err)
	}
	defer w.Close()

	w.SetCompressionLevel(flate.BestCompression)

	n, err := rewrite(w, r, int32(*runnbr), *chipID)
	if err != nil {
		log.Fatalf("could not rewrite %q: %+v", flag.Arg(0), err)
	}

	err = w.Close()
	if err != nil {
		log.Fatalf("could not close output file: %+v", err)
	}
	log.Printf("processed %d frames (hits=%d)", n.frames, n.hits)
}

type stats struct {
	frames int
	hits   int
}

// rewrite copies all the frames of r to w, with the new run number.
// Each event is checked to hold a Katherine frame.
func rewrite(w *lcio.Writer, r *lcio.Reader, run int32, chipID string) (stats, error) {
	var n stats
	for r.Next() {
		if n.frames == 0 {
			rhdr := r.RunHeader()
			rhdr.RunNumber = run
			if chipID != "" {
				strs := make(map[string][]string, len(rhdr.Params.Strings)+1)
				for k, v := range rhdr.Params.Strings {
					strs[k] = v
				}
				strs["ChipID"] = []string{chipID}
				rhdr.Params.Strings = strs
			}

			err := w.WriteRunHeader(&rhdr)
			if err != nil {
				return n, fmt.Errorf("could not write run header: %w", err)
			}
		}

		evt := r.Event()
		f, err := xlcio.ReadFrame(&evt)
		if err != nil {
			return n, fmt.Errorf("could not read frame from event %d: %w", evt.EventNumber, err)
		}

		evt.RunNumber = run
		if n.frames%100 == 0 {
			log.Printf("processing frame %d...", f.Index)
		}
		err = w.WriteEvent(&evt)
		if err != nil {
			return n, fmt.Errorf("could not write frame %d: %w", f.Index, err)
		}
		n.frames++
		n.hits += len(f.Hits)
	}

	err := r.Err()
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("could not read LCIO file: %w", err)
	}

	return n, nil
}
