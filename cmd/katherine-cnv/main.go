// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command katherine-cnv converts a raw measurement data file to an LCIO one.
package main // import "github.com/go-lpc/katherine/cmd/katherine-cnv"

import (
	"compress/flate"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/go-lpc/katherine/internal/xlcio"
	"github.com/go-lpc/katherine/md"
	"go-hep.org/x/hep/lcio"
)

var (
	msg = log.New(os.Stdout, "katherine-cnv: ", 0)
)

func main() {
	var (
		oname = flag.String("o", "out.slcio", "path to output LCIO file")
		compr = flag.Int("lvl", flate.DefaultCompression, "compression level for output LCIO file")
		mode  = flag.String("mode", "toa-tot", "acquisition mode of the run (toa-tot, only-toa, event-itot)")
		fast  = flag.Bool("fast-vco", true, "whether the run used the fast VCO clock")
		chip  = flag.String("chip", "", "chip identifier of the detector")
		run   = flag.Int("run", -1, "run number (default: inferred from file name)")
	)

	flag.Usage = func() {
		fmt.Printf(`Usage: katherine-cnv [OPTIONS] file.md

ex:
 $> katherine-cnv -o out.slcio -lvl=9 ./katherine_042.md
 $> katherine-cnv -mode=event-itot -fast-vco=false -run=42 ./input.md

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		msg.Fatalf("missing input raw measurement data file")
	}

	if *oname == "" {
		flag.Usage()
		msg.Fatalf("invalid output LCIO file name")
	}

	m, err := md.ParseMode(*mode)
	if err != nil {
		msg.Fatalf("invalid acquisition mode: %+v", err)
	}

	format, err := md.Select(m, *fast)
	if err != nil {
		msg.Fatalf("could not select pixel format: %+v", err)
	}

	fname := flag.Arg(0)
	if *run < 0 {
		v, err := runNbrFrom(fname)
		if err != nil {
			msg.Fatalf("could not infer run from %q (use -run): %+v", fname, err)
		}
		*run = int(v)
	}

	err = process(*oname, *compr, fname, int32(*run), format, *chip)
	if err != nil {
		msg.Fatalf("could not convert raw file: %+v", err)
	}
}

func process(oname string, lvl int, fname string, run int32, format md.Format, chip string) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open raw file: %w", err)
	}
	defer f.Close()

	w, err := lcio.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create output LCIO file: %w", err)
	}
	defer w.Close()

	w.SetCompressionLevel(lvl)

	n, err := xlcio.Convert(xlcio.NewWriter(w, run, format, chip), f, msg)
	if err != nil {
		return fmt.Errorf("could not convert raw data to LCIO: %w", err)
	}
	msg.Printf("converted %d frames (format=%v)", n, format)

	err = w.Close()
	if err != nil {
		return fmt.Errorf("could not close output LCIO file: %w", err)
	}

	return nil
}

func runNbrFrom(fname string) (int32, error) {
	var (
		name = filepath.Base(fname)
		run  int32
	)
	_, err := fmt.Sscanf(name, "katherine_%d.md", &run)
	return run, err
}
