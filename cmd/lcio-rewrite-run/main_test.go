// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-lpc/katherine/internal/xlcio"
	"github.com/go-lpc/katherine/md"
	"go-hep.org/x/hep/lcio"
)

func TestRewrite(t *testing.T) {
	log.SetOutput(io.Discard)
	defer log.SetOutput(os.Stderr)

	var (
		tmp   = t.TempDir()
		iname = filepath.Join(tmp, "in.slcio")
		oname = filepath.Join(tmp, "out.slcio")
	)

	{
		w, err := lcio.Create(iname)
		if err != nil {
			t.Fatalf("could not create input file: %+v", err)
		}
		xw := xlcio.NewWriter(w, 1, md.FormatToAOnly, "B6-W0006")
		for i := 0; i < 3; i++ {
			err = xw.WriteFrame(xlcio.Frame{
				Index: i,
				Sent:  1,
				Hits:  []xlcio.Hit{{X: uint8(i), Y: 2, ToA: 3, HitCount: 1}},
			})
			if err != nil {
				t.Fatalf("could not write frame %d: %+v", i, err)
			}
		}
		err = w.Close()
		if err != nil {
			t.Fatalf("could not close input file: %+v", err)
		}
	}

	r, err := lcio.Open(iname)
	if err != nil {
		t.Fatalf("could not open input file: %+v", err)
	}
	defer r.Close()

	w, err := lcio.Create(oname)
	if err != nil {
		t.Fatalf("could not create output file: %+v", err)
	}
	defer w.Close()

	n, err := rewrite(w, r, 1234, "H6-W0007")
	if err != nil {
		t.Fatalf("could not rewrite: %+v", err)
	}
	if got, want := n, (stats{frames: 3, hits: 3}); got != want {
		t.Fatalf("invalid stats: got=%+v, want=%+v", got, want)
	}

	err = w.Close()
	if err != nil {
		t.Fatalf("could not close output file: %+v", err)
	}

	o, err := lcio.Open(oname)
	if err != nil {
		t.Fatalf("could not open output file: %+v", err)
	}
	defer o.Close()

	i := 0
	for o.Next() {
		evt := o.Event()
		if got, want := evt.RunNumber, int32(1234); got != want {
			t.Fatalf("invalid run number: got=%d, want=%d", got, want)
		}
		if i == 0 {
			rhdr := o.RunHeader()
			if got, want := rhdr.RunNumber, int32(1234); got != want {
				t.Fatalf("invalid run header number: got=%d, want=%d", got, want)
			}
			if got, want := rhdr.Params.Strings["ChipID"][0], "H6-W0007"; got != want {
				t.Fatalf("invalid chip id: got=%q, want=%q", got, want)
			}
			if got, want := rhdr.Params.Strings["Format"][0], "toa_only"; got != want {
				t.Fatalf("invalid format: got=%q, want=%q", got, want)
			}
		}
		i++
	}
	if got, want := i, 3; got != want {
		t.Fatalf("invalid number of frames: got=%d, want=%d", got, want)
	}
}
