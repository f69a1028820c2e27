// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command katherine-run runs an acquisition on a Katherine readout.
//
// Usage: katherine-run [OPTIONS]
//
// Example:
//
//	$> katherine-run -cfg ./run.toml -frames 10 -o run.slcio
//	katherine-run: chip id: H6-W0007
//	katherine-run: frame 0: pixels=1234 (sent=1234, lost=0), duration=1.0012s
//	[...]
//	katherine-run: state:      succeeded
//	katherine-run: frames:     10/10
package main // import "github.com/go-lpc/katherine/cmd/katherine-run"

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/katherine"
	"github.com/go-lpc/katherine/acq"
	"github.com/go-lpc/katherine/config"
	"github.com/go-lpc/katherine/device"
	"github.com/go-lpc/katherine/internal/xlcio"
	"github.com/go-lpc/katherine/md"
	"github.com/go-lpc/katherine/pxcfg"
	"github.com/go-lpc/katherine/rundb"
	"github.com/sbinet/pmon"
	"go-hep.org/x/hep/lcio"
	"golang.org/x/sync/errgroup"
	mail "gopkg.in/gomail.v2"
)

var msg = log.New(os.Stdout, "katherine-run: ", 0)

const usage = `katherine-run runs an acquisition on a Katherine readout.

Usage: katherine-run [OPTIONS]

Example:

 $> katherine-run -cfg ./run.toml -frames 10 -o run.slcio
 $> katherine-run -addr 192.168.1.157 -t 500ms -raw run.md

options:
`

type options struct {
	lcio string // path to output LCIO file
	raw  string // path to output raw measurement data file

	pmon bool
	freq time.Duration

	db *rundb.DB
}

func main() {
	var (
		fname  = flag.String("cfg", "", "path to run file (TOML or YAML)")
		addr   = flag.String("addr", "", "IPv4 address of the readout (overrides run file)")
		bmc    = flag.String("bmc", "", "path to BMC pixel configuration file (overrides run file)")
		frames = flag.Int("frames", 0, "number of frames to acquire (overrides run file)")
		acqt   = flag.Duration("t", 0, "acquisition time of a frame (overrides run file)")
		oname  = flag.String("o", "", "path to output LCIO file")
		rname  = flag.String("raw", "", "path to output raw measurement data file (disables decoding)")
		doMon  = flag.Bool("pmon", false, "enable pmon monitoring")
		doFreq = flag.Duration("freq", 1*time.Second, "pmon frequency")
		dbDrv  = flag.String("db-driver", "", "run database driver (mysql or sqlite3)")
		dbDSN  = flag.String("db-dsn", "", "run database data source name")
		doMail = flag.Bool("mail", false, "send a mail alert when the run did not succeed")
	)

	flag.Usage = func() {
		fmt.Print(usage)
		flag.PrintDefaults()
	}

	flag.Parse()

	if v, _ := katherine.Version(); v != "" {
		msg.Printf("version: %s", v)
	}

	file, err := loadFile(*fname, *addr, *bmc, *frames, *acqt)
	if err != nil {
		msg.Fatalf("could not setup run: %+v", err)
	}

	opts := options{
		lcio: *oname,
		raw:  *rname,
		pmon: *doMon,
		freq: *doFreq,
	}

	if *dbDrv != "" {
		db, err := rundb.Open(*dbDrv, *dbDSN)
		if err != nil {
			msg.Fatalf("could not open run database: %+v", err)
		}
		defer db.Close()

		err = db.Init(context.Background())
		if err != nil {
			msg.Fatalf("could not initialize run database: %+v", err)
		}
		opts.db = db
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	sum, err := run(file, opts, stop)
	if err != nil {
		msg.Printf("could not run acquisition: %+v", err)
	}

	if *doMail && (err != nil || sum.State != acq.Succeeded.String()) {
		alertMail(sum, err)
	}

	if err != nil {
		os.Exit(1)
	}
}

func loadFile(fname, addr, bmc string, frames int, acqt time.Duration) (config.File, error) {
	file := config.DefaultFile()
	if fname != "" {
		var err error
		file, err = config.Load(fname)
		if err != nil {
			return file, fmt.Errorf("could not load run file: %w", err)
		}
	}

	if addr != "" {
		file.Device.Addr = addr
	}
	if bmc != "" {
		px, err := pxcfg.LoadBMCFile(bmc)
		if err != nil {
			return file, fmt.Errorf("could not load pixel configuration: %w", err)
		}
		file.Detector.PixelConfig = px
		file.Pixels = config.Pixels{BMC: bmc}
	}
	if frames > 0 {
		file.Detector.NoFrames = frames
		if frames > 1 {
			file.Acquisition.Readout = device.ReadoutSequential.String()
		}
	}
	if acqt > 0 {
		file.Detector.AcqTime = acqt
	}

	err := file.Validate()
	if err != nil {
		return file, fmt.Errorf("invalid run setup: %w", err)
	}
	return file, nil
}

func run(file config.File, opts options, stop chan os.Signal) (rundb.Run, error) {
	sum := rundb.Run{
		Addr:      file.Device.Addr,
		ChipID:    "unknown",
		Readout:   file.Acquisition.Readout,
		Mode:      file.Acquisition.Mode,
		Requested: int64(file.Detector.NoFrames),
		State:     acq.NotStarted.String(),
	}

	if opts.pmon {
		p, err := pmon.Monitor(os.Getpid())
		if err != nil {
			return sum, fmt.Errorf("could not start monitoring: %w", err)
		}
		f, err := os.Create("katherine-run-pmon.log")
		if err != nil {
			return sum, fmt.Errorf("could not create pmon log file: %w", err)
		}
		defer f.Close()
		p.W = f
		p.Freq = opts.freq

		go func() {
			err := p.Run()
			if err != nil {
				msg.Printf("could not run pmon: %+v", err)
			}
		}()
		defer func() {
			err := p.Kill()
			if err != nil {
				msg.Printf("could not stop monitoring: %+v", err)
			}
		}()
	}

	setup, err := acq.SetupOf(&file)
	if err != nil {
		return sum, err
	}
	if opts.raw != "" {
		setup.Decode = false
	}

	if opts.db != nil {
		id, err := opts.db.NextID(context.Background())
		if err != nil {
			return sum, fmt.Errorf("could not get run number: %w", err)
		}
		sum.ID = id
	}

	dev, err := device.Dial(file.Device, device.WithLogger(msg))
	if err != nil {
		return sum, fmt.Errorf("could not open readout: %w", err)
	}
	defer dev.Close()

	id, err := dev.ChipID()
	if err != nil {
		msg.Printf("could not read chip id: %+v", err)
	} else {
		sum.ChipID = id
		msg.Printf("chip id: %s", id)
	}

	out, err := newOutput(opts, sum, setup)
	if err != nil {
		return sum, err
	}
	defer out.close()
	out.requested = file.Detector.NoFrames

	r, err := setup.NewRunner(dev, dev.Data(), out.handlers(), acq.WithLogger(msg))
	if err != nil {
		return sum, fmt.Errorf("could not create acquisition: %w", err)
	}

	err = setup.Begin(r, &file.Detector)
	if err != nil {
		return sum, fmt.Errorf("could not begin acquisition: %w", err)
	}
	sum.Start = r.StartTime()

	var (
		grp  errgroup.Group
		done = make(chan struct{})
	)
	grp.Go(func() error {
		defer close(done)
		err := r.Read()
		if errors.Is(err, acq.ErrAborted) {
			return nil
		}
		return err
	})
	grp.Go(func() error {
		select {
		case <-done:
			return nil
		case <-out.finished:
			// raw data is not decoded: end the run once the last frame
			// was received.
			return r.Abort()
		case <-stop:
			msg.Printf("aborting acquisition...")
			return r.Abort()
		}
	})

	err = grp.Wait()
	sum.Stop = time.Now()
	sum.State = r.State().String()
	sum.Completed = int64(r.CompletedFrames())
	if !setup.Decode {
		sum.Completed = int64(out.seen)
	}
	sum.Dropped = int64(r.DroppedRecords())
	sum.Hits = int64(out.hits)

	errOut := out.close()
	summary(msg.Writer(), sum, out)

	if opts.db != nil {
		errDB := opts.db.Insert(context.Background(), sum)
		if errDB != nil {
			msg.Printf("could not record run: %+v", errDB)
		}
	}

	switch {
	case err != nil:
		return sum, fmt.Errorf("could not read acquisition: %w", err)
	case errOut != nil:
		return sum, errOut
	}
	return sum, nil
}

// output dispatches acquired data to the output files.
type output struct {
	lcio *lcio.Writer
	frms *xlcio.Writer
	raw  *os.File
	wraw *bufio.Writer

	frame xlcio.Frame
	hits  int
	bytes int
	err   error

	requested int           // requested frames
	seen      int           // frames seen in raw data
	finished  chan struct{} // closed when all frames were seen in raw data
}

func newOutput(opts options, sum rundb.Run, setup acq.Setup) (*output, error) {
	out := output{finished: make(chan struct{})}

	if opts.lcio != "" {
		w, err := lcio.Create(opts.lcio)
		if err != nil {
			return nil, fmt.Errorf("could not create output LCIO file: %w", err)
		}
		out.lcio = w
		out.frms = xlcio.NewWriter(w, int32(sum.ID), setup.Format, sum.ChipID)
	}

	if opts.raw != "" {
		f, err := os.Create(opts.raw)
		if err != nil {
			_ = out.close()
			return nil, fmt.Errorf("could not create output raw file: %w", err)
		}
		out.raw = f
		out.wraw = bufio.NewWriterSize(f, 1<<20)
	}

	return &out, nil
}

func (out *output) handlers() acq.AnyHandlers {
	return acq.AnyHandlers{
		FrameStarted: func(idx int) {
			out.frame = xlcio.Frame{Index: idx, Hits: out.frame.Hits[:0]}
		},
		FrameEnded: func(idx int, completed bool, info acq.FrameInfo) {
			msg.Printf(
				"frame %d: pixels=%d (sent=%d, lost=%d), duration=%v, completed=%v",
				idx, info.ReceivedPixels, info.SentPixels, info.LostPixels,
				info.EndObserved.Sub(info.StartObserved), completed,
			)
			if out.frms == nil || out.err != nil {
				return
			}
			out.frame.Index = idx
			out.frame.StartTime = uint64(info.StartTime)
			out.frame.EndTime = uint64(info.EndTime)
			out.frame.Sent = info.SentPixels
			out.frame.Lost = info.LostPixels
			out.err = out.frms.WriteFrame(out.frame)
		},
		PixelsReceived: func(ps any) {
			n := len(out.frame.Hits)
			out.frame.Hits = xlcio.AppendPixels(out.frame.Hits, ps)
			out.hits += len(out.frame.Hits) - n
			if out.frms == nil {
				out.frame.Hits = out.frame.Hits[:0]
			}
		},
		DataReceived: func(p []byte) {
			out.bytes += len(p)
			out.scan(p)
			if out.wraw == nil || out.err != nil {
				return
			}
			_, out.err = out.wraw.Write(p)
		},
	}
}

// scan counts the frames finished in a raw datagram.
func (out *output) scan(p []byte) {
	for ; len(p) >= md.Size; p = p[md.Size:] {
		if md.NewRecord(p).Header() != md.HeaderFrameFinished {
			continue
		}
		out.seen++
		if out.seen == out.requested {
			close(out.finished)
		}
	}
}

func (out *output) close() error {
	err := out.err
	if out.wraw != nil {
		if e := out.wraw.Flush(); e != nil && err == nil {
			err = fmt.Errorf("could not flush output raw file: %w", e)
		}
		out.wraw = nil
	}
	if out.raw != nil {
		if e := out.raw.Close(); e != nil && err == nil {
			err = fmt.Errorf("could not close output raw file: %w", e)
		}
		out.raw = nil
	}
	if out.lcio != nil {
		if e := out.lcio.Close(); e != nil && err == nil {
			err = fmt.Errorf("could not close output LCIO file: %w", e)
		}
		out.lcio = nil
		out.frms = nil
	}
	return err
}

func summary(w io.Writer, sum rundb.Run, out *output) {
	dt := sum.Stop.Sub(sum.Start)
	fmt.Fprintf(w, "katherine-run: state:      %s\n", sum.State)
	fmt.Fprintf(w, "katherine-run: frames:     %d/%d\n", sum.Completed, sum.Requested)
	fmt.Fprintf(w, "katherine-run: dropped:    %d\n", sum.Dropped)
	fmt.Fprintf(w, "katherine-run: duration:   %v\n", dt)
	if out.bytes > 0 {
		fmt.Fprintf(w, "katherine-run: raw data:   %d bytes\n", out.bytes)
	}
	fmt.Fprintf(w, "katherine-run: hits:       %d\n", sum.Hits)
	if s := dt.Seconds(); s > 0 {
		fmt.Fprintf(w, "katherine-run: throughput: %.1f hits/s\n", float64(sum.Hits)/s)
	}
}

var (
	alertMailUsr  = os.Getenv("MAIL_USERNAME")
	alertMailPwd  = os.Getenv("MAIL_PASSWORD")
	alertMailSrv  = os.Getenv("MAIL_SERVER")
	alertMailPort = atoi(os.Getenv("MAIL_PORT"))
	alertMailTgts = strings.Split(os.Getenv("MAIL_TGTS"), ",")
)

func alertMail(sum rundb.Run, err error) {
	if alertMailUsr == "" || alertMailPwd == "" ||
		alertMailSrv == "" || alertMailPort == 0 ||
		len(alertMailTgts) == 0 || alertMailTgts[0] == "" {
		msg.Printf("could not send mail alert: missing credentials")
		return
	}

	body := fmt.Sprintf(
		"readout: %s\nchip: %s\nstate: %s\nframes: %d/%d\n",
		sum.Addr, sum.ChipID, sum.State, sum.Completed, sum.Requested,
	)
	if err != nil {
		body += fmt.Sprintf("error: %+v\n", err)
	}

	m := mail.NewMessage()
	m.SetHeader("From", alertMailUsr)
	m.SetHeader("Bcc", alertMailTgts...)
	m.SetHeader("Subject", fmt.Sprintf("[katherine-run] run %d: %s", sum.ID, sum.State))
	m.SetBody("text/plain", body)

	dial := mail.NewDialer(alertMailSrv, alertMailPort, alertMailUsr, alertMailPwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	err = dial.DialAndSend(m)
	if err != nil {
		msg.Printf("could not send mail alert: %+v", err)
	}
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
