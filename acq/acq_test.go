// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/go-lpc/katherine/device"
	"github.com/go-lpc/katherine/md"
	"github.com/google/go-cmp/cmp"
)

func TestFrameLifecycle(t *testing.T) {
	acq, ctl, data, rec, clock := newTestAcq()

	err := acq.Begin(testConfig(1), device.ReadoutSequential, md.ModeToATot, false, true)
	if err != nil {
		t.Fatalf("could not begin acquisition: %+v", err)
	}
	if got, want := acq.State(), Running; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if got, want := acq.StartTime(), clock.now(); !got.Equal(want) {
		t.Fatalf("invalid start time: got=%v, want=%v", got, want)
	}

	data.push(md.Make(md.HeaderNewFrame, 0))
	data.push(pixelRecs(3)...)
	data.push(md.Make(md.HeaderFrameFinished, 3))

	err = acq.Read()
	if err != nil {
		t.Fatalf("could not read acquisition: %+v", err)
	}

	if got, want := ctl.cmds, []string{
		"configure(frames=1)",
		"seq-readout-start(sequential)",
		"acq-mode(toa-tot, false)",
		"start(sequential)",
	}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid commands:\ngot= %q\nwant=%q", got, want)
	}

	if got, want := acq.State(), Succeeded; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if got, want := rec.started, []int{0}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid started frames: got=%v, want=%v", got, want)
	}
	if got, want := rec.flushes, []int{3}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid flushes: got=%v, want=%v", got, want)
	}
	want := []md.ToAToT{pixel(0, 0, 0), pixel(1, 2, 1), pixel(2, 4, 2)}
	if diff := cmp.Diff(want, rec.pixels); diff != "" {
		t.Fatalf("invalid pixels (-want +got):\n%s", diff)
	}

	if len(rec.ended) != 1 {
		t.Fatalf("invalid number of ended frames: %d", len(rec.ended))
	}
	end := rec.ended[0]
	if end.idx != 0 || !end.completed {
		t.Fatalf("invalid frame end: idx=%d, completed=%v", end.idx, end.completed)
	}
	if got, want := end.info.ReceivedPixels, uint64(3); got != want {
		t.Fatalf("invalid received pixels: got=%d, want=%d", got, want)
	}
	if got, want := end.info.SentPixels, uint64(3); got != want {
		t.Fatalf("invalid sent pixels: got=%d, want=%d", got, want)
	}
	if got, want := acq.CompletedFrames(), 1; got != want {
		t.Fatalf("invalid completed frames: got=%d, want=%d", got, want)
	}
	if got, want := acq.DroppedRecords(), uint64(0); got != want {
		t.Fatalf("invalid dropped records: got=%d, want=%d", got, want)
	}
}

func TestMultiFrame(t *testing.T) {
	acq, _, data, rec, _ := newTestAcq(WithPixelBuffer(2 * md.FormatToAToT.Size()))

	err := acq.Begin(testConfig(2), device.ReadoutSequential, md.ModeToATot, false, true)
	if err != nil {
		t.Fatalf("could not begin acquisition: %+v", err)
	}

	data.push(md.Make(md.HeaderNewFrame, 0))
	data.push(pixelRecs(5)...)
	data.push(
		md.Make(md.HeaderLostPixels, 2),
		md.Make(md.HeaderLostPixels, 3),
		md.Make(md.HeaderFrameFinished, 10),
		md.Make(md.HeaderNewFrame, 0),
	)
	data.push(pixelRecs(1)...)
	data.push(md.Make(md.HeaderFrameFinished, 1))

	err = acq.Read()
	if err != nil {
		t.Fatalf("could not read acquisition: %+v", err)
	}

	if got, want := rec.started, []int{0, 1}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid started frames: got=%v, want=%v", got, want)
	}
	if got, want := rec.flushes, []int{2, 2, 1, 1}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid flushes: got=%v, want=%v", got, want)
	}
	if len(rec.ended) != 2 {
		t.Fatalf("invalid number of ended frames: %d", len(rec.ended))
	}
	for i, tc := range []struct {
		recv, sent, lost uint64
	}{
		{5, 10, 5},
		{1, 1, 0},
	} {
		info := rec.ended[i].info
		if rec.ended[i].idx != i {
			t.Fatalf("invalid frame index: got=%d, want=%d", rec.ended[i].idx, i)
		}
		if info.ReceivedPixels != tc.recv || info.SentPixels != tc.sent || info.LostPixels != tc.lost {
			t.Fatalf(
				"invalid frame %d: recv=%d, sent=%d, lost=%d, want=%+v",
				i, info.ReceivedPixels, info.SentPixels, info.LostPixels, tc,
			)
		}
	}
}

func TestPixelsBetweenFrames(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts []Option
	}{
		{name: "default-buffer"},
		{name: "one-pixel-buffer", opts: []Option{WithPixelBuffer(md.FormatToAToT.Size())}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			acq, _, data, rec, _ := newTestAcq(tc.opts...)

			err := acq.Begin(testConfig(2), device.ReadoutSequential, md.ModeToATot, false, true)
			if err != nil {
				t.Fatalf("could not begin acquisition: %+v", err)
			}

			data.push(md.Make(md.HeaderNewFrame, 0), md.Make(md.HeaderFrameFinished, 0))
			data.push(pixelRecs(2)...)
			data.push(
				md.Make(md.HeaderNewFrame, 0),
				pixel(9, 9, 9).Record(0),
				md.Make(md.HeaderFrameFinished, 1),
			)

			err = acq.Read()
			if err != nil {
				t.Fatalf("could not read acquisition: %+v", err)
			}

			if got, want := len(rec.pixels), 3; got != want {
				t.Fatalf("invalid number of delivered pixels: got=%d, want=%d", got, want)
			}
			if len(rec.ended) != 2 {
				t.Fatalf("invalid number of ended frames: %d", len(rec.ended))
			}

			var sum uint64
			for _, end := range rec.ended {
				sum += end.info.ReceivedPixels
			}
			if got, want := sum, uint64(len(rec.pixels)); got != want {
				t.Fatalf("delivered pixels not accounted in frames: got=%d, want=%d", got, want)
			}
			if got, want := rec.ended[0].info.ReceivedPixels, uint64(0); got != want {
				t.Fatalf("invalid received pixels in frame 0: got=%d, want=%d", got, want)
			}
			if got, want := rec.ended[1].info.ReceivedPixels, uint64(3); got != want {
				t.Fatalf("invalid received pixels in frame 1: got=%d, want=%d", got, want)
			}
		})
	}
}

func TestToAOffset(t *testing.T) {
	acq, _, data, rec, _ := newTestAcq()

	err := acq.Begin(testConfig(1), device.ReadoutDataDriven, md.ModeToATot, false, true)
	if err != nil {
		t.Fatalf("could not begin acquisition: %+v", err)
	}

	data.push(
		md.Make(md.HeaderNewFrame, 0),
		pixel(1, 1, 10).Record(0),
		md.Make(md.HeaderTimeOffset, 3),
		pixel(2, 2, 10).Record(0),
		md.Make(md.HeaderFrameFinished, 2),
	)

	err = acq.Read()
	if err != nil {
		t.Fatalf("could not read acquisition: %+v", err)
	}

	want := []md.ToAToT{pixel(1, 1, 10), pixel(2, 2, 3*16384+10)}
	if diff := cmp.Diff(want, rec.pixels); diff != "" {
		t.Fatalf("invalid pixels (-want +got):\n%s", diff)
	}
}

func TestFrameTimestamps(t *testing.T) {
	acq, _, data, rec, _ := newTestAcq()

	err := acq.Begin(testConfig(1), device.ReadoutDataDriven, md.ModeToATot, false, true)
	if err != nil {
		t.Fatalf("could not begin acquisition: %+v", err)
	}

	data.push(
		md.Make(md.HeaderNewFrame, 0),
		md.Make(md.HeaderFrameStartMSB, 0x1234),
		md.Make(md.HeaderFrameStartLSB, 0xdeadbeef),
		md.Make(md.HeaderFrameEndLSB, 0xcafebabe),
		md.Make(md.HeaderFrameEndMSB, 0x5678),
		md.Make(md.HeaderFrameFinished, 0),
	)

	err = acq.Read()
	if err != nil {
		t.Fatalf("could not read acquisition: %+v", err)
	}

	info := rec.ended[0].info
	if got, want := info.StartTime, Timestamp(0x1234_deadbeef); got != want {
		t.Fatalf("invalid start time: got=0x%x, want=0x%x", got, want)
	}
	if got, want := info.EndTime, Timestamp(0x5678_cafebabe); got != want {
		t.Fatalf("invalid end time: got=0x%x, want=0x%x", got, want)
	}
	if got, want := info.EndTime.MSB(), uint32(0x5678); got != want {
		t.Fatalf("invalid MSB: got=0x%x, want=0x%x", got, want)
	}
	if got, want := info.EndTime.LSB(), uint32(0xcafebabe); got != want {
		t.Fatalf("invalid LSB: got=0x%x, want=0x%x", got, want)
	}
	if got, want := rec.flushes, []int(nil); !reflect.DeepEqual(got, want) {
		t.Fatalf("empty frame should not flush: got=%v", got)
	}
}

func TestUnknownRecords(t *testing.T) {
	acq, _, data, rec, _ := newTestAcq()

	err := acq.Begin(testConfig(1), device.ReadoutDataDriven, md.ModeToATot, false, true)
	if err != nil {
		t.Fatalf("could not begin acquisition: %+v", err)
	}

	data.push(
		md.Make(md.HeaderNewFrame, 0),
		md.Make(0x1, 0),
		md.Make(md.HeaderTrigger, 0x42),
		md.Make(md.HeaderTriggerB, 0x42),
		md.Make(0x6, 0),
		md.Make(0xF, 0),
	)
	// trailing partial record.
	data.chunks = append(data.chunks, md.Append(nil, pixelRecs(1)...)[:md.Size-2])
	data.push(md.Make(md.HeaderFrameFinished, 0))

	err = acq.Read()
	if err != nil {
		t.Fatalf("could not read acquisition: %+v", err)
	}

	if got, want := acq.DroppedRecords(), uint64(4); got != want {
		t.Fatalf("invalid dropped records: got=%d, want=%d", got, want)
	}
	if got := len(rec.pixels); got != 0 {
		t.Fatalf("invalid number of pixels: %d", got)
	}
}

func TestStopAfterLastFrame(t *testing.T) {
	acq, _, data, rec, _ := newTestAcq()

	err := acq.Begin(testConfig(1), device.ReadoutDataDriven, md.ModeToATot, false, true)
	if err != nil {
		t.Fatalf("could not begin acquisition: %+v", err)
	}

	data.push(
		md.Make(md.HeaderNewFrame, 0),
		md.Make(md.HeaderFrameFinished, 0),
		pixel(1, 1, 1).Record(0),
		md.Make(0xF, 0),
	)

	err = acq.Read()
	if err != nil {
		t.Fatalf("could not read acquisition: %+v", err)
	}
	if got := len(rec.pixels); got != 0 {
		t.Fatalf("records past the last frame were processed: %d pixels", got)
	}
	if got := acq.DroppedRecords(); got != 0 {
		t.Fatalf("records past the last frame were processed: %d dropped", got)
	}
}

func TestBeginErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		opts    []Option
		frames  int
		ro      device.Readout
		mode    md.Mode
		fastVCO bool
	}{
		{
			name:   "data-driven-frames",
			frames: 2,
			ro:     device.ReadoutDataDriven,
			mode:   md.ModeToATot,
		},
		{
			name:    "format-mismatch",
			frames:  1,
			ro:      device.ReadoutSequential,
			mode:    md.ModeToATot,
			fastVCO: true,
		},
		{
			name:   "invalid-mode",
			frames: 1,
			ro:     device.ReadoutSequential,
			mode:   md.Mode(42),
		},
		{
			name:   "pixel-buffer",
			opts:   []Option{WithPixelBuffer(md.FormatToAToT.Size() - 1)},
			frames: 1,
			ro:     device.ReadoutSequential,
			mode:   md.ModeToATot,
		},
		{
			name:   "md-buffer",
			opts:   []Option{WithMDBuffer(md.Size - 1)},
			frames: 1,
			ro:     device.ReadoutSequential,
			mode:   md.ModeToATot,
		},
		{
			name:   "md-buffer-negative",
			opts:   []Option{WithMDBuffer(-1)},
			frames: 1,
			ro:     device.ReadoutSequential,
			mode:   md.ModeToATot,
		},
		{
			name:   "pixel-buffer-negative",
			opts:   []Option{WithPixelBuffer(-md.FormatToAToT.Size())},
			frames: 1,
			ro:     device.ReadoutSequential,
			mode:   md.ModeToATot,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			acq, ctl, _, _, _ := newTestAcq(tc.opts...)
			err := acq.Begin(testConfig(tc.frames), tc.ro, tc.mode, tc.fastVCO, true)
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("invalid error: got=%+v, want=%v", err, ErrConfig)
			}
			if len(ctl.cmds) != 0 {
				t.Fatalf("commands sent to the readout: %q", ctl.cmds)
			}
			if got, want := acq.State(), NotStarted; got != want {
				t.Fatalf("invalid state: got=%v, want=%v", got, want)
			}
		})
	}
}

func TestBeginRunning(t *testing.T) {
	acq, _, _, _, _ := newTestAcq()

	err := acq.Begin(testConfig(1), device.ReadoutSequential, md.ModeToATot, false, true)
	if err != nil {
		t.Fatalf("could not begin acquisition: %+v", err)
	}
	err = acq.Begin(testConfig(1), device.ReadoutSequential, md.ModeToATot, false, true)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("invalid error: got=%+v, want=%v", err, ErrConfig)
	}
}

func TestBeginTransportError(t *testing.T) {
	for _, tc := range []struct {
		cmd  string
		want string
	}{
		{
			cmd:  "configure(frames=1)",
			want: "acq: could not configure readout: boom",
		},
		{
			cmd:  "acq-mode(toa-tot, false)",
			want: "acq: could not set acquisition mode: boom",
		},
		{
			cmd:  "start(sequential)",
			want: "acq: could not start acquisition: boom",
		},
	} {
		t.Run(tc.cmd, func(t *testing.T) {
			acq, ctl, _, _, _ := newTestAcq()
			ctl.err = map[string]error{tc.cmd: fmt.Errorf("boom")}

			err := acq.Begin(testConfig(1), device.ReadoutSequential, md.ModeToATot, false, true)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if got, want := err.Error(), tc.want; got != want {
				t.Fatalf("invalid error:\ngot= %v\nwant=%v", got, want)
			}
			if got, want := acq.State(), NotStarted; got != want {
				t.Fatalf("invalid state: got=%v, want=%v", got, want)
			}
		})
	}
}

func TestReadNotStarted(t *testing.T) {
	acq, _, _, _, _ := newTestAcq()
	err := acq.Read()
	if !errors.Is(err, ErrRetry) {
		t.Fatalf("invalid error: got=%+v, want=%v", err, ErrRetry)
	}
}

func TestTimeout(t *testing.T) {
	acq, _, data, rec, clock := newTestAcq()

	err := acq.Begin(testConfig(1), device.ReadoutDataDriven, md.ModeToATot, false, true)
	if err != nil {
		t.Fatalf("could not begin acquisition: %+v", err)
	}
	start := clock.now()

	data.push(md.Make(md.HeaderNewFrame, 0))
	data.push(pixelRecs(2)...)

	err = acq.Read()
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("invalid error: got=%+v, want=%v", err, ErrTimedOut)
	}
	if got, want := acq.State(), TimedOut; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	// one frame of 1s plus a fail timeout of 1s.
	if got, want := clock.now().Sub(start), 2100*time.Millisecond; got != want {
		t.Fatalf("invalid time out: got=%v, want=%v", got, want)
	}
	if got, want := data.empty, 21; got != want {
		t.Fatalf("invalid number of idle receives: got=%d, want=%d", got, want)
	}
	if len(rec.ended) != 0 {
		t.Fatalf("frame ended on time out")
	}
}

func TestReportTimeout(t *testing.T) {
	acq, _, data, rec, _ := newTestAcq(WithReportTimeout(250 * time.Millisecond))

	err := acq.Begin(testConfig(1), device.ReadoutDataDriven, md.ModeToATot, false, true)
	if err != nil {
		t.Fatalf("could not begin acquisition: %+v", err)
	}

	data.push(md.Make(md.HeaderNewFrame, 0))
	data.push(pixelRecs(2)...)

	var flushed []int
	data.hook = func(n int) {
		switch n {
		case 3:
			flushed = append(flushed, len(rec.pixels))
		case 4:
			flushed = append(flushed, len(rec.pixels))
			err := acq.Abort()
			if err != nil {
				t.Errorf("could not abort: %+v", err)
			}
		}
	}

	err = acq.Read()
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("invalid error: got=%+v, want=%v", err, ErrAborted)
	}

	// the report flush happens after the 3rd idle receive (300ms idle).
	if got, want := flushed, []int{0, 2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid report flushes: got=%v, want=%v", got, want)
	}
	if got, want := rec.flushes, []int{2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid flushes: got=%v, want=%v", got, want)
	}
}

func TestAbort(t *testing.T) {
	acq, ctl, data, rec, _ := newTestAcq()

	err := acq.Begin(testConfig(1), device.ReadoutDataDriven, md.ModeToATot, false, true)
	if err != nil {
		t.Fatalf("could not begin acquisition: %+v", err)
	}

	data.push(md.Make(md.HeaderNewFrame, 0))
	data.push(pixelRecs(2)...)
	data.hook = func(n int) {
		if n != 1 {
			return
		}
		err := acq.Abort()
		if err != nil {
			t.Errorf("could not abort: %+v", err)
		}
		if !acq.Aborted() {
			t.Errorf("acquisition not flagged as aborted")
		}
	}

	err = acq.Read()
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("invalid error: got=%+v, want=%v", err, ErrAborted)
	}
	if got, want := acq.State(), Aborted; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if got, want := ctl.cmds[len(ctl.cmds)-1], "stop(data-driven)"; got != want {
		t.Fatalf("invalid last command: got=%q, want=%q", got, want)
	}
	if got, want := rec.flushes, []int{2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid flushes: got=%v, want=%v", got, want)
	}
	if len(rec.ended) != 1 {
		t.Fatalf("invalid number of ended frames: %d", len(rec.ended))
	}
	if end := rec.ended[0]; end.idx != 0 || end.completed || end.info.ReceivedPixels != 2 {
		t.Fatalf("invalid frame end: %+v", end)
	}
}

func TestAbortedRecord(t *testing.T) {
	acq, ctl, data, rec, _ := newTestAcq()

	err := acq.Begin(testConfig(1), device.ReadoutDataDriven, md.ModeToATot, false, true)
	if err != nil {
		t.Fatalf("could not begin acquisition: %+v", err)
	}

	data.push(md.Make(md.HeaderNewFrame, 0))
	data.push(pixelRecs(1)...)
	data.push(md.Make(md.HeaderAborted, 0))

	err = acq.Read()
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("invalid error: got=%+v, want=%v", err, ErrAborted)
	}
	if got, want := data.empty, 1; got != want {
		t.Fatalf("invalid number of idle receives: got=%d, want=%d", got, want)
	}
	if got, want := ctl.cmds[len(ctl.cmds)-1], "start(data-driven)"; got != want {
		t.Fatalf("readout should not have been commanded: got=%q", got)
	}
	if len(rec.ended) != 1 || rec.ended[0].completed {
		t.Fatalf("invalid frame ends: %+v", rec.ended)
	}
}

func TestRawMode(t *testing.T) {
	acq, _, data, rec, _ := newTestAcq()

	err := acq.Begin(testConfig(1), device.ReadoutDataDriven, md.ModeToATot, false, false)
	if err != nil {
		t.Fatalf("could not begin acquisition: %+v", err)
	}

	data.push(md.Make(md.HeaderNewFrame, 0))
	data.push(pixelRecs(2)...)
	data.push(md.Make(md.HeaderFrameFinished, 2))
	data.hook = func(n int) {
		if n == 2 {
			_ = acq.Abort()
		}
	}

	err = acq.Read()
	if err != nil {
		t.Fatalf("could not read acquisition: %+v", err)
	}
	if got, want := acq.State(), Succeeded; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if got, want := len(rec.raw), 3; got != want {
		t.Fatalf("invalid number of raw chunks: got=%d, want=%d", got, want)
	}
	if got, want := rec.raw[1], md.Append(nil, pixelRecs(2)...); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid raw chunk:\ngot= % x\nwant=% x", got, want)
	}
	if len(rec.started)+len(rec.ended)+len(rec.pixels) != 0 {
		t.Fatalf("raw mode should not decode")
	}
}

func TestClosedChannel(t *testing.T) {
	acq, _, data, _, _ := newTestAcq()
	data.err = fmt.Errorf("udp: could not receive datagram: %w", net.ErrClosed)

	err := acq.Begin(testConfig(1), device.ReadoutDataDriven, md.ModeToATot, false, true)
	if err != nil {
		t.Fatalf("could not begin acquisition: %+v", err)
	}

	err = acq.Read()
	if !errors.Is(err, net.ErrClosed) {
		t.Fatalf("invalid error: got=%+v, want=%v", err, net.ErrClosed)
	}
	if got, want := acq.State(), Running; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
}

func TestRestart(t *testing.T) {
	acq, _, data, rec, _ := newTestAcq()

	for i := 0; i < 2; i++ {
		err := acq.Begin(testConfig(1), device.ReadoutDataDriven, md.ModeToATot, false, true)
		if err != nil {
			t.Fatalf("could not begin acquisition #%d: %+v", i, err)
		}
		data.push(md.Make(md.HeaderNewFrame, 0))
		data.push(md.Make(0xF, 0))
		data.push(md.Make(md.HeaderFrameFinished, 0))
		err = acq.Read()
		if err != nil {
			t.Fatalf("could not read acquisition #%d: %+v", i, err)
		}
		if got, want := acq.DroppedRecords(), uint64(1); got != want {
			t.Fatalf("invalid dropped records #%d: got=%d, want=%d", i, got, want)
		}
		if got, want := acq.CompletedFrames(), 1; got != want {
			t.Fatalf("invalid completed frames #%d: got=%d, want=%d", i, got, want)
		}
	}
	if got, want := rec.started, []int{0, 0}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid started frames: got=%v, want=%v", got, want)
	}
}
