// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package discover scans a range of IPv4 addresses for Katherine readouts.
package discover // import "github.com/go-lpc/katherine/discover"

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/katherine/device"
	"golang.org/x/time/rate"
)

// Range is an inclusive range of IPv4 addresses, bounded octet by octet.
type Range struct {
	Min [4]uint8
	Max [4]uint8
}

// DefaultRange is the range scanned when none is provided.
var DefaultRange = Range{
	Min: [4]uint8{192, 168, 1, 100},
	Max: [4]uint8{192, 168, 1, 200},
}

// ParseRange parses a range of the form "a.b.c.d", where each octet is
// either a number or two numbers separated by a dash, e.g.
// "192.168.1-2.100-200".
func ParseRange(s string) (Range, error) {
	var r Range
	toks := strings.Split(s, ".")
	if len(toks) != 4 {
		return r, fmt.Errorf("discover: error parsing address range %q, expected 3 dots (got %d)", s, len(toks)-1)
	}
	for i, tok := range toks {
		lo, hi, ok := strings.Cut(tok, "-")
		if !ok {
			hi = lo
		}
		vlo, err := parseOctet(lo)
		if err != nil {
			return r, fmt.Errorf("discover: error parsing address range %q: %w", s, err)
		}
		vhi, err := parseOctet(hi)
		if err != nil {
			return r, fmt.Errorf("discover: error parsing address range %q: %w", s, err)
		}
		if vlo > vhi {
			return r, fmt.Errorf("discover: error parsing address range %q: empty octet range %q", s, tok)
		}
		r.Min[i] = vlo
		r.Max[i] = vhi
	}
	return r, nil
}

func parseOctet(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid octet %q: %w", s, err)
	}
	return uint8(v), nil
}

func (r Range) String() string {
	return fmt.Sprintf(
		"%d.%d.%d.%d-%d.%d.%d.%d",
		r.Min[0], r.Min[1], r.Min[2], r.Min[3],
		r.Max[0], r.Max[1], r.Max[2], r.Max[3],
	)
}

// Len returns the number of addresses in the range.
func (r Range) Len() int {
	n := 1
	for i := range r.Min {
		n *= int(r.Max[i]) - int(r.Min[i]) + 1
	}
	return n
}

// Addrs returns all the addresses of the range, in ascending order.
func (r Range) Addrs() []string {
	addrs := make([]string, 0, r.Len())
	cur := r.Min
	for {
		addrs = append(addrs, fmt.Sprintf("%d.%d.%d.%d", cur[0], cur[1], cur[2], cur[3]))
		i := 3
		for ; i >= 0; i-- {
			if cur[i] < r.Max[i] {
				cur[i]++
				break
			}
			cur[i] = r.Min[i]
		}
		if i < 0 {
			return addrs
		}
	}
}

// Found describes a readout answering at an address.
type Found struct {
	Addr   string
	ChipID string
}

// Prober queries the chip identifier of the readout at addr.
type Prober func(ctx context.Context, addr string) (string, error)

// Probe connects to addr and asks for the chip identifier of the
// detector. Cancelling ctx closes the connection.
func Probe(ctx context.Context, addr string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("discover: could not probe %s: %w", addr, err)
	}

	dev, err := device.Open(addr)
	if err != nil {
		return "", err
	}
	defer dev.Close()

	stop := context.AfterFunc(ctx, func() { _ = dev.Close() })
	defer stop()

	id, err := dev.ChipID()
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return "", fmt.Errorf("discover: could not probe %s: %w", addr, cerr)
		}
		return "", err
	}
	return id, nil
}

type config struct {
	probe Prober
	limit rate.Limit
	found func(Found)
}

// Option configures a scan.
type Option func(*config)

// WithProber sets the function used to probe each address.
func WithProber(p Prober) Option {
	return func(cfg *config) {
		cfg.probe = p
	}
}

// WithRate limits the number of probes per second.
func WithRate(r rate.Limit) Option {
	return func(cfg *config) {
		cfg.limit = r
	}
}

// WithFound sets a function called for each readout, as soon as it is
// found.
func WithFound(f func(Found)) Option {
	return func(cfg *config) {
		cfg.found = f
	}
}

// Scan probes each address of the range in turn and returns the
// readouts that answered.
//
// Probes are sequential: every probe binds the same local ports.
func Scan(ctx context.Context, r Range, opts ...Option) ([]Found, error) {
	cfg := config{
		probe: Probe,
		limit: rate.Every(10 * time.Millisecond),
		found: func(Found) {},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		found []Found
		lim   = rate.NewLimiter(cfg.limit, 1)
	)
	for _, addr := range r.Addrs() {
		err := lim.Wait(ctx)
		if err != nil {
			return found, fmt.Errorf("discover: scan interrupted: %w", err)
		}

		id, err := cfg.probe(ctx, addr)
		if err != nil {
			continue
		}
		f := Found{Addr: addr, ChipID: id}
		found = append(found, f)
		cfg.found(f)
	}

	return found, nil
}
