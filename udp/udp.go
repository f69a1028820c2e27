// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package udp provides the UDP endpoints used to talk to a Katherine
// readout: one for the control channel, one for the measurement data.
package udp // import "github.com/go-lpc/katherine/udp"

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

// Conn is a UDP endpoint bound to a local port and connected to a single
// remote peer.
//
// Conn carries a mutex that callers use to serialize multi-step
// exchanges over the endpoint. Send and Recv do not take it.
type Conn struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	timeout time.Duration
}

type options struct {
	rbuf int
	wbuf int
}

// Option configures a UDP endpoint.
type Option func(*options)

// WithReadBuffer sets the size of the kernel receive buffer.
func WithReadBuffer(n int) Option {
	return func(o *options) {
		o.rbuf = n
	}
}

// WithWriteBuffer sets the size of the kernel send buffer.
func WithWriteBuffer(n int) Option {
	return func(o *options) {
		o.wbuf = n
	}
}

// Open binds a UDP endpoint to the local port and connects it to the
// remote host and port.
// A positive timeout bounds each receive.
func Open(lport int, raddr string, rport int, timeout time.Duration, opts ...Option) (*Conn, error) {
	var cfg options
	for _, opt := range opts {
		opt(&cfg)
	}

	dialer := net.Dialer{
		LocalAddr: &net.UDPAddr{Port: lport},
		Control:   control,
	}
	remote := net.JoinHostPort(raddr, strconv.Itoa(rport))
	c, err := dialer.Dial("udp4", remote)
	if err != nil {
		return nil, fmt.Errorf("udp: could not open endpoint on local port %d to %s: %w", lport, remote, err)
	}
	conn := c.(*net.UDPConn)

	if cfg.rbuf > 0 {
		err = conn.SetReadBuffer(cfg.rbuf)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("udp: could not set receive buffer size: %w", err)
		}
	}
	if cfg.wbuf > 0 {
		err = conn.SetWriteBuffer(cfg.wbuf)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("udp: could not set send buffer size: %w", err)
		}
	}

	return &Conn{conn: conn, timeout: timeout}, nil
}

// Lock locks the endpoint for a multi-step exchange.
func (c *Conn) Lock() { c.mu.Lock() }

// Unlock unlocks the endpoint.
func (c *Conn) Unlock() { c.mu.Unlock() }

// LocalAddr returns the local address of the endpoint.
func (c *Conn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// Close closes the endpoint. Pending receives return net.ErrClosed.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Send sends the whole buffer as one datagram.
func (c *Conn) Send(p []byte) error {
	n, err := c.conn.Write(p)
	if err != nil {
		return fmt.Errorf("udp: could not send datagram: %w", err)
	}
	if n != len(p) {
		return fmt.Errorf("udp: could not send datagram: %w", io.ErrShortWrite)
	}
	return nil
}

// Recv receives one datagram into p and returns its size.
func (c *Conn) Recv(p []byte) (int, error) {
	err := c.deadline()
	if err != nil {
		return 0, err
	}
	n, err := c.conn.Read(p)
	if err != nil {
		return n, fmt.Errorf("udp: could not receive datagram: %w", err)
	}
	return n, nil
}

// RecvExact fills p, receiving as many datagrams as needed.
func (c *Conn) RecvExact(p []byte) error {
	for len(p) > 0 {
		n, err := c.Recv(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func (c *Conn) deadline() error {
	var t time.Time
	if c.timeout > 0 {
		t = time.Now().Add(c.timeout)
	}
	err := c.conn.SetReadDeadline(t)
	if err != nil {
		return fmt.Errorf("udp: could not set receive deadline: %w", err)
	}
	return nil
}

// IsTimeout reports whether err is a receive timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
