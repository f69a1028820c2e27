// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package device implements the command protocol of a Katherine readout.
package device // import "github.com/go-lpc/katherine/device"

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/go-lpc/katherine/config"
	"github.com/go-lpc/katherine/udp"
)

// Channel is one of the two UDP channels of a readout.
type Channel interface {
	Lock()
	Unlock()

	Send(p []byte) error
	Recv(p []byte) (int, error)
	RecvExact(p []byte) error

	Close() error
}

var _ Channel = (*udp.Conn)(nil)

const (
	DefaultCtlPort    = 1555
	DefaultDataPort   = 1556
	DefaultRemotePort = 1555
	DefaultTimeout    = 100 * time.Millisecond
)

type options struct {
	ctlPort    int
	dataPort   int
	remotePort int
	ctlTimeout time.Duration
	rcvTimeout time.Duration
	rbuf       int
	msg        *log.Logger
}

func newOptions() options {
	return options{
		ctlPort:    DefaultCtlPort,
		dataPort:   DefaultDataPort,
		remotePort: DefaultRemotePort,
		ctlTimeout: DefaultTimeout,
		rcvTimeout: DefaultTimeout,
		msg:        log.New(io.Discard, "katherine: ", 0),
	}
}

// Option configures a readout device.
type Option func(*options)

// WithPorts sets the local control and data ports and the remote port.
func WithPorts(ctl, data, remote int) Option {
	return func(cfg *options) {
		cfg.ctlPort = ctl
		cfg.dataPort = data
		cfg.remotePort = remote
	}
}

// WithTimeouts sets the receive timeouts of the control and data channels.
func WithTimeouts(ctl, data time.Duration) Option {
	return func(cfg *options) {
		cfg.ctlTimeout = ctl
		cfg.rcvTimeout = data
	}
}

// WithDataBuffer sets the size of the kernel receive buffer of the data
// channel.
func WithDataBuffer(n int) Option {
	return func(cfg *options) {
		cfg.rbuf = n
	}
}

// WithLogger sets the logger of the device.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *options) {
		cfg.msg = msg
	}
}

// Device is a Katherine readout.
//
// Every command holds the lock of the control channel for its whole
// exchange, so a Device may be shared between goroutines.
type Device struct {
	addr string
	ctl  Channel
	data Channel
	msg  *log.Logger
}

// Open connects to the readout at the provided IPv4 address.
func Open(addr string, opts ...Option) (*Device, error) {
	cfg := newOptions()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctl, err := udp.Open(cfg.ctlPort, addr, cfg.remotePort, cfg.ctlTimeout)
	if err != nil {
		return nil, fmt.Errorf("katherine: could not open control channel: %w", err)
	}

	data, err := udp.Open(
		cfg.dataPort, addr, cfg.remotePort, cfg.rcvTimeout,
		udp.WithReadBuffer(cfg.rbuf),
	)
	if err != nil {
		_ = ctl.Close()
		return nil, fmt.Errorf("katherine: could not open data channel: %w", err)
	}

	dev := New(ctl, data, opts...)
	dev.addr = addr
	return dev, nil
}

// Dial connects to the readout described by the device section of a
// run file. Extra options are applied last.
func Dial(cfg config.Device, opts ...Option) (*Device, error) {
	return Open(cfg.Addr, append([]Option{
		WithPorts(cfg.CtlPort, cfg.DataPort, cfg.RemotePort),
		WithTimeouts(cfg.CtlTimeout, cfg.RecvTimeout),
	}, opts...)...)
}

// New creates a device from already connected channels.
func New(ctl, data Channel, opts ...Option) *Device {
	cfg := newOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Device{
		ctl:  ctl,
		data: data,
		msg:  cfg.msg,
	}
}

// Addr returns the address of the readout.
func (dev *Device) Addr() string { return dev.addr }

// Data returns the data channel of the readout.
func (dev *Device) Data() Channel { return dev.data }

// Close closes both channels of the readout.
func (dev *Device) Close() error {
	errData := dev.data.Close()
	errCtl := dev.ctl.Close()

	if errData != nil {
		return fmt.Errorf("katherine: could not close data channel: %w", errData)
	}
	if errCtl != nil {
		return fmt.Errorf("katherine: could not close control channel: %w", errCtl)
	}
	return nil
}
