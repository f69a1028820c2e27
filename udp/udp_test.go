// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package udp

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"
)

func newPeer(t *testing.T) *net.UDPConn {
	t.Helper()
	peer, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("could not create peer: %+v", err)
	}
	t.Cleanup(func() { _ = peer.Close() })
	return peer
}

func TestSendRecv(t *testing.T) {
	peer := newPeer(t)
	rport := peer.LocalAddr().(*net.UDPAddr).Port

	conn, err := Open(0, "127.0.0.1", rport, time.Second, WithReadBuffer(1<<16), WithWriteBuffer(1<<16))
	if err != nil {
		t.Fatalf("could not open endpoint: %+v", err)
	}
	defer conn.Close()

	msg := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	err = conn.Send(msg)
	if err != nil {
		t.Fatalf("could not send: %+v", err)
	}

	buf := make([]byte, 64)
	_ = peer.SetReadDeadline(time.Now().Add(time.Second))
	n, addr, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("peer could not receive: %+v", err)
	}
	if got, want := buf[:n], msg; !bytes.Equal(got, want) {
		t.Fatalf("invalid datagram: got=%v, want=%v", got, want)
	}

	// reply with a command answer split over two datagrams.
	for _, p := range [][]byte{{0xa, 0xb, 0xc}, {0xd, 0xe, 0xf, 0x1, 0x2}} {
		_, err = peer.WriteToUDP(p, addr)
		if err != nil {
			t.Fatalf("peer could not send: %+v", err)
		}
	}

	ack := make([]byte, 8)
	conn.Lock()
	err = conn.RecvExact(ack)
	conn.Unlock()
	if err != nil {
		t.Fatalf("could not receive: %+v", err)
	}
	if got, want := ack, []byte{0xa, 0xb, 0xc, 0xd, 0xe, 0xf, 0x1, 0x2}; !bytes.Equal(got, want) {
		t.Fatalf("invalid answer: got=%v, want=%v", got, want)
	}
}

func TestTimeout(t *testing.T) {
	peer := newPeer(t)
	rport := peer.LocalAddr().(*net.UDPAddr).Port

	conn, err := Open(0, "127.0.0.1", rport, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("could not open endpoint: %+v", err)
	}
	defer conn.Close()

	_, err = conn.Recv(make([]byte, 8))
	if err == nil {
		t.Fatalf("expected a timeout")
	}
	if !IsTimeout(err) {
		t.Fatalf("expected a timeout error, got: %+v", err)
	}
}

func TestClosed(t *testing.T) {
	peer := newPeer(t)
	rport := peer.LocalAddr().(*net.UDPAddr).Port

	conn, err := Open(0, "127.0.0.1", rport, time.Second)
	if err != nil {
		t.Fatalf("could not open endpoint: %+v", err)
	}
	err = conn.Close()
	if err != nil {
		t.Fatalf("could not close endpoint: %+v", err)
	}

	_, err = conn.Recv(make([]byte, 8))
	switch {
	case err == nil:
		t.Fatalf("expected an error")
	case !errors.Is(err, net.ErrClosed):
		t.Fatalf("invalid error: got=%+v, want=%v", err, net.ErrClosed)
	case IsTimeout(err):
		t.Fatalf("closed endpoint reported as timeout")
	}
}

func TestOpenInvalid(t *testing.T) {
	_, err := Open(0, "not a host name", 1555, time.Second)
	if err == nil {
		t.Fatalf("expected an error")
	}
}
