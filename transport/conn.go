// Copyright 2026 The Glyphlink Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"io"
	"net"
	"sync"
	"time"
)

// ChannelConn adapts a detached pion data channel ReadWriteCloser to
// net.Conn. The detached channel is stream-oriented, so the chat
// protocol can treat it like a TCP connection.
//
// Deadlines are implemented by closing the underlying stream when the
// timer fires, which unblocks any pending Read or Write. A conn that
// has hit a deadline is permanently broken; the chat session ends with
// it.
type ChannelConn struct {
	stream io.ReadWriteCloser
	local  string
	remote string

	mu         sync.Mutex
	readTimer  *time.Timer
	writeTimer *time.Timer
	broken     bool
}

var _ net.Conn = (*ChannelConn)(nil)

// NewChannelConn wraps a detached data channel. local and remote name
// the endpoints for LocalAddr and RemoteAddr.
func NewChannelConn(stream io.ReadWriteCloser, local, remote string) *ChannelConn {
	return &ChannelConn{stream: stream, local: local, remote: remote}
}

func (c *ChannelConn) Read(buffer []byte) (int, error)  { return c.stream.Read(buffer) }
func (c *ChannelConn) Write(buffer []byte) (int, error) { return c.stream.Write(buffer) }

func (c *ChannelConn) Close() error {
	c.mu.Lock()
	c.stopTimer(&c.readTimer)
	c.stopTimer(&c.writeTimer)
	c.mu.Unlock()
	return c.stream.Close()
}

func (c *ChannelConn) LocalAddr() net.Addr  { return channelAddr(c.local) }
func (c *ChannelConn) RemoteAddr() net.Addr { return channelAddr(c.remote) }

// SetDeadline sets both read and write deadlines. A zero value clears
// them.
func (c *ChannelConn) SetDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armTimer(&c.readTimer, deadline)
	c.armTimer(&c.writeTimer, deadline)
	return nil
}

func (c *ChannelConn) SetReadDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armTimer(&c.readTimer, deadline)
	return nil
}

func (c *ChannelConn) SetWriteDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armTimer(&c.writeTimer, deadline)
	return nil
}

// armTimer replaces the timer behind slot with one for the given
// deadline. Caller holds c.mu.
func (c *ChannelConn) armTimer(slot **time.Timer, deadline time.Time) {
	c.stopTimer(slot)
	if deadline.IsZero() || c.broken {
		return
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		c.breakConn()
		return
	}
	*slot = time.AfterFunc(remaining, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.breakConn()
	})
}

func (c *ChannelConn) stopTimer(slot **time.Timer) {
	if *slot != nil {
		(*slot).Stop()
		*slot = nil
	}
}

// breakConn closes the stream to unblock pending I/O. Caller holds c.mu.
func (c *ChannelConn) breakConn() {
	if c.broken {
		return
	}
	c.broken = true
	c.stream.Close()
}

type channelAddr string

func (a channelAddr) Network() string { return "glyphlink" }
func (a channelAddr) String() string  { return string(a) }
