/*
 * MIT License
 *
 * Copyright (c) 2021 Eduardo Ramos
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package client implements the HTTP/2 client side: a persistent session
// (Connection) and a synchronous request/response call surface (Client)
// built on top of it, which replaces the Connection when it is down.
package client

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
)

// Status is a Connection's lifecycle state.
type Status int

const (
	NotOpen Status = iota
	Open
	Closed
)

func (s Status) String() string {
	switch s {
	case Open:
		return "OPEN"
	case Closed:
		return "CLOSED"
	default:
		return "NOT_OPEN"
	}
}

// Connection encapsulates one client-side HTTP/2 session. It is not
// copyable (it owns a dialed net.Conn and the goroutine that read-loops
// it); copying the struct would alias that ownership. Construction
// launches the dial in the background so NewConnection never blocks its
// caller.
type Connection struct {
	host   string
	port   string
	secure bool
	tlsCfg *tls.Config

	transport *http2.Transport

	mu         sync.Mutex
	status     Status
	changed    chan struct{}
	conn       net.Conn
	clientConn *http2.ClientConn
	closeOnce  sync.Once
	closed     atomic.Bool

	onCloseCB  func(*Connection)
	notifyOnce sync.Once
}

// NewConnection dials host:port in the background and returns
// immediately with status NOT_OPEN; the caller observes the OPEN/CLOSED
// transition via WaitToBeConnected or Status.
func NewConnection(host, port string, secure bool, tlsCfg *tls.Config) *Connection {
	c := &Connection{
		host:      host,
		port:      port,
		secure:    secure,
		tlsCfg:    tlsCfg,
		transport: &http2.Transport{AllowHTTP: !secure},
		changed:   make(chan struct{}),
	}
	go c.connect()
	return c
}

func (c *Connection) connect() {
	addr := net.JoinHostPort(c.host, c.port)

	var conn net.Conn
	var err error
	if c.secure {
		cfg := c.tlsCfg
		if cfg == nil {
			cfg = &tls.Config{}
		}
		conn, err = tls.Dial("tcp", addr, cfg)
	} else {
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		c.setStatus(Closed)
		return
	}

	cc, err := c.transport.NewClientConn(conn)
	if err != nil {
		_ = conn.Close()
		c.setStatus(Closed)
		return
	}

	c.mu.Lock()
	if c.closed.Load() {
		// Close() already ran while this dial was in flight; don't
		// resurrect a connection the caller gave up on.
		c.mu.Unlock()
		_ = cc.Close()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.clientConn = cc
	c.mu.Unlock()
	c.setStatus(Open)
}

// OnClose registers cb to be invoked exactly once, when this connection
// transitions to Closed (explicit Close or a failed dial), mirroring
// Http2Connection::onClose in the C++ original. A transport error on an
// open session does not move the status to Closed by itself: IsConnected
// turns false once the session stops taking new requests, and the
// callback fires only when Close runs (Client.Send calls Close after a
// failed round trip). Only the most recently registered callback is
// kept; call before the connection has a chance to close to avoid
// missing the notification.
func (c *Connection) OnClose(cb func(*Connection)) {
	c.mu.Lock()
	c.onCloseCB = cb
	c.mu.Unlock()
}

func (c *Connection) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	ch := c.changed
	c.changed = make(chan struct{})
	cb := c.onCloseCB
	c.mu.Unlock()
	close(ch)

	if s == Closed {
		c.notifyOnce.Do(func() {
			if cb != nil {
				cb(c)
			}
		})
	}
}

// waitUntil blocks until pred(current status) is true or timeout elapses.
func (c *Connection) waitUntil(timeout time.Duration, pred func(Status) bool) {
	deadline := time.Now().Add(timeout)
	for {
		c.mu.Lock()
		status := c.status
		ch := c.changed
		c.mu.Unlock()

		if pred(status) {
			return
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		select {
		case <-ch:
		case <-time.After(remaining):
			return
		}
	}
}

// WaitToBeConnected blocks until status leaves NOT_OPEN or timeout
// elapses, returning whether it ended up OPEN.
func (c *Connection) WaitToBeConnected(timeout time.Duration) bool {
	c.waitUntil(timeout, func(s Status) bool { return s != NotOpen })
	return c.Status() == Open
}

// WaitToBeDisconnected blocks until status leaves OPEN or timeout
// elapses, returning whether it ended up not OPEN.
func (c *Connection) WaitToBeDisconnected(timeout time.Duration) bool {
	c.waitUntil(timeout, func(s Status) bool { return s != Open })
	return c.Status() != Open
}

// Close is idempotent: it tears down the underlying connection and
// transitions to CLOSED.
func (c *Connection) Close() {
	c.closed.Store(true)
	c.closeOnce.Do(func() {
		c.mu.Lock()
		cc := c.clientConn
		conn := c.conn
		c.mu.Unlock()

		if cc != nil {
			_ = cc.Close()
		}
		if conn != nil {
			_ = conn.Close()
		}
		c.setStatus(Closed)
	})
}

// Session returns the underlying stream multiplexer, or nil if not OPEN.
func (c *Connection) Session() *http2.ClientConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientConn
}

func (c *Connection) Host() string   { return c.host }
func (c *Connection) Port() string   { return c.port }
func (c *Connection) IsSecure() bool { return c.secure }

func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsConnected reports OPEN and additionally that the multiplexer will
// still accept a new stream (it may have GOAWAY'd without the read loop
// having observed it yet).
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	status := c.status
	cc := c.clientConn
	c.mu.Unlock()
	return status == Open && cc != nil && cc.CanTakeNewRequest()
}

func (c *Connection) AsString() string {
	scheme := "http"
	if c.secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%s (%s)", scheme, c.host, c.port, c.Status())
}
