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

package client

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/testillano/http2comm/htlog"
	"github.com/testillano/http2comm/metrics"
)

// Sentinel status codes returned by Send in place of a real HTTP status.
const (
	StatusConnectionError         = -1
	StatusTimeout                 = -2
	StatusSubmitError             = -3
	StatusStreamClosedPrematurely = -4
)

const defaultTimeout = time.Second

// Response is what Send resolves with; StatusCode carries either a real
// HTTP status (≥ 100) or one of the sentinel values above.
type Response struct {
	StatusCode  int
	Body        []byte
	Headers     http.Header
	SendingUs   time.Duration
	ReceptionUs time.Duration
}

// Client is a synchronous HTTP/2 call surface over one persistent
// Connection, with best-effort non-blocking reconnection and symmetric
// metrics to the server package.
type Client struct {
	name   string
	secure bool
	log    htlog.Logger

	connMu sync.RWMutex
	conn   *Connection

	metrics *metrics.Registry

	reconnecting atomic.Bool

	// OnResponseTimeout is invoked (if non-nil) every time Send gives up
	// waiting on a request; the extension point spec.md calls response_timeout.
	OnResponseTimeout func()
}

func (c *Client) getConn() *Connection {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

func (c *Client) setConn(conn *Connection) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

// New constructs a Client and kicks off an initial connection attempt;
// construction never fails even if the initial connect does not succeed,
// matching the C++ original's "logs a warning, does not throw" contract.
func New(name, host, port string, secure bool, log htlog.FuncLog) *Client {
	return NewWithConnection(name, NewConnection(host, port, secure, nil), secure, log)
}

// NewWithConnection builds a Client around a caller-supplied Connection,
// letting tests (or TLS-configured callers) control dialing directly.
func NewWithConnection(name string, conn *Connection, secure bool, log htlog.FuncLog) *Client {
	c := &Client{name: name, conn: conn, secure: secure, log: htlog.Resolve(log)}
	c.watchClose(conn)
	if !conn.WaitToBeConnected(defaultTimeout) {
		c.log.Warnf("http2 client %q: initial connection to %s did not open", name, conn.AsString())
	}
	return c
}

// watchClose registers conn's close callback so every connection the
// Client ever owns (the initial one and every reconnect) logs its own
// closure, the Go counterpart of Http2Connection::onClose.
func (c *Client) watchClose(conn *Connection) {
	conn.OnClose(func(closed *Connection) {
		c.log.Warnf("http2 client %q: connection to %s closed", c.name, closed.AsString())
	})
}

// EnableMetrics registers the client-side metric family under the given
// prometheus registerer.
func (c *Client) EnableMetrics(registerer prometheus.Registerer, delayBuckets, sizeBuckets []float64, sourceLabel string) {
	name := sourceLabel
	if name == "" {
		name = c.name
	}
	c.metrics = metrics.New(registerer, metrics.Client, name, delayBuckets, sizeBuckets)
}

func (c *Client) IsConnected() bool        { return c.getConn().IsConnected() }
func (c *Client) ConnectionStatus() string { return c.getConn().Status().String() }

var bodylessMethods = map[string]bool{http.MethodGet: true, http.MethodDelete: true, http.MethodHead: true}

// Send implements the seven-step algorithm: reconnect-on-not-open,
// drop body for GET/DELETE/HEAD, submit via the session, race the
// response against timeout, and report the outcome through metrics.
func (c *Client) Send(method, path string, body []byte, hdr http.Header, timeout time.Duration) Response {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	conn := c.getConn()
	if !conn.IsConnected() {
		c.triggerReconnect()
		c.metrics.ObserveUnsent(method)
		return Response{StatusCode: StatusConnectionError}
	}

	if bodylessMethods[method] {
		body = nil
	}

	c.metrics.ObserveSent(method)
	c.metrics.ObserveSentSize(method, len(body))

	sess := conn.Session()
	if sess == nil {
		c.metrics.ObserveUnsent(method)
		return Response{StatusCode: StatusConnectionError}
	}

	req, err := http.NewRequest(method, c.url(conn, path), bytes.NewReader(body))
	if err != nil {
		return Response{StatusCode: StatusSubmitError}
	}
	for k, v := range hdr {
		req.Header[k] = v
	}

	sendingTS := nowUS()

	type outcome struct {
		resp *http.Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := sess.RoundTrip(req)
		done <- outcome{resp, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			conn.Close()
			return Response{StatusCode: StatusSubmitError}
		}
		return c.finish(method, o.resp, sendingTS)

	case <-time.After(timeout):
		c.metrics.ObserveTimedOut(method)
		if c.OnResponseTimeout != nil {
			c.OnResponseTimeout()
		}
		// The late response, if any, is drained and discarded here: Send
		// has already returned -2, so nothing observes it again.
		go func() {
			if o := <-done; o.resp != nil {
				_ = o.resp.Body.Close()
			}
		}()
		return Response{StatusCode: StatusTimeout}
	}
}

func (c *Client) finish(method string, resp *http.Response, sendingTS time.Duration) Response {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	receptionTS := nowUS()

	if err != nil {
		return Response{StatusCode: StatusStreamClosedPrematurely, SendingUs: sendingTS, ReceptionUs: receptionTS}
	}

	c.metrics.ObserveReceived(method, strconv.Itoa(resp.StatusCode))
	c.metrics.ObserveDelaySeconds(method, (receptionTS - sendingTS).Seconds())
	c.metrics.ObserveReceivedSize(method, len(body))

	return Response{
		StatusCode:  resp.StatusCode,
		Body:        body,
		Headers:     resp.Header,
		SendingUs:   sendingTS,
		ReceptionUs: receptionTS,
	}
}

// triggerReconnect starts at most one concurrent reconnect attempt;
// concurrent Send calls during an outage all return -1 immediately while
// one of them owns the attempt, matching spec.md's "try-lock guarded" rule.
func (c *Client) triggerReconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.reconnecting.Store(false)
		old := c.getConn()
		next := NewConnection(old.Host(), old.Port(), c.secure, old.tlsCfg)
		c.watchClose(next)
		if next.WaitToBeConnected(defaultTimeout) {
			c.setConn(next)
			old.Close()
		} else {
			next.Close()
		}
	}()
}

func (c *Client) url(conn *Connection, path string) string {
	scheme := "http"
	if c.secure {
		scheme = "https"
	}
	if path != "" && path[0] != '/' {
		path = "/" + path
	}
	return fmt.Sprintf("%s://%s:%s%s", scheme, conn.Host(), conn.Port(), path)
}

var nowUS = func() time.Duration {
	return time.Duration(time.Now().UnixMicro()) * time.Microsecond
}
