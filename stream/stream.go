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

// Package stream holds the per-request server-side state machine: body
// accumulation, validation, the user handler call, optional response-delay
// scheduling and the final commit that writes (or drops) the response.
//
// A Stream is created once per incoming request and is used by exactly one
// goroutine at a time except for Close/Error, which the protocol layer's
// on-close callback may call concurrently with a worker blocked in Commit.
package stream

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/testillano/http2comm/headers"
	"github.com/testillano/http2comm/htlog"
	"github.com/testillano/http2comm/metrics"
	"github.com/testillano/http2comm/urlutil"
)

// Request is the immutable view of the incoming request a Stream validates
// and hands to the user handler.
type Request struct {
	Method  string
	Path    string
	URI     string
	Headers http.Header
}

// Result is what the user handler (or a validation failure) produces.
type Result struct {
	Status  int
	Headers http.Header
	Body    []byte
	// DelayMS, when > 0, asks the stream to delay writing the response by
	// that many milliseconds, corrected for time already spent processing.
	DelayMS int64
}

// Sink is the write side of the underlying transport a Stream commits to.
// The server package implements it over the concrete HTTP/2 library.
type Sink interface {
	// WriteHead writes status and headers; End writes body and finishes the stream.
	WriteHead(status int, hdr http.Header)
	End(body []byte)
	// Reset aborts the stream with an HTTP/2 error code (RST_STREAM),
	// called by the Stream's owner (never by Stream itself) when
	// TakePendingReset reports a Result.Status below 100.
	Reset(code uint32)
}

// Handler is the full set of Http2Server extension points a Stream calls
// into. The server package adapts user-supplied callbacks plus sensible
// defaults into one Handler per server instance.
type Handler interface {
	CheckMethodIsAllowed(req Request) (allowed bool, allowedMethods []string)
	CheckMethodIsImplemented(req Request) bool
	CheckHeaders(req Request) bool
	// APIPath returns the configured "/<api_name>/<api_version>" prefix,
	// or "" when API path enforcement is disabled.
	APIPath() string
	// Receive is the mandatory user handler.
	Receive(receptionID uint64, req Request, body []byte, receptionTS time.Duration) Result
	// ReceiveError formats the standardized error response for a
	// validation failure or congestion rejection.
	ReceiveError(req Request, body []byte, cause headers.StatusError, location string, allowedMethods []string) Result
	// ResponseDelayTimer is polled before commit and after each scheduled
	// wait; returning 0 ends the wait.
	ResponseDelayTimer(receptionID uint64) time.Duration
	// StreamError is an observability hook invoked on RST_STREAM/GOAWAY.
	StreamError(errorCode uint32, serverName string, receptionID uint64, req Request)
	APIVersion() string
	ServerName() string
}

// Stream is the per-request state machine described by spec.md §4.5.
type Stream struct {
	handler Handler
	sink    Sink
	metrics *metrics.Registry
	log     htlog.Logger

	req         Request
	body        []byte
	receptionID uint64
	traceID     string

	mu           sync.Mutex
	receptionTS  time.Duration
	result       Result
	needTimer    bool
	delay        time.Duration
	closed       bool
	errored      bool
	rstCode      uint32
	closeOnce    sync.Once
	cancelTimer  chan struct{}
	resetPending bool
	resetCode    uint32
}

// New creates a Stream bound to a single request. receptionID is assigned
// by the owning server when the final body chunk is observed. Every log
// line the Stream emits is tagged with a fresh trace id so a request can
// be followed across Reception, any delay wait and Commit in logs where
// many streams interleave.
func New(handler Handler, sink Sink, reg *metrics.Registry, log htlog.Logger, req Request, body []byte, receptionID uint64) *Stream {
	if log == nil {
		log = htlog.NoOp()
	}
	traceID := uuid.NewString()
	return &Stream{
		handler:     handler,
		sink:        sink,
		metrics:     reg,
		log:         log.WithField("trace_id", traceID),
		req:         req,
		body:        body,
		receptionID: receptionID,
		traceID:     traceID,
		cancelTimer: make(chan struct{}),
	}
}

// TraceID returns the id this stream tags its log lines with.
func (s *Stream) TraceID() string { return s.traceID }

// nowUS is a seam for tests; production code always uses the wall clock.
var nowUS = func() time.Duration {
	return time.Duration(time.Now().UnixMicro()) * time.Microsecond
}

// Reception runs request validation and the user handler. congested is
// true when the caller (the server's dispatcher-item adapter) decided
// this stream must be rejected with SERVICE_UNAVAILABLE before reaching
// the user handler, based on the (busy, size) snapshot it observed.
func (s *Stream) Reception(congested bool) {
	s.reception(congested)
}

// CommitNow awaits any scheduled response delay, then writes (or
// silently drops) the response.
func (s *Stream) CommitNow() {
	s.commit()
}

func (s *Stream) reception(congested bool) {
	ts := nowUS()
	s.mu.Lock()
	s.receptionTS = ts
	s.mu.Unlock()

	s.log.Debugf("reception started: %s %s", s.req.Method, s.req.Path)

	if congested {
		s.log.Warnf("rejecting %s %s: queue congested", s.req.Method, s.req.Path)
		s.setResult(s.handler.ReceiveError(s.req, s.body, headers.ServiceUnavailable, "", nil))
		return
	}

	if ok, allowed := s.handler.CheckMethodIsAllowed(s.req); !ok {
		s.setResult(s.handler.ReceiveError(s.req, s.body, headers.MethodNotAllowed, "", allowed))
		return
	}
	if !s.handler.CheckMethodIsImplemented(s.req) {
		s.setResult(s.handler.ReceiveError(s.req, s.body, headers.MethodNotImplemented, "", nil))
		return
	}
	if !s.handler.CheckHeaders(s.req) {
		s.setResult(s.handler.ReceiveError(s.req, s.body, headers.UnsupportedMediaType, "", nil))
		return
	}
	if apiPath := s.handler.APIPath(); apiPath != "" && !urlutil.MatchPrefix(s.req.Path, apiPath) {
		s.setResult(s.handler.ReceiveError(s.req, s.body, headers.WrongAPINameOrVersion, "", nil))
		return
	}

	result := s.handler.Receive(s.receptionID, s.req, s.body, ts)
	s.setResult(result)

	if result.DelayMS > 0 {
		elapsed := nowUS() - ts
		delayUS := time.Duration(result.DelayMS)*time.Millisecond - elapsed
		if delayUS < 0 {
			delayUS = 0
		}
		s.armTimer(delayUS)
		return
	}
	if d := s.handler.ResponseDelayTimer(s.receptionID); d > 0 {
		s.armTimer(d)
	}
}

func (s *Stream) setResult(r Result) {
	s.mu.Lock()
	s.result = r
	s.mu.Unlock()
}

func (s *Stream) armTimer(d time.Duration) {
	s.mu.Lock()
	s.needTimer = true
	s.delay = d
	s.mu.Unlock()
}

func (s *Stream) commit() {
	for {
		s.mu.Lock()
		needTimer := s.needTimer
		delay := s.delay
		s.mu.Unlock()
		if !needTimer {
			break
		}

		if cancelled := s.waitDelay(delay); cancelled {
			return
		}

		if d := s.handler.ResponseDelayTimer(s.receptionID); d > 0 {
			s.armTimer(d)
			continue
		}
		s.mu.Lock()
		s.needTimer = false
		s.mu.Unlock()
		break
	}

	s.write()
}

// waitDelay blocks for d or until the stream is closed/errored early,
// whichever comes first. It returns true when the wait was cancelled.
func (s *Stream) waitDelay(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-s.cancelTimer:
			return true
		default:
			return false
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return false
	case <-s.cancelTimer:
		return true
	}
}

// write commits the stream's result. A Result.Status below 100 asks for
// an RST_STREAM rather than a normal response; it cannot be applied here
// because Sink.Reset aborts via panic(http.ErrAbortHandler), which only
// unwinds correctly on the goroutine net/http recovers it on. write
// instead records the intent for TakePendingReset, and the caller (the
// HTTP handler goroutine, which may not be this one when commit runs on
// a dispatcher worker) performs the actual reset once Commit returns.
func (s *Stream) write() {
	s.mu.Lock()
	if s.closed || s.errored {
		s.mu.Unlock()
		return
	}
	result := s.result
	s.mu.Unlock()

	if result.Status < 100 {
		s.mu.Lock()
		s.resetPending = true
		s.resetCode = uint32(result.Status)
		s.mu.Unlock()
		return
	}
	s.sink.WriteHead(result.Status, result.Headers)
	s.sink.End(result.Body)
}

// TakePendingReset reports and clears whether write decided this stream
// must be aborted with the given HTTP/2 error code instead of writing a
// normal response. Callers must perform the actual Sink.Reset themselves,
// on the goroutine that owns the HTTP handler invocation.
func (s *Stream) TakePendingReset() (code uint32, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok = s.resetCode, s.resetPending
	s.resetPending = false
	return code, ok
}

// Close is the protocol layer's normal (error_code==0) close callback. It
// is idempotent and wakes any goroutine blocked in Commit's delay wait.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		result := s.result
		receptionTS := s.receptionTS
		s.mu.Unlock()
		close(s.cancelTimer)
		s.recordTermination(result, "", receptionTS)
	})
}

// Error is the protocol layer's close callback with a non-zero error code
// (RST_STREAM or GOAWAY from the peer).
func (s *Stream) Error(errorCode uint32) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.errored = true
		s.rstCode = errorCode
		receptionTS := s.receptionTS
		s.mu.Unlock()
		close(s.cancelTimer)

		s.handler.StreamError(errorCode, s.handler.ServerName(), s.receptionID, s.req)
		s.recordTermination(Result{}, rstLabel(errorCode), receptionTS)
	})
}

// RSTCode returns the HTTP/2 error code the stream was terminated with,
// and whether Error was ever called.
func (s *Stream) RSTCode() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rstCode, s.errored
}

func (s *Stream) recordTermination(result Result, rstGoawayCode string, receptionTS time.Duration) {
	if rstGoawayCode != "" {
		s.log.Warnf("stream terminated with %s", rstGoawayCode)
	} else {
		s.log.Debugf("stream committed with status %d", result.Status)
	}

	if s.metrics == nil {
		return
	}
	now := nowUS()
	delaySeconds := (now - receptionTS).Seconds()
	if delaySeconds < 0 {
		delaySeconds = 0
	}
	s.metrics.ObserveDelaySeconds(s.req.Method, delaySeconds)
	s.metrics.ObserveReceivedSize(s.req.Method, len(s.body))
	s.metrics.ObserveSentSize(s.req.Method, len(result.Body))

	statusCode := ""
	if result.Status >= 100 {
		statusCode = itoa(result.Status)
	}
	s.metrics.ObserveResponse(s.req.Method, statusCode, rstGoawayCode)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// rstLabel renders an HTTP/2 error code as the rst_stream_goaway_error_code label value.
func rstLabel(code uint32) string {
	switch code {
	case 0x0:
		return "NO_ERROR"
	case 0x1:
		return "PROTOCOL_ERROR"
	case 0x2:
		return "INTERNAL_ERROR"
	case 0x3:
		return "FLOW_CONTROL_ERROR"
	case 0x7:
		return "REFUSED_STREAM"
	case 0x8:
		return "CANCEL"
	case 0xB:
		return "STREAM_CLOSED"
	default:
		return itoa(int(code))
	}
}
