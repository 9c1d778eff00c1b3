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

package server

import (
	"net/http"
)

// responseSink adapts an http.ResponseWriter to stream.Sink. Writes are
// serialized by the stream's own mutex (only one of Reception/CommitNow
// touches it at a time), so no extra locking is needed here.
//
// Reset has no access to golang.org/x/net/http2's internal RST_STREAM
// code selection: net/http's handler contract only exposes a best-effort
// abort via panic(http.ErrAbortHandler), which the http2 server then
// turns into a RST_STREAM with a fixed, library-chosen error code. The
// caller-supplied code is kept for logging/metrics (see Stream.Error)
// but cannot steer the wire-level reset the way the C++ original's
// submit_rst_stream primitive could.
type responseSink struct {
	w http.ResponseWriter
}

func (s responseSink) WriteHead(status int, hdr http.Header) {
	dst := s.w.Header()
	for k, v := range hdr {
		dst[k] = v
	}
	s.w.WriteHeader(status)
}

func (s responseSink) End(body []byte) {
	_, _ = s.w.Write(body)
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}

func (s responseSink) Reset(uint32) {
	panic(http.ErrAbortHandler)
}
