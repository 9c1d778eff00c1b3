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

// Package headers assembles the small set of response-header helpers the
// server needs: a generic header builder (Headers) and a narrower
// ResponseHeader helper that fills in version/location/allow plus the
// per-response content-length.
package headers

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// Headers is a header builder over an http.Header map; setting a name
// again replaces its value. A value is only added when non-empty,
// mirroring the C++ original's emplace() contract.
type Headers struct {
	h http.Header
}

// New returns an empty Headers builder.
func New() *Headers {
	return &Headers{h: http.Header{}}
}

// AddVersion sets the x-version header (or a caller-supplied header name).
func (b *Headers) AddVersion(value string, header ...string) *Headers {
	return b.Add(headerName(header, "x-version"), value)
}

// AddLocation sets the location header (or a caller-supplied header name).
func (b *Headers) AddLocation(value string, header ...string) *Headers {
	return b.Add(headerName(header, "location"), value)
}

// AddAllowedMethods sets the Allow header as a comma-space joined list.
func (b *Headers) AddAllowedMethods(methods []string, header ...string) *Headers {
	if len(methods) == 0 {
		return b
	}
	return b.Add(headerName(header, "Allow"), strings.Join(methods, ", "))
}

// AddContentLength sets the content-length header.
func (b *Headers) AddContentLength(value int, header ...string) *Headers {
	return b.Add(headerName(header, "content-length"), strconv.Itoa(value))
}

// AddContentType sets the content-type header.
func (b *Headers) AddContentType(value string, header ...string) *Headers {
	return b.Add(headerName(header, "content-type"), value)
}

// Add sets header to value, only when value is non-empty.
func (b *Headers) Add(header, value string) *Headers {
	if value == "" {
		return b
	}
	b.h.Set(header, value)
	return b
}

// Get returns the http.Header built so far, for handing to an http.ResponseWriter.
func (b *Headers) Get() http.Header {
	return b.h
}

// String renders the headers sorted by name, e.g.
// "[Content-Length: 200][Content-Type: application/json]", for tracing.
func (b *Headers) String() string {
	return AsString(b.h)
}

// AsString renders an http.Header sorted by name for tracing, matching the
// original's headersAsString helper.
func AsString(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString("[")
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(strings.Join(h[k], ","))
		sb.WriteString("]")
	}
	return sb.String()
}

func headerName(override []string, def string) string {
	if len(override) > 0 && override[0] != "" {
		return override[0]
	}
	return def
}

// ResponseHeader prebuilds the version/location/allow triple shared by
// every response from a single endpoint, then stamps the per-response
// content-length onto it.
type ResponseHeader struct {
	version        string
	location       string
	allowedMethods []string
}

// NewResponseHeader mirrors the C++ constructor's (version, location, allowedMethods) triple.
func NewResponseHeader(version, location string, allowedMethods []string) ResponseHeader {
	return ResponseHeader{version: version, location: location, allowedMethods: allowedMethods}
}

// GetResponseHeader returns the header set for a response of the given
// content length; status is accepted for parity with the original
// signature but carried by the HTTP status line, not a header, in Go's
// http.ResponseWriter model.
func (r ResponseHeader) GetResponseHeader(contentLength int, _ int) http.Header {
	b := New().
		AddVersion(r.version).
		AddLocation(r.location).
		AddAllowedMethods(r.allowedMethods).
		AddContentLength(contentLength)
	return b.Get()
}
