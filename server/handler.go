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
	"time"

	"github.com/testillano/http2comm/headers"
	"github.com/testillano/http2comm/stream"
)

// Handler is the full set of extension points spec.md §4.4 describes.
// Receive is the only method without a sensible default; embed
// DefaultHandler to get every other method for free and override what's
// needed.
type Handler interface {
	stream.Handler

	// ReceiveDataLen reports whether incoming body chunks should be
	// copied into the stream's buffer. Default true.
	ReceiveDataLen(req stream.Request) bool
	// PreReserveRequestBody reports whether the stream's body buffer
	// should be pre-allocated to the largest body size seen so far on
	// this server. Default true.
	PreReserveRequestBody() bool
}

// DefaultHandler supplies every extension point except Receive. Embed it
// in a concrete handler type and implement Receive (and APIPath/APIVersion
// via NewDefaultHandler, or override any other method as needed).
type DefaultHandler struct {
	apiName    string
	apiVersion string
	apiPath    string
	serverName string
}

// NewDefaultHandler seeds the API name/version/enforcement path and the
// server name used by defaults and observability hooks.
func NewDefaultHandler(serverName, apiName, apiVersion string) DefaultHandler {
	return DefaultHandler{
		serverName: serverName,
		apiName:    apiName,
		apiVersion: apiVersion,
		apiPath:    apiPathOf(apiName, apiVersion),
	}
}

func apiPathOf(name, version string) string {
	if name == "" {
		return ""
	}
	if version == "" {
		return "/" + name
	}
	return "/" + name + "/" + version
}

func (DefaultHandler) CheckMethodIsAllowed(stream.Request) (bool, []string) { return true, nil }
func (DefaultHandler) CheckMethodIsImplemented(stream.Request) bool         { return true }
func (DefaultHandler) CheckHeaders(stream.Request) bool                     { return true }
func (DefaultHandler) ReceiveDataLen(stream.Request) bool                   { return true }
func (DefaultHandler) PreReserveRequestBody() bool                          { return true }
func (DefaultHandler) ResponseDelayTimer(uint64) time.Duration              { return 0 }
func (DefaultHandler) StreamError(uint32, string, uint64, stream.Request)   {}

func (h DefaultHandler) APIPath() string    { return h.apiPath }
func (h DefaultHandler) APIVersion() string { return h.apiVersion }
func (h DefaultHandler) APIName() string    { return h.apiName }
func (h DefaultHandler) ServerName() string { return h.serverName }

// ReceiveError is the default error-body formatter: {"cause":"<text>"}
// when cause.Cause is non-empty, else "{}"; content-type
// application/problem+json; Allow/Location/x-version stamped when given.
func (h DefaultHandler) ReceiveError(_ stream.Request, _ []byte, cause headers.StatusError, location string, allowedMethods []string) stream.Result {
	hb := headers.New().
		AddVersion(h.apiVersion).
		AddLocation(location).
		AddAllowedMethods(allowedMethods).
		AddContentType(headers.ContentType)

	return stream.Result{
		Status:  cause.Status,
		Headers: hb.Get(),
		Body:    []byte(cause.Body()),
	}
}
