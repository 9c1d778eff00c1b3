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

// Package errcode gives the framework's internal failures a small numeric
// classification on top of Go's error interface, in the spirit of HTTP
// status codes: a Code, a message, an optional parent chain and a capture
// site. It is not meant to replace error wrapping, only to make the
// handful of framework-level failures (dispatcher setup, TLS load, config
// validation, connect/submit failures) easy to match with Is/HasCode
// without string comparison.
package errcode

import (
	"errors"
	"fmt"
	"runtime"
)

// Code is a small numeric classification, local to this module.
type Code uint16

const (
	Unknown Code = iota
	DispatcherBadThreadCount
	TLSLoadFailed
	ConfigValidation
	ServerListen
	ServerAlreadyRunning
	ConnectionFailed
	SubmitFailed
	ReconnectInProgress
)

var messages = map[Code]string{
	Unknown:                  "unknown error",
	DispatcherBadThreadCount: "dispatcher thread count must be > 0 and max >= base (or 0)",
	TLSLoadFailed:            "failed to load TLS key/certificate pair",
	ConfigValidation:         "configuration failed validation",
	ServerListen:             "server failed to start listening",
	ServerAlreadyRunning:     "server is already running",
	ConnectionFailed:         "failed to establish http2 connection",
	SubmitFailed:             "failed to submit request to session",
	ReconnectInProgress:      "a reconnect attempt is already in progress",
}

func (c Code) String() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return messages[Unknown]
}

// Error is the error type returned across package boundaries in this
// module. It carries a Code, an optional wrapped parent error and the
// file:line where it was created.
type Error struct {
	code   Code
	msg    string
	parent error
	file   string
	line   int
}

// New creates an Error with the given code and no parent.
func New(code Code) *Error {
	return newAt(code, code.String(), nil, 2)
}

// Newf creates an Error with the given code and a formatted message that
// replaces the code's default message (the code is preserved for HasCode).
func Newf(code Code, format string, args ...any) *Error {
	return newAt(code, fmt.Sprintf(format, args...), nil, 2)
}

// Wrap creates an Error with the given code, wrapping parent as its cause.
// If parent is nil, Wrap behaves like New.
func Wrap(code Code, parent error) *Error {
	return newAt(code, code.String(), parent, 2)
}

func newAt(code Code, msg string, parent error, skip int) *Error {
	file, line := "", 0
	if _, f, l, ok := runtime.Caller(skip); ok {
		file, line = f, l
	}
	return &Error{code: code, msg: msg, parent: parent, file: file, line: line}
}

func (e *Error) Error() string {
	if e.parent != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.parent.Error())
	}
	return e.msg
}

// Unwrap exposes the parent error to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.parent }

// Code returns the error's classification code.
func (e *Error) Code() Code { return e.code }

// Site returns the file:line where the error was constructed.
func (e *Error) Site() string { return fmt.Sprintf("%s:%d", e.file, e.line) }

// HasCode reports whether e or any error in its chain carries the given code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var e *Error
		if errors.As(err, &e) {
			if e.code == code {
				return true
			}
			err = e.parent
			continue
		}
		return false
	}
	return false
}
