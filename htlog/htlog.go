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

// Package htlog is the logging facility consumed by server and client. It
// is deliberately thin: the concrete sink (file, syslog, stdout, a remote
// collector) is out of scope for this module, per spec.md §1. Callers
// inject a FuncLog; when none is given, a no-op Logger discards everything.
package htlog

import (
	"github.com/sirupsen/logrus"
)

// Logger is the minimal structured-logging surface the framework needs.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	WithField(key string, value any) Logger
	WithError(err error) Logger
}

// FuncLog returns a Logger instance. Server and client constructors accept
// one; it is called once per instance and the result reused.
type FuncLog func() Logger

// NewLogrus wraps a *logrus.Logger (or logrus.StandardLogger() if nil) as a Logger.
func NewLogrus(l *logrus.Logger) Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

type logrusLogger struct {
	entry *logrus.Entry
}

func (l *logrusLogger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithField(key string, value any) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{entry: l.entry.WithError(err)}
}

// noop discards everything; used when a component is constructed without a FuncLog.
type noop struct{}

func (noop) Debugf(string, ...any)      {}
func (noop) Infof(string, ...any)       {}
func (noop) Warnf(string, ...any)       {}
func (noop) Errorf(string, ...any)      {}
func (n noop) WithField(string, any) Logger { return n }
func (n noop) WithError(error) Logger       { return n }

// NoOp returns a Logger that discards every call.
func NoOp() Logger { return noop{} }

// Resolve calls f if non-nil and its result is non-nil, otherwise returns NoOp().
func Resolve(f FuncLog) Logger {
	if f == nil {
		return NoOp()
	}
	if l := f(); l != nil {
		return l
	}
	return NoOp()
}
