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

import "github.com/testillano/http2comm/stream"

// streamItem adapts a *stream.Stream to dispatcher.Item, applying the
// server's congestion policy (spec.md §4.4) from the (busy, size)
// snapshot the dispatcher hands to Process. done is closed once Commit's
// work has actually finished, letting serveHTTP block until the
// dispatched work completes.
type streamItem struct {
	s            *stream.Stream
	queueMaxSize int
	maxThreads   int
	done         chan struct{}
}

func (it streamItem) Process(busy, size int) {
	congested := it.queueMaxSize >= 0 && busy == it.maxThreads && size > it.queueMaxSize
	it.s.Reception(congested)
}

// Commit hands the stream off to its own goroutine rather than running
// CommitNow inline. CommitNow may block waiting out a response delay
// (spec.md §4.5's delay scheduling); running that wait on the dispatcher
// worker goroutine would hold a pool slot for the full delay, sized for
// request-processing throughput, not for arbitrary response delays. This
// lets Commit return immediately so the worker goes back to the queue,
// acting as the decoupled timer context the delay wait needs.
func (it streamItem) Commit() {
	go func() {
		it.s.CommitNow()
		close(it.done)
	}()
}
