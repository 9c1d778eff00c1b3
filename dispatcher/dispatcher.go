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

// Package dispatcher implements a bounded-elasticity worker pool: a FIFO
// queue of work items served by a base number of goroutines that can grow,
// one at a time, up to a maximum when every current worker is busy.
package dispatcher

import (
	"sync"
	"sync/atomic"

	"github.com/testillano/http2comm/errcode"
	"github.com/testillano/http2comm/htlog"
)

// Item is a unit of work the dispatcher hands to a worker goroutine.
// Process is invoked with the (busyThreads, queueSize) snapshot observed
// just before the dispatcher released its lock, so an item can shape its
// own congestion response (e.g. answer 503 instead of doing real work).
// Commit runs immediately after Process returns (or panics), still off the
// dispatcher lock, and is where an item would write its durable result. The worker
// is considered free again as soon as Commit returns, so an item whose
// durable result isn't ready yet (e.g. it's waiting out a scheduled
// delay) should hand that wait off to its own goroutine rather than
// blocking Commit on it — the pool's capacity tracks processing time,
// not however long finishing the response takes afterward.
type Item interface {
	Process(busyThreads, queueSize int)
	Commit()
}

// Dispatcher is a named, bounded-elasticity FIFO worker pool.
type Dispatcher struct {
	name string
	log  htlog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Item
	quit    bool
	threads int
	maxThr  int

	busy atomic.Int64
	wg   sync.WaitGroup
}

// New creates a Dispatcher with baseThreads running goroutines. maxThreads
// of 0 fixes the pool at baseThreads; otherwise it must be >= baseThreads.
func New(name string, baseThreads, maxThreads int, log htlog.Logger) (*Dispatcher, error) {
	if baseThreads <= 0 || (maxThreads != 0 && maxThreads < baseThreads) {
		return nil, errcode.New(errcode.DispatcherBadThreadCount)
	}
	if maxThreads == 0 {
		maxThreads = baseThreads
	}
	if log == nil {
		log = htlog.NoOp()
	}

	d := &Dispatcher{name: name, log: log, maxThr: maxThreads}
	d.cond = sync.NewCond(&d.mu)

	d.log.Infof("creating dispatch queue %q with %d threads and a maximum of %d", name, baseThreads, maxThreads)

	for i := 0; i < baseThreads; i++ {
		d.spawnLocked()
	}
	return d, nil
}

// spawnLocked must be called with mu held. It increments the thread count
// and starts one worker goroutine.
func (d *Dispatcher) spawnLocked() {
	d.threads++
	d.wg.Add(1)
	go d.worker()
}

// Dispatch enqueues item. If every current worker is busy and the pool
// hasn't reached its maximum, one new worker is spawned first.
func (d *Dispatcher) Dispatch(item Item) {
	d.mu.Lock()
	if int(d.busy.Load()) == d.threads && d.threads < d.maxThr {
		d.spawnLocked()
	}
	d.queue = append(d.queue, item)
	d.mu.Unlock()
	d.cond.Signal()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	d.mu.Lock()
	for {
		for len(d.queue) == 0 && !d.quit {
			d.cond.Wait()
		}
		if d.quit {
			d.mu.Unlock()
			return
		}

		item := d.queue[0]
		d.queue = d.queue[1:]
		d.busy.Add(1)
		busySnapshot := int(d.busy.Load())
		sizeSnapshot := len(d.queue)
		d.mu.Unlock()

		runItem(item, busySnapshot, sizeSnapshot, d.log)

		d.mu.Lock()
		d.busy.Add(-1)
	}
}

// runItem isolates a panicking user handler so it cannot take down the
// worker goroutine: the worker catches and logs, the pool keeps running.
// Commit still runs when Process panics, so the item always gets to
// finish its result.
func runItem(item Item, busy, size int, log htlog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("recovered from panic in dispatched item: %v", r)
		}
	}()
	defer item.Commit()
	item.Process(busy, size)
}

// BusyThreads returns the instantaneous count of workers currently
// executing an item.
func (d *Dispatcher) BusyThreads() int { return int(d.busy.Load()) }

// Threads returns the instantaneous total worker count.
func (d *Dispatcher) Threads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threads
}

// Size returns the instantaneous queue depth.
func (d *Dispatcher) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Name returns the dispatcher's construction-time name.
func (d *Dispatcher) Name() string { return d.name }

// Stop signals all workers to quit after their current item, discards
// anything still queued, and blocks until every worker has exited.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.quit = true
	d.mu.Unlock()
	d.cond.Broadcast()
	d.wg.Wait()
}
