// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package exec provides the Node's two task queues: an IO executor that
// runs network callbacks on background goroutines, and a Main executor
// that serializes user handlers onto whatever goroutine calls Run/RunOnce.
package exec

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// IO runs network callbacks: accept loops, read/write continuations,
// reconnect timers. Every posted task is tolerant of concurrent execution
// across distinct peers; callers are responsible for serializing a single
// peer's own state machine (the continuation chain already does this by
// construction - one Go call starts the next step only after the previous
// one finishes).
type IO struct {
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewIO creates an IO executor with a live work guard: it keeps running
// until Stop is called, independent of whether any task is currently
// queued.
func NewIO() *IO {
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	return &IO{group: group, ctx: ctx, cancel: cancel}
}

// Context is canceled the moment Stop is called; long-lived tasks (accept
// loops, reconnect timers) select on it to unwind promptly.
func (e *IO) Context() context.Context {
	return e.ctx
}

// Go launches fn on a new goroutine tracked by this executor's join group.
// fn should return promptly once e.Context() is canceled.
func (e *IO) Go(fn func(ctx context.Context)) {
	e.group.Go(func() error {
		fn(e.ctx)
		return nil
	})
}

// Stop cancels every task's context and blocks until all of them return.
func (e *IO) Stop() {
	e.cancel()
	_ = e.group.Wait()
}

// Main serializes user handler dispatch and the user's own run loop onto a
// single logical thread: whoever calls Run or RunOnce. The network layer
// never touches this executor directly; it only ever Posts onto it.
type Main struct {
	tasks chan func()
	stop  chan struct{}
}

// NewMain creates a Main executor whose task queue buffers 256 tasks;
// Post blocks the IO executor that calls it only once that buffer is full.
func NewMain() *Main {
	return &Main{
		tasks: make(chan func(), 256),
		stop:  make(chan struct{}),
	}
}

// Post enqueues fn to run on whichever goroutine next calls Run or
// RunOnce. Post never runs fn inline; it only blocks if the queue is full
// and the executor has not been stopped.
func (m *Main) Post(fn func()) {
	select {
	case m.tasks <- fn:
	case <-m.stop:
	}
}

// Run installs a work guard and drains tasks until Stop is called. It
// blocks the calling goroutine; that goroutine becomes "the" main
// executor for as long as Run is running.
func (m *Main) Run() {
	for {
		select {
		case fn := <-m.tasks:
			fn()
		case <-m.stop:
			return
		}
	}
}

// RunOnce polls at most one ready task and returns immediately, leaving
// the executor ready for the next call. It never blocks waiting for a
// task to appear.
func (m *Main) RunOnce() {
	select {
	case fn := <-m.tasks:
		fn()
	default:
	}
}

// Stop signals Run to return and releases any Post blocked on a full
// queue. A Post made after Stop may still enqueue when the queue has
// room. Already-queued tasks are not drained.
func (m *Main) Stop() {
	close(m.stop)
}
