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

// Package node is the transport's user-facing surface: it owns the two
// executors and every Publisher/Subscriber built on top of them, and
// exposes the advertise/subscribe/run/run_once/sleep contract. There is
// no broker, discovery, or topic naming service behind it - a Node is
// just the place where a process's publishers and subscribers live.
package node

import (
	"sync"

	"github.com/hyb-net/tcpbus/compress"
	"github.com/hyb-net/tcpbus/internal/exec"
	"github.com/hyb-net/tcpbus/pacer"
	"github.com/hyb-net/tcpbus/publisher"
	"github.com/hyb-net/tcpbus/stats"
	"github.com/hyb-net/tcpbus/subscriber"
)

// Node composes a set of publishers and subscribers around the two
// executors that isolate network I/O from user message handlers.
type Node struct {
	io    *exec.IO
	main  *exec.Main
	pacer *pacer.Pacer
	stats *stats.Registry

	mu          sync.Mutex
	publishers  []*publisher.Publisher
	subscribers []*subscriber.Subscriber
	closed      bool
}

// Option configures a Node at construction time.
type Option func(*Node)

// WithStats reports every publisher's and subscriber's events into r.
// Individual Advertise/Subscribe calls can still override it per
// endpoint via their own With* options.
func WithStats(r *stats.Registry) Option {
	return func(n *Node) { n.stats = r }
}

// New spawns the IO executor with a live work guard - it keeps running
// independent of whether any task is queued - and a Pacer targeting
// targetFPS calls to Sleep per second.
func New(targetFPS float64, opts ...Option) *Node {
	n := &Node{
		io:    exec.NewIO(),
		main:  exec.NewMain(),
		pacer: pacer.New(targetFPS),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Advertise binds port and begins accepting peers. compression selects
// the transform Publish applies to every message before sending; pass
// compress.None to send payloads unmodified. The returned error is only
// ever a bind failure - every per-peer failure after that point is
// handled asynchronously.
func (n *Node) Advertise(port int, compression compress.Mode, opts ...publisher.Option) (*publisher.Publisher, error) {
	allOpts := append([]publisher.Option{publisher.WithStats(n.stats), publisher.WithCompression(compression)}, opts...)
	p, err := publisher.New(n.io, port, allOpts...)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.publishers = append(n.publishers, p)
	n.mu.Unlock()

	return p, nil
}

// Subscribe returns immediately; the connection attempt runs on the IO
// executor. handlers is read-only once passed in: build it completely
// before calling Subscribe. compression selects the inverse of whatever
// transform the remote Publisher applies.
func (n *Node) Subscribe(host string, port int, handlers map[uint32]subscriber.Handler, compression compress.Mode, opts ...subscriber.Option) *subscriber.Subscriber {
	allOpts := append([]subscriber.Option{subscriber.WithStats(n.stats), subscriber.WithCompression(compression)}, opts...)
	s := subscriber.New(n.main, n.io, host, port, handlers, allOpts...)

	n.mu.Lock()
	n.subscribers = append(n.subscribers, s)
	n.mu.Unlock()

	return s
}

// Run installs a work guard on the main executor and runs it until
// Close is called. It blocks the calling goroutine.
func (n *Node) Run() {
	n.main.Run()
}

// RunOnce polls at most one ready main-executor task and returns
// immediately, leaving the executor ready for the next call.
func (n *Node) RunOnce() {
	n.main.RunOnce()
}

// Sleep paces the caller's own loop to this Node's target frequency.
func (n *Node) Sleep() {
	n.pacer.Sleep()
}

// Close signals stop to both executors and joins the IO executor's
// goroutines; in-flight callbacks are allowed to unwind via their own
// owning references before this returns.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	pubs := n.publishers
	subs := n.subscribers
	n.mu.Unlock()

	n.main.Stop()

	for _, s := range subs {
		s.Close()
	}
	for _, p := range pubs {
		p.Close()
	}

	n.io.Stop()
	return nil
}
