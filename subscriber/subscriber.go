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

// Package subscriber implements the subscriber side of the transport: a
// best-effort connection to one publisher that receives framed messages,
// ACKs each one, and dispatches the latest payload per message type to a
// user handler on the Node's main executor.
package subscriber

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hyb-net/tcpbus/compress"
	"github.com/hyb-net/tcpbus/internal/exec"
	"github.com/hyb-net/tcpbus/stats"
	"github.com/hyb-net/tcpbus/wire"
)

// Handler consumes one fully received, decompressed payload. It runs on
// the main executor and is never called concurrently with itself for the
// same message type id.
type Handler func(payload []byte)

// defaultBackoff is the constant reconnect delay applied after a failed
// dial attempt. The spec does not call for exponential back-off; a
// subscriber that cannot reach its publisher simply keeps trying at this
// cadence until it is closed.
const defaultBackoff = 30 * time.Millisecond

// Subscriber maintains a best-effort connection to one host:port,
// coalescing the latest undelivered payload per message type and
// dispatching it to its handler.
type Subscriber struct {
	main        *exec.Main
	host        string
	port        int
	handlers    map[uint32]Handler
	compression compress.Mode
	quiet       bool
	backoff     time.Duration
	stats       *stats.Registry

	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[uint32][]byte
	conn    net.Conn
}

// Option configures a Subscriber at construction time.
type Option func(*Subscriber)

// WithCompression selects the inverse transform applied to a received
// body before it reaches a handler. JPEG has no subscriber-side decoder:
// selecting it leaves bodies untouched, matching the publisher-side
// asymmetry documented in the compress package.
func WithCompression(mode compress.Mode) Option {
	return func(s *Subscriber) { s.compression = mode }
}

// WithStats reports connect, ACK, and dispatch events into r.
func WithStats(r *stats.Registry) Option {
	return func(s *Subscriber) { s.stats = r }
}

// WithQuiet suppresses the routine connect/disconnect log lines; genuine
// errors are still logged.
func WithQuiet(quiet bool) Option {
	return func(s *Subscriber) { s.quiet = quiet }
}

// WithBackoff overrides the constant reconnect delay used after a failed
// dial attempt. Tests use this to avoid waiting out the real default.
func WithBackoff(d time.Duration) Option {
	return func(s *Subscriber) { s.backoff = d }
}

// New returns immediately; the connection attempt and every subsequent
// reconnect run on ioExec. handlers is treated as immutable for the
// lifetime of the Subscriber: write it fully before calling New, then
// leave it alone.
func New(mainExec *exec.Main, ioExec *exec.IO, host string, port int, handlers map[uint32]Handler, opts ...Option) *Subscriber {
	s := &Subscriber{
		main:     mainExec,
		host:     host,
		port:     port,
		handlers: handlers,
		backoff:  defaultBackoff,
		pending:  make(map[uint32][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithCancel(ioExec.Context())
	s.cancel = cancel

	ioExec.Go(func(context.Context) {
		s.connectLoop(ctx)
	})

	return s
}

func (s *Subscriber) addr() string {
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

// connectLoop dials, and on success hands off to receiveLoop until a
// fatal error or ctx cancellation; on failure it waits a constant
// back-off before trying again. It always eventually retries while ctx
// is live.
func (s *Subscriber) connectLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := net.Dial("tcp", s.addr())
		s.stats.ReconnectAttempt()
		if err != nil {
			if !s.quiet {
				log.Println("subscriber: dial:", err)
			}
			select {
			case <-time.After(s.backoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		s.setConn(conn)
		if !s.quiet {
			log.Println("subscriber: connected:", conn.RemoteAddr())
		}

		s.receiveLoop(ctx, conn)

		s.setConn(nil)
		conn.Close()
		if !s.quiet {
			log.Println("subscriber: disconnected:", conn.RemoteAddr())
		}
	}
}

func (s *Subscriber) setConn(conn net.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// receiveLoop drives Recv-Header -> Recv-Body -> Coalesce -> Send-ACK
// until ctx is canceled or any step fails. A background goroutine closes
// conn when ctx is canceled so a blocked Read/Write unblocks promptly -
// Go's net.Conn has no way to select on a context directly.
func (s *Subscriber) receiveLoop(ctx context.Context, conn net.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var hdr [wire.HeaderSize]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		h := wire.DecodeHeader(hdr[:])

		body := make([]byte, h.Size)
		if h.Size > 0 {
			if _, err := io.ReadFull(conn, body); err != nil {
				return
			}
		}

		payload, ok := s.decode(body)
		if !ok {
			// Compression failure on decode is treated as transport
			// corruption: close and reconnect, no handler is invoked.
			return
		}

		s.coalesce(h.TypeID, payload)

		if _, err := conn.Write([]byte{wire.EncodeAck()}); err != nil {
			return
		}
		s.stats.AckSent()
	}
}

func (s *Subscriber) decode(body []byte) ([]byte, bool) {
	if s.compression != compress.Zlib {
		return body, true
	}
	out, err := compress.DecompressZlib(body)
	if err != nil {
		s.stats.CompressionFailure()
		return nil, false
	}
	return out, true
}

// coalesce installs payload as the pending entry for typeID, scheduling a
// dispatch task only if one is not already queued for this id. dispatch
// removes the entry before it invokes the handler, so a payload that
// arrives while the handler runs schedules a new task.
func (s *Subscriber) coalesce(typeID uint32, payload []byte) {
	s.mu.Lock()
	_, alreadyScheduled := s.pending[typeID]
	s.pending[typeID] = payload
	s.mu.Unlock()

	if alreadyScheduled {
		return
	}

	s.main.Post(func() {
		s.dispatch(typeID)
	})
}

// dispatch takes ownership of the pending payload for typeID and invokes
// its handler. If no entry remains - the racy second-swap edge case the
// protocol tolerates by design - it is a no-op.
func (s *Subscriber) dispatch(typeID uint32) {
	s.mu.Lock()
	payload, ok := s.pending[typeID]
	if ok {
		delete(s.pending, typeID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	handler, ok := s.handlers[typeID]
	if !ok {
		s.stats.PayloadDropped()
		return
	}

	s.stats.MessageDelivered()
	handler(payload)
}

// Close stops the connect/receive loop and closes any active socket. It
// does not wait for the underlying goroutine to exit; callers that need
// that should stop the owning IO executor instead.
func (s *Subscriber) Close() error {
	s.cancel()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return errors.Wrap(err, "close subscriber connection")
	}
	return nil
}
