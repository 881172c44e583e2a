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

// Package publisher implements the publisher side of the transport: a
// listening socket that accepts any number of peers and fans a Publish
// call out to every peer currently in the Ready state, one in-flight send
// pipeline per peer at a time.
package publisher

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/hyb-net/tcpbus/compress"
	"github.com/hyb-net/tcpbus/internal/exec"
	"github.com/hyb-net/tcpbus/stats"
	"github.com/hyb-net/tcpbus/wire"
)

// peer is one accepted socket and its Ready/Busy flag. At most one send
// pipeline (header -> body -> await-ACK) is ever in flight for a peer;
// ready flips false the instant a pipeline claims the peer and flips back
// to true only when that pipeline completes with ACK.
type peer struct {
	conn  net.Conn
	ready atomic.Bool
}

// Publisher accepts connections on one TCP port and delivers each
// Publish call to every peer that is Ready, with no per-peer queueing:
// a peer that is still Busy with a prior send silently misses this one.
type Publisher struct {
	io          *exec.IO
	ln          net.Listener
	compression compress.Mode
	quiet       bool
	stats       *stats.Registry

	mu    sync.Mutex
	peers map[*peer]struct{}
}

// Option configures a Publisher at construction time.
type Option func(*Publisher)

// WithCompression selects the compression Publish applies to every
// message before it enters a send pipeline.
func WithCompression(mode compress.Mode) Option {
	return func(p *Publisher) { p.compression = mode }
}

// WithStats reports peer and message events into r. A nil r (the
// zero value of this option) disables reporting; it is never required.
func WithStats(r *stats.Registry) Option {
	return func(p *Publisher) { p.stats = r }
}

// WithQuiet suppresses the routine "peer accepted"/"peer closed" log
// lines; genuine errors are still logged.
func WithQuiet(quiet bool) Option {
	return func(p *Publisher) { p.quiet = quiet }
}

// New binds port and begins accepting connections on ioExec. It returns
// an error only if the port cannot be bound; every failure after that
// point is handled asynchronously per peer.
func New(ioExec *exec.IO, port int, opts ...Option) (*Publisher, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, errors.Wrapf(err, "bind publisher on port %d", port)
	}

	p := &Publisher{
		io:    ioExec,
		ln:    ln,
		peers: make(map[*peer]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	ioExec.Go(p.acceptLoop)
	return p, nil
}

// Addr returns the listener's bound local address, useful when port 0
// was requested and the OS chose an ephemeral one.
func (p *Publisher) Addr() net.Addr {
	return p.ln.Addr()
}

// acceptLoop perpetually accepts connections; on any outcome (success or
// failure) it immediately rearms. It only terminates when ctx is
// canceled, which happens when the owning IO executor stops.
func (p *Publisher) acceptLoop(ctx context.Context) {
	go func() {
		<-ctx.Done()
		p.ln.Close()
	}()

	for {
		conn, err := p.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Println("publisher: accept:", err)
				continue
			}
		}

		pr := &peer{conn: conn}
		pr.ready.Store(true)

		p.mu.Lock()
		p.peers[pr] = struct{}{}
		p.mu.Unlock()

		p.stats.PeerAccepted()
		if !p.quiet {
			log.Println("publisher: peer accepted:", conn.RemoteAddr())
		}
	}
}

// Publish posts a send attempt to every currently Ready peer and returns
// immediately. Compression failure on encode silently drops the message;
// per-peer I/O failure tears that peer down without affecting others.
func (p *Publisher) Publish(typeID uint32, msg []byte) {
	payload, ok := p.encode(msg)
	if !ok {
		return
	}

	header := wire.EncodeHeader(typeID, uint32(len(payload)))

	p.mu.Lock()
	peers := make([]*peer, 0, len(p.peers))
	for pr := range p.peers {
		peers = append(peers, pr)
	}
	p.mu.Unlock()

	for _, pr := range peers {
		if !pr.ready.CompareAndSwap(true, false) {
			continue
		}
		pr := pr
		p.io.Go(func(ctx context.Context) {
			p.sendPipeline(pr, header, payload)
		})
	}
}

func (p *Publisher) encode(msg []byte) ([]byte, bool) {
	switch p.compression {
	case compress.Zlib:
		return compress.CompressZlib(msg), true
	case compress.JPEG:
		w, h, c, pixels, err := compress.DecodeImageMessage(msg)
		if err != nil {
			p.stats.CompressionFailure()
			return nil, false
		}
		out, err := compress.CompressJPEG(w, h, c, pixels)
		if err != nil {
			p.stats.CompressionFailure()
			return nil, false
		}
		return out, true
	default:
		return msg, true
	}
}

// sendPipeline drives one peer through Sending-Header -> Sending-Body ->
// Awaiting-ACK. Go's net.Conn already loops internally until a Write
// either completes in full or fails, which is the blocking-I/O
// equivalent of the partial-write-advances-cursor states in an
// async-callback transport; a byte-cursor loop here would only
// re-implement what the runtime already guarantees.
func (p *Publisher) sendPipeline(pr *peer, header [wire.HeaderSize]byte, payload []byte) {
	if _, err := pr.conn.Write(header[:]); err != nil {
		p.closePeer(pr)
		return
	}

	if len(payload) > 0 {
		if _, err := pr.conn.Write(payload); err != nil {
			p.closePeer(pr)
			return
		}
	}

	var ctrl [1]byte
	if _, err := io.ReadFull(pr.conn, ctrl[:]); err != nil {
		p.closePeer(pr)
		return
	}

	if !wire.IsAck(ctrl[0]) {
		p.stats.ProtocolViolation()
		p.closePeer(pr)
		return
	}

	p.stats.AckReceived()
	p.stats.MessagePublished()
	pr.ready.Store(true)
}

func (p *Publisher) closePeer(pr *peer) {
	p.mu.Lock()
	_, present := p.peers[pr]
	delete(p.peers, pr)
	p.mu.Unlock()

	if !present {
		return
	}

	pr.conn.Close()
	p.stats.PeerClosed()
	if !p.quiet {
		log.Println("publisher: peer closed:", pr.conn.RemoteAddr())
	}
}

// Close stops accepting new peers and tears down every connected peer.
// It does not join the accept loop; callers that need that should stop
// the owning IO executor.
func (p *Publisher) Close() error {
	err := p.ln.Close()

	p.mu.Lock()
	peers := make([]*peer, 0, len(p.peers))
	for pr := range p.peers {
		peers = append(peers, pr)
	}
	p.peers = make(map[*peer]struct{})
	p.mu.Unlock()

	for _, pr := range peers {
		pr.conn.Close()
	}

	if err != nil {
		return errors.Wrap(err, "close publisher listener")
	}
	return nil
}

// PeerCount returns the number of currently connected peers, for tests
// and operational introspection.
func (p *Publisher) PeerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}
