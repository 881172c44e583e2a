package subscriber

import (
	"bytes"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hyb-net/tcpbus/compress"
	"github.com/hyb-net/tcpbus/internal/exec"
	"github.com/hyb-net/tcpbus/wire"
)

// fakePublisher is a minimal hand-rolled TCP server that speaks exactly
// the wire protocol a publisher speaks, so these tests exercise
// Subscriber in isolation.
type fakePublisher struct {
	t  *testing.T
	ln net.Listener
}

func newFakePublisher(t *testing.T) *fakePublisher {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fp := &fakePublisher{t: t, ln: ln}
	t.Cleanup(func() { ln.Close() })
	return fp
}

func (fp *fakePublisher) hostPort() (string, int) {
	host, portStr, err := net.SplitHostPort(fp.ln.Addr().String())
	if err != nil {
		fp.t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		fp.t.Fatalf("parse port: %v", err)
	}
	return host, port
}

func (fp *fakePublisher) accept(timeout time.Duration) net.Conn {
	fp.t.Helper()
	fp.ln.(*net.TCPListener).SetDeadline(time.Now().Add(timeout))
	conn, err := fp.ln.Accept()
	if err != nil {
		fp.t.Fatalf("accept: %v", err)
	}
	return conn
}

func sendFrame(t *testing.T, conn net.Conn, typeID uint32, body []byte) {
	t.Helper()
	hdr := wire.EncodeHeader(typeID, uint32(len(body)))
	if _, err := conn.Write(hdr[:]); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if len(body) > 0 {
		if _, err := conn.Write(body); err != nil {
			t.Fatalf("write body: %v", err)
		}
	}
}

func expectAck(t *testing.T, conn net.Conn, timeout time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	var ctrl [1]byte
	if _, err := io.ReadFull(conn, ctrl[:]); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if !wire.IsAck(ctrl[0]) {
		t.Fatalf("expected ACK, got %x", ctrl[0])
	}
}

type testHarness struct {
	main *exec.Main
	io   *exec.IO
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{main: exec.NewMain(), io: exec.NewIO()}
	done := make(chan struct{})
	go func() {
		h.main.Run()
		close(done)
	}()
	t.Cleanup(func() {
		h.main.Stop()
		<-done
		h.io.Stop()
	})
	return h
}

func TestSubscriberReceivesAndAcks(t *testing.T) {
	fp := newFakePublisher(t)
	h := newTestHarness(t)
	host, port := fp.hostPort()

	received := make(chan []byte, 1)
	handlers := map[uint32]Handler{
		7: func(payload []byte) { received <- payload },
	}

	sub := New(h.main, h.io, host, port, handlers, WithBackoff(5*time.Millisecond))
	t.Cleanup(func() { sub.Close() })

	conn := fp.accept(time.Second)
	defer conn.Close()

	sendFrame(t, conn, 7, []byte{0x41, 0x42, 0x43})
	expectAck(t, conn, time.Second)

	select {
	case payload := <-received:
		if !bytes.Equal(payload, []byte{0x41, 0x42, 0x43}) {
			t.Fatalf("got %x, want 414243", payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("handler was never invoked")
	}
}

func TestSubscriberCoalescesUnderSlowHandler(t *testing.T) {
	fp := newFakePublisher(t)
	h := newTestHarness(t)
	host, port := fp.hostPort()

	var mu sync.Mutex
	var calls int
	var last []byte
	done := make(chan struct{})
	handlers := map[uint32]Handler{
		1: func(payload []byte) {
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			calls++
			last = append([]byte(nil), payload...)
			n := calls
			mu.Unlock()
			if n == 10 {
				close(done)
			}
		},
	}

	sub := New(h.main, h.io, host, port, handlers, WithBackoff(5*time.Millisecond))
	t.Cleanup(func() { sub.Close() })

	conn := fp.accept(time.Second)
	defer conn.Close()

	var sent [][]byte
	for i := 0; i < 10; i++ {
		payload := []byte{byte(i), byte(i), byte(i), byte(i)}
		sent = append(sent, payload)
		sendFrame(t, conn, 1, payload)
		expectAck(t, conn, time.Second)
	}

	// Give the handler time to drain whatever it coalesced down to; it
	// is not required to reach exactly 10 calls (it may coalesce), but
	// it must eventually stop making progress on the last sent payload.
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	stable := 0
	var prevCalls int
	for {
		select {
		case <-done:
			goto checkLast
		case <-deadline:
			goto checkLast
		case <-tick.C:
			mu.Lock()
			c := calls
			mu.Unlock()
			if c == prevCalls {
				stable++
			} else {
				stable = 0
			}
			prevCalls = c
			if stable > 20 {
				goto checkLast
			}
		}
	}

checkLast:
	mu.Lock()
	n, lastPayload := calls, last
	mu.Unlock()

	if n < 1 || n > 10 {
		t.Fatalf("handler invoked %d times, want between 1 and 10", n)
	}
	if !bytes.Equal(lastPayload, sent[len(sent)-1]) {
		t.Fatalf("last invocation payload = %x, want %x (the last sent payload)", lastPayload, sent[len(sent)-1])
	}
}

func TestSubscriberReconnectsAfterPublisherRestart(t *testing.T) {
	host := "127.0.0.1"
	ln1, err := net.Listen("tcp", host+":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, portStr, _ := net.SplitHostPort(ln1.Addr().String())
	port, _ := strconv.Atoi(portStr)

	h := newTestHarness(t)
	received := make(chan []byte, 2)
	handlers := map[uint32]Handler{
		1: func(payload []byte) { received <- payload },
	}

	sub := New(h.main, h.io, host, port, handlers, WithBackoff(10*time.Millisecond))
	t.Cleanup(func() { sub.Close() })

	ln1.(*net.TCPListener).SetDeadline(time.Now().Add(time.Second))
	conn1, err := ln1.Accept()
	if err != nil {
		t.Fatalf("accept 1: %v", err)
	}
	sendFrame(t, conn1, 1, []byte("first"))
	expectAck(t, conn1, time.Second)

	select {
	case payload := <-received:
		if string(payload) != "first" {
			t.Fatalf("got %q, want first", payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("first message never delivered")
	}

	conn1.Close()
	ln1.Close()

	ln2, err := net.Listen("tcp", host+":"+portStr)
	if err != nil {
		t.Fatalf("relisten on same port: %v", err)
	}
	defer ln2.Close()

	ln2.(*net.TCPListener).SetDeadline(time.Now().Add(2 * time.Second))
	conn2, err := ln2.Accept()
	if err != nil {
		t.Fatalf("accept 2: %v", err)
	}
	defer conn2.Close()

	sendFrame(t, conn2, 1, []byte("second"))
	expectAck(t, conn2, time.Second)

	select {
	case payload := <-received:
		if string(payload) != "second" {
			t.Fatalf("got %q, want second", payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("second message never delivered after reconnect")
	}
}

func TestSubscriberMidFrameDisconnectInvokesNoHandler(t *testing.T) {
	fp := newFakePublisher(t)
	h := newTestHarness(t)
	host, port := fp.hostPort()

	called := make(chan struct{}, 1)
	handlers := map[uint32]Handler{
		1: func([]byte) { called <- struct{}{} },
	}

	sub := New(h.main, h.io, host, port, handlers, WithBackoff(10*time.Millisecond))
	t.Cleanup(func() { sub.Close() })

	conn := fp.accept(time.Second)
	hdr := wire.EncodeHeader(1, 100)
	conn.Write(hdr[:4]) // partial header only
	conn.Close()

	select {
	case <-called:
		t.Fatalf("handler must not be invoked on a mid-frame disconnect")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSubscriberUnknownTypeIDDropsButStillAcks(t *testing.T) {
	fp := newFakePublisher(t)
	h := newTestHarness(t)
	host, port := fp.hostPort()

	handlers := map[uint32]Handler{} // nothing registered

	sub := New(h.main, h.io, host, port, handlers, WithBackoff(10*time.Millisecond))
	t.Cleanup(func() { sub.Close() })

	conn := fp.accept(time.Second)
	defer conn.Close()

	sendFrame(t, conn, 99, []byte("unhandled"))
	expectAck(t, conn, time.Second)
}

func TestSubscriberZlibRoundTrip(t *testing.T) {
	fp := newFakePublisher(t)
	h := newTestHarness(t)
	host, port := fp.hostPort()

	received := make(chan []byte, 1)
	handlers := map[uint32]Handler{
		1: func(payload []byte) { received <- payload },
	}

	sub := New(h.main, h.io, host, port, handlers, WithCompression(compress.Zlib), WithBackoff(10*time.Millisecond))
	t.Cleanup(func() { sub.Close() })

	conn := fp.accept(time.Second)
	defer conn.Close()

	raw := bytes.Repeat([]byte("zlib round trip payload"), 100)
	sendFrame(t, conn, 1, compress.CompressZlib(raw))
	expectAck(t, conn, time.Second)

	select {
	case payload := <-received:
		if !bytes.Equal(payload, raw) {
			t.Fatalf("decompressed payload mismatch")
		}
	case <-time.After(time.Second):
		t.Fatalf("handler was never invoked")
	}
}

func TestSubscriberCompressionFailureClosesConnection(t *testing.T) {
	fp := newFakePublisher(t)
	h := newTestHarness(t)
	host, port := fp.hostPort()

	called := make(chan struct{}, 1)
	handlers := map[uint32]Handler{
		1: func([]byte) { called <- struct{}{} },
	}

	sub := New(h.main, h.io, host, port, handlers, WithCompression(compress.Zlib), WithBackoff(10*time.Millisecond))
	t.Cleanup(func() { sub.Close() })

	conn := fp.accept(time.Second)
	defer conn.Close()

	sendFrame(t, conn, 1, []byte("not a valid zlib blob"))

	// No ACK should follow a decode failure, and no handler should fire.
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var probe [1]byte
	if _, err := conn.Read(probe[:]); err == nil {
		t.Fatalf("unexpected ACK after a compression decode failure")
	}

	select {
	case <-called:
		t.Fatalf("handler must not be invoked after a compression decode failure")
	default:
	}
}
