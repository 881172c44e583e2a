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

// Package stats is the transport's optional observability surface: a set
// of Prometheus counters any Node, Publisher, or Subscriber can report
// into, plus a periodic CSV dump for operators without a scrape target.
//
// A nil *Registry is valid everywhere a *Registry is accepted; every
// counting method is a no-op on a nil receiver, so wiring stats in is
// opt-in and costs nothing when a caller skips it.
package stats

import (
	"strconv"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the counters a running transport reports into. Create
// one with New, optionally register it with a prometheus.Registerer, and
// pass it to publisher.WithStats / subscriber.WithStats / node options.
type Registry struct {
	PeersAccepted        prometheus.Counter
	PeersClosed          prometheus.Counter
	MessagesPublished    prometheus.Counter
	MessagesDelivered    prometheus.Counter
	AcksSent             prometheus.Counter
	AcksReceived         prometheus.Counter
	ProtocolViolations   prometheus.Counter
	CompressionFailures  prometheus.Counter
	ReconnectAttempts    prometheus.Counter
	PayloadsDropped      prometheus.Counter
}

// New builds a Registry whose metric names are prefixed with namespace
// (e.g. "tcpbus"), ready to be registered with a prometheus.Registerer.
func New(namespace string) *Registry {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      name,
			Help:      help,
		})
	}

	return &Registry{
		PeersAccepted:       counter("peers_accepted_total", "Peer connections accepted by a publisher."),
		PeersClosed:         counter("peers_closed_total", "Peer connections torn down by a publisher."),
		MessagesPublished:   counter("messages_published_total", "Send pipelines that completed with an ACK, counted once per peer."),
		MessagesDelivered:   counter("messages_delivered_total", "Messages handed to a subscriber's user handler."),
		AcksSent:            counter("acks_sent_total", "ACK bytes sent by a subscriber."),
		AcksReceived:        counter("acks_received_total", "ACK bytes received by a publisher."),
		ProtocolViolations:  counter("protocol_violations_total", "Non-ACK control bytes observed by a publisher."),
		CompressionFailures: counter("compression_failures_total", "Compress/decompress calls that failed."),
		ReconnectAttempts:   counter("reconnect_attempts_total", "Subscriber connect/reconnect attempts."),
		PayloadsDropped:     counter("payloads_dropped_total", "Payloads dropped for an unknown type id."),
	}
}

// MustRegister registers every counter in r with reg. Panics if any
// counter is already registered, matching prometheus.Registerer's own
// MustRegister contract.
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	if r == nil {
		return
	}
	reg.MustRegister(
		r.PeersAccepted, r.PeersClosed, r.MessagesPublished, r.MessagesDelivered,
		r.AcksSent, r.AcksReceived, r.ProtocolViolations, r.CompressionFailures,
		r.ReconnectAttempts, r.PayloadsDropped,
	)
}

func (r *Registry) PeerAccepted()        { r.inc(r.safe(func() prometheus.Counter { return r.PeersAccepted })) }
func (r *Registry) PeerClosed()          { r.inc(r.safe(func() prometheus.Counter { return r.PeersClosed })) }
func (r *Registry) MessagePublished()    { r.inc(r.safe(func() prometheus.Counter { return r.MessagesPublished })) }
func (r *Registry) MessageDelivered()    { r.inc(r.safe(func() prometheus.Counter { return r.MessagesDelivered })) }
func (r *Registry) AckSent()             { r.inc(r.safe(func() prometheus.Counter { return r.AcksSent })) }
func (r *Registry) AckReceived()         { r.inc(r.safe(func() prometheus.Counter { return r.AcksReceived })) }
func (r *Registry) ProtocolViolation()   { r.inc(r.safe(func() prometheus.Counter { return r.ProtocolViolations })) }
func (r *Registry) CompressionFailure()  { r.inc(r.safe(func() prometheus.Counter { return r.CompressionFailures })) }
func (r *Registry) ReconnectAttempt()    { r.inc(r.safe(func() prometheus.Counter { return r.ReconnectAttempts })) }
func (r *Registry) PayloadDropped()      { r.inc(r.safe(func() prometheus.Counter { return r.PayloadsDropped })) }

func (r *Registry) safe(get func() prometheus.Counter) prometheus.Counter {
	if r == nil {
		return nil
	}
	return get()
}

func (r *Registry) inc(c prometheus.Counter) {
	if c == nil {
		return
	}
	c.Inc()
}

// Snapshot is a point-in-time read of every counter, used by CSVLogger.
type Snapshot struct {
	PeersAccepted, PeersClosed                     float64
	MessagesPublished, MessagesDelivered           float64
	AcksSent, AcksReceived                         float64
	ProtocolViolations, CompressionFailures        float64
	ReconnectAttempts, PayloadsDropped             float64
}

// Header names Snapshot's fields in CSV column order, matching Row.
func (Snapshot) Header() []string {
	return []string{
		"peers_accepted", "peers_closed",
		"messages_published", "messages_delivered",
		"acks_sent", "acks_received",
		"protocol_violations", "compression_failures",
		"reconnect_attempts", "payloads_dropped",
	}
}

// Row renders the snapshot as the CSV record CSVLogger appends.
func (s Snapshot) Row() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 0, 64) }
	return []string{
		f(s.PeersAccepted), f(s.PeersClosed),
		f(s.MessagesPublished), f(s.MessagesDelivered),
		f(s.AcksSent), f(s.AcksReceived),
		f(s.ProtocolViolations), f(s.CompressionFailures),
		f(s.ReconnectAttempts), f(s.PayloadsDropped),
	}
}

// Snapshot reads the current value of every counter. Safe to call on a
// nil Registry; returns the zero Snapshot.
func (r *Registry) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		PeersAccepted:       readCounter(r.PeersAccepted),
		PeersClosed:         readCounter(r.PeersClosed),
		MessagesPublished:   readCounter(r.MessagesPublished),
		MessagesDelivered:   readCounter(r.MessagesDelivered),
		AcksSent:            readCounter(r.AcksSent),
		AcksReceived:        readCounter(r.AcksReceived),
		ProtocolViolations:  readCounter(r.ProtocolViolations),
		CompressionFailures: readCounter(r.CompressionFailures),
		ReconnectAttempts:   readCounter(r.ReconnectAttempts),
		PayloadsDropped:     readCounter(r.PayloadsDropped),
	}
}

func readCounter(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
