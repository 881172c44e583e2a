package stats

import "testing"

func TestRegistryCounters(t *testing.T) {
	r := New("tcpbus_test_counters")

	r.PeerAccepted()
	r.PeerAccepted()
	r.MessagePublished()
	r.AckReceived()
	r.ProtocolViolation()
	r.CompressionFailure()
	r.ReconnectAttempt()
	r.PayloadDropped()
	r.MessageDelivered()
	r.AckSent()
	r.PeerClosed()

	snap := r.Snapshot()
	if snap.PeersAccepted != 2 {
		t.Fatalf("PeersAccepted = %v, want 2", snap.PeersAccepted)
	}
	if snap.MessagesPublished != 1 || snap.MessagesDelivered != 1 {
		t.Fatalf("unexpected publish/deliver counts: %+v", snap)
	}
	if snap.AcksSent != 1 || snap.AcksReceived != 1 {
		t.Fatalf("unexpected ack counts: %+v", snap)
	}
	if snap.ProtocolViolations != 1 || snap.CompressionFailures != 1 {
		t.Fatalf("unexpected failure counts: %+v", snap)
	}
	if snap.ReconnectAttempts != 1 || snap.PayloadsDropped != 1 || snap.PeersClosed != 1 {
		t.Fatalf("unexpected remaining counts: %+v", snap)
	}
}

func TestNilRegistryIsANoop(t *testing.T) {
	var r *Registry

	// None of these may panic on a nil Registry.
	r.PeerAccepted()
	r.MessagePublished()
	r.CompressionFailure()

	if snap := r.Snapshot(); snap != (Snapshot{}) {
		t.Fatalf("nil Registry.Snapshot() = %+v, want zero value", snap)
	}
}

func TestSnapshotRowMatchesHeaderLength(t *testing.T) {
	r := New("tcpbus_test_row")
	snap := r.Snapshot()
	if len(snap.Row()) != len(snap.Header()) {
		t.Fatalf("Row has %d fields, Header has %d", len(snap.Row()), len(snap.Header()))
	}
}
