package transport

import (
	"testing"
	"time"
)

func newTestOutgoingPacket(pn uint64, now time.Time, ackEliciting bool) *outgoingPacket {
	p := newOutgoingPacket(pn, now)
	p.size = uint64(testMSS)
	p.inFlight = ackEliciting
	p.ackEliciting = ackEliciting
	return p
}

// TestSetLossDetectionTimerClientDeadlockAvoidance exercises RFC 9002
// Section 6.2.2.1: a client with nothing in flight must still keep
// a PTO armed, anchored on its last Handshake send, until the handshake is
// confirmed, so a lost Handshake ACK cannot strand a server sitting at its
// anti-amplification limit.
func TestSetLossDetectionTimerClientDeadlockAvoidance(t *testing.T) {
	var r lossRecovery
	now := time.Now()
	r.init(now, true)

	sent := newTestOutgoingPacket(0, now, true)
	r.onPacketSent(sent, packetSpaceHandshake)
	// Simulate the packet having been acked and removed from sent[], leaving
	// nothing in flight, as would happen after a (never-received) ack.
	r.sent[packetSpaceHandshake] = nil
	r.setLossDetectionTimer()

	if r.lossDetectionTimer.IsZero() {
		t.Fatalf("expected a deadlock-avoidance PTO to be armed with nothing in flight pre-confirmation")
	}
	want := now.Add(r.probeTimeout())
	if !r.lossDetectionTimer.Equal(want) {
		t.Errorf("lossDetectionTimer = %v, want %v", r.lossDetectionTimer, want)
	}
}

// TestSetLossDetectionTimerNoDeadlockAvoidanceForServer confirms the
// deadlock-avoidance PTO is client-only: a server with nothing in flight
// simply has no timer armed.
func TestSetLossDetectionTimerNoDeadlockAvoidanceForServer(t *testing.T) {
	var r lossRecovery
	now := time.Now()
	r.init(now, false)

	sent := newTestOutgoingPacket(0, now, true)
	r.onPacketSent(sent, packetSpaceHandshake)
	r.sent[packetSpaceHandshake] = nil
	r.setLossDetectionTimer()

	if !r.lossDetectionTimer.IsZero() {
		t.Errorf("server should not arm a deadlock-avoidance PTO, got %v", r.lossDetectionTimer)
	}
}

// TestSetLossDetectionTimerStopsAfterHandshakeConfirmed confirms the
// deadlock-avoidance PTO stops being armed once confirmHandshake is called.
func TestSetLossDetectionTimerStopsAfterHandshakeConfirmed(t *testing.T) {
	var r lossRecovery
	now := time.Now()
	r.init(now, true)

	sent := newTestOutgoingPacket(0, now, true)
	r.onPacketSent(sent, packetSpaceHandshake)
	r.sent[packetSpaceHandshake] = nil

	r.confirmHandshake()
	r.setLossDetectionTimer()
	if !r.lossDetectionTimer.IsZero() {
		t.Errorf("no PTO should be armed once the handshake is confirmed, got %v", r.lossDetectionTimer)
	}
}

func TestAckedUnsentPacketDoesNotPanicOnEmptySent(t *testing.T) {
	var r lossRecovery
	now := time.Now()
	r.init(now, false)
	ranges := &rangeSet{}
	ranges.pushRange(666, 666)
	r.onAckReceived(ranges, 0, packetSpaceApplication, now)
}
