package transport

import (
	"testing"
	"time"
)

// TestRTTUpdateClampsAckDelayBeforeConfirmation exercises the unconditional
// ack_delay <= max_ack_delay clamp: a large peer-reported ack
// delay on an Initial/Handshake-space sample, taken before the handshake is
// confirmed, must still be capped at maxAckDelay rather than subtracted in
// full.
func TestRTTUpdateClampsAckDelayBeforeConfirmation(t *testing.T) {
	var r rttEstimator
	r.init(25 * time.Millisecond)
	r.update(1*time.Millisecond, 0)

	// The peer-reported ack delay (200ms) far exceeds maxAckDelay (25ms).
	// Clamped, adjusted = 100ms-25ms = 75ms and smoothed tracks toward
	// ~10ms; left unclamped, adjusted stays 100ms (100 is not > min+200)
	// and smoothed tracks toward ~13ms instead. This sample is taken before
	// any handshake confirmation, which must not change the outcome.
	r.update(100*time.Millisecond, 200*time.Millisecond)
	if r.latest != 100*time.Millisecond {
		t.Fatalf("latest = %v, want 100ms", r.latest)
	}
	if r.smoothed >= 12*time.Millisecond {
		t.Errorf("smoothed = %v, ack delay was not clamped to maxAckDelay", r.smoothed)
	}
}

func TestRTTUpdateFirstSample(t *testing.T) {
	var r rttEstimator
	r.init(25 * time.Millisecond)
	r.update(50*time.Millisecond, 10*time.Millisecond)
	if r.smoothed != 50*time.Millisecond {
		t.Errorf("smoothed = %v, want 50ms for the first sample", r.smoothed)
	}
	if r.min != 50*time.Millisecond {
		t.Errorf("min = %v, want 50ms", r.min)
	}
}
