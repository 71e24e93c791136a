package transport

import (
	"testing"
	"time"
)

const testMSS = 1200

func newTestCubicSender() *cubicSender {
	c := &cubicSender{}
	c.init(testMSS)
	return c
}

func TestCubicSlowStartGrowsOnAck(t *testing.T) {
	c := newTestCubicSender()
	start := c.cwnd
	now := time.Now()
	c.onPacketSent(testMSS)
	c.onPacketAcked(testMSS, now, now.Add(time.Millisecond))
	if c.cwnd != start+testMSS {
		t.Errorf("cwnd = %d, want %d", c.cwnd, start+testMSS)
	}
	if c.state != ccSlowStart {
		t.Errorf("state = %v, want slow_start", c.state)
	}
}

// TestCubicCongestionEventSlowStart exercises the slow-start loss rule: the
// post-loss cwnd is (cwnd+MSS)*beta/1, not cwnd*beta, grounded on
// neqo-transport/src/cc/tests/cubic.rs's congestion_event_slow_start
// (cwnd_after_loss_slow_start = (cwnd+mtu)*beta).
func TestCubicCongestionEventSlowStart(t *testing.T) {
	c := newTestCubicSender()
	if c.state != ccSlowStart {
		t.Fatalf("expected to start in slow_start")
	}
	cwndBefore := c.cwnd
	now := time.Now()
	c.onCongestionEvent(now)

	want := uint64((float64(cwndBefore)/float64(testMSS) + 1) * cubicBeta * float64(testMSS))
	if want < c.minCwnd() {
		want = c.minCwnd()
	}
	if c.cwnd != want {
		t.Errorf("cwnd after slow-start loss = %d, want %d", c.cwnd, want)
	}
	if c.ssthresh != want {
		t.Errorf("ssthresh after slow-start loss = %d, want %d", c.ssthresh, want)
	}
	if c.state != ccRecovery {
		t.Errorf("state = %v, want recovery", c.state)
	}
}

// TestCubicCongestionEventCongestionAvoidance exercises the ordinary
// (non-slow-start) multiplicative decrease: cwnd*beta, no +1 MSS term.
func TestCubicCongestionEventCongestionAvoidance(t *testing.T) {
	c := newTestCubicSender()
	now := time.Now()
	c.enterCongestionAvoidance(now)
	cwndBefore := c.cwnd
	c.onCongestionEvent(now.Add(time.Second))

	want := uint64(float64(cwndBefore) / float64(testMSS) * cubicBeta * float64(testMSS))
	if want < c.minCwnd() {
		want = c.minCwnd()
	}
	if c.cwnd != want {
		t.Errorf("cwnd after congestion-avoidance loss = %d, want %d", c.cwnd, want)
	}
}

func TestCubicCongestionEventIgnoresStaleEvent(t *testing.T) {
	c := newTestCubicSender()
	now := time.Now()
	c.onCongestionEvent(now)
	afterFirst := c.cwnd
	// An event timestamped before the current recovery epoch started (a
	// stale/out-of-order loss detection) must not shrink the window again.
	c.onCongestionEvent(now.Add(-time.Millisecond))
	if c.cwnd != afterFirst {
		t.Errorf("cwnd changed on a stale congestion event predating the current epoch")
	}
}

func TestCubicPersistentCongestionCollapsesToMinimum(t *testing.T) {
	c := newTestCubicSender()
	c.cwnd = 100 * testMSS
	c.onPersistentCongestion()
	if c.cwnd != c.minCwnd() {
		t.Errorf("cwnd = %d, want minCwnd %d", c.cwnd, c.minCwnd())
	}
	if c.state != ccSlowStart {
		t.Errorf("state = %v, want slow_start", c.state)
	}
}
