package transport

import (
	"math"
	"time"
)

// CUBIC constants, RFC 9438 (and neqo's cc/cubic.rs, which this is
// grounded on). maxDatagramSize mirrors the sender's path MTU estimate.
const (
	cubicC         = 0.4
	cubicBeta      = 0.7
	cubicAlpha     = 3.0 * (1.0 - cubicBeta) / (1.0 + cubicBeta)
	minCwndPackets = 2
)

type ccState uint8

const (
	ccSlowStart ccState = iota
	ccCongestionAvoidance
	ccRecovery
)

func (s ccState) String() string {
	switch s {
	case ccSlowStart:
		return "slow_start"
	case ccCongestionAvoidance:
		return "congestion_avoidance"
	case ccRecovery:
		return "recovery"
	default:
		return "unknown"
	}
}

// cubicSender is a CUBIC congestion controller (spec §3, congestion
// control). It tracks congestion window, slow-start threshold, and the
// cubic epoch origin used to compute the window-growth curve.
type cubicSender struct {
	maxDatagramSize int
	cwnd            uint64
	ssthresh        uint64
	bytesInFlight   uint64

	state ccState

	wMax        float64
	k           float64
	epochStart  time.Time
	originPoint float64

	recoveryStart time.Time

	// fastConvergence remembers whether the previous congestion event's
	// wMax is still decreasing, applying the more conservative shrink
	// from RFC 9438 Section 4.7.
	lastWMax float64
}

func (c *cubicSender) init(maxDatagramSize int) {
	c.maxDatagramSize = maxDatagramSize
	c.cwnd = uint64(10 * maxDatagramSize)
	c.ssthresh = math.MaxUint64 / 2
	c.state = ccSlowStart
}

func (c *cubicSender) minCwnd() uint64 {
	return uint64(minCwndPackets * c.maxDatagramSize)
}

func (c *cubicSender) canSend(bytesInFlightAfter uint64) bool {
	return bytesInFlightAfter < c.cwnd
}

func (c *cubicSender) available() uint64 {
	if c.bytesInFlight >= c.cwnd {
		return 0
	}
	return c.cwnd - c.bytesInFlight
}

func (c *cubicSender) onPacketSent(size uint64) {
	c.bytesInFlight += size
}

// onPacketAcked grows the window per the current phase. ackTime is when the
// acknowledgment was processed; sentTime is when the acked packet was sent,
// used to ignore acks for packets sent before the most recent congestion
// event (RFC 9002 Section 7.3's "is app limited" is handled by the caller
// declining to call this while the path is application-limited).
func (c *cubicSender) onPacketAcked(size uint64, sentTime, ackTime time.Time) {
	if size > c.bytesInFlight {
		c.bytesInFlight = 0
	} else {
		c.bytesInFlight -= size
	}
	if !c.recoveryStart.IsZero() && !sentTime.After(c.recoveryStart) {
		return
	}
	switch c.state {
	case ccSlowStart:
		c.cwnd += size
		if c.cwnd >= c.ssthresh {
			c.enterCongestionAvoidance(ackTime)
		}
	case ccRecovery:
		c.state = ccCongestionAvoidance
		c.epochStart = ackTime
		c.cwnd = c.ssthresh
	case ccCongestionAvoidance:
		c.congestionAvoidance(ackTime)
	}
}

func (c *cubicSender) enterCongestionAvoidance(now time.Time) {
	c.state = ccCongestionAvoidance
	c.epochStart = now
	w := float64(c.cwnd) / float64(c.maxDatagramSize)
	c.k = math.Cbrt(w * (1 - cubicBeta) / cubicC)
	c.originPoint = w
}

func (c *cubicSender) congestionAvoidance(now time.Time) {
	if c.epochStart.IsZero() {
		c.enterCongestionAvoidance(now)
	}
	t := now.Sub(c.epochStart).Seconds()
	target := cubicC*math.Pow(t-c.k, 3) + c.originPoint
	targetBytes := uint64(target * float64(c.maxDatagramSize))
	if targetBytes > c.cwnd {
		segments := c.cwnd/uint64(c.maxDatagramSize) + 1
		c.cwnd += (targetBytes - c.cwnd) / segments
	} else {
		// TCP-friendly region: grow by at least alpha segments per RTT,
		// matching the Reno-compatible floor.
		c.cwnd += uint64(cubicAlpha * float64(c.maxDatagramSize) * float64(c.maxDatagramSize) / float64(c.cwnd))
	}
}

// onCongestionEvent applies a multiplicative-decrease congestion event
// (loss detected or ECN CE marked), with fast convergence (RFC 9438
// Section 4.7): if the flow is congesting before reaching the previous
// wMax, shrink wMax further to converge faster.
func (c *cubicSender) onCongestionEvent(now time.Time) {
	if !c.recoveryStart.IsZero() && now.Before(c.recoveryStart) {
		return
	}
	c.recoveryStart = now
	w := float64(c.cwnd) / float64(c.maxDatagramSize)
	if c.state == ccSlowStart {
		w += 1
	}
	if w < c.lastWMax {
		c.lastWMax = w * (1 + cubicBeta) / 2
	} else {
		c.lastWMax = w
	}
	c.wMax = c.lastWMax
	newCwnd := uint64(w * cubicBeta * float64(c.maxDatagramSize))
	if newCwnd < c.minCwnd() {
		newCwnd = c.minCwnd()
	}
	c.ssthresh = newCwnd
	c.cwnd = newCwnd
	c.state = ccRecovery
	c.epochStart = time.Time{}
}

// onPersistentCongestion collapses the window to the minimum, per RFC 9002
// Section 7.6.2.
func (c *cubicSender) onPersistentCongestion() {
	c.cwnd = c.minCwnd()
	c.ssthresh = c.minCwnd()
	c.state = ccSlowStart
	c.epochStart = time.Time{}
	c.wMax = 0
	c.lastWMax = 0
}

func (c *cubicSender) onPacketLost(size uint64) {
	if size > c.bytesInFlight {
		c.bytesInFlight = 0
	} else {
		c.bytesInFlight -= size
	}
}
