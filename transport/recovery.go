package transport

import "time"

// packetThreshold and the time-threshold fraction are RFC 9002 Section 6.1's
// constants for declaring a packet lost.
const (
	packetThreshold                = 3
	timeThresholdNumerator         = 9
	timeThresholdDenominator       = 8
	kPersistentCongestionThreshold = 3
	maxPTOProbes                   = 16
)

// outgoingPacket tracks one packet this endpoint sent, for loss detection
// and RTT sampling (spec §7, "sent packet").
type outgoingPacket struct {
	packetNumber uint64
	timeSent     time.Time
	size         uint64

	ackEliciting bool
	inFlight     bool

	frames []frame
}

func newOutgoingPacket(pn uint64, now time.Time) *outgoingPacket {
	return &outgoingPacket{packetNumber: pn, timeSent: now}
}

// addFrame appends f to the packet, deriving whether the packet as a whole
// becomes ack-eliciting and in-flight from the frame types it carries
// (PADDING and ACK are not ack-eliciting; every frame except ACK counts
// toward bytes-in-flight, RFC 9002 Section 2).
func (p *outgoingPacket) addFrame(f frame) {
	p.frames = append(p.frames, f)
	if _, isAck := f.(*ackFrame); !isAck {
		p.inFlight = true
	}
	switch f.(type) {
	case *paddingFrame, *ackFrame:
	default:
		p.ackEliciting = true
	}
}

// lossRecovery implements RFC 9002's loss detection and recovery timer
// across the three packet-number spaces, driving a cubicSender for
// congestion control.
type lossRecovery struct {
	rtt rttEstimator
	cc  cubicSender

	sent [packetSpaceCount][]*outgoingPacket

	// lost and acked stage frames from packets the last detectLost/
	// onAckReceived pass resolved, for the connection to drain via
	// drainLost/drainAcked and react to (resend, mark complete, ...).
	lost  [packetSpaceCount][]frame
	acked [packetSpaceCount][]frame

	largestAckedPacket        [packetSpaceCount]uint64
	largestAckedPacketSet     [packetSpaceCount]bool
	timeOfLastAckElicitingSent [packetSpaceCount]time.Time

	lossDetectionTimer time.Time
	ptoCount           int
	probes             int

	maxAckDelay time.Duration

	// fastPTOScale scales only the probe timeout (Config.FastPTOScale);
	// persistent congestion detection always uses the unscaled PTO.
	fastPTOScale float64

	firstRTTSample bool

	// isClient and handshakeConfirmed implement the anti-amplification
	// deadlock avoidance of RFC 9002 Section 6.2.2.1: a client must keep a
	// Handshake (or Initial) PTO armed even with nothing in flight, until
	// the handshake is confirmed, so a lost Handshake ACK cannot strand a
	// server that has hit its amplification limit with no way to ask for
	// more data.
	isClient           bool
	handshakeConfirmed bool
}

func (r *lossRecovery) init(now time.Time, isClient bool) {
	r.rtt.init(25 * time.Millisecond)
	r.cc.init(MinInitialPacketSize)
	r.maxAckDelay = 25 * time.Millisecond
	r.fastPTOScale = 1
	r.isClient = isClient
}

func (r *lossRecovery) hasInFlight(space packetSpace) bool {
	for _, p := range r.sent[space] {
		if p.inFlight {
			return true
		}
	}
	return false
}

func (r *lossRecovery) anyInFlight() bool {
	for i := range r.sent {
		if r.hasInFlight(packetSpace(i)) {
			return true
		}
	}
	return false
}

// onPacketSent records a newly-sent packet for later ack/loss processing
// and advances the congestion controller's bytes-in-flight.
func (r *lossRecovery) onPacketSent(p *outgoingPacket, space packetSpace) {
	r.sent[space] = append(r.sent[space], p)
	if p.inFlight {
		r.cc.onPacketSent(p.size)
		if p.ackEliciting {
			r.timeOfLastAckElicitingSent[space] = p.timeSent
		}
		r.setLossDetectionTimer()
	}
}

// onAckReceived processes a newly-received ACK frame's range set: it
// removes newly-acked packets from the sent queue, samples RTT from the
// largest newly-acked packet, stages their frames for drainAcked, updates
// congestion control, runs loss detection, and rearms the timer.
func (r *lossRecovery) onAckReceived(ranges *rangeSet, ackDelay time.Duration, space packetSpace, now time.Time) {
	sent := r.sent[space]
	remaining := sent[:0]
	var newlyAcked []*outgoingPacket
	for _, p := range sent {
		if ranges.contains(p.packetNumber) {
			newlyAcked = append(newlyAcked, p)
			r.acked[space] = append(r.acked[space], p.frames...)
			continue
		}
		remaining = append(remaining, p)
	}
	r.sent[space] = remaining
	if len(newlyAcked) == 0 {
		return
	}
	largest, _ := ranges.largest()
	if largest > r.largestAckedPacket[space] || !r.largestAckedPacketSet[space] {
		r.largestAckedPacket[space] = largest
		r.largestAckedPacketSet[space] = true
	}
	for _, p := range newlyAcked {
		if p.packetNumber == largest && p.ackEliciting {
			sample := now.Sub(p.timeSent)
			r.rtt.update(sample, ackDelay)
		}
		if p.inFlight {
			r.cc.onPacketAcked(p.size, p.timeSent, now)
		}
	}
	r.ptoCount = 0
	r.detectLost(space, now)
	r.setLossDetectionTimer()
}

// detectLost applies RFC 9002 Section 6.1's packet- and time-threshold
// tests to every still-outstanding packet in space.
func (r *lossRecovery) detectLost(space packetSpace, now time.Time) {
	if !r.largestAckedPacketSet[space] {
		return
	}
	largest := r.largestAckedPacket[space]
	lossDelay := r.lossDelay()
	remaining := r.sent[space][:0]
	anyLost := false
	for _, p := range r.sent[space] {
		if p.packetNumber > largest {
			remaining = append(remaining, p)
			continue
		}
		byCount := largest >= p.packetNumber+packetThreshold
		byTime := !p.timeSent.IsZero() && now.Sub(p.timeSent) >= lossDelay
		if byCount || byTime {
			if p.inFlight {
				r.lost[space] = append(r.lost[space], p.frames...)
				r.cc.onPacketLost(p.size)
				anyLost = true
			}
			continue
		}
		remaining = append(remaining, p)
	}
	r.sent[space] = remaining
	if anyLost {
		r.cc.onCongestionEvent(now)
	}
	r.detectPersistentCongestion(space, now)
}

// detectPersistentCongestion checks whether every ack-eliciting packet sent
// in a window spanning the persistent-congestion duration has been lost,
// per RFC 9002 Section 7.6. With sent[space] already pruned of lost/acked
// packets, persistent congestion is approximated by checking whether
// nothing remains in flight for longer than the computed duration.
func (r *lossRecovery) detectPersistentCongestion(space packetSpace, now time.Time) {
	if r.hasInFlight(space) {
		return
	}
	last := r.timeOfLastAckElicitingSent[space]
	if last.IsZero() {
		return
	}
	if now.Sub(last) >= r.persistentCongestionDuration() {
		r.cc.onPersistentCongestion()
	}
}

func (r *lossRecovery) lossDelay() time.Duration {
	srtt := r.rtt.smoothed
	if srtt == 0 {
		srtt = initialRTT
	}
	delay := srtt * timeThresholdNumerator / timeThresholdDenominator
	if delay < granularity {
		delay = granularity
	}
	return delay
}

func (r *lossRecovery) persistentCongestionDuration() time.Duration {
	pto := r.rtt.smoothed + maxDuration(4*r.rtt.variance, granularity) + r.maxAckDelay
	return pto * kPersistentCongestionThreshold
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// drainAcked invokes fn for every frame staged by onAckReceived for space,
// then clears the queue.
func (r *lossRecovery) drainAcked(space packetSpace, fn func(f frame)) {
	for _, f := range r.acked[space] {
		fn(f)
	}
	r.acked[space] = r.acked[space][:0]
}

// drainLost invokes fn for every frame staged by detectLost for space, then
// clears the queue.
func (r *lossRecovery) drainLost(space packetSpace, fn func(f frame)) {
	for _, f := range r.lost[space] {
		fn(f)
	}
	r.lost[space] = r.lost[space][:0]
}

// probeTimeout computes the current PTO duration, RFC 9002 Section 6.2.1,
// scaled by fastPTOScale (Config.FastPTOScale; 1 leaves it unscaled).
func (r *lossRecovery) probeTimeout() time.Duration {
	pto := r.rtt.pto() + r.maxAckDelay
	if r.ptoCount > 0 {
		shift := r.ptoCount
		if shift > 16 {
			shift = 16
		}
		pto *= time.Duration(uint64(1) << uint(shift))
	}
	scale := r.fastPTOScale
	if scale <= 0 {
		scale = 1
	}
	return time.Duration(float64(pto) * scale)
}

// confirmHandshake records that the handshake has been confirmed (a
// HANDSHAKE_DONE frame received, for a client, or the server's own
// completion), after which the client no longer needs the deadlock-
// avoidance PTO armed in setLossDetectionTimer.
func (r *lossRecovery) confirmHandshake() {
	r.handshakeConfirmed = true
}

func (r *lossRecovery) setLossDetectionTimer() {
	if !r.anyInFlight() {
		if r.isClient && !r.handshakeConfirmed {
			r.lossDetectionTimer = r.deadlockAvoidanceTimer()
			return
		}
		r.lossDetectionTimer = time.Time{}
		return
	}
	earliest := time.Time{}
	for i := range r.sent {
		for _, p := range r.sent[packetSpace(i)] {
			if !p.ackEliciting {
				continue
			}
			due := p.timeSent.Add(r.probeTimeout())
			if earliest.IsZero() || due.Before(earliest) {
				earliest = due
			}
		}
	}
	r.lossDetectionTimer = earliest
}

// deadlockAvoidanceTimer anchors a PTO on the most recent ack-eliciting
// Handshake (or, before any Handshake packet was sent, Initial) send time,
// so the client keeps probing even with nothing currently in flight. Per
// RFC 9002 Section 6.2.2.1, this is only needed pre-confirmation: a server
// stuck at its anti-amplification limit can only be unblocked by the client
// sending more data, and if the client has nothing in flight it would
// otherwise never do so.
func (r *lossRecovery) deadlockAvoidanceTimer() time.Time {
	last := r.timeOfLastAckElicitingSent[packetSpaceHandshake]
	if last.IsZero() {
		last = r.timeOfLastAckElicitingSent[packetSpaceInitial]
	}
	if last.IsZero() {
		return time.Time{}
	}
	return last.Add(r.probeTimeout())
}

// onLossDetectionTimeout fires when the loss detection timer expires: it
// arms probe packets (PTO, RFC 9002 Section 6.2) for the next Write call to
// pick up via Conn.writeSpace/sendFrames.
func (r *lossRecovery) onLossDetectionTimeout(now time.Time) {
	if r.lossDetectionTimer.IsZero() || now.Before(r.lossDetectionTimer) {
		return
	}
	if r.ptoCount < maxPTOProbes {
		r.ptoCount++
	}
	r.probes = 2
	r.lossDetectionTimer = time.Time{}
}

// dropUnackedData discards every packet (and its pending acked/lost frame
// queues) tracked for space, used when the space itself is dropped.
func (r *lossRecovery) dropUnackedData(space packetSpace) {
	r.sent[space] = nil
	r.lost[space] = nil
	r.acked[space] = nil
	r.largestAckedPacketSet[space] = false
	r.setLossDetectionTimer()
}
