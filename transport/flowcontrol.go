package transport

// flowControl tracks a send and receive credit window for either the
// connection as a whole or a single stream (spec §5, flow control).
type flowControl struct {
	recvMax     uint64 // MAX_DATA / MAX_STREAM_DATA advertised to the peer
	recvUsed    uint64 // cumulative bytes received
	maxRecvNext uint64 // candidate next window, bumped as data is read

	sendMax  uint64 // peer-advertised limit
	sendUsed uint64 // cumulative bytes sent

	autoTuneFactor uint64 // maxRecvNext grows by recvMax/autoTuneFactor once used crosses half
}

func (f *flowControl) init(recvMax, sendMax uint64) {
	f.recvMax = recvMax
	f.maxRecvNext = recvMax
	f.sendMax = sendMax
	f.autoTuneFactor = 2
}

// canRecv returns how many more bytes may be received before the advertised
// window is exhausted.
func (f *flowControl) canRecv() uint64 {
	if f.recvUsed >= f.recvMax {
		return 0
	}
	return f.recvMax - f.recvUsed
}

// addRecv records n more bytes received, growing the auto-tuned next window
// once more than half of the current window has been consumed.
func (f *flowControl) addRecv(n int) {
	f.recvUsed += uint64(n)
	if f.recvUsed*f.autoTuneFactor >= f.recvMax && f.recvMax == f.maxRecvNext {
		f.maxRecvNext = f.recvMax + f.recvMax/f.autoTuneFactor
	}
}

// shouldUpdateMaxRecv reports whether a MAX_DATA/MAX_STREAM_DATA frame with
// the candidate next window is worth sending.
func (f *flowControl) shouldUpdateMaxRecv() bool {
	return f.maxRecvNext > f.recvMax
}

// commitMaxRecv advances the advertised window to the candidate value after
// the caller has queued the corresponding frame.
func (f *flowControl) commitMaxRecv() {
	f.recvMax = f.maxRecvNext
}

// canSend returns how many more bytes may be sent before hitting the peer's
// advertised limit.
func (f *flowControl) canSend() uint64 {
	if f.sendUsed >= f.sendMax {
		return 0
	}
	return f.sendMax - f.sendUsed
}

func (f *flowControl) addSend(n int) {
	f.sendUsed += uint64(n)
}

// setMaxSend installs a newly-received MAX_DATA/MAX_STREAM_DATA limit if it
// is larger than the current one (frames may arrive out of order).
func (f *flowControl) setMaxSend(v uint64) {
	if v > f.sendMax {
		f.sendMax = v
	}
}

// blocked reports whether the send side is currently limited by flow
// control, used to decide whether to emit a *_BLOCKED frame.
func (f *flowControl) blocked() bool {
	return f.sendUsed >= f.sendMax
}
