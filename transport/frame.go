package transport

import "fmt"

// Frame type codes, RFC 9000 Section 19.
const (
	frameTypePadding             = 0x00
	frameTypePing                = 0x01
	frameTypeAck                 = 0x02
	frameTypeAckECN              = 0x03
	frameTypeResetStream         = 0x04
	frameTypeStopSending         = 0x05
	frameTypeCrypto              = 0x06
	frameTypeNewToken            = 0x07
	frameTypeStream              = 0x08
	frameTypeStreamEnd           = 0x0f
	frameTypeMaxData             = 0x10
	frameTypeMaxStreamData       = 0x11
	frameTypeMaxStreamsBidi      = 0x12
	frameTypeMaxStreamsUni       = 0x13
	frameTypeDataBlocked         = 0x14
	frameTypeStreamDataBlocked   = 0x15
	frameTypeStreamsBlockedBidi  = 0x16
	frameTypeStreamsBlockedUni   = 0x17
	frameTypeNewConnectionID     = 0x18
	frameTypeRetireConnectionID  = 0x19
	frameTypePathChallenge       = 0x1a
	frameTypePathResponse        = 0x1b
	frameTypeConnectionClose     = 0x1c
	frameTypeApplicationClose    = 0x1d
	frameTypeHanshakeDone        = 0x1e
)

func isFrameAckEliciting(typ uint64) bool {
	switch typ {
	case frameTypePadding, frameTypeAck, frameTypeAckECN, frameTypeConnectionClose, frameTypeApplicationClose:
		return false
	default:
		return true
	}
}

// frame is implemented by every decoded/outgoing QUIC frame.
type frame interface {
	encodedLen() int
}

func encodeFrames(b []byte, frames []frame) (int, error) {
	off := 0
	for _, f := range frames {
		n, err := encodeFrame(b[off:], f)
		if err != nil {
			return 0, err
		}
		off += n
	}
	return off, nil
}

func encodeFrame(b []byte, f frame) (int, error) {
	need := f.encodedLen()
	if len(b) < need {
		return 0, errShortBuffer
	}
	switch f := f.(type) {
	case *paddingFrame:
		for i := 0; i < f.length; i++ {
			b[i] = frameTypePadding
		}
	case *pingFrame:
		b[0] = frameTypePing
	case *ackFrame:
		f.encodeInto(b)
	case *resetStreamFrame:
		off := 0
		off += copy(b[off:], putVarint(nil, frameTypeResetStream))
		off += copy(b[off:], putVarint(nil, f.streamID))
		off += copy(b[off:], putVarint(nil, f.errorCode))
		off += copy(b[off:], putVarint(nil, f.finalSize))
	case *stopSendingFrame:
		off := 0
		off += copy(b[off:], putVarint(nil, frameTypeStopSending))
		off += copy(b[off:], putVarint(nil, f.streamID))
		off += copy(b[off:], putVarint(nil, f.errorCode))
	case *cryptoFrame:
		off := 0
		off += copy(b[off:], putVarint(nil, frameTypeCrypto))
		off += copy(b[off:], putVarint(nil, f.offset))
		off += copy(b[off:], putVarint(nil, uint64(len(f.data))))
		off += copy(b[off:], f.data)
	case *newTokenFrame:
		off := 0
		off += copy(b[off:], putVarint(nil, frameTypeNewToken))
		off += copy(b[off:], putVarintLenPrefixed(nil, f.token))
	case *streamFrame:
		f.encodeInto(b)
	case *maxDataFrame:
		off := 0
		off += copy(b[off:], putVarint(nil, frameTypeMaxData))
		off += copy(b[off:], putVarint(nil, f.maximumData))
	case *maxStreamDataFrame:
		off := 0
		off += copy(b[off:], putVarint(nil, frameTypeMaxStreamData))
		off += copy(b[off:], putVarint(nil, f.streamID))
		off += copy(b[off:], putVarint(nil, f.maximumData))
	case *maxStreamsFrame:
		typ := uint64(frameTypeMaxStreamsUni)
		if f.bidi {
			typ = frameTypeMaxStreamsBidi
		}
		off := 0
		off += copy(b[off:], putVarint(nil, typ))
		off += copy(b[off:], putVarint(nil, f.maximumStreams))
	case *dataBlockedFrame:
		off := 0
		off += copy(b[off:], putVarint(nil, frameTypeDataBlocked))
		off += copy(b[off:], putVarint(nil, f.dataLimit))
	case *streamDataBlockedFrame:
		off := 0
		off += copy(b[off:], putVarint(nil, frameTypeStreamDataBlocked))
		off += copy(b[off:], putVarint(nil, f.streamID))
		off += copy(b[off:], putVarint(nil, f.dataLimit))
	case *streamsBlockedFrame:
		typ := uint64(frameTypeStreamsBlockedUni)
		if f.bidi {
			typ = frameTypeStreamsBlockedBidi
		}
		off := 0
		off += copy(b[off:], putVarint(nil, typ))
		off += copy(b[off:], putVarint(nil, f.streamLimit))
	case *newConnectionIDFrame:
		off := 0
		off += copy(b[off:], putVarint(nil, frameTypeNewConnectionID))
		off += copy(b[off:], putVarint(nil, f.sequenceNumber))
		off += copy(b[off:], putVarint(nil, f.retirePriorTo))
		b[off] = byte(len(f.connID))
		off++
		off += copy(b[off:], f.connID)
		off += copy(b[off:], f.resetToken[:])
	case *retireConnectionIDFrame:
		off := 0
		off += copy(b[off:], putVarint(nil, frameTypeRetireConnectionID))
		off += copy(b[off:], putVarint(nil, f.sequenceNumber))
	case *connectionCloseFrame:
		f.encodeInto(b)
	case *handshakeDoneFrame:
		b[0] = frameTypeHanshakeDone
	default:
		return 0, newError(InternalError, "unknown frame type for encoding")
	}
	return need, nil
}

// --- padding ---

type paddingFrame struct{ length int }

func newPaddingFrame(n int) *paddingFrame { return &paddingFrame{length: n} }

func (f *paddingFrame) encodedLen() int { return f.length }

func (f *paddingFrame) decode(b []byte) (int, error) {
	n := 0
	for n < len(b) && b[n] == frameTypePadding {
		n++
	}
	f.length = n
	return n, nil
}

// --- ping ---

type pingFrame struct{}

func (f *pingFrame) encodedLen() int { return 1 }

func (f *pingFrame) decode(b []byte) (int, error) {
	var typ uint64
	n := getVarint(b, &typ)
	return n, nil
}

// --- ack ---

type ackRange struct {
	gap      uint64
	ackRange uint64
}

type ackFrame struct {
	largestAck    uint64
	ackDelay      uint64
	firstAckRange uint64
	ranges        []ackRange
}

// newAckFrame builds an ACK frame acknowledging every packet number in recv.
func newAckFrame(ackDelay uint64, recv rangeSet) *ackFrame {
	f := &ackFrame{ackDelay: ackDelay}
	if len(recv.ranges) == 0 {
		return f
	}
	last := recv.ranges[len(recv.ranges)-1]
	f.largestAck = last.end
	f.firstAckRange = last.end - last.start
	prevStart := last.start
	for i := len(recv.ranges) - 2; i >= 0; i-- {
		r := recv.ranges[i]
		gap := prevStart - r.end - 2
		f.ranges = append(f.ranges, ackRange{gap: gap, ackRange: r.end - r.start})
		prevStart = r.start
	}
	return f
}

func (f *ackFrame) toRangeSet() *rangeSet {
	rs := &rangeSet{}
	end := f.largestAck
	start := end - f.firstAckRange
	if start > end {
		return nil
	}
	rs.pushRange(start, end)
	for _, r := range f.ranges {
		if r.gap+2 > start {
			return nil
		}
		end = start - r.gap - 2
		if r.ackRange > end {
			return nil
		}
		start = end - r.ackRange
		rs.pushRange(start, end)
	}
	return rs
}

func (f *ackFrame) encodedLen() int {
	n := varintLen(frameTypeAck) + varintLen(f.largestAck) + varintLen(f.ackDelay) +
		varintLen(uint64(len(f.ranges))) + varintLen(f.firstAckRange)
	for _, r := range f.ranges {
		n += varintLen(r.gap) + varintLen(r.ackRange)
	}
	return n
}

func (f *ackFrame) encodeInto(b []byte) int {
	out := putVarint(b[:0], frameTypeAck)
	out = putVarint(out, f.largestAck)
	out = putVarint(out, f.ackDelay)
	out = putVarint(out, uint64(len(f.ranges)))
	out = putVarint(out, f.firstAckRange)
	for _, r := range f.ranges {
		out = putVarint(out, r.gap)
		out = putVarint(out, r.ackRange)
	}
	return len(out)
}

func (f *ackFrame) decode(b []byte) (int, error) {
	off := 0
	var typ uint64
	n := getVarint(b[off:], &typ)
	if n == 0 {
		return 0, newError(FrameEncodingError, "ack")
	}
	off += n
	if n = getVarint(b[off:], &f.largestAck); n == 0 {
		return 0, newError(FrameEncodingError, "ack largest")
	}
	off += n
	if n = getVarint(b[off:], &f.ackDelay); n == 0 {
		return 0, newError(FrameEncodingError, "ack delay")
	}
	off += n
	var rangeCount uint64
	if n = getVarint(b[off:], &rangeCount); n == 0 {
		return 0, newError(FrameEncodingError, "ack range count")
	}
	off += n
	if n = getVarint(b[off:], &f.firstAckRange); n == 0 {
		return 0, newError(FrameEncodingError, "ack first range")
	}
	off += n
	f.ranges = f.ranges[:0]
	for i := uint64(0); i < rangeCount; i++ {
		var r ackRange
		if n = getVarint(b[off:], &r.gap); n == 0 {
			return 0, newError(FrameEncodingError, "ack gap")
		}
		off += n
		if n = getVarint(b[off:], &r.ackRange); n == 0 {
			return 0, newError(FrameEncodingError, "ack range")
		}
		off += n
		f.ranges = append(f.ranges, r)
	}
	return off, nil
}

func (f *ackFrame) String() string {
	return fmt.Sprintf("largest=%d delay=%d ranges=%d", f.largestAck, f.ackDelay, len(f.ranges))
}

// --- reset_stream / stop_sending ---

type resetStreamFrame struct {
	streamID  uint64
	errorCode uint64
	finalSize uint64
}

func newResetStreamFrame(id, code, finalSize uint64) *resetStreamFrame {
	return &resetStreamFrame{streamID: id, errorCode: code, finalSize: finalSize}
}

func (f *resetStreamFrame) encodedLen() int {
	return varintLen(frameTypeResetStream) + varintLen(f.streamID) + varintLen(f.errorCode) + varintLen(f.finalSize)
}

func (f *resetStreamFrame) decode(b []byte) (int, error) {
	return decodeVarintFields(b, &f.streamID, &f.errorCode, &f.finalSize)
}

// --- stop_sending ---

type stopSendingFrame struct {
	streamID  uint64
	errorCode uint64
}

func newStopSendingFrame(id, code uint64) *stopSendingFrame {
	return &stopSendingFrame{streamID: id, errorCode: code}
}

func (f *stopSendingFrame) encodedLen() int {
	return varintLen(frameTypeStopSending) + varintLen(f.streamID) + varintLen(f.errorCode)
}

func (f *stopSendingFrame) decode(b []byte) (int, error) {
	return decodeVarintFields(b, &f.streamID, &f.errorCode)
}

// --- crypto ---

type cryptoFrame struct {
	offset uint64
	data   []byte
}

func newCryptoFrame(data []byte, offset uint64) *cryptoFrame {
	return &cryptoFrame{offset: offset, data: data}
}

func (f *cryptoFrame) encodedLen() int {
	return varintLen(frameTypeCrypto) + varintLen(f.offset) + varintLen(uint64(len(f.data))) + len(f.data)
}

func (f *cryptoFrame) decode(b []byte) (int, error) {
	off := 0
	var typ uint64
	n := getVarint(b[off:], &typ)
	if n == 0 {
		return 0, newError(FrameEncodingError, "crypto")
	}
	off += n
	if n = getVarint(b[off:], &f.offset); n == 0 {
		return 0, newError(FrameEncodingError, "crypto offset")
	}
	off += n
	data, n := getVarintLenPrefixed(b[off:])
	if n == 0 {
		return 0, newError(FrameEncodingError, "crypto data")
	}
	f.data = data
	off += n
	return off, nil
}

func (f *cryptoFrame) String() string {
	return fmt.Sprintf("offset=%d length=%d", f.offset, len(f.data))
}

// --- new_token ---

type newTokenFrame struct {
	token []byte
}

func newNewTokenFrame(token []byte) *newTokenFrame {
	return &newTokenFrame{token: token}
}

func (f *newTokenFrame) encodedLen() int {
	return varintLen(frameTypeNewToken) + varintLen(uint64(len(f.token))) + len(f.token)
}

func (f *newTokenFrame) decode(b []byte) (int, error) {
	off := 0
	var typ uint64
	n := getVarint(b[off:], &typ)
	if n == 0 {
		return 0, newError(FrameEncodingError, "new_token")
	}
	off += n
	token, n := getVarintLenPrefixed(b[off:])
	if n == 0 {
		return 0, newError(FrameEncodingError, "new_token data")
	}
	f.token = token
	off += n
	return off, nil
}

// --- stream ---

type streamFrame struct {
	streamID uint64
	offset   uint64
	data     []byte
	fin      bool
}

func newStreamFrame(id uint64, data []byte, offset uint64, fin bool) *streamFrame {
	return &streamFrame{streamID: id, offset: offset, data: data, fin: fin}
}

// streamFrameFlags returns the frame type byte for the given field combination.
func streamFrameFlags(hasOffset, hasLength, fin bool) uint64 {
	typ := uint64(frameTypeStream)
	if hasOffset {
		typ |= 0x4
	}
	if hasLength {
		typ |= 0x2
	}
	if fin {
		typ |= 0x1
	}
	return typ
}

func (f *streamFrame) encodedLen() int {
	n := varintLen(streamFrameFlags(f.offset > 0, true, f.fin)) + varintLen(f.streamID)
	if f.offset > 0 {
		n += varintLen(f.offset)
	}
	n += varintLen(uint64(len(f.data))) + len(f.data)
	return n
}

func (f *streamFrame) encodeInto(b []byte) int {
	hasOffset := f.offset > 0
	out := putVarint(b[:0], streamFrameFlags(hasOffset, true, f.fin))
	out = putVarint(out, f.streamID)
	if hasOffset {
		out = putVarint(out, f.offset)
	}
	out = putVarintLenPrefixed(out, f.data)
	return len(out)
}

func (f *streamFrame) decode(b []byte) (int, error) {
	off := 0
	var typ uint64
	n := getVarint(b[off:], &typ)
	if n == 0 {
		return 0, newError(FrameEncodingError, "stream")
	}
	off += n
	if n = getVarint(b[off:], &f.streamID); n == 0 {
		return 0, newError(FrameEncodingError, "stream id")
	}
	off += n
	f.offset = 0
	if typ&0x4 != 0 {
		if n = getVarint(b[off:], &f.offset); n == 0 {
			return 0, newError(FrameEncodingError, "stream offset")
		}
		off += n
	}
	if typ&0x2 != 0 {
		data, n := getVarintLenPrefixed(b[off:])
		if n == 0 {
			return 0, newError(FrameEncodingError, "stream data")
		}
		f.data = data
		off += n
	} else {
		f.data = b[off:]
		off = len(b)
	}
	f.fin = typ&0x1 != 0
	return off, nil
}

func (f *streamFrame) String() string {
	return fmt.Sprintf("id=%d offset=%d length=%d fin=%v", f.streamID, f.offset, len(f.data), f.fin)
}

// --- max_data / max_stream_data / max_streams ---

type maxDataFrame struct{ maximumData uint64 }

func newMaxDataFrame(v uint64) *maxDataFrame { return &maxDataFrame{maximumData: v} }

func (f *maxDataFrame) encodedLen() int {
	return varintLen(frameTypeMaxData) + varintLen(f.maximumData)
}

func (f *maxDataFrame) decode(b []byte) (int, error) {
	return decodeVarintFields(b, &f.maximumData)
}

type maxStreamDataFrame struct {
	streamID    uint64
	maximumData uint64
}

func newMaxStreamDataFrame(id, v uint64) *maxStreamDataFrame {
	return &maxStreamDataFrame{streamID: id, maximumData: v}
}

func (f *maxStreamDataFrame) encodedLen() int {
	return varintLen(frameTypeMaxStreamData) + varintLen(f.streamID) + varintLen(f.maximumData)
}

func (f *maxStreamDataFrame) decode(b []byte) (int, error) {
	return decodeVarintFields(b, &f.streamID, &f.maximumData)
}

type maxStreamsFrame struct {
	bidi           bool
	maximumStreams uint64
}

func (f *maxStreamsFrame) encodedLen() int {
	typ := uint64(frameTypeMaxStreamsUni)
	if f.bidi {
		typ = frameTypeMaxStreamsBidi
	}
	return varintLen(typ) + varintLen(f.maximumStreams)
}

func (f *maxStreamsFrame) decode(b []byte) (int, error) {
	off := 0
	var typ uint64
	n := getVarint(b[off:], &typ)
	if n == 0 {
		return 0, newError(FrameEncodingError, "max_streams")
	}
	off += n
	f.bidi = typ == frameTypeMaxStreamsBidi
	if n = getVarint(b[off:], &f.maximumStreams); n == 0 {
		return 0, newError(FrameEncodingError, "max_streams value")
	}
	off += n
	return off, nil
}

// --- data_blocked / stream_data_blocked / streams_blocked ---

type dataBlockedFrame struct{ dataLimit uint64 }

func (f *dataBlockedFrame) encodedLen() int {
	return varintLen(frameTypeDataBlocked) + varintLen(f.dataLimit)
}

func (f *dataBlockedFrame) decode(b []byte) (int, error) {
	return decodeVarintFields(b, &f.dataLimit)
}

type streamDataBlockedFrame struct {
	streamID  uint64
	dataLimit uint64
}

func (f *streamDataBlockedFrame) encodedLen() int {
	return varintLen(frameTypeStreamDataBlocked) + varintLen(f.streamID) + varintLen(f.dataLimit)
}

func (f *streamDataBlockedFrame) decode(b []byte) (int, error) {
	return decodeVarintFields(b, &f.streamID, &f.dataLimit)
}

type streamsBlockedFrame struct {
	bidi        bool
	streamLimit uint64
}

func (f *streamsBlockedFrame) encodedLen() int {
	typ := uint64(frameTypeStreamsBlockedUni)
	if f.bidi {
		typ = frameTypeStreamsBlockedBidi
	}
	return varintLen(typ) + varintLen(f.streamLimit)
}

func (f *streamsBlockedFrame) decode(b []byte) (int, error) {
	off := 0
	var typ uint64
	n := getVarint(b[off:], &typ)
	if n == 0 {
		return 0, newError(FrameEncodingError, "streams_blocked")
	}
	off += n
	f.bidi = typ == frameTypeStreamsBlockedBidi
	if n = getVarint(b[off:], &f.streamLimit); n == 0 {
		return 0, newError(FrameEncodingError, "streams_blocked value")
	}
	off += n
	return off, nil
}

// --- new_connection_id / retire_connection_id ---

type newConnectionIDFrame struct {
	sequenceNumber uint64
	retirePriorTo  uint64
	connID         []byte
	resetToken     [16]byte
}

func (f *newConnectionIDFrame) encodedLen() int {
	return varintLen(frameTypeNewConnectionID) + varintLen(f.sequenceNumber) + varintLen(f.retirePriorTo) + 1 + len(f.connID) + 16
}

func (f *newConnectionIDFrame) decode(b []byte) (int, error) {
	off := 0
	var typ uint64
	n := getVarint(b[off:], &typ)
	if n == 0 {
		return 0, newError(FrameEncodingError, "new_connection_id")
	}
	off += n
	if n = getVarint(b[off:], &f.sequenceNumber); n == 0 {
		return 0, newError(FrameEncodingError, "ncid seq")
	}
	off += n
	if n = getVarint(b[off:], &f.retirePriorTo); n == 0 {
		return 0, newError(FrameEncodingError, "ncid retire")
	}
	off += n
	if off >= len(b) {
		return 0, newError(FrameEncodingError, "ncid length")
	}
	ln := int(b[off])
	off++
	if off+ln+16 > len(b) {
		return 0, newError(FrameEncodingError, "ncid short")
	}
	f.connID = append([]byte(nil), b[off:off+ln]...)
	off += ln
	copy(f.resetToken[:], b[off:off+16])
	off += 16
	return off, nil
}

type retireConnectionIDFrame struct {
	sequenceNumber uint64
}

func (f *retireConnectionIDFrame) encodedLen() int {
	return varintLen(frameTypeRetireConnectionID) + varintLen(f.sequenceNumber)
}

func (f *retireConnectionIDFrame) decode(b []byte) (int, error) {
	return decodeVarintFields(b, &f.sequenceNumber)
}

// --- connection_close ---

type connectionCloseFrame struct {
	application  bool
	errorCode    uint64
	frameType    uint64
	reasonPhrase []byte
}

func (f *connectionCloseFrame) encodedLen() int {
	typ := uint64(frameTypeConnectionClose)
	n := varintLen(typ) + varintLen(f.errorCode)
	if !f.application {
		n += varintLen(f.frameType)
	}
	n += varintLen(uint64(len(f.reasonPhrase))) + len(f.reasonPhrase)
	return n
}

func (f *connectionCloseFrame) encodeInto(b []byte) int {
	typ := uint64(frameTypeConnectionClose)
	if f.application {
		typ = frameTypeApplicationClose
	}
	out := putVarint(b[:0], typ)
	out = putVarint(out, f.errorCode)
	if !f.application {
		out = putVarint(out, f.frameType)
	}
	out = putVarintLenPrefixed(out, f.reasonPhrase)
	return len(out)
}

func (f *connectionCloseFrame) decode(b []byte) (int, error) {
	off := 0
	var typ uint64
	n := getVarint(b[off:], &typ)
	if n == 0 {
		return 0, newError(FrameEncodingError, "connection_close")
	}
	off += n
	f.application = typ == frameTypeApplicationClose
	if n = getVarint(b[off:], &f.errorCode); n == 0 {
		return 0, newError(FrameEncodingError, "connection_close code")
	}
	off += n
	if !f.application {
		if n = getVarint(b[off:], &f.frameType); n == 0 {
			return 0, newError(FrameEncodingError, "connection_close frame type")
		}
		off += n
	}
	reason, n := getVarintLenPrefixed(b[off:])
	if n == 0 {
		return 0, newError(FrameEncodingError, "connection_close reason")
	}
	f.reasonPhrase = reason
	off += n
	return off, nil
}

func (f *connectionCloseFrame) String() string {
	return fmt.Sprintf("code=%d reason=%q", f.errorCode, f.reasonPhrase)
}

// --- handshake_done ---

type handshakeDoneFrame struct{}

func (f *handshakeDoneFrame) encodedLen() int { return 1 }

func (f *handshakeDoneFrame) decode(b []byte) (int, error) {
	var typ uint64
	n := getVarint(b, &typ)
	return n, nil
}

// decodeVarintFields decodes the frame type byte followed by len(fields) varints.
func decodeVarintFields(b []byte, fields ...*uint64) (int, error) {
	off := 0
	var typ uint64
	n := getVarint(b[off:], &typ)
	if n == 0 {
		return 0, newError(FrameEncodingError, "frame type")
	}
	off += n
	for _, f := range fields {
		n = getVarint(b[off:], f)
		if n == 0 {
			return 0, newError(FrameEncodingError, "frame field")
		}
		off += n
	}
	return off, nil
}
