package transport

import (
	"io"
	"sort"
)

// Stream identifier helpers, RFC 9000 Section 2.1: the two low bits of a
// stream ID encode the initiator and directionality.
const (
	streamIDInitiatorMask = 0x1
	streamIDDirMask       = 0x2
)

func isStreamClientInitiated(id uint64) bool {
	return id&streamIDInitiatorMask == 0
}

func isStreamBidi(id uint64) bool {
	return id&streamIDDirMask == 0
}

// isStreamLocal reports whether id was (or would be) opened by the local
// endpoint, given whether the local endpoint is the client.
func isStreamLocal(id uint64, isClient bool) bool {
	return isStreamClientInitiated(id) == isClient
}

// streamSendState is the send-side state machine, RFC 9000 Section 3.1.
type streamSendState uint8

const (
	streamSendReady streamSendState = iota
	streamSendSend
	streamSendDataSent
	streamSendDataRecvd
	streamSendResetSent
	streamSendResetRecvd
)

// streamRecvState is the receive-side state machine, RFC 9000 Section 3.2.
type streamRecvState uint8

const (
	streamRecvRecv streamRecvState = iota
	streamRecvSizeKnown
	streamRecvDataRecvd
	streamRecvDataRead
	streamRecvResetRecvd
	streamRecvResetRead
)

// Stream is a single QUIC stream's bidirectional (or unidirectional) byte
// pipe, spec §5.
type Stream struct {
	id uint64

	send      sendBuffer
	sendState streamSendState

	recv      recvBuffer
	recvState streamRecvState

	flow     flowControl
	connFlow *flowControl

	updateMaxData bool // a MAX_STREAM_DATA needs to be sent for this stream

	readable bool // true once recv has buffered bytes or a FIN/reset the app hasn't observed
	writable bool

	localStopErrorCode *uint64
	peerResetErrorCode *uint64
}

func newStream(id uint64) *Stream {
	return &Stream{id: id}
}

func (st *Stream) isBidi() bool { return isStreamBidi(st.id) }

// canWrite reports whether the local endpoint may still write to this stream.
func (st *Stream) canWrite() bool {
	return st.sendState == streamSendReady || st.sendState == streamSendSend
}

// canRead reports whether the application may still read new bytes.
func (st *Stream) canRead() bool {
	return st.recvState != streamRecvDataRead && st.recvState != streamRecvResetRead
}

// write appends application data to the stream's send buffer, subject to
// stream- and connection-level flow control.
func (st *Stream) write(data []byte, fin bool) (int, error) {
	if !st.canWrite() {
		return 0, newError(StreamStateError, "stream not writable")
	}
	if st.flow.canSend() < uint64(len(data)) {
		return 0, errFlowControl
	}
	if st.connFlow != nil && st.connFlow.canSend() < uint64(len(data)) {
		return 0, errFlowControl
	}
	if err := st.send.push(data, st.send.dataOffset, fin); err != nil {
		return 0, err
	}
	st.flow.addSend(len(data))
	if st.connFlow != nil {
		st.connFlow.addSend(len(data))
	}
	if st.sendState == streamSendReady {
		st.sendState = streamSendSend
	}
	if fin {
		st.sendState = streamSendDataSent
	}
	return len(data), nil
}

// popSend returns the next outgoing chunk, transitioning to DataSent once
// the fin byte has been popped.
func (st *Stream) popSend(max int) (data []byte, offset uint64, fin bool) {
	data, offset, fin = st.send.popSend(max)
	if fin {
		st.sendState = streamSendDataSent
	}
	return
}

// ackSend marks [offset, offset+length) as acknowledged, completing the
// send side once everything including any FIN has been acked.
func (st *Stream) ackSend(offset, length uint64) {
	st.send.ack(offset, length)
	if st.sendState == streamSendDataSent && st.send.complete() {
		st.sendState = streamSendDataRecvd
	}
}

// resetSend transitions the send side to ResetSent, discarding buffered
// data, and returns the final size to report in the RESET_STREAM frame.
func (st *Stream) resetSend(errorCode uint64) uint64 {
	finalSize := st.send.dataOffset
	st.sendState = streamSendResetSent
	st.send = sendBuffer{}
	return finalSize
}

// pushRecv ingests a STREAM frame payload, enforcing stream-level flow
// control (connection-level accounting is the caller's responsibility,
// since it spans every stream) and the final-size invariant.
func (st *Stream) pushRecv(data []byte, offset uint64, fin bool) error {
	if st.recvState == streamRecvResetRecvd || st.recvState == streamRecvResetRead {
		return nil
	}
	if st.flow.canRecv() < uint64(len(data)) {
		return errFlowControl
	}
	if err := st.recv.push(data, offset, fin); err != nil {
		return err
	}
	st.flow.addRecv(len(data))
	if st.flow.shouldUpdateMaxRecv() {
		st.updateMaxData = true
	}
	if st.recvState == streamRecvRecv && fin {
		st.recvState = streamRecvSizeKnown
	}
	if st.recv.readableLen() > 0 || (st.recv.finalSizeSet && st.recv.readOffset == st.recv.finalSize) {
		st.readable = true
	}
	return nil
}

func (st *Stream) read(p []byte) (int, bool) {
	n, fin := st.recv.read(p)
	if fin {
		st.recvState = streamRecvDataRecvd
	}
	if st.recv.readableLen() == 0 {
		st.readable = false
	}
	return n, fin
}

// resetRecv transitions the receive side to ResetRecvd on an incoming
// RESET_STREAM frame.
func (st *Stream) resetRecv(errorCode, finalSize uint64) {
	st.recvState = streamRecvResetRecvd
	st.peerResetErrorCode = &errorCode
	st.readable = true
}

// ackMaxData clears the pending MAX_STREAM_DATA flag once the frame
// reporting flow.maxRecvNext has been queued and flow.commitMaxRecv has run.
func (st *Stream) ackMaxData() {
	st.updateMaxData = false
}

// Write appends data to the stream's send buffer for later transmission,
// subject to stream- and connection-level flow control. A returned
// errFlowControl is not fatal: the caller should retry once the peer
// raises the relevant MAX_DATA/MAX_STREAM_DATA limit.
func (st *Stream) Write(data []byte) (int, error) {
	return st.write(data, false)
}

// Close marks the stream as finished, queuing a FIN for the next packet
// that drains this stream. It does not wait for acknowledgment.
func (st *Stream) Close() error {
	_, err := st.write(nil, true)
	return err
}

// Read copies already-received, in-order bytes into p. It returns io.EOF
// once the final offset has been delivered and no reset is pending.
func (st *Stream) Read(p []byte) (int, error) {
	n, fin := st.read(p)
	if n == 0 && fin {
		return 0, io.EOF
	}
	return n, nil
}

// streamMap owns every stream for a connection plus the local/peer stream
// count limits (spec §5, stream lifecycle).
type streamMap struct {
	streams map[uint64]*Stream
	order   []uint64

	isClient bool

	localMaxStreamsBidi uint64
	localMaxStreamsUni  uint64
	peerMaxStreamsBidi  uint64
	peerMaxStreamsUni   uint64

	localNextBidi uint64
	localNextUni  uint64

	localOpenedBidi uint64
	localOpenedUni  uint64
	peerOpenedBidi  uint64
	peerOpenedUni   uint64
}

func (m *streamMap) init(maxStreamsBidi, maxStreamsUni uint64) {
	m.streams = make(map[uint64]*Stream)
	m.localMaxStreamsBidi = maxStreamsBidi
	m.localMaxStreamsUni = maxStreamsUni
}

func (m *streamMap) get(id uint64) *Stream {
	return m.streams[id]
}

// create allocates a new stream with the given id, enforcing the
// appropriate (local or peer) stream-count limit. The caller is
// responsible for initializing flow control once the direction-specific
// window sizes are known.
func (m *streamMap) create(id uint64, local, bidi bool) (*Stream, error) {
	if local {
		if bidi {
			if m.localOpenedBidi >= m.peerMaxStreamsBidi {
				return nil, newError(StreamLimitError, "bidi stream limit")
			}
			m.localOpenedBidi++
		} else {
			if m.localOpenedUni >= m.peerMaxStreamsUni {
				return nil, newError(StreamLimitError, "uni stream limit")
			}
			m.localOpenedUni++
		}
	} else {
		index := id >> 2
		if bidi {
			if index >= m.localMaxStreamsBidi {
				return nil, newError(StreamLimitError, "peer exceeded bidi stream limit")
			}
			if index >= m.peerOpenedBidi {
				m.peerOpenedBidi = index + 1
			}
		} else {
			if index >= m.localMaxStreamsUni {
				return nil, newError(StreamLimitError, "peer exceeded uni stream limit")
			}
			if index >= m.peerOpenedUni {
				m.peerOpenedUni = index + 1
			}
		}
	}
	st := newStream(id)
	m.add(st)
	return st, nil
}

func (m *streamMap) add(st *Stream) {
	m.streams[st.id] = st
	m.order = append(m.order, st.id)
}

func (m *streamMap) setPeerMaxStreamsBidi(v uint64) {
	if v > m.peerMaxStreamsBidi {
		m.peerMaxStreamsBidi = v
	}
}

func (m *streamMap) setPeerMaxStreamsUni(v uint64) {
	if v > m.peerMaxStreamsUni {
		m.peerMaxStreamsUni = v
	}
}

// hasFlushable reports whether any stream has data queued to send or a
// pending flow-control update, in ascending stream ID order (a simple
// round-robin fairness policy).
func (m *streamMap) hasFlushable() bool {
	for _, id := range m.order {
		st := m.streams[id]
		if st.send.length > st.send.sendOffset {
			return true
		}
		if st.updateMaxData {
			return true
		}
	}
	return false
}

// flushable returns stream IDs with pending send data or flow-control
// updates, sorted ascending.
func (m *streamMap) flushable() []uint64 {
	var ids []uint64
	for _, id := range m.order {
		st := m.streams[id]
		if st.send.length > st.send.sendOffset || st.updateMaxData {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *streamMap) readable() []uint64 {
	var ids []uint64
	for _, id := range m.order {
		if m.streams[id].readable {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
