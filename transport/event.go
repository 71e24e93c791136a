package transport

// EventType identifies the kind of application-visible Event produced by a
// Conn as it processes packets (spec §8).
type EventType uint8

const (
	// EventConnected fires once the handshake completes (not yet
	// Confirmed; 1-RTT keys are usable).
	EventConnected EventType = iota
	// EventConnectionClosed fires once the connection has fully drained
	// after a close, local or peer-initiated.
	EventConnectionClosed
	// EventStreamReadable fires when a stream has new bytes (or a FIN/
	// reset) available to read.
	EventStreamReadable
	// EventStreamWritable fires when a previously flow-control-blocked
	// stream can accept more writes.
	EventStreamWritable
	// EventStreamReset fires when the peer sent RESET_STREAM.
	EventStreamReset
	// EventStreamStopSending fires when the peer sent STOP_SENDING.
	EventStreamStopSending
	// EventStreamComplete fires once a stream has been fully consumed
	// and can be forgotten by the application.
	EventStreamComplete
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventConnectionClosed:
		return "connection_closed"
	case EventStreamReadable:
		return "stream_readable"
	case EventStreamWritable:
		return "stream_writable"
	case EventStreamReset:
		return "stream_reset"
	case EventStreamStopSending:
		return "stream_stop_sending"
	case EventStreamComplete:
		return "stream_complete"
	default:
		return "unknown"
	}
}

// Event is a single application-visible occurrence produced by a Conn's
// processing of incoming packets or timer expiry.
type Event struct {
	Type      EventType
	StreamID  uint64
	ErrorCode uint64
}

func newStreamRecvEvent(id uint64) Event {
	return Event{Type: EventStreamReadable, StreamID: id}
}

func newStreamWritableEvent(id uint64) Event {
	return Event{Type: EventStreamWritable, StreamID: id}
}

func newStreamResetEvent(id uint64, code uint64) Event {
	return Event{Type: EventStreamReset, StreamID: id, ErrorCode: code}
}

func newStreamStopEvent(id uint64, code uint64) Event {
	return Event{Type: EventStreamStopSending, StreamID: id, ErrorCode: code}
}

func newStreamCompleteEvent(id uint64) Event {
	return Event{Type: EventStreamComplete, StreamID: id}
}

func newConnectedEvent() Event {
	return Event{Type: EventConnected}
}

func newConnectionClosedEvent() Event {
	return Event{Type: EventConnectionClosed}
}
