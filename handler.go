package quic

import (
	"net"

	"github.com/age-rs/quic-go/transport"
)

// Conn is the application-facing view of one QUIC connection, handed to a
// Handler's Serve method for the lifetime of the connection.
type Conn interface {
	// RemoteAddr is the connection's peer address.
	RemoteAddr() net.Addr

	// Stream returns the stream with the given ID, opening it locally if
	// it does not already exist. It returns nil if the stream cannot be
	// used, e.g. the peer's advertised stream-count limit was exceeded.
	Stream(id uint64) *transport.Stream

	// Close closes the connection, sending a CONNECTION_CLOSE. app
	// selects an application-level (true) or transport-level (false)
	// error code.
	Close(app bool, errCode uint64, reason string)

	// Stats reports the connection's current loss-recovery and
	// congestion-control state.
	Stats() transport.Stats
}

// Handler processes the application-visible events a connection produces
// as it handles incoming packets and timer expiry: handshake completion,
// stream readability, and connection close.
type Handler interface {
	Serve(c Conn, events []transport.Event)
}

// HandlerFunc adapts a plain function to a Handler.
type HandlerFunc func(c Conn, events []transport.Event)

func (f HandlerFunc) Serve(c Conn, events []transport.Event) {
	f(c, events)
}
