package quic

import (
	"context"
	"net"
	"time"

	"github.com/age-rs/quic-go/transport"
)

// datagramQueueSize bounds how many not-yet-processed datagrams a single
// connection's run loop will buffer before the shared read loop blocks
// delivering to it.
const datagramQueueSize = 32

// remoteConn pairs a transport.Conn with the UDP peer it talks to and
// drives its send/receive/timeout cycle from its own goroutine, supervised
// by the owning endpoint's errgroup.
type remoteConn struct {
	conn *transport.Conn
	addr net.Addr
	scid []byte

	endpoint *endpoint
	in       chan []byte
}

func newRemoteConn(e *endpoint, conn *transport.Conn, addr net.Addr, scid []byte) *remoteConn {
	return &remoteConn{
		conn:     conn,
		addr:     addr,
		scid:     scid,
		endpoint: e,
		in:       make(chan []byte, datagramQueueSize),
	}
}

func (c *remoteConn) RemoteAddr() net.Addr { return c.addr }

func (c *remoteConn) Stream(id uint64) *transport.Stream {
	st, err := c.conn.Stream(id)
	if err != nil {
		return nil
	}
	return st
}

func (c *remoteConn) Close(app bool, errCode uint64, reason string) {
	c.conn.Close(app, errCode, reason)
}

func (c *remoteConn) Stats() transport.Stats {
	return c.conn.Stats()
}

// deliver hands a received datagram to this connection's run loop. It
// drops the datagram rather than blocking forever if the loop has already
// exited (in is never closed, so this only triggers under queue pressure
// combined with a dead consumer, which the context cancellation below
// bounds).
func (c *remoteConn) deliver(datagram []byte) {
	select {
	case c.in <- datagram:
	default:
	}
}

// run drives the connection until it closes or ctx is canceled: feeding
// received datagrams in, flushing outgoing packets out, and re-arming a
// timer from Conn.Timeout() between events.
func (c *remoteConn) run(ctx context.Context) {
	defer c.drainClose()

	c.flush()
	c.notify()

	timer := time.NewTimer(c.nextTimeout())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case datagram := <-c.in:
			if _, err := c.conn.Write(datagram); err != nil {
				c.endpoint.logger.WithError(err).WithField("addr", c.addr.String()).Debug("connection write failed")
			}
		case <-timer.C:
			c.conn.OnTimeout()
		}

		c.flush()
		c.notify()

		if c.conn.IsClosed() {
			return
		}
		resetTimer(timer, c.nextTimeout())
	}
}

func (c *remoteConn) nextTimeout() time.Duration {
	d := c.conn.Timeout()
	if d < 0 {
		return time.Hour
	}
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// flush drains every packet Conn.Read is ready to produce and writes each
// one to the peer address.
func (c *remoteConn) flush() {
	buf := make([]byte, transport.MaxPacketSize)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			c.endpoint.logger.WithError(err).WithField("addr", c.addr.String()).Debug("connection read failed")
			return
		}
		if n == 0 {
			return
		}
		c.endpoint.send(buf[:n], c.addr)
	}
}

func (c *remoteConn) notify() {
	events := c.conn.Events(nil)
	if len(events) > 0 && c.endpoint.handler != nil {
		c.endpoint.handler.Serve(c, events)
	}
}

func (c *remoteConn) drainClose() {
	c.notify()
}
