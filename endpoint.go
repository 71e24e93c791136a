package quic

import (
	"context"
	"crypto/rand"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/age-rs/quic-go/internal/metrics"
	"github.com/age-rs/quic-go/internal/qlog"
	"github.com/age-rs/quic-go/transport"
)

const maxDatagramSize = 65535

// endpoint is the read-loop and connection registry shared by Client and
// Server: it owns one net.PacketConn, demultiplexes incoming datagrams by
// destination connection ID, and supervises each connection's own
// send/receive/timeout goroutine through an errgroup.
type endpoint struct {
	pconn  net.PacketConn
	config *Config
	handler Handler
	logger  *logrus.Logger
	metrics *metrics.ConnCollector

	// onUnroutable handles a datagram whose DCID matches no known
	// connection. Server uses it to run stateless Retry/token validation
	// and create a new connection; Client leaves it nil and such
	// datagrams are dropped.
	onUnroutable func(addr net.Addr, hdr transport.Header, datagram []byte)

	mu    sync.Mutex
	conns map[string]*remoteConn // keyed by local scid bytes

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

func newEndpoint(pconn net.PacketConn, config *Config, handler Handler, logger *logrus.Logger) *endpoint {
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	return &endpoint{
		pconn:   pconn,
		config:  config,
		handler: handler,
		logger:  logger,
		metrics: metrics.NewConnCollector("quince"),
		conns:   make(map[string]*remoteConn),
		group:   group,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (e *endpoint) start() {
	e.group.Go(e.readLoop)
}

// close cancels every connection's run loop and the read loop, then waits
// for all of them to return.
func (e *endpoint) close() error {
	e.cancel()
	e.pconn.Close()
	err := e.group.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (e *endpoint) newCID() ([]byte, error) {
	cid := make([]byte, e.config.CIDLength)
	if _, err := rand.Read(cid); err != nil {
		return nil, err
	}
	return cid, nil
}

func (e *endpoint) readLoop() error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := e.pconn.ReadFrom(buf)
		if err != nil {
			if e.ctx.Err() != nil {
				return nil
			}
			return err
		}
		datagram := append([]byte(nil), buf[:n]...)
		e.handleDatagram(datagram, addr)
	}
}

func (e *endpoint) handleDatagram(datagram []byte, addr net.Addr) {
	hdr, err := transport.PeekHeader(datagram, e.config.CIDLength)
	if err != nil {
		e.logger.WithError(err).Debug("dropping unparseable datagram")
		return
	}

	e.mu.Lock()
	rc := e.conns[string(hdr.DCID)]
	e.mu.Unlock()

	if rc != nil {
		rc.deliver(datagram)
		return
	}
	if e.onUnroutable != nil {
		e.onUnroutable(addr, hdr, datagram)
	}
}

// register adds c to the connection table under scid and starts its run
// loop under the endpoint's errgroup.
func (e *endpoint) register(c *remoteConn) {
	e.mu.Lock()
	e.conns[string(c.scid)] = c
	e.mu.Unlock()
	e.metrics.Add(c.conn, c.addr.String())
	qlog.Attach(e.logger, c.conn, c.addr.String(), c.scid)
	e.group.Go(func() error {
		c.run(e.ctx)
		e.unregister(c)
		return nil
	})
}

func (e *endpoint) unregister(c *remoteConn) {
	e.mu.Lock()
	delete(e.conns, string(c.scid))
	e.mu.Unlock()
	e.metrics.Remove(c.conn)
	qlog.Detach(c.conn)
}

func (e *endpoint) send(b []byte, addr net.Addr) {
	if _, err := e.pconn.WriteTo(b, addr); err != nil {
		e.logger.WithError(err).WithField("addr", addr.String()).Debug("write failed")
	}
}
