package quic

import (
	"net"

	"github.com/sirupsen/logrus"

	"github.com/age-rs/quic-go/transport"
)

// Client dials outgoing QUIC connections from a single UDP socket.
type Client struct {
	config  *Config
	handler Handler
	logger  *logrus.Logger

	endpoint *endpoint
}

// NewClient returns a Client using config for every connection it dials.
func NewClient(config *Config) *Client {
	config.setDefaults()
	return &Client{
		config: config,
		logger: logrus.StandardLogger(),
	}
}

// SetHandler sets the handler dispatched to for every connection's events.
// Must be called before ListenAndServe.
func (c *Client) SetHandler(h Handler) {
	c.handler = h
}

// SetLogger overrides the logrus logger used for operational messages and
// qlog attachment. Must be called before ListenAndServe.
func (c *Client) SetLogger(logger *logrus.Logger) {
	c.logger = logger
}

// ListenAndServe opens a UDP socket on addr (use "0.0.0.0:0" for an
// ephemeral port) and starts the read loop that drives every subsequent
// Connect.
func (c *Client) ListenAndServe(addr string) error {
	pconn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	c.endpoint = newEndpoint(pconn, c.config, c.handler, c.logger)
	c.endpoint.start()
	return nil
}

// Connect dials a new connection to addr. The connection's subsequent
// events arrive through the Handler set with SetHandler, not through this
// call's return value.
func (c *Client) Connect(addr string) (Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	scid, err := c.endpoint.newCID()
	if err != nil {
		return nil, err
	}
	conn, err := transport.Connect(scid, &c.config.Config)
	if err != nil {
		return nil, err
	}
	rc := newRemoteConn(c.endpoint, conn, raddr, scid)
	c.endpoint.register(rc)
	return rc, nil
}

// Close stops the read loop and closes every live connection's run loop,
// waiting for them to exit.
func (c *Client) Close() error {
	return c.endpoint.close()
}
