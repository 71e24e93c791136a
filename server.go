package quic

import (
	"crypto/rand"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/age-rs/quic-go/internal/metrics"
	"github.com/age-rs/quic-go/internal/tokenstore"
	"github.com/age-rs/quic-go/transport"
)

// Server accepts incoming QUIC connections on a single UDP socket,
// validating new client addresses with stateless Retry/NEW_TOKEN before
// handing each connection to a Handler.
type Server struct {
	config  *Config
	handler Handler
	logger  *logrus.Logger
	tokens  *tokenstore.Store

	endpoint *endpoint
}

// NewServer returns a Server that will dispatch connection events to
// handler once ListenAndServe is called.
func NewServer(config *Config, handler Handler) (*Server, error) {
	config.setDefaults()
	secret := config.TokenSecret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
	}
	tokens, err := tokenstore.New(secret, config.TokenValidity, config.AddressChangeWindow)
	if err != nil {
		return nil, err
	}
	return &Server{
		config:  config,
		handler: handler,
		logger:  logrus.StandardLogger(),
		tokens:  tokens,
	}, nil
}

// SetLogger overrides the logrus logger used for operational messages and
// qlog attachment. Must be called before ListenAndServe.
func (s *Server) SetLogger(logger *logrus.Logger) {
	s.logger = logger
}

// Metrics returns the collector tracking every connection this server is
// currently serving, for registration with a prometheus.Registry.
func (s *Server) Metrics() *metrics.ConnCollector {
	return s.endpoint.metrics
}

// ListenAndServe opens a UDP socket on addr and serves connections until
// Close is called.
func (s *Server) ListenAndServe(addr string) error {
	pconn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	s.endpoint = newEndpoint(pconn, s.config, s.handler, s.logger)
	s.endpoint.onUnroutable = s.handleNewClient
	s.endpoint.start()
	return nil
}

// Close stops accepting new connections and closes every live connection's
// run loop, waiting for them to exit.
func (s *Server) Close() error {
	return s.endpoint.close()
}

// LocalAddr returns the UDP address the server is listening on.
func (s *Server) LocalAddr() net.Addr {
	return s.endpoint.pconn.LocalAddr()
}

func (s *Server) handleNewClient(addr net.Addr, hdr transport.Header, datagram []byte) {
	if !hdr.IsLongHeader || !hdr.IsInitial {
		s.logger.WithField("addr", addr.String()).Debug("dropping non-initial packet from unknown connection")
		return
	}

	now := time.Now()
	var odcid []byte
	// addressValidated tracks whether this client already proved ownership
	// of addr via a validated token (Retry or NEW_TOKEN), per the
	// anti-amplification limit (RFC 9000 Section 8.1). A bare first Initial
	// accepted without RequireRetry has not, and starts the connection
	// under the 3x-bytes-received cap until a Handshake packet arrives.
	var addressValidated bool
	if len(hdr.Token) == 0 {
		if s.config.RequireRetry {
			s.sendRetry(addr, hdr)
			return
		}
		odcid = hdr.DCID
	} else {
		validated, err := s.tokens.Validate(hdr.Token, addr.String(), now)
		if err != nil {
			s.logger.WithError(err).WithField("addr", addr.String()).Debug("rejecting invalid token")
			if s.config.RequireRetry {
				s.sendRetry(addr, hdr)
			}
			return
		}
		addressValidated = true
		if validated.IsRetry {
			odcid = validated.OriginalDCID
		} else {
			odcid = hdr.DCID
		}
	}

	scid, err := s.endpoint.newCID()
	if err != nil {
		s.logger.WithError(err).Error("failed to generate connection id")
		return
	}
	conn, err := transport.Accept(scid, odcid, &s.config.Config, addressValidated)
	if err != nil {
		s.logger.WithError(err).WithField("addr", addr.String()).Debug("rejecting connection attempt")
		return
	}
	rc := newRemoteConn(s.endpoint, conn, addr, scid)
	s.endpoint.register(rc)
	rc.deliver(datagram)
}

func (s *Server) sendRetry(addr net.Addr, hdr transport.Header) {
	rscid, err := s.endpoint.newCID()
	if err != nil {
		s.logger.WithError(err).Error("failed to generate retry source connection id")
		return
	}
	token, err := s.tokens.SealRetryToken(hdr.DCID, rscid, addr.String(), time.Now())
	if err != nil {
		s.logger.WithError(err).Error("failed to seal retry token")
		return
	}
	retry, err := transport.BuildRetryPacket(hdr.Version, hdr.SCID, rscid, hdr.DCID, token)
	if err != nil {
		s.logger.WithError(err).Error("failed to build retry packet")
		return
	}
	s.endpoint.send(retry, addr)
}
