package quic

import (
	"time"

	"github.com/age-rs/quic-go/transport"
)

// Config bundles the host-loop settings layered on top of transport.Config:
// locally-generated connection ID length and the stateless address
// validation policy (Retry and NEW_TOKEN).
type Config struct {
	transport.Config

	// CIDLength is the length of connection IDs this endpoint generates.
	// Zero uses a 16-byte default.
	CIDLength int

	// TokenSecret seeds the Retry/NEW_TOKEN sealing AEAD. Connections
	// created before a process restart become unvalidatable against a
	// freshly generated secret, so a server restarted under load should
	// set this explicitly rather than rely on the random default.
	TokenSecret []byte

	// RequireRetry forces every new client address to complete a
	// stateless Retry round trip before a connection is created.
	RequireRetry bool

	// TokenValidity bounds total token age for both Retry and NEW_TOKEN
	// tokens. Zero uses a 10s default.
	TokenValidity time.Duration

	// AddressChangeWindow is how long after issuance a token is still
	// accepted from a different source address, tolerating NAT rebinding
	// without reopening the door to replay indefinitely. Zero uses a 2s
	// default.
	AddressChangeWindow time.Duration

	// HandshakeTimeout bounds how long an unestablished connection is
	// kept around. Zero uses a 10s default.
	HandshakeTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.CIDLength <= 0 {
		c.CIDLength = 16
	}
	if c.TokenValidity <= 0 {
		c.TokenValidity = 10 * time.Second
	}
	if c.AddressChangeWindow <= 0 {
		c.AddressChangeWindow = 2 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
}
