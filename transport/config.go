package transport

import "crypto/tls"

// Config bundles the parameters newConn needs to start a client or server
// connection: the negotiated wire version, the local transport parameters
// to advertise, and the TLS configuration driving the handshake.
type Config struct {
	// Version is the QUIC wire version this endpoint speaks (version1 or
	// version2, RFC 9369).
	Version uint32

	// Params are the local transport parameters sent to the peer. Zero
	// value fields are still sent as zero; callers typically start from
	// DefaultParameters and override.
	Params Parameters

	// TLS carries the certificate chain (server) or root store (client)
	// plus ALPN and SNI settings. Must be non-nil.
	TLS *tls.Config

	// FastPTOScale scales the probe timeout only (not persistent
	// congestion detection, which always uses the unscaled PTO). A value
	// below 1 makes loss recovery probe sooner at the cost of spurious
	// retransmissions; zero is treated as 1.
	FastPTOScale float64
}

// ConfigWithDefaults returns a Config using DefaultParameters for Params and
// version1 for Version, with tlsConfig passed through unmodified.
func ConfigWithDefaults(tlsConfig *tls.Config) *Config {
	return &Config{
		Version:      version1,
		Params:       DefaultParameters(),
		TLS:          tlsConfig,
		FastPTOScale: 1,
	}
}
