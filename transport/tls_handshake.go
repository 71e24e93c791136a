package transport

import (
	"context"
	"crypto/tls"
)

// tlsHandshake wraps crypto/tls's sans-IO QUIC support (tls.QUICConn),
// translating its event stream into key installs on the owning Conn's
// packetNumberSpaces and CRYPTO-stream writes. The TLS state machine itself
// is treated as an external collaborator, per spec §4.1.
type tlsHandshake struct {
	owner    *Conn
	conn     *tls.QUICConn
	tlsConfig *tls.Config
	isClient bool
	started  bool

	crypto cryptoStates

	writeOffset [packetSpaceCount]uint64

	complete   bool
	peerParams Parameters
	havePeerParams bool
}

func (h *tlsHandshake) init(owner *Conn, tlsConfig *tls.Config) {
	h.owner = owner
	h.tlsConfig = tlsConfig
	h.isClient = owner.isClient
	qc := &tls.QUICConfig{TLSConfig: tlsConfig}
	if h.isClient {
		h.conn = tls.QUICClient(qc)
	} else {
		h.conn = tls.QUICServer(qc)
	}
}

// setTransportParams installs the local transport parameters to be sent to
// the peer as a TLS extension; must be called before doHandshake.
func (h *tlsHandshake) setTransportParams(p *Parameters) {
	buf := make([]byte, p.encodedLen())
	n, err := p.encode(buf)
	if err != nil {
		panic(err) // locally-constructed Parameters always encode
	}
	h.conn.SetTransportParameters(buf[:n])
}

// reset recreates the TLS state machine, used after version negotiation or
// a Retry restarts the Initial flight before any handshake progress beyond
// it has been made.
func (h *tlsHandshake) reset() {
	qc := &tls.QUICConfig{TLSConfig: h.tlsConfig}
	if h.isClient {
		h.conn = tls.QUICClient(qc)
	} else {
		h.conn = tls.QUICServer(qc)
	}
	h.started = false
	h.crypto = cryptoStates{}
	h.complete = false
}

func (h *tlsHandshake) close() {
	h.conn.Close()
}

// levelToSpace maps a TLS QUIC encryption level to its packet-number space.
func levelToSpace(level tls.QUICEncryptionLevel) packetSpace {
	switch level {
	case tls.QUICEncryptionLevelInitial:
		return packetSpaceInitial
	case tls.QUICEncryptionLevelHandshake:
		return packetSpaceHandshake
	default:
		return packetSpaceApplication
	}
}

func spaceToLevel(space packetSpace) tls.QUICEncryptionLevel {
	switch space {
	case packetSpaceInitial:
		return tls.QUICEncryptionLevelInitial
	case packetSpaceHandshake:
		return tls.QUICEncryptionLevelHandshake
	default:
		return tls.QUICEncryptionLevelApplication
	}
}

// doHandshake starts the TLS state machine on first call, then drains and
// applies every event the state machine has produced: installing keys into
// the owning connection's packetNumberSpaces, queuing CRYPTO data for send,
// and recording transport parameters and handshake completion.
func (h *tlsHandshake) doHandshake() error {
	if !h.started {
		if err := h.conn.Start(context.Background()); err != nil {
			return translateTLSError(err)
		}
		h.started = true
	}
	for {
		ev := h.conn.NextEvent()
		switch ev.Kind {
		case tls.QUICNoEvent:
			return nil
		case tls.QUICSetWriteSecret:
			h.installSecret(dirWrite, ev.Level, ev.Data, ev.Suite)
		case tls.QUICSetReadSecret:
			h.installSecret(dirRead, ev.Level, ev.Data, ev.Suite)
		case tls.QUICWriteData:
			space := levelToSpace(ev.Level)
			pnSpace := &h.owner.packetNumberSpaces[space]
			offset := h.writeOffset[space]
			sniSlicing := h.isClient && space == packetSpaceInitial && offset == 0
			if err := pnSpace.cryptoStream.pushSendSliced(ev.Data, offset, false, sniSlicing); err != nil {
				return err
			}
			h.writeOffset[space] += uint64(len(ev.Data))
		case tls.QUICTransportParameters:
			var p Parameters
			if err := p.decode(ev.Data); err != nil {
				return err
			}
			h.peerParams = p
			h.havePeerParams = true
		case tls.QUICHandshakeDone:
			h.complete = true
		case tls.QUICTransportParametersRequired:
			// SetTransportParameters must already have been called before
			// Start; nothing further to do here.
		case tls.QUICRejectedEarlyData, tls.QUICResumptionTicket:
			// 0-RTT and session resumption are Non-goals (spec §4.4).
		}
	}
}

// handleData feeds received CRYPTO frame bytes for the given space into the
// TLS state machine; the caller must call doHandshake afterward to apply
// whatever progress this unblocked.
func (h *tlsHandshake) handleData(space packetSpace, data []byte) error {
	if err := h.conn.HandleData(spaceToLevel(space), data); err != nil {
		return translateTLSError(err)
	}
	return nil
}

func (h *tlsHandshake) installSecret(dir direction, level tls.QUICEncryptionLevel, secret []byte, suite uint16) {
	space := levelToSpace(level)
	profile := suiteToProfile(suite)
	switch space {
	case packetSpaceHandshake:
		if dir == dirWrite {
			h.crypto.installHandshakeWrite(secret, profile)
			h.owner.packetNumberSpaces[space].sealer = h.crypto.handshakeWrite
		} else {
			h.crypto.installHandshakeRead(secret, profile)
			h.owner.packetNumberSpaces[space].opener = h.crypto.handshakeRead
		}
	case packetSpaceApplication:
		if dir == dirWrite {
			h.crypto.installAppWrite(secret, profile)
			h.owner.packetNumberSpaces[space].sealer = h.crypto.appWrite
		} else {
			h.crypto.installAppRead(secret, profile)
			h.owner.packetNumberSpaces[space].opener = h.crypto.appRead
			h.owner.packetNumberSpaces[space].openerNext = h.crypto.appReadNext
		}
	}
}

func (h *tlsHandshake) HandshakeComplete() bool {
	return h.complete
}

func (h *tlsHandshake) peerTransportParams() *Parameters {
	if !h.havePeerParams {
		return nil
	}
	return &h.peerParams
}

// writeSpace returns the highest packet-number space for which write keys
// are currently installed, used to pick a space for CONNECTION_CLOSE and
// PTO probes when no space otherwise has data queued.
func (h *tlsHandshake) writeSpace() packetSpace {
	if h.crypto.appWrite != nil {
		return packetSpaceApplication
	}
	if h.crypto.handshakeWrite != nil {
		return packetSpaceHandshake
	}
	return packetSpaceInitial
}

func suiteToProfile(suite uint16) aeadProfile {
	switch suite {
	case tls.TLS_CHACHA20_POLY1305_SHA256:
		return aeadChaCha20Poly1305
	case tls.TLS_AES_256_GCM_SHA384:
		return aeadAES256GCM
	default:
		return aeadAES128GCM
	}
}

// translateTLSError wraps a TLS alert error from crypto/tls as a transport
// CryptoAlert Error, per spec §4.1.
func translateTLSError(err error) error {
	if err == nil {
		return nil
	}
	if te, ok := err.(*Error); ok {
		return te
	}
	return newError(CryptoAlert, err.Error())
}
