package transport

import (
	"encoding/binary"
	"time"
)

// ResumptionToken is the opaque blob an application persists across
// connections to shortcut a future handshake's RTT estimate and transport
// parameter negotiation (spec §6). It does not itself grant 0-RTT data
// permission; anti-replay policy for that is a Non-goal, left to
// crypto/tls's own session cache.
//
// Wire format: u32 wire_version | varint rtt (microseconds) |
// vvec(transport_params) | vvec(new_token) | vvec(tls_session_bytes)
type ResumptionToken struct {
	WireVersion     uint32
	RTT             time.Duration
	Params          Parameters
	NewToken        []byte
	TLSSessionBytes []byte
}

func (t *ResumptionToken) encodedLen() int {
	paramsLen := t.Params.encodedLen()
	n := 4 + varintLen(uint64(t.RTT.Microseconds()))
	n += varintLen(uint64(paramsLen)) + paramsLen
	n += varintLen(uint64(len(t.NewToken))) + len(t.NewToken)
	n += varintLen(uint64(len(t.TLSSessionBytes))) + len(t.TLSSessionBytes)
	return n
}

// Marshal serializes t for storage or transmission to the application's
// session cache.
func (t *ResumptionToken) Marshal() ([]byte, error) {
	b := make([]byte, t.encodedLen())
	off := 0
	binary.BigEndian.PutUint32(b[off:], t.WireVersion)
	off += 4
	off += copy(b[off:], putVarint(nil, uint64(t.RTT.Microseconds())))

	paramsLen := t.Params.encodedLen()
	paramsBuf := make([]byte, paramsLen)
	if _, err := t.Params.encode(paramsBuf); err != nil {
		return nil, err
	}
	o := putVarintLenPrefixed(b[off:off], paramsBuf)
	off += len(o)

	o = putVarintLenPrefixed(b[off:off], t.NewToken)
	off += len(o)

	o = putVarintLenPrefixed(b[off:off], t.TLSSessionBytes)
	off += len(o)

	return b[:off], nil
}

// Unmarshal parses a ResumptionToken previously produced by Marshal.
func (t *ResumptionToken) Unmarshal(b []byte) error {
	if len(b) < 4 {
		return newError(TransportParameterError, "resumption token: truncated version")
	}
	t.WireVersion = binary.BigEndian.Uint32(b)
	off := 4

	var rtt uint64
	n := getVarint(b[off:], &rtt)
	if n == 0 {
		return newError(TransportParameterError, "resumption token: truncated rtt")
	}
	off += n
	t.RTT = time.Duration(rtt) * time.Microsecond

	paramsBuf, n := getVarintLenPrefixed(b[off:])
	if n == 0 {
		return newError(TransportParameterError, "resumption token: truncated params")
	}
	off += n
	if err := t.Params.decode(paramsBuf); err != nil {
		return err
	}

	newToken, n := getVarintLenPrefixed(b[off:])
	if n == 0 {
		return newError(TransportParameterError, "resumption token: truncated new_token")
	}
	off += n
	t.NewToken = append([]byte(nil), newToken...)

	sessionBytes, n := getVarintLenPrefixed(b[off:])
	if n == 0 {
		return newError(TransportParameterError, "resumption token: truncated session bytes")
	}
	t.TLSSessionBytes = append([]byte(nil), sessionBytes...)

	return nil
}
