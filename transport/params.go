package transport

import "time"

// Transport parameter identifiers, RFC 9000 Section 18.2.
const (
	paramOriginalDestinationConnectionID = 0x00
	paramMaxIdleTimeout                  = 0x01
	paramStatelessResetToken             = 0x02
	paramMaxUDPPayloadSize               = 0x03
	paramInitialMaxData                  = 0x04
	paramInitialMaxStreamDataBidiLocal   = 0x05
	paramInitialMaxStreamDataBidiRemote  = 0x06
	paramInitialMaxStreamDataUni         = 0x07
	paramInitialMaxStreamsBidi           = 0x08
	paramInitialMaxStreamsUni            = 0x09
	paramAckDelayExponent                = 0x0a
	paramMaxAckDelay                     = 0x0b
	paramDisableActiveMigration          = 0x0c
	paramPreferredAddress                = 0x0d
	paramActiveConnectionIDLimit         = 0x0e
	paramInitialSourceConnectionID       = 0x0f
	paramRetrySourceConnectionID         = 0x10
)

// Parameters holds the local/peer transport parameter set, spec §6. Field
// names mirror the connection engine's own CID fields (CID, not
// ConnectionID) to keep call sites short.
type Parameters struct {
	OriginalDestinationCID []byte
	MaxIdleTimeout         time.Duration
	StatelessResetToken    []byte // exactly 16 bytes when present
	MaxUDPPayloadSize      uint64

	InitialMaxData                 uint64
	InitialMaxStreamDataBidiLocal   uint64
	InitialMaxStreamDataBidiRemote  uint64
	InitialMaxStreamDataUni         uint64
	InitialMaxStreamsBidi           uint64
	InitialMaxStreamsUni            uint64

	AckDelayExponent        uint64
	MaxAckDelay             time.Duration
	DisableActiveMigration  bool
	PreferredAddress        []byte // opaque, not interpreted (Non-goal: path migration)
	ActiveConnectionIDLimit uint64
	InitialSourceCID        []byte
	RetrySourceCID          []byte
}

// DefaultParameters returns the values this implementation proposes absent
// explicit configuration (spec §6 defaults, RFC 9000 Section 18.2).
func DefaultParameters() Parameters {
	return Parameters{
		MaxIdleTimeout:                 30 * time.Second,
		MaxUDPPayloadSize:              65527,
		InitialMaxData:                 1 << 20,
		InitialMaxStreamDataBidiLocal:  1 << 18,
		InitialMaxStreamDataBidiRemote: 1 << 18,
		InitialMaxStreamDataUni:        1 << 18,
		InitialMaxStreamsBidi:          100,
		InitialMaxStreamsUni:           100,
		AckDelayExponent:               3,
		MaxAckDelay:                    25 * time.Millisecond,
		ActiveConnectionIDLimit:        2,
	}
}

func (p *Parameters) encodedLen() int {
	n := 0
	add := func(id uint64, length int) {
		n += varintLen(id) + varintLen(uint64(length)) + length
	}
	if len(p.OriginalDestinationCID) > 0 {
		add(paramOriginalDestinationConnectionID, len(p.OriginalDestinationCID))
	}
	if p.MaxIdleTimeout > 0 {
		add(paramMaxIdleTimeout, varintLen(uint64(p.MaxIdleTimeout/time.Millisecond)))
	}
	if len(p.StatelessResetToken) == 16 {
		add(paramStatelessResetToken, 16)
	}
	add(paramMaxUDPPayloadSize, varintLen(p.MaxUDPPayloadSize))
	add(paramInitialMaxData, varintLen(p.InitialMaxData))
	add(paramInitialMaxStreamDataBidiLocal, varintLen(p.InitialMaxStreamDataBidiLocal))
	add(paramInitialMaxStreamDataBidiRemote, varintLen(p.InitialMaxStreamDataBidiRemote))
	add(paramInitialMaxStreamDataUni, varintLen(p.InitialMaxStreamDataUni))
	add(paramInitialMaxStreamsBidi, varintLen(p.InitialMaxStreamsBidi))
	add(paramInitialMaxStreamsUni, varintLen(p.InitialMaxStreamsUni))
	add(paramAckDelayExponent, varintLen(p.AckDelayExponent))
	add(paramMaxAckDelay, varintLen(uint64(p.MaxAckDelay/time.Millisecond)))
	if p.DisableActiveMigration {
		add(paramDisableActiveMigration, 0)
	}
	if len(p.PreferredAddress) > 0 {
		add(paramPreferredAddress, len(p.PreferredAddress))
	}
	add(paramActiveConnectionIDLimit, varintLen(p.ActiveConnectionIDLimit))
	if p.InitialSourceCID != nil {
		add(paramInitialSourceConnectionID, len(p.InitialSourceCID))
	}
	if len(p.RetrySourceCID) > 0 {
		add(paramRetrySourceConnectionID, len(p.RetrySourceCID))
	}
	return n
}

// encode serializes p as the transport_parameters extension payload (the
// concatenated sequence of varint-id, varint-length, value tuples).
func (p *Parameters) encode(b []byte) (int, error) {
	if len(b) < p.encodedLen() {
		return 0, errShortBuffer
	}
	off := 0
	putTLV := func(id uint64, value []byte) {
		o := putVarint(b[off:off], id)
		off += len(o)
		o = putVarintLenPrefixed(b[off:off], value)
		off += len(o)
	}
	putVarintTLV := func(id uint64, value uint64) {
		o := putVarint(b[off:off], id)
		off += len(o)
		vb := putVarint(nil, value)
		o = putVarintLenPrefixed(b[off:off], vb)
		off += len(o)
	}
	if len(p.OriginalDestinationCID) > 0 {
		putTLV(paramOriginalDestinationConnectionID, p.OriginalDestinationCID)
	}
	if p.MaxIdleTimeout > 0 {
		putVarintTLV(paramMaxIdleTimeout, uint64(p.MaxIdleTimeout/time.Millisecond))
	}
	if len(p.StatelessResetToken) == 16 {
		putTLV(paramStatelessResetToken, p.StatelessResetToken)
	}
	putVarintTLV(paramMaxUDPPayloadSize, p.MaxUDPPayloadSize)
	putVarintTLV(paramInitialMaxData, p.InitialMaxData)
	putVarintTLV(paramInitialMaxStreamDataBidiLocal, p.InitialMaxStreamDataBidiLocal)
	putVarintTLV(paramInitialMaxStreamDataBidiRemote, p.InitialMaxStreamDataBidiRemote)
	putVarintTLV(paramInitialMaxStreamDataUni, p.InitialMaxStreamDataUni)
	putVarintTLV(paramInitialMaxStreamsBidi, p.InitialMaxStreamsBidi)
	putVarintTLV(paramInitialMaxStreamsUni, p.InitialMaxStreamsUni)
	putVarintTLV(paramAckDelayExponent, p.AckDelayExponent)
	putVarintTLV(paramMaxAckDelay, uint64(p.MaxAckDelay/time.Millisecond))
	if p.DisableActiveMigration {
		putTLV(paramDisableActiveMigration, nil)
	}
	if len(p.PreferredAddress) > 0 {
		putTLV(paramPreferredAddress, p.PreferredAddress)
	}
	putVarintTLV(paramActiveConnectionIDLimit, p.ActiveConnectionIDLimit)
	if p.InitialSourceCID != nil {
		putTLV(paramInitialSourceConnectionID, p.InitialSourceCID)
	}
	if len(p.RetrySourceCID) > 0 {
		putTLV(paramRetrySourceConnectionID, p.RetrySourceCID)
	}
	return off, nil
}

// decode parses a peer's transport_parameters extension payload.
func (p *Parameters) decode(b []byte) error {
	off := 0
	for off < len(b) {
		var id uint64
		n := getVarint(b[off:], &id)
		if n == 0 {
			return newError(TransportParameterError, "truncated parameter id")
		}
		off += n
		value, n := getVarintLenPrefixed(b[off:])
		if n == 0 {
			return newError(TransportParameterError, "truncated parameter value")
		}
		off += n
		if err := p.setParam(id, value); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parameters) setParam(id uint64, value []byte) error {
	readVarint := func() (uint64, error) {
		var v uint64
		if getVarint(value, &v) == 0 {
			return 0, newError(TransportParameterError, "malformed integer parameter")
		}
		return v, nil
	}
	switch id {
	case paramOriginalDestinationConnectionID:
		p.OriginalDestinationCID = append([]byte(nil), value...)
	case paramMaxIdleTimeout:
		v, err := readVarint()
		if err != nil {
			return err
		}
		p.MaxIdleTimeout = time.Duration(v) * time.Millisecond
	case paramStatelessResetToken:
		if len(value) != 16 {
			return newError(TransportParameterError, "stateless_reset_token length")
		}
		p.StatelessResetToken = append([]byte(nil), value...)
	case paramMaxUDPPayloadSize:
		v, err := readVarint()
		if err != nil {
			return err
		}
		p.MaxUDPPayloadSize = v
	case paramInitialMaxData:
		v, err := readVarint()
		if err != nil {
			return err
		}
		p.InitialMaxData = v
	case paramInitialMaxStreamDataBidiLocal:
		v, err := readVarint()
		if err != nil {
			return err
		}
		p.InitialMaxStreamDataBidiLocal = v
	case paramInitialMaxStreamDataBidiRemote:
		v, err := readVarint()
		if err != nil {
			return err
		}
		p.InitialMaxStreamDataBidiRemote = v
	case paramInitialMaxStreamDataUni:
		v, err := readVarint()
		if err != nil {
			return err
		}
		p.InitialMaxStreamDataUni = v
	case paramInitialMaxStreamsBidi:
		v, err := readVarint()
		if err != nil {
			return err
		}
		p.InitialMaxStreamsBidi = v
	case paramInitialMaxStreamsUni:
		v, err := readVarint()
		if err != nil {
			return err
		}
		p.InitialMaxStreamsUni = v
	case paramAckDelayExponent:
		v, err := readVarint()
		if err != nil {
			return err
		}
		p.AckDelayExponent = v
	case paramMaxAckDelay:
		v, err := readVarint()
		if err != nil {
			return err
		}
		p.MaxAckDelay = time.Duration(v) * time.Millisecond
	case paramDisableActiveMigration:
		p.DisableActiveMigration = true
	case paramPreferredAddress:
		p.PreferredAddress = append([]byte(nil), value...)
	case paramActiveConnectionIDLimit:
		v, err := readVarint()
		if err != nil {
			return err
		}
		p.ActiveConnectionIDLimit = v
	case paramInitialSourceConnectionID:
		p.InitialSourceCID = append([]byte(nil), value...)
	case paramRetrySourceConnectionID:
		p.RetrySourceCID = append([]byte(nil), value...)
	default:
		// Unknown parameters are ignored, RFC 9000 Section 7.4.
	}
	return nil
}
