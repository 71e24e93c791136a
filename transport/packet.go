package transport

import (
	"fmt"
)

// QUIC versions.
const (
	versionNegotiation  uint32 = 0
	version1            uint32 = 0x00000001
	versionDraft29OrV2  uint32 = 0x6b3343cf // used here as the "v2 family" salt selector
	version2            uint32 = 0x6b3343cf
)

func versionSupported(v uint32) bool {
	return v == version1 || v == version2
}

// MaxCIDLength is the maximum permitted connection ID length (RFC 9000 §17.2).
const MaxCIDLength = 20

// MinInitialPacketSize is the minimum UDP datagram size for a client Initial
// packet (RFC 9000 §14.1).
const MinInitialPacketSize = 1200

// MaxPacketSize is the largest packet this implementation will build.
const MaxPacketSize = 1452

const minPayloadLength = 4 // smallest sensible payload once header + PN are accounted for: room for a packet-number-length padding frame

type packetType uint8

const (
	packetTypeInitial packetType = iota
	packetTypeZeroRTT
	packetTypeHandshake
	packetTypeRetry
	packetTypeVersionNegotiation
	packetTypeShort
)

func (t packetType) String() string {
	switch t {
	case packetTypeInitial:
		return "initial"
	case packetTypeZeroRTT:
		return "0-rtt"
	case packetTypeHandshake:
		return "handshake"
	case packetTypeRetry:
		return "retry"
	case packetTypeVersionNegotiation:
		return "version_negotiation"
	case packetTypeShort:
		return "1-rtt"
	default:
		return "unknown"
	}
}

// packetSpace identifies a packet-number space. See spec §3.
type packetSpace uint8

const (
	packetSpaceInitial packetSpace = iota
	packetSpaceHandshake
	packetSpaceApplication
	packetSpaceCount
)

func (s packetSpace) String() string {
	switch s {
	case packetSpaceInitial:
		return "initial"
	case packetSpaceHandshake:
		return "handshake"
	case packetSpaceApplication:
		return "application"
	default:
		return "unknown"
	}
}

func packetTypeFromSpace(s packetSpace) packetType {
	switch s {
	case packetSpaceInitial:
		return packetTypeInitial
	case packetSpaceHandshake:
		return packetTypeHandshake
	default:
		return packetTypeShort
	}
}

func spaceFromPacketType(t packetType) packetSpace {
	switch t {
	case packetTypeInitial:
		return packetSpaceInitial
	case packetTypeHandshake:
		return packetSpaceHandshake
	default:
		return packetSpaceApplication
	}
}

const (
	headerFormLong  = 0x80
	fixedBit        = 0x40
	longTypeMask    = 0x30
	shortKeyPhase   = 0x04
	pnLengthMask    = 0x03
)

// packetHeader holds the decoded fields common to long and short headers.
type packetHeader struct {
	version uint32
	dcid    []byte
	scid    []byte
	dcil    uint8 // expected DCID length for short-header packets (== local SCID length)
}

// packet represents one QUIC packet, either in the process of being parsed
// (inbound) or built (outbound).
type packet struct {
	typ          packetType
	header       packetHeader
	token        []byte
	packetNumber uint64
	packetNumberLen int
	payloadLen   int // length of payload including packet number and AEAD tag, for long headers
	headerLen    int // bytes consumed/produced by the header, excluding the PN field

	keyPhase bool

	supportedVersions []uint32 // version negotiation only
}

func (p *packet) String() string {
	return fmt.Sprintf("%s dcid=%x scid=%x pn=%d", p.typ, p.header.dcid, p.header.scid, p.packetNumber)
}

// decodeHeader parses just enough of b to determine the packet type and
// connection IDs, without removing header protection or decoding the
// packet number (which requires key material).
func (p *packet) decodeHeader(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, newError(FrameEncodingError, "short packet")
	}
	first := b[0]
	if first&headerFormLong == 0 {
		// Short header: 1 | fixed(1) | spin(1) | reserved(2) | key phase(1) | pn length(2)
		if len(b) < 1+int(p.header.dcil) {
			return 0, newError(FrameEncodingError, "short header too small")
		}
		p.typ = packetTypeShort
		p.header.dcid = b[1 : 1+int(p.header.dcil)]
		p.keyPhase = first&shortKeyPhase != 0
		p.packetNumberLen = int(first&pnLengthMask) + 1
		return 1 + int(p.header.dcil), nil
	}
	if len(b) < 5 {
		return 0, newError(FrameEncodingError, "short long header")
	}
	version := beUint32(b[1:5])
	off := 5
	if off >= len(b) {
		return 0, newError(FrameEncodingError, "truncated header")
	}
	dcil := int(b[off])
	off++
	if off+dcil > len(b) {
		return 0, newError(FrameEncodingError, "truncated dcid")
	}
	dcid := b[off : off+dcil]
	off += dcil
	if off >= len(b) {
		return 0, newError(FrameEncodingError, "truncated header")
	}
	scil := int(b[off])
	off++
	if off+scil > len(b) {
		return 0, newError(FrameEncodingError, "truncated scid")
	}
	scid := b[off : off+scil]
	off += scil

	p.header.version = version
	p.header.dcid = dcid
	p.header.scid = scid

	if version == versionNegotiation {
		p.typ = packetTypeVersionNegotiation
		p.headerLen = off
		return off, nil
	}
	typBits := (first & longTypeMask) >> 4
	switch typBits {
	case 0:
		p.typ = packetTypeInitial
	case 1:
		p.typ = packetTypeZeroRTT
	case 2:
		p.typ = packetTypeHandshake
	case 3:
		p.typ = packetTypeRetry
	}
	if p.typ == packetTypeInitial {
		tok, n := getVarintLenPrefixed(b[off:])
		if n == 0 {
			return 0, newError(FrameEncodingError, "truncated token")
		}
		p.token = tok
		off += n
	}
	if p.typ == packetTypeRetry {
		p.headerLen = off
		return off, nil
	}
	var length uint64
	n := getVarint(b[off:], &length)
	if n == 0 {
		return 0, newError(FrameEncodingError, "truncated length")
	}
	off += n
	p.payloadLen = int(length)
	p.packetNumberLen = int(first&pnLengthMask) + 1
	p.headerLen = off
	return off, nil
}

// Header is the minimal decoded packet header a host loop needs to route
// an incoming datagram to a connection, and, for an Initial, to present
// its token to an address-validation check before a Conn exists.
type Header struct {
	IsLongHeader bool
	IsInitial    bool
	Version      uint32
	DCID         []byte
	SCID         []byte
	Token        []byte
}

// PeekHeader parses the first packet of a datagram (or coalesced group)
// far enough to route it, without removing header protection or requiring
// any key material. localCIDLen is the length of connection IDs this
// endpoint hands out, needed to find a short header's DCID boundary.
func PeekHeader(b []byte, localCIDLen int) (Header, error) {
	var p packet
	p.header.dcil = uint8(localCIDLen)
	if _, err := p.decodeHeader(b); err != nil {
		return Header{}, err
	}
	return Header{
		IsLongHeader: p.typ != packetTypeShort,
		IsInitial:    p.typ == packetTypeInitial,
		Version:      p.header.version,
		DCID:         append([]byte(nil), p.header.dcid...),
		SCID:         append([]byte(nil), p.header.scid...),
		Token:        append([]byte(nil), p.token...),
	}, nil
}

// decodeBody parses the type-specific fields that require the full packet
// to already be present in b (Retry token/tag, VN supported versions).
func (p *packet) decodeBody(b []byte) (int, error) {
	switch p.typ {
	case packetTypeVersionNegotiation:
		off := p.headerLen
		for off+4 <= len(b) {
			p.supportedVersions = append(p.supportedVersions, beUint32(b[off:off+4]))
			off += 4
		}
		return off - p.headerLen, nil
	case packetTypeRetry:
		if len(b) < retryIntegrityTagLen {
			return 0, newError(FrameEncodingError, "short retry packet")
		}
		p.token = b[p.headerLen : len(b)-retryIntegrityTagLen]
		return len(b) - p.headerLen, nil
	default:
		return 0, nil
	}
}

// encodedLen returns the length of the header that encode will produce for
// a long-header packet, not including the packet number field itself.
func (p *packet) encodedLen() int {
	switch p.typ {
	case packetTypeShort:
		return 1 + len(p.header.dcid) + p.packetNumberLen
	default:
		n := 1 + 4 + 1 + len(p.header.dcid) + 1 + len(p.header.scid)
		if p.typ == packetTypeInitial {
			n += varintLen(uint64(len(p.token))) + len(p.token)
		}
		n += varintLen(uint64(p.payloadLen)) // length field covers PN + payload
		n += p.packetNumberLen
		return n
	}
}

// encode writes the packet header (including the packet number, not yet
// protected) into b and returns the offset at which the payload begins.
func (p *packet) encode(b []byte) (int, error) {
	if p.packetNumberLen == 0 {
		p.packetNumberLen = packetNumberLenFor(p.packetNumber)
	}
	switch p.typ {
	case packetTypeShort:
		if len(b) < 1+len(p.header.dcid)+p.packetNumberLen {
			return 0, errShortBuffer
		}
		first := byte(0x40) | byte(p.packetNumberLen-1)
		if p.keyPhase {
			first |= shortKeyPhase
		}
		b[0] = first
		off := 1
		off += copy(b[off:], p.header.dcid)
		off += encodePacketNumber(b[off:], p.packetNumber, p.packetNumberLen)
		return off, nil
	default:
		typBits := byte(0)
		switch p.typ {
		case packetTypeInitial:
			typBits = 0
		case packetTypeZeroRTT:
			typBits = 1
		case packetTypeHandshake:
			typBits = 2
		case packetTypeRetry:
			typBits = 3
		}
		first := headerFormLong | fixedBit | (typBits << 4) | byte(p.packetNumberLen-1)
		need := p.encodedLen()
		if len(b) < need {
			return 0, errShortBuffer
		}
		b[0] = first
		off := 1
		putBeUint32(b[off:], p.header.version)
		off += 4
		b[off] = byte(len(p.header.dcid))
		off++
		off += copy(b[off:], p.header.dcid)
		b[off] = byte(len(p.header.scid))
		off++
		off += copy(b[off:], p.header.scid)
		if p.typ == packetTypeInitial {
			b2 := putVarintLenPrefixed(b[off:off], p.token)
			off += len(b2)
		}
		b2 := putVarint(b[off:off], uint64(p.payloadLen))
		off += len(b2)
		off += encodePacketNumber(b[off:], p.packetNumber, p.packetNumberLen)
		return off, nil
	}
}

// packetNumberLenFor returns the shortest encoding length (1-4 bytes) that
// unambiguously identifies pn, per RFC 9000 §17.1's "smallest possible"
// guidance relative to the range of in-flight packet numbers.
func packetNumberLenFor(pn uint64) int {
	switch {
	case pn < 1<<8:
		return 1
	case pn < 1<<16:
		return 2
	case pn < 1<<24:
		return 3
	default:
		return 4
	}
}

func encodePacketNumber(b []byte, pn uint64, length int) int {
	for i := length - 1; i >= 0; i-- {
		b[i] = byte(pn)
		pn >>= 8
	}
	return length
}

func decodePacketNumber(b []byte, length int) uint64 {
	var v uint64
	for i := 0; i < length; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// decodePacketNumberTruncated reconstructs the full packet number from its
// truncated wire encoding, given the largest packet number seen so far in
// the same space (RFC 9000 Appendix A).
func decodePacketNumberTruncated(truncated uint64, length int, largest uint64) uint64 {
	pnBits := uint(length * 8)
	expected := largest + 1
	win := uint64(1) << pnBits
	halfWin := win / 2
	candidate := (expected &^ (win - 1)) | truncated
	switch {
	case candidate <= expected-halfWin && candidate < (uint64(1)<<62)-win:
		candidate += win
	case candidate > expected+halfWin && candidate >= win:
		candidate -= win
	}
	return candidate
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBeUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
