package transport

import "time"

// packetNumberSpace holds the per-space state described in spec §3: the
// current read/write key state, the crypto stream for that space, and the
// received-packet bookkeeping used to build ACK frames.
type packetNumberSpace struct {
	opener *cryptoDxState // read keys
	sealer *cryptoDxState // write keys

	// openerNext holds the next-generation Application read key, set
	// alongside opener once 1-RTT keys are installed. A short-header
	// packet whose key phase bit disagrees with opener.keyPhase is
	// tried against openerNext instead (RFC 9001 Section 6.1).
	openerNext *cryptoDxState

	nextPacketNumber uint64

	cryptoStream cryptoStream

	recvPacketNeedAck    rangeSet
	largestRecvPacketNum  uint64
	largestRecvPacketTime time.Time
	ackElicited           bool
	firstPacketAcked      bool

	dropped bool
}

func (s *packetNumberSpace) init() {
	s.cryptoStream.init()
}

// reset clears received-packet and sent state, used on version
// negotiation / Retry where the Initial space restarts.
func (s *packetNumberSpace) reset() {
	s.nextPacketNumber = 0
	s.recvPacketNeedAck.reset()
	s.largestRecvPacketNum = 0
	s.largestRecvPacketTime = time.Time{}
	s.ackElicited = false
	s.firstPacketAcked = false
}

// drop discards all key material and buffers for this space (spec §3
// "Lifecycles").
func (s *packetNumberSpace) drop() {
	s.opener = nil
	s.sealer = nil
	s.dropped = true
}

func (s *packetNumberSpace) canEncrypt() bool {
	return !s.dropped && s.sealer != nil
}

func (s *packetNumberSpace) canDecrypt() bool {
	return !s.dropped && s.opener != nil
}

// ready reports whether this space has anything worth sending: queued ACK,
// pending CRYPTO data, or (for Application) HANDSHAKE_DONE/MAX_DATA.
func (s *packetNumberSpace) ready() bool {
	if !s.canEncrypt() {
		return false
	}
	if s.ackElicited {
		return true
	}
	if s.cryptoStream.send.length > s.cryptoStream.send.sendOffset {
		return true
	}
	return false
}

func (s *packetNumberSpace) isPacketReceived(pn uint64) bool {
	return s.recvPacketNeedAck.contains(pn)
}

func (s *packetNumberSpace) onPacketReceived(pn uint64, now time.Time) {
	s.recvPacketNeedAck.push(pn)
	if pn >= s.largestRecvPacketNum || s.largestRecvPacketTime.IsZero() {
		s.largestRecvPacketNum = pn
		s.largestRecvPacketTime = now
	}
	if s.opener != nil {
		s.opener.recordPN(pn)
	}
}

// decryptPacket removes header protection, decodes the packet number, and
// authenticates+decrypts the payload in place. b is the full datagram
// slice starting at this packet's header; p.headerLen must already be set
// by decodeHeader. Returns the plaintext frame payload, the number of
// bytes of b consumed by this packet, and whether the packet decrypted
// under openerNext rather than opener (a peer-initiated key update).
func (s *packetNumberSpace) decryptPacket(b []byte, p *packet) ([]byte, int, bool, error) {
	if s.opener == nil {
		return nil, 0, false, newError(InternalError, "no read keys")
	}
	hdrLen := p.headerLen
	total := len(b)
	if p.typ != packetTypeShort {
		total = hdrLen + p.payloadLen
		if total > len(b) {
			return nil, 0, false, newError(FrameEncodingError, "payload length exceeds datagram")
		}
	}
	// Header protection sample starts 4 bytes after the start of the
	// (up to 4-byte) packet number field, RFC 9001 §5.4.2.
	sampleOffset := hdrLen + 4
	if sampleOffset+hpSampleLen > len(b) {
		return nil, 0, false, newError(FrameEncodingError, "short sample")
	}
	sample := b[sampleOffset : sampleOffset+hpSampleLen]
	mask := s.opener.hp.mask(sample)

	if p.typ == packetTypeShort {
		b[0] ^= mask[0] & 0x1f
	} else {
		b[0] ^= mask[0] & 0x0f
	}
	pnLen := int(b[0]&pnLengthMask) + 1
	for i := 0; i < pnLen; i++ {
		b[hdrLen+i] ^= mask[1+i]
	}
	truncated := decodePacketNumber(b[hdrLen:hdrLen+pnLen], pnLen)
	pn := decodePacketNumberTruncated(truncated, pnLen, s.largestRecvPacketNum)
	p.packetNumber = pn
	p.packetNumberLen = pnLen

	payloadStart := hdrLen + pnLen
	if total < payloadStart+aeadTagLen {
		return nil, 0, false, newError(FrameEncodingError, "packet too short for aead tag")
	}
	ciphertext := b[payloadStart:total]

	// A short-header packet whose key phase bit disagrees with the
	// current generation's may be using the next generation (RFC 9001
	// Section 6.1); try it before failing the packet outright.
	opener := s.opener
	keyUpdated := false
	if p.typ == packetTypeShort && s.openerNext != nil {
		wirePhase := b[0]&0x04 != 0
		if wirePhase != s.opener.keyPhase {
			opener = s.openerNext
			keyUpdated = true
		}
	}

	nonce := buildNonce(opener.iv, pn)
	plain, err := opener.aead.Open(ciphertext[:0], nonce, ciphertext, b[:payloadStart])
	if err != nil {
		return nil, 0, false, newError(CryptoAlert, "aead open failed")
	}
	if err := opener.consumeInvocation(len(ciphertext)); err != nil {
		return nil, 0, false, err
	}
	opener.recordPN(pn)
	p.headerLen = payloadStart
	return plain, total, keyUpdated, nil
}

// encryptPacket applies AEAD sealing and header protection in place to the
// packet previously written into b[:n] by packet.encode + encodeFrames,
// where n is the total length including the (not yet computed) AEAD tag
// space reserved by the caller.
func (s *packetNumberSpace) encryptPacket(b []byte, p *packet) error {
	if s.sealer == nil {
		return newError(InternalError, "no write keys")
	}
	hdrLen := p.headerLen
	pnLen := p.packetNumberLen
	payloadStart := hdrLen + pnLen
	overhead := s.sealer.aead.Overhead()
	plainLen := len(b) - payloadStart - overhead
	if plainLen < 0 {
		return errShortBuffer
	}
	nonce := buildNonce(s.sealer.iv, p.packetNumber)
	header := b[:payloadStart]
	plain := b[payloadStart : payloadStart+plainLen]
	sealed := s.sealer.aead.Seal(plain[:0], nonce, plain, header)
	if len(sealed) != plainLen+overhead {
		return newError(InternalError, "unexpected seal output length")
	}
	if err := s.sealer.consumeInvocation(plainLen); err != nil {
		return err
	}

	sampleOffset := hdrLen + 4
	if sampleOffset+hpSampleLen > len(b) {
		return newError(InternalError, "packet too short to sample for hp")
	}
	sample := b[sampleOffset : sampleOffset+hpSampleLen]
	mask := s.sealer.hp.mask(sample)
	if p.typ == packetTypeShort {
		b[0] ^= mask[0] & 0x1f
	} else {
		b[0] ^= mask[0] & 0x0f
	}
	for i := 0; i < pnLen; i++ {
		b[hdrLen+i] ^= mask[1+i]
	}
	return nil
}
