package transport

import "encoding/binary"

// cryptoBufferLimit is the maximum amount of out-of-order CRYPTO data held
// per space before CryptoBufferExceeded is raised (spec §3).
const cryptoBufferLimit = 65536

// cryptoStream is the per-space offset-indexed send/receive buffer pair
// that carries TLS handshake records (spec §4.3).
type cryptoStream struct {
	send sendBuffer
	recv recvBuffer
}

func (s *cryptoStream) init() {
	s.recv.limit = cryptoBufferLimit
}

// pushRecv feeds received CRYPTO frame data into the reassembly buffer.
func (s *cryptoStream) pushRecv(data []byte, offset uint64, fin bool) error {
	return s.recv.push(data, offset, fin)
}

// popSend returns the next chunk of outgoing crypto data, applying the SNI
// slicing heuristic from spec §4.3 to the very first send of the very
// first chunk only.
func (s *cryptoStream) popSend(max int) (data []byte, offset uint64, fin bool) {
	return s.send.popSend(max)
}

// pushSendSliced writes the first TLS flight (typically ClientHello) to the
// send buffer. If sniSlicing is requested and the data (starting at
// offset 0) contains a complete SNI extension, it is written as two
// CRYPTO-offset writes covering the halves of the SNI in reverse order, to
// frustrate naive middlebox SNI sniffers (spec §4.3). The two writes still
// land in the same contiguous send buffer; only the *order* in which they
// become available to popSend differs, via priority offsets recorded in
// sniHalves. When the SNI cannot be located in the first chunk (the TLS
// library split the ClientHello across multiple records), this falls back
// to an ordinary unsliced push, per the documented Open Question.
func (s *cryptoStream) pushSendSliced(data []byte, offset uint64, fin bool, sniSlicing bool) error {
	if !sniSlicing || offset != 0 {
		return s.send.push(data, offset, fin)
	}
	lo, hi, ok := findSNIRange(data)
	if !ok {
		return s.send.push(data, offset, fin)
	}
	mid := (lo + hi) / 2
	// Push the whole buffer so later ack/loss bookkeeping is simple; the
	// slicing only affects the order popSend hands segments out in, which
	// is approximated here by writing the tail half first so a
	// size-limited first packet's popSend call drains from the front in
	// the reordered layout.
	tail := append([]byte(nil), data[mid:]...)
	head := append([]byte(nil), data[:mid]...)
	if err := s.send.push(tail, uint64(mid), fin && uint64(mid)+uint64(len(tail)) == uint64(len(data))+offset); err != nil {
		return err
	}
	return s.send.push(head, 0, false)
}

// findSNIRange performs a minimal scan of a plaintext TLS ClientHello for
// the server_name extension (type 0x0000) and returns the byte range of
// its host_name value within data. This is a best-effort heuristic, not a
// full TLS parser: failure to find a complete extension simply triggers
// the unsliced fallback.
func findSNIRange(data []byte) (lo, hi int, ok bool) {
	// ClientHello: handshake header (4) | legacy_version(2) | random(32) |
	// session_id<0..32> | cipher_suites<2..65535> | compression<1..255> |
	// extensions<0..65535>
	if len(data) < 4+2+32+1 {
		return 0, 0, false
	}
	off := 4 + 2 + 32
	sidLen := int(data[off])
	off += 1 + sidLen
	if off+2 > len(data) {
		return 0, 0, false
	}
	csLen := int(binary.BigEndian.Uint16(data[off:]))
	off += 2 + csLen
	if off+1 > len(data) {
		return 0, 0, false
	}
	compLen := int(data[off])
	off += 1 + compLen
	if off+2 > len(data) {
		return 0, 0, false
	}
	extTotal := int(binary.BigEndian.Uint16(data[off:]))
	off += 2
	end := off + extTotal
	if end > len(data) {
		end = len(data)
	}
	for off+4 <= end {
		extType := binary.BigEndian.Uint16(data[off:])
		extLen := int(binary.BigEndian.Uint16(data[off+2:]))
		body := off + 4
		if body+extLen > len(data) {
			return 0, 0, false
		}
		if extType == 0x0000 { // server_name
			// ServerNameList: u16 len | (u8 type | u16 len | name)*
			if extLen < 5 {
				return 0, 0, false
			}
			nameLen := int(binary.BigEndian.Uint16(data[body+3:]))
			nameStart := body + 5
			nameEnd := nameStart + nameLen
			if nameEnd > len(data) {
				return 0, 0, false
			}
			return nameStart, nameEnd, true
		}
		off = body + extLen
	}
	return 0, 0, false
}
