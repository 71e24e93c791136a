package transport

// sendBuffer is an offset-indexed send buffer shared by crypto streams and
// data streams. Bytes are appended once (by the application or by a CRYPTO
// record) and may be re-queued for sending when a packet carrying them is
// declared lost; bytes are only discarded once acknowledged.
type sendBuffer struct {
	data       []byte // bytes starting at dataOffset; may include already-acked-but-not-yet-trimmed bytes
	dataOffset uint64 // offset of data[0]
	length     uint64 // offset one past the last pushed byte
	sendOffset uint64 // next offset to hand out via popSend

	finSet    bool
	finOffset uint64

	acked rangeSet
}

// push appends (or re-queues, on retransmission) data starting at offset.
func (s *sendBuffer) push(data []byte, offset uint64, fin bool) error {
	end := offset + uint64(len(data))
	if s.finSet && end > s.finOffset {
		return newError(FinalSizeError, "data beyond final size")
	}
	if len(data) > 0 {
		if offset < s.dataOffset {
			// Fully-acked prefix already trimmed; only the non-overlapping tail matters.
			skip := s.dataOffset - offset
			if skip >= uint64(len(data)) {
				data = nil
			} else {
				data = data[skip:]
				offset = s.dataOffset
			}
		}
		if len(data) > 0 {
			need := int(end - s.dataOffset)
			if need > len(s.data) {
				grown := make([]byte, need)
				copy(grown, s.data)
				s.data = grown
			}
			copy(s.data[offset-s.dataOffset:], data)
			if end > s.length {
				s.length = end
			}
		}
	}
	if fin {
		s.finSet = true
		s.finOffset = end
		if end > s.length {
			s.length = end
		}
	}
	if offset < s.sendOffset {
		s.sendOffset = offset
	}
	return nil
}

// popSend returns up to max bytes of unsent data and whether this chunk
// reaches the stream's FIN.
func (s *sendBuffer) popSend(max int) (data []byte, offset uint64, fin bool) {
	avail := int(s.length - s.sendOffset)
	if avail > max {
		avail = max
	}
	if avail <= 0 {
		if s.finSet && s.sendOffset == s.finOffset && s.sendOffset == s.length {
			// Nothing queued yet for the bare FIN; caller tracks that separately.
		}
		return nil, s.sendOffset, false
	}
	start := s.sendOffset - s.dataOffset
	out := s.data[start : start+uint64(avail)]
	offset = s.sendOffset
	s.sendOffset += uint64(avail)
	fin = s.finSet && s.sendOffset == s.finOffset
	return out, offset, fin
}

// ack marks [offset, offset+length) as acknowledged, trimming the prefix of
// the buffer once it is fully acked.
func (s *sendBuffer) ack(offset, length uint64) {
	if length == 0 {
		return
	}
	s.acked.pushRange(offset, offset+length-1)
	for len(s.acked.ranges) > 0 {
		r := s.acked.ranges[0]
		if r.start > s.dataOffset {
			break
		}
		if r.end < s.dataOffset {
			break
		}
		newOffset := r.end + 1
		if newOffset <= s.dataOffset {
			break
		}
		trim := newOffset - s.dataOffset
		if trim > uint64(len(s.data)) {
			trim = uint64(len(s.data))
		}
		s.data = s.data[trim:]
		s.dataOffset = newOffset
		break
	}
}

// complete reports whether every byte up to the FIN has been acknowledged.
func (s *sendBuffer) complete() bool {
	if !s.finSet {
		return false
	}
	return len(s.acked.ranges) == 1 && s.acked.ranges[0].start == 0 && s.acked.ranges[0].end+1 == s.finOffset
}

// ---------------------------------------------------------------------

// recvBuffer reassembles out-of-order offset-indexed data (CRYPTO or
// STREAM frames) into a contiguous byte stream, bounded by limit bytes of
// out-of-order data held at once.
type recvBuffer struct {
	buf        []byte // staging area starting at readOffset
	readOffset uint64
	received   rangeSet

	finalSize    uint64
	finalSizeSet bool

	limit uint64 // max out-of-order span permitted; 0 means unbounded
}

// push writes data at offset into the reassembly buffer.
func (s *recvBuffer) push(data []byte, offset uint64, fin bool) error {
	end := offset + uint64(len(data))
	if s.finalSizeSet {
		if end > s.finalSize || (fin && end != s.finalSize) {
			return newError(FinalSizeError, "inconsistent final size")
		}
	}
	if fin {
		s.finalSize = end
		s.finalSizeSet = true
	}
	if end <= s.readOffset || len(data) == 0 {
		return nil // fully duplicate
	}
	if offset < s.readOffset {
		skip := s.readOffset - offset
		data = data[skip:]
		offset = s.readOffset
	}
	need := int(end - s.readOffset)
	if s.limit > 0 && uint64(need) > s.limit {
		return newError(CryptoBufferExceeded, "receive buffer limit exceeded")
	}
	if need > len(s.buf) {
		grown := make([]byte, need)
		copy(grown, s.buf)
		s.buf = grown
	}
	copy(s.buf[offset-s.readOffset:], data)
	s.received.pushRange(offset, end-1)
	return nil
}

// read copies contiguous bytes starting at readOffset into p, returning the
// number of bytes copied and whether the stream's FIN was reached.
func (s *recvBuffer) read(p []byte) (n int, fin bool) {
	if len(s.received.ranges) == 0 || s.received.ranges[0].start > s.readOffset {
		return 0, false
	}
	avail := s.received.ranges[0].end - s.readOffset + 1
	n = len(p)
	if uint64(n) > avail {
		n = int(avail)
	}
	copy(p, s.buf[:n])
	s.buf = s.buf[n:]
	s.readOffset += uint64(n)
	s.received.removeUntil(s.readOffset - 1)
	fin = s.finalSizeSet && s.readOffset == s.finalSize
	return n, fin
}

// readableLen returns the number of contiguous bytes available to read.
func (s *recvBuffer) readableLen() int {
	if len(s.received.ranges) == 0 || s.received.ranges[0].start > s.readOffset {
		return 0
	}
	return int(s.received.ranges[0].end - s.readOffset + 1)
}

// reset discards any buffered data on a RESET_STREAM, checking finalSize
// against whatever final size was already implied by a FIN or prior reset.
// It returns the number of additional bytes this reset newly attributes to
// the connection-level flow control budget (finalSize minus whatever the
// peer had already been credited for via push).
func (s *recvBuffer) reset(finalSize uint64) (int, error) {
	if s.finalSizeSet && finalSize != s.finalSize {
		return 0, newError(FinalSizeError, "reset final size mismatch")
	}
	already := s.finalSizeSet
	s.finalSize = finalSize
	s.finalSizeSet = true
	s.buf = nil
	s.received.reset()
	if already {
		return 0, nil
	}
	if finalSize > s.readOffset {
		return int(finalSize - s.readOffset), nil
	}
	return 0, nil
}
