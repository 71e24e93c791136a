package transport

import (
	"crypto/tls"
	"testing"
	"time"
)

func newTestConn(t *testing.T) *Conn {
	t.Helper()
	cfg := ConfigWithDefaults(&tls.Config{InsecureSkipVerify: true})
	c, err := Connect([]byte{1, 2, 3, 4}, cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c
}

func encodeAck(t *testing.T, largestAck, firstAckRange uint64) []byte {
	t.Helper()
	f := &ackFrame{largestAck: largestAck, firstAckRange: firstAckRange}
	b := make([]byte, f.encodedLen())
	n := f.encodeInto(b)
	return b[:n]
}

// TestRecvFrameAckRejectsUnsentPacketNumber exercises the crafted-packet
// scenario where an ACK names a largest-acked packet number the sender
// never sent: it must close the connection with AckedUnsentPacket, not be
// silently accepted.
func TestRecvFrameAckRejectsUnsentPacketNumber(t *testing.T) {
	c := newTestConn(t)
	space := packetSpaceApplication
	c.packetNumberSpaces[space].nextPacketNumber = 3 // packet numbers 0,1,2 sent so far

	b := encodeAck(t, 666, 0)
	_, err := c.recvFrameAck(b, space, time.Now())
	if err == nil {
		t.Fatalf("expected an error acking an unsent packet number")
	}
	te, ok := err.(*Error)
	if !ok {
		t.Fatalf("error = %T, want *transport.Error", err)
	}
	if te.Kind != AckedUnsentPacket {
		t.Errorf("Kind = %v, want AckedUnsentPacket", te.Kind)
	}
}

// TestRecvFrameAckAcceptsSentPacketNumber is the companion happy path: an
// ACK for a packet number that was actually sent must not be rejected.
func TestRecvFrameAckAcceptsSentPacketNumber(t *testing.T) {
	c := newTestConn(t)
	space := packetSpaceApplication
	c.packetNumberSpaces[space].nextPacketNumber = 3

	b := encodeAck(t, 2, 2) // acks pn 0,1,2
	if _, err := c.recvFrameAck(b, space, time.Now()); err != nil {
		t.Fatalf("recvFrameAck: %v", err)
	}
}
