package transport

import (
	"crypto/tls"
	"testing"
)

func testAmplificationConfig() *Config {
	return ConfigWithDefaults(&tls.Config{InsecureSkipVerify: true})
}

func TestAmplificationLimitUnvalidatedServer(t *testing.T) {
	s := &Conn{isClient: false, addressValidated: false}
	s.bytesReceived = 100
	if got, want := s.amplificationLimit(), 300; got != want {
		t.Errorf("amplificationLimit = %d, want %d", got, want)
	}
	s.bytesSent = 250
	if got, want := s.amplificationLimit(), 50; got != want {
		t.Errorf("amplificationLimit = %d, want %d", got, want)
	}
	s.bytesSent = 300
	if got, want := s.amplificationLimit(), 0; got != want {
		t.Errorf("amplificationLimit = %d, want %d", got, want)
	}
	s.bytesSent = 1000
	if got, want := s.amplificationLimit(), 0; got != want {
		t.Errorf("amplificationLimit at overshoot = %d, want %d", got, want)
	}
}

// TestWriteAccountsBytesReceivedForUnvalidatedServer exercises the
// anti-amplification accounting: a server that has not yet validated the
// client's address must count every received byte toward the 3x cap,
// regardless of whether the datagram parses.
func TestWriteAccountsBytesReceivedForUnvalidatedServer(t *testing.T) {
	c, err := Accept([]byte{1, 2, 3, 4}, []byte{5, 6, 7, 8}, testAmplificationConfig(), false)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if c.addressValidated {
		t.Fatalf("a bare Accept(..., false) should start unvalidated")
	}
	garbage := make([]byte, 37)
	c.Write(garbage)
	if c.bytesReceived != uint64(len(garbage)) {
		t.Errorf("bytesReceived = %d, want %d", c.bytesReceived, len(garbage))
	}
}

func TestAcceptValidatedAddressSkipsAmplificationLimit(t *testing.T) {
	c, err := Accept([]byte{1, 2, 3, 4}, []byte{5, 6, 7, 8}, testAmplificationConfig(), true)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !c.addressValidated {
		t.Errorf("Accept(..., true) should start already validated")
	}
}

func TestConnectIsAlwaysAddressValidated(t *testing.T) {
	c, err := Connect([]byte{1, 2, 3, 4}, testAmplificationConfig())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.addressValidated {
		t.Errorf("a client connection must never be subject to the anti-amplification limit")
	}
}
