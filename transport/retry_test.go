package transport

import (
	"bytes"
	"testing"
	"time"
)

func TestBuildRetryPacketIntegrity(t *testing.T) {
	odcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	dcid := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	scid := []byte{0x11, 0x22}
	token := []byte("opaque-retry-token")

	raw, err := BuildRetryPacket(version1, dcid, scid, odcid, token)
	if err != nil {
		t.Fatalf("BuildRetryPacket: %v", err)
	}

	hdr, err := PeekHeader(raw, len(dcid))
	if err != nil {
		t.Fatalf("PeekHeader: %v", err)
	}
	if !hdr.IsLongHeader || hdr.IsInitial {
		t.Errorf("expected a long-header non-Initial packet, got %+v", hdr)
	}
	if !bytes.Equal(hdr.DCID, dcid) {
		t.Errorf("DCID = %x, want %x", hdr.DCID, dcid)
	}

	if !verifyRetryIntegrity(raw, odcid) {
		t.Fatalf("verifyRetryIntegrity rejected a packet it built")
	}
	if verifyRetryIntegrity(raw, []byte("wrong odcid")) {
		t.Errorf("verifyRetryIntegrity accepted a mismatched odcid")
	}
}

func TestTokenProtectorRetryRoundTrip(t *testing.T) {
	tp, err := NewTokenProtector([]byte("server secret"))
	if err != nil {
		t.Fatalf("NewTokenProtector: %v", err)
	}

	odcid := []byte{1, 2, 3, 4}
	retrySrcCID := []byte{9, 9, 9, 9}
	addr := "203.0.113.1:4433"
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	token, err := tp.SealRetryToken(odcid, retrySrcCID, addr, issued)
	if err != nil {
		t.Fatalf("SealRetryToken: %v", err)
	}

	got, err := tp.ValidateToken(token, addr, issued.Add(time.Second), 10*time.Second, 2*time.Second)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if !got.IsRetry {
		t.Errorf("IsRetry = false, want true")
	}
	if !bytes.Equal(got.OriginalDCID, odcid) {
		t.Errorf("OriginalDCID = %x, want %x", got.OriginalDCID, odcid)
	}
	if !bytes.Equal(got.RetrySourceCID, retrySrcCID) {
		t.Errorf("RetrySourceCID = %x, want %x", got.RetrySourceCID, retrySrcCID)
	}
}

func TestTokenProtectorRejectsExpiredToken(t *testing.T) {
	tp, err := NewTokenProtector([]byte("server secret"))
	if err != nil {
		t.Fatalf("NewTokenProtector: %v", err)
	}
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	token, err := tp.SealAddressToken("198.51.100.1:1234", issued)
	if err != nil {
		t.Fatalf("SealAddressToken: %v", err)
	}

	_, err = tp.ValidateToken(token, "198.51.100.1:1234", issued.Add(time.Hour), 10*time.Second, 2*time.Second)
	if err == nil {
		t.Fatalf("expected an expired token to be rejected")
	}
}

func TestTokenProtectorRejectsAddressChangeWithinWindow(t *testing.T) {
	tp, err := NewTokenProtector([]byte("server secret"))
	if err != nil {
		t.Fatalf("NewTokenProtector: %v", err)
	}
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	token, err := tp.SealAddressToken("198.51.100.1:1234", issued)
	if err != nil {
		t.Fatalf("SealAddressToken: %v", err)
	}

	_, err = tp.ValidateToken(token, "198.51.100.2:1234", issued.Add(time.Millisecond), 10*time.Second, 2*time.Second)
	if err == nil {
		t.Fatalf("expected an address change within the window to be rejected")
	}

	// Outside the address-change window, a rebind from the same token is
	// treated as ordinary NAT rebinding and accepted.
	got, err := tp.ValidateToken(token, "198.51.100.2:1234", issued.Add(3*time.Second), 10*time.Second, 2*time.Second)
	if err != nil {
		t.Fatalf("ValidateToken after window elapsed: %v", err)
	}
	if got.IsRetry {
		t.Errorf("IsRetry = true, want false for an address token")
	}
}
