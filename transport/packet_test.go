package transport

import (
	"bytes"
	"testing"
)

func TestPeekHeaderInitial(t *testing.T) {
	p := packet{
		typ: packetTypeInitial,
		header: packetHeader{
			version: version1,
			dcid:    []byte{1, 2, 3, 4},
			scid:    []byte{5, 6},
		},
		token:        []byte("retry-token"),
		packetNumber: 1,
		payloadLen:   32,
	}
	buf := make([]byte, 128)
	off, err := p.encode(buf)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	buf = buf[:off]

	hdr, err := PeekHeader(buf, 8)
	if err != nil {
		t.Fatalf("PeekHeader: %v", err)
	}
	if !hdr.IsLongHeader || !hdr.IsInitial {
		t.Errorf("expected a long-header Initial, got %+v", hdr)
	}
	if hdr.Version != version1 {
		t.Errorf("Version = %#x, want %#x", hdr.Version, version1)
	}
	if !bytes.Equal(hdr.DCID, p.header.dcid) {
		t.Errorf("DCID = %x, want %x", hdr.DCID, p.header.dcid)
	}
	if !bytes.Equal(hdr.SCID, p.header.scid) {
		t.Errorf("SCID = %x, want %x", hdr.SCID, p.header.scid)
	}
	if !bytes.Equal(hdr.Token, p.token) {
		t.Errorf("Token = %q, want %q", hdr.Token, p.token)
	}
}

func TestPeekHeaderShort(t *testing.T) {
	dcid := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	buf := append([]byte{0x40}, dcid...)
	buf = append(buf, 0x01, 0x02, 0x03) // packet number + payload, irrelevant to PeekHeader

	hdr, err := PeekHeader(buf, len(dcid))
	if err != nil {
		t.Fatalf("PeekHeader: %v", err)
	}
	if hdr.IsLongHeader || hdr.IsInitial {
		t.Errorf("expected a short header, got %+v", hdr)
	}
	if !bytes.Equal(hdr.DCID, dcid) {
		t.Errorf("DCID = %x, want %x", hdr.DCID, dcid)
	}
}
