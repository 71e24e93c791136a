package quic_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	quic "github.com/age-rs/quic-go"
	"github.com/age-rs/quic-go/transport"
)

// generateTestCertificate builds a self-signed ECDSA certificate for loopback
// handshakes, in lieu of a real CA-issued chain.
func generateTestCertificate(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(90 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}
}

func newServerConfig(t *testing.T) *quic.Config {
	cert := generateTestCertificate(t)
	cfg := &quic.Config{
		Config: *transport.ConfigWithDefaults(&tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"quince-test"},
		}),
	}
	return cfg
}

func newClientConfig() *quic.Config {
	return &quic.Config{
		Config: *transport.ConfigWithDefaults(&tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{"quince-test"},
		}),
	}
}

// TestClientServerStreamRoundTrip dials a Client against a Server over
// loopback UDP and exchanges bytes on a client-initiated bidirectional
// stream, exercising the handshake, stream flow control, and FIN delivery
// end to end.
func TestClientServerStreamRoundTrip(t *testing.T) {
	const streamID = 0 // client-initiated bidirectional

	var serverOnce sync.Once
	serverGotData := make(chan []byte, 1)

	server, err := quic.NewServer(newServerConfig(t), quic.HandlerFunc(func(c quic.Conn, events []transport.Event) {
		for _, ev := range events {
			if ev.Type == transport.EventStreamReadable && ev.StreamID == streamID {
				st := c.Stream(streamID)
				buf := make([]byte, 256)
				n, _ := st.Read(buf)
				if n > 0 {
					serverOnce.Do(func() {
						serverGotData <- append([]byte(nil), buf[:n]...)
					})
					st.Write([]byte("pong"))
					st.Close()
				}
			}
		}
	}))
	require.NoError(t, err)
	require.NoError(t, server.ListenAndServe("127.0.0.1:0"))
	defer server.Close()

	clientGotData := make(chan []byte, 1)
	client := quic.NewClient(newClientConfig())
	client.SetHandler(quic.HandlerFunc(func(c quic.Conn, events []transport.Event) {
		for _, ev := range events {
			if ev.Type == transport.EventConnected {
				st := c.Stream(streamID)
				st.Write([]byte("ping"))
			}
			if ev.Type == transport.EventStreamReadable && ev.StreamID == streamID {
				st := c.Stream(streamID)
				buf := make([]byte, 256)
				n, _ := st.Read(buf)
				if n > 0 {
					clientGotData <- append([]byte(nil), buf[:n]...)
				}
			}
		}
	}))
	require.NoError(t, client.ListenAndServe("127.0.0.1:0"))
	defer client.Close()

	_, err = client.Connect(server.LocalAddr().String())
	require.NoError(t, err)

	select {
	case got := <-serverGotData:
		require.Equal(t, "ping", string(got))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server to receive stream data")
	}

	select {
	case got := <-clientGotData:
		require.Equal(t, "pong", string(got))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for client to receive stream data")
	}
}
