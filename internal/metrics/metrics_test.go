package metrics

import (
	"crypto/tls"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/age-rs/quic-go/transport"
)

func newTestConn(t *testing.T) *transport.Conn {
	t.Helper()
	cfg := transport.ConfigWithDefaults(&tls.Config{InsecureSkipVerify: true})
	c, err := transport.Connect([]byte{1, 2, 3, 4}, cfg)
	require.NoError(t, err)
	return c
}

func TestConnCollectorCounts(t *testing.T) {
	collector := NewConnCollector("quince_test")
	c := newTestConn(t)
	collector.Add(c, "127.0.0.1:4242")

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(collector))

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, fam := range families {
		if fam.GetName() == "quince_test_connections" {
			found = true
			require.Len(t, fam.Metric, 1)
			require.Equal(t, float64(1), fam.Metric[0].GetGauge().GetValue())
		}
	}
	require.True(t, found, "expected quince_test_connections metric family")

	collector.Remove(c)
	families, err = reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() == "quince_test_connections" {
			require.Equal(t, float64(0), fam.Metric[0].GetGauge().GetValue())
		}
	}
}
