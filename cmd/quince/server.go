package main

import (
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	quic "github.com/age-rs/quic-go"
	"github.com/age-rs/quic-go/transport"
)

var serverFlags struct {
	listen       string
	cert         string
	key          string
	logLevel     string
	config       string
	metricsAddr  string
	requireRetry bool
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "accept QUIC connections and echo stream data",
	Args:  cobra.NoArgs,
	RunE:  runServer,
}

func init() {
	f := serverCmd.Flags()
	f.StringVar(&serverFlags.listen, "listen", "0.0.0.0:4433", "listen on the given IP:port")
	f.StringVar(&serverFlags.cert, "cert", "", "TLS certificate file")
	f.StringVar(&serverFlags.key, "key", "", "TLS private key file")
	f.StringVar(&serverFlags.logLevel, "log-level", "info", "log level: panic|fatal|error|warn|info|debug|trace")
	f.StringVar(&serverFlags.config, "config", "", "optional YAML config file")
	f.StringVar(&serverFlags.metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on, empty disables")
	f.BoolVar(&serverFlags.requireRetry, "require-retry", false, "require every new client address to complete a stateless Retry")
}

func runServer(cmd *cobra.Command, args []string) error {
	logger := logrus.New()
	logger.SetLevel(parseLogLevel(serverFlags.logLevel))

	cfg := newConfig()
	cfg.RequireRetry = serverFlags.requireRetry
	if serverFlags.cert != "" && serverFlags.key != "" {
		cert, err := tls.LoadX509KeyPair(serverFlags.cert, serverFlags.key)
		if err != nil {
			return err
		}
		cfg.TLS.Certificates = []tls.Certificate{cert}
	}
	if serverFlags.config != "" {
		fc, err := loadFileConfig(serverFlags.config)
		if err != nil {
			return err
		}
		fc.applyTo(cfg)
		if fc.Cert != "" && fc.Key != "" {
			cert, err := tls.LoadX509KeyPair(fc.Cert, fc.Key)
			if err != nil {
				return err
			}
			cfg.TLS.Certificates = []tls.Certificate{cert}
		}
		if fc.Listen != "" {
			serverFlags.listen = fc.Listen
		}
		if fc.MetricsAddr != "" {
			serverFlags.metricsAddr = fc.MetricsAddr
		}
	}
	if len(cfg.TLS.Certificates) == 0 {
		return fmt.Errorf("server requires --cert and --key, or a config file setting them")
	}

	handler := &echoHandler{}
	server, err := quic.NewServer(cfg, handler)
	if err != nil {
		return err
	}
	server.SetLogger(logger)

	logger.WithField("addr", serverFlags.listen).Info("listening")
	if err := server.ListenAndServe(serverFlags.listen); err != nil {
		return err
	}

	if serverFlags.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := reg.Register(server.Metrics()); err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(serverFlags.metricsAddr, mux); err != nil {
				logger.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	select {}
}

// echoHandler writes back whatever it reads on each stream, closing the
// stream once the peer signals it is done sending.
type echoHandler struct{}

func (echoHandler) Serve(c quic.Conn, events []transport.Event) {
	for _, e := range events {
		if e.Type != transport.EventStreamReadable {
			continue
		}
		st := c.Stream(e.StreamID)
		if st == nil {
			continue
		}
		buf := make([]byte, 4096)
		n, err := st.Read(buf)
		if n > 0 {
			_, _ = st.Write(buf[:n])
		}
		if err != nil {
			_ = st.Close()
		}
	}
}
