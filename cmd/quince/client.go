package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	quic "github.com/age-rs/quic-go"
	"github.com/age-rs/quic-go/transport"
)

var clientFlags struct {
	listen   string
	insecure bool
	data     string
	logLevel string
	config   string
}

var clientCmd = &cobra.Command{
	Use:   "client <address>",
	Short: "dial a QUIC server and send data on a new stream",
	Args:  cobra.ExactArgs(1),
	RunE:  runClient,
}

func init() {
	f := clientCmd.Flags()
	f.StringVar(&clientFlags.listen, "listen", "0.0.0.0:0", "listen on the given IP:port")
	f.BoolVar(&clientFlags.insecure, "insecure", false, "skip verifying server certificate")
	f.StringVar(&clientFlags.data, "data", "GET /\r\n", "data to send on the first stream")
	f.StringVar(&clientFlags.logLevel, "log-level", "info", "log level: panic|fatal|error|warn|info|debug|trace")
	f.StringVar(&clientFlags.config, "config", "", "optional YAML config file")
}

func runClient(cmd *cobra.Command, args []string) error {
	addr := args[0]

	logger := logrus.New()
	logger.SetLevel(parseLogLevel(clientFlags.logLevel))

	cfg := newConfig()
	cfg.TLS.ServerName = serverName(addr)
	cfg.TLS.InsecureSkipVerify = clientFlags.insecure
	if clientFlags.config != "" {
		fc, err := loadFileConfig(clientFlags.config)
		if err != nil {
			return err
		}
		fc.applyTo(cfg)
	}

	handler := &clientHandler{data: clientFlags.data}
	client := quic.NewClient(cfg)
	client.SetHandler(handler)
	client.SetLogger(logger)
	if err := client.ListenAndServe(clientFlags.listen); err != nil {
		return err
	}

	handler.wg.Add(1)
	if _, err := client.Connect(addr); err != nil {
		return err
	}
	handler.wg.Wait()
	return client.Close()
}

type clientHandler struct {
	wg   sync.WaitGroup
	data string
	once sync.Once
}

func (h *clientHandler) Serve(c quic.Conn, events []transport.Event) {
	for _, e := range events {
		logrus.WithField("addr", c.RemoteAddr()).Debugf("connection event: %s", e.Type)
		switch e.Type {
		case transport.EventConnected:
			st := c.Stream(0)
			if st != nil {
				_, _ = st.Write([]byte(h.data))
				_ = st.Close()
			}
		case transport.EventStreamReadable:
			st := c.Stream(e.StreamID)
			if st != nil {
				buf := make([]byte, 4096)
				n, _ := st.Read(buf)
				if n > 0 {
					fmt.Printf("stream %d received:\n%s\n", e.StreamID, buf[:n])
				}
			}
		case transport.EventConnectionClosed:
			h.once.Do(h.wg.Done)
		}
	}
}

func serverName(s string) string {
	colon := strings.LastIndex(s, ":")
	if colon > 0 {
		bracket := strings.LastIndex(s, "]")
		if colon > bracket {
			return s[:colon]
		}
	}
	return s
}
