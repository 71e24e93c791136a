package main

import (
	"crypto/tls"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	quic "github.com/age-rs/quic-go"
	"github.com/age-rs/quic-go/transport"
)

// newConfig returns a quic.Config seeded with transport defaults and an
// ALPN of "quince", ready for either a client or server to override.
func newConfig() *quic.Config {
	return &quic.Config{
		Config: *transport.ConfigWithDefaults(&tls.Config{
			NextProtos: []string{"quince"},
		}),
	}
}

// fileConfig is the YAML-loadable shape of a quince config file: listen
// address, TLS material, and the transport parameter overrides most
// operators need without recompiling.
type fileConfig struct {
	Listen       string `yaml:"listen"`
	MetricsAddr  string `yaml:"metrics_addr"`
	LogLevel     string `yaml:"log_level"`
	Cert         string `yaml:"cert"`
	Key          string `yaml:"key"`
	RequireRetry bool   `yaml:"require_retry"`

	MaxIdleTimeout  time.Duration `yaml:"max_idle_timeout"`
	InitialMaxData  uint64        `yaml:"initial_max_data"`
	FastPTOScale    float64       `yaml:"fast_pto_scale"`
	CIDLength       int           `yaml:"cid_length"`
	TokenValidity   time.Duration `yaml:"token_validity"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// applyTo overlays non-zero file config values onto a quic.Config already
// seeded with transport.ConfigWithDefaults.
func (fc *fileConfig) applyTo(cfg *quic.Config) {
	if fc.MaxIdleTimeout > 0 {
		cfg.Params.MaxIdleTimeout = fc.MaxIdleTimeout
	}
	if fc.InitialMaxData > 0 {
		cfg.Params.InitialMaxData = fc.InitialMaxData
	}
	if fc.FastPTOScale > 0 {
		cfg.FastPTOScale = fc.FastPTOScale
	}
	if fc.CIDLength > 0 {
		cfg.CIDLength = fc.CIDLength
	}
	if fc.TokenValidity > 0 {
		cfg.TokenValidity = fc.TokenValidity
	}
	cfg.RequireRetry = cfg.RequireRetry || fc.RequireRetry
}
