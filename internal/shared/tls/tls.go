// Package tls builds TLS configuration for the HTTP listener.
package tls

import (
	"crypto/tls"
	"fmt"
	"strings"
)

// Config holds listener TLS settings. TLS is on when both files are set.
type Config struct {
	CertFile   string `mapstructure:"certfile"`
	KeyFile    string `mapstructure:"keyfile"`
	MinVersion string `mapstructure:"minversion"`
}

// Enabled reports whether a certificate is configured.
func (c Config) Enabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// Validate checks that the files come as a pair and the version is known.
func (c Config) Validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("certificate and key files must be set together")
	}
	if _, err := ParseVersion(c.MinVersion); err != nil {
		return err
	}
	return nil
}

// ParseVersion maps "1.2" or "1.3" to a TLS version. Empty means 1.2.
func ParseVersion(v string) (uint16, error) {
	switch strings.TrimSpace(v) {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", v)
	}
}

// ServerTLSConfig loads the key pair and returns a server tls.Config.
func ServerTLSConfig(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("certificate and key files are required")
	}

	minVersion, err := ParseVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
		CipherSuites: preferredCipherSuites(),
		NextProtos:   []string{"h2", "http/1.1"},
	}, nil
}

// preferredCipherSuites applies to TLS 1.2 only; 1.3 suites are fixed.
func preferredCipherSuites() []uint16 {
	return []uint16{
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	}
}
