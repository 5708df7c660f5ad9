// Package config provides configuration management for the securedrop
// coordinator and client.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"
)

// FileConfig is the top-level wrapper for the shared configuration file.
// Coordinator and client read the same file; each takes its own section.
type FileConfig struct {
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Client      ClientConfig      `toml:"client"`
}

// CoordinatorConfig holds the coordinator-side configuration.
type CoordinatorConfig struct {
	Port      int            `toml:"port"`
	StoreFile string         `toml:"store_file"`
	LogLevel  string         `toml:"log_level"`
	TLS       TLSConfig      `toml:"tls"`
	Timeouts  TimeoutsConfig `toml:"timeouts"`
	Limits    LimitsConfig   `toml:"limits"`
	Metrics   MetricsConfig  `toml:"metrics"`
}

// ClientConfig holds the client-side configuration.
type ClientConfig struct {
	Hostname  string    `toml:"hostname"`
	Port      int       `toml:"port"`
	CacheFile string    `toml:"cache_file"`
	LogLevel  string    `toml:"log_level"`
	TLS       TLSConfig `toml:"tls"`
}

// TLSConfig holds TLS certificate and version settings. CertFile may
// carry both the certificate and the private key in a single PEM; if
// KeyFile is empty the key is loaded from CertFile.
type TLSConfig struct {
	CertFile   string `toml:"cert_file"`
	KeyFile    string `toml:"key_file"`
	MinVersion string `toml:"min_version"`
}

// TimeoutsConfig defines per-connection deadlines. Empty values disable
// the deadline; the coordinator runs without timeouts by default and
// relies on session teardown on stream close.
type TimeoutsConfig struct {
	Command string `toml:"command"`
	Idle    string `toml:"idle"`
}

// LimitsConfig defines resource limits for the coordinator.
type LimitsConfig struct {
	MaxConnections int `toml:"max_connections"`
}

// MetricsConfig holds configuration for the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// DefaultCoordinator returns a CoordinatorConfig with default values.
func DefaultCoordinator() CoordinatorConfig {
	return CoordinatorConfig{
		Port:      6969,
		StoreFile: "server.json",
		LogLevel:  "info",
		TLS: TLSConfig{
			CertFile:   "server.pem",
			MinVersion: "1.2",
		},
		Limits: LimitsConfig{
			MaxConnections: 100,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9102",
			Path:    "/metrics",
		},
	}
}

// DefaultClient returns a ClientConfig with default values.
func DefaultClient() ClientConfig {
	return ClientConfig{
		Hostname:  "127.0.0.1",
		Port:      6969,
		CacheFile: "client.json",
		LogLevel:  "info",
		TLS: TLSConfig{
			CertFile:   "server.pem",
			MinVersion: "1.2",
		},
	}
}

// Validate checks that the coordinator configuration is usable.
func (c *CoordinatorConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.StoreFile == "" {
		return errors.New("store_file is required")
	}
	if c.TLS.CertFile == "" {
		return errors.New("tls cert_file is required")
	}
	if c.Limits.MaxConnections <= 0 {
		return errors.New("max_connections must be positive")
	}
	if c.TLS.MinVersion != "" {
		if _, ok := minTLSVersions[c.TLS.MinVersion]; !ok {
			return fmt.Errorf("invalid TLS min_version %q (valid: 1.0, 1.1, 1.2, 1.3)", c.TLS.MinVersion)
		}
	}
	if c.Timeouts.Command != "" {
		if _, err := time.ParseDuration(c.Timeouts.Command); err != nil {
			return fmt.Errorf("invalid command timeout: %w", err)
		}
	}
	if c.Timeouts.Idle != "" {
		if _, err := time.ParseDuration(c.Timeouts.Idle); err != nil {
			return fmt.Errorf("invalid idle timeout: %w", err)
		}
	}
	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path is required when metrics are enabled")
		}
	}
	return nil
}

// Validate checks that the client configuration is usable.
func (c *ClientConfig) Validate() error {
	if c.Hostname == "" {
		return errors.New("hostname is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.CacheFile == "" {
		return errors.New("cache_file is required")
	}
	if c.TLS.CertFile == "" {
		return errors.New("tls cert_file is required")
	}
	return nil
}

// MinTLSVersion returns the crypto/tls constant for the configured minimum
// TLS version. Returns tls.VersionTLS12 if not configured or invalid.
func (c *TLSConfig) MinTLSVersion() uint16 {
	if v, ok := minTLSVersions[c.MinVersion]; ok {
		return v
	}
	return tls.VersionTLS12
}

// ServerTLSConfig loads the certificate and key and builds a server-side
// tls.Config. KeyFile defaults to CertFile when empty, so a single PEM
// carrying both works.
func (c *TLSConfig) ServerTLSConfig() (*tls.Config, error) {
	keyFile := c.KeyFile
	if keyFile == "" {
		keyFile = c.CertFile
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading TLS certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   c.MinTLSVersion(),
	}, nil
}

// ClientTLSConfig builds a client-side tls.Config that verifies the peer
// chain against the PEM in CertFile but skips hostname verification.
// Default deployments use a self-signed certificate whose name does not
// match the coordinator's address.
func (c *TLSConfig) ClientTLSConfig() (*tls.Config, error) {
	pem, err := os.ReadFile(c.CertFile)
	if err != nil {
		return nil, fmt.Errorf("reading TLS certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", c.CertFile)
	}
	cfg := &tls.Config{
		MinVersion: c.MinTLSVersion(),
		// Chain verification happens in VerifyPeerCertificate below;
		// only hostname verification is skipped.
		InsecureSkipVerify: true,
	}
	cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		opts := x509.VerifyOptions{Roots: pool, Intermediates: x509.NewCertPool()}
		var leaf *x509.Certificate
		for i, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("parsing peer certificate: %w", err)
			}
			if i == 0 {
				leaf = cert
			} else {
				opts.Intermediates.AddCert(cert)
			}
		}
		if leaf == nil {
			return errors.New("no peer certificate")
		}
		_, err := leaf.Verify(opts)
		return err
	}
	return cfg, nil
}

// CommandTimeout returns the command timeout, or zero if disabled.
func (c *TimeoutsConfig) CommandTimeout() time.Duration {
	return parseDurationOrZero(c.Command)
}

// IdleTimeout returns the idle timeout, or zero if disabled.
func (c *TimeoutsConfig) IdleTimeout() time.Duration {
	return parseDurationOrZero(c.Idle)
}

func parseDurationOrZero(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

var minTLSVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}
