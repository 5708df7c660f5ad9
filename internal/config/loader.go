package config

import (
	"flag"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// CoordinatorFlags holds command-line flag values for the coordinator.
type CoordinatorFlags struct {
	ConfigPath string
	Port       int
	StoreFile  string
	CertFile   string
	Debug      bool
}

// ClientFlags holds command-line flag values for the client.
type ClientFlags struct {
	ConfigPath string
	Hostname   string
	Port       int
	CacheFile  string
	CertFile   string
	Debug      bool
}

// ParseCoordinatorFlags parses the coordinator command line.
func ParseCoordinatorFlags(args []string) (*CoordinatorFlags, error) {
	f := &CoordinatorFlags{}
	fs := flag.NewFlagSet("securedrop-server", flag.ContinueOnError)
	fs.StringVar(&f.ConfigPath, "config", "./securedrop.toml", "Path to configuration file")
	fs.IntVar(&f.Port, "port", 0, "Listen port")
	fs.StringVar(&f.StoreFile, "filename", "", "Path to the account store file")
	fs.StringVar(&f.CertFile, "cert", "", "TLS certificate PEM (certificate and key)")
	fs.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// ParseClientFlags parses the client command line.
func ParseClientFlags(args []string) (*ClientFlags, error) {
	f := &ClientFlags{}
	fs := flag.NewFlagSet("securedrop", flag.ContinueOnError)
	fs.StringVar(&f.ConfigPath, "config", "./securedrop.toml", "Path to configuration file")
	fs.StringVar(&f.Hostname, "hostname", "", "Coordinator hostname")
	fs.IntVar(&f.Port, "port", 0, "Coordinator port")
	fs.StringVar(&f.CacheFile, "filename", "", "Path to the local account cache file")
	fs.StringVar(&f.CertFile, "cert", "", "Coordinator certificate PEM")
	fs.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// LoadFile parses a TOML configuration file. If the file does not exist,
// zero-value sections are returned and defaults apply.
func LoadFile(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fc, nil
		}
		return fc, fmt.Errorf("reading config file: %w", err)
	}
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parsing config file: %w", err)
	}
	return fc, nil
}

// LoadCoordinator loads the coordinator configuration: defaults, then the
// config file, then flag overrides.
func LoadCoordinator(f *CoordinatorFlags) (CoordinatorConfig, error) {
	cfg := DefaultCoordinator()
	fc, err := LoadFile(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	cfg = mergeCoordinator(cfg, fc.Coordinator)
	if f.Port > 0 {
		cfg.Port = f.Port
	}
	if f.StoreFile != "" {
		cfg.StoreFile = f.StoreFile
	}
	if f.CertFile != "" {
		cfg.TLS.CertFile = f.CertFile
	}
	if f.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// LoadClient loads the client configuration: defaults, then the config
// file, then flag overrides.
func LoadClient(f *ClientFlags) (ClientConfig, error) {
	cfg := DefaultClient()
	fc, err := LoadFile(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	cfg = mergeClient(cfg, fc.Client)
	if f.Hostname != "" {
		cfg.Hostname = f.Hostname
	}
	if f.Port > 0 {
		cfg.Port = f.Port
	}
	if f.CacheFile != "" {
		cfg.CacheFile = f.CacheFile
	}
	if f.CertFile != "" {
		cfg.TLS.CertFile = f.CertFile
	}
	if f.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// mergeCoordinator merges non-zero values from src into dst.
func mergeCoordinator(dst, src CoordinatorConfig) CoordinatorConfig {
	if src.Port > 0 {
		dst.Port = src.Port
	}
	if src.StoreFile != "" {
		dst.StoreFile = src.StoreFile
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	dst.TLS = mergeTLS(dst.TLS, src.TLS)
	if src.Timeouts.Command != "" {
		dst.Timeouts.Command = src.Timeouts.Command
	}
	if src.Timeouts.Idle != "" {
		dst.Timeouts.Idle = src.Timeouts.Idle
	}
	if src.Limits.MaxConnections > 0 {
		dst.Limits.MaxConnections = src.Limits.MaxConnections
	}
	if src.Metrics.Enabled {
		dst.Metrics.Enabled = true
	}
	if src.Metrics.Address != "" {
		dst.Metrics.Address = src.Metrics.Address
	}
	if src.Metrics.Path != "" {
		dst.Metrics.Path = src.Metrics.Path
	}
	return dst
}

// mergeClient merges non-zero values from src into dst.
func mergeClient(dst, src ClientConfig) ClientConfig {
	if src.Hostname != "" {
		dst.Hostname = src.Hostname
	}
	if src.Port > 0 {
		dst.Port = src.Port
	}
	if src.CacheFile != "" {
		dst.CacheFile = src.CacheFile
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	dst.TLS = mergeTLS(dst.TLS, src.TLS)
	return dst
}

func mergeTLS(dst, src TLSConfig) TLSConfig {
	if src.CertFile != "" {
		dst.CertFile = src.CertFile
	}
	if src.KeyFile != "" {
		dst.KeyFile = src.KeyFile
	}
	if src.MinVersion != "" {
		dst.MinVersion = src.MinVersion
	}
	return dst
}
