package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "securedrop.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCoordinatorMissingFile(t *testing.T) {
	flags := &CoordinatorFlags{ConfigPath: filepath.Join(t.TempDir(), "absent.toml")}
	cfg, err := LoadCoordinator(flags)
	if err != nil {
		t.Fatalf("LoadCoordinator() error = %v", err)
	}
	want := DefaultCoordinator()
	if cfg != want {
		t.Errorf("LoadCoordinator() = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadCoordinatorFromFile(t *testing.T) {
	path := writeConfig(t, `
[coordinator]
port = 7000
store_file = "/var/lib/securedrop/server.json"
log_level = "debug"

[coordinator.tls]
cert_file = "/etc/securedrop/server.pem"
min_version = "1.3"

[coordinator.timeouts]
idle = "10m"

[coordinator.limits]
max_connections = 25

[coordinator.metrics]
enabled = true
address = ":9200"
`)
	cfg, err := LoadCoordinator(&CoordinatorFlags{ConfigPath: path})
	if err != nil {
		t.Fatalf("LoadCoordinator() error = %v", err)
	}
	if cfg.Port != 7000 {
		t.Errorf("Port = %d, want 7000", cfg.Port)
	}
	if cfg.StoreFile != "/var/lib/securedrop/server.json" {
		t.Errorf("StoreFile = %q", cfg.StoreFile)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.TLS.CertFile != "/etc/securedrop/server.pem" {
		t.Errorf("CertFile = %q", cfg.TLS.CertFile)
	}
	if cfg.TLS.MinVersion != "1.3" {
		t.Errorf("MinVersion = %q, want 1.3", cfg.TLS.MinVersion)
	}
	if cfg.Timeouts.Idle != "10m" {
		t.Errorf("Idle = %q, want 10m", cfg.Timeouts.Idle)
	}
	if cfg.Limits.MaxConnections != 25 {
		t.Errorf("MaxConnections = %d, want 25", cfg.Limits.MaxConnections)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if cfg.Metrics.Address != ":9200" {
		t.Errorf("Metrics.Address = %q, want :9200", cfg.Metrics.Address)
	}
	// Unset file values keep their defaults.
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want /metrics", cfg.Metrics.Path)
	}
}

func TestLoadCoordinatorFlagOverrides(t *testing.T) {
	path := writeConfig(t, `
[coordinator]
port = 7000
store_file = "file.json"
`)
	cfg, err := LoadCoordinator(&CoordinatorFlags{
		ConfigPath: path,
		Port:       8000,
		StoreFile:  "flag.json",
		CertFile:   "flag.pem",
		Debug:      true,
	})
	if err != nil {
		t.Fatalf("LoadCoordinator() error = %v", err)
	}
	if cfg.Port != 8000 {
		t.Errorf("Port = %d, want flag value 8000", cfg.Port)
	}
	if cfg.StoreFile != "flag.json" {
		t.Errorf("StoreFile = %q, want flag.json", cfg.StoreFile)
	}
	if cfg.TLS.CertFile != "flag.pem" {
		t.Errorf("CertFile = %q, want flag.pem", cfg.TLS.CertFile)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadClientFromFile(t *testing.T) {
	path := writeConfig(t, `
[client]
hostname = "coordinator.lan"
port = 7000
cache_file = "accounts.json"

[client.tls]
cert_file = "coordinator.pem"
`)
	cfg, err := LoadClient(&ClientFlags{ConfigPath: path})
	if err != nil {
		t.Fatalf("LoadClient() error = %v", err)
	}
	if cfg.Hostname != "coordinator.lan" {
		t.Errorf("Hostname = %q", cfg.Hostname)
	}
	if cfg.Port != 7000 {
		t.Errorf("Port = %d, want 7000", cfg.Port)
	}
	if cfg.CacheFile != "accounts.json" {
		t.Errorf("CacheFile = %q", cfg.CacheFile)
	}
	if cfg.TLS.CertFile != "coordinator.pem" {
		t.Errorf("CertFile = %q", cfg.TLS.CertFile)
	}
}

func TestLoadClientFlagOverrides(t *testing.T) {
	cfg, err := LoadClient(&ClientFlags{
		ConfigPath: filepath.Join(t.TempDir(), "absent.toml"),
		Hostname:   "192.168.1.20",
		Port:       9000,
		Debug:      true,
	})
	if err != nil {
		t.Fatalf("LoadClient() error = %v", err)
	}
	if cfg.Hostname != "192.168.1.20" {
		t.Errorf("Hostname = %q", cfg.Hostname)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	// Remaining fields fall back to defaults.
	if cfg.CacheFile != "client.json" {
		t.Errorf("CacheFile = %q, want client.json", cfg.CacheFile)
	}
}

func TestLoadFileBadTOML(t *testing.T) {
	path := writeConfig(t, "this is not toml = = =")
	if _, err := LoadFile(path); err == nil {
		t.Error("LoadFile() accepted malformed TOML")
	}
}

func TestParseCoordinatorFlags(t *testing.T) {
	f, err := ParseCoordinatorFlags([]string{"--port", "7000", "--filename", "s.json", "--debug"})
	if err != nil {
		t.Fatalf("ParseCoordinatorFlags() error = %v", err)
	}
	if f.Port != 7000 || f.StoreFile != "s.json" || !f.Debug {
		t.Errorf("flags = %+v", f)
	}
	if f.ConfigPath != "./securedrop.toml" {
		t.Errorf("ConfigPath = %q, want default", f.ConfigPath)
	}
}

func TestParseClientFlags(t *testing.T) {
	f, err := ParseClientFlags([]string{"--hostname", "10.0.0.5", "--cert", "c.pem"})
	if err != nil {
		t.Fatalf("ParseClientFlags() error = %v", err)
	}
	if f.Hostname != "10.0.0.5" || f.CertFile != "c.pem" {
		t.Errorf("flags = %+v", f)
	}
}
