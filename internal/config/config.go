// Package config handles loading, validating, and writing the forensicd
// configuration from ~/.forensicd/config.yaml.
//
// The config defines:
//   - Server bind address (host:port)
//   - Storage locations (evidence dir, custody index, audit log, reports)
//   - Capture behavior (snapshot timeout)
//   - Background integrity sweep (enabled, interval)
//   - Dashboard toggle
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level forensicd configuration.
// Loaded from config.yaml, with sensible defaults for fields that are
// not explicitly set.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Capture   CaptureConfig   `yaml:"capture"`
	Sweep     SweepConfig     `yaml:"sweep"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// ServerConfig defines where the daemon listens.
// Default: 127.0.0.1:7411 (loopback only — never bind to 0.0.0.0 unless
// explicitly configured).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the on-disk locations of the evidence record.
// Relative paths are resolved against the config directory.
type StorageConfig struct {
	EvidenceDir string `yaml:"evidence_dir"`
	CustodyDB   string `yaml:"custody_db"`
	AuditDB     string `yaml:"audit_db"`
	ReportsDir  string `yaml:"reports_dir"`
}

// CaptureConfig controls incident capture behavior.
//
// SnapshotTimeoutMs bounds how long snapshot providers may run per
// capture. A provider exceeding it degrades the capture instead of
// delaying the evidence seal. Default: 5000ms.
type CaptureConfig struct {
	SnapshotTimeoutMs int `yaml:"snapshotTimeoutMs"`
}

// SweepConfig controls the background chain integrity sweep.
type SweepConfig struct {
	Enabled     bool `yaml:"enabled"`
	IntervalSec int  `yaml:"intervalSec"`
}

// DashboardConfig controls the web dashboard served at /dashboard.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SnapshotTimeout returns the capture snapshot timeout as a duration.
func (c *Config) SnapshotTimeout() time.Duration {
	return time.Duration(c.Capture.SnapshotTimeoutMs) * time.Millisecond
}

// SweepInterval returns the integrity sweep interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweep.IntervalSec) * time.Second
}

// Addr returns the host:port the server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Load reads and parses config.yaml from the given path.
// If the file doesn't exist, returns defaults (not an error).
// Invalid YAML or validation failures return an error.
// Relative storage paths are resolved against the file's directory.
func Load(path string) (*Config, error) {
	cfg := applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file — use defaults. Normal on first run before
			// `forensicd config edit` creates the file.
			cfg.resolvePaths(filepath.Dir(path))
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// WriteDefault writes a default config.yaml with all fields populated
// and a comment header. Used by the first-run setup and
// `forensicd config edit` when no config file exists yet.
func WriteDefault(path string) error {
	cfg := applyDefaults()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}

	header := `# Forensicd Configuration
#
# server:
#   host: Bind address (default: 127.0.0.1, loopback only)
#   port: Listen port (default: 7411)
#
# storage:
#   evidence_dir: Content-addressed evidence payloads
#   custody_db:   Chain-of-custody SQLite index
#   audit_db:     Audit event SQLite log
#   reports_dir:  Plain-text incident reports
#   (relative paths resolve against this file's directory)
#
# capture:
#   snapshotTimeoutMs: Max time snapshot providers may run per capture
#
# sweep:
#   enabled:     Run the background chain integrity sweep
#   intervalSec: Seconds between sweeps
#
# dashboard:
#   enabled: Serve the evidence viewer at /dashboard on the same port

`
	return os.WriteFile(path, []byte(header+string(data)), 0o644)
}

// applyDefaults returns a Config with all fields set to their default values.
func applyDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 7411,
		},
		Storage: StorageConfig{
			EvidenceDir: "evidence",
			CustodyDB:   "custody.db",
			AuditDB:     "audit.db",
			ReportsDir:  "reports",
		},
		Capture: CaptureConfig{
			SnapshotTimeoutMs: 5000,
		},
		Sweep: SweepConfig{
			Enabled:     true,
			IntervalSec: 300,
		},
		Dashboard: DashboardConfig{
			Enabled: true,
		},
	}
}

// resolvePaths anchors relative storage paths at the config directory.
func (c *Config) resolvePaths(dir string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.Storage.EvidenceDir = resolve(c.Storage.EvidenceDir)
	c.Storage.CustodyDB = resolve(c.Storage.CustodyDB)
	c.Storage.AuditDB = resolve(c.Storage.AuditDB)
	c.Storage.ReportsDir = resolve(c.Storage.ReportsDir)
}

// validate checks the config for logical errors after parsing.
func validate(cfg *Config) error {
	if cfg.Server.Host == "" {
		return fmt.Errorf("server.host must not be empty")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range (1-65535)", cfg.Server.Port)
	}

	if cfg.Storage.EvidenceDir == "" {
		return fmt.Errorf("storage.evidence_dir must not be empty")
	}
	if cfg.Storage.CustodyDB == "" {
		return fmt.Errorf("storage.custody_db must not be empty")
	}
	if cfg.Storage.AuditDB == "" {
		return fmt.Errorf("storage.audit_db must not be empty")
	}
	if cfg.Storage.ReportsDir == "" {
		return fmt.Errorf("storage.reports_dir must not be empty")
	}

	if cfg.Capture.SnapshotTimeoutMs < 0 {
		return fmt.Errorf("capture.snapshotTimeoutMs must be non-negative")
	}
	if cfg.Sweep.IntervalSec < 1 {
		return fmt.Errorf("sweep.intervalSec must be at least 1")
	}

	return nil
}
