package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level dropwatch configuration.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	ZoneStore  ZoneStoreConfig  `toml:"zone_store"`
	Database   DatabaseConfig   `toml:"database"`
	Encryption EncryptionConfig `toml:"encryption"`
	CZDS       CZDSConfig       `toml:"czds"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
}

// EncryptionConfig holds paths to the age key pair used to protect the
// cached CZDS session token at rest.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// ZoneStoreConfig configures where daily zone snapshots are persisted.
// Tagged-union: Type selects which of the remaining fields apply.
type ZoneStoreConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"

	// Filesystem-specific (Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific (Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`

	KeepSnapshots int `toml:"keep_snapshots"` // per-TLD retention; 0 = unbounded
}

// DatabaseConfig configures the metadata store (TLDs, drops, watchlists,
// jobs). Tagged union: Type selects which of the remaining fields apply.
type DatabaseConfig struct {
	Type    string `toml:"type"` // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"`
}

// CZDSConfig configures the ICANN Centralized Zone Data Service client.
// Username/Password are read from environment variables, never from this
// file, so credentials never land in a config checked into source control.
type CZDSConfig struct {
	BaseURL          string        `toml:"base_url"`
	UsernameEnv      string        `toml:"username_env"` // env var name, default DROPWATCH_CZDS_USERNAME
	PasswordEnv      string        `toml:"password_env"` // env var name, default DROPWATCH_CZDS_PASSWORD
	RequestsPerSec   float64       `toml:"requests_per_second"`
	Burst            int           `toml:"burst"`
	DownloadTimeout  time.Duration `toml:"download_timeout"`
	MaxRetries       int           `toml:"max_retries"`
	SessionCachePath string        `toml:"session_cache_path"`
}

// SchedulerConfig configures the cron dispatcher and worker pool.
type SchedulerConfig struct {
	PollInterval   time.Duration `toml:"poll_interval"`
	WorkerCount    int           `toml:"worker_count"`
	CatchUpHorizon int           `toml:"catch_up_horizon_days"`
	LeaseTTL       time.Duration `toml:"lease_ttl"`
}

// NewConfig creates a Config with sane defaults rooted at baseDir.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		ZoneStore: ZoneStoreConfig{
			Type:          "filesystem",
			FSRoot:        filepath.Join(baseDir, "zones"),
			KeepSnapshots: 14,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "dropwatch.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "dropwatch.key"),
		},
		CZDS: CZDSConfig{
			BaseURL:          "https://czds-api.icann.org",
			UsernameEnv:      "DROPWATCH_CZDS_USERNAME",
			PasswordEnv:      "DROPWATCH_CZDS_PASSWORD",
			RequestsPerSec:   1,
			Burst:            2,
			DownloadTimeout:  30 * time.Minute,
			MaxRetries:       3,
			SessionCachePath: filepath.Join(baseDir, "keys", "czds-session.enc"),
		},
		Scheduler: SchedulerConfig{
			PollInterval:   time.Minute,
			WorkerCount:    4,
			CatchUpHorizon: 7,
			LeaseTTL:       10 * time.Minute,
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes a new config file at path. Fails if one already exists.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
