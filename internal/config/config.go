package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the global ~/.wamon/config.toml.
type Config struct {
	DefaultSession string        `toml:"default_session"`
	Monitor        MonitorConfig `toml:"monitor"`
}

// MonitorConfig holds the dashboard address and sync pacing tunables.
type MonitorConfig struct {
	ListenAddr        string   `toml:"listen_addr"`
	MediaDir          string   `toml:"media_dir,omitempty"`
	SyncStartDelay    Duration `toml:"sync_start_delay"`
	ProfileStartDelay Duration `toml:"profile_start_delay"`
	ChatDelay         Duration `toml:"chat_delay"`
	BatchDelay        Duration `toml:"batch_delay"`
	ProfileDelay      Duration `toml:"profile_delay"`
	BatchSize         int      `toml:"batch_size"`
	MaxBatches        int      `toml:"max_batches"`
	DownloadRetries   int      `toml:"download_retries"`
	DownloadTimeout   Duration `toml:"download_timeout"`
	MediaPollInterval Duration `toml:"media_poll_interval"`
}

// Duration is a time.Duration written as a string ("150ms", "5s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		DefaultSession: "main",
		Monitor: MonitorConfig{
			ListenAddr:        ":3002",
			SyncStartDelay:    Duration{5 * time.Second},
			ProfileStartDelay: Duration{8 * time.Second},
			ChatDelay:         Duration{100 * time.Millisecond},
			BatchDelay:        Duration{50 * time.Millisecond},
			ProfileDelay:      Duration{200 * time.Millisecond},
			BatchSize:         50,
			MaxBatches:        100,
			DownloadRetries:   3,
			DownloadTimeout:   Duration{15 * time.Second},
			MediaPollInterval: Duration{time.Second},
		},
	}
}

// Load reads config from the given path on top of Defaults. Returns error if
// the file is missing.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.Monitor.fill()
	return cfg, nil
}

// LoadOrDefault reads config from path, falling back to Defaults when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Defaults(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// ApplyEnv loads an optional .env file from dir and applies environment
// overrides. PORT is honoured when WAMON_LISTEN_ADDR is unset.
func ApplyEnv(cfg *Config, dir string) {
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	if v := os.Getenv("WAMON_SESSION"); v != "" {
		cfg.DefaultSession = v
	}
	if v := os.Getenv("WAMON_LISTEN_ADDR"); v != "" {
		cfg.Monitor.ListenAddr = v
	} else if port := os.Getenv("PORT"); port != "" {
		cfg.Monitor.ListenAddr = ":" + port
	}
	if v := os.Getenv("WAMON_MEDIA_DIR"); v != "" {
		cfg.Monitor.MediaDir = v
	}
}

// fill restores defaults for zero or negative values a partial file left behind.
func (m *MonitorConfig) fill() {
	d := Defaults().Monitor
	if m.ListenAddr == "" {
		m.ListenAddr = d.ListenAddr
	}
	if m.BatchSize <= 0 {
		m.BatchSize = d.BatchSize
	}
	if m.MaxBatches <= 0 {
		m.MaxBatches = d.MaxBatches
	}
	if m.DownloadRetries <= 0 {
		m.DownloadRetries = d.DownloadRetries
	}
	if m.DownloadTimeout.Duration <= 0 {
		m.DownloadTimeout = d.DownloadTimeout
	}
	if m.MediaPollInterval.Duration <= 0 {
		m.MediaPollInterval = d.MediaPollInterval
	}
}
