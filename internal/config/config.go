package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.courier/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	Server Server `toml:"server"`
	API    API    `toml:"api"`
	Outbox Outbox `toml:"outbox"`
	Sync   Sync   `toml:"sync"`
}

// Server configures the framed TCP connection to the messaging server.
type Server struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	ConnectTimeout duration `toml:"connect_timeout"`
	MaxFrameSize   uint32   `toml:"max_frame_size"`
}

// API configures the REST service used for login, conversation
// create-or-get, history pull and file upload.
type API struct {
	BaseURL string   `toml:"base_url"`
	Timeout duration `toml:"timeout"`
}

// Outbox configures transaction retry policy.
type Outbox struct {
	MaxRetries   int      `toml:"max_retries"`
	BackoffBase  duration `toml:"backoff_base"`
	BackoffCap   duration `toml:"backoff_cap"`
	PollInterval duration `toml:"poll_interval"`
}

// Sync configures history synchronization.
type Sync struct {
	PageSize int      `toml:"page_size"`
	Interval duration `toml:"interval"`
}

// duration wraps time.Duration for TOML string values like "5s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			Host:           "localhost",
			Port:           9430,
			ConnectTimeout: duration{10 * time.Second},
			MaxFrameSize:   4 << 20,
		},
		API: API{
			BaseURL: "http://localhost:9431",
			Timeout: duration{30 * time.Second},
		},
		Outbox: Outbox{
			MaxRetries:   3,
			BackoffBase:  duration{500 * time.Millisecond},
			BackoffCap:   duration{30 * time.Second},
			PollInterval: duration{500 * time.Millisecond},
		},
		Sync: Sync{
			PageSize: 50,
			Interval: duration{5 * time.Minute},
		},
	}
}

// Load reads config from the given path, layering file values over the
// defaults. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
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
