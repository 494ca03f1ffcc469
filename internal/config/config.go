package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultInstance is the gateway instance used when nothing else is configured.
const DefaultInstance = "crm-turbo"

// Config represents the global ~/.wppcrm/config.toml.
type Config struct {
	DefaultInstance string `toml:"default_instance"`
	ListenAddr      string `toml:"listen_addr"`

	Gateway Gateway `toml:"gateway"`
	Polling Polling `toml:"polling"`
	Cache   Cache   `toml:"cache"`
	Redis   Redis   `toml:"redis"`
	Webhook Webhook `toml:"webhook"`
}

// Gateway configures the Evolution API client.
type Gateway struct {
	URL           string   `toml:"url"`
	APIKey        string   `toml:"api_key"`
	Timeout       Duration `toml:"timeout"`
	MaxAttempts   int      `toml:"max_attempts"`
	Backoff       Duration `toml:"backoff"`
	RatePerSecond float64  `toml:"rate_per_second"`
}

// Polling configures the chat presence loops.
type Polling struct {
	ChatsInterval      Duration `toml:"chats_interval"`
	PairingInterval    Duration `toml:"pairing_interval"`
	PairingMaxAttempts int      `toml:"pairing_max_attempts"`
	OpenGuard          Duration `toml:"open_guard"`
	AvatarConcurrency  int      `toml:"avatar_concurrency"`
}

// Cache selects where the local unread cache is persisted: "file" or "redis".
type Cache struct {
	Backend string `toml:"backend"`
}

// Redis holds the connection settings shared by the connection-status store
// and the redis cache backend. An empty Addr disables Redis.
type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Webhook configures inbound webhook ingestion.
type Webhook struct {
	Dedupe bool `toml:"dedupe"`
}

// Duration is a time.Duration that reads and writes TOML strings like "15s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultInstance: DefaultInstance,
		ListenAddr:      "127.0.0.1:8085",
		Gateway: Gateway{
			Timeout:     Duration{30 * time.Second},
			MaxAttempts: 3,
			Backoff:     Duration{250 * time.Millisecond},
		},
		Polling: Polling{
			ChatsInterval:      Duration{15 * time.Second},
			PairingInterval:    Duration{3 * time.Second},
			PairingMaxAttempts: 40,
			OpenGuard:          Duration{10 * time.Second},
			AvatarConcurrency:  4,
		},
		Cache:   Cache{Backend: "file"},
		Webhook: Webhook{Dedupe: true},
	}
}

// Load reads config from the given path on top of Default. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
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
