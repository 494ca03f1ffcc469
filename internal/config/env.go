package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override file values.
const (
	EnvGatewayURL = "EVOLUTION_API_URL"
	EnvGatewayKey = "EVOLUTION_API_KEY"
	EnvInstance   = "WPPCRM_INSTANCE"
	EnvListen     = "WPPCRM_LISTEN"
	EnvRedisAddr  = "WPPCRM_REDIS_ADDR"
	EnvRedisDB    = "WPPCRM_REDIS_DB"
	EnvCache      = "WPPCRM_CACHE_BACKEND"
)

// Resolve builds the effective configuration: defaults, then the TOML file at
// path (if present), then a .env file in the working directory (if present),
// then the process environment.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}

	// godotenv never overrides variables already set in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	ApplyEnv(cfg)
	return cfg, nil
}

// ApplyEnv overrides cfg fields with any non-empty environment variables.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvGatewayURL); v != "" {
		cfg.Gateway.URL = v
	}
	if v := os.Getenv(EnvGatewayKey); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv(EnvInstance); v != "" {
		cfg.DefaultInstance = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv(EnvRedisDB); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv(EnvCache); v != "" {
		cfg.Cache.Backend = v
	}
}
