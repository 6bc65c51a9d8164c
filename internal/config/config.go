package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the full service configuration. Values come from an optional
// TOML file, with environment variables taking precedence over both the file
// and the built-in defaults.
type Config struct {
	Port        string `toml:"port"`
	StorePath   string `toml:"store_path"`
	Environment string `toml:"environment"`
	Debug       bool   `toml:"debug"`

	BackendURL string `toml:"backend_url"`
	BackendKey string `toml:"backend_key"`
	UserID     string `toml:"user_id"`

	AMQPURL      string `toml:"amqp_url"`
	AMQPExchange string `toml:"amqp_exchange"`
	OTLPEndpoint string `toml:"otlp_endpoint"`

	PollInterval  time.Duration `toml:"-"`
	ProbeInterval time.Duration `toml:"-"`
	DrainInterval time.Duration `toml:"-"`
	MaxAttempts   int           `toml:"max_attempts"`

	PollIntervalSeconds  int `toml:"poll_interval_seconds"`
	ProbeIntervalSeconds int `toml:"probe_interval_seconds"`
	DrainIntervalSeconds int `toml:"drain_interval_seconds"`
}

// Load builds the configuration. path may be empty; a missing file is not an
// error, only a malformed one is.
func Load(path string) (Config, error) {
	cfg := Config{
		Port:                 "8086",
		StorePath:            "relay.db",
		Environment:          "development",
		AMQPExchange:         "relay.events",
		PollIntervalSeconds:  10,
		ProbeIntervalSeconds: 15,
		DrainIntervalSeconds: 60,
		MaxAttempts:          8,
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("decode config file: %w", err)
			}
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.StorePath = getEnv("STORE_PATH", cfg.StorePath)
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.Debug = getEnvBool("DEBUG", cfg.Debug)
	cfg.BackendURL = getEnv("BACKEND_URL", cfg.BackendURL)
	cfg.BackendKey = getEnv("BACKEND_KEY", cfg.BackendKey)
	cfg.UserID = getEnv("USER_ID", cfg.UserID)
	cfg.AMQPURL = getEnv("AMQP_URL", cfg.AMQPURL)
	cfg.AMQPExchange = getEnv("AMQP_EXCHANGE", cfg.AMQPExchange)
	cfg.OTLPEndpoint = getEnv("OTLP_ENDPOINT", cfg.OTLPEndpoint)
	cfg.PollIntervalSeconds = getEnvInt("BADGE_POLL_SECONDS", cfg.PollIntervalSeconds)
	cfg.ProbeIntervalSeconds = getEnvInt("PROBE_SECONDS", cfg.ProbeIntervalSeconds)
	cfg.DrainIntervalSeconds = getEnvInt("DRAIN_SECONDS", cfg.DrainIntervalSeconds)
	cfg.MaxAttempts = getEnvInt("MAX_ATTEMPTS", cfg.MaxAttempts)

	cfg.PollInterval = time.Duration(cfg.PollIntervalSeconds) * time.Second
	cfg.ProbeInterval = time.Duration(cfg.ProbeIntervalSeconds) * time.Second
	cfg.DrainInterval = time.Duration(cfg.DrainIntervalSeconds) * time.Second

	if cfg.BackendURL == "" {
		return Config{}, fmt.Errorf("backend url is required (BACKEND_URL)")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}
