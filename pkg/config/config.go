// Package config loads server configuration from the environment, with an
// optional YAML overrides file for deployment profiles.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration.
type Config struct {
	Port             string `yaml:"port"`
	LogLevel         string `yaml:"log_level"`
	DBPath           string `yaml:"db_path"`
	DatabaseURL      string `yaml:"database_url"`
	RedisAddr        string `yaml:"redis_addr"`
	RedisPassword    string `yaml:"redis_password"`
	ActorDirectory   string `yaml:"actor_directory_url"`
	AdvisoryURL      string `yaml:"advisory_url"`
	JWTSecret        string `yaml:"jwt_secret"`
	RateLimitRPS     int    `yaml:"rate_limit_rps"`
	RateLimitBurst   int    `yaml:"rate_limit_burst"`
	LockTTLSeconds   int    `yaml:"lock_ttl_seconds"`
	ActorCacheTTLSec int    `yaml:"actor_cache_ttl_seconds"`
}

// Load reads configuration from environment variables with defaults. When
// AGRITRACE_CONFIG names a YAML file, its values are applied first and the
// environment overrides them.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             "8080",
		LogLevel:         "INFO",
		DBPath:           "agritrace.db",
		RateLimitRPS:     20,
		RateLimitBurst:   40,
		LockTTLSeconds:   30,
		ActorCacheTTLSec: 300,
	}

	if path := os.Getenv("AGRITRACE_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	overrideString(&cfg.Port, "PORT")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")
	overrideString(&cfg.DBPath, "DB_PATH")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.RedisAddr, "REDIS_ADDR")
	overrideString(&cfg.RedisPassword, "REDIS_PASSWORD")
	overrideString(&cfg.ActorDirectory, "ACTOR_DIRECTORY_URL")
	overrideString(&cfg.AdvisoryURL, "ADVISORY_URL")
	overrideString(&cfg.JWTSecret, "JWT_SECRET")
	if err := overrideInt(&cfg.RateLimitRPS, "RATE_LIMIT_RPS"); err != nil {
		return nil, err
	}
	if err := overrideInt(&cfg.RateLimitBurst, "RATE_LIMIT_BURST"); err != nil {
		return nil, err
	}
	if err := overrideInt(&cfg.LockTTLSeconds, "LOCK_TTL_SECONDS"); err != nil {
		return nil, err
	}
	if err := overrideInt(&cfg.ActorCacheTTLSec, "ACTOR_CACHE_TTL_SECONDS"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", key, err)
	}
	*dst = n
	return nil
}
