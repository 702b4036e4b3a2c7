// Package config loads the engine configuration from YAML with environment
// variable overrides for deployment settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/studifi/finance_layer/pkg/logger"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	IdleTimeoutSec  int    `yaml:"idle_timeout_sec"`
}

// DatabaseConfig selects the persistence backend. Driver "memory" runs
// without external dependencies; "postgres" requires a DSN.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// FinanceConfig carries the servicing parameters.
type FinanceConfig struct {
	DefaultAfterDays   uint32 `yaml:"default_after_days"`
	ReminderDays       uint32 `yaml:"reminder_days"`
	MinSeasoningMonths uint32 `yaml:"min_seasoning_months"`
	SweepSchedule      string `yaml:"sweep_schedule"`
}

// RateLimitConfig bounds per-caller request rates.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Database  DatabaseConfig       `yaml:"database"`
	Logging   logger.LoggingConfig `yaml:"logging"`
	Admins    []string             `yaml:"admins"`
	Finance   FinanceConfig        `yaml:"finance"`
	RateLimit RateLimitConfig      `yaml:"rate_limit"`
	AuditPath string               `yaml:"audit_path"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeoutSec:  30,
			WriteTimeoutSec: 30,
			IdleTimeoutSec:  120,
		},
		Database: DatabaseConfig{Driver: "memory"},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Finance: FinanceConfig{
			DefaultAfterDays:   90,
			ReminderDays:       7,
			MinSeasoningMonths: 12,
			SweepSchedule:      "@every 1h",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
	}
}

// Load reads the configuration from path. A missing file is not an error;
// defaults apply. Environment overrides are applied last.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database driver postgres requires a dsn")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit values must not be negative")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FINANCE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
		if os.Getenv("DATABASE_DRIVER") == "" {
			cfg.Database.Driver = "postgres"
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("FINANCE_ADMINS"); v != "" {
		cfg.Admins = splitList(v)
	}
	if v := os.Getenv("SWEEP_SCHEDULE"); v != "" {
		cfg.Finance.SweepSchedule = v
	}
	if v := os.Getenv("AUDIT_PATH"); v != "" {
		cfg.AuditPath = v
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.RequestsPerSecond = n
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
