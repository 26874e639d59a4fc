// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/capital-ledger/logging"
)

const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

type Config struct {
	// HTTP Server
	Port        string
	CORSOrigins []string

	// Storage
	Backend      string
	SQLiteDBPath string

	// Logging
	LogLevel  string
	LogFormat string

	// Drift scheduler
	DriftCheckInterval time.Duration
	DriftAutoRepair    bool

	// AMQP change forwarding, disabled when AMQPURL is empty
	AMQPURL      string
	AMQPExchange string

	// Ledger defaults
	DefaultProfitPercentage string
	Timezone                string
}

func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),

		Backend:      getEnv("LEDGER_BACKEND", BackendSQLite),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "ledger.db"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		DriftCheckInterval: getEnvDuration("DRIFT_CHECK_INTERVAL", time.Hour),
		DriftAutoRepair:    getEnvBool("DRIFT_AUTO_REPAIR", false),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "ledger.changes"),

		DefaultProfitPercentage: getEnv("DEFAULT_PROFIT_PERCENTAGE", "20"),
		Timezone:                getEnv("LEDGER_TIMEZONE", "UTC"),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if c.SQLiteDBPath != ":memory:" {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid backend '%s': must be one of [%s %s]", c.Backend, BackendSQLite, BackendMemory))
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, err.Error())
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	if c.DriftCheckInterval < 0 {
		errors = append(errors, fmt.Sprintf("invalid drift check interval %v: must not be negative", c.DriftCheckInterval))
	} else if c.DriftCheckInterval > 0 && c.DriftCheckInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid drift check interval %v: must be at least 1 second", c.DriftCheckInterval))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if pct, err := decimal.NewFromString(c.DefaultProfitPercentage); err != nil {
		errors = append(errors, fmt.Sprintf("invalid default profit percentage '%s': must be a number", c.DefaultProfitPercentage))
	} else if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		errors = append(errors, fmt.Sprintf("invalid default profit percentage %s: must be between 0 and 100", pct))
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// ProfitPercentage returns the validated default percentage.
func (c *Config) ProfitPercentage() decimal.Decimal {
	pct, err := decimal.NewFromString(c.DefaultProfitPercentage)
	if err != nil {
		return decimal.NewFromInt(20)
	}
	return pct
}

// Location returns the configured time zone, UTC if it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.LogLevel); err == nil {
		cfg.Level = level
	}
	cfg.Format = strings.ToLower(c.LogFormat)
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if value == "0" {
			return 0
		}
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
