// Package config loads server configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level server configuration.
type Config struct {
	// ListenAddr is the address the Connect server binds to.
	ListenAddr string `mapstructure:"listen_addr"`

	// DBPath is the SQLite database file path.
	DBPath string `mapstructure:"db_path"`

	// JWTSecret signs and verifies session tokens. Must be set in
	// production; the default exists for local development only.
	JWTSecret string `mapstructure:"jwt_secret"`

	// TokenTTLHours is how long issued tokens stay valid.
	TokenTTLHours int `mapstructure:"token_ttl_hours"`

	// RolloverCheckSec is the day-boundary detector's interval.
	RolloverCheckSec int `mapstructure:"rollover_check_sec"`

	// RetryDelayMs is the fixed pause before the single automatic write
	// retry.
	RetryDelayMs int `mapstructure:"retry_delay_ms"`
}

// TokenTTL returns the token lifetime as a duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

// RolloverInterval returns the detector interval as a duration.
func (c *Config) RolloverInterval() time.Duration {
	return time.Duration(c.RolloverCheckSec) * time.Second
}

// RetryDelay returns the write retry delay as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

func defaults() *Config {
	return &Config{
		ListenAddr:       ":8080",
		DBPath:           "./data/records.db",
		JWTSecret:        "dev-secret-change-me",
		TokenTTLHours:    24,
		RolloverCheckSec: 60,
		RetryDelayMs:     2000,
	}
}

// Load reads configuration from the given YAML file path using Viper.
// A missing file is not an error: defaults apply, and every key can still
// be overridden through DOSETRACK_* environment variables
// (e.g. DOSETRACK_DB_PATH).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("dosetrack")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaults()
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("db_path", def.DBPath)
	v.SetDefault("jwt_secret", def.JWTSecret)
	v.SetDefault("token_ttl_hours", def.TokenTTLHours)
	v.SetDefault("rollover_check_sec", def.RolloverCheckSec)
	v.SetDefault("retry_delay_ms", def.RetryDelayMs)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
