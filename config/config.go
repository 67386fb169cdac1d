/*
Package config loads service settings from the environment.

An optional .env file in the given directory is read first; real
environment variables win over it. Every key has a default so the server
starts with an in-process SQLite database and log-only notifications.
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the savings ledger service.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	SQLitePath     string `mapstructure:"SQLITE_PATH"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`

	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	NotificationExchange       string `mapstructure:"NOTIFICATION_EXCHANGE"`
	NotificationTimeoutSeconds int    `mapstructure:"NOTIFICATION_TIMEOUT_SECONDS"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	ContributionCircle      int `mapstructure:"CONTRIBUTION_CIRCLE"`
	ContributionUnitCeiling int `mapstructure:"CONTRIBUTION_UNIT_CEILING"`

	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var keys = []string{
	"SERVER_PORT",
	"DATABASE_DRIVER",
	"SQLITE_PATH",
	"DATABASE_URL",
	"RABBITMQ_URL",
	"NOTIFICATION_EXCHANGE",
	"NOTIFICATION_TIMEOUT_SECONDS",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"CONTRIBUTION_CIRCLE",
	"CONTRIBUTION_UNIT_CEILING",
	"CORS_ALLOWED_ORIGINS",
}

// LoadConfig reads configuration from path/.env and the environment.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("DATABASE_DRIVER", DriverSQLite)
	viper.SetDefault("SQLITE_PATH", "./data/ledger.db")
	viper.SetDefault("NOTIFICATION_EXCHANGE", "notifications")
	viper.SetDefault("NOTIFICATION_TIMEOUT_SECONDS", 10)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.SetDefault("CONTRIBUTION_CIRCLE", 31)
	viper.SetDefault("CONTRIBUTION_UNIT_CEILING", 30)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	// Bind explicitly so Unmarshal sees variables that have no default.
	for _, key := range keys {
		_ = viper.BindEnv(key)
	}

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return config, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("failed to decode config: %w", err)
	}

	config.DatabaseDriver = strings.ToLower(strings.TrimSpace(config.DatabaseDriver))
	err = config.Validate()
	return config, err
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.ContributionCircle <= 0 {
		return fmt.Errorf("CONTRIBUTION_CIRCLE must be positive, got %d", c.ContributionCircle)
	}
	if c.ContributionUnitCeiling <= 1 {
		return fmt.Errorf("CONTRIBUTION_UNIT_CEILING must be greater than 1, got %d", c.ContributionUnitCeiling)
	}
	return nil
}

func (c Config) NotificationTimeout() time.Duration {
	return time.Duration(c.NotificationTimeoutSeconds) * time.Second
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
