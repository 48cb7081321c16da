package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "TALLY"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "tally.db"
	defaultLogLevel        = "info"
	defaultIntervalMinutes = 240
	defaultSkewMinutes     = 60
	defaultKeepCount       = 10
)

// AppConfig captures runtime configuration for the activity tracker.
type AppConfig struct {
	HTTPAddress      string
	DatabasePath     string
	LogLevel         string
	SnapshotInterval time.Duration
	SkewAllowance    time.Duration
	KeepCount        int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("snapshot.interval_minutes", defaultIntervalMinutes)
	configViper.SetDefault("snapshot.skew_minutes", defaultSkewMinutes)
	configViper.SetDefault("snapshot.keep_count", defaultKeepCount)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		SnapshotInterval: time.Duration(configViper.GetInt("snapshot.interval_minutes")) * time.Minute,
		SkewAllowance:    time.Duration(configViper.GetInt("snapshot.skew_minutes")) * time.Minute,
		KeepCount:        configViper.GetInt("snapshot.keep_count"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.SnapshotInterval <= 0 {
		return fmt.Errorf("snapshot.interval_minutes must be positive")
	}
	if c.SkewAllowance < 0 {
		return fmt.Errorf("snapshot.skew_minutes must not be negative")
	}
	if c.KeepCount <= 0 {
		return fmt.Errorf("snapshot.keep_count must be positive")
	}
	return nil
}
