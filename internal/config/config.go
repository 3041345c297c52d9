// Package config loads the engine configuration with viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers
const (
	DriverSQLite    = "sqlite"
	DriverFirestore = "firestore"
)

// Config is the full process configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Log      LogConfig      `mapstructure:"log"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Firebase FirebaseConfig `mapstructure:"firebase"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type AppConfig struct {
	Name   string `mapstructure:"name"`
	UserID string `mapstructure:"user_id"`
	// Timezone used for schedule windows, e.g. "Europe/Lisbon"
	Timezone string `mapstructure:"timezone"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	// File enables rotated file output when set
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type NATSConfig struct {
	URLs           []string      `mapstructure:"urls"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ConnectRetries int           `mapstructure:"connect_retries"`
}

type StorageConfig struct {
	Driver         string        `mapstructure:"driver"`
	SQLitePath     string        `mapstructure:"sqlite_path"`
	AlertRetention time.Duration `mapstructure:"alert_retention"`
	RetentionSpec  string        `mapstructure:"retention_spec"`
}

type FirebaseConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
	// Push sends FCM notifications to linked monitors
	Push bool `mapstructure:"push"`
}

type MonitorConfig struct {
	LocationInterval     time.Duration `mapstructure:"location_interval"`
	LocationMinInterval  time.Duration `mapstructure:"location_min_interval"`
	MotionSamplingPeriod time.Duration `mapstructure:"motion_sampling_period"`
	InboxSize            int           `mapstructure:"inbox_size"`
	PersistTimeout       time.Duration `mapstructure:"persist_timeout"`
	LoadTimeout          time.Duration `mapstructure:"load_timeout"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	NotificationQueue    int           `mapstructure:"notification_queue"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// SetDefaults registers the default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "safewatch")
	v.SetDefault("app.user_id", "")
	v.SetDefault("app.timezone", "Local")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)

	v.SetDefault("nats.urls", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.connect_retries", 5)

	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite_path", "./data/safewatch.db")
	v.SetDefault("storage.alert_retention", 90*24*time.Hour)
	v.SetDefault("storage.retention_spec", "0 30 3 * * *")

	v.SetDefault("firebase.project_id", "")
	v.SetDefault("firebase.credentials_file", "")
	v.SetDefault("firebase.push", true)

	v.SetDefault("monitor.location_interval", 5*time.Second)
	v.SetDefault("monitor.location_min_interval", 3*time.Second)
	v.SetDefault("monitor.motion_sampling_period", 60*time.Millisecond)
	v.SetDefault("monitor.inbox_size", 64)
	v.SetDefault("monitor.persist_timeout", 15*time.Second)
	v.SetDefault("monitor.load_timeout", 10*time.Second)
	v.SetDefault("monitor.heartbeat_interval", 30*time.Second)
	v.SetDefault("monitor.notification_queue", 32)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", ":9102")
}

// Load reads config.yaml from the given directories, applies SAFEWATCH_
// environment overrides and validates the result. A missing file is not an
// error.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("SAFEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the engine cannot run without
func (c *Config) Validate() error {
	if c.App.UserID == "" {
		return errors.New("app.user_id is required")
	}
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite driver")
		}
	case DriverFirestore:
		if c.Firebase.ProjectID == "" {
			return errors.New("firebase.project_id is required for the firestore driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls must not be empty")
	}
	if c.Monitor.HeartbeatInterval <= 0 {
		return errors.New("monitor.heartbeat_interval must be positive")
	}
	return nil
}

// Location returns the time zone of schedule windows
func (c *Config) Location() (*time.Location, error) {
	if c.App.Timezone == "" || c.App.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid app.timezone: %w", err)
	}
	return loc, nil
}
