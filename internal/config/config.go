package config

import (
	"time"
)

// Config is the root configuration loaded from file and environment.
type Config struct {
	Log       LogConfig       `yaml:"log" json:"log"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Pool      PoolConfig      `yaml:"pool" json:"pool"`
	Session   SessionConfig   `yaml:"session" json:"session"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// LogConfig controls the logrus setup.
type LogConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=json text"`
	File   string `yaml:"file" json:"file,omitempty"`
}

// StorageConfig selects where the credential document lives.
type StorageConfig struct {
	Backend       string `yaml:"backend" json:"backend" validate:"oneof=file memory redis mongodb postgres"`
	FilePath      string `yaml:"file_path" json:"file_path,omitempty" validate:"required_if=Backend file"`
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr,omitempty" validate:"required_if=Backend redis"`
	RedisPassword string `yaml:"redis_password" json:"redis_password,omitempty"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db,omitempty" validate:"gte=0"`
	RedisPrefix   string `yaml:"redis_prefix" json:"redis_prefix,omitempty"`
	MongoURI      string `yaml:"mongodb_uri" json:"mongodb_uri,omitempty" validate:"required_if=Backend mongodb"`
	MongoDatabase string `yaml:"mongodb_database" json:"mongodb_database,omitempty"`
	PostgresDSN   string `yaml:"postgres_dsn" json:"postgres_dsn,omitempty" validate:"required_if=Backend postgres"`
	Instrument    bool   `yaml:"instrument" json:"instrument"`
}

// PoolConfig tunes TokenPool waiting behaviour.
type PoolConfig struct {
	AcquireTimeoutMS int  `yaml:"acquire_timeout_ms" json:"acquire_timeout_ms" validate:"gt=0"`
	BackoffMS        int  `yaml:"backoff_ms" json:"backoff_ms" validate:"gt=0"`
	WatchStore       bool `yaml:"watch_store" json:"watch_store"`
}

// SessionConfig drives the simulate command.
type SessionConfig struct {
	Users     int     `yaml:"users" json:"users" validate:"gte=0"`
	SpawnRate float64 `yaml:"spawn_rate" json:"spawn_rate" validate:"gt=0"`
	HoldMS    int     `yaml:"hold_ms" json:"hold_ms" validate:"gte=0"`
}

// TelemetryConfig enables the optional metrics listener and OTLP export.
type TelemetryConfig struct {
	MetricsAddr  string  `yaml:"metrics_addr" json:"metrics_addr,omitempty"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint,omitempty"`
	OTLPInsecure bool    `yaml:"otlp_insecure" json:"otlp_insecure"`
	SampleRatio  float64 `yaml:"sample_ratio" json:"sample_ratio" validate:"gte=0,lte=1"`
}

// AcquireTimeout returns the default wait bound for TokenPool.Acquire.
func (p PoolConfig) AcquireTimeout() time.Duration {
	return time.Duration(p.AcquireTimeoutMS) * time.Millisecond
}

// Backoff returns the sleep between unsuccessful acquisition attempts.
func (p PoolConfig) Backoff() time.Duration {
	return time.Duration(p.BackoffMS) * time.Millisecond
}

// Hold returns how long a simulated session keeps its token.
func (s SessionConfig) Hold() time.Duration {
	return time.Duration(s.HoldMS) * time.Millisecond
}
