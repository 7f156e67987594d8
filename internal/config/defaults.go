package config

import "path/filepath"

// DefaultValues centralizes all default configuration values
type DefaultValues struct {
	LogLevel  string
	LogFormat string

	StorageBackend string
	StoreFilePath  string
	RedisPrefix    string
	MongoDatabase  string

	AcquireTimeoutMS int
	BackoffMS        int

	SessionUsers     int
	SessionSpawnRate float64
	SessionHoldMS    int

	SampleRatio float64
}

// GetDefaults returns the default configuration values
func GetDefaults() DefaultValues {
	return DefaultValues{
		LogLevel:  "info",
		LogFormat: "json",

		StorageBackend: "file",
		StoreFilePath:  filepath.Join("nosql", "user_data.json"),
		RedisPrefix:    "tokenpool:",
		MongoDatabase:  "tokenpool",

		AcquireTimeoutMS: 10_000,
		BackoffMS:        100,

		SessionUsers:     10,
		SessionSpawnRate: 5,
		SessionHoldMS:    1_000,

		SampleRatio: 1,
	}
}

// Default builds a Config holding only default values.
func Default() *Config {
	d := GetDefaults()
	return &Config{
		Log: LogConfig{Level: d.LogLevel, Format: d.LogFormat},
		Storage: StorageConfig{
			Backend:       d.StorageBackend,
			FilePath:      d.StoreFilePath,
			RedisPrefix:   d.RedisPrefix,
			MongoDatabase: d.MongoDatabase,
		},
		Pool: PoolConfig{
			AcquireTimeoutMS: d.AcquireTimeoutMS,
			BackoffMS:        d.BackoffMS,
		},
		Session: SessionConfig{
			Users:     d.SessionUsers,
			SpawnRate: d.SessionSpawnRate,
			HoldMS:    d.SessionHoldMS,
		},
		Telemetry: TelemetryConfig{SampleRatio: d.SampleRatio},
	}
}
