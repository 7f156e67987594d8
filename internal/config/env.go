package config

import (
	"os"
	"strconv"
	"strings"
)

const envPrefix = "TOKENPOOL_"

func applyEnv(cfg *Config) {
	setStringFromEnv("LOG_LEVEL", &cfg.Log.Level)
	setStringFromEnv("LOG_FORMAT", &cfg.Log.Format)
	setStringFromEnv("LOG_FILE", &cfg.Log.File)
	setToggleFromEnv("DEBUG", func(on bool) {
		if on {
			cfg.Log.Level = "debug"
			cfg.Log.Format = "text"
		}
	})

	if v := getenv("STORAGE_BACKEND", ""); v != "" {
		cfg.Storage.Backend = strings.ToLower(v)
	}
	setStringFromEnv("STORE_PATH", &cfg.Storage.FilePath)
	setStringFromEnv("REDIS_ADDR", &cfg.Storage.RedisAddr)
	setStringFromEnv("REDIS_PASSWORD", &cfg.Storage.RedisPassword)
	setIntFromEnv("REDIS_DB", func(n int) { cfg.Storage.RedisDB = n })
	setStringFromEnv("REDIS_PREFIX", &cfg.Storage.RedisPrefix)
	setStringFromEnv("MONGODB_URI", &cfg.Storage.MongoURI)
	setStringFromEnv("MONGODB_DATABASE", &cfg.Storage.MongoDatabase)
	setStringFromEnv("POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	setToggleFromEnv("STORAGE_INSTRUMENT", func(on bool) { cfg.Storage.Instrument = on })

	setIntFromEnv("ACQUIRE_TIMEOUT_MS", func(n int) { cfg.Pool.AcquireTimeoutMS = n })
	setIntFromEnv("BACKOFF_MS", func(n int) { cfg.Pool.BackoffMS = n })
	setToggleFromEnv("WATCH_STORE", func(on bool) { cfg.Pool.WatchStore = on })

	setIntFromEnv("USERS", func(n int) { cfg.Session.Users = n })
	setIntFromEnv("HOLD_MS", func(n int) { cfg.Session.HoldMS = n })
	if v := getenv("SPAWN_RATE", ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Session.SpawnRate = f
		}
	}

	setStringFromEnv("METRICS_ADDR", &cfg.Telemetry.MetricsAddr)
	setStringFromEnv("OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	setToggleFromEnv("OTLP_INSECURE", func(on bool) { cfg.Telemetry.OTLPInsecure = on })
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		return v
	}
	return def
}

func setStringFromEnv(key string, dst *string) {
	if v := getenv(key, ""); v != "" {
		*dst = v
	}
}

func setIntFromEnv(key string, setter func(int)) {
	if v := getenv(key, ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			setter(n)
		}
	}
}

func setToggleFromEnv(key string, setter func(bool)) {
	switch strings.ToLower(getenv(key, "")) {
	case "1", "true", "yes", "on":
		setter(true)
	case "0", "false", "no", "off":
		setter(false)
	}
}
