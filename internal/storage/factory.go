package storage

import (
	"fmt"

	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/config"
)

// Open constructs the backend selected by cfg. The backend is not yet
// initialized; callers run Initialize before the first Load.
func Open(cfg config.StorageConfig) (Backend, error) {
	var b Backend
	switch cfg.Backend {
	case "", "file":
		b = NewFileBackend(cfg.FilePath)
	case "memory":
		b = NewMemoryBackend()
	case "redis":
		rb, err := NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		b = rb
	case "mongodb":
		mb, err := NewMongoDBBackend(cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		b = mb
	case "postgres":
		pb, err := NewPostgresBackend(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		b = pb
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}

	if cfg.Instrument {
		b = WithInstrumentation(b)
	}
	return b, nil
}
