package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores the credential document under a single Redis string key.
// SET replaces the value atomically so readers never observe a partial document.
type RedisBackend struct {
	client *redis.Client
	key    string
}

// NewRedisBackend creates a new Redis storage backend
func NewRedisBackend(addr, password string, db int, prefix string) (*RedisBackend, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if prefix == "" {
		prefix = "tokenpool:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	return &RedisBackend{
		client: client,
		key:    prefix + "credentials",
	}, nil
}

func (r *RedisBackend) Name() string { return "redis" }

// Initialize tests the connection and seeds an empty document if the key is missing
func (r *RedisBackend) Initialize(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	if err := r.client.SetNX(ctx, r.key, EmptyDocument, 0).Err(); err != nil {
		return fmt.Errorf("failed to seed %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisBackend) Load(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &ErrNotFound{Key: r.key}
		}
		return nil, err
	}
	return data, nil
}

func (r *RedisBackend) Save(ctx context.Context, data []byte) error {
	return r.client.Set(ctx, r.key, data, 0).Err()
}

// SaveIf runs the compare and the SET inside WATCH/MULTI, so a concurrent
// writer aborts the transaction.
func (r *RedisBackend) SaveIf(ctx context.Context, prev, data []byte) error {
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, r.key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if prev != nil {
				return ErrConflict
			}
		case err != nil:
			return err
		case prev == nil || !bytes.Equal(cur, prev):
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.key, data, 0)
			return nil
		})
		return err
	}, r.key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

// Health checks redis availability
func (r *RedisBackend) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes Redis connection
func (r *RedisBackend) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
