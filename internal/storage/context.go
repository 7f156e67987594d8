package storage

import (
	"context"
	"time"
)

const defaultStorageTimeout = 5 * time.Second

// withStorageTimeout adds a default timeout to a context if one doesn't already exist
func withStorageTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultStorageTimeout
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
