package storage

import (
	"context"
	"time"

	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/monitoring"
	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/monitoring/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// WithInstrumentation wraps a backend with tracing spans and prometheus metrics.
func WithInstrumentation(inner Backend) Backend {
	if inner == nil {
		return nil
	}
	if _, ok := inner.(*instrumentedBackend); ok {
		return inner
	}
	return &instrumentedBackend{Backend: inner, label: inner.Name()}
}

type instrumentedBackend struct {
	Backend
	label string
}

func (i *instrumentedBackend) Initialize(ctx context.Context) error {
	return i.instrument(ctx, "initialize", i.Backend.Initialize)
}

func (i *instrumentedBackend) Load(ctx context.Context) ([]byte, error) {
	var result []byte
	err := i.instrument(ctx, "load", func(ctx context.Context) error {
		var innerErr error
		result, innerErr = i.Backend.Load(ctx)
		return innerErr
	})
	return result, err
}

func (i *instrumentedBackend) Save(ctx context.Context, data []byte) error {
	return i.instrument(ctx, "save", func(ctx context.Context) error {
		return i.Backend.Save(ctx, data)
	})
}

func (i *instrumentedBackend) SaveIf(ctx context.Context, prev, data []byte) error {
	return i.instrument(ctx, "save_if", func(ctx context.Context) error {
		return i.Backend.SaveIf(ctx, prev, data)
	})
}

func (i *instrumentedBackend) Health(ctx context.Context) error {
	return i.instrument(ctx, "health", i.Backend.Health)
}

// Watch forwards to the wrapped backend when it supports change notification.
func (i *instrumentedBackend) Watch(ctx context.Context, onChange func()) error {
	w, ok := i.Backend.(Watcher)
	if !ok {
		return &ErrNotSupported{Operation: "Watch"}
	}
	return w.Watch(ctx, onChange)
}

// Unwrap returns the wrapped backend.
func (i *instrumentedBackend) Unwrap() Backend { return i.Backend }

func (i *instrumentedBackend) instrument(ctx context.Context, operation string, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, "storage", i.label+"/"+operation)
	span.SetAttributes(
		attribute.String("storage.backend", i.label),
		attribute.String("storage.operation", operation),
	)
	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	monitoring.RecordStorageOperation(i.label, operation, duration, err)
	return err
}
