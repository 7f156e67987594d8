package storage

import (
	"context"
	"errors"
)

// EmptyDocument is the body written when a backend is initialized without data.
const EmptyDocument = "{}"

// Backend persists the credential table as one opaque document.
// Save must replace the document atomically: a concurrent Load observes either
// the previous or the next version, never a partial write.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Initialize creates an empty document when none exists. It is idempotent.
	Initialize(ctx context.Context) error

	// Load returns the current document body.
	Load(ctx context.Context) ([]byte, error)

	// Save replaces the whole document body.
	Save(ctx context.Context, data []byte) error

	// SaveIf replaces the document only while it still equals prev. A nil
	// prev means the document must not exist yet. It returns ErrConflict when
	// another writer changed the document since prev was loaded.
	SaveIf(ctx context.Context, prev, data []byte) error

	// Health checks if the storage backend is reachable
	Health(ctx context.Context) error

	// Close releases connections held by the backend
	Close() error
}

// Watcher is implemented by backends that can report changes made to the
// document by other writers.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// ErrConflict is returned by SaveIf when the stored document no longer matches.
var ErrConflict = errors.New("credential document changed by another writer")

// ErrNotFound is returned when the document does not exist
type ErrNotFound struct {
	Key string
}

func (e *ErrNotFound) Error() string {
	return "document not found: " + e.Key
}

// ErrNotSupported is returned when an operation is not supported
type ErrNotSupported struct {
	Operation string
}

func (e *ErrNotSupported) Error() string {
	return "operation not supported: " + e.Operation
}
