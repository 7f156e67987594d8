package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultDocumentPath mirrors the layout used by the load-test scripts.
var DefaultDocumentPath = filepath.Join("nosql", "user_data.json")

// FileBackend keeps the credential document in a single JSON file on local disk.
// Writes go to a temp file in the same directory which is then renamed over the target.
type FileBackend struct {
	path string

	// stamp of the last file this process wrote, used to ignore our own writes in Watch
	stampMu  sync.Mutex
	selfSave fileStamp

	watchOnce     sync.Once
	watchDebounce time.Duration
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

// NewFileBackend creates a new file-based storage backend
func NewFileBackend(path string) *FileBackend {
	if path == "" {
		path = DefaultDocumentPath
	}
	return &FileBackend{
		path:          filepath.Clean(path),
		watchDebounce: 300 * time.Millisecond,
	}
}

// Path returns the document location.
func (f *FileBackend) Path() string { return f.path }

func (f *FileBackend) Name() string { return "file" }

func (f *FileBackend) Initialize(ctx context.Context) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if _, err := os.Stat(f.path); err == nil {
		log.WithField("path", f.path).Info("credential document already exists")
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", f.path, err)
	}

	unlock, err := f.lock()
	if err != nil {
		return err
	}
	defer unlock()
	if _, err := os.Stat(f.path); err == nil {
		return nil
	}
	if err := f.writeAtomic([]byte(EmptyDocument)); err != nil {
		return fmt.Errorf("create document %s: %w", f.path, err)
	}
	log.WithField("path", f.path).Info("credential document initialized")
	return nil
}

func (f *FileBackend) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrNotFound{Key: f.path}
		}
		return nil, err
	}
	return data, nil
}

func (f *FileBackend) Save(ctx context.Context, data []byte) error {
	unlock, err := f.lock()
	if err != nil {
		return err
	}
	defer unlock()
	return f.writeAtomic(data)
}

// SaveIf holds an exclusive lock on the sibling .lock file while it compares
// the current document with prev and swaps in data.
func (f *FileBackend) SaveIf(ctx context.Context, prev, data []byte) error {
	unlock, err := f.lock()
	if err != nil {
		return err
	}
	defer unlock()

	cur, err := os.ReadFile(f.path)
	switch {
	case os.IsNotExist(err):
		if prev != nil {
			return ErrConflict
		}
	case err != nil:
		return err
	case prev == nil || !bytes.Equal(cur, prev):
		return ErrConflict
	}
	return f.writeAtomic(data)
}

func (f *FileBackend) Health(ctx context.Context) error {
	_, err := os.Stat(f.path)
	return err
}

func (f *FileBackend) Close() error {
	return nil
}
