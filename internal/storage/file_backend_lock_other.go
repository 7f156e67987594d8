//go:build !unix

package storage

import "sync"

var fileLocks sync.Map // path -> *sync.Mutex

// lock only serializes writers inside this process on platforms without flock.
func (f *FileBackend) lock() (func(), error) {
	v, _ := fileLocks.LoadOrStore(f.path, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock, nil
}
