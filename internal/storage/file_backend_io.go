package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeAtomic writes data to a sibling temp file and renames it over the document.
// rename(2) within one directory is atomic, so readers never see a truncated file.
func (f *FileBackend) writeAtomic(data []byte) error {
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", f.path, err)
	}

	if info, err := os.Stat(f.path); err == nil {
		f.stampMu.Lock()
		f.selfSave = fileStamp{modTime: info.ModTime(), size: info.Size()}
		f.stampMu.Unlock()
	}
	return nil
}

// writtenBySelf reports whether the document on disk is the one this process last saved.
func (f *FileBackend) writtenBySelf() bool {
	info, err := os.Stat(f.path)
	if err != nil {
		return false
	}
	f.stampMu.Lock()
	defer f.stampMu.Unlock()
	return info.ModTime().Equal(f.selfSave.modTime) && info.Size() == f.selfSave.size
}
