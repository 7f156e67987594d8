package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watch invokes onChange (debounced) whenever another writer replaces the document.
// Changes written by this backend are ignored. Watching stops when ctx is done.
func (f *FileBackend) Watch(ctx context.Context, onChange func()) error {
	if onChange == nil {
		return fmt.Errorf("watch callback is required")
	}
	err := fmt.Errorf("file backend %s is already watched", f.path)
	f.watchOnce.Do(func() {
		watcher, werr := fsnotify.NewWatcher()
		if werr != nil {
			err = fmt.Errorf("start file watcher: %w", werr)
			return
		}
		// The directory is watched because atomic replace swaps the inode.
		dir := filepath.Dir(f.path)
		if werr := watcher.Add(dir); werr != nil {
			_ = watcher.Close()
			err = fmt.Errorf("watch %s: %w", dir, werr)
			return
		}
		notify := make(chan struct{}, 1)
		go f.watchLoop(ctx, watcher, notify)
		go f.debounceLoop(ctx, notify, onChange)
		log.WithField("path", f.path).Info("watching credential document for external changes")
		err = nil
	})
	return err
}

func (f *FileBackend) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, notify chan<- struct{}) {
	defer watcher.Close()
	base := filepath.Base(f.path)
	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(evt.Name) != base {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			select {
			case notify <- struct{}{}:
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("credential document watcher error")
		case <-ctx.Done():
			return
		}
	}
}

func (f *FileBackend) debounceLoop(ctx context.Context, notify <-chan struct{}, onChange func()) {
	var timer *time.Timer
	var timerCh <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-notify:
			if timer == nil {
				timer = time.NewTimer(f.watchDebounce)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(f.watchDebounce)
			}
		case <-timerCh:
			timerCh = nil
			timer = nil
			if f.writtenBySelf() {
				continue
			}
			log.WithField("path", f.path).Debug("credential document changed by another writer")
			onChange()
		}
	}
}
