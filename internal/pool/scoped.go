package pool

import (
	"context"
	"time"

	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/events"
	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/storage"
	log "github.com/sirupsen/logrus"
)

// WithToken acquires a credential, runs fn with it, and releases it on every
// exit path, panics included.
func WithToken(ctx context.Context, p *Pool, timeout time.Duration, fn func(context.Context, Token) error) error {
	tok, err := p.Acquire(ctx, timeout)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Release(context.WithoutCancel(ctx), tok.Username); err != nil {
			log.WithError(err).WithField("username", tok.Username).Warn("scoped release failed")
		}
	}()
	return fn(ctx, tok)
}

// WatchStore clears the free set whenever w reports that another writer
// changed the document. It returns once the watch is registered.
func (p *Pool) WatchStore(ctx context.Context, w storage.Watcher) error {
	return w.Watch(ctx, func() {
		p.Clear()
		log.Info("credential document changed externally, free set cleared")
		p.publisher.Publish(ctx, events.TopicStoreChanged, nil, nil)
	})
}
