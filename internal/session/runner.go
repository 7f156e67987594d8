package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/monitoring"
	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/pool"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Session is one simulated user holding a credential.
type Session struct {
	ID    string
	Index int
	Token pool.Token
}

// Task is the simulated work performed while a session holds its credential.
type Task func(ctx context.Context, s Session) error

// Options configures a Runner.
type Options struct {
	Users          int
	SpawnRate      float64 // sessions started per second
	AcquireTimeout time.Duration
}

// Report summarizes a run. Skipped sessions never obtained a credential.
type Report struct {
	Started   int64         `json:"started"`
	Completed int64         `json:"completed"`
	Failed    int64         `json:"failed"`
	Skipped   int64         `json:"skipped"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Runner spawns sessions against a shared pool.
type Runner struct {
	pool *pool.Pool
	opts Options
}

// NewRunner builds a runner. SpawnRate <= 0 starts every session at once.
func NewRunner(p *pool.Pool, opts Options) *Runner {
	return &Runner{pool: p, opts: opts}
}

type counters struct {
	started, completed, failed, skipped atomic.Int64
}

// Run starts Users sessions at SpawnRate and waits for all of them. A failing
// or panicking task only affects its own session. Run returns early with the
// context error if ctx ends while sessions are still being spawned; sessions
// already started are waited for.
func (r *Runner) Run(ctx context.Context, task Task) (Report, error) {
	start := time.Now()
	limit := rate.Inf
	if r.opts.SpawnRate > 0 {
		limit = rate.Limit(r.opts.SpawnRate)
	}
	limiter := rate.NewLimiter(limit, 1)

	var c counters
	var g errgroup.Group
	var spawnErr error
	for i := 0; i < r.opts.Users; i++ {
		if err := limiter.Wait(ctx); err != nil {
			spawnErr = fmt.Errorf("spawn session %d: %w", i, err)
			break
		}
		i := i
		g.Go(func() error {
			r.runOne(ctx, i, task, &c)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{
		Started:   c.started.Load(),
		Completed: c.completed.Load(),
		Failed:    c.failed.Load(),
		Skipped:   c.skipped.Load(),
		Elapsed:   time.Since(start),
	}
	log.WithFields(log.Fields{
		"started":   rep.Started,
		"completed": rep.Completed,
		"failed":    rep.Failed,
		"skipped":   rep.Skipped,
		"elapsed":   rep.Elapsed,
	}).Info("session run finished")
	return rep, spawnErr
}

func (r *Runner) runOne(ctx context.Context, index int, task Task, c *counters) {
	id := uuid.NewString()
	entry := log.WithFields(log.Fields{"session": id, "index": index})
	c.started.Add(1)

	acquired := false
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("session panicked: %v", p)
			}
		}()
		return pool.WithToken(ctx, r.pool, r.opts.AcquireTimeout, func(ctx context.Context, tok pool.Token) error {
			acquired = true
			entry.WithField("username", tok.Username).Debug("session started")
			return task(ctx, Session{ID: id, Index: index, Token: tok})
		})
	}()

	switch {
	case !acquired:
		c.skipped.Add(1)
		monitoring.SessionsTotal.WithLabelValues("skipped").Inc()
		if errors.Is(err, pool.ErrAcquireTimeout) {
			entry.Warn("session skipped: no free credential")
		} else {
			entry.WithError(err).Warn("session skipped")
		}
	case err != nil:
		c.failed.Add(1)
		monitoring.SessionsTotal.WithLabelValues("failed").Inc()
		entry.WithError(err).Warn("session failed")
	default:
		c.completed.Add(1)
		monitoring.SessionsTotal.WithLabelValues("completed").Inc()
		entry.Debug("session completed")
	}
}

// Hold returns a Task that keeps the credential for d, or until ctx ends.
func Hold(d time.Duration) Task {
	return func(ctx context.Context, _ Session) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
