package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/credential"
	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/events"
	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/monitoring"
	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/monitoring/tracing"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultBackoff = 100 * time.Millisecond
)

// Store is the part of credential.Store the pool needs.
type Store interface {
	GetAll(ctx context.Context) (map[string]credential.Record, error)
	Occupy(ctx context.Context, username string) (credential.Record, error)
	Vacate(ctx context.Context, username string) (credential.Record, error)
}

// Options configures a Pool. Zero values select the defaults.
type Options struct {
	DefaultTimeout time.Duration
	Backoff        time.Duration
	// Rand drives candidate selection; seed it for reproducible draws.
	Rand      *rand.Rand
	Publisher events.Publisher
}

// Token is a claimed credential.
type Token struct {
	Username string
	Value    string
}

// Pool hands out exclusively held credentials. One Pool per store per process;
// share it by reference.
type Pool struct {
	store     Store
	timeout   time.Duration
	backoff   time.Duration
	publisher events.Publisher

	mu        sync.Mutex // covers select, verify, claim and set removal as one step
	available map[string]struct{}
	rng       *rand.Rand
}

// New builds a pool over store. The free set starts empty and is filled from
// the store on the first Acquire.
func New(store Store, opts Options) *Pool {
	p := &Pool{
		store:     store,
		timeout:   opts.DefaultTimeout,
		backoff:   opts.Backoff,
		publisher: opts.Publisher,
		available: make(map[string]struct{}),
		rng:       opts.Rand,
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	if p.backoff <= 0 {
		p.backoff = DefaultBackoff
	}
	if p.publisher == nil {
		p.publisher = events.Nop{}
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p
}

// attempt is the outcome of one pass under the pool lock.
type attempt struct {
	token     Token
	ok        bool
	refreshed bool
	free      int
}

// Acquire claims a free, tokenized credential, waiting up to timeout
// (the pool default when timeout <= 0). On failure nothing has been claimed.
// It returns ErrAcquireTimeout when the wait bound passes, or the context
// error when ctx is cancelled first.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (Token, error) {
	if timeout <= 0 {
		timeout = p.timeout
	}
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "pool", "acquire")
	defer span.End()

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		res := p.tryAcquire(ctx)
		if res.refreshed {
			p.publisher.Publish(ctx, events.TopicPoolRefreshed, nil, map[string]string{"free": strconv.Itoa(res.free)})
		}
		if res.ok {
			waited := time.Since(start)
			monitoring.PoolAcquireTotal.WithLabelValues("ok").Inc()
			monitoring.PoolAcquireWait.Observe(waited.Seconds())
			span.SetAttributes(attribute.String("credential.username", res.token.Username))
			log.WithFields(log.Fields{"username": res.token.Username, "waited": waited}).Debug("credential acquired")
			p.publisher.Publish(ctx, events.TopicTokenAcquired, res.token.Username, map[string]string{"username": res.token.Username})
			return res.token, nil
		}

		timer := time.NewTimer(p.backoff)
		select {
		case <-timer.C:
			continue
		case <-ctx.Done():
			timer.Stop()
		}

		waited := time.Since(start)
		monitoring.PoolAcquireWait.Observe(waited.Seconds())
		if err := parent.Err(); err != nil {
			monitoring.PoolAcquireTotal.WithLabelValues("cancelled").Inc()
			span.SetStatus(codes.Error, err.Error())
			return Token{}, fmt.Errorf("acquire credential: %w", err)
		}
		monitoring.PoolAcquireTotal.WithLabelValues("timeout").Inc()
		span.SetStatus(codes.Error, ErrAcquireTimeout.Error())
		log.WithField("timeout", timeout).Error("no free credential before timeout")
		p.publisher.Publish(parent, events.TopicTokenTimeout, nil, map[string]string{"timeout": timeout.String()})
		return Token{}, fmt.Errorf("%w after %s", ErrAcquireTimeout, timeout)
	}
}

func (p *Pool) tryAcquire(ctx context.Context) attempt {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tok, ok := p.claimLocked(ctx); ok {
		return attempt{token: tok, ok: true}
	}
	if ctx.Err() != nil {
		return attempt{}
	}

	free := p.refreshLocked(ctx)
	tok, ok := p.claimLocked(ctx)
	return attempt{token: tok, ok: ok, refreshed: true, free: free}
}

// claimLocked draws candidates uniformly at random until one is claimed or the
// set is exhausted. Every drawn candidate leaves the set, claimed or not.
// ctx is checked before each claim, but the claim itself is not cancellable:
// a write that lands after the deadline must still be reported as a claim.
func (p *Pool) claimLocked(ctx context.Context) (Token, bool) {
	defer func() { monitoring.PoolAvailable.Set(float64(len(p.available))) }()

	claimCtx := context.WithoutCancel(ctx)
	candidates := p.sortedLocked()
	for len(candidates) > 0 && ctx.Err() == nil {
		i := p.rng.Intn(len(candidates))
		username := candidates[i]
		candidates[i] = candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]
		delete(p.available, username)

		rec, err := p.store.Occupy(claimCtx, username)
		if err != nil {
			monitoring.PoolClaimConflicts.Inc()
			log.WithError(err).WithField("username", username).Debug("candidate could not be claimed")
			continue
		}
		return Token{Username: rec.Username, Value: rec.Token}, true
	}
	return Token{}, false
}

// refreshLocked replaces the free set with every unoccupied, tokenized record.
// A store fault reads as an empty store.
func (p *Pool) refreshLocked(ctx context.Context) int {
	all, err := p.store.GetAll(ctx)
	if err != nil {
		log.WithError(err).Warn("credential store unavailable during refresh")
	}

	fresh := make(map[string]struct{}, len(all))
	for username, rec := range all {
		if rec.Occupied {
			continue
		}
		if rec.IsDirty() {
			monitoring.DirtyRecordsTotal.Inc()
			log.WithField("username", username).Warn("skipping credential without token")
			continue
		}
		fresh[username] = struct{}{}
	}
	p.available = fresh
	monitoring.PoolRefreshTotal.Inc()
	monitoring.PoolAvailable.Set(float64(len(fresh)))
	return len(fresh)
}

// Release frees a claimed credential and makes it immediately available again.
// It returns ErrReleaseOfUnknown, without mutating anything, when the username
// is absent or already free. Release is not cancellable.
func (p *Pool) Release(ctx context.Context, username string) error {
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracing.StartSpan(ctx, "pool", "release")
	defer span.End()
	span.SetAttributes(attribute.String("credential.username", username))

	p.mu.Lock()
	_, err := p.store.Vacate(ctx, username)
	if err == nil {
		p.available[username] = struct{}{}
		monitoring.PoolAvailable.Set(float64(len(p.available)))
	}
	p.mu.Unlock()

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, credential.ErrNotFound) || errors.Is(err, credential.ErrNotOccupied) {
			monitoring.PoolReleaseTotal.WithLabelValues("unknown").Inc()
			log.WithError(err).WithField("username", username).Warn("release of unknown or free credential")
			return fmt.Errorf("%w: %s: %w", ErrReleaseOfUnknown, username, err)
		}
		monitoring.PoolReleaseTotal.WithLabelValues("error").Inc()
		log.WithError(err).WithField("username", username).Error("credential release failed")
		return fmt.Errorf("release %s: %w", username, err)
	}

	monitoring.PoolReleaseTotal.WithLabelValues("ok").Inc()
	log.WithField("username", username).Debug("credential released")
	p.publisher.Publish(ctx, events.TopicTokenReleased, username, map[string]string{"username": username})
	return nil
}

// Clear empties the cached free set; the next Acquire rebuilds it from the store.
func (p *Pool) Clear() {
	p.mu.Lock()
	p.available = make(map[string]struct{})
	p.mu.Unlock()
	monitoring.PoolAvailable.Set(0)
}

// Available returns a sorted snapshot of the cached free set.
func (p *Pool) Available() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sortedLocked()
}

func (p *Pool) sortedLocked() []string {
	out := make([]string, 0, len(p.available))
	for username := range p.available {
		out = append(out, username)
	}
	sort.Strings(out)
	return out
}
