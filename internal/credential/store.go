package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/storage"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

// Options configures a Store.
type Options struct {
	// Now overrides the clock used for login_time/update_time.
	Now func() time.Time
}

// Store is the durable table of credentials. Build one per process with
// NewStore and share it; all mutations go through a single write lock and
// rewrite the whole document.
type Store struct {
	backend storage.Backend
	now     func() time.Time

	mu sync.Mutex // serializes read-modify-write of the document
}

// NewStore wraps backend. Call Init before first use.
func NewStore(backend storage.Backend, opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{backend: backend, now: now}
}

// Backend returns the underlying document backend.
func (s *Store) Backend() storage.Backend { return s.backend }

// Init makes sure the backing document exists. Safe to call repeatedly.
func (s *Store) Init(ctx context.Context) error {
	if err := s.backend.Initialize(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// GetAll returns an independent snapshot of every decodable record. On
// ErrStoreUnavailable the returned map is empty rather than nil.
func (s *Store) GetAll(ctx context.Context) (map[string]Record, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return map[string]Record{}, err
	}
	out := make(map[string]Record, len(doc))
	for username, raw := range doc {
		rec, err := decodeRecord(username, raw)
		if err != nil {
			log.WithError(err).WithField("username", username).Warn("skipping corrupt credential record")
			continue
		}
		out[username] = rec
	}
	return out, nil
}

// Get returns one record.
func (s *Store) Get(ctx context.Context, username string) (Record, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return Record{}, err
	}
	return doc.record(username)
}

// GetByToken returns every record whose token equals token.
func (s *Store) GetByToken(ctx context.Context, token string) (map[string]Record, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return all, err
	}
	out := make(map[string]Record)
	for username, rec := range all {
		if rec.Token == token {
			out[username] = rec
		}
	}
	return out, nil
}

// Exists reports whether username has a record. Store faults read as false.
func (s *Store) Exists(ctx context.Context, username string) bool {
	if username == "" {
		return false
	}
	doc, err := s.load(ctx)
	if err != nil {
		return false
	}
	_, ok := doc[username]
	return ok
}

// TokenOf returns the stored token for username.
func (s *Store) TokenOf(ctx context.Context, username string) (string, error) {
	rec, err := s.Get(ctx, username)
	if err != nil {
		return "", err
	}
	return rec.Token, nil
}

// Insert upserts a credential after a successful login. A new record starts
// free with login_time set to now. For an existing record the password and
// token are replaced, the occupancy flag and login_time are kept (login_time
// is filled in only if it was never set).
func (s *Store) Insert(ctx context.Context, username, password, token string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("%w: empty username", ErrInvalidValue)
	}
	err := s.mutate(ctx, func(doc document, now time.Time) error {
		rec := Record{Username: username, Password: password, Token: token, UpdateTime: now}
		if _, ok := doc[username]; ok {
			prev, err := doc.record(username)
			if err != nil {
				log.WithError(err).WithField("username", username).Warn("replacing corrupt credential record")
			} else {
				rec.Occupied = prev.Occupied
				rec.LoginTime = prev.LoginTime
				rec.UpdateTime = nextUpdateTime(prev.UpdateTime, now)
			}
		}
		if rec.LoginTime == nil {
			t := now
			rec.LoginTime = &t
		}
		return doc.put(rec)
	})
	if err != nil {
		return err
	}
	log.WithField("username", username).Info("credential inserted")
	return nil
}

// Update replaces password, token and occupancy of an existing record,
// keeping login_time.
func (s *Store) Update(ctx context.Context, username string, meta Meta) error {
	return s.mutate(ctx, func(doc document, now time.Time) error {
		prev, err := doc.record(username)
		if err != nil {
			return err
		}
		next := prev
		next.Password = meta.Password
		next.Token = meta.Token
		next.Occupied = meta.Occupied
		next.UpdateTime = nextUpdateTime(prev.UpdateTime, now)
		return doc.put(next)
	})
}

// UpdateField patches a single field. Only password, Authorization and
// is_occupancy may change; login_time is immutable. Other keys in the stored
// record are left untouched.
func (s *Store) UpdateField(ctx context.Context, username, field string, value any) error {
	if err := checkField(field, value); err != nil {
		return err
	}
	return s.mutate(ctx, func(doc document, now time.Time) error {
		prev, err := doc.record(username)
		if err != nil {
			return err
		}
		patched, err := sjson.SetBytes(doc[username], field, value)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		patched, err = sjson.SetBytes(patched, FieldUpdateTime, formatTime(nextUpdateTime(prev.UpdateTime, now)))
		if err != nil {
			return err
		}
		doc[username] = patched
		return nil
	})
}

func checkField(field string, value any) error {
	switch field {
	case FieldPassword, FieldToken:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%w: %s expects a string, got %T", ErrInvalidValue, field, value)
		}
	case FieldOccupied:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%w: %s expects a bool, got %T", ErrInvalidValue, field, value)
		}
	case FieldLoginTime:
		return fmt.Errorf("%w: %s", ErrImmutableField, field)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

// Delete removes a free record. Occupied records are refused with ErrOccupied.
// Corrupt records can always be deleted.
func (s *Store) Delete(ctx context.Context, username string) error {
	err := s.mutate(ctx, func(doc document, _ time.Time) error {
		if _, ok := doc[username]; !ok {
			return ErrNotFound
		}
		if rec, err := doc.record(username); err == nil && rec.Occupied {
			return ErrOccupied
		}
		delete(doc, username)
		return nil
	})
	switch {
	case errors.Is(err, ErrNotFound):
		log.WithField("username", username).Warn("delete of unknown credential")
	case err == nil:
		log.WithField("username", username).Info("credential deleted")
	}
	return err
}

// Occupy atomically marks a free, tokenized record as checked out and returns
// it. It fails with ErrNotFound, ErrOccupied, ErrDirtyRecord or ErrCorruptRecord
// without writing anything.
func (s *Store) Occupy(ctx context.Context, username string) (Record, error) {
	var claimed Record
	err := s.mutate(ctx, func(doc document, now time.Time) error {
		rec, err := doc.record(username)
		if err != nil {
			return err
		}
		if rec.Occupied {
			return ErrOccupied
		}
		if rec.IsDirty() {
			return ErrDirtyRecord
		}
		rec.Occupied = true
		rec.UpdateTime = nextUpdateTime(rec.UpdateTime, now)
		claimed = rec
		return doc.put(rec)
	})
	return claimed, err
}

// Vacate atomically marks an occupied record as free. It fails with
// ErrNotFound or ErrNotOccupied without writing anything.
func (s *Store) Vacate(ctx context.Context, username string) (Record, error) {
	var freed Record
	err := s.mutate(ctx, func(doc document, now time.Time) error {
		rec, err := doc.record(username)
		if err != nil {
			return err
		}
		if !rec.Occupied {
			return ErrNotOccupied
		}
		rec.Occupied = false
		rec.UpdateTime = nextUpdateTime(rec.UpdateTime, now)
		freed = rec
		return doc.put(rec)
	})
	return freed, err
}

func (s *Store) load(ctx context.Context) (document, error) {
	data, err := s.backend.Load(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		log.WithError(err).Warn("credential document unreadable")
		return nil, err
	}
	doc, err := decodeDocument(data)
	if err != nil {
		log.WithError(err).Warn("credential document unreadable")
		return nil, err
	}
	return doc, nil
}

// maxMutateAttempts bounds how often mutate retries after another writer
// changed the document between its load and its conditional save.
const maxMutateAttempts = 20

// mutate runs fn against the current document and saves the result with a
// compare-and-swap, so writers in other processes sharing the backend cannot
// interleave. On conflict fn runs again against a fresh copy. Nothing is
// written when fn fails. A missing document is treated as empty; an
// unparsable one is never overwritten.
func (s *Store) mutate(ctx context.Context, fn func(doc document, now time.Time) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 1; ; attempt++ {
		data, err := s.backend.Load(ctx)
		var doc document
		var notFound *storage.ErrNotFound
		switch {
		case errors.As(err, &notFound):
			doc, data = make(document), nil
		case err != nil:
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		default:
			if doc, err = decodeDocument(data); err != nil {
				return err
			}
		}

		if err := fn(doc, s.now()); err != nil {
			return err
		}

		out, err := encodeDocument(doc)
		if err != nil {
			return fmt.Errorf("encode credential document: %w", err)
		}
		err = s.backend.SaveIf(ctx, data, out)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConflict) || attempt == maxMutateAttempts {
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		log.WithField("attempt", attempt).Debug("credential document changed concurrently, retrying")

		wait := time.NewTimer(time.Duration(attempt) * time.Millisecond)
		select {
		case <-wait.C:
		case <-ctx.Done():
			wait.Stop()
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, ctx.Err())
		}
	}
}

// Export returns the raw document, for backups.
func (s *Store) Export(ctx context.Context) ([]byte, error) {
	data, err := s.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return data, nil
}

// Import replaces the whole document with data after checking that it is a
// JSON object. Records that fail to decode are imported as-is and reported in
// the returned list; readers will skip them.
func (s *Store) Import(ctx context.Context, data []byte) ([]string, error) {
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, err
	}
	var corrupt []string
	for _, username := range doc.usernames() {
		if _, err := doc.record(username); err != nil {
			corrupt = append(corrupt, username)
		}
	}
	out, err := encodeDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("encode credential document: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Save(ctx, out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	log.WithFields(log.Fields{"records": len(doc), "corrupt": len(corrupt)}).Info("credential document imported")
	return corrupt, nil
}
