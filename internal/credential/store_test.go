package credential

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JunkingBoy/GeneralPerformanceTestTools/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *storage.MemoryBackend, *stepClock) {
	t.Helper()
	clock := &stepClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	backend := storage.NewMemoryBackend()
	store := NewStore(backend, Options{Now: clock.Now})
	require.NoError(t, store.Init(context.Background()))
	return store, backend, clock
}

func TestInsertThenGet(t *testing.T) {
	ctx := context.Background()
	store, _, clock := newTestStore(t)

	require.NoError(t, store.Insert(ctx, "alice", "pw1", "tok1"))

	rec, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "alice", rec.Username)
	require.Equal(t, "pw1", rec.Password)
	require.Equal(t, "tok1", rec.Token)
	require.False(t, rec.Occupied)
	require.NotNil(t, rec.LoginTime)
	require.True(t, rec.LoginTime.Equal(clock.Now()))
	require.True(t, rec.UpdateTime.Equal(clock.Now()))
}

func TestUpdatePreservesLoginTime(t *testing.T) {
	ctx := context.Background()
	store, _, clock := newTestStore(t)
	require.NoError(t, store.Insert(ctx, "alice", "pw1", "tok1"))
	before, err := store.Get(ctx, "alice")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	require.NoError(t, store.Update(ctx, "alice", Meta{Password: "pw2", Token: "tok2"}))

	after, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "pw2", after.Password)
	require.Equal(t, "tok2", after.Token)
	require.True(t, after.LoginTime.Equal(*before.LoginTime))
	require.True(t, after.UpdateTime.After(before.UpdateTime))
}

func TestUpdateTimeAdvancesWhenClockStalls(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	require.NoError(t, store.Insert(ctx, "alice", "pw1", "tok1"))
	first, err := store.Get(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, store.Update(ctx, "alice", Meta{Password: "pw1", Token: "tok1"}))
	second, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, second.UpdateTime.After(first.UpdateTime))
}

func TestUpdateUnknownUser(t *testing.T) {
	store, backend, _ := newTestStore(t)
	before, _ := backend.Load(context.Background())

	err := store.Update(context.Background(), "ghost", Meta{Token: "x"})
	require.ErrorIs(t, err, ErrNotFound)

	after, _ := backend.Load(context.Background())
	require.Equal(t, before, after)
}

func TestInsertExistingKeepsOccupancyAndLoginTime(t *testing.T) {
	ctx := context.Background()
	store, _, clock := newTestStore(t)
	require.NoError(t, store.Insert(ctx, "alice", "pw1", "tok1"))
	loginAt := clock.Now()
	_, err := store.Occupy(ctx, "alice")
	require.NoError(t, err)

	clock.Advance(time.Hour)
	require.NoError(t, store.Insert(ctx, "alice", "pw9", "tok9"))

	rec, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "tok9", rec.Token)
	require.True(t, rec.Occupied)
	require.True(t, rec.LoginTime.Equal(loginAt))
}

func TestInsertRejectsEmptyUsername(t *testing.T) {
	store, _, _ := newTestStore(t)
	require.ErrorIs(t, store.Insert(context.Background(), "  ", "pw", "tok"), ErrInvalidValue)
}

func TestUpdateField(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	require.NoError(t, store.Insert(ctx, "alice", "pw1", "tok1"))

	cases := []struct {
		name  string
		field string
		value any
		want  error
	}{
		{"password", FieldPassword, "pw2", nil},
		{"token", FieldToken, "tok2", nil},
		{"occupancy", FieldOccupied, true, nil},
		{"login time is immutable", FieldLoginTime, "2020-01-01T00:00:00Z", ErrImmutableField},
		{"update time is not patchable", FieldUpdateTime, "2020-01-01T00:00:00Z", ErrUnknownField},
		{"unknown field", "nickname", "al", ErrUnknownField},
		{"wrong type for occupancy", FieldOccupied, "yes", ErrInvalidValue},
		{"wrong type for token", FieldToken, 42, ErrInvalidValue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := store.UpdateField(ctx, "alice", tc.field, tc.value)
			if tc.want != nil {
				require.ErrorIs(t, err, tc.want)
				return
			}
			require.NoError(t, err)
		})
	}

	rec, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "pw2", rec.Password)
	require.Equal(t, "tok2", rec.Token)
	require.True(t, rec.Occupied)

	require.ErrorIs(t, store.UpdateField(ctx, "ghost", FieldPassword, "x"), ErrNotFound)
}

func TestUpdateFieldKeepsForeignKeys(t *testing.T) {
	ctx := context.Background()
	store, backend, _ := newTestStore(t)
	require.NoError(t, backend.Save(ctx, []byte(`{"alice":{"password":"pw","Authorization":"tok","is_occupancy":false,"login_time":null,"update_time":"2024-01-01T00:00:00","region":"eu"}}`)))

	require.NoError(t, store.UpdateField(ctx, "alice", FieldToken, "tok2"))

	data, err := backend.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "eu", gjson.GetBytes(data, "alice.region").String())
	require.Equal(t, "tok2", gjson.GetBytes(data, "alice.Authorization").String())
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	require.NoError(t, store.Insert(ctx, "alice", "pw", "tok"))
	require.NoError(t, store.Insert(ctx, "bob", "pw", "tok"))
	_, err := store.Occupy(ctx, "bob")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "alice"))
	require.False(t, store.Exists(ctx, "alice"))

	require.ErrorIs(t, store.Delete(ctx, "alice"), ErrNotFound)
	require.ErrorIs(t, store.Delete(ctx, "bob"), ErrOccupied)
	require.True(t, store.Exists(ctx, "bob"))
}

func TestGetByTokenAndTokenOf(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	require.NoError(t, store.Insert(ctx, "alice", "pw", "shared"))
	require.NoError(t, store.Insert(ctx, "bob", "pw", "shared"))
	require.NoError(t, store.Insert(ctx, "carol", "pw", "own"))

	got, err := store.GetByToken(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Contains(t, got, "alice")
	require.Contains(t, got, "bob")

	none, err := store.GetByToken(ctx, "nope")
	require.NoError(t, err)
	require.Empty(t, none)

	tok, err := store.TokenOf(ctx, "carol")
	require.NoError(t, err)
	require.Equal(t, "own", tok)
	_, err = store.TokenOf(ctx, "dave")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetAllReturnsIndependentSnapshot(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	require.NoError(t, store.Insert(ctx, "alice", "pw", "tok"))

	snap, err := store.GetAll(ctx)
	require.NoError(t, err)
	rec := snap["alice"]
	rec.Token = "mutated"
	*rec.LoginTime = time.Time{}
	snap["alice"] = rec
	delete(snap, "alice")

	again, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "tok", again.Token)
	require.False(t, again.LoginTime.IsZero())
}

func TestOccupyAndVacate(t *testing.T) {
	ctx := context.Background()
	store, backend, _ := newTestStore(t)
	require.NoError(t, store.Insert(ctx, "alice", "pw", "tok"))
	require.NoError(t, backend.Save(ctx, mustPatch(t, backend, "dirty", `{"password":"pw","Authorization":"","is_occupancy":false,"login_time":null,"update_time":""}`)))

	rec, err := store.Occupy(ctx, "alice")
	require.NoError(t, err)
	require.True(t, rec.Occupied)
	require.Equal(t, "tok", rec.Token)

	_, err = store.Occupy(ctx, "alice")
	require.ErrorIs(t, err, ErrOccupied)
	_, err = store.Occupy(ctx, "dirty")
	require.ErrorIs(t, err, ErrDirtyRecord)
	_, err = store.Occupy(ctx, "ghost")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.Vacate(ctx, "alice")
	require.NoError(t, err)
	_, err = store.Vacate(ctx, "alice")
	require.ErrorIs(t, err, ErrNotOccupied)
	_, err = store.Vacate(ctx, "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCorruptDocumentIsUnavailable(t *testing.T) {
	ctx := context.Background()
	for name, body := range map[string]string{
		"truncated": `{"alice": {"password": "pw"`,
		"array":     `["alice"]`,
		"empty":     ``,
	} {
		t.Run(name, func(t *testing.T) {
			backend := storage.NewMemoryBackend()
			require.NoError(t, backend.Save(ctx, []byte(body)))
			store := NewStore(backend, Options{})

			all, err := store.GetAll(ctx)
			require.ErrorIs(t, err, ErrStoreUnavailable)
			require.NotNil(t, all)
			require.Empty(t, all)

			_, err = store.Get(ctx, "alice")
			require.ErrorIs(t, err, ErrStoreUnavailable)
			require.False(t, store.Exists(ctx, "alice"))

			require.ErrorIs(t, store.Insert(ctx, "alice", "pw", "tok"), ErrStoreUnavailable)
			data, _ := backend.Load(ctx)
			require.Equal(t, body, string(data))
		})
	}
}

func TestMissingDocument(t *testing.T) {
	ctx := context.Background()
	store := NewStore(storage.NewMemoryBackend(), Options{})

	_, err := store.GetAll(ctx)
	require.ErrorIs(t, err, ErrStoreUnavailable)

	require.NoError(t, store.Insert(ctx, "alice", "pw", "tok"))
	require.True(t, store.Exists(ctx, "alice"))
}

func TestCorruptRecordSkippedAndPreserved(t *testing.T) {
	ctx := context.Background()
	store, backend, _ := newTestStore(t)
	require.NoError(t, backend.Save(ctx, []byte(`{
		"broken": {"password": "pw", "Authorization": "tok", "is_occupancy": "maybe"},
		"scalar": 42,
		"legacy": {"password": "pw", "Authorization": "Bearer x", "is_occupancy": "False", "login_time": "2024-03-01T10:11:12.123456", "update_time": "2024-03-01T10:11:12"}
	}`)))

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	legacy := all["legacy"]
	require.False(t, legacy.Occupied)
	require.Equal(t, 123456000, legacy.LoginTime.Nanosecond())

	_, err = store.Get(ctx, "broken")
	require.ErrorIs(t, err, ErrCorruptRecord)

	require.NoError(t, store.Insert(ctx, "alice", "pw", "tok"))

	data, err := backend.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "maybe", gjson.GetBytes(data, "broken.is_occupancy").String())
	require.Equal(t, int64(42), gjson.GetBytes(data, "scalar").Int())

	require.NoError(t, store.Delete(ctx, "broken"))
	require.False(t, store.Exists(ctx, "broken"))
}

func TestConcurrentInsertsAreNotLost(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Insert(ctx, fmt.Sprintf("user%02d", i), "pw", fmt.Sprintf("tok%02d", i)))
		}(i)
	}
	wg.Wait()

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, n)
}

func TestFileBackedDocumentLayout(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nosql", "user_data.json")
	store := NewStore(storage.NewFileBackend(path), Options{})
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Insert(ctx, "alice", "p<w>&", "tok1"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "\n    \"alice\": {")
	require.Contains(t, string(data), `"p<w>&"`)
	require.Equal(t, "tok1", gjson.GetBytes(data, "alice.Authorization").String())
	require.False(t, gjson.GetBytes(data, "alice.is_occupancy").Bool())
	require.True(t, gjson.GetBytes(data, "alice.login_time").Exists())
	require.True(t, gjson.GetBytes(data, "alice.update_time").Exists())
}

func mustPatch(t *testing.T, backend storage.Backend, username, raw string) []byte {
	t.Helper()
	data, err := backend.Load(context.Background())
	require.NoError(t, err)
	doc, err := decodeDocument(data)
	require.NoError(t, err)
	doc[username] = []byte(raw)
	out, err := encodeDocument(doc)
	require.NoError(t, err)
	return out
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src, _, _ := newTestStore(t)
	require.NoError(t, src.Insert(ctx, "alice", "pw", "tok"))

	data, err := src.Export(ctx)
	require.NoError(t, err)

	dst, _, _ := newTestStore(t)
	corrupt, err := dst.Import(ctx, data)
	require.NoError(t, err)
	require.Empty(t, corrupt)
	rec, err := dst.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "tok", rec.Token)

	corrupt, err = dst.Import(ctx, []byte(`{"bob": "nope", "carol": {"password": "pw", "Authorization": "t"}}`))
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, corrupt)
	require.False(t, dst.Exists(ctx, "alice"))

	_, err = dst.Import(ctx, []byte(`[1,2]`))
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.True(t, dst.Exists(ctx, "carol"))
}

// interleavingBackend runs foreign once, just before the first conditional
// save, as if another process wrote the document in between.
type interleavingBackend struct {
	*storage.MemoryBackend
	once    sync.Once
	foreign func()
}

func (b *interleavingBackend) SaveIf(ctx context.Context, prev, data []byte) error {
	b.once.Do(b.foreign)
	return b.MemoryBackend.SaveIf(ctx, prev, data)
}

func TestMutateRetriesAfterForeignWrite(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryBackend()
	other := NewStore(mem, Options{})
	require.NoError(t, other.Init(ctx))
	require.NoError(t, other.Insert(ctx, "alice", "pw", "tok-alice"))

	store := NewStore(&interleavingBackend{MemoryBackend: mem, foreign: func() {
		assert.NoError(t, other.Insert(ctx, "bob", "pw", "tok-bob"))
	}}, Options{})
	require.NoError(t, store.Insert(ctx, "carol", "pw", "tok-carol"))

	all, err := other.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestOccupyLosesToForeignClaim(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryBackend()
	other := NewStore(mem, Options{})
	require.NoError(t, other.Init(ctx))
	require.NoError(t, other.Insert(ctx, "alice", "pw", "tok-alice"))

	store := NewStore(&interleavingBackend{MemoryBackend: mem, foreign: func() {
		_, err := other.Occupy(ctx, "alice")
		assert.NoError(t, err)
	}}, Options{})
	_, err := store.Occupy(ctx, "alice")
	require.ErrorIs(t, err, ErrOccupied)

	_, err = other.Vacate(ctx, "alice")
	require.NoError(t, err)
	_, err = other.Vacate(ctx, "alice")
	require.ErrorIs(t, err, ErrNotOccupied)
}

func TestStoresSharingFileClaimExclusively(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "user_data.json")
	first := NewStore(storage.NewFileBackend(path), Options{})
	require.NoError(t, first.Init(ctx))
	require.NoError(t, first.Insert(ctx, "alice", "pw", "tok-alice"))
	second := NewStore(storage.NewFileBackend(path), Options{})

	for round := 0; round < 50; round++ {
		var wins atomic.Int32
		var wg sync.WaitGroup
		for _, s := range []*Store{first, second} {
			wg.Add(1)
			go func(s *Store) {
				defer wg.Done()
				_, err := s.Occupy(ctx, "alice")
				if err == nil {
					wins.Add(1)
					return
				}
				assert.ErrorIs(t, err, ErrOccupied)
			}(s)
		}
		wg.Wait()
		require.EqualValues(t, 1, wins.Load(), "round %d", round)

		_, err := first.Vacate(ctx, "alice")
		require.NoError(t, err)
	}
}
