package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestFileBackendContract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nosql", "user_data.json")
	b := NewFileBackend(path)
	require.Equal(t, path, b.Path())

	_, err := b.Load(context.Background())
	var nf *ErrNotFound
	require.ErrorAs(t, err, &nf)
	require.Error(t, b.Health(context.Background()))

	exerciseBackend(t, b)
	require.NoError(t, b.Close())
}

func TestFileBackendInitializeCreatesParentAndEmptyObject(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "deep", "nested")
	path := filepath.Join(dir, "user_data.json")
	b := NewFileBackend(path)

	require.NoError(t, b.Initialize(context.Background()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, EmptyDocument, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileBackendDefaultPath(t *testing.T) {
	require.Equal(t, DefaultDocumentPath, NewFileBackend("").Path())
}

func TestFileBackendSaveLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b := NewFileBackend(filepath.Join(dir, "user_data.json"))
	require.NoError(t, b.Initialize(ctx))

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Save(ctx, []byte(`{"n":`+strings.Repeat("1", i+1)+`}`)))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.ElementsMatch(t, []string{"user_data.json", "user_data.json.lock"}, names)
}

func TestFileBackendSaveIfAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "user_data.json")
	require.NoError(t, NewFileBackend(path).Initialize(ctx))

	// each writer has its own backend, as separate processes would
	const writers, rounds = 4, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		b := NewFileBackend(path)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				for {
					cur, err := b.Load(ctx)
					if !assert.NoError(t, err) {
						return
					}
					n := gjson.GetBytes(cur, "n").Int()
					next := []byte(fmt.Sprintf(`{"n":%d}`, n+1))
					err = b.SaveIf(ctx, cur, next)
					if errors.Is(err, ErrConflict) {
						continue
					}
					if !assert.NoError(t, err) {
						return
					}
					break
				}
			}
		}()
	}
	wg.Wait()

	data, err := NewFileBackend(path).Load(ctx)
	require.NoError(t, err)
	require.EqualValues(t, writers*rounds, gjson.GetBytes(data, "n").Int())
}

func TestFileBackendReadersNeverSeeTornWrites(t *testing.T) {
	ctx := context.Background()
	b := NewFileBackend(filepath.Join(t.TempDir(), "user_data.json"))
	require.NoError(t, b.Initialize(ctx))

	small := []byte(`{"small":true}`)
	large := []byte(`{"large":"` + strings.Repeat("x", 256*1024) + `"}`)

	var stop atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; !stop.Load(); i++ {
			body := small
			if i%2 == 0 {
				body = large
			}
			_ = b.Save(ctx, body)
		}
	}()

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		data, err := b.Load(ctx)
		require.NoError(t, err)
		s := string(data)
		require.True(t, s == EmptyDocument || s == string(small) || s == string(large), "torn read of %d bytes", len(data))
	}
	stop.Store(true)
	wg.Wait()
}

func TestFileBackendWatchIgnoresOwnWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "user_data.json")
	b := NewFileBackend(path)
	b.watchDebounce = 50 * time.Millisecond
	require.NoError(t, b.Initialize(ctx))

	var changes atomic.Int32
	require.NoError(t, b.Watch(ctx, func() { changes.Add(1) }))
	require.Error(t, b.Watch(ctx, func() {}))

	require.NoError(t, b.Save(ctx, []byte(`{"self":1}`)))
	time.Sleep(300 * time.Millisecond)
	require.EqualValues(t, 0, changes.Load())

	require.NoError(t, os.WriteFile(path, []byte(`{"external": true}`), 0o600))
	require.Eventually(t, func() bool { return changes.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)

	// files other than the document are ignored
	before := changes.Load()
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.json"), []byte(`{}`), 0o600))
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, before, changes.Load())
}

func TestFileBackendWatchRequiresCallback(t *testing.T) {
	b := NewFileBackend(filepath.Join(t.TempDir(), "user_data.json"))
	require.Error(t, b.Watch(context.Background(), nil))
}
