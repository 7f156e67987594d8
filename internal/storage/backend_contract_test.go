package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// exerciseBackend checks the behaviour every Backend must share.
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	require.NotEmpty(t, b.Name())
	require.NoError(t, b.Initialize(ctx))
	require.NoError(t, b.Initialize(ctx))

	data, err := b.Load(ctx)
	require.NoError(t, err)
	require.JSONEq(t, EmptyDocument, string(data))

	doc := `{"alice": {"password": "pw", "Authorization": "tok", "is_occupancy": false}}`
	require.NoError(t, b.Save(ctx, []byte(doc)))
	data, err = b.Load(ctx)
	require.NoError(t, err)
	require.JSONEq(t, doc, string(data))

	// Initialize must never clobber an existing document
	require.NoError(t, b.Initialize(ctx))
	data, err = b.Load(ctx)
	require.NoError(t, err)
	require.JSONEq(t, doc, string(data))

	require.NoError(t, b.Save(ctx, []byte(EmptyDocument)))
	data, err = b.Load(ctx)
	require.NoError(t, err)
	require.JSONEq(t, EmptyDocument, string(data))

	require.NoError(t, b.Health(ctx))

	exerciseSaveIf(t, b)
}

// exerciseSaveIf expects the document to hold EmptyDocument.
func exerciseSaveIf(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	cur, err := b.Load(ctx)
	require.NoError(t, err)
	next := []byte(`{"bob": {"password": "pw", "Authorization": "tok", "is_occupancy": true}}`)

	require.ErrorIs(t, b.SaveIf(ctx, []byte(`{"stale": {}}`), next), ErrConflict)
	require.ErrorIs(t, b.SaveIf(ctx, nil, next), ErrConflict)
	got, err := b.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, cur, got)

	require.NoError(t, b.SaveIf(ctx, cur, next))
	got, err = b.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, next, got)

	// the first writer already moved the document past cur
	require.ErrorIs(t, b.SaveIf(ctx, cur, []byte(EmptyDocument)), ErrConflict)
	require.NoError(t, b.SaveIf(ctx, next, []byte(EmptyDocument)))
}

func TestMemoryBackend(t *testing.T) {
	b := NewMemoryBackend()
	_, err := b.Load(context.Background())
	var nf *ErrNotFound
	require.ErrorAs(t, err, &nf)

	exerciseBackend(t, b)
	require.NoError(t, b.Close())
}

func TestMemoryBackendCopiesData(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	buf := []byte(`{"a":1}`)
	require.NoError(t, b.Save(ctx, buf))
	buf[2] = 'z'

	got, err := b.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(got))
	got[2] = 'y'

	again, err := b.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(again))
}

func TestMemoryBackendSaveIfMissingDocument(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	require.ErrorIs(t, b.SaveIf(ctx, []byte(EmptyDocument), []byte(`{}`)), ErrConflict)
	require.NoError(t, b.SaveIf(ctx, nil, []byte(`{"a":{}}`)))
	got, err := b.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"a":{}}`, string(got))
}
