package storage

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisBackendRequiresAddress(t *testing.T) {
	_, err := NewRedisBackend("", "", 0, "")
	require.Error(t, err)
}

func TestRedisBackendContract(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(mr.Close)

	rb, err := NewRedisBackend(mr.Addr(), "", 0, "lt:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rb.Close() })

	_, err = rb.Load(context.Background())
	var nf *ErrNotFound
	require.ErrorAs(t, err, &nf)

	exerciseBackend(t, rb)

	raw, err := mr.Get("lt:credentials")
	require.NoError(t, err)
	require.JSONEq(t, EmptyDocument, raw)
}

func TestRedisBackendDefaultPrefix(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(mr.Close)

	rb, err := NewRedisBackend(mr.Addr(), "", 0, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rb.Close() })

	require.NoError(t, rb.Initialize(context.Background()))
	require.True(t, mr.Exists("tokenpool:credentials"))
}

func TestRedisBackendHealthFailsWhenServerGone(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	rb, err := NewRedisBackend(mr.Addr(), "", 0, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rb.Close() })

	require.NoError(t, rb.Health(context.Background()))
	mr.Close()
	require.Error(t, rb.Health(context.Background()))
}
