package modelstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "feature_scaler")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, "feature_scaler", []byte("payload")))

	ok, err = store.Exists(ctx, "feature_scaler")
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := store.Get(ctx, "feature_scaler")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestStore_PutOverwrites(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "model", []byte("v1")))
	require.NoError(t, store.Put(ctx, "model", []byte("v2")))

	data, err := store.Get(ctx, "model")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
}

func TestStore_PutLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), "model", []byte("bytes")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "model.bin", entries[0].Name())
}

func TestStore_RejectsTraversalNames(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, name := range []string{"", "../escape", "a/b", `a\b`} {
		_, err := store.Get(ctx, name)
		assert.Error(t, err, "name %q", name)
		err = store.Put(ctx, name, []byte("x"))
		assert.Error(t, err, "name %q", name)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "absent")
	require.Error(t, err)
}

func TestNew_CreatesNestedDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	_, err := New(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
