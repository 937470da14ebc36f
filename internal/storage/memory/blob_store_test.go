package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/discourse-crawler/internal/storage"
)

func TestBlobStoreWriteCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	require.NoError(t, store.Write(context.Background(), "forum.example.com", "/latest", payload))
	payload[0] = 'C'

	stored, err := store.Read(context.Background(), "forum.example.com", "/latest")
	require.NoError(t, err)
	assert.Equal(t, "content", string(stored))

	stored[0] = 'X'
	again, err := store.Read(context.Background(), "forum.example.com", "/latest")
	require.NoError(t, err)
	assert.Equal(t, "content", string(again))
}

func TestBlobStoreDomainsAreIsolated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewBlobStore()
	require.NoError(t, store.Write(ctx, "a.example", "/site", []byte("a")))
	require.NoError(t, store.Write(ctx, "b.example", "/top", []byte("b")))

	ok, err := store.Exists(ctx, "b.example", "/site")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Read(ctx, "b.example", "/site")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Equal(t, []string{"/site"}, store.Paths("a.example"))
}
