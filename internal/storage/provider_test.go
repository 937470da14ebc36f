package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/discourse-crawler/internal/storage"
)

func TestRouterSendsRunFilesToLoose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	loose := new(storage.MockProvider)
	primary := new(storage.MockProvider)
	router := storage.NewRouter(loose, primary)

	loose.On("Write", ctx, "", "/failures.json", []byte("{}")).Return(nil).Once()
	primary.On("Write", ctx, "forum.example.com", "/site", []byte(`{"categories":[]}`)).Return(nil).Once()
	primary.On("Exists", ctx, "forum.example.com", "/t/hello/1").Return(true, nil).Once()
	loose.On("Read", ctx, "", "/crawlsummary.json").Return(nil, storage.ErrNotFound).Once()

	require.NoError(t, router.Write(ctx, "", "/failures.json", []byte("{}")))
	require.NoError(t, router.Write(ctx, "forum.example.com", "/site", []byte(`{"categories":[]}`)))

	ok, err := router.Exists(ctx, "forum.example.com", "/t/hello/1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = router.Read(ctx, "", "/crawlsummary.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	loose.AssertExpectations(t)
	primary.AssertExpectations(t)
}

func TestRouterCloseClosesSharedBackendOnce(t *testing.T) {
	t.Parallel()

	loose := new(storage.MockProvider)
	loose.On("Close").Return(nil).Once()

	require.NoError(t, storage.NewRouter(loose, loose).Close())
	loose.AssertExpectations(t)
}

func TestRouterCloseJoinsErrors(t *testing.T) {
	t.Parallel()

	loose := new(storage.MockProvider)
	primary := new(storage.MockProvider)
	loose.On("Close").Return(errors.New("loose boom"))
	primary.On("Close").Return(errors.New("primary boom"))

	err := storage.NewRouter(loose, primary).Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loose boom")
	assert.Contains(t, err.Error(), "primary boom")
	primary.AssertNumberOfCalls(t, "Close", 1)
}

func TestNoOpProvider(t *testing.T) {
	t.Parallel()

	var p storage.Provider = storage.NoOpProvider{}
	ctx := context.Background()
	require.NoError(t, p.Write(ctx, "d", "/p", []byte("x")))
	ok, err := p.Exists(ctx, "d", "/p")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = p.Read(ctx, "d", "/p")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
