package tarball_test

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-crawler/internal/storage"
	"github.com/JakeFAU/discourse-crawler/internal/storage/tarball"
)

const domain = "forum.example.com"

func newStore(t *testing.T, dir string) *tarball.Store {
	t.Helper()
	store, err := tarball.New(tarball.Config{BaseDir: dir}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// members reads the archive with a plain tar reader, the way an external tool would.
func members(t *testing.T, path string) map[string][]string {
	t.Helper()
	// #nosec G304 -- test reads from the controlled temp directory.
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	out := map[string][]string{}
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		out[hdr.Name] = append(out[hdr.Name], string(body))
	}
}

func TestWriteReadExists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t, t.TempDir())

	require.NoError(t, store.Write(ctx, domain, "/t/hello/1", []byte(`{"post_stream":{}}`)))

	ok, err := store.Exists(ctx, domain, "/t/hello/1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Read(ctx, domain, "/t/hello/1")
	require.NoError(t, err)
	assert.Equal(t, `{"post_stream":{}}`, string(got))

	ok, err = store.Exists(ctx, domain, "/t/other/2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Read(ctx, domain, "/t/other/2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestArchiveIsValidAfterEveryWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t, t.TempDir())

	paths := []string{"/site", "/latest", "/top", "/t/a/1"}
	for i, p := range paths {
		body := bytes.Repeat([]byte{'a' + byte(i)}, 700*(i+1))
		require.NoError(t, store.Write(ctx, domain, p, body))

		got := members(t, store.ArchivePath(domain))
		assert.Len(t, got, i+1)
		assert.Equal(t, string(body), got[p][0])
	}
}

func TestLatestEntryWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	store := newStore(t, dir)

	require.NoError(t, store.Write(ctx, domain, "/latest", []byte("first")))
	require.NoError(t, store.Write(ctx, domain, "/latest", []byte("second")))

	got, err := store.Read(ctx, domain, "/latest")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
	assert.Equal(t, []string{"first", "second"}, members(t, store.ArchivePath(domain))["/latest"])

	require.NoError(t, store.Close())

	reopened := newStore(t, dir)
	got, err = reopened.Read(ctx, domain, "/latest")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestReopenResumesAppending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	first := newStore(t, dir)
	require.NoError(t, first.Write(ctx, domain, "/t/a/1", []byte("one")))
	require.NoError(t, first.Close())

	second := newStore(t, dir)
	ok, err := second.Exists(ctx, domain, "/t/a/1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, second.Write(ctx, domain, "/t/b/2", []byte("two")))
	got := members(t, second.ArchivePath(domain))
	assert.Equal(t, []string{"one"}, got["/t/a/1"])
	assert.Equal(t, []string{"two"}, got["/t/b/2"])
}

func TestEmptyContentIsRejected(t *testing.T) {
	t.Parallel()

	store := newStore(t, t.TempDir())
	err := store.Write(context.Background(), domain, "/t/empty/1", nil)
	assert.ErrorIs(t, err, storage.ErrEmptyContent)
	assert.NoFileExists(t, store.ArchivePath(domain))
}

func TestLookupsDoNotCreateArchive(t *testing.T) {
	t.Parallel()

	store := newStore(t, t.TempDir())
	ok, err := store.Exists(context.Background(), domain, "/site")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoFileExists(t, store.ArchivePath(domain))
}

func TestCorruptArchive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	store := newStore(t, dir)
	garbage := bytes.Repeat([]byte("x"), 1024)
	require.NoError(t, os.WriteFile(store.ArchivePath(domain), garbage, 0o600))

	err := store.Write(ctx, domain, "/latest", []byte("{}"))
	assert.ErrorIs(t, err, tarball.ErrCorruptArchive)

	_, err = store.Exists(ctx, domain, "/latest")
	assert.ErrorIs(t, err, tarball.ErrCorruptArchive)

	// The file is left untouched and other domains keep working.
	// #nosec G304 -- test reads from the controlled temp directory.
	onDisk, err := os.ReadFile(store.ArchivePath(domain))
	require.NoError(t, err)
	assert.Equal(t, garbage, onDisk)
	require.NoError(t, store.Write(ctx, "other.example.com", "/latest", []byte("{}")))
}

func TestConcurrentWritersShareOneArchive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t, t.TempDir())

	const writers = 32
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			path := fmt.Sprintf("/t/topic-%d/%d", i, i)
			assert.NoError(t, store.Write(ctx, domain, path, []byte(fmt.Sprintf(`{"id":%d}`, i))))
		}()
	}
	wg.Wait()

	got := members(t, store.ArchivePath(domain))
	assert.Len(t, got, writers)
	for i := range writers {
		ok, err := store.Exists(ctx, domain, fmt.Sprintf("/t/topic-%d/%d", i, i))
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestInvalidDomainAndClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t, t.TempDir())

	err := store.Write(ctx, "", "/failures.json", []byte("{}"))
	assert.ErrorIs(t, err, storage.ErrPathEscapesRoot)
	err = store.Write(ctx, "../evil", "/x", []byte("{}"))
	assert.ErrorIs(t, err, storage.ErrPathEscapesRoot)

	require.NoError(t, store.Write(ctx, domain, "/site", []byte("{}")))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	err = store.Write(ctx, domain, "/top", []byte("{}"))
	assert.ErrorIs(t, err, tarball.ErrClosed)
}
