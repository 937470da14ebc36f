// Package tarball implements the archive artifact backend: every domain is stored in a
// single {base_dir}/{domain}.tar file owned by one goroutine.
//
// The archive is kept valid after every append: each new entry overwrites the previous
// end-of-archive footer and writes a fresh one, so a crawl can be resumed after a crash.
// The owning goroutine indexes entries by path; when a path is written twice the latest
// entry wins.
package tarball

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/discourse-crawler/internal/storage"
)

const (
	blockSize  = 512
	footerSize = 2 * blockSize
)

var (
	// ErrCorruptArchive is returned when an existing archive cannot be scanned.
	ErrCorruptArchive = errors.New("corrupt tar archive")
	// ErrClosed is returned for operations issued after Close.
	ErrClosed = errors.New("tarball store closed")
)

// Config captures the parameters for the archive backend.
type Config struct {
	// BaseDir is the directory holding the {domain}.tar files.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store routes operations to per-domain archive goroutines.
type Store struct {
	dir    string
	logger *zap.Logger

	mu       sync.Mutex
	archives map[string]*archive
	closed   bool
	wg       sync.WaitGroup
}

var _ storage.Provider = (*Store)(nil)

// New creates an archive store rooted at cfg.BaseDir, creating it when missing.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dir:      filepath.Clean(cfg.BaseDir),
		logger:   logger,
		archives: make(map[string]*archive),
	}, nil
}

// ArchivePath returns the file backing domain.
func (s *Store) ArchivePath(domain string) string {
	return filepath.Join(s.dir, domain+".tar")
}

// Write appends content as a new archive entry for path.
func (s *Store) Write(ctx context.Context, domain, path string, content []byte) error {
	res, err := s.do(ctx, domain, op{kind: opWrite, path: path, content: content})
	if err != nil {
		return err
	}
	return res.err
}

// Exists reports whether the archive holds an entry for path. A missing archive is not
// created.
func (s *Store) Exists(ctx context.Context, domain, path string) (bool, error) {
	res, err := s.do(ctx, domain, op{kind: opExists, path: path})
	if err != nil {
		return false, err
	}
	return res.exists, res.err
}

// Read returns the latest entry for path or storage.ErrNotFound.
func (s *Store) Read(ctx context.Context, domain, path string) ([]byte, error) {
	res, err := s.do(ctx, domain, op{kind: opRead, path: path})
	if err != nil {
		return nil, err
	}
	return res.data, res.err
}

// Close stops every archive goroutine and waits for them to exit.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, a := range s.archives {
		close(a.quit)
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *Store) archiveFor(domain string) (*archive, error) {
	if domain == "" || domain == "." || domain == ".." || strings.ContainsAny(domain, `/\`) {
		return nil, fmt.Errorf("domain %q: %w", domain, storage.ErrPathEscapesRoot)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if a, ok := s.archives[domain]; ok {
		return a, nil
	}
	a := &archive{
		file:   s.ArchivePath(domain),
		logger: s.logger.With(zap.String("domain", domain)),
		ops:    make(chan op),
		quit:   make(chan struct{}),
	}
	s.archives[domain] = a
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		a.run()
	}()
	return a, nil
}

// do hands o to the owning goroutine and waits for its result.
func (s *Store) do(ctx context.Context, domain string, o op) (result, error) {
	if o.path == "" {
		return result{}, fmt.Errorf("path is required")
	}
	if err := ctx.Err(); err != nil {
		return result{}, fmt.Errorf("submit archive operation: %w", err)
	}
	a, err := s.archiveFor(domain)
	if err != nil {
		return result{}, err
	}
	o.reply = make(chan result, 1)
	select {
	case a.ops <- o:
	case <-a.quit:
		return result{}, ErrClosed
	case <-ctx.Done():
		return result{}, fmt.Errorf("submit archive operation: %w", ctx.Err())
	}
	select {
	case res := <-o.reply:
		return res, nil
	case <-ctx.Done():
		return result{}, fmt.Errorf("await archive operation: %w", ctx.Err())
	}
}

type opKind int

const (
	opWrite opKind = iota
	opExists
	opRead
)

type op struct {
	kind    opKind
	path    string
	content []byte
	reply   chan result
}

type result struct {
	data   []byte
	exists bool
	err    error
}

type entry struct {
	offset int64
	size   int64
}

// archive is the state owned by a single domain goroutine.
type archive struct {
	file   string
	logger *zap.Logger
	ops    chan op
	quit   chan struct{}

	loaded  bool
	loadErr error
	index   map[string]entry
	end     int64
}

func (a *archive) run() {
	for {
		select {
		case o := <-a.ops:
			o.reply <- a.handle(o)
		case <-a.quit:
			return
		}
	}
}

func (a *archive) handle(o op) result {
	if err := a.load(); err != nil {
		return result{err: err}
	}
	switch o.kind {
	case opExists:
		_, ok := a.index[o.path]
		return result{exists: ok}
	case opRead:
		data, err := a.read(o.path)
		return result{data: data, err: err}
	default:
		return result{err: a.append(o.path, o.content)}
	}
}

// load scans the archive once and builds the path index.
func (a *archive) load() error {
	if a.loaded {
		return a.loadErr
	}
	a.loaded = true
	a.index = make(map[string]entry)

	f, err := os.Open(a.file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		a.loadErr = fmt.Errorf("open archive: %w", err)
		return a.loadErr
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			a.logger.Warn("Failed to close archive", zap.Error(cerr))
		}
	}()

	index, end, err := scan(f)
	if err != nil {
		a.loadErr = err
		a.logger.Error("Archive is unreadable; writes will be dropped", zap.String("file", a.file), zap.Error(err))
		return err
	}
	a.index, a.end = index, end
	a.logger.Debug("Loaded archive", zap.Int("entries", len(index)), zap.Int64("end", end))
	return nil
}

// scan walks the archive and returns the data offset of every regular entry and the
// offset where the footer starts.
func scan(r io.Reader) (map[string]entry, int64, error) {
	cr := &countingReader{r: bufio.NewReader(r)}
	tr := tar.NewReader(cr)
	index := make(map[string]entry)
	var end int64
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return index, end, nil
		}
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrCorruptArchive, err)
		}
		dataStart := cr.n
		end = dataStart + roundBlock(hdr.Size)
		if hdr.FileInfo().Mode().IsRegular() {
			index[hdr.Name] = entry{offset: dataStart, size: hdr.Size}
		}
	}
}

func (a *archive) read(path string) ([]byte, error) {
	e, ok := a.index[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, storage.ErrNotFound)
	}
	f, err := os.Open(a.file)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			a.logger.Warn("Failed to close archive", zap.Error(cerr))
		}
	}()
	data := make([]byte, e.size)
	if _, err := io.ReadFull(io.NewSectionReader(f, e.offset, e.size), data); err != nil {
		return nil, fmt.Errorf("read archive entry %s: %w", path, err)
	}
	return data, nil
}

// append writes one entry over the current footer and terminates the archive again.
func (a *archive) append(path string, content []byte) error {
	if len(content) == 0 {
		a.logger.Warn("Refusing to archive empty artifact", zap.String("path", path))
		return fmt.Errorf("%s: %w", path, storage.ErrEmptyContent)
	}
	f, err := os.OpenFile(a.file, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			a.logger.Warn("Failed to close archive", zap.Error(cerr))
		}
	}()
	if _, err := f.Seek(a.end, io.SeekStart); err != nil {
		return fmt.Errorf("seek archive end: %w", err)
	}

	cw := &countingWriter{w: f}
	tw := tar.NewWriter(cw)
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     path,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write entry header: %w", err)
	}
	dataStart := a.end + cw.n
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("write entry body: %w", err)
	}
	// Close pads the entry and writes the footer; the footer is overwritten next time.
	if err := tw.Close(); err != nil {
		return fmt.Errorf("terminate archive: %w", err)
	}

	a.index[path] = entry{offset: dataStart, size: hdr.Size}
	a.end += cw.n - footerSize
	return nil
}

func roundBlock(n int64) int64 {
	return (n + blockSize - 1) / blockSize * blockSize
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err //nolint:wrapcheck
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err //nolint:wrapcheck
}
