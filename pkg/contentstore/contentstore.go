// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package contentstore provides a content addressed blob store on top of a
// filesystem. Blobs are sharded into subdirectories named after a hash of
// their id and may be kept in a gzip compressed variant.
//
// Writes are published with an atomic rename of a fully written temporary
// file, so readers see either no file or a complete one.
package contentstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/catalystnet/catalyst/pkg/logging"
	"github.com/catalystnet/catalyst/pkg/storage"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/gzip"
	"github.com/minio/sha256-simd"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"resenje.org/multex"
)

const (
	compressedSuffix = ".gzip"
	tempPrefix       = ".tmp-"

	// shardKeyLength is the number of hex characters of the shard key.
	shardKeyLength = 4

	existConcurrency = 16

	// resolveAttempts bounds how many times a reader looks for the two
	// representations of a blob while writers swap them.
	resolveAttempts = 3
)

var (
	// ErrInvalidID is returned for ids that can not be used as a file name.
	ErrInvalidID = errors.New("contentstore: invalid id")
)

// Encoding is the transfer encoding of a retrieved content stream.
type Encoding string

const (
	EncodingIdentity Encoding = ""
	EncodingGzip     Encoding = "gzip"
)

// CompressionResult tells whether StoreStreamAndCompress left a compressed
// variant behind. It is informational only.
type CompressionResult int

const (
	CompressionSkipped CompressionResult = iota
	CompressionApplied
	CompressionNotSmaller
	CompressionFailed
)

func (r CompressionResult) String() string {
	switch r {
	case CompressionSkipped:
		return "skipped"
	case CompressionApplied:
		return "applied"
	case CompressionNotSmaller:
		return "not_smaller"
	case CompressionFailed:
		return "failed"
	}
	return fmt.Sprintf("CompressionResult(%d)", int(r))
}

// Range is an inclusive byte range. Nil bounds default to the first and the
// last byte of the object.
type Range struct {
	Start *int64
	End   *int64
}

// NewRange returns a Range with both bounds set.
func NewRange(start, end int64) *Range {
	return &Range{Start: &start, End: &end}
}

// ContentItem describes a retrieved blob. The content is opened lazily.
type ContentItem struct {
	ID string
	// Size is the size of the stored representation.
	Size int64
	// Length is the number of bytes Open yields.
	Length   int64
	Encoding Encoding
	// Start and End are the inclusive offsets served from the stored
	// representation.
	Start  int64
	End    int64
	Ranged bool

	open func() (io.ReadCloser, error)
}

// Open returns a new reader of the item content.
func (c *ContentItem) Open() (io.ReadCloser, error) {
	return c.open()
}

// OpenDecoded returns a reader of the canonical bytes, decompressing the
// gzip variant when needed.
func (c *ContentItem) OpenDecoded() (io.ReadCloser, error) {
	rc, err := c.open()
	if err != nil {
		return nil, err
	}
	if c.Encoding != EncodingGzip {
		return rc, nil
	}
	zr, err := gzip.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	return &readCloser{Reader: zr, close: func() error {
		var err *multierror.Error
		err = multierror.Append(err, zr.Close())
		err = multierror.Append(err, rc.Close())
		return err.ErrorOrNil()
	}}, nil
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r *readCloser) Close() error { return r.close() }

// Store is a sharded content addressed blob store. It is safe for concurrent
// use.
type Store struct {
	fs      afero.Fs
	root    string
	logger  logging.Logger
	metrics metrics

	// lock serializes publishing of the representations of one id.
	lock *multex.Multex
}

// New returns a Store rooted at root on the given filesystem. The root
// directory is created if it does not exist.
func New(fs afero.Fs, root string, logger logging.Logger) (*Store, error) {
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create root %s: %w", root, err)
	}
	return &Store{
		fs:      fs,
		root:    root,
		logger:  logger,
		metrics: newMetrics(),
		lock:    multex.New(),
	}, nil
}

// NewOnDisk returns a Store on the operating system filesystem.
func NewOnDisk(root string, logger logging.Logger) (*Store, error) {
	return New(afero.NewOsFs(), root, logger)
}

// ShardKey returns the name of the shard directory of id. It is the first
// shardKeyLength hex characters of the sha256 of the id.
func ShardKey(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:shardKeyLength/2])
}

// Path returns the location of the canonical representation of id.
func (s *Store) Path(id string) string {
	return filepath.Join(s.root, ShardKey(id), id)
}

func (s *Store) compressedPath(id string) string {
	return s.Path(id) + compressedSuffix
}

func validateID(id string) error {
	switch {
	case id == "",
		strings.ContainsAny(id, `/\`),
		strings.HasPrefix(id, "."),
		strings.HasSuffix(id, compressedSuffix):
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// StoreStream writes the content of r under id. An existing blob with the
// same id is replaced.
func (s *Store) StoreStream(ctx context.Context, id string, r io.Reader) error {
	if err := validateID(id); err != nil {
		return err
	}
	path := s.Path(id)
	tmp, n, err := s.writeFile(ctx, path, r)
	if err != nil {
		return err
	}

	s.lock.Lock(id)
	defer s.lock.Unlock(id)

	if err := s.fs.Rename(tmp, path); err != nil {
		s.removeTemp(tmp)
		return fmt.Errorf("publish %s: %w", path, err)
	}
	// the freshly written canonical copy supersedes an older compressed one
	if err := s.fs.Remove(s.compressedPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Debugf("contentstore: remove stale compressed %s: %v", id, err)
	}
	s.metrics.StoredBytes.Add(float64(n))
	s.metrics.StoredCount.Inc()
	return nil
}

// StoreStreamAndCompress writes the content of r under id and then tries to
// replace it with a gzip compressed variant. Compression never fails the
// call; its outcome is returned for logging.
func (s *Store) StoreStreamAndCompress(ctx context.Context, id string, r io.Reader) (CompressionResult, error) {
	if err := s.StoreStream(ctx, id, r); err != nil {
		return CompressionSkipped, err
	}
	res, err := s.compress(ctx, id)
	if err != nil {
		s.logger.Debugf("contentstore: compress %s: %v", id, err)
	}
	s.metrics.CompressionResults.WithLabelValues(res.String()).Inc()
	return res, nil
}

func (s *Store) compress(ctx context.Context, id string) (CompressionResult, error) {
	s.lock.Lock(id)
	defer s.lock.Unlock(id)

	path := s.Path(id)
	f, err := s.fs.Open(path)
	if err != nil {
		return CompressionFailed, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return CompressionFailed, err
	}

	tmp, size, err := s.writeTemp(ctx, filepath.Dir(path), func(w io.Writer) error {
		zw := gzip.NewWriter(w)
		if _, err := io.Copy(zw, f); err != nil {
			return err
		}
		return zw.Close()
	})
	if err != nil {
		return CompressionFailed, err
	}

	if size >= fi.Size() {
		s.removeTemp(tmp)
		return CompressionNotSmaller, nil
	}

	// publish the compressed variant before the canonical copy goes away so
	// that the blob is always retrievable
	if err := s.fs.Rename(tmp, s.compressedPath(id)); err != nil {
		s.removeTemp(tmp)
		return CompressionFailed, err
	}
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return CompressionFailed, err
	}
	return CompressionApplied, nil
}

// writeFile copies r into a temporary file next to path and returns its name
// and size. The caller publishes it.
func (s *Store) writeFile(ctx context.Context, path string, r io.Reader) (string, int64, error) {
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create shard %s: %w", dir, err)
	}
	return s.writeTemp(ctx, dir, func(w io.Writer) error {
		_, err := io.Copy(w, &contextReader{ctx: ctx, r: r})
		return err
	})
}

// writeTemp creates a uniquely named temporary file in dir and fills it with
// write. The temporary file is removed if any step fails.
func (s *Store) writeTemp(ctx context.Context, dir string, write func(w io.Writer) error) (string, int64, error) {
	tmp := filepath.Join(dir, tempPrefix+uuid.NewString())
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}

	size, err := func() (int64, error) {
		if err := write(f); err != nil {
			return 0, fmt.Errorf("write temp file: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := f.Sync(); err != nil {
			return 0, fmt.Errorf("sync temp file: %w", err)
		}
		fi, err := f.Stat()
		if err != nil {
			return 0, fmt.Errorf("stat temp file: %w", err)
		}
		return fi.Size(), nil
	}()
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close temp file: %w", cerr)
	}
	if err != nil {
		s.removeTemp(tmp)
		return "", 0, err
	}
	return tmp, size, nil
}

func (s *Store) removeTemp(path string) {
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Debugf("contentstore: remove temp file %s: %v", path, err)
	}
}

// Retrieve returns the blob stored under id, or storage.ErrNotFound. The
// compressed variant is preferred. A range is honoured only against the
// canonical representation: a compressed-only blob is always returned as
// its full compressed stream. A range that is not valid for the object size
// is ignored and the whole object is served.
func (s *Store) Retrieve(ctx context.Context, id string, rng *Range) (*ContentItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}

	var (
		item *ContentItem
		err  error
	)
	// Compression publishes the compressed variant before it removes the
	// canonical file and a new canonical file is published before the
	// compressed one is removed, so a second look finds whichever a
	// concurrent writer left.
	for i := 0; i < resolveAttempts; i++ {
		item, err = s.item(id, s.compressedPath(id), EncodingGzip, nil)
		if !errors.Is(err, storage.ErrNotFound) {
			break
		}
		item, err = s.item(id, s.Path(id), EncodingIdentity, rng)
		if !errors.Is(err, storage.ErrNotFound) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.NotFoundCount.Inc()
		}
		return nil, err
	}
	s.metrics.RetrievedCount.Inc()
	return item, nil
}

func (s *Store) item(id, path string, enc Encoding, rng *Range) (*ContentItem, error) {
	fi, err := s.fs.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	size := fi.Size()
	start, end, ranged := validRange(rng, size)
	item := &ContentItem{
		ID:       id,
		Size:     size,
		Length:   end - start + 1,
		Encoding: enc,
		Start:    start,
		End:      end,
		Ranged:   ranged,
	}
	item.open = func() (io.ReadCloser, error) {
		f, err := s.fs.Open(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, storage.ErrNotFound
			}
			return nil, err
		}
		if !ranged {
			return f, nil
		}
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
		return &readCloser{Reader: io.LimitReader(f, item.Length), close: f.Close}, nil
	}
	return item, nil
}

// validRange resolves rng against an object of the given size. It reports
// ranged as false and the full object bounds when rng is nil or invalid.
func validRange(rng *Range, size int64) (start, end int64, ranged bool) {
	start, end = 0, size-1
	if rng == nil || (rng.Start == nil && rng.End == nil) {
		return start, end, false
	}
	s, e := start, end
	if rng.Start != nil {
		s = *rng.Start
	}
	if rng.End != nil {
		e = *rng.End
	}
	if s < 0 || s > size-1 || e < 0 || e > size-1 || s > e {
		return start, end, false
	}
	return s, e, true
}

// Exist reports whether any representation of id is stored.
func (s *Store) Exist(_ context.Context, id string) (bool, error) {
	if validateID(id) != nil {
		return false, nil
	}
	for i := 0; i < resolveAttempts; i++ {
		for _, path := range []string{s.compressedPath(id), s.Path(id)} {
			ok, err := afero.Exists(s.fs, path)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// ExistMultiple checks existence of all ids concurrently.
func (s *Store) ExistMultiple(ctx context.Context, ids []string) (map[string]bool, error) {
	var (
		mu     sync.Mutex
		result = make(map[string]bool, len(ids))
		sem    = semaphore.NewWeighted(existConcurrency)
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			ok, err := s.Exist(gctx, id)
			if err != nil {
				return fmt.Errorf("exist %s: %w", id, err)
			}
			mu.Lock()
			result[id] = ok
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes both representations of every id. Missing blobs are not an
// error. Other failures are collected and returned for logging only; the
// operation itself always runs to completion.
func (s *Store) Delete(_ context.Context, ids []string) error {
	var result *multierror.Error
	for _, id := range ids {
		if err := validateID(id); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		s.lock.Lock(id)
		for _, path := range []string{s.Path(id), s.compressedPath(id)} {
			if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				result = multierror.Append(result, err)
			}
		}
		s.lock.Unlock(id)
		s.metrics.DeletedCount.Inc()
	}
	return result.ErrorOrNil()
}

// contextReader stops a copy once the context is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
