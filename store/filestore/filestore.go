// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package filestore implements store.Store keeping each chunk in a separate file.
package filestore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/siderolabs/go-capture"
	"github.com/siderolabs/go-capture/store"
)

// Store keeps chunks as files <dir>/<session>.<chunkID>, optionally compressed.
type Store struct {
	compressor capture.Compressor
	logger     *zap.Logger
	dir        string
}

var _ store.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithCompressor compresses chunk files at rest.
func WithCompressor(c capture.Compressor) Option {
	return func(s *Store) {
		s.compressor = c
	}
}

// WithLogger sets logger for Store.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates the directory if needed and returns Store.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("directory should be set")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &Store{
		dir:    dir,
		logger: zap.NewNop(),
	}

	for _, o := range opts {
		o(s)
	}

	return s, nil
}

func (s *Store) chunkPath(session string, chunkID int64) string {
	return filepath.Join(s.dir, session+"."+strconv.FormatInt(chunkID, 10))
}

// Put implements store.Store.
func (s *Store) Put(_ context.Context, session string, chunkID int64, data []byte) error {
	if err := store.ValidateKey(session, chunkID); err != nil {
		return err
	}

	if s.compressor != nil {
		var err error

		data, err = s.compressor.Compress(data, nil)
		if err != nil {
			return fmt.Errorf("failed to compress chunk: %w", err)
		}
	}

	path := s.chunkPath(session, chunkID)

	if err := atomicWriteFile(path, data, 0o644); err != nil {
		return err
	}

	s.logger.Debug("persisted chunk", zap.String("path", path), zap.Int("size", len(data)))

	return nil
}

// Get implements store.Store.
func (s *Store) Get(_ context.Context, session string, chunkID int64) ([]byte, error) {
	if err := store.ValidateKey(session, chunkID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.chunkPath(session, chunkID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, store.ErrNotFound
		}

		return nil, err
	}

	if s.compressor != nil {
		return s.compressor.Decompress(data, nil)
	}

	return data, nil
}

// List implements store.Store.
func (s *Store) List(_ context.Context, session string) ([]int64, error) {
	if err := store.ValidateSession(session); err != nil {
		return nil, err
	}

	chunkPaths, err := filepath.Glob(filepath.Join(s.dir, session+".*"))
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(chunkPaths))

	for _, chunkPath := range chunkPaths {
		idStr := strings.TrimPrefix(filepath.Base(chunkPath), session+".")

		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || id < 0 {
			// temporary files and foreign files
			continue
		}

		ids = append(ids, id)
	}

	slices.SortFunc(ids, cmp.Compare[int64])

	return ids, nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return nil
}

// atomicWriteFile writes data via a unique temporary file in the same directory,
// so concurrent writes of the same path never share a temporary file.
func atomicWriteFile(path string, data []byte, mode fs.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	tmpPath := f.Name()

	cleanup := func() {
		f.Close()          //nolint:errcheck
		os.Remove(tmpPath) //nolint:errcheck
	}

	if _, err = f.Write(data); err != nil {
		cleanup()

		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err = f.Chmod(mode); err != nil {
		cleanup()

		return fmt.Errorf("failed to set temporary file mode: %w", err)
	}

	if err = f.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck

		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err = os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) //nolint:errcheck

		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}
