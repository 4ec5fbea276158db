// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package pebblestore implements store.Store on top of Pebble.
package pebblestore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/siderolabs/go-capture/store"
)

const keyPrefix = "chunks/"

// Store keeps chunks in a Pebble database under chunks/<session>/<big-endian chunk id>.
type Store struct {
	db     *pebble.DB
	logger *zap.Logger
	sync   bool
}

var _ store.Store = (*Store)(nil)

// Options configures Store.
type Options struct {
	Logger *zap.Logger

	// PebbleOptions allows tuning Pebble, defaults are used if nil.
	PebbleOptions *pebble.Options

	// NoSync disables WAL sync on every Put.
	NoSync bool
}

// Open opens or creates the database in dir.
func Open(dir string, opts Options) (*Store, error) {
	if dir == "" {
		return nil, errors.New("directory should be set")
	}

	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}

	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		db:     db,
		logger: logger,
		sync:   !opts.NoSync,
	}, nil
}

func sessionPrefix(session string) []byte {
	return []byte(keyPrefix + session + "/")
}

func chunkKey(session string, chunkID int64) []byte {
	return binary.BigEndian.AppendUint64(sessionPrefix(session), uint64(chunkID))
}

// prefixUpperBound returns the smallest key greater than all keys with the prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)

	for i := len(end) - 1; i >= 0; i-- {
		end[i]++

		if end[i] != 0 {
			return end[:i+1]
		}
	}

	return nil
}

// Put implements store.Store.
func (s *Store) Put(_ context.Context, session string, chunkID int64, data []byte) error {
	if err := store.ValidateKey(session, chunkID); err != nil {
		return err
	}

	writeOpts := pebble.NoSync
	if s.sync {
		writeOpts = pebble.Sync
	}

	if err := s.db.Set(chunkKey(session, chunkID), data, writeOpts); err != nil {
		return fmt.Errorf("failed to store chunk: %w", err)
	}

	s.logger.Debug("stored chunk", zap.String("session", session), zap.Int64("chunk_id", chunkID), zap.Int("size", len(data)))

	return nil
}

// Get implements store.Store.
func (s *Store) Get(_ context.Context, session string, chunkID int64) ([]byte, error) {
	if err := store.ValidateKey(session, chunkID); err != nil {
		return nil, err
	}

	val, closer, err := s.db.Get(chunkKey(session, chunkID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, store.ErrNotFound
		}

		return nil, err
	}

	defer closer.Close() //nolint:errcheck

	return append([]byte(nil), val...), nil
}

// List implements store.Store.
func (s *Store) List(_ context.Context, session string) ([]int64, error) {
	if err := store.ValidateSession(session); err != nil {
		return nil, err
	}

	prefix := sessionPrefix(session)

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}

	var ids []int64

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()

		if len(key) != len(prefix)+8 {
			continue
		}

		ids = append(ids, int64(binary.BigEndian.Uint64(key[len(prefix):])))
	}

	if err = iter.Error(); err != nil {
		iter.Close() //nolint:errcheck

		return nil, err
	}

	return ids, iter.Close()
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.db.Close()
}
