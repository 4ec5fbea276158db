// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package storetest provides a common test suite for store.Store implementations.
package storetest

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/siderolabs/go-capture/store"
)

// Run runs the suite against stores created by newStore.
//
// newStore should return an empty store, Close is called by the suite.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("put get", func(t *testing.T) {
		s := newStore(t)
		defer s.Close() //nolint:errcheck

		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "session-a", 0, []byte(`{"chunk_id":0}`)))
		require.NoError(t, s.Put(ctx, "session-a", 1, []byte(`{"chunk_id":1}`)))

		data, err := s.Get(ctx, "session-a", 1)
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"chunk_id":1}`), data)

		// overwrite
		require.NoError(t, s.Put(ctx, "session-a", 1, []byte(`{"chunk_id":1,"partial":true}`)))

		data, err = s.Get(ctx, "session-a", 1)
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"chunk_id":1,"partial":true}`), data)

		_, err = s.Get(ctx, "session-a", 2)
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.Get(ctx, "session-b", 0)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("list", func(t *testing.T) {
		s := newStore(t)
		defer s.Close() //nolint:errcheck

		ctx := context.Background()

		ids, err := s.List(ctx, "empty")
		require.NoError(t, err)
		assert.Empty(t, ids)

		for _, id := range []int64{7, 0, 300, 2, 1 << 40} {
			require.NoError(t, s.Put(ctx, "s1", id, []byte("x")))
		}

		require.NoError(t, s.Put(ctx, "s10", 5, []byte("y")))

		ids, err = s.List(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 2, 7, 300, 1 << 40}, ids)

		ids, err = s.List(ctx, "s10")
		require.NoError(t, err)
		assert.Equal(t, []int64{5}, ids)
	})

	t.Run("concurrent put", func(t *testing.T) {
		s := newStore(t)
		defer s.Close() //nolint:errcheck

		ctx := context.Background()

		large := bytes.Repeat([]byte("a"), 1<<20)
		small := bytes.Repeat([]byte("b"), 10)

		var eg errgroup.Group

		for i := range 100 {
			data := large
			if i%2 == 1 {
				data = small
			}

			eg.Go(func() error {
				return s.Put(ctx, "s", 0, data)
			})
		}

		require.NoError(t, eg.Wait())

		data, err := s.Get(ctx, "s", 0)
		require.NoError(t, err)

		// last writer wins, but the payload is never mixed
		assert.True(t, bytes.Equal(data, large) || bytes.Equal(data, small), "unexpected payload of %d bytes", len(data))

		ids, err := s.List(ctx, "s")
		require.NoError(t, err)
		assert.Equal(t, []int64{0}, ids)
	})

	t.Run("invalid keys", func(t *testing.T) {
		s := newStore(t)
		defer s.Close() //nolint:errcheck

		ctx := context.Background()

		require.Error(t, s.Put(ctx, "../escape", 0, nil))
		require.Error(t, s.Put(ctx, "ok", -1, nil))

		_, err := s.List(ctx, "a*")
		require.Error(t, err)
	})
}
