// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package filestore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/siderolabs/gen/xtesting/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/siderolabs/go-capture/store"
	"github.com/siderolabs/go-capture/store/filestore"
	"github.com/siderolabs/go-capture/store/storetest"
	"github.com/siderolabs/go-capture/zstd"
)

func TestStore(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) store.Store {
		return must.Value(filestore.New(t.TempDir(), filestore.WithLogger(zaptest.NewLogger(t))))(t)
	})
}

func TestCompressedStore(t *testing.T) {
	t.Parallel()

	compressor := must.Value(zstd.NewCompressor())(t)

	storetest.Run(t, func(t *testing.T) store.Store {
		return must.Value(filestore.New(t.TempDir(), filestore.WithCompressor(compressor)))(t)
	})
}

func TestLayout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	s, err := filestore.New(dir)
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "abc", 42, []byte("payload")))

	data, err := os.ReadFile(filepath.Join(dir, "abc.42"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	st, err := os.Stat(filepath.Join(dir, "abc.42"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), st.Mode().Perm())

	tmpFiles, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, tmpFiles)

	// leftover temporary files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abc.43.tmp"), []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abc.42.1234567.tmp"), []byte("partial"), 0o644))

	ids, err := s.List(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, ids)

	require.NoError(t, s.Close())
}
