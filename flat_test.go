// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package capture_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-capture"
)

func TestFlatBuffer(t *testing.T) {
	t.Parallel()

	rec := &recorder[string]{}

	b, err := capture.NewFlatBuffer[string](rec, 3)
	require.NoError(t, err)

	for _, ev := range []string{"play", "pause", "seek", "play", "pause"} {
		b.Add(ev)
	}

	require.Len(t, rec.chunks, 1)
	assert.Equal(t, int64(0), rec.chunks[0].ID)
	assert.Equal(t, []string{"play", "pause", "seek"}, rec.chunks[0].Values())
	assert.Equal(t, []int64{0, 1, 2}, rec.chunks[0].Positions())
	assert.False(t, rec.chunks[0].Partial)
	assert.Equal(t, 2, b.Len())

	b.Flush()
	b.Flush()

	require.Len(t, rec.chunks, 2)
	assert.Equal(t, int64(1), rec.chunks[1].ID)
	assert.Equal(t, int64(3), rec.chunks[1].Start)
	assert.Equal(t, []string{"play", "pause"}, rec.chunks[1].Values())
	assert.True(t, rec.chunks[1].Partial)
	assert.Equal(t, capture.Flushed, rec.chunks[1].Reason)

	assert.Equal(t, int64(5), b.Add("stop"))
}

func TestFlatBufferOptions(t *testing.T) {
	t.Parallel()

	_, err := capture.NewFlatBuffer[int](nil, 3)
	require.Error(t, err)

	_, err = capture.NewFlatBuffer[int](&recorder[int]{}, 0)
	require.Error(t, err)
}
