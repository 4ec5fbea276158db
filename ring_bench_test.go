// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build !race

package capture_test

import (
	"context"
	"testing"

	"github.com/siderolabs/gen/xtesting/must"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-capture"
	"github.com/siderolabs/go-capture/codec"
	"github.com/siderolabs/go-capture/zstd"
)

func BenchmarkWrite(b *testing.B) {
	for _, test := range []struct {
		name string

		options []capture.OptionFunc

		pump bool
	}{
		{
			name: "defaults",
		},
		{
			name: "small chunks",

			options: []capture.OptionFunc{
				capture.WithChunkSize(4),
				capture.WithNumChunks(16),
			},
		},
		{
			name: "pump",

			pump: true,
		},
	} {
		b.Run(test.name, func(b *testing.B) {
			var sink capture.Sink[float64]

			if test.pump {
				p := must.Value(capture.NewPump(capture.SenderFunc[float64](func(context.Context, capture.Chunk[float64]) error {
					return nil
				})))(b)

				b.Cleanup(func() {
					require.NoError(b, p.Close())
				})

				sink = p
			}

			r, err := capture.NewRing(sink, test.options...)
			require.NoError(b, err)

			b.ReportAllocs()
			b.ResetTimer()

			for i := range b.N {
				_, err := r.Write(int64(i), float64(i))
				require.NoError(b, err)
			}
		})
	}
}

func BenchmarkEncode(b *testing.B) {
	r := must.Value(capture.NewRing[float64](nil))(b)

	for pos := range int64(r.ChunkSize() - 1) {
		_, err := r.Write(pos, float64(pos)/3)
		require.NoError(b, err)
	}

	chunk := r.Flush()[0]

	for _, test := range []struct {
		codec    codec.Codec
		compress bool
	}{
		{codec: codec.JSON},
		{codec: codec.Msgpack},
		{codec: codec.Msgpack, compress: true},
	} {
		name := test.codec.Name()
		if test.compress {
			name += "+zstd"
		}

		b.Run(name, func(b *testing.B) {
			compressor := must.Value(zstd.NewCompressor())(b)

			b.Cleanup(func() {
				require.NoError(b, compressor.Close())
			})

			var dest []byte

			b.ReportAllocs()
			b.ResetTimer()

			for range b.N {
				data, err := test.codec.Marshal(codec.FromChunk(chunk))
				require.NoError(b, err)

				if test.compress {
					dest, err = compressor.Compress(data, dest[:0])
					require.NoError(b, err)
				}
			}
		})
	}
}
