// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package zstd implements capture.Compressor using zstd.
package zstd

import (
	"github.com/klauspost/compress/zstd"
)

// DefaultMaxDecodedSize limits the size of a single decompressed payload.
const DefaultMaxDecodedSize = 64 << 20

// Compressor implements capture.Compressor using zstd compression.
type Compressor struct {
	dec *zstd.Decoder
	enc *zstd.Encoder
}

// NewCompressor creates new Compressor.
//
// Decompressed payloads are limited to DefaultMaxDecodedSize, as the decoder is fed
// with request bodies coming from the network.
func NewCompressor(opts ...zstd.EOption) (*Compressor, error) {
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderMaxMemory(DefaultMaxDecodedSize),
		zstd.WithDecoderConcurrency(0),
	)
	if err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		dec.Close()

		return nil, err
	}

	return &Compressor{
		dec: dec,
		enc: enc,
	}, nil
}

// Compress data using zstd.
func (c *Compressor) Compress(src, dest []byte) ([]byte, error) {
	return c.enc.EncodeAll(src, dest), nil
}

// Decompress data using zstd.
func (c *Compressor) Decompress(src, dest []byte) ([]byte, error) {
	return c.dec.DecodeAll(src, dest)
}

// Encoding implements capture.Compressor.
func (c *Compressor) Encoding() string {
	return "zstd"
}

// Close releases decoder resources.
func (c *Compressor) Close() error {
	c.dec.Close()

	return c.enc.Close()
}
