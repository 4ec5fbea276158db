// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package codec implements wire encodings of delivered chunks.
package codec

import (
	"encoding/json"
	"fmt"
	"mime"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/siderolabs/go-capture"
)

// Codec marshals payloads for the wire.
//
// Codec should be safe for concurrent use by multiple goroutines.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	ContentType() string
	Name() string
}

// Payload is the wire representation of a single chunk.
//
// Positions and Values have the same length, Positions are ascending.
type Payload[T any] struct {
	Positions []int64 `json:"positions" msgpack:"positions"`
	Values    []T     `json:"values" msgpack:"values"`
	ChunkID   int64   `json:"chunk_id" msgpack:"chunk_id"`
	Start     int64   `json:"start_position" msgpack:"start_position"`
	Partial   bool    `json:"partial,omitempty" msgpack:"partial,omitempty"`
}

// FromChunk converts a chunk to its wire payload.
func FromChunk[T any](chunk capture.Chunk[T]) Payload[T] {
	return Payload[T]{
		ChunkID:   chunk.ID,
		Start:     chunk.Start,
		Partial:   chunk.Partial,
		Positions: chunk.Positions(),
		Values:    chunk.Values(),
	}
}

// Validate checks payload consistency against the chunk size.
func (p Payload[T]) Validate(chunkSize int) error {
	if len(p.Positions) != len(p.Values) {
		return fmt.Errorf("positions and values length mismatch: %d != %d", len(p.Positions), len(p.Values))
	}

	if p.ChunkID < 0 || p.Start < 0 {
		return fmt.Errorf("chunk id and start should be non-negative: %d, %d", p.ChunkID, p.Start)
	}

	if chunkSize > 0 && p.Start != p.ChunkID*int64(chunkSize) {
		return fmt.Errorf("start position %d doesn't match chunk %d of size %d", p.Start, p.ChunkID, chunkSize)
	}

	for i, pos := range p.Positions {
		if i > 0 && pos <= p.Positions[i-1] {
			return fmt.Errorf("positions should be ascending: %d after %d", pos, p.Positions[i-1])
		}

		if pos < p.Start || (chunkSize > 0 && pos >= p.Start+int64(chunkSize)) {
			return fmt.Errorf("position %d is outside of chunk %d", pos, p.ChunkID)
		}
	}

	return nil
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) ContentType() string                { return "application/json" }
func (jsonCodec) Name() string                       { return "json" }

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
func (msgpackCodec) ContentType() string                { return "application/msgpack" }
func (msgpackCodec) Name() string                       { return "msgpack" }

// Supported codecs.
var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

var all = []Codec{JSON, Msgpack}

// ByName returns a codec by its name.
func ByName(name string) (Codec, error) {
	for _, c := range all {
		if c.Name() == name {
			return c, nil
		}
	}

	return nil, fmt.Errorf("unsupported codec %q", name)
}

// ByContentType returns a codec for the Content-Type header value.
//
// Empty content type defaults to JSON.
func ByContentType(contentType string) (Codec, error) {
	if contentType == "" {
		return JSON, nil
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("invalid content type %q: %w", contentType, err)
	}

	for _, c := range all {
		if c.ContentType() == mediaType {
			return c, nil
		}
	}

	return nil, fmt.Errorf("unsupported content type %q", mediaType)
}
