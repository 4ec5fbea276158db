// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package capture

import (
	"fmt"

	"go.uber.org/zap"
)

// FlatBuffer accumulates non-positional events (e.g. transport controls) and submits
// them to the sink every N events.
//
// Events are numbered with an increasing sequence number, which is used as the sample position,
// so chunks produced by FlatBuffer share the wire format of the Ring chunks.
//
// Chunk ids start at 0, same as Ring chunk ids. Receivers key chunks by (session, chunk id),
// so a FlatBuffer sharing an endpoint with a Ring should deliver through its own Sender
// with a separate session.
//
// FlatBuffer is not safe for concurrent use.
type FlatBuffer[T any] struct {
	sink Sink[T]

	pending []Sample[T]

	opt Options

	every int

	// sequence number of the next event
	seq int64

	// id of the next chunk
	nextID int64
}

// NewFlatBuffer creates new FlatBuffer submitting a chunk for every `every` events.
func NewFlatBuffer[T any](sink Sink[T], every int, opts ...OptionFunc) (*FlatBuffer[T], error) {
	if sink == nil {
		return nil, fmt.Errorf("sink should be set")
	}

	if every <= 0 {
		return nil, fmt.Errorf("submit interval should be positive: %d", every)
	}

	b := &FlatBuffer[T]{
		sink:  sink,
		every: every,
		opt:   defaultOptions(),
	}

	for _, o := range opts {
		if err := o(&b.opt); err != nil {
			return nil, err
		}
	}

	b.pending = make([]Sample[T], 0, every)

	return b, nil
}

// Add appends an event and returns its sequence number.
func (b *FlatBuffer[T]) Add(value T) int64 {
	seq := b.seq
	b.seq++

	b.pending = append(b.pending, Sample[T]{Position: seq, Value: value})

	if len(b.pending) >= b.every {
		b.submit(false, Evicted)
	}

	return seq
}

// Flush submits buffered events, if any.
func (b *FlatBuffer[T]) Flush() {
	if len(b.pending) == 0 {
		return
	}

	b.submit(true, Flushed)
}

// Len returns the number of buffered events.
func (b *FlatBuffer[T]) Len() int {
	return len(b.pending)
}

func (b *FlatBuffer[T]) submit(partial bool, reason HandoffReason) {
	chunk := Chunk[T]{
		ID:      b.nextID,
		Start:   b.pending[0].Position,
		Samples: b.pending,
		Reason:  reason,
		Partial: partial,
	}

	b.nextID++
	b.pending = make([]Sample[T], 0, b.every)

	b.opt.Logger.Debug("submitting events", zap.Int64("chunk_id", chunk.ID), zap.Int("num_events", len(chunk.Samples)))

	b.sink.Submit(chunk)
}
