// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package capture provides a chunked ring buffer for positional samples with asynchronous delivery.
package capture

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/siderolabs/gen/optional"
	"go.uber.org/zap"
)

// Ring implements a fixed-capacity chunked ring buffer of positional samples.
//
// Ring is not safe for concurrent use: exactly one producer drives Write, Rewind and Flush.
// Chunks leaving the ring are handed to the Sink synchronously, the Sink is expected
// to deliver them asynchronously (see Pump).
type Ring[T any] struct {
	sink Sink[T]

	// physical slots, slot for position p is p % len(slots)
	slots []slot[T]

	// chunk ranges of the slot array, range for chunk id is id % NumChunks
	spans []span

	// complete chunks which were not handed off yet, ordered by id
	resident []int64

	opt Options

	stats RingStats

	// position for the next Append
	cursor int64

	// highest written position + 1
	high int64
}

type slot[T any] struct {
	value T
	pos   int64
	set   bool
}

// span tracks the chunk currently owning a chunk range of the slot array.
type span struct {
	// chunk id, -1 if the range was never used
	id int64

	// number of distinct positions written
	written int

	complete  bool
	handedOff bool
}

func (s *span) live() bool {
	return s.id >= 0 && !s.handedOff && s.written > 0
}

// RingStats reports ring counters.
type RingStats struct {
	Writes    int64
	Evicted   int64
	Flushed   int64
	Displaced int64
}

// NewRing creates new Ring with specified options.
//
// Chunks which leave the ring are handed to sink; sink might be nil, in which case
// handed off chunks are only available as return values of Flush.
func NewRing[T any](sink Sink[T], opts ...OptionFunc) (*Ring[T], error) {
	r := &Ring[T]{
		sink: sink,
		opt:  defaultOptions(),
	}

	for _, o := range opts {
		if err := o(&r.opt); err != nil {
			return nil, err
		}
	}

	if r.opt.Logger == nil {
		return nil, fmt.Errorf("logger should be set")
	}

	r.slots = make([]slot[T], r.opt.ChunkSize*r.opt.NumChunks)
	r.spans = make([]span, r.opt.NumChunks)

	for i := range r.spans {
		r.spans[i].id = -1
	}

	return r, nil
}

// Write stores value at position and returns the value previously held by the position's slot.
//
// If position is the last position of its chunk, the chunk is marked complete (once per chunk),
// and if the number of complete chunks reaches NumChunks, the oldest one is evicted to the sink
// before Write returns.
//
// Writing into a chunk which was already handed off (or whose slots were reused by a later chunk)
// returns ErrStalePosition. Skipped positions are not an error.
func (r *Ring[T]) Write(position int64, value T) (optional.Optional[T], error) {
	if position < 0 {
		return optional.None[T](), ErrNegativePosition
	}

	id := r.chunkID(position)
	sp := r.span(id)

	switch {
	case sp.id > id, sp.id == id && sp.handedOff:
		return optional.None[T](), fmt.Errorf("write at %d (chunk %d): %w", position, id, ErrStalePosition)
	case sp.id < id:
		if sp.live() {
			// the chunk range is still held by an older chunk, push it out before reusing the slots
			reason := Displaced
			if sp.complete {
				reason = Evicted
			}

			r.handoff(sp, reason)
		}

		*sp = span{id: id}
	}

	s := &r.slots[r.slotIndex(position)]

	prev := optional.None[T]()
	if s.set {
		prev = optional.Some(s.value)
	}

	if !s.set || s.pos != position {
		sp.written++
	}

	*s = slot[T]{
		value: value,
		pos:   position,
		set:   true,
	}

	r.stats.Writes++
	r.cursor = position + 1
	r.high = max(r.high, position+1)

	if position == r.lastPosition(id) && !sp.complete {
		sp.complete = true

		idx, _ := slices.BinarySearch(r.resident, id)
		r.resident = slices.Insert(r.resident, idx, id)

		if len(r.resident) >= r.opt.NumChunks {
			r.handoff(r.span(r.resident[0]), Evicted)
		}
	}

	return prev, nil
}

// Append writes value at the cursor position.
func (r *Ring[T]) Append(value T) (optional.Optional[T], error) {
	return r.Write(r.cursor, value)
}

// Rewind moves the cursor to position and returns the value stored for that position.
//
// Rewind doesn't complete, evict or submit anything. Position should be within the window:
// not before the first position of the oldest chunk still held, and not after the highest
// written position + 1.
func (r *Ring[T]) Rewind(position int64) (optional.Optional[T], error) {
	if position < 0 {
		return optional.None[T](), ErrNegativePosition
	}

	if position > r.high || position < r.windowStart() {
		return optional.None[T](), fmt.Errorf("rewind to %d (window [%d, %d]): %w", position, r.windowStart(), r.high, ErrRewindOutOfWindow)
	}

	id := r.chunkID(position)
	sp := r.span(id)

	if sp.id > id || (sp.id == id && sp.handedOff) {
		return optional.None[T](), fmt.Errorf("rewind to %d (chunk %d): %w", position, id, ErrRewindOutOfWindow)
	}

	r.cursor = position

	return r.Lookup(position), nil
}

// Flush hands off every chunk still held, complete or not, in ascending chunk id order.
//
// Partial chunks contain only the positions written so far.
func (r *Ring[T]) Flush() []Chunk[T] {
	live := make([]*span, 0, len(r.spans))

	for i := range r.spans {
		if r.spans[i].live() {
			live = append(live, &r.spans[i])
		}
	}

	slices.SortFunc(live, func(a, b *span) int {
		return cmp.Compare(a.id, b.id)
	})

	chunks := make([]Chunk[T], 0, len(live))

	for _, sp := range live {
		chunks = append(chunks, r.handoff(sp, Flushed))
	}

	r.opt.Logger.Debug("flushed ring", zap.Int("num_chunks", len(chunks)), zap.Int64("cursor", r.cursor))

	return chunks
}

// Lookup returns the value held for position, if its slot wasn't overwritten yet.
//
// Lookup works for chunks which were already handed off as well.
func (r *Ring[T]) Lookup(position int64) optional.Optional[T] {
	if position < 0 {
		return optional.None[T]()
	}

	s := r.slots[r.slotIndex(position)]

	if !s.set || s.pos != position {
		return optional.None[T]()
	}

	return optional.Some(s.value)
}

// Resubmit rebuilds a handed off chunk from the slots and hands it to the sink again.
//
// Resubmit fails with ErrChunkNotFound if any of the chunk slots were reused by a later chunk,
// and with ErrChunkResident if the chunk wasn't handed off yet.
func (r *Ring[T]) Resubmit(id int64) (Chunk[T], error) {
	if id < 0 {
		return Chunk[T]{}, ErrNegativePosition
	}

	sp := r.span(id)

	switch {
	case sp.id != id:
		return Chunk[T]{}, fmt.Errorf("resubmit chunk %d: %w", id, ErrChunkNotFound)
	case !sp.handedOff:
		return Chunk[T]{}, fmt.Errorf("resubmit chunk %d: %w", id, ErrChunkResident)
	}

	chunk := r.collect(sp, Resubmitted)

	if r.sink != nil {
		r.sink.Submit(chunk)
	}

	return chunk, nil
}

// Cursor returns the position of the next Append.
func (r *Ring[T]) Cursor() int64 {
	return r.cursor
}

// Resident returns ids of complete chunks which were not handed off yet.
func (r *Ring[T]) Resident() []int64 {
	return slices.Clone(r.resident)
}

// Capacity returns the number of slots (ChunkSize * NumChunks).
func (r *Ring[T]) Capacity() int {
	return len(r.slots)
}

// ChunkSize returns number of positions per chunk.
func (r *Ring[T]) ChunkSize() int {
	return r.opt.ChunkSize
}

// NumChunks returns the window size in chunks.
func (r *Ring[T]) NumChunks() int {
	return r.opt.NumChunks
}

// Stats returns ring counters.
func (r *Ring[T]) Stats() RingStats {
	return r.stats
}

func (r *Ring[T]) chunkID(position int64) int64 {
	return position / int64(r.opt.ChunkSize)
}

func (r *Ring[T]) lastPosition(id int64) int64 {
	return (id+1)*int64(r.opt.ChunkSize) - 1
}

func (r *Ring[T]) slotIndex(position int64) int {
	return int(position % int64(len(r.slots)))
}

func (r *Ring[T]) span(id int64) *span {
	return &r.spans[id%int64(r.opt.NumChunks)]
}

// windowStart returns the first position of the oldest chunk still held.
func (r *Ring[T]) windowStart() int64 {
	start := int64(-1)

	for i := range r.spans {
		if r.spans[i].live() && (start == -1 || r.spans[i].id < start) {
			start = r.spans[i].id
		}
	}

	if start == -1 {
		return r.chunkID(r.high) * int64(r.opt.ChunkSize)
	}

	return start * int64(r.opt.ChunkSize)
}

// handoff marks the chunk as handed off, drops it from the resident set and submits it to the sink.
func (r *Ring[T]) handoff(sp *span, reason HandoffReason) Chunk[T] {
	chunk := r.collect(sp, reason)

	sp.handedOff = true

	if idx, found := slices.BinarySearch(r.resident, sp.id); found {
		r.resident = slices.Delete(r.resident, idx, idx+1)
	}

	switch reason {
	case Evicted:
		r.stats.Evicted++
	case Flushed:
		r.stats.Flushed++
	case Displaced:
		r.stats.Displaced++
	case Resubmitted:
	}

	r.opt.Logger.Debug("chunk handed off",
		zap.Int64("chunk_id", chunk.ID),
		zap.Stringer("reason", reason),
		zap.Int("num_samples", len(chunk.Samples)),
		zap.Bool("partial", chunk.Partial),
	)

	if r.sink != nil {
		r.sink.Submit(chunk)
	}

	return chunk
}

// collect builds a chunk out of the slots still holding positions of sp.id.
func (r *Ring[T]) collect(sp *span, reason HandoffReason) Chunk[T] {
	start := sp.id * int64(r.opt.ChunkSize)
	base := r.slotIndex(start)

	samples := make([]Sample[T], 0, sp.written)

	for i := range r.opt.ChunkSize {
		s := r.slots[base+i]

		if s.set && r.chunkID(s.pos) == sp.id {
			samples = append(samples, Sample[T]{Position: s.pos, Value: s.value})
		}
	}

	return Chunk[T]{
		ID:      sp.id,
		Start:   start,
		Samples: samples,
		Reason:  reason,
		Partial: !sp.complete,
	}
}
