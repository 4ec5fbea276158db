// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package capture

import (
	"github.com/siderolabs/gen/xslices"
)

// Sample is a single captured value at a logical position (frame number or tick).
type Sample[T any] struct {
	Value    T
	Position int64
}

// HandoffReason explains why a chunk left the ring.
type HandoffReason int

// Handoff reasons.
const (
	// Evicted chunks were pushed out of the resident window by a newer completed chunk.
	Evicted HandoffReason = iota
	// Flushed chunks were forced out by Flush.
	Flushed
	// Displaced chunks were never completed and a later chunk claimed their slots.
	Displaced
	// Resubmitted chunks were rebuilt from slots still holding their data.
	Resubmitted
)

func (r HandoffReason) String() string {
	switch r {
	case Evicted:
		return "evicted"
	case Flushed:
		return "flushed"
	case Displaced:
		return "displaced"
	case Resubmitted:
		return "resubmitted"
	default:
		return "unknown"
	}
}

// Chunk is a delivery request: samples of one chunk ordered by position.
//
// Samples contains only the positions actually written, so a partial chunk
// (or a chunk with skipped frames) carries fewer than chunk size samples.
type Chunk[T any] struct {
	Samples []Sample[T]

	// ID is floor(position / chunk size).
	ID int64
	// Start is the first position owned by the chunk (ID * chunk size).
	Start int64

	Reason HandoffReason

	// Partial is set if the last position of the chunk was never written.
	Partial bool
}

// Positions returns positions of the chunk samples.
func (c Chunk[T]) Positions() []int64 {
	return xslices.Map(c.Samples, func(s Sample[T]) int64 { return s.Position })
}

// Values returns values of the chunk samples.
func (c Chunk[T]) Values() []T {
	return xslices.Map(c.Samples, func(s Sample[T]) T { return s.Value })
}

// Sink accepts chunks handed off by the ring.
//
// Submit must not block the caller.
type Sink[T any] interface {
	Submit(chunk Chunk[T])
}

// SinkFunc is a function adapter for Sink.
type SinkFunc[T any] func(chunk Chunk[T])

// Submit implements Sink.
func (f SinkFunc[T]) Submit(chunk Chunk[T]) {
	f(chunk)
}
