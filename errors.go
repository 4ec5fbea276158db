// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package capture

import (
	"errors"
	"fmt"
)

// ErrClosed is returned (or reported) when the pump or buffer is closed.
var ErrClosed = errors.New("buffer is closed")

// ErrNegativePosition is returned when a position is below zero.
var ErrNegativePosition = errors.New("position should be non-negative")

// ErrStalePosition is returned when a write addresses a chunk which was already handed off,
// or whose slots were reused by a later chunk.
var ErrStalePosition = errors.New("position is outside of the writable window")

// ErrRewindOutOfWindow is returned when rewinding to a position which is no longer resident,
// or which is past the highest written position.
var ErrRewindOutOfWindow = errors.New("rewind position is outside of the resident window")

// ErrChunkNotFound is returned when the chunk data is no longer held by the ring.
var ErrChunkNotFound = errors.New("chunk is not held by the ring")

// ErrChunkResident is returned when resubmitting a chunk which wasn't handed off yet.
var ErrChunkResident = errors.New("chunk is still resident")

// ErrDrainTimeout is matched by *DrainTimeoutError.
var ErrDrainTimeout = errors.New("drain timed out")

// DrainTimeoutError is returned by Drain when the deadline expires before all sends settled.
//
// Outstanding sends are not cancelled.
type DrainTimeoutError struct {
	Err     error
	Pending int
}

func (e *DrainTimeoutError) Error() string {
	return fmt.Sprintf("drain timed out with %d pending send(s): %v", e.Pending, e.Err)
}

// Is implements errors.Is.
func (e *DrainTimeoutError) Is(target error) bool {
	return target == ErrDrainTimeout
}

func (e *DrainTimeoutError) Unwrap() error {
	return e.Err
}

// DeliveryError describes a failed send of a single chunk.
type DeliveryError struct {
	Err     error
	ChunkID int64
	Start   int64
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to deliver chunk %d (start %d): %v", e.ChunkID, e.Start, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
