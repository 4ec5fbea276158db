// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package capture

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Options defines settings for Ring and FlatBuffer.
type Options struct {
	Logger *zap.Logger

	// ChunkSize is the number of positions per chunk.
	ChunkSize int
	// NumChunks is the size of the window in chunks, ring capacity is ChunkSize*NumChunks.
	NumChunks int
}

// defaultOptions returns default initial values.
func defaultOptions() Options {
	return Options{
		ChunkSize: 60,
		NumChunks: 4,
		Logger:    zap.NewNop(),
	}
}

// OptionFunc allows setting Ring options.
type OptionFunc func(*Options) error

// WithChunkSize sets the number of positions per chunk.
func WithChunkSize(size int) OptionFunc {
	return func(opt *Options) error {
		if size <= 0 {
			return fmt.Errorf("chunk size should be positive: %d", size)
		}

		opt.ChunkSize = size

		return nil
	}
}

// WithNumChunks sets the number of chunks kept in the ring.
//
// At most NumChunks-1 completed chunks are kept before the oldest one is evicted,
// the remaining chunk range holds the chunk being written.
func WithNumChunks(num int) OptionFunc {
	return func(opt *Options) error {
		if num < 2 {
			return fmt.Errorf("number of chunks should be at least 2: %d", num)
		}

		opt.NumChunks = num

		return nil
	}
}

// WithLogger sets logger for Ring.
func WithLogger(logger *zap.Logger) OptionFunc {
	return func(opt *Options) error {
		opt.Logger = logger

		return nil
	}
}

// ErrorHandler is called for every failed delivery.
//
// ErrorHandler is called from the sending goroutine, so it should be safe for concurrent use.
type ErrorHandler[T any] func(chunk Chunk[T], err error)

// PumpOptions defines settings for Pump.
type PumpOptions[T any] struct {
	Logger *zap.Logger

	OnError ErrorHandler[T]

	// SendTimeout bounds a single send, zero means no timeout.
	SendTimeout time.Duration

	// MaxInFlight limits concurrent sends, zero means unlimited.
	MaxInFlight int
}

func defaultPumpOptions[T any]() PumpOptions[T] {
	return PumpOptions[T]{
		Logger: zap.NewNop(),
	}
}

// PumpOptionFunc allows setting Pump options.
type PumpOptionFunc[T any] func(*PumpOptions[T]) error

// WithErrorHandler sets the callback invoked on failed sends.
func WithErrorHandler[T any](handler ErrorHandler[T]) PumpOptionFunc[T] {
	return func(opt *PumpOptions[T]) error {
		opt.OnError = handler

		return nil
	}
}

// WithSendTimeout bounds each send with a timeout.
//
// A send hitting the timeout settles as a failure.
func WithSendTimeout[T any](timeout time.Duration) PumpOptionFunc[T] {
	return func(opt *PumpOptions[T]) error {
		if timeout < 0 {
			return fmt.Errorf("send timeout should be non-negative: %s", timeout)
		}

		opt.SendTimeout = timeout

		return nil
	}
}

// WithMaxInFlight limits the number of concurrent sends.
//
// Submit never blocks, chunks above the limit wait in the queue and count as pending.
func WithMaxInFlight[T any](n int) PumpOptionFunc[T] {
	return func(opt *PumpOptions[T]) error {
		if n < 0 {
			return fmt.Errorf("max in flight should be non-negative: %d", n)
		}

		opt.MaxInFlight = n

		return nil
	}
}

// WithPumpLogger sets logger for Pump.
func WithPumpLogger[T any](logger *zap.Logger) PumpOptionFunc[T] {
	return func(opt *PumpOptions[T]) error {
		opt.Logger = logger

		return nil
	}
}
