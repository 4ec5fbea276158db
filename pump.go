// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Sender delivers a single chunk to the remote endpoint.
//
// Sender should be safe for concurrent use, as sends of different chunks might overlap.
type Sender[T any] interface {
	Send(ctx context.Context, chunk Chunk[T]) error
}

// SenderFunc is a function adapter for Sender.
type SenderFunc[T any] func(ctx context.Context, chunk Chunk[T]) error

// Send implements Sender.
func (f SenderFunc[T]) Send(ctx context.Context, chunk Chunk[T]) error {
	return f(ctx, chunk)
}

// Pump delivers submitted chunks asynchronously and tracks the number of pending sends.
//
// Pump implements Sink, so it can be plugged directly into Ring.
type Pump[T any] struct {
	sender Sender[T]

	// limits concurrent sends if MaxInFlight is set
	sem *semaphore.Weighted

	// waking up the dispatcher on new submits
	wakeCh chan struct{}

	// closed on Close to stop the dispatcher once the queue is empty
	doneCh chan struct{}

	// closed while there are no pending sends, re-created on the first submit
	idleCh chan struct{}

	// submitted chunks not yet handed to a sending goroutine, in submission order
	queue []Chunk[T]

	opt PumpOptions[T]

	stats PumpStats

	// waitgroup for the dispatcher and all sending goroutines
	wg sync.WaitGroup

	// synchronizing access to queue, stats, idleCh, closed
	mu sync.Mutex

	closed bool
}

// PumpStats reports pump counters.
type PumpStats struct {
	Submitted int64
	Delivered int64
	Failed    int64
	Pending   int
}

// NewPump creates new Pump delivering chunks with sender.
func NewPump[T any](sender Sender[T], opts ...PumpOptionFunc[T]) (*Pump[T], error) {
	if sender == nil {
		return nil, errors.New("sender should be set")
	}

	p := &Pump[T]{
		sender: sender,
		opt:    defaultPumpOptions[T](),
		wakeCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
		idleCh: make(chan struct{}),
	}

	for _, o := range opts {
		if err := o(&p.opt); err != nil {
			return nil, err
		}
	}

	if p.opt.MaxInFlight > 0 {
		p.sem = semaphore.NewWeighted(int64(p.opt.MaxInFlight))
	}

	close(p.idleCh)

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		p.runDispatcher()
	}()

	return p, nil
}

// Submit queues the chunk for delivery and returns immediately.
//
// The pending counter is incremented before Submit returns. After Close, the chunk
// is reported to the error handler with ErrClosed.
func (p *Pump[T]) Submit(chunk Chunk[T]) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		p.fail(chunk, ErrClosed)

		return
	}

	if p.stats.Pending == 0 {
		p.idleCh = make(chan struct{})
	}

	p.stats.Pending++
	p.stats.Submitted++
	p.queue = append(p.queue, chunk)

	p.mu.Unlock()

	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

// Pending returns the number of submitted chunks whose send hasn't settled yet.
func (p *Pump[T]) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stats.Pending
}

// Stats returns pump counters.
func (p *Pump[T]) Stats() PumpStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stats
}

// Drain waits until there are no pending sends.
//
// Drain returns immediately if nothing is pending. If ctx deadline expires first,
// Drain returns *DrainTimeoutError; outstanding sends keep going in the background.
func (p *Pump[T]) Drain(ctx context.Context) error {
	p.mu.Lock()

	if p.stats.Pending == 0 {
		p.mu.Unlock()

		return nil
	}

	idleCh := p.idleCh

	p.mu.Unlock()

	select {
	case <-idleCh:
		return nil
	case <-ctx.Done():
	}

	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("drain aborted: %w", ctx.Err())
	}

	return &DrainTimeoutError{
		Err:     ctx.Err(),
		Pending: p.Pending(),
	}
}

// DrainTimeout is Drain bounded by timeout.
func (p *Pump[T]) DrainTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return p.Drain(ctx)
}

// Close stops accepting chunks and waits for queued and in-flight sends to settle.
func (p *Pump[T]) Close() error {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return nil
	}

	p.closed = true

	p.mu.Unlock()

	close(p.doneCh)

	p.wg.Wait()

	return nil
}

func (p *Pump[T]) runDispatcher() {
	for {
		p.dispatchQueued()

		select {
		case <-p.wakeCh:
		case <-p.doneCh:
			// no submits are accepted after close, so whatever is queued now is the last batch
			p.dispatchQueued()

			return
		}
	}
}

func (p *Pump[T]) dispatchQueued() {
	p.mu.Lock()
	batch := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, chunk := range batch {
		if p.sem != nil {
			// background context never fails Acquire
			p.sem.Acquire(context.Background(), 1) //nolint:errcheck
		}

		p.wg.Add(1)

		go func() {
			defer p.wg.Done()

			if p.sem != nil {
				defer p.sem.Release(1)
			}

			p.send(chunk)
		}()
	}
}

func (p *Pump[T]) send(chunk Chunk[T]) {
	ctx := context.Background()

	if p.opt.SendTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, p.opt.SendTimeout)
		defer cancel()
	}

	start := time.Now()

	err := p.sender.Send(ctx, chunk)
	if err != nil {
		// report before settling, so that a successful Drain observes all error handler calls
		p.fail(chunk, err)
	} else {
		p.opt.Logger.Debug("chunk delivered",
			zap.Int64("chunk_id", chunk.ID),
			zap.Int("num_samples", len(chunk.Samples)),
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.stats.Failed++
	} else {
		p.stats.Delivered++
	}

	p.stats.Pending--

	if p.stats.Pending == 0 {
		close(p.idleCh)
	}
}

func (p *Pump[T]) fail(chunk Chunk[T], err error) {
	deliveryErr := &DeliveryError{
		ChunkID: chunk.ID,
		Start:   chunk.Start,
		Err:     err,
	}

	p.opt.Logger.Warn("chunk delivery failed", zap.Int64("chunk_id", chunk.ID), zap.Error(err))

	if p.opt.OnError != nil {
		p.opt.OnError(chunk, deliveryErr)
	}
}
