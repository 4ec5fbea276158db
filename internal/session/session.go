// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package session drives a simulated capture timer: samples are written to the ring
// at a fixed rate, occasionally corrected by rewinding, and the session is finished
// with flush and drain.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/siderolabs/go-capture"
)

// Signal produces the sample value for a position.
type Signal func(position int64) float64

// Sine is the default signal.
func Sine(position int64) float64 {
	return math.Sin(float64(position) / 30)
}

// Params configures a capture session.
type Params struct {
	Signal Signal

	Logger *zap.Logger

	RingOptions []capture.OptionFunc
	PumpOptions []capture.PumpOptionFunc[float64]

	// Rate is the capture timer frequency.
	Rate float64

	// Samples is the number of positions to capture.
	Samples int64

	// RewindEvery rewinds by RewindBy positions once every RewindEvery positions (0 disables).
	RewindEvery int64
	RewindBy    int64

	DrainTimeout time.Duration
}

// Report summarizes a finished session.
type Report struct {
	// DrainErr is set if not all sends settled within DrainTimeout.
	DrainErr error

	Ring capture.RingStats
	Pump capture.PumpStats

	Elapsed time.Duration

	Written  int64
	Rewinds  int64
	Failures int64

	// Saved is true if every chunk was delivered before the drain deadline.
	Saved bool
}

// Run captures a session delivering chunks with sender.
//
// Canceling ctx stops the capture timer early; buffered data is still flushed and drained.
func Run(ctx context.Context, sender capture.Sender[float64], params Params) (Report, error) {
	if params.Rate <= 0 {
		return Report{}, fmt.Errorf("rate should be positive: %v", params.Rate)
	}

	if params.Signal == nil {
		params.Signal = Sine
	}

	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}

	if params.DrainTimeout <= 0 {
		params.DrainTimeout = 10 * time.Second
	}

	var report Report

	pumpOpts := append([]capture.PumpOptionFunc[float64]{
		capture.WithPumpLogger[float64](params.Logger),
		capture.WithErrorHandler(func(chunk capture.Chunk[float64], err error) {
			params.Logger.Warn("chunk not delivered", zap.Int64("chunk_id", chunk.ID), zap.Int64("start", chunk.Start), zap.Error(err))
		}),
	}, params.PumpOptions...)

	pump, err := capture.NewPump(sender, pumpOpts...)
	if err != nil {
		return report, err
	}

	defer pump.Close() //nolint:errcheck

	ring, err := capture.NewRing[float64](pump, append([]capture.OptionFunc{capture.WithLogger(params.Logger)}, params.RingOptions...)...)
	if err != nil {
		return report, err
	}

	limiter := rate.NewLimiter(rate.Limit(params.Rate), 1)
	start := time.Now()

	var corrected int64 = -1

	for ring.Cursor() < params.Samples {
		if err = limiter.Wait(ctx); err != nil {
			params.Logger.Info("capture stopped early", zap.Int64("cursor", ring.Cursor()), zap.Error(err))

			break
		}

		pos := ring.Cursor()

		if params.RewindEvery > 0 && pos > 0 && pos%params.RewindEvery == 0 && pos > corrected {
			corrected = pos

			if _, err = ring.Rewind(max(pos-params.RewindBy, 0)); err != nil {
				params.Logger.Debug("rewind rejected", zap.Int64("position", pos), zap.Error(err))
			} else {
				report.Rewinds++

				continue
			}
		}

		if _, err = ring.Append(params.Signal(pos)); err != nil {
			return report, fmt.Errorf("capture at %d: %w", pos, err)
		}

		report.Written++
	}

	ring.Flush()

	report.DrainErr = pump.DrainTimeout(params.DrainTimeout)
	report.Elapsed = time.Since(start)
	report.Ring = ring.Stats()
	report.Pump = pump.Stats()
	report.Failures = report.Pump.Failed
	report.Saved = report.DrainErr == nil && report.Failures == 0

	if errors.Is(report.DrainErr, capture.ErrDrainTimeout) {
		params.Logger.Warn("session not saved: deliveries still pending", zap.Error(report.DrainErr))
	}

	return report, nil
}
