// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package httpsink implements capture.Sender posting chunks to an HTTP endpoint.
package httpsink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/siderolabs/go-capture"
	"github.com/siderolabs/go-capture/codec"
)

// Headers set on every request.
const (
	HeaderChunkID = "X-Capture-Chunk-Id"
	HeaderSession = "X-Capture-Session"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Status     string
	Body       string
	StatusCode int
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected response status %s", e.Status)
	}

	return fmt.Sprintf("unexpected response status %s: %s", e.Status, e.Body)
}

// Options defines settings for Sender.
type Options struct {
	Client *http.Client

	Codec codec.Codec

	// Compressor is optional, if set request bodies are compressed and Content-Encoding is set.
	Compressor capture.Compressor

	Logger *zap.Logger
}

// OptionFunc allows setting Sender options.
type OptionFunc func(*Options) error

// WithClient sets HTTP client.
func WithClient(client *http.Client) OptionFunc {
	return func(opt *Options) error {
		if client == nil {
			return fmt.Errorf("client should be set")
		}

		opt.Client = client

		return nil
	}
}

// WithCodec sets wire codec, default is JSON.
func WithCodec(c codec.Codec) OptionFunc {
	return func(opt *Options) error {
		if c == nil {
			return fmt.Errorf("codec should be set")
		}

		opt.Codec = c

		return nil
	}
}

// WithCompressor enables request body compression.
func WithCompressor(c capture.Compressor) OptionFunc {
	return func(opt *Options) error {
		opt.Compressor = c

		return nil
	}
}

// WithLogger sets logger for Sender.
func WithLogger(logger *zap.Logger) OptionFunc {
	return func(opt *Options) error {
		opt.Logger = logger

		return nil
	}
}

// Sender posts one request per chunk to {endpoint}/v1/sessions/{session}/chunks.
type Sender[T any] struct {
	opt Options

	url     string
	session string
}

// NewSender creates new Sender for the session.
func NewSender[T any](endpoint, session string, opts ...OptionFunc) (*Sender[T], error) {
	if session == "" {
		return nil, fmt.Errorf("session should be set")
	}

	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}

	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("endpoint should be an http(s) URL: %q", endpoint)
	}

	s := &Sender[T]{
		opt: Options{
			Client: http.DefaultClient,
			Codec:  codec.JSON,
			Logger: zap.NewNop(),
		},
		session: session,
		url:     base.JoinPath("v1", "sessions", session, "chunks").String(),
	}

	for _, o := range opts {
		if err = o(&s.opt); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Send implements capture.Sender.
func (s *Sender[T]) Send(ctx context.Context, chunk capture.Chunk[T]) error {
	body, err := s.opt.Codec.Marshal(codec.FromChunk(chunk))
	if err != nil {
		return fmt.Errorf("failed to encode chunk %d: %w", chunk.ID, err)
	}

	if s.opt.Compressor != nil {
		body, err = s.opt.Compressor.Compress(body, nil)
		if err != nil {
			return fmt.Errorf("failed to compress chunk %d: %w", chunk.ID, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", s.opt.Codec.ContentType())
	req.Header.Set(HeaderSession, s.session)
	req.Header.Set(HeaderChunkID, strconv.FormatInt(chunk.ID, 10))

	if s.opt.Compressor != nil {
		req.Header.Set("Content-Encoding", s.opt.Compressor.Encoding())
	}

	resp, err := s.opt.Client.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck

		return &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(bytes.TrimSpace(msg)),
		}
	}

	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	s.opt.Logger.Debug("posted chunk", zap.Int64("chunk_id", chunk.ID), zap.Int("body_size", len(body)), zap.String("url", s.url))

	return nil
}
