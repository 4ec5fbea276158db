// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package endpoint implements the HTTP receiver of delivered chunks.
package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/siderolabs/go-capture"
	"github.com/siderolabs/go-capture/codec"
	"github.com/siderolabs/go-capture/store"
)

// Options defines settings for Server.
type Options struct {
	Logger *zap.Logger

	// Decompressors by Content-Encoding token.
	Decompressors map[string]capture.Compressor

	// ChunkSize is used to validate payloads, zero disables the range checks.
	ChunkSize int

	// MaxBodySize limits request bodies (before decompression).
	MaxBodySize int64
}

// Server receives chunks posted by httpsink.Sender and keeps them in the store.
//
// Payloads are validated and stored re-encoded as JSON.
type Server struct {
	store store.Store
	srv   *http.Server
	mux   *http.ServeMux
	opt   Options
}

// New creates new Server.
func New(st store.Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 16 << 20
	}

	mux := http.NewServeMux()

	s := &Server{
		store: st,
		mux:   mux,
		opt:   opts,
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	mux.HandleFunc("GET /v1/healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/sessions/{session}/chunks", s.handlePut)
	mux.HandleFunc("GET /v1/sessions/{session}/chunks", s.handleList)
	mux.HandleFunc("GET /v1/sessions/{session}/chunks/{id}", s.handleGet)

	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve serves on the listener until ctx is canceled.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	errCh := make(chan error, 1)

	go func() { errCh <- s.srv.Serve(l) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}

		<-errCh

		return nil
	case err := <-errCh:
		return err
	}
}

// ListenAndServe listens on addr and serves until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.opt.Logger.Info("serving capture endpoint", zap.Stringer("addr", l.Addr()))

	return s.Serve(ctx, l)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	session := r.PathValue("session")

	if err := store.ValidateSession(session); err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	c, err := codec.ByContentType(r.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err)

		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opt.MaxBodySize))
	if err != nil {
		status := http.StatusBadRequest

		if errors.As(err, new(*http.MaxBytesError)) {
			status = http.StatusRequestEntityTooLarge
		}

		writeError(w, status, fmt.Errorf("failed to read body: %w", err))

		return
	}

	if encoding := r.Header.Get("Content-Encoding"); encoding != "" && encoding != "identity" {
		decompressor, ok := s.opt.Decompressors[encoding]
		if !ok {
			writeError(w, http.StatusUnsupportedMediaType, fmt.Errorf("unsupported content encoding %q", encoding))

			return
		}

		body, err = decompressor.Decompress(body, nil)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("failed to decompress body: %w", err))

			return
		}
	}

	var payload codec.Payload[any]

	if err = c.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("failed to decode payload: %w", err))

		return
	}

	if err = payload.Validate(s.opt.ChunkSize); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)

		return
	}

	normalized, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("failed to re-encode payload: %w", err))

		return
	}

	if err = s.store.Put(r.Context(), session, payload.ChunkID, normalized); err != nil {
		s.opt.Logger.Error("failed to store chunk", zap.String("session", session), zap.Int64("chunk_id", payload.ChunkID), zap.Error(err))

		writeError(w, http.StatusInternalServerError, errors.New("failed to store chunk"))

		return
	}

	s.opt.Logger.Debug("received chunk",
		zap.String("session", session),
		zap.Int64("chunk_id", payload.ChunkID),
		zap.Int("num_samples", len(payload.Positions)),
		zap.Bool("partial", payload.Partial),
	)

	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	session := r.PathValue("session")

	ids, err := s.store.List(r.Context(), session)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	if ids == nil {
		ids = []int64{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"session": session, "chunks": ids})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	session := r.PathValue("session")

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid chunk id: %w", err))

		return
	}

	data, err := s.store.Get(r.Context(), session, id)

	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
	default:
		w.Header().Set("Content-Type", codec.JSON.ContentType())
		w.WriteHeader(http.StatusOK)
		w.Write(data) //nolint:errcheck
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", codec.JSON.ContentType())
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
