// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package endpoint_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/siderolabs/gen/xtesting/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/siderolabs/go-capture"
	"github.com/siderolabs/go-capture/codec"
	"github.com/siderolabs/go-capture/endpoint"
	"github.com/siderolabs/go-capture/httpsink"
	"github.com/siderolabs/go-capture/store/filestore"
	"github.com/siderolabs/go-capture/zstd"
)

func newEndpoint(t *testing.T) (*httptest.Server, *zstd.Compressor) {
	t.Helper()

	compressor := must.Value(zstd.NewCompressor())(t)
	st := must.Value(filestore.New(t.TempDir()))(t)

	srv := endpoint.New(st, endpoint.Options{
		Logger:        zaptest.NewLogger(t),
		ChunkSize:     5,
		Decompressors: map[string]capture.Compressor{compressor.Encoding(): compressor},
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return ts, compressor
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()

	resp, err := http.Get(url) //nolint:noctx
	require.NoError(t, err)

	defer resp.Body.Close() //nolint:errcheck

	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}

	return resp.StatusCode
}

// TestCaptureSession delivers a full session through ring, pump and sender into the endpoint.
func TestCaptureSession(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name     string
		codec    codec.Codec
		compress bool
	}{
		{name: "json", codec: codec.JSON},
		{name: "msgpack zstd", codec: codec.Msgpack, compress: true},
	} {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			ts, compressor := newEndpoint(t)

			opts := []httpsink.OptionFunc{httpsink.WithCodec(test.codec)}
			if test.compress {
				opts = append(opts, httpsink.WithCompressor(compressor))
			}

			sender := must.Value(httpsink.NewSender[float64](ts.URL, "sess", opts...))(t)

			var failures atomic.Int64

			pump := must.Value(capture.NewPump[float64](sender, capture.WithErrorHandler(func(capture.Chunk[float64], error) {
				failures.Add(1)
			})))(t)

			ring := must.Value(capture.NewRing[float64](pump, capture.WithChunkSize(5), capture.WithNumChunks(4)))(t)

			for pos := range int64(23) {
				_, err := ring.Write(pos, float64(pos)/2)
				require.NoError(t, err)
			}

			ring.Flush()

			require.NoError(t, pump.DrainTimeout(10*time.Second))
			require.NoError(t, pump.Close())
			assert.Zero(t, failures.Load())

			var list struct {
				Session string  `json:"session"`
				Chunks  []int64 `json:"chunks"`
			}

			require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/v1/sessions/sess/chunks", &list))
			assert.Equal(t, []int64{0, 1, 2, 3, 4}, list.Chunks)

			var payload codec.Payload[float64]

			require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/v1/sessions/sess/chunks/4", &payload))
			assert.Equal(t, []int64{20, 21, 22}, payload.Positions)
			assert.Equal(t, []float64{10, 10.5, 11}, payload.Values)
			assert.True(t, payload.Partial)
		})
	}
}

func TestRejects(t *testing.T) {
	t.Parallel()

	ts, _ := newEndpoint(t)

	for _, test := range []struct {
		name        string
		path        string
		contentType string
		encoding    string
		body        string

		expectedStatus int
	}{
		{
			name:           "bad session",
			path:           "/v1/sessions/a.b/chunks",
			body:           `{}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "bad content type",
			path:           "/v1/sessions/s/chunks",
			contentType:    "text/plain",
			body:           `{}`,
			expectedStatus: http.StatusUnsupportedMediaType,
		},
		{
			name:           "bad encoding",
			path:           "/v1/sessions/s/chunks",
			encoding:       "br",
			body:           `{}`,
			expectedStatus: http.StatusUnsupportedMediaType,
		},
		{
			name:           "garbage",
			path:           "/v1/sessions/s/chunks",
			body:           `{`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid payload",
			path:           "/v1/sessions/s/chunks",
			body:           `{"chunk_id":1,"start_position":5,"positions":[5,6],"values":[1]}`,
			expectedStatus: http.StatusUnprocessableEntity,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, ts.URL+test.path, bytes.NewBufferString(test.body))
			require.NoError(t, err)

			if test.contentType != "" {
				req.Header.Set("Content-Type", test.contentType)
			}

			if test.encoding != "" {
				req.Header.Set("Content-Encoding", test.encoding)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)

			io.Copy(io.Discard, resp.Body) //nolint:errcheck
			resp.Body.Close()              //nolint:errcheck

			assert.Equal(t, test.expectedStatus, resp.StatusCode)
		})
	}

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/v1/sessions/s/chunks/0", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/v1/sessions/s/chunks/x", nil))
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/v1/healthz", nil))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}

func TestBodyRead(t *testing.T) {
	t.Parallel()

	srv := endpoint.New(must.Value(filestore.New(t.TempDir()))(t), endpoint.Options{
		Logger:      zaptest.NewLogger(t),
		MaxBodySize: 16,
	})

	for _, test := range []struct {
		name string
		body io.Reader

		expectedStatus int
	}{
		{
			name:           "too large",
			body:           bytes.NewReader(bytes.Repeat([]byte(" "), 17)),
			expectedStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:           "client went away",
			body:           failingReader{},
			expectedStatus: http.StatusBadRequest,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s/chunks", test.body)
			rec := httptest.NewRecorder()

			srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, test.expectedStatus, rec.Code)
		})
	}
}

func TestServe(t *testing.T) {
	t.Parallel()

	srv := endpoint.New(must.Value(filestore.New(t.TempDir()))(t), endpoint.Options{})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)

	go func() { errCh <- srv.Serve(ctx, l) }()

	require.EventuallyWithT(t, func(t *assert.CollectT) {
		resp, err := http.Get("http://" + l.Addr().String() + "/v1/healthz") //nolint:noctx
		if !assert.NoError(t, err) {
			return
		}

		resp.Body.Close() //nolint:errcheck

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}, 5*time.Second, 10*time.Millisecond)

	cancel()

	require.NoError(t, <-errCh)
}
