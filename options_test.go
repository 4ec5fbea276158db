// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package capture_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-capture"
)

func TestRingOptions(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name string

		options []capture.OptionFunc

		expectedError    string
		expectedCapacity int
	}{
		{
			name:             "defaults",
			expectedCapacity: 240,
		},
		{
			name: "custom",
			options: []capture.OptionFunc{
				capture.WithChunkSize(5),
				capture.WithNumChunks(4),
			},
			expectedCapacity: 20,
		},
		{
			name: "zero chunk size",
			options: []capture.OptionFunc{
				capture.WithChunkSize(0),
			},
			expectedError: "chunk size should be positive: 0",
		},
		{
			name: "single chunk",
			options: []capture.OptionFunc{
				capture.WithNumChunks(1),
			},
			expectedError: "number of chunks should be at least 2: 1",
		},
		{
			name: "nil logger",
			options: []capture.OptionFunc{
				capture.WithLogger(nil),
			},
			expectedError: "logger should be set",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			r, err := capture.NewRing[int](nil, test.options...)

			if test.expectedError != "" {
				require.EqualError(t, err, test.expectedError)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, test.expectedCapacity, r.Capacity())
		})
	}
}
