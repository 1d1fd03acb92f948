// Copyright 2025 The Rivaas Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sdk

import (
	"bytes"
	"io"
	"testing"

	"github.com/rivaas-dev/edge-gateway/internal/gwerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	t.Run("request", func(t *testing.T) {
		t.Parallel()
		body := `{"message":"hi"}`
		want := Request{
			Method:    "GET",
			Path:      "/hello",
			Query:     map[string]string{"a": "1"},
			Headers:   map[string]string{"X-Test": "1"},
			Body:      &body,
			Params:    map[string]string{"id": "42"},
			RequestID: "abc-123",
		}

		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, want))

		var got Request
		require.NoError(t, ReadFrame(&buf, &got))
		assert.Equal(t, want, got)
	})

	t.Run("response", func(t *testing.T) {
		t.Parallel()
		body := "hi"
		want := Response{Status: 200, Headers: map[string]string{"Content-Type": "text/plain"}, Body: &body}

		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, want))

		var got Response
		require.NoError(t, ReadFrame(&buf, &got))
		assert.Equal(t, want, got)
	})
}

func TestReadFrameTruncated(t *testing.T) {
	t.Parallel()

	t.Run("short header", func(t *testing.T) {
		t.Parallel()
		buf := bytes.NewReader([]byte{0x00, 0x00})
		var got Response
		err := ReadFrame(buf, &got)
		assert.ErrorIs(t, err, gwerrors.ErrTruncatedFrame)
	})

	t.Run("short body", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, Response{Status: 200}))
		truncated := buf.Bytes()[:buf.Len()-1]

		var got Response
		err := ReadFrame(bytes.NewReader(truncated), &got)
		assert.ErrorIs(t, err, gwerrors.ErrTruncatedFrame)
	})

	t.Run("clean eof between frames", func(t *testing.T) {
		t.Parallel()
		var got Response
		err := ReadFrame(bytes.NewReader(nil), &got)
		assert.ErrorIs(t, err, io.EOF)
	})
}

func TestClampStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   int
		want int
	}{
		{"below range", 0, 200},
		{"above range", 600, 200},
		{"lower bound", 100, 100},
		{"upper bound", 599, 599},
		{"ordinary", 404, 404},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ClampStatus(tc.in))
		})
	}
}
