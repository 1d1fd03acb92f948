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

package routeindex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLiteralAndParam(t *testing.T) {
	t.Parallel()

	ix := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ix.Rebuild([]Endpoint{
		{ID: "ep-items", Host: "api.local", Method: "GET", PathPattern: "/items/{id}", CreatedAt: base},
		{ID: "ep-hello", Host: "api.local", Method: "GET", PathPattern: "/hello", CreatedAt: base},
	})

	t.Run("path param", func(t *testing.T) {
		t.Parallel()
		id, params, ok := ix.Resolve("api.local", "GET", "/items/42")
		require.True(t, ok)
		assert.Equal(t, "ep-items", id)
		assert.Equal(t, map[string]string{"id": "42"}, params)
	})

	t.Run("extra segment misses", func(t *testing.T) {
		t.Parallel()
		_, _, ok := ix.Resolve("api.local", "GET", "/items/42/extra")
		assert.False(t, ok)
	})

	t.Run("literal route", func(t *testing.T) {
		t.Parallel()
		id, params, ok := ix.Resolve("api.local", "GET", "/hello")
		require.True(t, ok)
		assert.Equal(t, "ep-hello", id)
		assert.Empty(t, params)
	})

	t.Run("unknown host", func(t *testing.T) {
		t.Parallel()
		_, _, ok := ix.Resolve("unknown.local", "GET", "/hello")
		assert.False(t, ok)
	})

	t.Run("host is case-insensitive", func(t *testing.T) {
		t.Parallel()
		id, _, ok := ix.Resolve("API.LOCAL", "get", "/hello")
		require.True(t, ok)
		assert.Equal(t, "ep-hello", id)
	})
}

func TestResolvePercentDecodedParam(t *testing.T) {
	t.Parallel()

	ix := New()
	ix.Rebuild([]Endpoint{
		{ID: "ep-ab", Host: "api.local", Method: "GET", PathPattern: "/a/{x}/b", CreatedAt: time.Now()},
	})

	id, params, ok := ix.Resolve("api.local", "GET", "/a/%2F/b")
	require.True(t, ok)
	assert.Equal(t, "ep-ab", id)
	assert.Equal(t, "/", params["x"])
}

func TestResolveDeterministicTieBreak(t *testing.T) {
	t.Parallel()

	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	ix := New()
	// Two entries that would collide on the same leaf pre-invariant; the
	// lower created_at must win regardless of slice order.
	ix.Rebuild([]Endpoint{
		{ID: "ep-new", Host: "api.local", Method: "GET", PathPattern: "/hello", CreatedAt: newer},
		{ID: "ep-old", Host: "api.local", Method: "GET", PathPattern: "/hello", CreatedAt: older},
	})

	id, _, ok := ix.Resolve("api.local", "GET", "/hello")
	require.True(t, ok)
	assert.Equal(t, "ep-old", id)
}

func TestResolveIsDeterministicAcrossRepeatedCalls(t *testing.T) {
	t.Parallel()

	ix := New()
	ix.Rebuild([]Endpoint{
		{ID: "ep-items", Host: "api.local", Method: "GET", PathPattern: "/items/{id}", CreatedAt: time.Now()},
	})

	first, firstParams, firstOK := ix.Resolve("api.local", "GET", "/items/7")
	for i := 0; i < 10; i++ {
		id, params, ok := ix.Resolve("api.local", "GET", "/items/7")
		assert.Equal(t, firstOK, ok)
		assert.Equal(t, first, id)
		assert.Equal(t, firstParams, params)
	}
}

func TestRebuildSwapIsAtomic(t *testing.T) {
	t.Parallel()

	ix := New()
	ix.Rebuild([]Endpoint{
		{ID: "v1", Host: "api.local", Method: "GET", PathPattern: "/hello", CreatedAt: time.Now()},
	})

	id, _, ok := ix.Resolve("api.local", "GET", "/hello")
	require.True(t, ok)
	assert.Equal(t, "v1", id)

	ix.Rebuild([]Endpoint{
		{ID: "v2", Host: "api.local", Method: "GET", PathPattern: "/hello", CreatedAt: time.Now()},
	})

	id, _, ok = ix.Resolve("api.local", "GET", "/hello")
	require.True(t, ok)
	assert.Equal(t, "v2", id)
}
