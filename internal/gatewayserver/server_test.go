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

package gatewayserver

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivaas-dev/edge-gateway/internal/store"
)

func testSettings(t *testing.T) Settings {
	t.Helper()
	dir := t.TempDir()
	return Settings{
		ListenAddr:     ":0",
		DBPath:         filepath.Join(dir, "gateway.db"),
		HandlersDir:    filepath.Join(dir, "handlers"),
		StaticDir:      filepath.Join(dir, "static"),
		GoBinary:       "go",
		BuildTimeout:   time.Minute,
		HandlerTimeout: 5 * time.Second,
		DrainDeadline:  time.Second,
		ShutdownGrace:  time.Second,
		ServiceName:    "edge-gateway-test",
		ServiceVersion: "test",
		Environment:    "test",
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(context.Background(), testSettings(t))
	require.NoError(t, err)
	return s
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	s.mux().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestStaticFileIsServedUnderPrefix(t *testing.T) {
	t.Parallel()
	settings := testSettings(t)
	require.NoError(t, os.MkdirAll(settings.StaticDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(settings.StaticDir, "widget.js"), []byte("console.log(1)"), 0o644))

	s, err := New(context.Background(), settings)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/static/widget.js", nil)
	rec := httptest.NewRecorder()
	s.mux().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())
}

func TestUnknownDynamicRouteFallsThroughToDispatcher(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/whatever/not/registered", nil)
	rec := httptest.NewRecorder()
	s.mux().ServeHTTP(rec, req)

	assert.Equal(t, 404, rec.Code)
}

func TestReconcileRoutesSkipsDisabledEndpoints(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	ep, err := s.store.Create(ctx, store.CreateSpec{
		Name:        "n",
		Host:        "api.local",
		PathPattern: "/hello",
		Method:      "GET",
	})
	require.NoError(t, err)

	require.NoError(t, s.reconcileRoutes(ctx))
	_, _, ok := s.routes.Resolve("api.local", "GET", "/hello")
	assert.False(t, ok, "disabled endpoint must not be routable")

	enabled := true
	require.NoError(t, s.store.UpdateMeta(ctx, ep.ID, store.MetaFields{Enabled: &enabled}))

	require.NoError(t, s.reconcileRoutes(ctx))
	id, _, ok := s.routes.Resolve("api.local", "GET", "/hello")
	require.True(t, ok)
	assert.Equal(t, ep.ID, id)
}
