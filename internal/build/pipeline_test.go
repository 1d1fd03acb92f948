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

package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rivaas-dev/edge-gateway/internal/gwerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactPathIsDeterministic(t *testing.T) {
	t.Parallel()
	p := New(Config{HandlersDir: "/var/gateway/handlers"})
	want := filepath.Join("/var/gateway/handlers", "ep-1", "bin", "handler_ep_1")
	assert.Equal(t, want, p.ArtifactPath("ep-1"))
	// Re-deriving from the id alone must produce the same path every time.
	assert.Equal(t, p.ArtifactPath("ep-1"), p.ArtifactPath("ep-1"))
}

func TestWriteWorkspaceLayout(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, writeWorkspace(dir, "ep-1", "package handler\n\nfunc Handle() {}\n"))

	goMod, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	require.NoError(t, err)
	assert.Contains(t, string(goMod), "module handler_ep_1")

	mainGo, err := os.ReadFile(filepath.Join(dir, "main.go"))
	require.NoError(t, err)
	assert.Contains(t, string(mainGo), "handler_ep_1/handler")
	assert.Contains(t, string(mainGo), "handler_ep_1/runtime")

	runtimeGo, err := os.ReadFile(filepath.Join(dir, "runtime", "runtime.go"))
	require.NoError(t, err)
	assert.Contains(t, string(runtimeGo), "func Serve(")

	handlerGo, err := os.ReadFile(filepath.Join(dir, "handler", "handler.go"))
	require.NoError(t, err)
	assert.Equal(t, "package handler\n\nfunc Handle() {}\n", string(handlerGo))
}

func TestCompileRejectsConcurrentBuildOnSameID(t *testing.T) {
	t.Parallel()
	p := New(Config{HandlersDir: t.TempDir()})

	lockVal, _ := p.locks.LoadOrStore("ep-1", &idLock{})
	lockVal.(*idLock).busy = true

	_, err := p.Compile(context.Background(), "ep-1", "package handler")
	assert.Equal(t, gwerrors.KindBusy, gwerrors.KindOf(err))
}

func TestCompileMissingToolchainReportsBuildFailed(t *testing.T) {
	t.Parallel()
	p := New(Config{HandlersDir: t.TempDir(), GoBinary: "definitely-not-a-real-go-toolchain"})

	_, err := p.Compile(context.Background(), "ep-1", "package handler")
	require.Error(t, err)
	// exec.CommandContext reports a missing binary as a BuildFailed with
	// the lookup failure captured; whatever the exact message, it must
	// not be silently swallowed or misclassified as success.
	assert.True(t, strings.Contains(gwerrors.KindOf(err).String(), "BuildFailed") || gwerrors.KindOf(err) == gwerrors.KindBuildFailed)
}
