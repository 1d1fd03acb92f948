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

// Package build is the Build Pipeline: it turns an endpoint's source text
// into a runnable subprocess artifact under a deterministic per-endpoint
// workspace. The workspace layout (manifest + wrapper + user source) and
// the at-most-one-concurrent-build-per-id rule are ported from the
// original implementation's compiler.rs (compile_handler_sync), adapted
// from a Cargo crate to a standalone Go module built with `go build`.
package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rivaas-dev/edge-gateway/internal/gwerrors"
)

// Config controls where workspaces live and which toolchain builds them.
type Config struct {
	// HandlersDir is the root directory under which each endpoint gets
	// handlers/<id>/ as its workspace.
	HandlersDir string
	// GoBinary is the toolchain executable; defaults to "go".
	GoBinary string
	// BuildTimeout bounds a single build invocation.
	BuildTimeout time.Duration
}

func (c Config) goBinary() string {
	if c.GoBinary == "" {
		return "go"
	}
	return c.GoBinary
}

func (c Config) buildTimeout() time.Duration {
	if c.BuildTimeout <= 0 {
		return 2 * time.Minute
	}
	return c.BuildTimeout
}

// Pipeline compiles endpoint source into artifacts, serializing concurrent
// builds per endpoint id with a sync.Map of per-id mutexes — the same
// fine-grained per-key locking shape as the teacher's pool.go per-shard
// locks, generalized from a fixed shard count to one lock per id. A
// separate semaphore bounds the total number of `go build` invocations
// running at once across ALL endpoints, a different concern from the
// per-id lock: the per-id lock stops the same endpoint from building
// twice concurrently, the semaphore stops an Admin API burst of N
// different endpoints from starving the HTTP server's own goroutines of
// CPU.
type Pipeline struct {
	cfg    Config
	locks  sync.Map // id -> *idLock
	builds *semaphore.Weighted
}

type idLock struct {
	mu   sync.Mutex
	busy bool
}

// New returns a Pipeline writing workspaces under cfg.HandlersDir. The
// concurrent-build semaphore is sized to runtime.GOMAXPROCS(0) so the
// toolchain never oversubscribes the machine it's compiling on.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		builds: semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
	}
}

// Result describes a successful build.
type Result struct {
	ArtifactPath string
}

// Workspace returns the deterministic per-endpoint workspace directory.
func (p *Pipeline) Workspace(endpointID string) string {
	return filepath.Join(p.cfg.HandlersDir, endpointID)
}

// ArtifactPath returns the deterministic artifact path for an endpoint,
// independent of whether a build has happened yet — both the dispatcher
// and the handler registry re-derive it from the endpoint id alone.
func (p *Pipeline) ArtifactPath(endpointID string) string {
	return filepath.Join(p.Workspace(endpointID), "bin", binaryName(endpointID))
}

func binaryName(endpointID string) string {
	return "handler_" + strings.ReplaceAll(endpointID, "-", "_")
}

// Compile writes the workspace and invokes the toolchain. A second
// Compile for the same id while one is already running is rejected with
// gwerrors.KindBusy rather than coalesced onto the in-flight result —
// two different source texts racing to publish the same generation would
// otherwise be ambiguous about which one "won".
func (p *Pipeline) Compile(ctx context.Context, endpointID, source string) (Result, error) {
	lockVal, _ := p.locks.LoadOrStore(endpointID, &idLock{})
	lock := lockVal.(*idLock)

	lock.mu.Lock()
	if lock.busy {
		lock.mu.Unlock()
		return Result{}, gwerrors.New(gwerrors.KindBusy, "build already in progress for this endpoint")
	}
	lock.busy = true
	lock.mu.Unlock()

	defer func() {
		lock.mu.Lock()
		lock.busy = false
		lock.mu.Unlock()
	}()

	return p.compile(ctx, endpointID, source)
}

func (p *Pipeline) compile(ctx context.Context, endpointID, source string) (Result, error) {
	ws := p.Workspace(endpointID)
	if err := writeWorkspace(ws, endpointID, source); err != nil {
		return Result{}, gwerrors.Wrap(gwerrors.KindInternal, "write build workspace", err)
	}

	binDir := filepath.Join(ws, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return Result{}, gwerrors.Wrap(gwerrors.KindInternal, "create bin dir", err)
	}
	artifact := p.ArtifactPath(endpointID)

	buildCtx, cancel := context.WithTimeout(ctx, p.cfg.buildTimeout())
	defer cancel()

	if err := p.builds.Acquire(buildCtx, 1); err != nil {
		return Result{}, gwerrors.Wrap(gwerrors.KindTimeout, "wait for a free build slot", err)
	}
	defer p.builds.Release(1)

	cmd := exec.CommandContext(buildCtx, p.cfg.goBinary(), "build", "-o", artifact, ".")
	cmd.Dir = ws
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Result{}, gwerrors.New(gwerrors.KindBuildFailed, "toolchain exited non-zero").WithDetail(stderr.String())
	}

	if _, err := os.Stat(artifact); err != nil {
		return Result{}, gwerrors.New(gwerrors.KindArtifactMissing, fmt.Sprintf("expected artifact at %s", artifact))
	}

	return Result{ArtifactPath: artifact}, nil
}

// writeWorkspace lays out go.mod, the IPC wrapper main.go, a self-contained
// runtime package (Request/Response types + framing, so the generated
// module never needs to resolve this repository's internal packages),
// and the user's handler source, in the deterministic layout compiler.rs
// establishes for its Cargo.toml/main.rs/handler.rs triple.
func writeWorkspace(ws, endpointID, source string) error {
	moduleName := "handler_" + strings.ReplaceAll(endpointID, "-", "_")

	if err := os.MkdirAll(filepath.Join(ws, "runtime"), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(ws, "handler"), 0o755); err != nil {
		return err
	}

	files := map[string]string{
		"go.mod":            renderTemplate(goModTemplate, map[string]string{"Module": moduleName}),
		"main.go":            renderTemplate(mainTemplate, map[string]string{"Module": moduleName}),
		"runtime/runtime.go": runtimeSource,
		"handler/handler.go": source,
	}
	for rel, content := range files {
		path := filepath.Join(ws, rel)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}
	}
	return nil
}

func renderTemplate(tmpl string, data any) string {
	t := template.Must(template.New("w").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		panic(err) // template source is fixed and controlled in-repo; a failure here is a programming error
	}
	return buf.String()
}

const goModTemplate = `module {{.Module}}

go 1.24.0
`

const mainTemplate = `// Code generated by the edge gateway build pipeline. DO NOT EDIT.
package main

import (
	"os"

	"{{.Module}}/handler"
	"{{.Module}}/runtime"
)

func main() {
	runtime.Serve(os.Stdin, os.Stdout, handler.Handle)
}
`

// runtimeSource is the wire-stable Request/Response pair and the
// length-prefixed JSON framing loop, duplicated (not imported) into every
// generated module so the handler binary never depends on this
// repository's module graph — it only needs to agree on the wire format,
// per the "decouple compiler versions between host and handler" design
// note.
const runtimeSource = `package runtime

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"os"
)

type Request struct {
	Method    string            ` + "`json:\"method\"`" + `
	Path      string            ` + "`json:\"path\"`" + `
	Query     map[string]string ` + "`json:\"query\"`" + `
	Headers   map[string]string ` + "`json:\"headers\"`" + `
	Body      *string           ` + "`json:\"body,omitempty\"`" + `
	Params    map[string]string ` + "`json:\"params\"`" + `
	ClientIP  *string           ` + "`json:\"client_ip,omitempty\"`" + `
	RequestID string            ` + "`json:\"request_id\"`" + `
}

type Response struct {
	Status  int               ` + "`json:\"status\"`" + `
	Headers map[string]string ` + "`json:\"headers\"`" + `
	Body    *string           ` + "`json:\"body,omitempty\"`" + `
}

func OK(body string) Response {
	return Response{Status: 200, Headers: map[string]string{"Content-Type": "application/json"}, Body: &body}
}

// ServiceCallRequest is a structured service-call frame sent on stderr,
// the side channel reserved for it: stdin/stdout stay dedicated to the
// Request/Response loop above, so a call can be answered on stdin without
// racing the next dispatched request.
type ServiceCallRequest struct {
	Service string ` + "`json:\"service\"`" + `
	Op      string ` + "`json:\"op\"`" + `

	Bucket      string ` + "`json:\"bucket,omitempty\"`" + `
	Key         string ` + "`json:\"key,omitempty\"`" + `
	Prefix      string ` + "`json:\"prefix,omitempty\"`" + `
	Data        []byte ` + "`json:\"data,omitempty\"`" + `
	ContentType string ` + "`json:\"content_type,omitempty\"`" + `

	Query string ` + "`json:\"query,omitempty\"`" + `
	Args  []any  ` + "`json:\"args,omitempty\"`" + `
}

// ServiceObject describes one object-store entry returned from a list call.
type ServiceObject struct {
	Key          string ` + "`json:\"key\"`" + `
	Size         int64  ` + "`json:\"size\"`" + `
	LastModified string ` + "`json:\"last_modified\"`" + `
	ETag         string ` + "`json:\"etag\"`" + `
	ContentType  string ` + "`json:\"content_type\"`" + `
}

// ServiceCallResponse answers a ServiceCallRequest, delivered on stdin.
type ServiceCallResponse struct {
	Error string ` + "`json:\"error,omitempty\"`" + `

	Data     []byte           ` + "`json:\"data,omitempty\"`" + `
	Objects  []ServiceObject  ` + "`json:\"objects,omitempty\"`" + `
	Rows     []map[string]any ` + "`json:\"rows,omitempty\"`" + `
	Affected int64            ` + "`json:\"affected,omitempty\"`" + `
}

// CallService issues a service call on the stderr side channel and blocks
// for the gateway's reply on stdin. It talks to the process's actual
// stdin/stderr rather than the r/w Serve was given, since a handler calls
// this from inside its own Handle function, outside Serve's frame loop.
func CallService(req ServiceCallRequest) (ServiceCallResponse, error) {
	if err := writeFrame(os.Stderr, req); err != nil {
		return ServiceCallResponse{}, err
	}
	var resp ServiceCallResponse
	if err := readFrame(os.Stdin, &resp); err != nil {
		return ServiceCallResponse{}, err
	}
	if resp.Error != "" {
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}

// Serve runs the handler loop: read one Request frame, call handle, write
// one Response frame, repeat until stdin closes.
func Serve(r io.Reader, w io.Writer, handle func(Request) Response) {
	for {
		var req Request
		if err := readFrame(r, &req); err != nil {
			return
		}
		resp := handle(req)
		if err := writeFrame(w, resp); err != nil {
			return
		}
	}
}

func readFrame(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(header[:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}
	return json.Unmarshal(payload, v)
}

func writeFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}
`
