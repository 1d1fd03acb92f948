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

package registry

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/rivaas-dev/edge-gateway/internal/gwerrors"
	"github.com/rivaas-dev/edge-gateway/internal/sdk"
	"github.com/rivaas-dev/edge-gateway/internal/service"
)

// worker is one subprocess instance of a loaded artifact, speaking the
// length-prefixed JSON IPC contract over its own stdin/stdout, plus the
// stderr side channel reserved for service calls. Ported from worker.rs's
// Worker::handle_request, extended with the service-call leg
// edge-hive-sdk/src/ipc.rs left as an unfinished stderr write with no
// reply path (call_service there never actually reads a response).
type worker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	mu   sync.Mutex // serializes frames on this worker's stdin/stdout pair
	dead atomic.Bool

	serviceCalls chan sdk.ServiceCallRequest
	closed       chan struct{}
	closeOnce    sync.Once
}

// spawnWorkerFunc is the seam Load uses to start a worker; overridden in
// tests to point at a fixture subprocess instead of a real artifact path.
var spawnWorkerFunc = spawnWorker

func spawnWorker(artifactPath string) (*worker, error) {
	return newWorkerFromCmd(exec.Command(artifactPath))
}

// newWorkerFromCmd starts cmd and wires it up as a worker. Split out from
// spawnWorker so tests can point it at an arbitrary subprocess (e.g. this
// test binary re-executed as a helper process, the classic os/exec_test.go
// pattern) instead of a real compiled artifact.
func newWorkerFromCmd(cmd *exec.Cmd) (*worker, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	w := &worker{
		cmd:          cmd,
		stdin:        stdin,
		stdout:       stdout,
		stderr:       stderr,
		serviceCalls: make(chan sdk.ServiceCallRequest),
		closed:       make(chan struct{}),
	}
	go w.readServiceCalls()
	return w, nil
}

// readServiceCalls runs for the worker's whole lifetime, decoding
// ServiceCallRequest frames off stderr as they arrive and handing each one
// to whichever handleRequest call is currently in flight (there is at most
// one, since w.mu serializes request handling per worker). It exits when
// the pipe closes (process exit) or the worker is killed.
func (w *worker) readServiceCalls() {
	for {
		var call sdk.ServiceCallRequest
		if err := sdk.ReadFrame(w.stderr, &call); err != nil {
			return
		}
		select {
		case w.serviceCalls <- call:
		case <-w.closed:
			return
		}
	}
}

// isAlive reports whether the subprocess is still believed to be running.
func (w *worker) isAlive() bool {
	if w.dead.Load() {
		return false
	}
	if w.cmd.ProcessState != nil {
		return false
	}
	return true
}

// kill terminates the subprocess. Safe to call more than once.
func (w *worker) kill() {
	if w.dead.Swap(true) {
		return
	}
	w.closeOnce.Do(func() { close(w.closed) })
	_ = w.stdin.Close()
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	_ = w.cmd.Wait()
}

// handleRequest sends req and waits for the matching response, servicing
// any ServiceCallRequest frames the handler issues on stderr in the
// meantime against svc (nil if this deployment configures no services).
// If ctx is done before the response arrives, the worker is killed (the
// simple request/response framing has no correlation id to abandon
// mid-flight, so timing out a request means terminating its worker) and
// the caller is told Timeout.
func (w *worker) handleRequest(ctx context.Context, req sdk.Request, svc *service.Context) (sdk.Response, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isAlive() {
		return sdk.Response{}, gwerrors.New(gwerrors.KindHandlerCrashed, "worker process is not running")
	}

	if err := sdk.WriteFrame(w.stdin, req); err != nil {
		w.kill()
		return sdk.Response{}, gwerrors.Wrap(gwerrors.KindHandlerCrashed, "write request frame", err)
	}

	type outcome struct {
		resp sdk.Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		var resp sdk.Response
		if err := sdk.ReadFrame(w.stdout, &resp); err != nil {
			done <- outcome{err: gwerrors.Wrap(gwerrors.KindHandlerCrashed, "read response frame", err)}
			return
		}
		done <- outcome{resp: resp}
	}()

	for {
		select {
		case o := <-done:
			if o.err != nil {
				w.kill()
				return sdk.Response{}, o.err
			}
			return o.resp, nil

		case call := <-w.serviceCalls:
			reply := dispatchServiceCall(ctx, svc, call)
			if err := sdk.WriteFrame(w.stdin, reply); err != nil {
				w.kill()
				return sdk.Response{}, gwerrors.Wrap(gwerrors.KindHandlerCrashed, "write service call reply frame", err)
			}

		case <-ctx.Done():
			w.kill()
			return sdk.Response{}, gwerrors.New(gwerrors.KindTimeout, "handler exceeded deadline")
		}
	}
}
