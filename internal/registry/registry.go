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

// Package registry is the Handler Registry: it owns every loaded handler
// version, mediates execution, and drains superseded versions without
// ever letting a call land on an artifact after it's been released. The
// current version of each endpoint lives in a map guarded by one registry
// mutex: Load/Unload swap it under that mutex (the swap-under-mutex shape
// of the teacher's atomicRouteTree in router.go), and Execute takes the
// same mutex to look it up, so the lookup is not lock-free. The subprocess
// lifecycle is adapted from worker.rs's WorkerManager.
package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rivaas-dev/edge-gateway/internal/gwerrors"
	"github.com/rivaas-dev/edge-gateway/internal/sdk"
	"github.com/rivaas-dev/edge-gateway/internal/service"
)

// State is a loaded version's place in the Ready → Draining → Terminated
// lifecycle.
type State int32

const (
	StateReady State = iota
	StateDraining
	StateTerminated
)

// workerPoolSize is how many subprocess instances back one loaded
// version. A single worker can only serve one in-flight request at a
// time (the IPC framing carries no correlation id to multiplex on), so a
// small pool is what lets "two concurrent executes on the same endpoint
// run in parallel" (§5) hold without requiring a richer wire protocol.
const workerPoolSize = 4

// version is one loaded generation of an endpoint's artifact.
type version struct {
	endpointID   string
	generation   uint64
	artifactPath string

	state    atomic.Int32
	inFlight atomic.Int64

	workers    chan *worker
	allWorkers []*worker

	terminateOnce sync.Once
}

func (v *version) State() State { return State(v.state.Load()) }

func (v *version) acquire(ctx context.Context) (*worker, error) {
	select {
	case w := <-v.workers:
		return w, nil
	case <-ctx.Done():
		return nil, gwerrors.New(gwerrors.KindTimeout, "no worker available before deadline")
	}
}

func (v *version) release(w *worker) {
	if w.isAlive() {
		v.workers <- w
		return
	}
	// A dead worker doesn't go back in the pool; execute callers degrade
	// to a smaller effective pool until the version is replaced.
}

// terminate closes every worker in the pool. Idempotent: the drain
// watchdog and an explicit Shutdown may both race to call it.
func (v *version) terminate() {
	v.terminateOnce.Do(func() {
		v.state.Store(int32(StateTerminated))
		for _, w := range v.allWorkers {
			w.kill()
		}
	})
}

// Registry implements the Handler Registry contract from SPEC_FULL.md §4.D.
type Registry struct {
	mu            sync.Mutex
	current       map[string]*version
	draining      map[string][]*version
	generationSeq map[string]uint64
	drainDeadline time.Duration
	shutdownFlag  atomic.Bool
}

// New returns an empty Registry. drainDeadline bounds how long a draining
// version is kept alive waiting for in_flight_count to reach zero.
func New(drainDeadline time.Duration) *Registry {
	if drainDeadline <= 0 {
		drainDeadline = 30 * time.Second
	}
	return &Registry{
		current:       map[string]*version{},
		draining:      map[string][]*version{},
		generationSeq: map[string]uint64{},
		drainDeadline: drainDeadline,
	}
}

// Load opens artifactPath as a pool of worker subprocesses and installs
// it as the current version for endpointID. If a Ready version already
// existed for this id, it transitions to Draining. On failure, current
// state is left untouched.
func (r *Registry) Load(ctx context.Context, endpointID, artifactPath string) error {
	if r.shutdownFlag.Load() {
		return gwerrors.ErrRegistryShutdown
	}

	workers := make([]*worker, 0, workerPoolSize)
	for i := 0; i < workerPoolSize; i++ {
		w, err := spawnWorkerFunc(artifactPath)
		if err != nil {
			for _, started := range workers {
				started.kill()
			}
			return gwerrors.Wrap(gwerrors.KindLoadFailed, "spawn handler worker", err)
		}
		workers = append(workers, w)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.generationSeq[endpointID]++
	gen := r.generationSeq[endpointID]

	v := &version{
		endpointID:   endpointID,
		generation:   gen,
		artifactPath: artifactPath,
		workers:      make(chan *worker, workerPoolSize),
		allWorkers:   workers,
	}
	v.state.Store(int32(StateReady))
	for _, w := range workers {
		v.workers <- w
	}

	if old, ok := r.current[endpointID]; ok {
		r.beginDrainLocked(endpointID, old)
	}
	r.current[endpointID] = v

	return nil
}

// Unload transitions the current version (if any) to Draining.
func (r *Registry) Unload(endpointID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.current[endpointID]
	if !ok {
		return
	}
	delete(r.current, endpointID)
	r.beginDrainLocked(endpointID, old)
}

// beginDrainLocked must be called with r.mu held.
func (r *Registry) beginDrainLocked(endpointID string, v *version) {
	v.state.Store(int32(StateDraining))
	r.draining[endpointID] = append(r.draining[endpointID], v)
	go r.watchDrain(endpointID, v)
}

// watchDrain waits for in_flight to reach zero or the drain deadline to
// elapse, whichever comes first, then releases the artifact.
func (r *Registry) watchDrain(endpointID string, v *version) {
	deadline := time.NewTimer(r.drainDeadline)
	defer deadline.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline.C:
			v.terminate()
			r.removeDraining(endpointID, v)
			return
		case <-ticker.C:
			if v.inFlight.Load() == 0 {
				v.terminate()
				r.removeDraining(endpointID, v)
				return
			}
		}
	}
}

func (r *Registry) removeDraining(endpointID string, v *version) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.draining[endpointID]
	for i, d := range list {
		if d == v {
			r.draining[endpointID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(r.draining[endpointID]) == 0 {
		delete(r.draining, endpointID)
	}
}

// Execute runs one request against the current Ready version of
// endpointID, bounded by timeout. Panics inside handleRequest cannot
// happen here (the subprocess boundary means a handler panic surfaces as
// process exit, already translated to HandlerCrashed by worker.go), but
// the call is still wrapped defensively in case a future in-process
// transport is added.
//
// svc is the per-request Service Context the dispatcher built for this
// endpoint (nil if the deployment configures no backend services); it is
// threaded down to the worker so a handler's stderr service calls have
// something to execute against.
func (r *Registry) Execute(ctx context.Context, endpointID string, req sdk.Request, timeout time.Duration, svc *service.Context) (resp sdk.Response, err error) {
	r.mu.Lock()
	v, ok := r.current[endpointID]
	if ok && v.State() == StateReady {
		v.inFlight.Add(1)
	}
	r.mu.Unlock()

	if !ok {
		return sdk.Response{}, gwerrors.New(gwerrors.KindNoHandler, "no ready version for endpoint")
	}
	if v.State() != StateReady {
		return sdk.Response{}, gwerrors.New(gwerrors.KindDraining, "current version is draining")
	}
	defer v.inFlight.Add(-1)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = gwerrors.New(gwerrors.KindHandlerCrashed, "panic invoking handler")
		}
	}()

	w, acquireErr := v.acquire(execCtx)
	if acquireErr != nil {
		return sdk.Response{}, acquireErr
	}
	resp, err = w.handleRequest(execCtx, req, svc)
	v.release(w)
	return resp, err
}

// Shutdown transitions every current version to Draining, then waits for
// every version (current and already-draining) to terminate, each on its
// own goroutine via an errgroup so one slow drain doesn't delay noticing
// that the others already finished; whichever fires first between the
// drain deadline and ctx cancellation force-terminates the stragglers.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.shutdownFlag.Store(true)

	r.mu.Lock()
	for id, v := range r.current {
		delete(r.current, id)
		r.beginDrainLocked(id, v)
	}
	pending := make([]*version, 0)
	for _, list := range r.draining {
		pending = append(pending, list...)
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	deadline := r.drainDeadline + time.Second
	for _, v := range pending {
		v := v
		g.Go(func() error {
			return waitTerminated(gctx, v, deadline)
		})
	}
	return g.Wait()
}

// waitTerminated polls v until it reaches StateTerminated, ctx is
// cancelled, or deadline elapses, force-terminating v in either of the
// latter cases. It returns an error only for a cancelled ctx, and a
// cancelled ctx is seen by every sibling goroutine at once.
func waitTerminated(ctx context.Context, v *version, deadline time.Duration) error {
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if v.State() == StateTerminated {
			return nil
		}
		select {
		case <-ctx.Done():
			v.terminate()
			return ctx.Err()
		case <-timer.C:
			v.terminate()
			return nil
		case <-ticker.C:
		}
	}
}
