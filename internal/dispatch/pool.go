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

package dispatch

import "sync"

// dispatchContext is the per-request scratch state reused across requests
// via contextPool, mirroring the teacher's globalContextPool (pool.go):
// one struct pooled by sync.Pool, reset before release rather than
// reallocated per request.
type dispatchContext struct {
	query   map[string]string
	headers map[string]string
	params  map[string]string
}

func newDispatchContext() *dispatchContext {
	return &dispatchContext{
		query:   make(map[string]string, 8),
		headers: make(map[string]string, 16),
		params:  make(map[string]string, 4),
	}
}

func (c *dispatchContext) reset() {
	for k := range c.query {
		delete(c.query, k)
	}
	for k := range c.headers {
		delete(c.headers, k)
	}
	for k := range c.params {
		delete(c.params, k)
	}
}

// contextPool is the global pool backing dispatchContext allocation. A
// package-level var matches the teacher's globalContextPool rather than an
// instance field, since the Dispatcher has exactly one of these per process.
var contextPool = sync.Pool{
	New: func() any { return newDispatchContext() },
}

func getDispatchContext() *dispatchContext {
	ctx, ok := contextPool.Get().(*dispatchContext)
	if !ok {
		panic("dispatch: pool corruption - contextPool returned non-dispatchContext type")
	}
	return ctx
}

func releaseDispatchContext(c *dispatchContext) {
	c.reset()
	contextPool.Put(c)
}
