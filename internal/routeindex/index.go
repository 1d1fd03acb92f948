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
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// Endpoint is the minimal shape the route index needs from an endpoint
// record to place it in the tree. Call sites build this from store rows.
type Endpoint struct {
	ID          string
	Host        string
	Method      string
	PathPattern string
	CreatedAt   time.Time
}

// methodTree is one host's per-method collection of path trees.
type methodTree struct {
	methods map[string]*node
}

// snapshot is the whole-index immutable view installed by Rebuild.
type snapshot struct {
	hosts map[string]*methodTree
}

// Index is the Route Index: resolve(host, method, path) is lock-free on
// the fast path via an atomic.Pointer swap, mirroring the teacher's
// atomicRouteTree in router.go.
type Index struct {
	current atomic.Pointer[snapshot]
}

// New returns an empty Index ready to serve (every Resolve misses until
// the first Rebuild).
func New() *Index {
	ix := &Index{}
	ix.current.Store(&snapshot{hosts: map[string]*methodTree{}})
	return ix
}

// Rebuild installs a freshly built snapshot from endpoints. Readers that
// already hold the previous snapshot (mid-Resolve) complete against it;
// this call never blocks a concurrent Resolve.
//
// Ambiguity tie-break: endpoints are sorted by (CreatedAt, ID) ascending
// before insertion, so ties resolve to the lowest created_at then the
// lexicographically smaller id, per the documented rule in SPEC_FULL.md.
func (ix *Index) Rebuild(endpoints []Endpoint) {
	sorted := make([]Endpoint, len(endpoints))
	copy(sorted, endpoints)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	snap := &snapshot{hosts: map[string]*methodTree{}}
	for _, ep := range sorted {
		host := strings.ToLower(ep.Host)
		method := strings.ToUpper(ep.Method)

		ht, ok := snap.hosts[host]
		if !ok {
			ht = &methodTree{methods: map[string]*node{}}
			snap.hosts[host] = ht
		}
		root, ok := ht.methods[method]
		if !ok {
			root = &node{}
			ht.methods[method] = root
		}
		root.insert(ep.PathPattern, ep.ID)
	}

	ix.current.Store(snap)
}

// Resolve maps (host, method, path) to an endpoint id and captured path
// params. host is matched case-insensitively; callers are expected to
// have already stripped the port. No match returns ok=false; this never
// fails with an error, matching the teacher's resolve contract in 4.A.
func (ix *Index) Resolve(host, method, path string) (endpointID string, params map[string]string, ok bool) {
	snap := ix.current.Load()
	ht, exists := snap.hosts[strings.ToLower(host)]
	if !exists {
		return "", nil, false
	}
	root, exists := ht.methods[strings.ToUpper(method)]
	if !exists {
		return "", nil, false
	}
	return root.resolve(path)
}
