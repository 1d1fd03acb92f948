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

package adminapi

import "net/http"

// Mux builds the fixed, statically-known Admin API route table described
// in §6: exactly the §4.B Endpoint Store operations plus
// build.schedule(id) and registry.load/unload(id). Nine routes is well
// within net/http.ServeMux's method+wildcard pattern syntax, so no
// dedicated routing library is pulled in for this surface (see DESIGN.md
// for why the teacher's own radix/bloom-filter router was dropped rather
// than revived for a route table this small).
func (h *Handlers) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /admin/endpoints", h.Create)
	mux.HandleFunc("GET /admin/endpoints", h.List)
	mux.HandleFunc("GET /admin/endpoints/{id}", func(w http.ResponseWriter, r *http.Request) {
		h.Get(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("PATCH /admin/endpoints/{id}", func(w http.ResponseWriter, r *http.Request) {
		h.UpdateMeta(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("DELETE /admin/endpoints/{id}", func(w http.ResponseWriter, r *http.Request) {
		h.Delete(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("PUT /admin/endpoints/{id}/source", func(w http.ResponseWriter, r *http.Request) {
		h.UpdateSource(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("POST /admin/endpoints/{id}/compile", func(w http.ResponseWriter, r *http.Request) {
		h.Compile(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("POST /admin/endpoints/{id}/enable", func(w http.ResponseWriter, r *http.Request) {
		h.Enable(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("POST /admin/endpoints/{id}/disable", func(w http.ResponseWriter, r *http.Request) {
		h.Disable(w, r, r.PathValue("id"))
	})

	return mux
}
