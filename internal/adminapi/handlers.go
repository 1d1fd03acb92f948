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

// Package adminapi is the Admin API (SPEC_FULL.md §4.G): CRUD over the
// Endpoint Store plus compile/enable/disable triggers, grounded on the
// original implementation's api.rs/router.rs. Request bodies decode with
// rivaas.dev/binding, DTOs validate with rivaas.dev/validation, and every
// error response renders as an RFC 9457 problem-details document via
// rivaas.dev/errors. Session/login/API-key auth stay out of scope per
// §1 — these handlers assume they are already mounted behind whatever
// auth middleware the (out-of-scope) admin layer installs.
package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"rivaas.dev/binding"
	rivaaserrors "rivaas.dev/errors"
	"rivaas.dev/logging"
	"rivaas.dev/validation"

	"github.com/rivaas-dev/edge-gateway/internal/build"
	"github.com/rivaas-dev/edge-gateway/internal/gwerrors"
	"github.com/rivaas-dev/edge-gateway/internal/store"
)

// Store is the subset of internal/store.Store the Admin API drives.
type Store interface {
	Create(ctx context.Context, spec store.CreateSpec) (store.Endpoint, error)
	Get(ctx context.Context, id string) (store.Endpoint, bool, error)
	List(ctx context.Context) ([]store.Endpoint, error)
	UpdateMeta(ctx context.Context, id string, fields store.MetaFields) error
	UpdateSource(ctx context.Context, id string, text string) error
	MarkCompiled(ctx context.Context, id string, compiled bool) error
	Delete(ctx context.Context, id string) error
}

// BuildScheduler is satisfied by internal/build.Pipeline — the
// build.schedule(id) half of §6's admin contract.
type BuildScheduler interface {
	Compile(ctx context.Context, endpointID, source string) (build.Result, error)
	ArtifactPath(endpointID string) string
}

// RouteLoader is satisfied by internal/registry.Registry: the load/unload
// half of §6's "registry.load/unload(id)" admin contract.
type RouteLoader interface {
	Load(ctx context.Context, endpointID, artifactPath string) error
	Unload(endpointID string)
}

// Handlers implements the HTTP surface mounted at /admin/endpoints....
// Route-index rebuilds after a mutation go through Reconcile rather than a
// dedicated interface here, since gatewayserver is the only place that
// knows how to turn a Store snapshot into a routeindex.Endpoint slice.
type Handlers struct {
	Store     Store
	Build     BuildScheduler
	Registry  RouteLoader
	Reconcile func(ctx context.Context) error // re-derives route index from Store; set by gatewayserver
	Logger    *logging.Logger
	Problems  *rivaaserrors.RFC9457
}

// createRequest is the CRUD request DTO, validated with
// rivaas.dev/validation's Validator interface (a Validate() method causes
// Validate() to be invoked during Validate(ctx, &req)).
type createRequest struct {
	Name        string `json:"name"`
	Host        string `json:"host"`
	PathPattern string `json:"path_pattern"`
	Method      string `json:"method"`
}

func (r *createRequest) Validate() error {
	var problems []string
	if strings.TrimSpace(r.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(r.Host) == "" {
		problems = append(problems, "host is required")
	}
	if !strings.HasPrefix(r.PathPattern, "/") {
		problems = append(problems, "path_pattern must start with /")
	}
	if !isKnownMethod(strings.ToUpper(r.Method)) {
		problems = append(problems, "method must be a valid HTTP verb")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

type updateMetaRequest struct {
	Name        *string `json:"name"`
	Host        *string `json:"host"`
	PathPattern *string `json:"path_pattern"`
	Method      *string `json:"method"`
	Enabled     *bool   `json:"enabled"`
}

type updateSourceRequest struct {
	Source string `json:"source"`
}

func (r *updateSourceRequest) Validate() error {
	if r.Source == "" {
		return errors.New("source must not be empty")
	}
	return nil
}

func isKnownMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// Create handles POST /admin/endpoints.
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeProblem(w, r, gwerrors.New(gwerrors.KindInternal, "decode request body").WithDetail(err.Error()))
		return
	}
	if err := validation.Validate(r.Context(), &req); err != nil {
		h.writeProblem(w, r, gwerrors.Wrap(gwerrors.KindConflict, "validate request", err))
		return
	}

	ep, err := h.Store.Create(r.Context(), store.CreateSpec{
		Name:        req.Name,
		Host:        req.Host,
		PathPattern: req.PathPattern,
		Method:      req.Method,
	})
	if err != nil {
		h.writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ep)
}

// List handles GET /admin/endpoints.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	eps, err := h.Store.List(r.Context())
	if err != nil {
		h.writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eps)
}

// Get handles GET /admin/endpoints/{id}.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request, id string) {
	ep, ok, err := h.Store.Get(r.Context(), id)
	if err != nil {
		h.writeProblem(w, r, err)
		return
	}
	if !ok {
		h.writeProblem(w, r, gwerrors.New(gwerrors.KindNotFound, "endpoint not found"))
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

// UpdateMeta handles PATCH /admin/endpoints/{id}.
func (h *Handlers) UpdateMeta(w http.ResponseWriter, r *http.Request, id string) {
	var req updateMetaRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeProblem(w, r, gwerrors.New(gwerrors.KindInternal, "decode request body").WithDetail(err.Error()))
		return
	}
	err := h.Store.UpdateMeta(r.Context(), id, store.MetaFields{
		Name:        req.Name,
		Host:        req.Host,
		PathPattern: req.PathPattern,
		Method:      req.Method,
		Enabled:     req.Enabled,
	})
	if err != nil {
		h.writeProblem(w, r, err)
		return
	}
	if h.Reconcile != nil {
		_ = h.Reconcile(r.Context())
	}
	h.Get(w, r, id)
}

// UpdateSource handles PUT /admin/endpoints/{id}/source.
func (h *Handlers) UpdateSource(w http.ResponseWriter, r *http.Request, id string) {
	var req updateSourceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeProblem(w, r, gwerrors.New(gwerrors.KindInternal, "decode request body").WithDetail(err.Error()))
		return
	}
	if err := validation.Validate(r.Context(), &req); err != nil {
		h.writeProblem(w, r, gwerrors.Wrap(gwerrors.KindConflict, "validate request", err))
		return
	}
	if err := h.Store.UpdateSource(r.Context(), id, req.Source); err != nil {
		h.writeProblem(w, r, err)
		return
	}
	// Source changes clear compiled/enabled; unload any loaded version so
	// stale in-flight traffic doesn't keep serving code that no longer
	// matches what's on record, per §3's "any mutation to source ...
	// invalidates the current artifact slot".
	if h.Registry != nil {
		h.Registry.Unload(id)
	}
	if h.Reconcile != nil {
		_ = h.Reconcile(r.Context())
	}
	h.Get(w, r, id)
}

// compileResponse mirrors the literal scenario in SPEC_FULL.md §8#4: a
// failed compile is still a 200 with success=false, not an HTTP error.
type compileResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Compile handles POST /admin/endpoints/{id}/compile — build.schedule(id)
// from §6. Synchronous in this implementation: SPEC_FULL.md's build
// pipeline already offloads the actual toolchain invocation onto a
// blocking-task pool (internal/build.Pipeline), so the HTTP handler just
// awaits that call rather than returning a ticket to poll.
func (h *Handlers) Compile(w http.ResponseWriter, r *http.Request, id string) {
	ep, ok, err := h.Store.Get(r.Context(), id)
	if err != nil {
		h.writeProblem(w, r, err)
		return
	}
	if !ok {
		h.writeProblem(w, r, gwerrors.New(gwerrors.KindNotFound, "endpoint not found"))
		return
	}
	if ep.Source == nil {
		writeJSON(w, http.StatusOK, compileResponse{Success: false, Error: "no source uploaded for this endpoint"})
		return
	}

	result, buildErr := h.Build.Compile(r.Context(), id, *ep.Source)
	if buildErr != nil {
		if gwerrors.KindOf(buildErr) == gwerrors.KindBusy {
			h.writeProblem(w, r, buildErr)
			return
		}
		var detail string
		var ge *gwerrors.Error
		if errors.As(buildErr, &ge) {
			detail = ge.Detail
			if detail == "" {
				detail = ge.Error()
			}
		} else {
			detail = buildErr.Error()
		}
		writeJSON(w, http.StatusOK, compileResponse{Success: false, Error: detail})
		return
	}

	if err := h.Store.MarkCompiled(r.Context(), id, true); err != nil {
		h.writeProblem(w, r, err)
		return
	}
	_ = result.ArtifactPath
	writeJSON(w, http.StatusOK, compileResponse{Success: true})
}

// Enable handles POST /admin/endpoints/{id}/enable — loads the artifact
// into the Handler Registry and flips enabled, per §4.D Load + §6.
func (h *Handlers) Enable(w http.ResponseWriter, r *http.Request, id string) {
	ep, ok, err := h.Store.Get(r.Context(), id)
	if err != nil {
		h.writeProblem(w, r, err)
		return
	}
	if !ok {
		h.writeProblem(w, r, gwerrors.New(gwerrors.KindNotFound, "endpoint not found"))
		return
	}
	if !ep.Compiled {
		h.writeProblem(w, r, gwerrors.New(gwerrors.KindNoHandler, "endpoint is not compiled"))
		return
	}

	artifact := h.Build.ArtifactPath(id)
	if err := h.Registry.Load(r.Context(), id, artifact); err != nil {
		h.writeProblem(w, r, err)
		return
	}

	enabled := true
	if err := h.Store.UpdateMeta(r.Context(), id, store.MetaFields{Enabled: &enabled}); err != nil {
		h.Registry.Unload(id)
		h.writeProblem(w, r, err)
		return
	}
	if h.Reconcile != nil {
		_ = h.Reconcile(r.Context())
	}
	h.Get(w, r, id)
}

// Disable handles POST /admin/endpoints/{id}/disable.
func (h *Handlers) Disable(w http.ResponseWriter, r *http.Request, id string) {
	_, ok, err := h.Store.Get(r.Context(), id)
	if err != nil {
		h.writeProblem(w, r, err)
		return
	}
	if !ok {
		h.writeProblem(w, r, gwerrors.New(gwerrors.KindNotFound, "endpoint not found"))
		return
	}

	enabled := false
	if err := h.Store.UpdateMeta(r.Context(), id, store.MetaFields{Enabled: &enabled}); err != nil {
		h.writeProblem(w, r, err)
		return
	}
	h.Registry.Unload(id)
	if h.Reconcile != nil {
		_ = h.Reconcile(r.Context())
	}
	h.Get(w, r, id)
}

// Delete handles DELETE /admin/endpoints/{id}.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request, id string) {
	h.Registry.Unload(id)
	if err := h.Store.Delete(r.Context(), id); err != nil {
		h.writeProblem(w, r, err)
		return
	}
	if h.Reconcile != nil {
		_ = h.Reconcile(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	return binding.JSONReaderTo(r.Body, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) writeProblem(w http.ResponseWriter, r *http.Request, err error) {
	resp := h.Problems.Format(r, kindedError{err})
	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(resp.Status)
	_ = json.NewEncoder(w).Encode(resp.Body)
	if h.Logger != nil && resp.Status >= http.StatusInternalServerError {
		h.Logger.Error("admin api request failed", "error", err, "path", r.URL.Path)
	}
}

// kindedError adapts a gwerrors.Kind to rivaas.dev/errors' ErrorType
// interface so RFC9457.Format can derive an HTTP status without a custom
// StatusResolver.
type kindedError struct{ err error }

func (k kindedError) Error() string { return k.err.Error() }
func (k kindedError) Unwrap() error { return k.err }

func (k kindedError) HTTPStatus() int {
	switch gwerrors.KindOf(k.err) {
	case gwerrors.KindNotFound:
		return http.StatusNotFound
	case gwerrors.KindConflict:
		return http.StatusConflict
	case gwerrors.KindBusy:
		return http.StatusConflict
	case gwerrors.KindBuildFailed, gwerrors.KindArtifactMissing, gwerrors.KindLoadFailed:
		return http.StatusUnprocessableEntity
	case gwerrors.KindNoHandler, gwerrors.KindDraining:
		return http.StatusServiceUnavailable
	case gwerrors.KindTimeout:
		return http.StatusGatewayTimeout
	case gwerrors.KindBodyTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}
