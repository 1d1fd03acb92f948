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

// Package dispatch is the Dispatcher: it turns one HTTP request into one
// handler invocation and back, per SPEC_FULL.md §4.E. The pipeline shape
// (allocate pooled context, run it, release it on every exit path) is
// ported from serve.go's ServeHTTP; client-IP resolution is clientip.go,
// ported from proxies.go.
package dispatch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"rivaas.dev/logging"
	"rivaas.dev/tracing"

	"github.com/rivaas-dev/edge-gateway/internal/gwerrors"
	"github.com/rivaas-dev/edge-gateway/internal/routeindex"
	"github.com/rivaas-dev/edge-gateway/internal/sdk"
	"github.com/rivaas-dev/edge-gateway/internal/service"
	"github.com/rivaas-dev/edge-gateway/internal/store"
)

// maxBodyBytes is the §4.E step 7 hard cap on request bodies.
const maxBodyBytes = 1 << 20

// defaultHandlerTimeout is used when a caller doesn't override it.
const defaultHandlerTimeout = 30 * time.Second

// Registry is the subset of internal/registry.Registry the dispatcher
// calls — kept as an interface so dispatcher tests can supply a fake
// without spawning real subprocess workers.
type Registry interface {
	Execute(ctx context.Context, endpointID string, req sdk.Request, timeout time.Duration, svc *service.Context) (sdk.Response, error)
}

// EndpointLookup is the subset of internal/store.Store the dispatcher
// needs to check enabled/compiled state for a resolved route.
type EndpointLookup interface {
	Get(ctx context.Context, id string) (store.Endpoint, bool, error)
}

// Services resolves the per-request service.Context for an endpoint. Most
// deployments return the same bundle for every endpoint; the indirection
// exists so per-endpoint service binding can be added without reshaping
// the Dispatcher.
type Services interface {
	ForEndpoint(endpointID string) (objectStore service.ObjectStore, sql service.SQL)
}

// Dispatcher implements SPEC_FULL.md §4.E.
type Dispatcher struct {
	Routes         *routeindex.Index
	Endpoints      EndpointLookup
	Registry       Registry
	Services       Services
	Proxies        *ProxyConfig
	HandlerTimeout time.Duration
	Logger         *logging.Logger
	Tracing        *tracing.Config
	ServiceMailbox int
}

func (d *Dispatcher) handlerTimeout() time.Duration {
	if d.HandlerTimeout <= 0 {
		return defaultHandlerTimeout
	}
	return d.HandlerTimeout
}

// ServeHTTP is the dynamic-dispatch entry point wired into the Gateway
// Server for every path other than the reserved ones (§6).
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()

	dctx := getDispatchContext()
	defer releaseDispatchContext(dctx)

	ctx := r.Context()
	var span trace.Span
	if d.Tracing != nil {
		ctx, span = d.Tracing.StartRequestSpan(ctx, r, r.URL.Path, false)
	}

	status := d.dispatch(ctx, w, r, requestID, dctx)

	if d.Tracing != nil {
		d.Tracing.FinishRequestSpan(span, status)
	}
	if d.Logger != nil {
		d.Logger.Info("request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
		)
	}
}

// dispatch runs steps 2-11 of §4.E and returns the status code written to
// the client, for logging/tracing to report after the fact.
func (d *Dispatcher) dispatch(ctx context.Context, w http.ResponseWriter, r *http.Request, requestID string, dctx *dispatchContext) int {
	host := stripPort(r.Host)

	// The escaped path goes to Resolve, which percent-decodes each segment
	// itself; r.URL.Path would already have turned %2F into a separator.
	endpointID, params, ok := d.Routes.Resolve(host, r.Method, r.URL.EscapedPath())
	if !ok {
		return writeText(w, http.StatusNotFound, "Not Found")
	}

	ep, found, err := d.Endpoints.Get(ctx, endpointID)
	if err != nil || !found || !ep.Enabled || !ep.Compiled {
		return writeText(w, http.StatusServiceUnavailable, "Endpoint not compiled")
	}

	parseQuery(r.URL.Query(), dctx.query)
	parseHeaders(r.Header, dctx.headers)
	for k, v := range params {
		dctx.params[k] = v
	}

	body, bodyErr := readBodyCapped(r.Body, maxBodyBytes)
	if bodyErr != nil {
		return writeText(w, http.StatusBadRequest, "request body exceeds maximum size")
	}

	clientIP := ClientIP(r, d.Proxies)

	req := sdk.Request{
		Method:    r.Method,
		Path:      r.URL.Path,
		Query:     copyMap(dctx.query),
		Headers:   copyMap(dctx.headers),
		Body:      body,
		Params:    copyMap(dctx.params),
		ClientIP:  &clientIP,
		RequestID: requestID,
	}

	var objectStore service.ObjectStore
	var sqlBackend service.SQL
	if d.Services != nil {
		objectStore, sqlBackend = d.Services.ForEndpoint(endpointID)
	}
	var objectStoreActor *service.ObjectStoreActor
	var sqlActor *service.SQLActor
	if objectStore != nil {
		objectStoreActor = service.NewObjectStoreActor(objectStore, d.mailboxSize())
		defer objectStoreActor.Close()
	}
	if sqlBackend != nil {
		sqlActor = service.NewSQLActor(sqlBackend, d.mailboxSize())
		defer sqlActor.Close()
	}
	svcCtx := service.NewContext(requestID, objectStoreActor, sqlActor)

	resp, execErr := d.Registry.Execute(ctx, endpointID, req, d.handlerTimeout(), svcCtx)
	return d.writeResult(w, resp, execErr)
}

func (d *Dispatcher) mailboxSize() int {
	if d.ServiceMailbox <= 0 {
		return 32
	}
	return d.ServiceMailbox
}

// writeResult implements §4.E step 11's registry-result-to-HTTP mapping.
func (d *Dispatcher) writeResult(w http.ResponseWriter, resp sdk.Response, err error) int {
	if err == nil {
		status := sdk.ClampStatus(resp.Status)
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
		if resp.Body != nil {
			_, _ = io.WriteString(w, *resp.Body)
		}
		return status
	}

	switch gwerrors.KindOf(err) {
	case gwerrors.KindDraining:
		return writeText(w, http.StatusServiceUnavailable, "Handler updating, please retry")
	case gwerrors.KindNoHandler:
		return writeText(w, http.StatusServiceUnavailable, "Endpoint not compiled")
	case gwerrors.KindTimeout:
		return writeText(w, http.StatusGatewayTimeout, "handler exceeded deadline")
	case gwerrors.KindHandlerCrashed:
		if d.Logger != nil {
			d.Logger.Error("handler crashed", "error", err)
		}
		return writeText(w, http.StatusInternalServerError, "internal server error")
	default:
		if d.Logger != nil {
			d.Logger.Error("dispatch failed", "error", err)
		}
		return writeText(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeText(w http.ResponseWriter, status int, body string) int {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
	return status
}

func newRequestID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// stripPort implements §4.E step 2: case-insensitive host, port stripped.
func stripPort(host string) string {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return strings.ToLower(host)
}

// parseQuery implements §4.E step 5: first value wins on collision.
func parseQuery(values map[string][]string, dst map[string]string) {
	for k, v := range values {
		if len(v) == 0 {
			continue
		}
		if _, exists := dst[k]; !exists {
			dst[k] = v[0]
		}
	}
}

// parseHeaders implements §4.E step 6: case-preserving keys flattened to
// their first value; case-insensitive lookup is the SDK Request's job
// (sdk.Request.Header), not this layer's.
func parseHeaders(h http.Header, dst map[string]string) {
	for k, v := range h {
		if len(v) == 0 {
			continue
		}
		if _, exists := dst[k]; !exists {
			dst[k] = v[0]
		}
	}
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// readBodyCapped implements §4.E step 7. It reads up to limit+1 bytes so
// an exactly-at-cap body is accepted while anything larger is rejected
// without buffering unbounded attacker-controlled input.
func readBodyCapped(r io.Reader, limit int64) (*string, error) {
	if r == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, gwerrors.New(gwerrors.KindBodyTooLarge, "request body exceeds maximum size")
	}
	if len(data) == 0 {
		return nil, nil
	}
	s := string(data)
	return &s, nil
}
