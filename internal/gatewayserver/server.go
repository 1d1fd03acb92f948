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
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"rivaas.dev/errors"
	"rivaas.dev/logging"
	"rivaas.dev/metrics"
	"rivaas.dev/tracing"

	"github.com/rivaas-dev/edge-gateway/internal/adminapi"
	"github.com/rivaas-dev/edge-gateway/internal/build"
	"github.com/rivaas-dev/edge-gateway/internal/dispatch"
	"github.com/rivaas-dev/edge-gateway/internal/registry"
	"github.com/rivaas-dev/edge-gateway/internal/routeindex"
	"github.com/rivaas-dev/edge-gateway/internal/service"
	"github.com/rivaas-dev/edge-gateway/internal/store"
)

// Server is the top-level composition of every gateway subsystem behind
// one *http.Server, grounded on app/app.go's App: config → logging →
// metrics → tracing → storage/routing/build/registry/dispatch/admin →
// serve → graceful shutdown.
type Server struct {
	settings Settings

	logger  *logging.Logger
	metrics *metrics.Recorder
	tracing *tracing.Config

	store    *store.Store
	routes   *routeindex.Index
	registry *registry.Registry
	admin    *adminapi.Handlers
	dispatch *dispatch.Dispatcher

	httpServer *http.Server
}

// noopServices implements dispatch.Services for deployments that wire no
// backend connectors, satisfying §4.F's "handlers obtain None when a
// service is not configured" contract. Concrete connectors live outside
// this core per §1 Non-goals; a real deployment replaces this with a
// Services implementation that constructs service.ObjectStore/service.SQL
// handles (e.g. MinIO, Postgres) per endpoint.
type noopServices struct{}

func (noopServices) ForEndpoint(string) (service.ObjectStore, service.SQL) { return nil, nil }

// New builds a Server from settings. It opens the Endpoint Store,
// constructs the Route Index, Build Pipeline, and Handler Registry, and
// wires the Dispatcher and Admin API over them, but does not start
// listening — call Run for that.
func New(ctx context.Context, settings Settings) (*Server, error) {
	logger, err := logging.New(
		logging.WithServiceName(settings.ServiceName),
		logging.WithServiceVersion(settings.ServiceVersion),
		logging.WithEnvironment(settings.Environment),
		logging.WithJSONHandler(),
	)
	if err != nil {
		return nil, fmt.Errorf("gatewayserver: init logging: %w", err)
	}

	metricsOpts := []metrics.Option{
		metrics.WithServiceName(settings.ServiceName),
		metrics.WithServiceVersion(settings.ServiceVersion),
		metrics.WithServerDisabled(), // served on Server's own mux instead of metrics' built-in listener
	}
	recorder, err := metrics.New(metricsOpts...)
	if err != nil {
		return nil, fmt.Errorf("gatewayserver: init metrics: %w", err)
	}

	tracingOpts := []tracing.Option{
		tracing.WithServiceName(settings.ServiceName),
		tracing.WithServiceVersion(settings.ServiceVersion),
	}
	if settings.TracingOTLP != "" {
		tracingOpts = append(tracingOpts, tracing.WithOTLP(settings.TracingOTLP))
	} else {
		tracingOpts = append(tracingOpts, tracing.WithNoop())
	}
	tracer, err := tracing.New(tracingOpts...)
	if err != nil {
		return nil, fmt.Errorf("gatewayserver: init tracing: %w", err)
	}

	st, err := store.Open(ctx, settings.DBPath)
	if err != nil {
		return nil, fmt.Errorf("gatewayserver: open store: %w", err)
	}

	routes := routeindex.New()
	pipeline := build.New(build.Config{
		HandlersDir:  settings.HandlersDir,
		GoBinary:     settings.GoBinary,
		BuildTimeout: settings.BuildTimeout,
	})
	reg := registry.New(settings.DrainDeadline)

	s := &Server{
		settings: settings,
		logger:   logger,
		metrics:  recorder,
		tracing:  tracer,
		store:    st,
		routes:   routes,
		registry: reg,
	}

	problems := errors.NewRFC9457("https://edge-gateway.invalid/problems")
	s.admin = &adminapi.Handlers{
		Store:     st,
		Build:     pipeline,
		Registry:  reg,
		Reconcile: s.reconcileRoutes,
		Logger:    logger,
		Problems:  problems,
	}

	proxyCfg, err := dispatch.CompileProxyConfig(dispatch.ProxySpec{})
	if err != nil {
		return nil, fmt.Errorf("gatewayserver: compile proxy config: %w", err)
	}

	s.dispatch = &dispatch.Dispatcher{
		Routes:         routes,
		Endpoints:      st,
		Registry:       reg,
		Services:       noopServices{},
		Proxies:        proxyCfg,
		HandlerTimeout: settings.HandlerTimeout,
		Logger:         logger,
		Tracing:        tracer,
	}

	if err := s.reconcileRoutes(ctx); err != nil {
		return nil, fmt.Errorf("gatewayserver: initial route build: %w", err)
	}

	return s, nil
}

// reconcileRoutes re-derives the Route Index from the current Endpoint
// Store snapshot. Called once at startup and after every Admin API
// mutation that could change the enabled route set, per §4.A's "rebuild
// atomically from B on any enable/disable/create/update".
func (s *Server) reconcileRoutes(ctx context.Context) error {
	eps, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	out := make([]routeindex.Endpoint, 0, len(eps))
	for _, ep := range eps {
		if !ep.Enabled {
			continue
		}
		out = append(out, routeindex.Endpoint{
			ID:          ep.ID,
			Host:        ep.Host,
			Method:      ep.Method,
			PathPattern: ep.PathPattern,
			CreatedAt:   ep.CreatedAt,
		})
	}
	s.routes.Rebuild(out)
	return nil
}

// mux assembles the reserved paths (§6: /health, /static/*), the Admin
// API, and the catch-all dynamic dispatch path behind one handler.
func (s *Server) mux() http.Handler {
	top := http.NewServeMux()

	top.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	staticDir := s.settings.StaticDir
	if staticDir != "" {
		if info, err := os.Stat(staticDir); err == nil && info.IsDir() {
			fs := http.FileServer(http.Dir(staticDir))
			top.Handle("/static/", http.StripPrefix("/static/", fs))
			s.mountFaviconLike(top, staticDir)
		}
	}

	top.Handle("/admin/", s.admin.Mux())
	top.Handle("/metrics", s.metricsHandler())

	top.Handle("/", s.dispatch)

	return top
}

// mountFaviconLike serves conventional top-level icon files straight from
// the static directory, matching the teacher's "favicon-like filenames"
// reserved-path note in §6.
func (s *Server) mountFaviconLike(mux *http.ServeMux, staticDir string) {
	for _, name := range []string{"favicon.ico", "robots.txt", "apple-touch-icon.png"} {
		path := filepath.Join(staticDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		route := "/" + name
		file := path
		mux.HandleFunc("GET "+route, func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, file)
		})
	}
}

func (s *Server) metricsHandler() http.Handler {
	h, err := s.metrics.Handler()
	if err != nil || h == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return h
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// drains the Handler Registry and closes every subsystem within
// settings.ShutdownGrace, mirroring app.go's Serve/Shutdown pairing.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.settings.ListenAddr,
		Handler: s.mux(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway server listening", "addr", s.settings.ListenAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		if err != nil {
			return err
		}
		return s.shutdown()
	}
}

func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.settings.ShutdownGrace)
	defer cancel()

	s.logger.Info("gateway server shutting down")

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http server shutdown", "error", err)
	}
	if err := s.registry.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("registry shutdown", "error", err)
	}
	if err := s.metrics.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("metrics shutdown", "error", err)
	}
	if err := s.tracing.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("tracing shutdown", "error", err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close", "error", err)
	}
	return s.logger.Shutdown(shutdownCtx)
}
