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

// Package gatewayserver is the Gateway Server (SPEC_FULL.md §4.H): the
// top-level composition of every other component behind one
// *http.Server, grounded on app/app.go's config → logging → metrics →
// tracing → router → serve/shutdown pipeline.
package gatewayserver

import (
	"context"
	"time"

	"rivaas.dev/config"
)

// Settings is the process configuration (SPEC_FULL.md §2 component J),
// loaded via rivaas.dev/config from file + environment, mirroring the
// teacher ecosystem's WithFile/WithEnv/WithBinding composition.
type Settings struct {
	ListenAddr     string        `config:"listen_addr" default:":8080"`
	DBPath         string        `config:"db_path" default:"gateway.db"`
	HandlersDir    string        `config:"handlers_dir" default:"handlers"`
	StaticDir      string        `config:"static_dir" default:"static"`
	GoBinary       string        `config:"go_binary" default:"go"`
	BuildTimeout   time.Duration `config:"build_timeout" default:"2m"`
	HandlerTimeout time.Duration `config:"handler_timeout" default:"30s"`
	DrainDeadline  time.Duration `config:"drain_deadline" default:"30s"`
	ShutdownGrace  time.Duration `config:"shutdown_grace" default:"30s"`
	ServiceName    string        `config:"service_name" default:"edge-gateway"`
	ServiceVersion string        `config:"service_version" default:"dev"`
	Environment    string        `config:"environment" default:"development"`
	TracingOTLP    string        `config:"tracing_otlp"`
}

// LoadSettings reads Settings from an optional file plus GATEWAY_-prefixed
// environment variables, the same two-source layering app.go's examples
// use for their own config.New calls.
func LoadSettings(ctx context.Context, filePath string) (Settings, error) {
	var settings Settings

	opts := []config.Option{
		config.WithEnv("GATEWAY_"),
		config.WithBinding(&settings),
	}
	if filePath != "" {
		opts = append([]config.Option{config.WithFile(filePath)}, opts...)
	}

	cfg, err := config.New(opts...)
	if err != nil {
		return Settings{}, err
	}
	if err := cfg.Load(ctx); err != nil {
		return Settings{}, err
	}
	return settings, nil
}
