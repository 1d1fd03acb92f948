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

// Command gatewayd runs the edge function gateway: load configuration,
// build the Gateway Server, and serve until an OS signal requests shutdown.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rivaas-dev/edge-gateway/internal/gatewayserver"
)

func main() {
	configFile := flag.String("config", "", "path to a gateway config file (optional; env vars always apply)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	settings, err := gatewayserver.LoadSettings(ctx, *configFile)
	if err != nil {
		log.Fatalf("gatewayd: load settings: %v", err)
	}

	srv, err := gatewayserver.New(ctx, settings)
	if err != nil {
		log.Fatalf("gatewayd: init server: %v", err)
	}

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("gatewayd: %v", err)
	}
}
