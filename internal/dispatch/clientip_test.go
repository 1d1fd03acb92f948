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

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, spec ProxySpec) *ProxyConfig {
	t.Helper()
	cfg, err := CompileProxyConfig(spec)
	require.NoError(t, err)
	return cfg
}

func TestClientIPUntrustedPeerIgnoresHeaders(t *testing.T) {
	t.Parallel()
	cfg := mustCompile(t, ProxySpec{CIDRs: []string{"10.0.0.0/8"}})

	r := &http.Request{RemoteAddr: "203.0.113.9:1234", Header: http.Header{
		"X-Forwarded-For": {"198.51.100.1"},
	}}
	assert.Equal(t, "203.0.113.9", ClientIP(r, cfg))
}

func TestClientIPTrustedPeerWalksXFF(t *testing.T) {
	t.Parallel()
	cfg := mustCompile(t, ProxySpec{CIDRs: []string{"10.0.0.0/8"}, MaxHops: 1})

	r := &http.Request{RemoteAddr: "10.0.0.5:1234", Header: http.Header{
		"X-Forwarded-For": {"198.51.100.1, 10.0.0.2"},
	}}
	assert.Equal(t, "198.51.100.1", ClientIP(r, cfg))
}

func TestClientIPTrustedPeerFallsBackToXRealIP(t *testing.T) {
	t.Parallel()
	cfg := mustCompile(t, ProxySpec{CIDRs: []string{"10.0.0.0/8"}})

	r := &http.Request{RemoteAddr: "10.0.0.5:1234", Header: http.Header{
		"X-Real-Ip": {"198.51.100.2"},
	}}
	assert.Equal(t, "198.51.100.2", ClientIP(r, cfg))
}

func TestClientIPNilConfigReturnsPeer(t *testing.T) {
	t.Parallel()
	r := &http.Request{RemoteAddr: "203.0.113.9:1234"}
	assert.Equal(t, "203.0.113.9", ClientIP(r, nil))
}

func TestClientIPMaxHopsExceededStopsWalk(t *testing.T) {
	t.Parallel()
	cfg := mustCompile(t, ProxySpec{CIDRs: []string{"10.0.0.0/8"}, MaxHops: 1})

	// Two trusted hops in a row exceeds MaxHops=1 before an untrusted IP
	// is found walking right to left; the untrusted leftmost IP is still
	// reported via the original-order fallback scan.
	r := &http.Request{RemoteAddr: "10.0.0.5:1234", Header: http.Header{
		"X-Forwarded-For": {"198.51.100.1, 10.0.0.3, 10.0.0.2"},
	}}
	assert.Equal(t, "198.51.100.1", ClientIP(r, cfg))
}

func TestCompileProxyConfigRejectsInvalidCIDR(t *testing.T) {
	t.Parallel()
	_, err := CompileProxyConfig(ProxySpec{CIDRs: []string{"not-a-cidr"}})
	assert.Error(t, err)
}

func TestClientIPNoPortInRemoteAddr(t *testing.T) {
	t.Parallel()
	r := &http.Request{RemoteAddr: "203.0.113.9"}
	assert.Equal(t, "203.0.113.9", ClientIP(r, nil))
}
