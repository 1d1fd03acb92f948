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
	"fmt"
	"net"
	"net/http"
	"strings"
)

// RealIPHeader names a header consulted for real client IP detection.
type RealIPHeader string

const (
	HeaderXFF         RealIPHeader = "X-Forwarded-For"
	HeaderXRealIP     RealIPHeader = "X-Real-IP"
	HeaderCFConnecting RealIPHeader = "CF-Connecting-IP"
)

// ProxyConfig is the compiled trusted-proxy configuration consulted by
// ClientIP, ported from proxies.go's realIPConfig.
type ProxyConfig struct {
	cidrs   []*net.IPNet
	headers []RealIPHeader
	maxHops int
}

// ProxySpec is the pre-compile form a deployment's configuration supplies.
type ProxySpec struct {
	CIDRs   []string
	Headers []RealIPHeader
	MaxHops int
}

// CompileProxyConfig parses CIDRs and applies defaults (headers
// [X-Forwarded-For, X-Real-IP], max_hops 1), mirroring compileProxies.
func CompileProxyConfig(spec ProxySpec) (*ProxyConfig, error) {
	cfg := &ProxyConfig{
		headers: spec.Headers,
		maxHops: spec.MaxHops,
	}
	if len(cfg.headers) == 0 {
		cfg.headers = []RealIPHeader{HeaderXFF, HeaderXRealIP}
	}
	if cfg.maxHops <= 0 {
		cfg.maxHops = 1
	}

	cfg.cidrs = make([]*net.IPNet, 0, len(spec.CIDRs))
	for _, cidr := range spec.CIDRs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
		}
		cfg.cidrs = append(cfg.cidrs, ipnet)
	}
	return cfg, nil
}

func (cfg *ProxyConfig) isTrusted(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, ipnet := range cfg.cidrs {
		if ipnet.Contains(parsed) {
			return true
		}
	}
	return false
}

// ClientIP resolves the §4.E client_ip field: the request's peer address,
// or (when the peer is a trusted proxy) the address found by walking its
// forwarding headers. cfg may be nil, meaning no proxies are trusted.
func ClientIP(r *http.Request, cfg *ProxyConfig) string {
	remote := clientIPFromRemoteAddr(r.RemoteAddr)

	if cfg == nil {
		return remote
	}
	if !cfg.isTrusted(remote) {
		return remote
	}

	for _, h := range cfg.headers {
		switch h {
		case HeaderXFF:
			if ip := lastUntrustedXFF(r.Header.Get("X-Forwarded-For"), cfg); ip != "" {
				return ip
			}
		case HeaderXRealIP:
			if ip := parseOneIP(r.Header.Get("X-Real-IP")); ip != "" {
				return ip
			}
		case HeaderCFConnecting:
			if ip := parseOneIP(r.Header.Get("Cf-Connecting-Ip")); ip != "" {
				return ip
			}
		default:
			if ip := parseOneIP(r.Header.Get(string(h))); ip != "" {
				return ip
			}
		}
	}

	return remote
}

func clientIPFromRemoteAddr(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// lastUntrustedXFF walks the X-Forwarded-For chain right to left, tracking
// trusted hop count against cfg.maxHops, and returns the leftmost
// untrusted IP — the client as seen from the outermost untrusted edge.
func lastUntrustedXFF(xff string, cfg *ProxyConfig) string {
	if xff == "" {
		return ""
	}

	parts := splitAndTrim(xff, ',')
	if len(parts) == 0 {
		return ""
	}

	hops := 0
	leftmostUntrusted := ""

	for i := len(parts) - 1; i >= 0; i-- {
		ip := parseOneIP(parts[i])
		if ip == "" {
			continue
		}
		if cfg.isTrusted(ip) {
			hops++
			if cfg.maxHops > 0 && hops > cfg.maxHops {
				break
			}
			continue
		}
		leftmostUntrusted = ip
	}

	if leftmostUntrusted != "" {
		for _, p := range parts {
			if ip := parseOneIP(p); ip != "" && !cfg.isTrusted(ip) {
				return ip
			}
		}
		return leftmostUntrusted
	}

	if len(parts) > 0 {
		if ip := parseOneIP(parts[0]); ip != "" {
			return ip
		}
	}

	return ""
}

func parseOneIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return ""
	}
	return ip.String()
}

func splitAndTrim(s string, sep byte) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, string(sep))
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
