package http

import (
	"net"
	"net/http"
	"strings"
)

// IPConfig resolves the client IP behind a known set of reverse proxies.
// Forwarding headers are honored only when the peer itself sits inside one of
// the trusted ranges; anyone else can write whatever they like into
// X-Forwarded-For.
type IPConfig struct {
	trusted []*net.IPNet
}

// NewIPConfig parses the trusted proxy CIDR ranges once, up front. Entries
// that fail to parse are dropped.
func NewIPConfig(cidrs []string) *IPConfig {
	cfg := &IPConfig{}
	for _, cidr := range cidrs {
		if _, ipNet, err := net.ParseCIDR(cidr); err == nil {
			cfg.trusted = append(cfg.trusted, ipNet)
		}
	}
	return cfg
}

// ClientIP returns the originating client address for the request. For
// requests arriving through a trusted proxy it walks X-Forwarded-For, then
// X-Real-IP; everything else resolves to the socket peer. Safe on a nil
// receiver, which behaves as "no trusted proxies".
func (c *IPConfig) ClientIP(r *http.Request) string {
	peer := peerAddr(r)

	if c.isTrustedProxy(peer) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			for _, hop := range strings.Split(xff, ",") {
				hop = strings.TrimSpace(hop)
				if net.ParseIP(hop) != nil {
					return hop
				}
			}
		}

		if xri := r.Header.Get("X-Real-IP"); xri != "" && net.ParseIP(xri) != nil {
			return xri
		}
	}

	return peer
}

func (c *IPConfig) isTrustedProxy(addr string) bool {
	if c == nil || len(c.trusted) == 0 {
		return false
	}

	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}

	for _, ipNet := range c.trusted {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// peerAddr strips the port from RemoteAddr.
func peerAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
