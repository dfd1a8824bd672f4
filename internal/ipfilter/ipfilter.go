// Package ipfilter restricts HTTP endpoints to a list of client addresses
package ipfilter

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Filter checks client addresses against allowed prefixes
type Filter struct {
	prefixes []netip.Prefix
	logger   *slog.Logger
}

// New creates a filter from IPs and CIDRs. An empty list allows everyone.
// Any malformed entry is an error so a typo never widens access.
func New(entries []string, logger *slog.Logger) (*Filter, error) {
	prefixes, err := Parse(entries)
	if err != nil {
		return nil, err
	}
	return &Filter{prefixes: prefixes, logger: logger}, nil
}

// Parse converts entries to prefixes. A bare address becomes a /32 or /128.
func Parse(entries []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid IP %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Enabled returns true if filtering is active
func (f *Filter) Enabled() bool {
	return f != nil && len(f.prefixes) > 0
}

// Allows reports whether addr is permitted
func (f *Filter) Allows(addr netip.Addr) bool {
	if !f.Enabled() {
		return true
	}
	addr = addr.Unmap()
	for _, p := range f.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// AllowsRemote checks a host:port (or bare host) remote address
func (f *Filter) AllowsRemote(remote string) bool {
	if !f.Enabled() {
		return true
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return f.Allows(addr)
}

// Middleware rejects requests whose RemoteAddr is not allowed. Forwarding
// headers are not consulted.
func (f *Filter) Middleware(next http.Handler) http.Handler {
	if !f.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.AllowsRemote(r.RemoteAddr) {
			f.logger.Warn("access denied by IP filter", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
