package security

import (
	"net"
	"net/http"
	"strings"
)

// ParseCIDRAllowlist parses a comma-split list of CIDR blocks, skipping
// blank entries.
func ParseCIDRAllowlist(cidrs []string) ([]*net.IPNet, error) {
	var out []*net.IPNet
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// AllowedAddr reports whether a remote "host:port" address is covered by the
// allowlist. An empty allowlist allows everything. Shared by the HTTP
// middleware and the terminal listener, which accepts connections only from
// known terminal networks when configured.
func AllowedAddr(allow []*net.IPNet, remoteAddr string) bool {
	if len(allow) == 0 {
		return true
	}

	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return false
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	for _, n := range allow {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// IPAllowlist rejects HTTP requests from addresses outside the allowlist.
func IPAllowlist(allow []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !AllowedAddr(allow, r.RemoteAddr) {
				WriteJSONError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
