package pkg

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// LocalClient is reported for loopback and private network peers (the companion app on the
// same LAN, docker bridge gateways).
const LocalClient = "local"

// ClientIP returns the device address, preferring the reverse proxy headers.
func ClientIP(r *http.Request) (string, error) {
	raw := r.Header.Get("X-Real-Ip")
	if raw == "" {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			raw, _, _ = strings.Cut(forwarded, ",")
		}
	}
	if raw == "" {
		raw = r.RemoteAddr
	}
	raw = strings.TrimSpace(raw)

	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}

	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return "", fmt.Errorf("client address %q: %w", raw, err)
	}
	if IsLocal(addr) {
		return LocalClient, nil
	}
	return addr.String(), nil
}

func IsLocal(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate()
}
