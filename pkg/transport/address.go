package transport

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseAddress validates a connection address. The scheme selects the
// transport security: ws is plain, wss is TLS. A host is required.
func ParseAddress(addr string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(addr))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: scheme %q, want ws or wss", ErrInvalidAddress, u.Scheme)
	}
	if u.Host == "" || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidAddress, addr)
	}
	return u, nil
}

// IsSecure reports whether u uses TLS.
func IsSecure(u *url.URL) bool { return u.Scheme == "wss" }
