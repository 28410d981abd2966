package observability

import (
	"net"
	"net/http"
	"strings"
)

// RequestMeta is the caller metadata attached to ws lifecycle events and rate-limit keys.
type RequestMeta struct {
	DeviceID  string
	RequestID string
	IP        string
	UserAgent string
}

// RequestMetaFrom reads the client-supplied headers of r.
func RequestMetaFrom(r *http.Request) RequestMeta {
	return RequestMeta{
		DeviceID:  r.Header.Get("X-Device-ID"),
		RequestID: r.Header.Get("X-Request-ID"),
		IP:        IPFromRequest(r),
		UserAgent: r.UserAgent(),
	}
}

// IPFromRequest returns the first X-Forwarded-For hop, then X-Real-IP, then the peer address.
func IPFromRequest(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
