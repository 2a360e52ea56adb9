package httputil

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// GetClientIP extracts the real client IP from the request.
// X-Forwarded-For wins (first hop), then X-Real-IP, then RemoteAddr.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// IsNavigationRequest reports whether the browser is loading a top-level or
// framed document rather than a subresource
func IsNavigationRequest(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	// Older clients do not send fetch metadata; fall back to what they accept
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html") && r.Header.Get("X-Requested-With") == ""
}

// Origin returns scheme://host for u
func Origin(u *url.URL) string {
	if u == nil || u.Host == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + strings.ToLower(u.Host)
}

// SameOrigin reports whether u belongs to origin. Default ports are
// normalised so http://a and http://a:80 compare equal.
func SameOrigin(u *url.URL, origin string) bool {
	o, err := url.Parse(origin)
	if err != nil || u == nil {
		return false
	}
	return normalizeOrigin(u) == normalizeOrigin(o)
}

func normalizeOrigin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	switch {
	case port == "" && scheme == "https":
		port = "443"
	case port == "" && scheme == "http":
		port = "80"
	}
	return scheme + "://" + net.JoinHostPort(host, port)
}
