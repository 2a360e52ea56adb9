package httputil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expectedIP string
	}{
		{
			name:       "X-Forwarded-For single IPv4",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5"},
			expectedIP: "203.0.113.5",
		},
		{
			name:       "X-Forwarded-For chain takes first",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.7, 203.0.113.9"},
			expectedIP: "198.51.100.7",
		},
		{
			name:       "X-Real-IP",
			headers:    map[string]string{"X-Real-IP": "192.0.2.44"},
			expectedIP: "192.0.2.44",
		},
		{
			name:       "RemoteAddr IPv6",
			remoteAddr: "[2001:db8::1]:4444",
			expectedIP: "2001:db8::1",
		},
		{
			name:       "RemoteAddr without port",
			remoteAddr: "192.0.2.9",
			expectedIP: "192.0.2.9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if tt.remoteAddr != "" {
				r.RemoteAddr = tt.remoteAddr
			}
			assert.Equal(t, tt.expectedIP, GetClientIP(r))
		})
	}
}

func TestIsNavigationRequest(t *testing.T) {
	nav := httptest.NewRequest(http.MethodGet, "/", nil)
	nav.Header.Set("Sec-Fetch-Mode", "navigate")
	assert.True(t, IsNavigationRequest(nav))

	sub := httptest.NewRequest(http.MethodGet, "/app.js", nil)
	sub.Header.Set("Sec-Fetch-Mode", "no-cors")
	sub.Header.Set("Accept", "text/html")
	assert.False(t, IsNavigationRequest(sub))

	legacy := httptest.NewRequest(http.MethodGet, "/", nil)
	legacy.Header.Set("Accept", "text/html,application/xhtml+xml")
	assert.True(t, IsNavigationRequest(legacy))

	post := httptest.NewRequest(http.MethodPost, "/", nil)
	post.Header.Set("Sec-Fetch-Mode", "navigate")
	assert.False(t, IsNavigationRequest(post))
}

func TestSameOrigin(t *testing.T) {
	u := func(s string) *url.URL {
		parsed, _ := url.Parse(s)
		return parsed
	}

	assert.True(t, SameOrigin(u("http://site.test/a"), "http://site.test"))
	assert.True(t, SameOrigin(u("http://site.test:80/a"), "http://SITE.test"))
	assert.True(t, SameOrigin(u("https://site.test/a"), "https://site.test:443"))
	assert.False(t, SameOrigin(u("https://site.test/a"), "http://site.test"))
	assert.False(t, SameOrigin(u("http://cdn.test/a"), "http://site.test"))
	assert.False(t, SameOrigin(nil, "http://site.test"))
}

func TestOrigin(t *testing.T) {
	parsed, _ := url.Parse("HTTPS://Site.Test:8443/path?q=1")
	assert.Equal(t, "https://site.test:8443", Origin(parsed))
	assert.Equal(t, "", Origin(&url.URL{Path: "/relative"}))
}
