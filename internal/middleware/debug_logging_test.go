package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"offlinekit/internal/constants"
	"offlinekit/internal/tracing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func debugLogger() (*logrus.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.DebugLevel)
	return logger, &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestDebugLogging_SiteRequestLogsDecision(t *testing.T) {
	logger, buf := debugLogger()
	body := strings.Repeat("<p>cached page</p>", 200)

	handler := DebugLoggingMiddleware(logger, DefaultDebugLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(constants.ResponseSourceHeader, "runtime-cache")
		w.Header().Set(constants.RevalidationHeader, "scheduled")
		_, _ = io.WriteString(w, body)
	}))

	req := httptest.NewRequest(http.MethodGet, "/css/site.css?token=abc", nil)
	req.Header.Set("Cookie", "session=secret")
	req = req.WithContext(tracing.WithRequestID(req.Context(), "req_site"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, body, w.Body.String())

	entry := lastEntry(t, buf)
	assert.Equal(t, "Intercepted request answered", entry["msg"])
	assert.Equal(t, "runtime-cache", entry["source"])
	assert.Equal(t, true, entry["cache_hit"])
	assert.Equal(t, "scheduled", entry["revalidation"])
	assert.Equal(t, "site", entry["endpoint"])
	assert.Equal(t, "req_site", entry["request_id"])
	assert.Equal(t, float64(len(body)), entry["size_bytes"])
	assert.NotContains(t, entry, "response_body")
	assert.NotContains(t, buf.String(), "session=secret")
	assert.Contains(t, buf.String(), maskedValue)
}

func TestDebugLogging_SiteRequestWithoutSource(t *testing.T) {
	logger, buf := debugLogger()

	handler := DebugLoggingMiddleware(logger, DefaultDebugLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/js/app.js", nil))

	entry := lastEntry(t, buf)
	assert.Equal(t, "none", entry["source"])
	assert.Equal(t, false, entry["cache_hit"])
	assert.Equal(t, float64(http.StatusBadGateway), entry["status_code"])
	assert.NotContains(t, entry, "revalidation")
}

func TestDebugLogging_ControlRequestMasksBodies(t *testing.T) {
	logger, buf := debugLogger()

	var seen string
	handler := DebugLoggingMiddleware(logger, DefaultDebugLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"status":"queued","clientId":"01HZY3Q8W5"}`)
	}))

	form := `{"name":"Ana","email":"ana@example.com","message":"Hola"}`
	req := httptest.NewRequest(http.MethodPost, "/_app/contact", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, form, seen, "the handler still reads the whole body")

	entry := lastEntry(t, buf)
	assert.Equal(t, "Control request answered", entry["msg"])
	assert.Equal(t, float64(http.StatusAccepted), entry["status_code"])
	assert.Contains(t, entry, "request_body")
	assert.Contains(t, entry, "response_body")
	assert.NotContains(t, buf.String(), "ana@example.com")
	assert.NotContains(t, entry, "source")
}

func TestDebugLogging_LargeControlBodyIsTruncated(t *testing.T) {
	logger, buf := debugLogger()
	config := DefaultDebugLoggingConfig()
	config.MaxBodySize = 64

	large := `{"message":"` + strings.Repeat("a", 500) + `"}`
	var seen int
	handler := DebugLoggingMiddleware(logger, config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = len(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, large)
	}))

	req := httptest.NewRequest(http.MethodPost, "/_sw/push", strings.NewReader(large))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, len(large), seen)
	assert.Equal(t, large, w.Body.String())
	entry := lastEntry(t, buf)
	assert.Contains(t, entry["request_body"], "***TRUNCATED***")
	assert.Contains(t, entry["response_body"], "***TRUNCATED***")
}

func TestDebugLogging_URLEncodedForm(t *testing.T) {
	logger, buf := debugLogger()

	handler := DebugLoggingMiddleware(logger, DefaultDebugLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/_app/contact", strings.NewReader("email=ana%40example.com&name=Ana"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := lastEntry(t, buf)
	fields, ok := entry["request_body"].(map[string]interface{})
	require.True(t, ok, "form fields are logged as an object")
	assert.Contains(t, fields, "email")
	assert.NotContains(t, buf.String(), "ana@example.com")
}

func TestDebugLogging_SkipPrefixes(t *testing.T) {
	logger, buf := debugLogger()

	handler := DebugLoggingMiddleware(logger, DefaultDebugLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/metrics", "/health", "/_sw/clients"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	assert.Empty(t, buf.String())
}

func TestDecisionRecorder_FlushAndUnwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	d := &decisionRecorder{ResponseWriter: rec, statusCode: http.StatusOK}

	d.WriteHeader(http.StatusCreated)
	d.WriteHeader(http.StatusInternalServerError)
	_, _ = d.Write([]byte("hello"))
	d.Flush()

	assert.Equal(t, http.StatusCreated, d.statusCode)
	assert.Equal(t, int64(5), d.size)
	assert.True(t, rec.Flushed)
	assert.Same(t, rec, d.Unwrap())
}

func TestIsSensitiveHeader(t *testing.T) {
	sensitive := []string{"authorization", "cookie"}

	tests := []struct {
		header   string
		expected bool
	}{
		{"Authorization", true},
		{"AUTHORIZATION", true},
		{"Cookie", true},
		{"Content-Type", false},
		{"X-Offlinekit-Source", false},
	}

	for _, tt := range tests {
		if got := isSensitiveHeader(tt.header, sensitive); got != tt.expected {
			t.Errorf("isSensitiveHeader(%q) = %v, expected %v", tt.header, got, tt.expected)
		}
	}
}
