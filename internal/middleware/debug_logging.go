package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"offlinekit/internal/constants"
	"offlinekit/internal/httputil"
	"offlinekit/internal/privacy"
	"offlinekit/internal/service"
	"offlinekit/internal/tracing"

	"github.com/sirupsen/logrus"
)

const maskedValue = "***MASKED***"

// DebugLoggingConfig controls the debug request log
type DebugLoggingConfig struct {
	LogHeaders bool `json:"log_headers"`
	// LogControlBodies logs masked bodies of /_app and /_sw calls. Site
	// traffic never has its body captured.
	LogControlBodies bool     `json:"log_control_bodies"`
	MaxBodySize      int      `json:"max_body_size"`
	SensitiveHeaders []string `json:"sensitive_headers"`
	SkipPrefixes     []string `json:"skip_prefixes"`
}

func DefaultDebugLoggingConfig() DebugLoggingConfig {
	return DebugLoggingConfig{
		LogHeaders:       true,
		LogControlBodies: true,
		MaxBodySize:      1024,
		SensitiveHeaders: []string{"authorization", "cookie", "set-cookie", "proxy-authorization"},
		SkipPrefixes:     []string{"/metrics", "/health", "/_sw/clients"},
	}
}

// DebugLoggingMiddleware logs at debug level how every request was answered.
// Site requests are summarised by the interceptor's decision: where the
// answer came from, whether it was a cache hit and whether a background
// revalidation was scheduled. Control endpoints get their masked bodies.
func DebugLoggingMiddleware(logger *logrus.Logger, config DebugLoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range config.SkipPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			route := routeLabel(r)
			site := route == "site" || route == "proxy"
			requestInfo := tracing.GetRequestInfo(r.Context())

			fields := logrus.Fields{
				service.LogFieldRequestID: requestInfo.RequestID,
				service.LogFieldMethod:    r.Method,
				service.LogFieldURL:       privacy.MaskURLQuery(r.URL.String()),
				service.LogFieldEndpoint:  route,
				service.LogFieldRemoteIP:  httputil.GetClientIP(r),
			}
			if config.LogHeaders {
				fields["request_headers"] = maskHeaders(r.Header, config.SensitiveHeaders)
			}

			captureBody := !site && config.LogControlBodies
			if captureBody {
				if body, ok := readRequestBody(r, config.MaxBodySize); ok {
					fields["request_body"] = describeBody(r.Header.Get("Content-Type"), body, config.MaxBodySize)
				}
			}

			rec := &decisionRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			if captureBody {
				rec.body = &bytes.Buffer{}
				rec.limit = config.MaxBodySize + 1
			}

			next.ServeHTTP(rec, r)

			fields[service.LogFieldStatusCode] = rec.statusCode
			fields[service.LogFieldSize] = rec.size

			if site {
				source := rec.Header().Get(constants.ResponseSourceHeader)
				if source == "" {
					source = "none"
				}
				fields[service.LogFieldSource] = source
				fields["cache_hit"] = isCacheSource(source)
				if reval := rec.Header().Get(constants.RevalidationHeader); reval != "" {
					fields["revalidation"] = reval
				}
				logger.WithFields(fields).Debug("Intercepted request answered")
				return
			}

			if rec.body != nil && rec.body.Len() > 0 {
				fields["response_body"] = describeBody(rec.Header().Get("Content-Type"), rec.body.Bytes(), config.MaxBodySize)
			}
			logger.WithFields(fields).Debug("Control request answered")
		})
	}
}

func isCacheSource(source string) bool {
	switch source {
	case "app-shell", "runtime-cache", "offline-fallback":
		return true
	}
	return false
}

func maskHeaders(header http.Header, sensitive []string) map[string]string {
	out := make(map[string]string, len(header))
	for name, values := range header {
		if isSensitiveHeader(name, sensitive) {
			out[name] = maskedValue
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func isSensitiveHeader(name string, sensitive []string) bool {
	for _, s := range sensitive {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// readRequestBody reads at most limit+1 bytes and puts them back in front of
// whatever is left, so the handler still sees the whole body
func readRequestBody(r *http.Request, limit int) ([]byte, bool) {
	if r.Body == nil || r.Body == http.NoBody || !isFormContent(r.Header.Get("Content-Type")) {
		return nil, false
	}
	head, err := io.ReadAll(io.LimitReader(r.Body, int64(limit)+1))
	if err != nil {
		return nil, false
	}
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}
	return head, len(head) > 0
}

func isFormContent(contentType string) bool {
	return strings.HasPrefix(contentType, "application/json") ||
		strings.HasPrefix(contentType, "application/x-www-form-urlencoded")
}

// describeBody renders a body for the log with contact fields masked. Bodies
// that are too large or not a flat object are reduced to their size.
func describeBody(contentType string, body []byte, limit int) interface{} {
	if len(body) > limit {
		return fmt.Sprintf("***TRUNCATED*** (over %d bytes)", limit)
	}

	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return fmt.Sprintf("[%d bytes]", len(body))
		}
		fields := make(map[string]string, len(values))
		for k := range values {
			fields[k] = values.Get(k)
		}
		return privacy.MaskFormFields(fields)
	}

	var object map[string]interface{}
	if err := json.Unmarshal(body, &object); err != nil {
		return fmt.Sprintf("[%d bytes]", len(body))
	}
	return privacy.MaskSensitiveFields(object)
}

// decisionRecorder keeps the status, the size and, for control endpoints,
// the head of the body
type decisionRecorder struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
	body        *bytes.Buffer
	limit       int
}

func (d *decisionRecorder) WriteHeader(statusCode int) {
	if !d.wroteHeader {
		d.statusCode = statusCode
		d.wroteHeader = true
	}
	d.ResponseWriter.WriteHeader(statusCode)
}

func (d *decisionRecorder) Write(data []byte) (int, error) {
	d.wroteHeader = true
	n, err := d.ResponseWriter.Write(data)
	d.size += int64(n)
	if d.body != nil && d.body.Len() < d.limit {
		room := d.limit - d.body.Len()
		if room > n {
			room = n
		}
		d.body.Write(data[:room])
	}
	return n, err
}

func (d *decisionRecorder) Flush() {
	if f, ok := d.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (d *decisionRecorder) Unwrap() http.ResponseWriter {
	return d.ResponseWriter
}
