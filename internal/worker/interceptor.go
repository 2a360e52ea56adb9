package worker

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"offlinekit/internal/constants"
	apperrors "offlinekit/internal/errors"
	"offlinekit/internal/httputil"
	"offlinekit/internal/metrics"
	"offlinekit/internal/privacy"
	"offlinekit/internal/tracing"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/attribute"
)

// Source records where an intercepted response came from
type Source string

const (
	SourceAppShell        Source = "app-shell"
	SourceRuntimeCache    Source = "runtime-cache"
	SourceNetwork         Source = "network"
	SourceOfflineFallback Source = "offline-fallback"
	SourcePassthrough     Source = "passthrough"
)

const offlinePageHTML = `<!DOCTYPE html>
<html lang="es">
<head><meta charset="utf-8"><title>Sin conexión</title></head>
<body><h1>Sin conexión</h1><p>Revisa tu conexión e inténtalo de nuevo.</p></body>
</html>
`

// Interceptor decides per request whether to answer from cache, network or
// the offline page. It is safe for concurrent use.
type Interceptor struct {
	config   Config
	caches   *CacheStorage
	network  http.RoundTripper
	logger   *logrus.Logger
	tasks    *conc.WaitGroup
	now      func() time.Time
	maxBytes int64
}

// NewInterceptor creates an interceptor. Detached revalidation tasks are
// spawned on tasks; pass nil to give the interceptor its own group.
func NewInterceptor(config Config, caches *CacheStorage, network http.RoundTripper, tasks *conc.WaitGroup, logger *logrus.Logger) *Interceptor {
	if network == nil {
		network = http.DefaultTransport
	}
	if tasks == nil {
		tasks = conc.NewWaitGroup()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Interceptor{
		config:   config,
		caches:   caches,
		network:  network,
		logger:   logger,
		tasks:    tasks,
		now:      time.Now,
		maxBytes: constants.MaxCacheableBodyBytes,
	}
}

// Config returns the configuration the interceptor routes with
func (i *Interceptor) Config() Config { return i.config }

// Handle answers req. Navigation requests never fail: when neither network
// nor cache can serve them the offline page is returned.
func (i *Interceptor) Handle(ctx context.Context, req *http.Request) (*http.Response, Source, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "worker.intercept",
		attribute.String("http.method", req.Method),
		attribute.String("http.url", privacy.MaskURLQuery(req.URL.String())),
	)
	defer span.End()

	resp, source, err := i.route(ctx, req.WithContext(ctx))

	labels := map[string]string{"source": string(source)}
	metrics.IncrementCounter(metrics.InterceptedRequestsTotal, labels, "Requests handled by the interceptor")
	metrics.RecordTimer(metrics.InterceptDuration, time.Since(start), labels, "Time spent answering intercepted requests")
	tracing.AddSpanAttributes(ctx, attribute.String("offlinekit.source", string(source)))

	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, source, err
	}
	return resp, source, nil
}

// RoundTrip lets the interceptor act as the transport of an http.Client or a
// reverse proxy. The chosen source is reported in a response header.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, source, err := i.Handle(req.Context(), req)
	if err != nil {
		return nil, err
	}
	resp.Header.Set(constants.ResponseSourceHeader, string(source))
	return resp, nil
}

// Wait blocks until every detached revalidation has finished
func (i *Interceptor) Wait() {
	if r := i.tasks.WaitAndRecover(); r != nil {
		i.logger.WithField("panic", r.Value).Error("Background revalidation panicked")
	}
}

func (i *Interceptor) route(ctx context.Context, req *http.Request) (*http.Response, Source, error) {
	switch {
	case req.Method != http.MethodGet:
		resp, err := i.fetch(ctx, req)
		return resp, SourcePassthrough, err
	case httputil.IsNavigationRequest(req):
		return i.handleNavigation(ctx, req)
	case httputil.SameOrigin(req.URL, i.config.Origin()):
		return i.handleStaleWhileRevalidate(ctx, req)
	default:
		return i.handleCrossOrigin(ctx, req)
	}
}

func (i *Interceptor) handleNavigation(ctx context.Context, req *http.Request) (*http.Response, Source, error) {
	resp, err := i.fetch(ctx, req)
	if err == nil {
		resp, _, err = i.store(req, resp, isCacheableStatus)
		if err == nil {
			return resp, SourceNetwork, nil
		}
	}

	i.logger.WithError(err).WithField("url", privacy.MaskURLQuery(req.URL.String())).
		Debug("Navigation fetch failed, falling back to cache")

	if entry, name, ok := i.caches.Match(http.MethodGet, req.URL.String()); ok {
		return entry.Response(req), i.sourceFor(name), nil
	}
	if entry, _, ok := i.caches.Match(http.MethodGet, i.config.Resolve(i.config.OfflineURL())); ok {
		return entry.Response(req), SourceOfflineFallback, nil
	}

	i.logger.WithField("offline_url", i.config.OfflineURL()).Warn("Offline page is not cached, serving built-in page")
	return syntheticOfflineResponse(req), SourceOfflineFallback, nil
}

func (i *Interceptor) handleStaleWhileRevalidate(ctx context.Context, req *http.Request) (*http.Response, Source, error) {
	if entry, name, ok := i.caches.Match(http.MethodGet, req.URL.String()); ok {
		i.revalidate(ctx, req)
		resp := entry.Response(req)
		resp.Header.Set(constants.RevalidationHeader, "scheduled")
		return resp, i.sourceFor(name), nil
	}

	resp, err := i.fetch(ctx, req)
	if err != nil {
		return nil, SourceNetwork, apperrors.Wrap(err, apperrors.ErrCodeNoCachedResponse, "no cached response and network unavailable").
			WithContext("url", privacy.MaskURLQuery(req.URL.String()))
	}
	resp, _, err = i.store(req, resp, isRevalidatableStatus)
	if err != nil {
		return nil, SourceNetwork, err
	}
	return resp, SourceNetwork, nil
}

func (i *Interceptor) handleCrossOrigin(ctx context.Context, req *http.Request) (*http.Response, Source, error) {
	resp, err := i.fetch(ctx, req)
	if err == nil {
		resp, _, err = i.store(req, resp, isCacheableStatus)
		if err == nil {
			return resp, SourceNetwork, nil
		}
	}

	if entry, name, ok := i.caches.Match(http.MethodGet, req.URL.String()); ok {
		return entry.Response(req), i.sourceFor(name), nil
	}
	return nil, SourceNetwork, apperrors.Wrap(err, apperrors.ErrCodeNoCachedResponse, "no cached response and network unavailable").
		WithContext("url", privacy.MaskURLQuery(req.URL.String()))
}

// revalidate refreshes the runtime cache in the background. The caller has
// already been answered, so the result is dropped.
func (i *Interceptor) revalidate(ctx context.Context, req *http.Request) {
	bg := context.WithoutCancel(ctx)
	outReq := req.Clone(bg)
	outReq.Body = http.NoBody

	i.tasks.Go(func() {
		fetchCtx, cancel := context.WithTimeout(bg, i.config.revalidateTimeout)
		defer cancel()

		resp, err := i.fetch(fetchCtx, outReq.WithContext(fetchCtx))
		if err != nil {
			metrics.IncrementCounter(metrics.RevalidationsTotal, map[string]string{"result": "failed"}, "Background cache revalidations")
			i.logger.WithError(err).WithField("url", privacy.MaskURLQuery(outReq.URL.String())).Debug("Background revalidation failed")
			return
		}

		out, stored, err := i.store(outReq, resp, isRevalidatableStatus)
		if err == nil {
			resp = out
		}
		if resp.Body != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		result := "skipped"
		if stored {
			result = "stored"
		}
		metrics.IncrementCounter(metrics.RevalidationsTotal, map[string]string{"result": result}, "Background cache revalidations")
		i.logger.WithFields(logrus.Fields{
			"url":    privacy.MaskURLQuery(outReq.URL.String()),
			"status": resp.StatusCode,
			"result": result,
		}).Debug("Background revalidation finished")
	})
}

func (i *Interceptor) fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := i.network.RoundTrip(req.WithContext(ctx))
	if err != nil {
		return nil, apperrors.NewNetworkUnavailableError(privacy.MaskURLQuery(req.URL.String()), err)
	}
	return resp, nil
}

// store clones resp into the runtime cache when accept allows its status and
// returns a response the caller can still read. cached reports whether an
// entry was written; oversize bodies and rejected statuses are not.
func (i *Interceptor) store(req *http.Request, resp *http.Response, accept func(int) bool) (out *http.Response, cached bool, err error) {
	if !accept(resp.StatusCode) {
		return resp, false, nil
	}

	entry, out, err := captureResponse(req, resp, i.maxBytes, i.now())
	if err != nil {
		return nil, false, apperrors.NewNetworkUnavailableError(privacy.MaskURLQuery(req.URL.String()), err)
	}
	if entry == nil {
		i.logger.WithField("url", privacy.MaskURLQuery(req.URL.String())).Debug("Response too large to cache")
		return out, false, nil
	}

	i.caches.Open(i.config.RuntimeCacheName()).Put(entry)
	metrics.SetGauge(metrics.CacheEntries, float64(i.caches.Entries()), nil, "Entries across all cache generations")
	return out, true, nil
}

func (i *Interceptor) sourceFor(cacheName string) Source {
	if cacheName == i.config.AppShellCacheName() {
		return SourceAppShell
	}
	return SourceRuntimeCache
}

// isCacheableStatus accepts what a browser cache would store after a
// network-first fetch. Partial content is never cached.
func isCacheableStatus(status int) bool {
	return status >= 200 && status < 300 && status != http.StatusPartialContent
}

func isRevalidatableStatus(status int) bool {
	return status == http.StatusOK
}

func syntheticOfflineResponse(req *http.Request) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Cache-Control", "no-store")
	return &http.Response{
		Status:        "503 Service Unavailable",
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(offlinePageHTML)),
		ContentLength: int64(len(offlinePageHTML)),
		Request:       req,
	}
}
