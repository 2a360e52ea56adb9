package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"offlinekit/internal/constants"
	apperrors "offlinekit/internal/errors"
	"offlinekit/internal/metrics"
	"offlinekit/internal/tracing"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
)

// State is the lifecycle position of a worker generation
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// ClientClaimer takes control of the open application windows once a worker
// generation is active. It returns how many windows were claimed.
type ClientClaimer interface {
	Claim(ctx context.Context, version string) int
}

// Worker is one generation of the interception layer
type Worker struct {
	config      Config
	caches      *CacheStorage
	network     http.RoundTripper
	logger      *logrus.Logger
	interceptor *Interceptor

	mu          sync.RWMutex
	state       State
	skipWaiting bool
}

// NewWorker creates a worker in the parsed state
func NewWorker(config Config, caches *CacheStorage, network http.RoundTripper, tasks *conc.WaitGroup, logger *logrus.Logger) *Worker {
	if network == nil {
		network = http.DefaultTransport
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Worker{
		config:      config,
		caches:      caches,
		network:     network,
		logger:      logger,
		interceptor: NewInterceptor(config, caches, network, tasks, logger),
		state:       StateParsed,
	}
}

// Config returns the generation's configuration
func (w *Worker) Config() Config { return w.config }

// Interceptor returns the fetch handler of this generation
func (w *Worker) Interceptor() *Interceptor { return w.interceptor }

// State returns the current lifecycle state
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// SkipWaitingRequested reports whether the worker asked to bypass the waiting phase
func (w *Worker) SkipWaitingRequested() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.skipWaiting
}

// SkipWaiting asks the registration to activate this worker as soon as it is installed
func (w *Worker) SkipWaiting() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.skipWaiting = true
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
}

// Install fetches every manifest asset and commits them as the app shell
// generation. Nothing is committed unless every asset was fetched.
func (w *Worker) Install(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "worker.install",
		attribute.String("offlinekit.version", w.config.Version()),
		attribute.String("offlinekit.cache", w.config.AppShellCacheName()),
	)
	defer span.End()

	w.setState(StateInstalling)
	start := time.Now()

	assets := w.config.Assets()
	fresh := newCache(w.config.AppShellCacheName())

	p := pool.New().
		WithErrors().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(constants.DefaultInstallConcurrency)
	for _, asset := range assets {
		asset := asset
		p.Go(func(ctx context.Context) error {
			entry, err := w.fetchAsset(ctx, asset)
			if err != nil {
				return apperrors.NewAssetInstallFailedError(asset, err)
			}
			fresh.Put(entry)
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		w.setState(StateRedundant)
		tracing.RecordError(ctx, err)
		metrics.IncrementCounter(metrics.WorkerInstallsTotal, map[string]string{"result": "failed"}, "Worker install attempts")
		apperrors.WrapLogger(w.logger).LogError(err, "Failed to install app shell", logrus.Fields{
			"version": w.config.Version(),
		})
		return err
	}

	w.caches.Commit(fresh)
	w.setState(StateInstalled)
	if !w.config.DeferActivation() {
		w.SkipWaiting()
	}

	metrics.IncrementCounter(metrics.WorkerInstallsTotal, map[string]string{"result": "success"}, "Worker install attempts")
	w.logger.WithFields(logrus.Fields{
		"version":     w.config.Version(),
		"cache":       w.config.AppShellCacheName(),
		"assets":      len(assets),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("App shell installed")
	return nil
}

func (w *Worker) fetchAsset(ctx context.Context, asset string) (*Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.config.Resolve(asset), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := w.network.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch asset: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, constants.MaxCacheableBodyBytes))
		resp.Body.Close()
		return nil, fmt.Errorf("asset responded with status %d", resp.StatusCode)
	}

	entry, _, err := captureResponse(req, resp, constants.MaxCacheableBodyBytes, time.Now())
	if err != nil {
		return nil, err
	}
	if entry == nil {
		resp.Body.Close()
		return nil, fmt.Errorf("asset exceeds %d bytes", constants.MaxCacheableBodyBytes)
	}
	return entry, nil
}

// Activate removes every cache generation this worker does not own and then
// claims the open windows. It returns the names of the deleted generations.
func (w *Worker) Activate(ctx context.Context, claimer ClientClaimer) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "worker.activate",
		attribute.String("offlinekit.version", w.config.Version()),
	)
	defer span.End()

	w.setState(StateActivating)

	keep := make(map[string]struct{}, 2)
	for _, name := range w.config.CacheNames() {
		keep[name] = struct{}{}
	}

	var (
		mu      sync.Mutex
		deleted []string
	)
	p := pool.New().WithErrors().WithContext(ctx)
	for _, name := range w.caches.Keys() {
		if _, ok := keep[name]; ok {
			continue
		}
		name := name
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if w.caches.Delete(name) {
				mu.Lock()
				deleted = append(deleted, name)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		metrics.IncrementCounter(metrics.WorkerActivationsTotal, map[string]string{"result": "failed"}, "Worker activations")
		return deleted, fmt.Errorf("failed to delete stale caches: %w", err)
	}

	sort.Strings(deleted)
	w.setState(StateActivated)

	claimed := 0
	if claimer != nil {
		claimed = claimer.Claim(ctx, w.config.Version())
	}

	metrics.IncrementCounter(metrics.WorkerActivationsTotal, map[string]string{"result": "success"}, "Worker activations")
	metrics.SetGauge(metrics.CacheEntries, float64(w.caches.Entries()), nil, "Entries across all cache generations")
	w.logger.WithFields(logrus.Fields{
		"version": w.config.Version(),
		"deleted": deleted,
		"claimed": claimed,
	}).Info("Worker activated")
	return deleted, nil
}
