package worker

import (
	"context"
	"net/http"
	"sync"

	apperrors "offlinekit/internal/errors"
	"offlinekit/internal/privacy"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
)

// Registration owns the worker generations for one scope. At most one worker
// is installing, one waiting and one active at any time.
type Registration struct {
	caches  *CacheStorage
	network http.RoundTripper
	claimer ClientClaimer
	logger  *logrus.Logger
	tasks   *conc.WaitGroup

	// updateMu serialises lifecycle transitions; mu guards the pointers
	updateMu   sync.Mutex
	mu         sync.RWMutex
	installing *Worker
	waiting    *Worker
	active     *Worker
}

// NewRegistration creates an empty registration backed by caches
func NewRegistration(caches *CacheStorage, network http.RoundTripper, claimer ClientClaimer, logger *logrus.Logger) *Registration {
	if caches == nil {
		caches = NewCacheStorage()
	}
	if network == nil {
		network = http.DefaultTransport
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registration{
		caches:  caches,
		network: network,
		claimer: claimer,
		logger:  logger,
		tasks:   conc.NewWaitGroup(),
	}
}

// Caches returns the storage shared by every generation
func (r *Registration) Caches() *CacheStorage { return r.caches }

// Register installs a new generation built from config. A worker that asked
// to skip waiting, or one with no active predecessor, is activated at once;
// otherwise it waits for SkipWaiting. A failed install leaves the current
// generations untouched and returns the redundant worker with the error.
func (r *Registration) Register(ctx context.Context, config Config) (*Worker, error) {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	w := NewWorker(config, r.caches, r.network, r.tasks, r.logger)

	r.mu.Lock()
	r.installing = w
	r.mu.Unlock()

	err := w.Install(ctx)

	r.mu.Lock()
	r.installing = nil
	hasActive := r.active != nil
	r.mu.Unlock()

	if err != nil {
		return w, err
	}

	if !hasActive || w.SkipWaitingRequested() {
		return w, r.activateLocked(ctx, w)
	}

	r.mu.Lock()
	previous := r.waiting
	r.waiting = w
	r.mu.Unlock()
	if previous != nil {
		previous.setState(StateRedundant)
	}

	r.logger.WithField("version", config.Version()).Info("Worker installed and waiting")
	return w, nil
}

// SkipWaiting activates the waiting worker, if any. It reports whether a
// worker was activated.
func (r *Registration) SkipWaiting(ctx context.Context) (bool, error) {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	w := r.Waiting()
	if w == nil {
		return false, nil
	}
	w.SkipWaiting()
	if err := r.activateLocked(ctx, w); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Registration) activateLocked(ctx context.Context, w *Worker) error {
	if _, err := w.Activate(ctx, r.claimer); err != nil {
		return err
	}

	r.mu.Lock()
	previous := r.active
	r.active = w
	if r.waiting == w {
		r.waiting = nil
	}
	r.mu.Unlock()

	if previous != nil && previous != w {
		previous.setState(StateRedundant)
	}
	return nil
}

// Installing returns the worker being installed, or nil
func (r *Registration) Installing() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.installing
}

// Waiting returns the installed worker waiting for activation, or nil
func (r *Registration) Waiting() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// Active returns the controlling worker, or nil
func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Handle routes req through the active worker. Without one the request goes
// straight to the network, as an uncontrolled page would.
func (r *Registration) Handle(ctx context.Context, req *http.Request) (*http.Response, Source, error) {
	if active := r.Active(); active != nil {
		return active.Interceptor().Handle(ctx, req)
	}

	resp, err := r.network.RoundTrip(req.WithContext(ctx))
	if err != nil {
		return nil, SourcePassthrough, apperrors.NewNetworkUnavailableError(privacy.MaskURLQuery(req.URL.String()), err)
	}
	return resp, SourcePassthrough, nil
}

// RoundTrip implements http.RoundTripper on top of Handle
func (r *Registration) RoundTrip(req *http.Request) (*http.Response, error) {
	if active := r.Active(); active != nil {
		return active.Interceptor().RoundTrip(req)
	}
	return r.network.RoundTrip(req)
}

// Wait blocks until background work started by any generation has finished
func (r *Registration) Wait() {
	if rec := r.tasks.WaitAndRecover(); rec != nil {
		r.logger.WithField("panic", rec.Value).Error("Background revalidation panicked")
	}
}
