package service

import (
	"context"
	"net/http"
	"sync"
	"time"

	"offlinekit/internal/constants"
	"offlinekit/internal/metrics"
	"offlinekit/internal/models"

	"github.com/sirupsen/logrus"
)

// ConnectivityListener is told about every online/offline transition
type ConnectivityListener func(ctx context.Context, online bool)

// ConnectivityMonitor tracks whether the daemon can reach the network, by
// probing a URL periodically and by accepting reports from windows
type ConnectivityMonitor struct {
	probeURL      string
	client        *http.Client
	logger        *logrus.Logger
	checkInterval time.Duration
	initDelay     time.Duration

	// dispatchMu orders whole reports so listeners see transitions in the
	// order the state changed
	dispatchMu sync.Mutex

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	online    bool
	known     bool
	listeners []ConnectivityListener
}

// NewConnectivityMonitor creates a monitor. The daemon is assumed online until
// the first probe or report says otherwise.
func NewConnectivityMonitor(cfg models.ConnectivityConfig, client *http.Client, logger *logrus.Logger) *ConnectivityMonitor {
	checkInterval := time.Duration(cfg.IntervalSec) * time.Second
	if checkInterval <= 0 {
		checkInterval = time.Duration(constants.DefaultConnectivityIntervalSec) * time.Second
	}
	initDelay := time.Duration(cfg.InitDelaySec) * time.Second
	if initDelay <= 0 {
		initDelay = time.Duration(constants.DefaultConnectivityInitDelaySec) * time.Second
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(constants.DefaultConnectivityTimeoutSec) * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &ConnectivityMonitor{
		probeURL:      cfg.ProbeURL,
		client:        client,
		logger:        logger,
		checkInterval: checkInterval,
		initDelay:     initDelay,
		stopCh:        make(chan struct{}),
		online:        true,
	}
}

// AddListener registers fn for future transitions
func (cm *ConnectivityMonitor) AddListener(fn ConnectivityListener) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.listeners = append(cm.listeners, fn)
}

// Online returns the last known state
func (cm *ConnectivityMonitor) Online() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.online
}

// Start begins probing
func (cm *ConnectivityMonitor) Start(ctx context.Context) {
	cm.mu.Lock()
	if cm.running {
		cm.mu.Unlock()
		cm.logger.Warn("Connectivity monitor is already running")
		return
	}
	if cm.probeURL == "" {
		cm.mu.Unlock()
		cm.logger.Info("No connectivity probe configured, relying on window reports")
		return
	}

	// Reinitialize stopCh if it was closed
	if cm.stopCh == nil {
		cm.stopCh = make(chan struct{})
	}

	cm.running = true
	cm.mu.Unlock()

	go cm.monitorLoop(ctx)
	cm.logger.WithField(LogFieldURL, cm.probeURL).Info("Connectivity monitor started")
}

// Stop stops probing
func (cm *ConnectivityMonitor) Stop() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.running {
		return
	}

	if cm.stopCh != nil {
		close(cm.stopCh)
		cm.stopCh = nil
	}
	cm.running = false
	cm.logger.Info("Connectivity monitor stopped")
}

func (cm *ConnectivityMonitor) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(cm.checkInterval)
	defer ticker.Stop()

	// Initial check after a short delay
	initDelay := time.NewTimer(cm.initDelay)
	defer initDelay.Stop()

	select {
	case <-ctx.Done():
		return
	case <-cm.getStopCh():
		return
	case <-initDelay.C:
		cm.Report(ctx, cm.Probe(ctx))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-cm.getStopCh():
			return
		case <-ticker.C:
			cm.Report(ctx, cm.Probe(ctx))
		}
	}
}

// getStopCh safely retrieves the stop channel
func (cm *ConnectivityMonitor) getStopCh() <-chan struct{} {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.stopCh == nil {
		// Return a closed channel to prevent blocking
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return cm.stopCh
}

// Probe reports whether the probe URL answered at all. Any HTTP status
// counts as reachable; only transport failures count as offline.
func (cm *ConnectivityMonitor) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, cm.probeURL, nil)
	if err != nil {
		cm.logger.WithError(err).Error("Failed to create connectivity probe")
		return cm.Online()
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := cm.client.Do(req)
	if err != nil {
		cm.logger.WithError(err).Debug("Connectivity probe failed")
		return false
	}
	resp.Body.Close()
	return true
}

// Report records a connectivity observation and notifies listeners when the
// state changed. It returns whether it did.
func (cm *ConnectivityMonitor) Report(ctx context.Context, online bool) bool {
	cm.dispatchMu.Lock()
	defer cm.dispatchMu.Unlock()

	cm.mu.Lock()
	changed := !cm.known || cm.online != online
	wasKnown := cm.known
	cm.online = online
	cm.known = true
	listeners := make([]ConnectivityListener, len(cm.listeners))
	copy(listeners, cm.listeners)
	cm.mu.Unlock()

	gauge := 0.0
	if online {
		gauge = 1
	}
	metrics.SetGauge(metrics.ConnectivityOnline, gauge, nil, "Whether the daemon is online")

	if !changed {
		return false
	}

	// The assumed initial online state is not a transition worth reporting
	if !wasKnown && online {
		return false
	}

	metrics.IncrementCounter(metrics.ConnectivityChangesTotal, map[string]string{"online": boolLabel(online)}, "Connectivity transitions")
	cm.logger.WithField(LogFieldOnline, online).Info("Connectivity changed")

	for _, fn := range listeners {
		fn(ctx, online)
	}
	return true
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
