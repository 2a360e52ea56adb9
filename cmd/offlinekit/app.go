package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"offlinekit/internal/constants"
	"offlinekit/internal/database"
	"offlinekit/internal/hub"
	"offlinekit/internal/models"
	"offlinekit/internal/notify"
	"offlinekit/internal/privacy"
	"offlinekit/internal/retry"
	"offlinekit/internal/service"
	"offlinekit/internal/worker"
	"offlinekit/pkg/circuitbreaker"
	"offlinekit/pkg/emailjs"

	"github.com/sirupsen/logrus"
)

// application bundles every long lived component of the daemon
type application struct {
	cfg    *models.Config
	logger *logrus.Logger

	db           *database.Database
	hub          *hub.Hub
	registration *worker.Registration
	dispatcher   *worker.Dispatcher
	relay        *notify.Relay
	outbox       *service.Outbox
	insights     *service.InsightsFetcher
	connectivity *service.ConnectivityMonitor
	scheduler    *service.Scheduler
	workerConfig worker.Config
}

// openStore opens the local store, retrying with the configured backoff
func openStore(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*database.Database, error) {
	backoffConfig := retry.FromConfig(cfg.Retry)
	backoffConfig.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	backoff := retry.NewBackoff(backoffConfig)

	var db *database.Database
	err := backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.NewWithContext(ctx, cfg.Store.Path)
		if initErr != nil {
			logger.Warnf("Failed to open local store: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open local store after retries: %w", err)
	}
	return db, nil
}

// newEmailSender builds the delivery client used by the outbox
func newEmailSender(cfg *models.Config, logger *logrus.Logger) *emailjs.EmailJSClient {
	timeout := cfg.EmailJS.TimeoutSec
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeoutSec
	}
	return emailjs.NewClientWithLogger(emailjs.Config{
		BaseURL:    cfg.EmailJS.BaseURL,
		ServiceID:  cfg.EmailJS.ServiceID,
		TemplateID: cfg.EmailJS.TemplateID,
		PublicKey:  cfg.EmailJS.PublicKey,
	}, &http.Client{Timeout: time.Duration(timeout) * time.Second}, logger)
}

func newBreaker(name string, logger *logrus.Logger) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.New(name,
		constants.DefaultBreakerMaxFailures,
		time.Duration(constants.DefaultBreakerTimeoutSec)*time.Second,
		circuitbreaker.WithLogger(logger),
	)
}

// newInsightsFetcher builds the fetcher shared by serve and insights refresh
func newInsightsFetcher(cfg *models.Config, db *database.Database, logger *logrus.Logger) *service.InsightsFetcher {
	timeout := cfg.Insights.TimeoutSec
	if timeout <= 0 {
		timeout = constants.DefaultInsightsTimeoutSec
	}
	client := &http.Client{Timeout: time.Duration(timeout) * time.Second}
	return service.NewInsightsFetcher(cfg.Insights, db, client, newBreaker("insights", logger), logger)
}

// newOutbox builds the outbox shared by serve and outbox drain
func newOutbox(cfg *models.Config, db *database.Database, sink service.NoticeSink, logger *logrus.Logger) *service.Outbox {
	opts := []service.OutboxOption{service.WithSendBreaker(newBreaker("emailjs", logger))}
	if sink != nil {
		opts = append(opts, service.WithNoticeSink(sink))
	}
	return service.NewOutbox(db, newEmailSender(cfg, logger), logger, opts...)
}

// newApplication wires the components around an open store. Nothing is
// started here; see start.
func newApplication(cfg *models.Config, db *database.Database, network http.RoundTripper, logger *logrus.Logger) (*application, error) {
	workerConfig, err := worker.NewConfig(cfg.Worker)
	if err != nil {
		return nil, fmt.Errorf("invalid worker configuration: %w", err)
	}

	app := &application{
		cfg:          cfg,
		logger:       logger,
		db:           db,
		workerConfig: workerConfig,
	}

	hubOpts := []hub.Option{
		hub.WithMessageHandler(app.handleWindowMessage),
		hub.WithConnectHook(app.handleWindowConnect),
	}
	if cfg.Server.OpenWindowsInBrowser {
		opener := notify.NewBrowserOpener(retry.NewBackoff(retry.FromConfig(cfg.Retry)), logger)
		hubOpts = append(hubOpts, hub.WithOpener(opener.Open))
	}
	app.hub = hub.New(logger, hubOpts...)

	app.registration = worker.NewRegistration(worker.NewCacheStorage(), network, app.hub, logger)
	app.relay = notify.NewRelay(workerConfig.Origin(), app.hub, app.hub, logger)
	app.dispatcher = worker.NewDispatcher(app.registration, app.relay, logger)

	app.outbox = newOutbox(cfg, db, app.hub, logger)
	app.insights = newInsightsFetcher(cfg, db, logger)

	connectivityCfg := cfg.Connectivity
	if connectivityCfg.ProbeURL == "" {
		connectivityCfg.ProbeURL = workerConfig.Origin()
	}
	app.connectivity = service.NewConnectivityMonitor(connectivityCfg, nil, logger)
	app.connectivity.AddListener(func(ctx context.Context, online bool) {
		if _, err := app.outbox.SetOnline(ctx, online); err != nil {
			logger.WithError(err).Warn("Outbox drain after connectivity change failed")
		}
	})

	if cfg.Sync.Enabled {
		app.scheduler = service.NewScheduler(time.Duration(cfg.Sync.IntervalSec)*time.Second, logger,
			service.RefreshJob(app.insights),
		)
	}

	return app, nil
}

// start installs the worker, drains what the last run left behind and
// launches the background loops. It returns once startup work is done.
func (a *application) start(ctx context.Context) {
	if a.cfg.Worker.InstallOnStart {
		if _, err := a.dispatcher.Dispatch(ctx, worker.InstallEvent{Config: a.workerConfig}); err != nil {
			a.logger.WithError(err).Warn("Initial worker install failed, serving uncontrolled")
		}
	}

	if result, err := a.outbox.Start(ctx); err != nil {
		a.logger.WithError(err).Warn("Startup drain failed")
	} else {
		a.logger.WithFields(logrus.Fields{
			"status":                result.Status,
			service.LogFieldCount:   result.Sent,
			service.LogFieldPending: result.Remaining,
		}).Info("Startup drain finished")
	}

	if refreshed := a.insights.Refresh(ctx); refreshed.Error != "" {
		a.logger.WithFields(logrus.Fields{
			"used_fallback": refreshed.UsedFallback,
			"error":         refreshed.Error,
		}).Warn("Startup insights refresh failed")
	}

	if a.cfg.Connectivity.Enabled {
		a.connectivity.Start(ctx)
	}
	if a.scheduler != nil {
		go a.scheduler.Start(ctx)
	}
}

// stop halts background loops and waits for detached cache writes
func (a *application) stop() {
	a.connectivity.Stop()
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	a.hub.Shutdown()
	a.registration.Wait()
}

// handleWindowConnect asks a waiting generation to take over as soon as a
// window is around to be claimed
func (a *application) handleWindowConnect(ctx context.Context, window models.Window) {
	if a.registration.Waiting() == nil {
		return
	}
	a.logger.WithField(service.LogFieldWindowID, privacy.MaskClientID(window.ID)).Debug("Waiting worker found, sending SKIP_WAITING")
	if _, err := a.dispatcher.Dispatch(ctx, worker.MessageEvent{Type: worker.MessageSkipWaiting}); err != nil {
		a.logger.WithError(err).Warn("Failed to activate waiting worker")
	}
}

// handleWindowMessage routes a message posted over the window socket
func (a *application) handleWindowMessage(ctx context.Context, windowID string, payload json.RawMessage) error {
	var msg worker.MessageEvent
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to decode window message: %w", err)
	}
	_, err := a.dispatcher.Dispatch(ctx, msg)
	return err
}
