package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"offlinekit/internal/constants"
	apperrors "offlinekit/internal/errors"
	"offlinekit/internal/metrics"
	"offlinekit/internal/models"
	"offlinekit/internal/tracing"
	"offlinekit/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// InsightsStore is the part of the local store the fetcher needs
type InsightsStore interface {
	UpsertInsights(ctx context.Context, insights []models.Insight) error
	ListInsights(ctx context.Context) ([]models.Insight, error)
}

// remoteInsight is the item shape the remote endpoint returns
type remoteInsight struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// InsightsFetcher loads remote insights and mirrors them locally so the last
// good copy can be shown while offline
type InsightsFetcher struct {
	endpoint string
	limit    int
	client   *http.Client
	store    InsightsStore
	breaker  *circuitbreaker.CircuitBreaker
	logger   *logrus.Logger
}

// NewInsightsFetcher creates a fetcher. A nil breaker disables circuit breaking.
func NewInsightsFetcher(cfg models.InsightsConfig, store InsightsStore, client *http.Client, breaker *circuitbreaker.CircuitBreaker, logger *logrus.Logger) *InsightsFetcher {
	if cfg.URL == "" {
		cfg.URL = constants.DefaultInsightsURL
	}
	if cfg.Limit <= 0 {
		cfg.Limit = constants.DefaultInsightsLimit
	}
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = constants.DefaultInsightsTimeoutSec
	}
	if client == nil {
		client = &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &InsightsFetcher{
		endpoint: cfg.URL,
		limit:    cfg.Limit,
		client:   client,
		store:    store,
		breaker:  breaker,
		logger:   logger,
	}
}

// Refresh fetches fresh insights and stores them. When the remote call fails
// the locally stored copy is returned with UsedFallback set; Refresh itself
// never fails.
func (f *InsightsFetcher) Refresh(ctx context.Context) models.InsightsResult {
	ctx, span := tracing.StartSpan(ctx, "insights.refresh")
	defer span.End()
	start := time.Now()

	fresh, err := f.fetch(ctx)
	if err == nil {
		result := models.InsightsResult{Insights: fresh}
		if uerr := f.store.UpsertInsights(ctx, fresh); uerr != nil {
			apperrors.WrapLogger(f.logger).LogError(uerr, "Failed to store fetched insights")
			result.Error = uerr.Error()
		}
		f.record("fresh", start)
		return result
	}

	tracing.RecordError(ctx, err)
	apperrors.WrapLogger(f.logger).LogRetryableError(err, "Failed to fetch insights, using local copy", logrus.Fields{
		LogFieldEndpoint: f.endpoint,
	})

	cached, ferr := f.store.ListInsights(ctx)
	if ferr != nil {
		apperrors.WrapLogger(f.logger).LogError(ferr, "Failed to read local insights")
		f.record("unavailable", start)
		return models.InsightsResult{
			Insights:     []models.Insight{},
			UsedFallback: true,
			Error:        fmt.Sprintf("%v; %v", err, ferr),
		}
	}
	if cached == nil {
		cached = []models.Insight{}
	}

	f.record("fallback", start)
	tracing.AddSpanAttributes(ctx, attribute.Int("offlinekit.cached", len(cached)))
	return models.InsightsResult{Insights: cached, UsedFallback: true, Error: err.Error()}
}

func (f *InsightsFetcher) fetch(ctx context.Context) ([]models.Insight, error) {
	var out []models.Insight
	call := func(ctx context.Context) error {
		var err error
		out, err = f.fetchRemote(ctx)
		return err
	}

	var err error
	if f.breaker == nil {
		err = call(ctx)
	} else {
		err = f.breaker.Execute(ctx, call)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *InsightsFetcher) fetchRemote(ctx context.Context) ([]models.Insight, error) {
	u, err := url.Parse(f.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid insights URL: %w", err)
	}
	q := u.Query()
	q.Set("_limit", strconv.Itoa(f.limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperrors.NewNetworkUnavailableError(f.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperrors.NewRemoteError(f.endpoint, resp.StatusCode, fmt.Errorf("unexpected response: %s", string(snippet)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxInsightsBodyBytes+1))
	if err != nil {
		return nil, apperrors.NewNetworkUnavailableError(f.endpoint, fmt.Errorf("failed to read response: %w", err))
	}
	if len(body) > constants.MaxInsightsBodyBytes {
		return nil, apperrors.NewRemoteError(f.endpoint, resp.StatusCode, fmt.Errorf("response exceeds %d bytes", constants.MaxInsightsBodyBytes))
	}

	var items []remoteInsight
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, apperrors.NewRemoteError(f.endpoint, resp.StatusCode, fmt.Errorf("failed to decode insights: %w", err))
	}

	insights := make([]models.Insight, 0, len(items))
	for _, item := range items {
		insights = append(insights, models.Insight{ID: item.ID, Title: item.Title, Body: item.Body})
	}
	return insights, nil
}

func (f *InsightsFetcher) record(outcome string, start time.Time) {
	labels := map[string]string{"outcome": outcome}
	metrics.IncrementCounter(metrics.InsightsRefreshTotal, labels, "Insights refreshes")
	metrics.RecordTimer(metrics.InsightsRefreshDuration, time.Since(start), labels, "Insights refresh duration")
}
