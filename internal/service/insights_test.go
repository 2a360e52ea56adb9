package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"offlinekit/internal/models"
	"offlinekit/pkg/circuitbreaker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInsightsServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "3", r.URL.Query().Get("_limit"))
		assert.Equal(t, "no-cache", r.Header.Get("Cache-Control"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestFetcher(url string, store InsightsStore, breaker *circuitbreaker.CircuitBreaker) *InsightsFetcher {
	return NewInsightsFetcher(models.InsightsConfig{URL: url, Limit: 3, TimeoutSec: 2}, store, nil, breaker, quietLogger())
}

func TestInsightsFetcher_RefreshStoresFreshData(t *testing.T) {
	srv, _ := newInsightsServer(t, http.StatusOK, `[
		{"userId":1,"id":1,"title":"Mantenimiento","body":"Revisa el pH cada semana"},
		{"userId":1,"id":2,"title":"Invierno","body":"Cubre la piscina"}
	]`)
	store := newMemoryInsightsStore()

	result := newTestFetcher(srv.URL, store, nil).Refresh(context.Background())

	assert.False(t, result.UsedFallback)
	assert.Empty(t, result.Error)
	require.Len(t, result.Insights, 2)
	assert.Equal(t, models.Insight{ID: 1, Title: "Mantenimiento", Body: "Revisa el pH cada semana"}, result.Insights[0])

	stored, err := store.ListInsights(context.Background())
	require.NoError(t, err)
	assert.Equal(t, result.Insights, stored)
}

func TestInsightsFetcher_UpsertKeepsStaleItems(t *testing.T) {
	srv, _ := newInsightsServer(t, http.StatusOK, `[{"id":2,"title":"new","body":"b"}]`)
	store := newMemoryInsightsStore(
		models.Insight{ID: 1, Title: "old one", Body: "a"},
		models.Insight{ID: 2, Title: "old two", Body: "a"},
	)

	result := newTestFetcher(srv.URL, store, nil).Refresh(context.Background())
	require.False(t, result.UsedFallback)
	assert.Len(t, result.Insights, 1)

	stored, err := store.ListInsights(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Insight{
		{ID: 1, Title: "old one", Body: "a"},
		{ID: 2, Title: "new", Body: "b"},
	}, stored)
}

func TestInsightsFetcher_FallbackToLocalCopy(t *testing.T) {
	seed := []models.Insight{{ID: 7, Title: "Guardado", Body: "Copia local"}}

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"boom"}`},
		{name: "not found", status: http.StatusNotFound, body: ``},
		{name: "malformed json", status: http.StatusOK, body: `{"not":"a list"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newInsightsServer(t, tt.status, tt.body)
			store := newMemoryInsightsStore(seed...)

			result := newTestFetcher(srv.URL, store, nil).Refresh(context.Background())

			assert.True(t, result.UsedFallback)
			assert.NotEmpty(t, result.Error)
			assert.Equal(t, seed, result.Insights)
		})
	}
}

func TestInsightsFetcher_NetworkDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	store := newMemoryInsightsStore(models.Insight{ID: 1, Title: "t", Body: "b"})
	result := newTestFetcher(url, store, nil).Refresh(context.Background())

	assert.True(t, result.UsedFallback)
	assert.Contains(t, result.Error, "NETWORK_UNAVAILABLE")
	assert.Len(t, result.Insights, 1)
}

func TestInsightsFetcher_EmptyLocalCopy(t *testing.T) {
	srv, _ := newInsightsServer(t, http.StatusBadGateway, ``)

	result := newTestFetcher(srv.URL, newMemoryInsightsStore(), nil).Refresh(context.Background())

	assert.True(t, result.UsedFallback)
	assert.NotNil(t, result.Insights)
	assert.Empty(t, result.Insights)
}

func TestInsightsFetcher_LocalReadFailure(t *testing.T) {
	srv, _ := newInsightsServer(t, http.StatusServiceUnavailable, ``)
	store := newMemoryInsightsStore()
	store.listErr = errors.New("store closed")

	result := newTestFetcher(srv.URL, store, nil).Refresh(context.Background())

	assert.True(t, result.UsedFallback)
	assert.Empty(t, result.Insights)
	assert.Contains(t, result.Error, "store closed")
}

func TestInsightsFetcher_StoreFailureStillReturnsFreshData(t *testing.T) {
	srv, _ := newInsightsServer(t, http.StatusOK, `[{"id":1,"title":"t","body":"b"}]`)
	store := newMemoryInsightsStore()
	store.upsertErr = errors.New("readonly database")

	result := newTestFetcher(srv.URL, store, nil).Refresh(context.Background())

	assert.False(t, result.UsedFallback)
	assert.Len(t, result.Insights, 1)
	assert.Contains(t, result.Error, "readonly database")
}

func TestInsightsFetcher_OpenBreakerSkipsRemote(t *testing.T) {
	srv, hits := newInsightsServer(t, http.StatusInternalServerError, ``)
	breaker := circuitbreaker.New("insights", 1, time.Minute)
	fetcher := newTestFetcher(srv.URL, newMemoryInsightsStore(), breaker)

	first := fetcher.Refresh(context.Background())
	second := fetcher.Refresh(context.Background())

	assert.True(t, first.UsedFallback)
	assert.True(t, second.UsedFallback)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, circuitbreaker.StateOpen, breaker.GetState())
}

func TestNewInsightsFetcher_Defaults(t *testing.T) {
	fetcher := NewInsightsFetcher(models.InsightsConfig{}, newMemoryInsightsStore(), nil, nil, nil)

	assert.Equal(t, "https://jsonplaceholder.typicode.com/posts", fetcher.endpoint)
	assert.Equal(t, 3, fetcher.limit)
	assert.NotNil(t, fetcher.client)
	assert.NotNil(t, fetcher.logger)
}
