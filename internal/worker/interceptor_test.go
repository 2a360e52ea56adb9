package worker

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"offlinekit/internal/constants"
	apperrors "offlinekit/internal/errors"
	"offlinekit/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// installedInterceptor returns an interceptor whose app shell is already populated
func installedInterceptor(t *testing.T, network *fakeNetwork) (*Interceptor, *CacheStorage) {
	t.Helper()
	caches := NewCacheStorage()
	w := NewWorker(testConfig(t), caches, network, nil, quietLogger())
	require.NoError(t, w.Install(context.Background()))
	return w.Interceptor(), caches
}

func TestInterceptor_NavigationOnline(t *testing.T) {
	network := newFakeNetwork()
	network.set("/about", http.StatusOK, "<html>about</html>")
	i, caches := installedInterceptor(t, network)

	resp, source, err := i.Handle(context.Background(), newNavigation(t, testOrigin+"/about"))
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, source)
	assert.Equal(t, "<html>about</html>", readBody(t, resp))

	entry, ok := caches.Open(constants.DefaultRuntimeCacheName).Match(http.MethodGet, testOrigin+"/about")
	require.True(t, ok)
	assert.Equal(t, "<html>about</html>", string(entry.Body))
}

func TestInterceptor_NavigationOfflineFallsBackToCachedPage(t *testing.T) {
	network := newFakeNetwork()
	network.set("/about", http.StatusOK, "<html>about</html>")
	i, _ := installedInterceptor(t, network)

	_, _, err := i.Handle(context.Background(), newNavigation(t, testOrigin+"/about"))
	require.NoError(t, err)

	network.setOffline(true)
	resp, source, err := i.Handle(context.Background(), newNavigation(t, testOrigin+"/about"))
	require.NoError(t, err)
	assert.Equal(t, SourceRuntimeCache, source)
	assert.Equal(t, "<html>about</html>", readBody(t, resp))
}

func TestInterceptor_NavigationOfflineNeverCachedServesOfflinePage(t *testing.T) {
	network := newFakeNetwork()
	i, _ := installedInterceptor(t, network)
	network.setOffline(true)

	resp, source, err := i.Handle(context.Background(), newNavigation(t, testOrigin+"/never-visited"))
	require.NoError(t, err)
	assert.Equal(t, SourceOfflineFallback, source)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>offline</html>", readBody(t, resp))
}

func TestInterceptor_NavigationWithoutOfflinePageServesBuiltIn(t *testing.T) {
	network := newFakeNetwork()
	network.setOffline(true)
	i := NewInterceptor(testConfig(t), NewCacheStorage(), network, nil, quietLogger())

	resp, source, err := i.Handle(context.Background(), newNavigation(t, testOrigin+"/"))
	require.NoError(t, err)
	assert.Equal(t, SourceOfflineFallback, source)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Sin conexión")
}

func TestInterceptor_NavigationErrorStatusIsNotCached(t *testing.T) {
	network := newFakeNetwork()
	network.set("/broken", http.StatusInternalServerError, "boom")
	i, caches := installedInterceptor(t, network)

	resp, source, err := i.Handle(context.Background(), newNavigation(t, testOrigin+"/broken"))
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, source)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "boom", readBody(t, resp))

	_, ok := caches.Open(constants.DefaultRuntimeCacheName).Match(http.MethodGet, testOrigin+"/broken")
	assert.False(t, ok)
}

func TestInterceptor_StaleWhileRevalidate(t *testing.T) {
	network := newFakeNetwork()
	network.set("/styles.css", http.StatusOK, "v1")
	i, caches := installedInterceptor(t, network)
	ctx := context.Background()

	resp, source, err := i.Handle(ctx, newSubresource(t, testOrigin+"/styles.css"))
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, source)
	assert.Equal(t, "v1", readBody(t, resp))

	network.set("/styles.css", http.StatusOK, "v2")

	resp, source, err = i.Handle(ctx, newSubresource(t, testOrigin+"/styles.css"))
	require.NoError(t, err)
	assert.Equal(t, SourceRuntimeCache, source)
	assert.Equal(t, "v1", readBody(t, resp), "cached copy is served immediately")

	i.Wait()

	entry, ok := caches.Open(constants.DefaultRuntimeCacheName).Match(http.MethodGet, testOrigin+"/styles.css")
	require.True(t, ok)
	assert.Equal(t, "v2", string(entry.Body))

	resp, _, err = i.Handle(ctx, newSubresource(t, testOrigin+"/styles.css"))
	require.NoError(t, err)
	assert.Equal(t, "v2", readBody(t, resp))
	i.Wait()
}

func TestInterceptor_RevalidationKeepsCacheOnFailure(t *testing.T) {
	network := newFakeNetwork()
	network.set("/app.js", http.StatusOK, "good")
	i, caches := installedInterceptor(t, network)
	ctx := context.Background()

	_, _, err := i.Handle(ctx, newSubresource(t, testOrigin+"/app.js"))
	require.NoError(t, err)

	network.set("/app.js", http.StatusServiceUnavailable, "maintenance")
	resp, _, err := i.Handle(ctx, newSubresource(t, testOrigin+"/app.js"))
	require.NoError(t, err)
	assert.Equal(t, "good", readBody(t, resp))
	i.Wait()

	network.setOffline(true)
	resp, source, err := i.Handle(ctx, newSubresource(t, testOrigin+"/app.js"))
	require.NoError(t, err)
	assert.Equal(t, SourceRuntimeCache, source)
	assert.Equal(t, "good", readBody(t, resp))
	i.Wait()

	entry, ok := caches.Open(constants.DefaultRuntimeCacheName).Match(http.MethodGet, testOrigin+"/app.js")
	require.True(t, ok)
	assert.Equal(t, "good", string(entry.Body))
}

func TestInterceptor_OversizeRevalidationIsNotCountedAsStored(t *testing.T) {
	metrics.GetRegistry().Reset()
	network := newFakeNetwork()
	network.set("/big.css", http.StatusOK, "tiny")
	i, caches := installedInterceptor(t, network)
	i.maxBytes = 8
	ctx := context.Background()

	_, _, err := i.Handle(ctx, newSubresource(t, testOrigin+"/big.css"))
	require.NoError(t, err)

	network.set("/big.css", http.StatusOK, strings.Repeat("x", 64))
	resp, source, err := i.Handle(ctx, newSubresource(t, testOrigin+"/big.css"))
	require.NoError(t, err)
	assert.Equal(t, SourceRuntimeCache, source)
	assert.Equal(t, "scheduled", resp.Header.Get(constants.RevalidationHeader))
	assert.Equal(t, "tiny", readBody(t, resp))
	i.Wait()

	assert.Equal(t, float64(1), metrics.GetRegistry().CounterValue(metrics.RevalidationsTotal, map[string]string{"result": "skipped"}))
	assert.Zero(t, metrics.GetRegistry().CounterValue(metrics.RevalidationsTotal, map[string]string{"result": "stored"}))

	entry, ok := caches.Open(constants.DefaultRuntimeCacheName).Match(http.MethodGet, testOrigin+"/big.css")
	require.True(t, ok)
	assert.Equal(t, "tiny", string(entry.Body))
}

func TestInterceptor_StaleWhileRevalidateServesAppShell(t *testing.T) {
	network := newFakeNetwork()
	i, _ := installedInterceptor(t, network)
	network.setOffline(true)

	resp, source, err := i.Handle(context.Background(), newSubresource(t, testOrigin+"/trebol_logo.png"))
	require.NoError(t, err)
	assert.Equal(t, SourceAppShell, source)
	assert.Equal(t, "logo", readBody(t, resp))
	i.Wait()
}

func TestInterceptor_SameOriginMissWhileOffline(t *testing.T) {
	network := newFakeNetwork()
	i, _ := installedInterceptor(t, network)
	network.setOffline(true)

	resp, _, err := i.Handle(context.Background(), newSubresource(t, testOrigin+"/missing.js"))
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNoCachedResponse))
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNetworkUnavailable))
}

func TestInterceptor_SameOriginNon200IsReturnedNotCached(t *testing.T) {
	network := newFakeNetwork()
	i, caches := installedInterceptor(t, network)

	resp, source, err := i.Handle(context.Background(), newSubresource(t, testOrigin+"/nope.js"))
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, source)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	_, ok := caches.Open(constants.DefaultRuntimeCacheName).Match(http.MethodGet, testOrigin+"/nope.js")
	assert.False(t, ok)
}

func TestInterceptor_NonGetPassesThrough(t *testing.T) {
	network := newFakeNetwork()
	network.set("/api/contact", http.StatusOK, "accepted")
	i, caches := installedInterceptor(t, network)
	before := caches.Entries()

	req, err := http.NewRequest(http.MethodPost, testOrigin+"/api/contact", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)

	resp, source, err := i.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, SourcePassthrough, source)
	assert.Equal(t, "accepted", readBody(t, resp))
	assert.Equal(t, before, caches.Entries())

	network.setOffline(true)
	req, err = http.NewRequest(http.MethodPost, testOrigin+"/api/contact", strings.NewReader(`{}`))
	require.NoError(t, err)
	_, source, err = i.Handle(context.Background(), req)
	assert.Equal(t, SourcePassthrough, source)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNetworkUnavailable))
}

func TestInterceptor_CrossOrigin(t *testing.T) {
	network := newFakeNetwork()
	network.set("/lib.js", http.StatusOK, "lib")
	i, _ := installedInterceptor(t, network)
	ctx := context.Background()
	cdn := "https://cdn.example.com/lib.js"

	resp, source, err := i.Handle(ctx, newSubresource(t, cdn))
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, source)
	assert.Equal(t, "lib", readBody(t, resp))

	network.setOffline(true)
	resp, source, err = i.Handle(ctx, newSubresource(t, cdn))
	require.NoError(t, err)
	assert.Equal(t, SourceRuntimeCache, source)
	assert.Equal(t, "lib", readBody(t, resp))

	_, _, err = i.Handle(ctx, newSubresource(t, "https://cdn.example.com/other.js"))
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNoCachedResponse))
}

func TestInterceptor_RoundTripReportsSource(t *testing.T) {
	network := newFakeNetwork()
	i, _ := installedInterceptor(t, network)
	network.setOffline(true)

	client := &http.Client{Transport: i}
	resp, err := client.Do(newNavigation(t, testOrigin+"/gone"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, string(SourceOfflineFallback), resp.Header.Get(constants.ResponseSourceHeader))
}
