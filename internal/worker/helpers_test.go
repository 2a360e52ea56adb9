package worker

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"offlinekit/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://site.test"

type page struct {
	status int
	body   string
}

// fakeNetwork serves pages from memory and can be switched offline
type fakeNetwork struct {
	mu      sync.Mutex
	pages   map[string]page
	offline bool
	down    map[string]bool
	calls   []string
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		pages: map[string]page{
			"/":                     {http.StatusOK, "<html>home</html>"},
			"/index.html":           {http.StatusOK, "<html>home</html>"},
			"/offline.html":         {http.StatusOK, "<html>offline</html>"},
			"/manifest.webmanifest": {http.StatusOK, `{"name":"Trebol"}`},
			"/trebol_logo.png":      {http.StatusOK, "logo"},
			"/start.png":            {http.StatusOK, "start"},
		},
		down: make(map[string]bool),
	}
}

func (f *fakeNetwork) set(path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[path] = page{status, body}
}

func (f *fakeNetwork) setOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

func (f *fakeNetwork) setDown(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[path] = true
}

func (f *fakeNetwork) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Method+" "+req.URL.String())
	offline := f.offline || f.down[req.URL.Path]
	p, ok := f.pages[req.URL.Path]
	f.mu.Unlock()

	if offline {
		return nil, errors.New("dial tcp: connect: network is unreachable")
	}
	if err := req.Context().Err(); err != nil {
		return nil, err
	}

	rec := httptest.NewRecorder()
	if !ok {
		http.NotFound(rec, req)
	} else {
		rec.Header().Set("Content-Type", "text/plain")
		rec.WriteHeader(p.status)
		_, _ = io.WriteString(rec, p.body)
	}
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig(t *testing.T, mutate ...func(*models.WorkerConfig)) Config {
	t.Helper()
	wc := models.WorkerConfig{Origin: testOrigin}
	for _, m := range mutate {
		m(&wc)
	}
	cfg, err := NewConfig(wc)
	require.NoError(t, err)
	return cfg
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func newGet(t *testing.T, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	return req
}

func newNavigation(t *testing.T, rawURL string) *http.Request {
	t.Helper()
	req := newGet(t, rawURL)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Accept", "text/html")
	return req
}

func newSubresource(t *testing.T, rawURL string) *http.Request {
	t.Helper()
	req := newGet(t, rawURL)
	req.Header.Set("Sec-Fetch-Mode", "no-cors")
	return req
}
