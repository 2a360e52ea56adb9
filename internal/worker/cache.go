package worker

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Entry is a stored response. Bodies are held in memory and copied on every
// read so callers may consume them freely.
type Entry struct {
	Method   string
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Key identifies the entry inside a cache
func (e *Entry) Key() string {
	return cacheKey(e.Method, e.URL)
}

// Response materialises a fresh *http.Response for req
func (e *Entry) Response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(e.Body)))

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// captureResponse buffers resp so it can be both stored and returned. When the
// body exceeds maxBytes the response is handed back unbuffered and entry is nil.
func captureResponse(req *http.Request, resp *http.Response, maxBytes int64, now time.Time) (*Entry, *http.Response, error) {
	limited := io.LimitReader(resp.Body, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if int64(len(body)) > maxBytes {
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(body), resp.Body), resp.Body}
		return nil, resp, nil
	}
	resp.Body.Close()

	entry := &Entry{
		Method:   req.Method,
		URL:      req.URL.String(),
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: now,
	}
	entry.Header.Del("Content-Length")

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return entry, resp, nil
}

func cacheKey(method, rawURL string) string {
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + rawURL
}

// Cache is one named cache generation
type Cache struct {
	name    string
	mu      sync.RWMutex
	entries map[string]*Entry
}

func newCache(name string) *Cache {
	return &Cache{name: name, entries: make(map[string]*Entry)}
}

// Name returns the generation name
func (c *Cache) Name() string { return c.name }

// Put stores or replaces an entry
func (c *Cache) Put(entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Key()] = entry
}

// Match looks up an entry by method and absolute URL
func (c *Cache) Match(method, rawURL string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[cacheKey(method, rawURL)]
	return entry, ok
}

// Delete removes an entry and reports whether it existed
func (c *Cache) Delete(method, rawURL string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(method, rawURL)
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// Keys returns the sorted entry keys
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CacheStorage holds every named cache. Lookups across caches follow creation
// order, the way the browser's caches.match does.
type CacheStorage struct {
	mu     sync.RWMutex
	caches map[string]*Cache
	order  []string
}

// NewCacheStorage creates an empty storage
func NewCacheStorage() *CacheStorage {
	return &CacheStorage{caches: make(map[string]*Cache)}
}

// Open returns the named cache, creating it if needed
func (s *CacheStorage) Open(name string) *Cache {
	s.mu.RLock()
	c, ok := s.caches[name]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.caches[name]; ok {
		return c
	}
	c = newCache(name)
	s.caches[name] = c
	s.order = append(s.order, name)
	return c
}

// Has reports whether a cache with that name exists
func (s *CacheStorage) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.caches[name]
	return ok
}

// Commit swaps in a fully populated cache under its name in one step, so
// readers see either the previous generation or the complete new one.
func (s *CacheStorage) Commit(c *Cache) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[c.name]; !ok {
		s.order = append(s.order, c.name)
	}
	s.caches[c.name] = c
}

// Delete removes a cache and reports whether it existed
func (s *CacheStorage) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[name]; !ok {
		return false
	}
	delete(s.caches, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Keys lists cache names in creation order
func (s *CacheStorage) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Match searches every cache and returns the first hit with its cache name
func (s *CacheStorage) Match(method, rawURL string) (*Entry, string, bool) {
	s.mu.RLock()
	caches := make([]*Cache, 0, len(s.order))
	for _, name := range s.order {
		caches = append(caches, s.caches[name])
	}
	s.mu.RUnlock()

	for _, c := range caches {
		if entry, ok := c.Match(method, rawURL); ok {
			return entry, c.name, true
		}
	}
	return nil, "", false
}

// Entries returns the total entry count across caches
func (s *CacheStorage) Entries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, c := range s.caches {
		total += c.Len()
	}
	return total
}
