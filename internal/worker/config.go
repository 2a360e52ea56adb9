package worker

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"offlinekit/internal/constants"
	"offlinekit/internal/models"
	"offlinekit/internal/security"
)

// Config is the immutable description of one worker generation. It is built
// once from the loaded configuration and only ever passed by value.
type Config struct {
	origin            string
	version           string
	appShellCacheName string
	runtimeCacheName  string
	offlineURL        string
	assets            []string
	revalidateTimeout time.Duration
	deferActivation   bool
}

// NewConfig validates wc and returns a Config with defaults applied
func NewConfig(wc models.WorkerConfig) (Config, error) {
	cfg := Config{
		origin:            strings.TrimRight(wc.Origin, "/"),
		version:           wc.Version,
		appShellCacheName: wc.AppShellCacheName,
		runtimeCacheName:  wc.RuntimeCacheName,
		offlineURL:        wc.OfflineURL,
		revalidateTimeout: time.Duration(constants.DefaultRevalidateTimeoutSec) * time.Second,
		deferActivation:   wc.DeferActivation,
	}

	if cfg.version == "" {
		cfg.version = constants.DefaultWorkerVersion
	}
	if cfg.appShellCacheName == "" {
		cfg.appShellCacheName = constants.DefaultAppShellCacheName
	}
	if cfg.runtimeCacheName == "" {
		cfg.runtimeCacheName = constants.DefaultRuntimeCacheName
	}
	if cfg.offlineURL == "" {
		cfg.offlineURL = constants.DefaultOfflineURL
	}

	assets := wc.AppShellAssets
	if len(assets) == 0 {
		assets = constants.DefaultAppShellAssets
	}
	cfg.assets = make([]string, 0, len(assets))
	seen := make(map[string]struct{}, len(assets))
	for _, asset := range assets {
		if err := security.ValidateAssetPath(asset); err != nil {
			return Config{}, fmt.Errorf("invalid app shell asset: %w", err)
		}
		if _, dup := seen[asset]; dup {
			continue
		}
		seen[asset] = struct{}{}
		cfg.assets = append(cfg.assets, asset)
	}

	if cfg.origin == "" {
		return Config{}, fmt.Errorf("worker origin is required")
	}
	u, err := url.Parse(cfg.origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Config{}, fmt.Errorf("worker origin must be an absolute http(s) URL: %q", wc.Origin)
	}
	if u.Path != "" || u.RawQuery != "" {
		return Config{}, fmt.Errorf("worker origin must not carry a path or query: %q", wc.Origin)
	}
	if err := security.ValidateAssetPath(cfg.offlineURL); err != nil {
		return Config{}, fmt.Errorf("invalid offline URL: %w", err)
	}
	if cfg.appShellCacheName == cfg.runtimeCacheName {
		return Config{}, fmt.Errorf("app shell and runtime caches must have different names")
	}

	return cfg, nil
}

// Origin returns scheme://host of the proxied site
func (c Config) Origin() string { return c.origin }

// Version returns the worker generation label
func (c Config) Version() string { return c.version }

// AppShellCacheName returns the versioned app shell cache name
func (c Config) AppShellCacheName() string { return c.appShellCacheName }

// RuntimeCacheName returns the runtime cache name
func (c Config) RuntimeCacheName() string { return c.runtimeCacheName }

// OfflineURL returns the origin-relative offline fallback path
func (c Config) OfflineURL() string { return c.offlineURL }

// DeferActivation reports whether an installed worker waits for SKIP_WAITING
// instead of activating on its own
func (c Config) DeferActivation() bool { return c.deferActivation }

// Assets returns a copy of the install manifest
func (c Config) Assets() []string {
	out := make([]string, len(c.assets))
	copy(out, c.assets)
	return out
}

// CacheNames lists the generations that survive activation
func (c Config) CacheNames() []string {
	return []string{c.appShellCacheName, c.runtimeCacheName}
}

// Resolve turns an origin-relative path into an absolute URL on the origin
func (c Config) Resolve(path string) string {
	return c.origin + path
}

// WithRevalidateTimeout returns a copy with a different background fetch bound
func (c Config) WithRevalidateTimeout(d time.Duration) Config {
	if d > 0 {
		c.revalidateTimeout = d
	}
	c.assets = c.Assets()
	return c
}
