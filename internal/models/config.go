package models

// Config holds the application configuration
type Config struct {
	Server       ServerConfig       `json:"server" mapstructure:"server"`
	Store        StoreConfig        `json:"store" mapstructure:"store"`
	Worker       WorkerConfig       `json:"worker" mapstructure:"worker"`
	Insights     InsightsConfig     `json:"insights" mapstructure:"insights"`
	EmailJS      EmailJSConfig      `json:"emailjs" mapstructure:"emailjs"`
	Connectivity ConnectivityConfig `json:"connectivity" mapstructure:"connectivity"`
	Sync         SyncConfig         `json:"sync" mapstructure:"sync"`
	Retry        RetryConfig        `json:"retry" mapstructure:"retry"`
	Tracing      TracingConfig      `json:"tracing" mapstructure:"tracing"`
	LogLevel     string             `json:"log_level" mapstructure:"log_level"`
}

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Host                 string `json:"host" mapstructure:"host"`
	Port                 int    `json:"port" mapstructure:"port"`
	ReadTimeoutSec       int    `json:"read_timeout_sec" mapstructure:"read_timeout_sec"`
	WriteTimeoutSec      int    `json:"write_timeout_sec" mapstructure:"write_timeout_sec"`
	IdleTimeoutSec       int    `json:"idle_timeout_sec" mapstructure:"idle_timeout_sec"`
	ShutdownTimeoutSec   int    `json:"shutdown_timeout_sec" mapstructure:"shutdown_timeout_sec"`
	OpenWindowsInBrowser bool   `json:"open_windows_in_browser" mapstructure:"open_windows_in_browser"`
}

// StoreConfig holds local store settings
type StoreConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// WorkerConfig describes the cache generations and the proxied site
type WorkerConfig struct {
	Origin            string   `json:"origin" mapstructure:"origin"`
	Version           string   `json:"version" mapstructure:"version"`
	AppShellCacheName string   `json:"app_shell_cache_name" mapstructure:"app_shell_cache_name"`
	RuntimeCacheName  string   `json:"runtime_cache_name" mapstructure:"runtime_cache_name"`
	OfflineURL        string   `json:"offline_url" mapstructure:"offline_url"`
	AppShellAssets    []string `json:"app_shell_assets" mapstructure:"app_shell_assets"`
	InstallOnStart    bool     `json:"install_on_start" mapstructure:"install_on_start"`
	DeferActivation   bool     `json:"defer_activation" mapstructure:"defer_activation"`
}

// InsightsConfig holds the remote insights endpoint
type InsightsConfig struct {
	URL        string `json:"url" mapstructure:"url"`
	Limit      int    `json:"limit" mapstructure:"limit"`
	TimeoutSec int    `json:"timeout_sec" mapstructure:"timeout_sec"`
}

// EmailJSConfig holds credentials for the email delivery API
type EmailJSConfig struct {
	BaseURL    string `json:"base_url" mapstructure:"base_url"`
	ServiceID  string `json:"service_id" mapstructure:"service_id"`
	TemplateID string `json:"template_id" mapstructure:"template_id"`
	PublicKey  string `json:"public_key" mapstructure:"public_key"`
	TimeoutSec int    `json:"timeout_sec" mapstructure:"timeout_sec"`
}

// ConnectivityConfig controls the reachability probe
type ConnectivityConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	ProbeURL     string `json:"probe_url" mapstructure:"probe_url"`
	IntervalSec  int    `json:"interval_sec" mapstructure:"interval_sec"`
	TimeoutSec   int    `json:"timeout_sec" mapstructure:"timeout_sec"`
	InitDelaySec int    `json:"init_delay_sec" mapstructure:"init_delay_sec"`
}

// SyncConfig controls the periodic outbox retry and insights refresh
type SyncConfig struct {
	Enabled     bool `json:"enabled" mapstructure:"enabled"`
	IntervalSec int  `json:"interval_sec" mapstructure:"interval_sec"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `json:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	MaxAttempts      int `json:"max_attempts" mapstructure:"max_attempts"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled      bool    `json:"enabled" mapstructure:"enabled"`
	UseStdout    bool    `json:"use_stdout" mapstructure:"use_stdout"`
	OTLPEndpoint string  `json:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	SampleRate   float64 `json:"sample_rate" mapstructure:"sample_rate"`
	Environment  string  `json:"environment" mapstructure:"environment"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
