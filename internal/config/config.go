package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"offlinekit/internal/constants"
	"offlinekit/internal/models"
	"offlinekit/internal/security"
	"offlinekit/internal/validation"
	pkgconstants "offlinekit/pkg/constants"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable viper binds
const EnvPrefix = "OFFLINEKIT"

var (
	ErrMissingStorePath = models.ConfigError{Message: "missing store path"}
	ErrMissingOrigin    = models.ConfigError{Message: "missing worker origin"}
)

// LoadConfig reads path (JSON or YAML), applies defaults and environment
// overrides and validates the result. An empty path searches ./offlinekit.*
// and /etc/offlinekit/offlinekit.*; no file at all is not an error.
func LoadConfig(path string) (*models.Config, error) {
	v := viper.New()

	if path != "" {
		// Validate config file path to prevent directory traversal
		if err := security.ValidateFilePath(path); err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("offlinekit")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/offlinekit")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config models.Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	// Perform security validation after environment overrides
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", constants.DefaultServerPort)
	v.SetDefault("server.read_timeout_sec", constants.DefaultServerReadTimeoutSec)
	v.SetDefault("server.write_timeout_sec", constants.DefaultServerWriteTimeoutSec)
	v.SetDefault("server.idle_timeout_sec", constants.DefaultServerIdleTimeoutSec)
	v.SetDefault("server.shutdown_timeout_sec", constants.DefaultGracefulShutdownSec)
	v.SetDefault("server.open_windows_in_browser", false)

	v.SetDefault("store.path", constants.DefaultStorePath)

	v.SetDefault("worker.origin", "http://localhost:3000")
	v.SetDefault("worker.version", constants.DefaultWorkerVersion)
	v.SetDefault("worker.app_shell_cache_name", constants.DefaultAppShellCacheName)
	v.SetDefault("worker.runtime_cache_name", constants.DefaultRuntimeCacheName)
	v.SetDefault("worker.offline_url", constants.DefaultOfflineURL)
	v.SetDefault("worker.app_shell_assets", constants.DefaultAppShellAssets)
	v.SetDefault("worker.install_on_start", true)
	v.SetDefault("worker.defer_activation", false)

	v.SetDefault("insights.url", constants.DefaultInsightsURL)
	v.SetDefault("insights.limit", constants.DefaultInsightsLimit)
	v.SetDefault("insights.timeout_sec", constants.DefaultInsightsTimeoutSec)

	v.SetDefault("emailjs.base_url", pkgconstants.DefaultEmailJSBaseURL)
	v.SetDefault("emailjs.service_id", "")
	v.SetDefault("emailjs.template_id", "")
	v.SetDefault("emailjs.public_key", "")
	v.SetDefault("emailjs.timeout_sec", pkgconstants.DefaultEmailJSTimeoutSec)

	v.SetDefault("connectivity.enabled", true)
	v.SetDefault("connectivity.probe_url", "")
	v.SetDefault("connectivity.interval_sec", constants.DefaultConnectivityIntervalSec)
	v.SetDefault("connectivity.timeout_sec", constants.DefaultConnectivityTimeoutSec)
	v.SetDefault("connectivity.init_delay_sec", constants.DefaultConnectivityInitDelaySec)

	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.interval_sec", constants.DefaultSyncIntervalSec)

	v.SetDefault("retry.initial_backoff_ms", constants.DefaultRetryBackoffMs)
	v.SetDefault("retry.max_backoff_ms", constants.DefaultMaxBackoffMs)
	v.SetDefault("retry.max_attempts", constants.DefaultMaxAttempts)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.use_stdout", false)
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.sample_rate", 0.1)
	v.SetDefault("tracing.environment", "development")
}

func validate(c *models.Config) error {
	if c.Store.Path == "" {
		return ErrMissingStorePath
	}
	if c.Worker.Origin == "" {
		return ErrMissingOrigin
	}
	if err := validation.ValidateHTTPURL(c.Worker.Origin, "worker.origin"); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if err := validation.ValidateNumericRange(c.Server.Port, "server.port", 1, 65535); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if c.Worker.AppShellCacheName == c.Worker.RuntimeCacheName {
		return models.ConfigError{Message: "worker cache names must differ"}
	}
	for i, asset := range c.Worker.AppShellAssets {
		if err := security.ValidateAssetPath(asset); err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid app shell asset %d: %v", i, err)}
		}
	}
	if c.Insights.URL != "" {
		if err := validation.ValidateHTTPURL(c.Insights.URL, "insights.url"); err != nil {
			return models.ConfigError{Message: err.Error()}
		}
	}
	if c.Connectivity.ProbeURL != "" {
		if err := validation.ValidateHTTPURL(c.Connectivity.ProbeURL, "connectivity.probe_url"); err != nil {
			return models.ConfigError{Message: err.Error()}
		}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing.sample_rate must be between 0 and 1"}
	}

	if c.Insights.Limit <= 0 {
		c.Insights.Limit = constants.DefaultInsightsLimit
	}
	if c.Sync.IntervalSec <= 0 {
		c.Sync.IntervalSec = constants.DefaultSyncIntervalSec
	}
	if c.Server.ShutdownTimeoutSec <= 0 {
		c.Server.ShutdownTimeoutSec = constants.DefaultGracefulShutdownSec
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if origin := os.Getenv("ORIGIN_URL"); origin != "" {
		c.Worker.Origin = origin
	}

	// SECURITY: EmailJS keys should be set via environment variables
	if key := os.Getenv("EMAILJS_PUBLIC_KEY"); key != "" {
		c.EmailJS.PublicKey = key
	}

	if path := os.Getenv("DB_PATH"); path != "" {
		c.Store.Path = path
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	// Check if we're in production mode
	isProduction := os.Getenv(EnvPrefix+"_ENV") == "production"

	if isProduction {
		if c.EmailJS.PublicKey == "" || c.EmailJS.ServiceID == "" || c.EmailJS.TemplateID == "" {
			return models.ConfigError{Message: "EmailJS service, template and public key are required in production (set OFFLINEKIT_EMAILJS_* environment variables)"}
		}
		if strings.HasPrefix(c.Worker.Origin, "http://") && !strings.Contains(c.Worker.Origin, "localhost") {
			return models.ConfigError{Message: "worker origin must use https in production"}
		}

		// Warn about debug logging in production
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (form contents may be logged)"}
		}
	} else if c.EmailJS.PublicKey == "" {
		// In development, warn if credentials are missing
		fmt.Fprintf(os.Stderr, "WARNING: EmailJS public key not set. Contact forms will be queued until OFFLINEKIT_EMAILJS_PUBLIC_KEY is set.\n")
	}

	return nil
}
