package constants

// Default server configuration values
const (
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 30
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultHTTPTimeoutSec        = 30
)

// Default store values
const (
	DefaultStorePath             = "offlinekit.db"
	DefaultDatabaseRetryAttempts = 3
	DefaultBackoffInitialMs      = 500
	DefaultBackoffMaxSec         = 5
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultMaxAttempts           = 5
)

// Cache generations and app shell
const (
	DefaultAppShellCacheName = "trebol-app-shell-v1"
	DefaultRuntimeCacheName  = "trebol-runtime-v1"
	DefaultOfflineURL        = "/offline.html"
	DefaultWorkerVersion     = "v1"

	DefaultRevalidateTimeoutSec = 30
	DefaultInstallConcurrency   = 4
	MaxCacheableBodyBytes       = 10 << 20
	ResponseSourceHeader        = "X-Offlinekit-Source"
	// RevalidationHeader is set on cached answers that refresh in the background
	RevalidationHeader = "X-Offlinekit-Revalidation"
)

// DefaultAppShellAssets is the install-time asset manifest
var DefaultAppShellAssets = []string{
	"/",
	"/index.html",
	"/offline.html",
	"/manifest.webmanifest",
	"/trebol_logo.png",
	"/start.png",
}

// Remote insights
const (
	DefaultInsightsURL        = "https://jsonplaceholder.typicode.com/posts"
	DefaultInsightsLimit      = 3
	DefaultInsightsTimeoutSec = 10
	MaxInsightsBodyBytes      = 1 << 20
)

// Connectivity monitoring
const (
	DefaultConnectivityIntervalSec  = 15
	DefaultConnectivityTimeoutSec   = 5
	DefaultConnectivityInitDelaySec = 1
)

// Periodic sync
const (
	DefaultSyncIntervalSec = 300
)

// Circuit breaker
const (
	DefaultBreakerMaxFailures = 5
	DefaultBreakerTimeoutSec  = 30
)

// Notification defaults
const (
	DefaultNotificationTitle      = "Trebol Pools"
	DefaultPushBody               = "Notificación instantánea desde Trebol Pools."
	DefaultPushFallbackBody       = "Tenemos novedades para ti."
	DefaultLocalNotificationBody  = "Notificación local desde tu dispositivo"
	DefaultNotificationIcon       = "/trebol_logo.png"
	DefaultNotificationBadge      = "/trebol_logo.png"
	DefaultNotificationURL        = "/"
	NotificationActionOpen        = "open"
	NotificationActionOpenTitle   = "Abrir"
	NotificationActionDismiss     = "dismiss"
	NotificationActionDismissText = "Descartar"
)

// DefaultLocalVibratePattern is the vibration pattern in milliseconds for local notifications
var DefaultLocalVibratePattern = []int{100, 50, 100}

// Outbox notices
const (
	OutboxSyncedNotice = "Mensajes sincronizados"
	OutboxSyncedDetail = "Se enviaron los formularios guardados sin conexión"
	OutboxSavedNotice  = "Guardado para enviar"
	OutboxSavedDetail  = "No hay conexión. Enviaremos el mensaje en cuanto vuelvas a estar en línea."
	OutboxSentNotice   = "Message sent!"
	OutboxSentDetail   = "Thank you for your message. I'll get back to you soon."
)

// Contact form limits
const (
	MaxFormFieldLength   = 256
	MaxFormMessageLength = 5000
	MaxFormFields        = 16
	MaxRequestBodyBytes  = 64 * 1024
)

// Hub settings
const (
	DefaultHubSendBuffer      = 16
	DefaultHubWriteTimeoutSec = 5
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
	DefaultMessageIDLength = 8
)
