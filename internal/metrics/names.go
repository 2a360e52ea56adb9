package metrics

// Metric names recorded across the daemon
const (
	HTTPRequestsTotal    = "http_requests_total"
	HTTPRequestDuration  = "http_request_duration"
	HTTPRequestsInFlight = "http_requests_in_flight"

	InterceptedRequestsTotal = "intercepted_requests_total"
	InterceptDuration        = "intercept_duration"
	RevalidationsTotal       = "cache_revalidations_total"
	CacheEntries             = "cache_entries"
	WorkerInstallsTotal      = "worker_installs_total"
	WorkerActivationsTotal   = "worker_activations_total"

	OutboxSubmissionsTotal = "outbox_submissions_total"
	OutboxDrainsTotal      = "outbox_drains_total"
	OutboxPending          = "outbox_pending"
	OutboxDrainDuration    = "outbox_drain_duration"

	InsightsRefreshTotal    = "insights_refresh_total"
	InsightsRefreshDuration = "insights_refresh_duration"

	NotificationsShownTotal  = "notifications_shown_total"
	NotificationClicksTotal  = "notification_clicks_total"
	ConnectedWindows         = "connected_windows"
	ConnectivityOnline       = "connectivity_online"
	ConnectivityChangesTotal = "connectivity_changes_total"
)
