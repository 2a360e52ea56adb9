package service

// Logging Standards for offlinekit
//
// This file defines standard field names, log levels, and patterns
// to ensure consistent logging across the daemon.

// Standard Field Names
// Use these exact field names for consistency across all logging calls
const (
	// Core identifiers
	LogFieldClientID  = "client_id"
	LogFieldRecordID  = "record_id"
	LogFieldRequestID = "request_id"
	LogFieldTraceID   = "trace_id"
	LogFieldWindowID  = "window_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"
	LogFieldMethod    = "method"

	// Outbox and worker fields
	LogFieldEvent   = "event"
	LogFieldSource  = "source"
	LogFieldVersion = "version"
	LogFieldOnline  = "online"
	LogFieldPending = "pending"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	// Network and external services
	LogFieldURL        = "url"
	LogFieldEndpoint   = "endpoint"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"

	// Error and debugging
	LogFieldErrorCode  = "error_code"
	LogFieldErrorType  = "error_type"
	LogFieldRetryCount = "retry_count"
	LogFieldAttempt    = "attempt"
)

// Log Level Usage Guidelines
//
// DEBUG: Detailed information for diagnosing problems.
//   - Cache hits and misses
//   - Background revalidation results
//   - Skipped drains
//
// INFO: General information about application flow and key events.
//   - Daemon startup/shutdown
//   - Worker installed/activated
//   - Outbox drained
//   - Connectivity changes
//
// WARN: Something unexpected happened, but the daemon can continue.
//   - Delivery failed, message kept in the outbox
//   - Insights served from the local copy
//   - Circuit breaker opened
//
// ERROR: Error events that might still allow the daemon to continue.
//   - Local store failures
//   - App shell install failures
//
// FATAL: The daemon cannot start.
//   - Configuration invalid
//   - Local store cannot be opened

// Standard Log Message Patterns
//
// Starting operations: "Starting [operation]"
// Completed operations: "Completed [operation]" or "[Operation] completed successfully"
// Failed operations: "Failed to [operation]"
// Skipping operations: "Skipping [operation]: [reason]"
// Configuration: "Loaded [config type] configuration" / "Using default [setting]"
//
// Example Usage:
//
// logger.WithFields(logrus.Fields{
//     LogFieldClientID: privacy.MaskClientID(msg.ClientID),
//     LogFieldPending:  len(pending),
// }).Warn("Delivery failed, message kept for later")
