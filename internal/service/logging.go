package service

import (
	"context"

	"offlinekit/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerboseLogging marks ctx so form contents are logged unmasked
func WithVerboseLogging(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// LogWithContext creates a logger entry with optional sensitive information
func LogWithContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	return logger.WithField("verbose", IsVerboseLogging(ctx))
}

// LogFormSubmission logs a contact form with privacy controls
func LogFormSubmission(ctx context.Context, logger *logrus.Logger, clientID string, fields map[string]string, message string) {
	if IsVerboseLogging(ctx) {
		entry := logger.WithField(LogFieldClientID, clientID)
		for k, v := range fields {
			entry = entry.WithField("form_"+k, v)
		}
		entry.Info(message)
		return
	}

	entry := logger.WithField(LogFieldClientID, privacy.MaskClientID(clientID))
	for k, v := range privacy.MaskFormFields(fields) {
		entry = entry.WithField("form_"+k, v)
	}
	entry.Info(message)
}
