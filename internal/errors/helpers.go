package errors

import (
	"fmt"
	"net/http"
)

// Common error creators for frequent use cases

// NewValidationError creates a validation error with field context
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewStoreUnavailableError reports that the local store could not be opened or
// is no longer usable. It is fatal to the calling operation.
func NewStoreUnavailableError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeStoreUnavailable, fmt.Sprintf("local store unavailable during %s", operation)).
		WithContext("operation", operation).
		WithUserMessage("Local storage is unavailable")
}

// NewStoreError creates a query error with operation context
func NewStoreError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeStoreQuery, fmt.Sprintf("store %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Local storage operation failed")
}

// NewNetworkUnavailableError wraps a transport failure that never produced a response
func NewNetworkUnavailableError(url string, err error) *AppError {
	appErr := WrapRetryable(err, ErrCodeNetworkUnavailable, "network request failed").
		WithContext("url", url).
		WithUserMessage("You appear to be offline")
	return appErr
}

// NewRemoteError creates an error for a remote endpoint that answered badly
func NewRemoteError(endpoint string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeRemoteError, fmt.Sprintf("remote call failed with status %d", statusCode)).
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode)

	// Server-side and throttling failures are worth another attempt later
	appErr.Retryable = statusCode >= 500 || statusCode == 429 || statusCode == 408
	return appErr
}

// NewDeliveryFailedError marks a failed outbox delivery. The queue is kept for the next drain.
func NewDeliveryFailedError(clientID string, err error) *AppError {
	return WrapRetryable(err, ErrCodeDeliveryFailed, "outbox delivery failed").
		WithContext("client_id", clientID).
		WithUserMessage("Saved for later")
}

// NewAssetInstallFailedError reports an app-shell asset that could not be cached
func NewAssetInstallFailedError(asset string, err error) *AppError {
	return Wrap(err, ErrCodeAssetInstallFailed, "app shell install failed").
		WithContext("asset", asset)
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// HTTP helpers

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeNetworkUnavailable, ErrCodeRemoteError, ErrCodeNoCachedResponse:
		return http.StatusBadGateway
	case ErrCodeStoreUnavailable, ErrCodeStoreQuery, ErrCodeStoreMigration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the standardized HTTP error body
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	if appErr, ok := As(err); ok {
		response.Error.Code = appErr.Code
		response.Error.Message = GetUserMessage(err)
		if len(appErr.Context) > 0 {
			publicContext := make(map[string]interface{})
			for k, v := range appErr.Context {
				if k != "password" && k != "token" && k != "secret" {
					publicContext[k] = v
				}
			}
			if len(publicContext) > 0 {
				response.Error.Context = publicContext
			}
		}
	} else {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
	}

	return response
}
