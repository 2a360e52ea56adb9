package validation

import (
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"unicode"

	"offlinekit/internal/constants"
	"offlinekit/internal/errors"
	"offlinekit/internal/models"
)

var requiredContactFields = []string{models.FieldEmail, models.FieldName, models.FieldMessage}

// ValidateContactForm checks a contact form submission. Email, name and
// message are required; number is optional. Unknown fields are kept as long
// as they stay within the size limits.
func ValidateContactForm(fields map[string]string) error {
	if len(fields) == 0 {
		return errors.NewValidationError("form", "form is empty")
	}
	if len(fields) > constants.MaxFormFields {
		return errors.NewValidationError("form", fmt.Sprintf("too many fields (max %d)", constants.MaxFormFields))
	}

	for _, name := range requiredContactFields {
		if strings.TrimSpace(fields[name]) == "" {
			return errors.NewValidationError(name, "is required")
		}
	}

	if err := ValidateEmail(fields[models.FieldEmail]); err != nil {
		return err
	}
	if number := fields[models.FieldNumber]; number != "" {
		if err := ValidatePhoneNumber(number); err != nil {
			return err
		}
	}

	for name, value := range fields {
		limit := constants.MaxFormFieldLength
		if name == models.FieldMessage {
			limit = constants.MaxFormMessageLength
		}
		if err := ValidateStringLength(value, name, 0, limit); err != nil {
			return err
		}
		if strings.ContainsRune(value, '\x00') {
			return errors.NewValidationError(name, "contains invalid characters")
		}
	}

	return nil
}

// ValidateEmail checks that email is a single bare address
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != strings.TrimSpace(email) {
		return errors.NewValidationError(models.FieldEmail, "must be a valid email address")
	}
	return nil
}

// ValidatePhoneNumber accepts digits with the usual separators and an optional leading +
func ValidatePhoneNumber(phone string) error {
	digits := 0
	for i, char := range phone {
		switch {
		case unicode.IsDigit(char):
			digits++
		case char == '+' && i == 0:
		case char == ' ' || char == '-' || char == '(' || char == ')' || char == '.':
		default:
			return errors.NewValidationError(models.FieldNumber, "must contain only digits")
		}
	}

	if digits < 6 {
		return errors.NewValidationError(models.FieldNumber, "must have at least 6 digits")
	}
	if digits > 20 {
		return errors.NewValidationError(models.FieldNumber, "too long (max 20 digits)")
	}
	return nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}

	return nil
}

// ValidateStringLength validates string length against bounds
func ValidateStringLength(value, fieldName string, minLength, maxLength int) error {
	if len(value) < minLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too short (min %d characters)", fieldName, minLength))
	}

	if len(value) > maxLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too long (max %d characters)", fieldName, maxLength))
	}

	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}

	if timeoutSec > 3600 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}

	return nil
}

// ValidateHTTPURL checks that raw is an absolute http(s) URL
func ValidateHTTPURL(raw, fieldName string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("%s is not a valid URL: %v", fieldName, err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("%s must use http or https", fieldName))
	}
	if u.Host == "" {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("%s must include a host", fieldName))
	}
	return nil
}
