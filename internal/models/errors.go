package models

import (
	"context"
	"errors"
	"strings"
)

// ErrorType classifies unrecoverable job failures for the job record.
type ErrorType string

const (
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeModelNotFound  ErrorType = "model_not_found"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeSafety         ErrorType = "safety"
	ErrorTypeUnknown        ErrorType = "unknown"
)

// ValidationError marks errors that must abort a job before any step runs.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a validation error with the given message.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// ClassifyError maps an execution error onto the job-record error taxonomy.
// Matching is intentionally loose: provider SDKs and HTTP layers disagree on
// error surfaces, so substring checks over the lowered message are used.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return ErrorTypeValidation
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "401"):
		return ErrorTypeAuthentication
	case strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429"):
		return ErrorTypeRateLimit
	case strings.Contains(msg, "model_not_found") ||
		strings.Contains(msg, "model not found") ||
		strings.Contains(msg, "does not exist or you do not have access"):
		return ErrorTypeModelNotFound
	case strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded"):
		return ErrorTypeTimeout
	case strings.Contains(msg, "safety") ||
		strings.Contains(msg, "content policy") ||
		strings.Contains(msg, "refused"):
		return ErrorTypeSafety
	case strings.Contains(msg, "validation") ||
		strings.Contains(msg, "invalid"):
		return ErrorTypeValidation
	default:
		return ErrorTypeUnknown
	}
}
