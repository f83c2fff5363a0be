package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType classifies provider errors for retry handling
type ErrorType string

const (
	ErrorTypeConnection         ErrorType = "connection"          // Network unreachable, refused, DNS
	ErrorTypeTimeout            ErrorType = "timeout"             // Request deadline hit
	ErrorTypeRateLimit          ErrorType = "rate_limit"          // 429 - too many requests
	ErrorTypeProviderDown       ErrorType = "provider_down"       // Any 5xx - upstream issue
	ErrorTypeAuth               ErrorType = "auth"                // 401 - bad API key
	ErrorTypeModeration         ErrorType = "moderation"          // 403 - content flagged
	ErrorTypeInsufficientCredit ErrorType = "insufficient_credit" // 402 - no balance
	ErrorTypeBadRequest         ErrorType = "bad_request"         // 400 - malformed request
	ErrorTypeUnknown            ErrorType = "unknown"             // Fallback
)

// ProviderError is a structured error returned by LLM clients.
// Connection failures, timeouts, 429 and every 5xx are retryable;
// authentication, moderation and other 4xx failures are not.
type ProviderError struct {
	Type       ErrorType      // Classification
	Provider   string         // "openrouter", "mock"
	Code       string         // Raw error code ("429", "503")
	Message    string         // Human-readable message
	ResetAt    *time.Time     // When limit resets (if known)
	RetryAfter *time.Duration // How long to wait (if known)
	Retryable  bool           // Should we auto-retry?
}

func (e *ProviderError) Error() string {
	if e.ResetAt != nil {
		return fmt.Sprintf("%s: %s (resets at %s)", e.Provider, e.Message, e.ResetAt.Format("15:04:05"))
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Unwrap allows errors.Is/As to work through wrapped errors
func (e *ProviderError) Unwrap() error {
	return nil
}

// IsProviderError checks if err is a ProviderError and returns it
func IsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// NewProviderError creates a new ProviderError with the given parameters
func NewProviderError(provider string, errType ErrorType, code, message string) *ProviderError {
	return &ProviderError{
		Type:      errType,
		Provider:  provider,
		Code:      code,
		Message:   message,
		Retryable: retryableType(errType),
	}
}

func retryableType(errType ErrorType) bool {
	switch errType {
	case ErrorTypeConnection, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeProviderDown:
		return true
	}
	return false
}
