// Package errors provides a structured error system for showgrid with error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for cache subsystem operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Storage Tier Errors
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	ErrCodeStorageRead        ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite       ErrorCode = "STORAGE_WRITE"
	ErrCodeQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"
	ErrCodeValueTooLarge      ErrorCode = "VALUE_TOO_LARGE"
	ErrCodeCorruptRecord      ErrorCode = "CORRUPT_RECORD"

	// Cache Entry Errors
	ErrCodeVersionMismatch ErrorCode = "VERSION_MISMATCH"
	ErrCodeTTLExpired      ErrorCode = "TTL_EXPIRED"

	// Request Errors
	ErrCodeRequestCancelled ErrorCode = "REQUEST_CANCELLED"
	ErrCodeFetchFailed      ErrorCode = "FETCH_FAILED"
	ErrCodeQueueFull        ErrorCode = "QUEUE_FULL"

	// Network Errors
	ErrCodeNetworkOffline ErrorCode = "NETWORK_OFFLINE"
	ErrCodeNetworkError   ErrorCode = "NETWORK_ERROR"

	// State Management Errors
	ErrCodeAlreadyStarted     ErrorCode = "ALREADY_STARTED"
	ErrCodeNotInitialized     ErrorCode = "NOT_INITIALIZED"
	ErrCodeComponentStopped   ErrorCode = "COMPONENT_STOPPED"
	ErrCodeShutdownInProgress ErrorCode = "SHUTDOWN_IN_PROGRESS"

	// Internal System Errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnknownError  ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryStorage       ErrorCategory = "storage"
	CategoryCache         ErrorCategory = "cache"
	CategoryRequest       ErrorCategory = "request"
	CategoryNetwork       ErrorCategory = "network"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

// GridError represents a structured error with context and metadata.
type GridError struct {
	// Core error information
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	// Contextual information
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`
	Key       string `json:"key,omitempty"`

	// Error handling hints
	Retryable  bool `json:"retryable"`
	UserFacing bool `json:"user_facing"`

	// Debug information
	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *GridError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *GridError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *GridError) Is(target error) bool {
	if gridErr, ok := target.(*GridError); ok {
		return e.Code == gridErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *GridError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}

	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}

	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("Key=%s", e.Key))
	}

	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}

	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("GridError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *GridError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new showgrid error with default values.
func NewError(code ErrorCode, message string) *GridError {
	return &GridError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		Retryable:  IsRetryableByDefault(code),
		UserFacing: IsUserFacingByDefault(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "STORAGE_") || strings.HasPrefix(codeStr, "QUOTA_") ||
		strings.HasPrefix(codeStr, "VALUE_") || strings.HasPrefix(codeStr, "CORRUPT_"):
		return CategoryStorage
	case strings.HasPrefix(codeStr, "VERSION_") || strings.HasPrefix(codeStr, "TTL_"):
		return CategoryCache
	case strings.HasPrefix(codeStr, "REQUEST_") || strings.HasPrefix(codeStr, "FETCH_") ||
		strings.HasPrefix(codeStr, "QUEUE_"):
		return CategoryRequest
	case strings.HasPrefix(codeStr, "NETWORK_"):
		return CategoryNetwork
	case strings.HasPrefix(codeStr, "ALREADY_") || strings.HasPrefix(codeStr, "NOT_INITIALIZED") ||
		strings.HasPrefix(codeStr, "COMPONENT_") || strings.HasPrefix(codeStr, "SHUTDOWN_"):
		return CategoryState
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
// Failed fetches are never negatively cached, so an immediate retry is
// always permitted for them.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeFetchFailed:  true,
		ErrCodeNetworkError: true,
		ErrCodeStorageRead:  true,
		ErrCodeStorageWrite: true,
	}
	return retryableCodes[code]
}

// IsUserFacingByDefault determines if an error should be shown to users.
// Cache tier failures and cancellations are operational noise, never
// user-visible failures.
func IsUserFacingByDefault(code ErrorCode) bool {
	userFacingCodes := map[ErrorCode]bool{
		ErrCodeInvalidConfig:    true,
		ErrCodeConfigValidation: true,
		ErrCodeConfigLoad:       true,
		ErrCodeFetchFailed:      true,
		ErrCodeNetworkOffline:   true,
	}
	return userFacingCodes[code]
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:]) // +2 to skip this function and the caller
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") { // Skip frames from this file
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *GridError) WithContext(key, value string) *GridError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *GridError) WithDetail(key string, value interface{}) *GridError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *GridError) WithComponent(component string) *GridError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *GridError) WithOperation(operation string) *GridError {
	e.Operation = operation
	return e
}

// WithKey sets the cache/request key the error relates to
func (e *GridError) WithKey(key string) *GridError {
	e.Key = key
	return e
}

// WithCause sets the underlying cause
func (e *GridError) WithCause(cause error) *GridError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace
func (e *GridError) WithStack() *GridError {
	e.Stack = CaptureStack(2)
	return e
}
