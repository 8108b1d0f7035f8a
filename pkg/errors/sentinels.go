package errors

import "errors"

// Sentinel errors for errors.Is matching. GridError.Is compares codes, so
// any error carrying the same code matches the sentinel regardless of its
// message or context.
var (
	// ErrRequestCancelled marks a fetch that was aborted by cancellation.
	// Callers must treat it as abandoned work, not as a failure to surface.
	ErrRequestCancelled = NewError(ErrCodeRequestCancelled, "request cancelled")

	// ErrStorageUnavailable marks a durable backend that could not open.
	ErrStorageUnavailable = NewError(ErrCodeStorageUnavailable, "storage backend unavailable")

	// ErrQuotaExceeded marks a durable write dropped for lack of space.
	ErrQuotaExceeded = NewError(ErrCodeQuotaExceeded, "storage quota exceeded")

	// ErrValueTooLarge marks a value rejected by the fallback store's size cap.
	ErrValueTooLarge = NewError(ErrCodeValueTooLarge, "value exceeds backend size limit")

	// ErrQueueFull marks a request rejected because the pending queue is at
	// capacity.
	ErrQueueFull = NewError(ErrCodeQueueFull, "request queue full")

	// ErrNotInitialized marks use of a component before Start.
	ErrNotInitialized = NewError(ErrCodeNotInitialized, "component not initialized")

	// ErrStopped marks use of a component after Close.
	ErrStopped = NewError(ErrCodeComponentStopped, "component stopped")
)

// IsCancelled reports whether err is, or wraps, a request cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrRequestCancelled)
}

// IsStorageUnavailable reports whether err is, or wraps, a backend
// availability failure.
func IsStorageUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// IsQuotaExceeded reports whether err is, or wraps, a quota failure.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// Code extracts the ErrorCode from err if it is a GridError, or
// ErrCodeUnknownError otherwise.
func Code(err error) ErrorCode {
	var ge *GridError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ErrCodeUnknownError
}
