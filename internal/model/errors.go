package model

import "errors"

var (
	ErrCapacityExceeded  = errors.New("capacity exceeded")
	ErrInvalidState      = errors.New("invalid agent state")
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInferenceTimeout  = errors.New("inference timeout")
	ErrFeatureDisabled   = errors.New("feature disabled")
	ErrSecurityViolation = errors.New("security violation")
	ErrEngine            = errors.New("engine error")
	ErrNotInitialized    = errors.New("not initialized")
)

var errorKinds = []struct {
	err  error
	name string
}{
	{ErrCapacityExceeded, "CapacityExceeded"},
	{ErrInvalidState, "InvalidState"},
	{ErrNotFound, "NotFound"},
	{ErrInvalidInput, "InvalidInput"},
	{ErrInferenceTimeout, "InferenceTimeout"},
	{ErrFeatureDisabled, "FeatureDisabled"},
	{ErrSecurityViolation, "SecurityViolation"},
	{ErrEngine, "EngineError"},
	{ErrNotInitialized, "NotInitialized"},
}

// ErrorKind names the taxonomy entry err belongs to, or "Internal".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, kind := range errorKinds {
		if errors.Is(err, kind.err) {
			return kind.name
		}
	}
	return "Internal"
}

// Retryable reports whether a caller may reasonably retry after err.
func Retryable(err error) bool {
	return errors.Is(err, ErrCapacityExceeded) || errors.Is(err, ErrInferenceTimeout)
}
