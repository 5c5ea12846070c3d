package utils

import (
	"errors"
	"fmt"
)

// Machine-readable error codes surfaced to the UI on integration failures.
const (
	CodeUnauthorized       = "unauthorized"
	CodeValidation         = "validation_error"
	CodeBrokerUnavailable  = "broker_unavailable"
	CodeConnectionNotFound = "connection_not_found"
	CodeConnectionInactive = "connection_inactive"
	CodeProviderMismatch   = "provider_mismatch"
	CodeSyncFetchError     = "sync_fetch_error"
	CodePersistenceError   = "persistence_error"
	CodeStateMismatch      = "state_mismatch"
)

var (
	// ErrUnauthorized means no resolvable principal drives the request.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBrokerUnavailable wraps any transport-level broker failure.
	ErrBrokerUnavailable = errors.New("connection broker unavailable")

	// ErrConnectionNotFound means a stored connection id no longer resolves
	// at the broker.
	ErrConnectionNotFound = errors.New("connection not found at broker")

	// ErrProviderMismatch means reconciliation found no broker connection
	// matching the provider.
	ErrProviderMismatch = errors.New("no matching broker connection for provider")

	// ErrSyncFetch means the provider data pull failed, possibly because the
	// connection's auth expired. Surfaced distinctly so the caller can prompt
	// a reconnect.
	ErrSyncFetch = errors.New("failed to fetch provider contacts")
)

// ValidationError reports a missing or malformed connect parameter.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ConnectionInactiveError reports a broker connection that resolved but is
// not in the active status set.
type ConnectionInactiveError struct {
	Status string
}

func (e *ConnectionInactiveError) Error() string {
	return fmt.Sprintf("connection is not active (status %q)", e.Status)
}

// ErrorCode maps an error to its machine-readable code for UI redirects and
// JSON responses.
func ErrorCode(err error) string {
	var ve *ValidationError
	var ie *ConnectionInactiveError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return CodeValidation
	case errors.As(err, &ie):
		return CodeConnectionInactive
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrBrokerUnavailable):
		return CodeBrokerUnavailable
	case errors.Is(err, ErrConnectionNotFound):
		return CodeConnectionNotFound
	case errors.Is(err, ErrProviderMismatch):
		return CodeProviderMismatch
	case errors.Is(err, ErrSyncFetch):
		return CodeSyncFetchError
	default:
		return CodePersistenceError
	}
}
