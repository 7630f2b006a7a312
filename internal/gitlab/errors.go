package gitlab

import (
	"errors"
	"fmt"
)

// Kind classifies a failure of the sync engine.
//
// Kinds are string-based so they read well in logs and in the sync_runs table.
type Kind string

const (
	// KindAuth means credentials are missing or were rejected by the service.
	KindAuth Kind = "auth_failure"

	// KindTransient means a network/transport failure or a malformed or
	// incomplete response. Only this kind is retried.
	KindTransient Kind = "transient_transport_failure"

	// KindQuery means the service rejected the query shape or a requested
	// field does not exist, usually a version skew.
	KindQuery Kind = "query_schema_error"

	// KindScopeNotFound means the project or environment does not exist
	// locally or remotely.
	KindScopeNotFound Kind = "scope_not_found"

	// KindStorage means the local store rejected a write.
	KindStorage Kind = "storage_write_error"
)

// Sentinel errors, matched with errors.Is against any *Error of the same kind.
var (
	// ErrAuth is returned when the token is missing or rejected.
	ErrAuth = errors.New("authentication failed")

	// ErrTransient is returned when a round trip failed in a retryable way.
	ErrTransient = errors.New("transient transport failure")

	// ErrQuery is returned when the service rejected the query.
	ErrQuery = errors.New("query rejected by service")

	// ErrScopeNotFound is returned when a project or environment does not exist.
	ErrScopeNotFound = errors.New("scope not found")

	// ErrStorage is returned when the local store rejected a write.
	ErrStorage = errors.New("storage write failed")

	// ErrMissingToken is returned by NewClient when no token is configured.
	ErrMissingToken = fmt.Errorf("%w: no personal access token configured", ErrAuth)
)

var sentinels = map[Kind]error{
	KindAuth:          ErrAuth,
	KindTransient:     ErrTransient,
	KindQuery:         ErrQuery,
	KindScopeNotFound: ErrScopeNotFound,
	KindStorage:       ErrStorage,
}

// Error is a classified engine error.
type Error struct {
	Kind Kind
	// Op names what was being done, e.g. "query pipelines".
	Op string
	// Attempts is the number of round trips made before giving up (0 if none).
	Attempts int
	Err      error
}

// NewError builds a classified error.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// IsRetryable reports whether an immediate retry may succeed.
func (e *Error) IsRetryable() bool {
	return e.Kind == KindTransient
}

// IsRetryable returns true if err is a transient failure.
// Every other kind propagates on first occurrence.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.IsRetryable()
	}
	return false
}

// KindOf returns the classification of err, or "" if err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
