package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

var (
	// ErrConflict marks a transaction aborted by the backend to preserve its
	// isolation guarantees. Retrying is the documented way to make progress.
	ErrConflict = errors.New("serialization conflict")

	// ErrConnection marks a transport-level failure. It is never treated as
	// a conflict.
	ErrConnection = errors.New("connection failure")

	// ErrCounterNotFound is returned when the counter row or key is missing.
	ErrCounterNotFound = errors.New("counter record not found")

	// ErrUnknownBackend is returned by Open for an unregistered backend name.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrInvalidTable is returned when the configured table name is not a
	// plain SQL identifier.
	ErrInvalidTable = errors.New("invalid table name")

	// ErrClosed is returned when a closed store is used.
	ErrClosed = errors.New("store is closed")
)

// ConflictError wraps a backend error that was classified as a
// serialization or write conflict.
type ConflictError struct {
	Backend string
	Err     error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Backend, ErrConflict, e.Err)
}

// Unwrap exposes both ErrConflict and the driver error to errors.Is/As.
func (e *ConflictError) Unwrap() []error {
	return []error{ErrConflict, e.Err}
}

// ConnectionError wraps a backend error that was classified as a transport
// failure.
type ConnectionError struct {
	Backend string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Backend, ErrConnection, e.Err)
}

// Unwrap exposes both ErrConnection and the driver error to errors.Is/As.
func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnection, e.Err}
}

// IsConflict reports whether err is a retryable serialization conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsConnection reports whether err is a transport failure.
func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection)
}

// classifier decides whether a raw driver error is a conflict or a
// connection failure. Each backend supplies its own typed checks.
type classifier struct {
	backend    string
	conflict   func(error) bool
	connection func(error) bool
}

// wrap returns err wrapped in ConflictError or ConnectionError when it
// matches, or err unchanged otherwise. Already classified errors pass through.
func (c classifier) wrap(err error) error {
	if err == nil {
		return nil
	}
	if IsConflict(err) || IsConnection(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if (c.conflict != nil && c.conflict(err)) || isConflictMessage(err) {
		return &ConflictError{Backend: c.backend, Err: err}
	}
	if (c.connection != nil && c.connection(err)) || isConnectionError(err) {
		return &ConnectionError{Backend: c.backend, Err: err}
	}
	return err
}

// isConflictMessage is the text fallback for drivers or proxies that
// flatten typed errors into strings.
func isConflictMessage(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"could not serialize access",
		"serialization failure",
		"deadlock detected",
		"deadlock found",
		"optimistic lock failed",
		"transaction conflict",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// isConnectionError recognises transport failures common to every
// database/sql driver.
func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"connection refused",
		"lost connection",
		"gone away",
		"i/o timeout",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
