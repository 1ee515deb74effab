package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoIdentifier indicates that a work carries no persistent identifier.
	ErrNoIdentifier = errors.New("must provide at least one persistent identifier")

	// ErrSourceInactive is a backpressure condition: the source is not in the
	// working state. The batch is rescheduled but no alert is raised.
	ErrSourceInactive = errors.New("source not in working state")

	// ErrNoWorkers is a backpressure condition: every worker slot for the
	// source is occupied. The batch is rescheduled but no alert is raised.
	ErrNoWorkers = errors.New("no workers available")

	// ErrRateLimited indicates the upstream API rejected the request rate.
	ErrRateLimited = errors.New("rate limited")
)

// Backpressure reports whether err is one of the two expected conditions that
// must never create an alert.
func Backpressure(err error) bool {
	return errors.Is(err, ErrSourceInactive) || errors.Is(err, ErrNoWorkers)
}

// URLMismatchError is returned when a body-declared canonical URL disagrees
// with the redirect-resolved URL; resolution is ambiguous and the caller must
// not silently pick one.
type URLMismatchError struct {
	BodyURL  string
	FinalURL string
}

func (e *URLMismatchError) Error() string {
	return fmt.Sprintf("canonical URL mismatch: %s for %s", e.BodyURL, e.FinalURL)
}

// NotFoundError provides details about a missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel for errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a NotFoundError for the given entity and id.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel for errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ErrorKind is the failure taxonomy applied to transport results.
type ErrorKind int

const (
	// KindOK means the response can be handed to the adapter.
	KindOK ErrorKind = iota
	// KindBackpressure covers source-inactive and no-workers conditions.
	KindBackpressure
	// KindTransport covers timeouts, resets and non-2xx statuses other than
	// 404; mapped to the error outcome so state stays untouched.
	KindTransport
	// KindNotFound covers 404 responses; adapters treat these as a
	// structured "resource not found" result, not a transport failure.
	KindNotFound
	// KindData covers permanently malformed upstream payloads; alerted and
	// skipped rather than retried.
	KindData
)

// ClassifyTransport maps an HTTP status and transport error onto the error
// taxonomy. It replaces rescue-by-exception-list style classification with an
// explicit function over the transport layer's result.
func ClassifyTransport(status int, err error) ErrorKind {
	switch {
	case Backpressure(err):
		return KindBackpressure
	case err != nil:
		return KindTransport
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 200 && status < 300:
		return KindOK
	default:
		return KindTransport
	}
}
