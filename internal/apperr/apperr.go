// Package apperr defines the error kinds surfaced by brokerlink operations:
// validation failures detected before any network call, operation failures
// reported by the aggregation backend, and best-effort failures that are
// recorded but never surfaced.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ValidationError reports missing or invalid input. It is always detected
// before a network call is made.
type ValidationError struct {
	Fields []string
	Msg    string
}

func (e *ValidationError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "Missing required fields: " + strings.Join(e.Fields, ", ")
}

// Validation returns a ValidationError with a free-form message.
func Validation(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// MissingFields returns a ValidationError naming the required fields.
func MissingFields(fields ...string) error {
	return &ValidationError{Fields: fields}
}

// OperationError reports a failed downstream call. Status is the backend's
// HTTP classification when it supplied one, zero otherwise.
type OperationError struct {
	Op     string
	Status int
	Msg    string
	Err    error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *OperationError) Unwrap() error { return e.Err }

// Operation wraps err as an OperationError for op.
func Operation(op string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OperationError
	if errors.As(err, &oe) {
		return &OperationError{Op: op, Status: oe.Status, Msg: oe.Msg, Err: err}
	}
	return &OperationError{Op: op, Err: err}
}

// BestEffortFailure records a failed optional step, such as refreshing one
// authorization during a listing. It is logged, never returned to callers.
type BestEffortFailure struct {
	Op  string
	ID  string
	Err error
}

func (e *BestEffortFailure) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *BestEffortFailure) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// HTTPStatus maps err to the status code the HTTP surface should return.
// Backend 4xx classifications pass through; everything else is 500.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if IsValidation(err) {
		return http.StatusBadRequest
	}
	var oe *OperationError
	if errors.As(err, &oe) && oe.Status >= 400 && oe.Status < 500 {
		return oe.Status
	}
	return http.StatusInternalServerError
}

// Message returns the human-readable message carried by err: the backend's
// message for operation errors, the validation text for validation errors,
// or "" when err carries nothing safe to show.
func Message(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	var oe *OperationError
	if errors.As(err, &oe) {
		return oe.Msg
	}
	return ""
}
