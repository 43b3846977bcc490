// Package apperr holds the error taxonomy shared by services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// NotFoundError hides whether a record exists in another tenant.
type NotFoundError struct {
	Resource string
	Err      error
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found or no permission"
	}
	return fmt.Sprintf("%s not found or no permission", e.Resource)
}

func (e NotFoundError) Unwrap() error { return e.Err }

// NotFound builds a NotFoundError for resource.
func NotFound(resource string) error {
	return NotFoundError{Resource: resource}
}

// ValidationError carries field-level messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation error"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return strings.Join(parts, "; ")
}

// Add records a message for field and returns the receiver.
func (e *ValidationError) Add(field, msg string) *ValidationError {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
	return e
}

// Empty reports whether no field failed.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// OrNil returns nil when no field failed so callers can `return v.OrNil()`.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

// Invalid is shorthand for a single-field validation error.
func Invalid(field, msg string) error {
	return (&ValidationError{}).Add(field, msg)
}

// ConflictError covers slot overlaps, duplicate names and illegal transitions.
type ConflictError struct {
	Resource string
	Msg      string
	Err      error
}

func (e ConflictError) Error() string {
	switch {
	case e.Msg != "" && e.Resource != "":
		return fmt.Sprintf("%s conflict: %s", e.Resource, e.Msg)
	case e.Msg != "":
		return e.Msg
	case e.Resource != "":
		return fmt.Sprintf("%s conflict", e.Resource)
	default:
		return "conflict"
	}
}

func (e ConflictError) Unwrap() error { return e.Err }

// Conflict builds a ConflictError.
func Conflict(resource, msg string) error {
	return ConflictError{Resource: resource, Msg: msg}
}

// GatewayError is a payment provider failure surfaced to the caller.
// Upstream rejections map to 400, transport failures to 500.
type GatewayError struct {
	Msg      string
	Upstream bool
}

func (e GatewayError) Error() string {
	if e.Msg == "" {
		return "payment gateway error"
	}
	return e.Msg
}

func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target ConflictError
	return errors.As(err, &target)
}

func AsGateway(err error) (GatewayError, bool) {
	var target GatewayError
	ok := errors.As(err, &target)
	return target, ok
}

// AsValidation unwraps a ValidationError.
func AsValidation(err error) (*ValidationError, bool) {
	var target *ValidationError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
