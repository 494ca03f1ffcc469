package gateway

import (
	"errors"
	"fmt"
)

// Business error codes produced when normalising gateway responses.
const (
	CodeInstanceNotFound = "INSTANCE_NOT_FOUND"
	CodeInstanceExists   = "INSTANCE_EXISTS"
)

// ErrUnknownAction is returned for actions outside the fixed set.
var ErrUnknownAction = errors.New("unknown gateway action")

// Error is returned when an action could not obtain a usable response after
// exhausting retries, or failed before reaching the gateway.
type Error struct {
	Action Action
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("gateway %s failed (status %d): %v", e.Action, e.Status, e.Err)
	}
	return fmt.Sprintf("gateway %s failed: %v", e.Action, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// APIError is a normalised business error reported by the gateway, such as
// a missing instance. Typed helpers return it; Invoke reports it in the
// Response instead.
type APIError struct {
	Action  Action
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway %s: %s: %s", e.Action, e.Code, e.Message)
}

// IsUnavailable reports whether err means the gateway could not be reached
// or kept failing transiently.
func IsUnavailable(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// IsInstanceNotFound reports whether err is the gateway's missing-instance error.
func IsInstanceNotFound(err error) bool {
	var e *APIError
	return errors.As(err, &e) && e.Code == CodeInstanceNotFound
}

// transient classifies a single attempt's outcome as worth retrying.
func transient(status int, err error) bool {
	if err != nil {
		return true
	}
	return status >= 500
}
