// Package apperr holds the error taxonomy shared by the state machines and
// the transports that surface their failures.
package apperr

import (
	"errors"
	"fmt"
)

// NotFoundError reports a referenced entity (order, table, menu item, staff)
// that does not exist.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

// BadRequestError reports an illegal transition, a failed validation, a role
// mismatch or an unavailable resource.
type BadRequestError struct {
	Msg string
}

func (e *BadRequestError) Error() string { return e.Msg }

// ConflictError is reserved for uniqueness checks such as reused idempotency keys.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

func NotFound(format string, args ...interface{}) error {
	return &NotFoundError{Msg: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...interface{}) error {
	return &BadRequestError{Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...interface{}) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsBadRequest(err error) bool {
	var e *BadRequestError
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}
