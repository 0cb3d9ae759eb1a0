package utils

import "fmt"

// AppError marks a failure at a service boundary, pairing the operation that
// failed with a message fit for logs and API responses. The underlying cause
// stays reachable through errors.Unwrap.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

// NewAppError wraps err with the operation and message.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
