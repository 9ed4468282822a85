package imageservice

import (
	"errors"
	"fmt"
)

// Error kinds
var (
	ErrInvalidFile       = errors.New("file is not in an allowed directory")
	ErrUploadNotFinished = errors.New("the uploaded file is not finished")
	ErrFileNotFound      = errors.New("image not found")
	ErrImageURLNotFound  = errors.New("image hosting url not found")
	ErrInvalidConfig     = errors.New("invalid image service config")
)

// Error is returned by Service operations.
// Kind is one of the error kinds above, Err is the underlying cause, if any.
type Error struct {
	Op   string
	ID   string
	Kind error
	// Code is the HTTP status code returned by the image service, 0 if there was no response
	Code int
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.ID != "" {
		msg = fmt.Sprintf("%s (id %q)", msg, e.ID)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap allows errors.Is to match both the kind and the cause
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError returns an *Error
func NewError(op, id string, kind, err error) *Error {
	return &Error{Op: op, ID: id, Kind: kind, Err: err}
}
