package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a dashboard error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrInvalidRepo    ErrorCode = "INVALID_REPO"    // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrFileNotFound   ErrorCode = "FILE_NOT_FOUND"  // 404
	ErrTransport      ErrorCode = "TRANSPORT"       // upstream status
	ErrAborted        ErrorCode = "ABORTED"         // 499
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// StatusClientClosed is the status used for aborted requests (nginx convention).
const StatusClientClosed = 499

// DashError represents a structured error with code, status, and details.
type DashError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *DashError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *DashError {
	return &DashError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewInvalidRepo creates a 400 error for a repository string that is not owner/repo shaped.
func NewInvalidRepo(repo string) *DashError {
	return &DashError{
		Code:    ErrInvalidRepo,
		Status:  400,
		Message: fmt.Sprintf("invalid repository: %q (expected owner/repo)", repo),
		Details: map[string]any{"repo": repo},
	}
}

// NewNotFound creates a 404 error for an unknown card, section or note.
func NewNotFound(what, identifier string) *DashError {
	return &DashError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", what, identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing import file.
func NewFileNotFound(path string) *DashError {
	return &DashError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewTransport creates an error for a non-2xx upstream response.
// The message is already normalized as "<prefix>: <status> <best message>".
func NewTransport(status int, msg string) *DashError {
	return &DashError{
		Code:    ErrTransport,
		Status:  status,
		Message: msg,
		Details: map[string]any{"upstream_status": status},
	}
}

// NewAborted creates an error for a request cancelled by its context.
func NewAborted() *DashError {
	return &DashError{
		Code:    ErrAborted,
		Status:  StatusClientClosed,
		Message: "Request aborted",
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *DashError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &DashError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is (or wraps) a DashError with the given code.
func Is(err error, code ErrorCode) bool {
	var dErr *DashError
	if stderrors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}

// Message returns the user-facing message of err: the bare Message for a
// DashError, err.Error() otherwise.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var dErr *DashError
	if stderrors.As(err, &dErr) {
		return dErr.Message
	}
	return err.Error()
}
