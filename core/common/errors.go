package common

import (
	"errors"
	"fmt"
)

/*Error type for a new application error */
type Error struct {
	Code       string `json:"code,omitempty"`
	Msg        string `json:"msg"`
	StatusCode int    `json:"status_code,omitempty"`
}

func (err *Error) Error() string {
	return fmt.Sprintf("%s: %s", err.Code, err.Msg)
}

/*NewError - create a new error */
func NewError(code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

/*NewErrorf - create a new error with format */
func NewErrorf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

/*NewErrorfWithStatusCode - create a new error with format and a fixed HTTP status */
func NewErrorfWithStatusCode(statusCode int, errCode, format string, args ...interface{}) *Error {
	return &Error{StatusCode: statusCode, Code: errCode, Msg: fmt.Sprintf(format, args...)}
}

/*InvalidRequest - create error messages that are needed when validating request input */
func InvalidRequest(msg string) error {
	return NewError("invalid_request", fmt.Sprintf("Invalid request (%v)", msg))
}

// ErrorCode extracts the application error code from err, or "" when err is
// not an application error.
func ErrorCode(err error) string {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	return ""
}

// IsRetryable reports whether an operation that failed with err may be
// retried. Validation and traversal failures are a security boundary and
// must never be retried; a leaf hash mismatch is locally recoverable.
func IsRetryable(err error) bool {
	switch ErrorCode(err) {
	case "invalid_id", "invalid_extension", "path_traversal", "invalid_request", "not_found":
		return false
	case "leaf_hash_mismatch", "conflict":
		return true
	}
	var cerr *Error
	if errors.As(err, &cerr) && cerr.StatusCode != 0 {
		return cerr.StatusCode >= 500 || cerr.StatusCode == 409
	}
	return true
}
