package blob

import (
	"errors"
	"fmt"
)

const (
	CodeEndpointUnreachable = "E_ENDPOINT_UNREACHABLE"
	CodeAuthInvalid         = "E_AUTH_INVALID"
	CodeBucketNotFound      = "E_BUCKET_NOT_FOUND"
	CodeObjectNotFound      = "E_OBJECT_NOT_FOUND"
	CodePermissionDenied    = "E_PERMISSION_DENIED"
	CodeTimeout             = "E_TIMEOUT"
	CodeInvalidKey          = "E_INVALID_KEY"
	CodeReadFailed          = "E_READ_FAILED"
	CodeWriteFailed         = "E_WRITE_FAILED"
)

// Error wraps backend failures with a code and a retryability hint.
type Error struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) match not-found backend errors.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Code == CodeObjectNotFound
}

func wrapError(code string, retryable bool, err error) *Error {
	return &Error{Code: code, Retryable: retryable, Err: err}
}

// IsRetryable reports whether err carries a retryable backend failure.
func IsRetryable(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Retryable
	}
	return false
}
