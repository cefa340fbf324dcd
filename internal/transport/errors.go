package transport

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by all backends.
//
// Backends wrap these in *Error so the operation and path survive:
//
//	if errors.Is(err, transport.ErrAuth) {
//	    // credentials are wrong, not worth retrying
//	}
var (
	// ErrNotFound is returned when the remote object does not exist.
	ErrNotFound = errors.New("remote object not found")

	// ErrAuth is returned when the remote rejects the credentials.
	ErrAuth = errors.New("remote authentication failed")

	// ErrRateLimited is returned when the remote asks the caller to back off.
	ErrRateLimited = errors.New("remote rate limit exceeded")

	// ErrConflict is returned when uploading without overwrite onto an
	// existing object.
	ErrConflict = errors.New("remote object already exists")

	// ErrNotConfigured is returned by Ready when required settings are missing.
	ErrNotConfigured = errors.New("remote transport not configured")
)

// Error is a transport failure with operation context.
type Error struct {
	// Op is the operation that failed ("download", "upload", "delete", "stat").
	Op string

	// Path is the remote path involved.
	Path string

	// Err is the underlying error, usually one of the sentinels above
	// joined with the backend's own error.
	Err error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("transport %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError wraps cause with a sentinel kind. Either may be nil.
func newError(op, path string, kind, cause error) *Error {
	var err error
	switch {
	case kind == nil:
		err = cause
	case cause == nil:
		err = kind
	case errors.Is(cause, kind):
		err = cause
	default:
		err = fmt.Errorf("%w: %w", kind, cause)
	}
	return &Error{Op: op, Path: path, Err: err}
}

// IsNotFound reports whether err means the remote object is missing.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool { return errors.Is(err, ErrAuth) }

// IsRateLimited reports whether err asks the caller to back off.
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

// IsRetryable reports whether retrying the operation later may succeed.
func IsRetryable(err error) bool {
	return err != nil && !IsAuth(err) && !IsNotFound(err) && !errors.Is(err, ErrConflict) &&
		!errors.Is(err, ErrNotConfigured)
}
