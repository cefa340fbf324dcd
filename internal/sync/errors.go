package sync

import (
	"errors"
	"fmt"

	"github.com/gtdsync/gtdsync/internal/lock"
	"github.com/gtdsync/gtdsync/internal/transport"
)

// Errors returned by Sync.
//
//	if errors.Is(err, sync.ErrLocked) {
//	    // another device is synchronizing
//	}
var (
	// ErrNotConfigured is returned before any work when the remote is not
	// available or credentials are missing.
	ErrNotConfigured = errors.New("synchronization is not configured")

	// ErrLocked is returned when another device holds the sync lock.
	ErrLocked = errors.New("synchronization file is locked, can't synchronize")

	// ErrInProgress is returned when Sync is called while a run is active.
	ErrInProgress = errors.New("synchronization already in progress")
)

// Error is a failed run. State is where the failure happened; Err keeps the
// underlying cause.
type Error struct {
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("synchronization failed while %s: %v", e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err calls for fixing settings or
// credentials rather than retrying.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrNotConfigured) ||
		errors.Is(err, lock.ErrAuthentication) ||
		errors.Is(err, transport.ErrAuth) ||
		errors.Is(err, transport.ErrNotConfigured)
}
