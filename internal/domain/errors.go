package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure modes callers branch on.
var (
	// ErrEmptyDomainList is a configuration error: nothing to block.
	// Raised before any system mutation.
	ErrEmptyDomainList = errors.New("domain list is empty")

	// ErrAlreadyBlocked means a managed hosts block already exists.
	// Start refuses to mutate anything a second time.
	ErrAlreadyBlocked = errors.New("a block session is already active")

	// ErrHostsImmutable means the hosts file carries the immutable flag.
	// Expected when re-invoking during an active block; distinct from a
	// plain permission failure.
	ErrHostsImmutable = errors.New("hosts file is immutable")

	// ErrSchedulingUnavailable means neither systemd-run nor at can
	// register the unlock job. Fatal: the immutable flag must never be set
	// without a guaranteed way back.
	ErrSchedulingUnavailable = errors.New("no deferred-execution facility available")

	// ErrInvalidDuration is a configuration error from duration parsing.
	ErrInvalidDuration = errors.New("invalid duration")
)

// UnlockError wraps a failure of the one step that must never fail silently:
// clearing the immutable flag during unlock.
type UnlockError struct {
	Step string
	Err  error
}

func (e *UnlockError) Error() string {
	return fmt.Sprintf("unlock step %q failed: %v", e.Step, e.Err)
}

func (e *UnlockError) Unwrap() error { return e.Err }
