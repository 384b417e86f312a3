package supervisor

import (
	"errors"
	"fmt"
)

// ErrAlreadyAttached is matched by every *AlreadyAttachedError.
var ErrAlreadyAttached = errors.New("supervisor already attached")

// AlreadyAttachedError reports a second Attach without an intervening Detach.
type AlreadyAttachedError struct {
	SurfaceID string
}

func (e *AlreadyAttachedError) Error() string {
	return fmt.Sprintf("surface %q: %v", e.SurfaceID, ErrAlreadyAttached)
}

func (e *AlreadyAttachedError) Is(target error) bool { return target == ErrAlreadyAttached }

// ListenerError wraps a failure raised by a crash report listener.
type ListenerError struct {
	Subscription SubscriptionID
	Err          error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener %d: %v", e.Subscription, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }
