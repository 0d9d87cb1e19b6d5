package session

import "errors"

var (
	// ErrNotLoggedIn means no session record exists for the user.
	ErrNotLoggedIn = errors.New("user not logged in")

	// ErrNoActiveSession means a record exists but carries no usable
	// session, the user must start a container first.
	ErrNoActiveSession = errors.New("no active session for user")

	// ErrContainerUnavailable means the recorded container cannot serve
	// requests right now.
	ErrContainerUnavailable = errors.New("container not available")
)
