package pool

import "errors"

var (
	// ErrAcquireTimeout means no credential could be claimed before the deadline.
	ErrAcquireTimeout = errors.New("no free credential before timeout")
	// ErrReleaseOfUnknown means the username is absent from the store or already free.
	ErrReleaseOfUnknown = errors.New("release of unknown or free credential")
)
