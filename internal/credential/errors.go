package credential

import "errors"

var (
	// ErrStoreUnavailable means the backing document is missing, unreadable or not a JSON object.
	// Readers treat it as an empty store.
	ErrStoreUnavailable = errors.New("credential store unavailable")
	// ErrNotFound means the username has no record.
	ErrNotFound = errors.New("credential not found")
	// ErrCorruptRecord means the record exists but cannot be decoded.
	ErrCorruptRecord = errors.New("credential record corrupt")
	// ErrOccupied means the record is checked out.
	ErrOccupied = errors.New("credential occupied")
	// ErrNotOccupied means the record is already free.
	ErrNotOccupied = errors.New("credential not occupied")
	// ErrDirtyRecord means the record has no usable token.
	ErrDirtyRecord = errors.New("credential has no token")
	// ErrUnknownField means the field is not patchable.
	ErrUnknownField = errors.New("unknown credential field")
	// ErrImmutableField means the field may never change once written.
	ErrImmutableField = errors.New("credential field is immutable")
	// ErrInvalidValue means a value has the wrong type or is empty where it must not be.
	ErrInvalidValue = errors.New("invalid credential value")
)
