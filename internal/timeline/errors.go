package timeline

import "errors"

var (
	// ErrStorageUnavailable is returned when the database cannot be opened or a
	// statement fails. Callers tell it apart from empty results with errors.Is.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidScope is returned for an empty scope id.
	ErrInvalidScope = errors.New("invalid scope id")
	// ErrInvalidActor is returned for an empty actor id.
	ErrInvalidActor = errors.New("invalid actor id")
)
