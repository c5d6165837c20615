package sqlite

import "errors"

// Sentinel kinds for store errors.
var (
	// ErrLocked means another process holds the writer lock.
	ErrLocked = errors.New("link store is locked by another writer")
)
