package repository

import "errors"

// Sentinel kinds for roster index errors.
var (
	// ErrIndexUnavailable means no usable battle made it into the index.
	ErrIndexUnavailable = errors.New("roster index unavailable")
	ErrNotFound         = errors.New("battle not found")
)
