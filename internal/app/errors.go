package service

import "errors"

// Sentinel errors for run-level failures.
var (
	// ErrLoadBattles means the battle source could not be read.
	ErrLoadBattles = errors.New("load battles failed")
	// ErrPersistence wraps failures writing links to the store.
	ErrPersistence = errors.New("persistence failure")
	// ErrIncomplete marks a video skipped because some of its screenshots were never decided.
	ErrIncomplete = errors.New("video not fully matched")
)
