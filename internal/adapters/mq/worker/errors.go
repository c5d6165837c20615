package worker

import "errors"

// Sentinel kinds for match worker errors.
var (
	// ErrObservationTimeout marks an observation that exceeded its time budget.
	ErrObservationTimeout = errors.New("observation timed out")
	// ErrWorkerPanic marks an observation whose selection panicked.
	ErrWorkerPanic = errors.New("match worker panicked")
	// ErrCancelled marks an observation never dispatched because the run was cancelled.
	ErrCancelled = errors.New("run cancelled before dispatch")
)
