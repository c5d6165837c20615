package model

import "errors"

// Sentinel kinds for model validation.
var (
	ErrMalformedObservation = errors.New("malformed observation")
	ErrInvalidBattle        = errors.New("invalid battle record")
)
