package selector

import (
	"time"

	"github.com/okian/replaylink/pkg/logger"
)

// Option applies a configuration option to the Selector.
type Option func(*Selector)

// WithWindow sets how far before and after the inferred moment a battle may start.
func WithWindow(before, after time.Duration) Option {
	return func(s *Selector) {
		if before >= 0 && after >= 0 {
			s.before = before
			s.after = after
		}
	}
}

// WithUploadLookback bounds how old a battle may be when only the upload date is known.
func WithUploadLookback(d time.Duration) Option {
	return func(s *Selector) {
		if d > 0 {
			s.lookback = d
		}
	}
}

// WithMinConfidence sets the score a winner must reach to produce a match.
func WithMinConfidence(v float64) Option {
	return func(s *Selector) {
		if v >= 0 && v <= 1 {
			s.minConfidence = v
		}
	}
}

// WithAmbiguity sets the runner-up margin and what to do with ambiguous winners.
func WithAmbiguity(epsilon float64, policy AmbiguityPolicy) Option {
	return func(s *Selector) {
		if epsilon >= 0 {
			s.epsilon = epsilon
		}
		switch policy {
		case PolicyFlag, PolicyDefer:
			s.policy = policy
		}
	}
}

// WithMinObservedNames discards observations with fewer usable names.
func WithMinObservedNames(n int) Option {
	return func(s *Selector) {
		if n > 0 {
			s.minNames = n
		}
	}
}

// WithMinCoverage sets the share of observed names that must land on a
// roster before the battle can win. Zero still requires one matched name.
func WithMinCoverage(v float64) Option {
	return func(s *Selector) {
		if v >= 0 && v <= 1 {
			s.minCoverage = v
		}
	}
}

// WithLogger sets the selector logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Selector) {
		if l != nil {
			s.log = l
		}
	}
}
