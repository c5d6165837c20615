package service

import (
	"time"

	"github.com/okian/replaylink/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDiagnosticsPath writes the per-screenshot artifact to path after each run.
func WithDiagnosticsPath(path string) Option {
	return func(s *Service) {
		s.diagnosticsPath = path
	}
}

// WithRunIDGenerator replaces the uuid-based run id source.
func WithRunIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newRunID = gen
		}
	}
}

// WithClock replaces time.Now for run timing.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
