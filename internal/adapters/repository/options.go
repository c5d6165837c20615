package repository

import "github.com/okian/replaylink/pkg/logger"

// Option applies a configuration option to the Builder.
type Option func(*Builder)

// WithLogger sets the logger used to report skipped battles.
func WithLogger(l logger.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}
