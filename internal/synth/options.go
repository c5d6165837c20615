package synth

import "github.com/okian/replaylink/pkg/logger"

// Option configures Generate.
type Option func(*options)

type options struct {
	log logger.Logger
}

// WithLogger sets the generator logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}
