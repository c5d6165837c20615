package scoring

import "github.com/okian/replaylink/internal/domain/normalize"

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithNoiseFloor sets the pair score below which an observed name is ignored.
func WithNoiseFloor(floor float64) Option {
	return func(s *Scorer) {
		if floor >= 0 && floor <= 1 {
			s.noiseFloor = floor
		}
	}
}

// WithTopK selects how many best pairs are averaged. For TopKFixed, k must be positive.
func WithTopK(strategy TopKStrategy, k int) Option {
	return func(s *Scorer) {
		switch strategy {
		case TopKMinSize:
			s.strategy = strategy
		case TopKFixed:
			if k > 0 {
				s.strategy = strategy
				s.fixedK = k
			}
		}
	}
}

// WithNormalizer replaces the default name normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(s *Scorer) {
		if n != nil {
			s.normalizer = n
		}
	}
}
