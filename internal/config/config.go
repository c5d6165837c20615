// Package config defines the matching engine's configuration and how it is loaded.
package config

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Top-k strategies and ambiguity policies accepted by Validate.
const (
	TopKMinSize = "min-size"
	TopKFixed   = "fixed"

	PolicyFlag  = "flag"
	PolicyDefer = "defer"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	DatabasePath    string `koanf:"database_path"`
	ScreenshotsPath string `koanf:"screenshots_path"`
	// DiagnosticsPath, when set, receives the per-screenshot artifact.
	DiagnosticsPath string `koanf:"diagnostics_path"`
	// MetricsAddr, when set, serves /metrics for the duration of a run, e.g. ":9090".
	MetricsAddr string `koanf:"metrics_addr"`

	// TimeWindowBefore and TimeWindowAfter bound candidate battle start times
	// around a screenshot whose real-world time is known.
	TimeWindowBefore time.Duration `koanf:"time_window_before"`
	TimeWindowAfter  time.Duration `koanf:"time_window_after"`
	// UploadLookback bounds how far before the upload day a battle may start.
	UploadLookback time.Duration `koanf:"upload_lookback"`

	MinConfidence float64 `koanf:"min_confidence"`
	NoiseFloor    float64 `koanf:"noise_floor"`
	TopKStrategy  string  `koanf:"top_k_strategy"`
	TopK          int     `koanf:"top_k"`

	WorkerCount int `koanf:"worker_count"`
	// QueueSize bounds observations waiting for a worker. Zero means twice the worker count.
	QueueSize int `koanf:"queue_size"`
	// PerObservationTimeout of zero disables the per-observation budget.
	PerObservationTimeout time.Duration `koanf:"per_observation_timeout"`

	AmbiguityEpsilon float64 `koanf:"ambiguity_epsilon"`
	AmbiguityPolicy  string  `koanf:"ambiguity_policy"`
	MinObservedNames int     `koanf:"min_observed_names"`
	// MinCoverage is the share of observed names a winning roster must absorb.
	MinCoverage float64 `koanf:"min_coverage"`
	// OCRFolding maps common OCR digit confusions (0/o, 1/l, 5/s) before comparison.
	OCRFolding bool `koanf:"ocr_folding"`
	// PruneStaleLinks removes every earlier link of a video that is re-matched.
	PruneStaleLinks bool `koanf:"prune_stale_links"`
}

// New returns a Config populated with defaults. Context is accepted first to
// follow the project-wide convention and is currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		DatabasePath:     "data/replaylink.db",
		ScreenshotsPath:  "data/screenshots.json",
		TimeWindowBefore: 3 * time.Hour,
		TimeWindowAfter:  10 * time.Minute,
		UploadLookback:   183 * 24 * time.Hour,
		MinConfidence:    0.6,
		NoiseFloor:       0.5,
		TopKStrategy:     TopKMinSize,
		WorkerCount:      runtime.NumCPU(),
		AmbiguityEpsilon: 0.02,
		AmbiguityPolicy:  PolicyFlag,
		MinObservedNames: 1,
		MinCoverage:      0.5,
		OCRFolding:       true,
	}
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if strings.TrimSpace(c.DatabasePath) == "" {
		add("database_path must not be empty")
	}
	if c.TimeWindowBefore < 0 || c.TimeWindowAfter < 0 {
		add("time windows must not be negative")
	}
	if c.UploadLookback < 0 {
		add("upload_lookback must not be negative")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		add("min_confidence %v out of [0,1]", c.MinConfidence)
	}
	if c.NoiseFloor < 0 || c.NoiseFloor > 1 {
		add("noise_floor %v out of [0,1]", c.NoiseFloor)
	}
	switch c.TopKStrategy {
	case TopKMinSize:
	case TopKFixed:
		if c.TopK < 1 {
			add("top_k must be at least 1 for the fixed strategy")
		}
	default:
		add("unknown top_k_strategy %q", c.TopKStrategy)
	}
	if c.WorkerCount < 0 || c.QueueSize < 0 {
		add("worker_count and queue_size must not be negative")
	}
	if c.PerObservationTimeout < 0 {
		add("per_observation_timeout must not be negative")
	}
	if c.AmbiguityEpsilon < 0 || c.AmbiguityEpsilon > 1 {
		add("ambiguity_epsilon %v out of [0,1]", c.AmbiguityEpsilon)
	}
	if c.AmbiguityPolicy != PolicyFlag && c.AmbiguityPolicy != PolicyDefer {
		add("unknown ambiguity_policy %q", c.AmbiguityPolicy)
	}
	if c.MinObservedNames < 1 {
		add("min_observed_names must be at least 1")
	}
	if c.MinCoverage < 0 || c.MinCoverage > 1 {
		add("min_coverage %v out of [0,1]", c.MinCoverage)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Echo returns the matching parameters in a form suited for run artifacts.
// Paths and addresses are left out.
func (c *Config) Echo() map[string]any {
	return map[string]any{
		"time_window_before":      c.TimeWindowBefore.String(),
		"time_window_after":       c.TimeWindowAfter.String(),
		"upload_lookback":         c.UploadLookback.String(),
		"min_confidence":          c.MinConfidence,
		"noise_floor":             c.NoiseFloor,
		"top_k_strategy":          c.TopKStrategy,
		"top_k":                   c.TopK,
		"worker_count":            c.WorkerCount,
		"per_observation_timeout": c.PerObservationTimeout.String(),
		"ambiguity_epsilon":       c.AmbiguityEpsilon,
		"ambiguity_policy":        c.AmbiguityPolicy,
		"min_observed_names":      c.MinObservedNames,
		"min_coverage":            c.MinCoverage,
		"ocr_folding":             c.OCRFolding,
		"prune_stale_links":       c.PruneStaleLinks,
	}
}
