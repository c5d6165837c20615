package service

import (
	"time"

	"github.com/okian/replaylink/internal/domain/model"
)

// ObservationFailure is a screenshot that could not be decided normally.
type ObservationFailure struct {
	Key     model.ObservationKey
	Outcome model.Outcome
	Err     error
}

// VideoFailure is a video whose links were not written.
type VideoFailure struct {
	VideoID string
	Err     error
}

// Report summarizes one matching run.
type Report struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration

	Battles        int
	SkippedBattles int
	Observations   int
	InputProblems  int

	Outcomes  map[model.Outcome]int
	Degraded  int
	Ambiguous int
	Cancelled bool

	Links        []model.VideoBattleLink
	LinkedVideos []string
	FailedVideos []VideoFailure
	Failures     []ObservationFailure

	Decisions []model.Decision

	DiagnosticsPath string
	DiagnosticsErr  error
}

// Count returns how many observations ended with outcome o.
func (r *Report) Count(o model.Outcome) int {
	return r.Outcomes[o]
}

// PartialSuccess reports whether some videos were written and others were not.
func (r *Report) PartialSuccess() bool {
	return len(r.FailedVideos) > 0 && len(r.LinkedVideos) > 0
}

// OK reports whether every video was written.
func (r *Report) OK() bool {
	return len(r.FailedVideos) == 0
}
