// Package selector picks the battle a screenshot observation most likely shows.
package selector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/okian/replaylink/internal/adapters/repository"
	"github.com/okian/replaylink/internal/domain/model"
	"github.com/okian/replaylink/internal/domain/scoring"
	"github.com/okian/replaylink/pkg/logger"
	"github.com/okian/replaylink/pkg/metrics"
)

// AmbiguityPolicy decides what happens when the runner-up is too close.
type AmbiguityPolicy string

const (
	// PolicyFlag keeps the winner and marks the match ambiguous.
	PolicyFlag AmbiguityPolicy = "flag"
	// PolicyDefer produces no match and leaves the observation for review.
	PolicyDefer AmbiguityPolicy = "defer"
)

// Default selection configuration constants.
const (
	defaultBefore        = 3 * time.Hour
	defaultAfter         = 10 * time.Minute
	defaultLookback      = 183 * 24 * time.Hour
	defaultMinConfidence = 0.6
	defaultEpsilon       = 0.02
	defaultMinCoverage   = 0.5
)

// Selector is read-only after New and safe for concurrent use.
type Selector struct {
	index   repository.Index
	scorer  *scoring.Scorer
	rosters map[string]scoring.Roster

	before, after time.Duration
	lookback      time.Duration
	minConfidence float64
	epsilon       float64
	policy        AmbiguityPolicy
	minNames      int
	minCoverage   float64

	log logger.Logger
}

// New prepares every roster in index once and returns a Selector.
func New(index repository.Index, scorer *scoring.Scorer, opts ...Option) *Selector {
	s := &Selector{
		index:         index,
		scorer:        scorer,
		before:        defaultBefore,
		after:         defaultAfter,
		lookback:      defaultLookback,
		minConfidence: defaultMinConfidence,
		epsilon:       defaultEpsilon,
		policy:        PolicyFlag,
		minNames:      1,
		minCoverage:   defaultMinCoverage,
		log:           logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	all := index.All()
	s.rosters = make(map[string]scoring.Roster, len(all))
	for _, b := range all {
		s.rosters[b.BattleID] = scorer.PrepareRoster(b.Roster())
	}
	return s
}

// candidate is a scored battle during selection.
type candidate struct {
	battle   model.BattleRecord
	result   scoring.Result
	distance time.Duration
	// qualified is set when enough observed names landed on the roster.
	qualified bool
}

// better reports whether a beats b: qualified first, then higher score, start
// closer to the inferred moment (skipped when degraded), then lower battle id.
func better(a, b *candidate, degraded bool) bool {
	if a.qualified != b.qualified {
		return a.qualified
	}
	if a.result.Score != b.result.Score {
		return a.result.Score > b.result.Score
	}
	if !degraded && a.distance != b.distance {
		return a.distance < b.distance
	}
	return a.battle.BattleID < b.battle.BattleID
}

// Select decides one observation. It never fails; problems are reported
// through the returned Decision. ctx bounds the scoring loop.
func (s *Selector) Select(ctx context.Context, obs model.ScreenshotObservation) model.Decision {
	start := time.Now()
	defer func() {
		metrics.ObserveSelectLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	d := model.Decision{Key: obs.Key()}

	if err := obs.Validate(); err != nil {
		d.Outcome = model.OutcomeMalformed
		d.Err = err
		s.log.Warn(ctx, "malformed observation", logger.String("observation", d.Key.String()), logger.Error(err))
		return d
	}

	observed := s.scorer.PrepareObserved(obs.ObservedNames)
	if observed.Len() < s.minNames {
		d.Outcome = model.OutcomeInsufficient
		d.Err = fmt.Errorf("%w: %d usable names, need %d", model.ErrMalformedObservation, observed.Len(), s.minNames)
		s.log.Debug(ctx, "too few names", logger.String("observation", d.Key.String()), logger.Int("names", observed.Len()))
		return d
	}

	moment, ref := obs.Reference()
	d.Reference = ref

	var battles []model.BattleRecord
	switch ref {
	case model.RefVideoStart:
		battles = s.index.ByTimeWindow(moment, s.before, s.after)
	case model.RefUploadDate:
		battles = s.index.ByTimeWindow(moment, s.lookback, 0)
	default:
		d.Degraded = true
		battles = s.index.All()
		metrics.RecordDegradedSelection()
		s.log.Warn(ctx, "no time reference, searching whole index",
			logger.String("observation", d.Key.String()),
			logger.String("upload_date", obs.UploadDate))
	}
	d.Candidates = len(battles)
	metrics.ObserveCandidates(len(battles))

	if len(battles) == 0 {
		d.Outcome = model.OutcomeNoCandidate
		s.log.Debug(ctx, "no candidate battles", logger.String("observation", d.Key.String()), logger.String("reference", ref.String()))
		return d
	}

	need := int(math.Ceil(s.minCoverage * float64(observed.Len())))
	need = max(need, 1)

	var best, runnerUp *candidate
	for i := range battles {
		if err := ctx.Err(); err != nil {
			d.Outcome = model.OutcomeTimeout
			if !errors.Is(err, context.DeadlineExceeded) {
				d.Outcome = model.OutcomeFailed
			}
			d.Err = err
			return d
		}

		c := &candidate{battle: battles[i]}
		c.result = s.scorer.ScorePrepared(observed, s.rosters[c.battle.BattleID])
		c.qualified = len(c.result.Pairs) >= need
		if !d.Degraded {
			c.distance = c.battle.StartTime.Sub(moment).Abs()
		}

		switch {
		case best == nil || better(c, best, d.Degraded):
			runnerUp, best = best, c
		case runnerUp == nil || better(c, runnerUp, d.Degraded):
			runnerUp = c
		}
	}

	d.Best = toCandidateScore(best)
	d.RunnerUp = toCandidateScore(runnerUp)

	if best.result.Score == 0 {
		d.Outcome = model.OutcomeNoCandidate
		return d
	}
	if !best.qualified {
		d.Outcome = model.OutcomeBelowThreshold
		s.log.Debug(ctx, "no candidate covers enough names",
			logger.String("observation", d.Key.String()),
			logger.String("battle_id", best.battle.BattleID),
			logger.Int("matched", len(best.result.Pairs)),
			logger.Int("need", need))
		return d
	}
	if best.result.Score < s.minConfidence {
		d.Outcome = model.OutcomeBelowThreshold
		s.log.Debug(ctx, "best candidate below threshold",
			logger.String("observation", d.Key.String()),
			logger.String("battle_id", best.battle.BattleID),
			logger.Float64("score", best.result.Score))
		return d
	}

	ambiguous := runnerUp != nil && runnerUp.qualified && best.result.Score-runnerUp.result.Score <= s.epsilon
	if ambiguous {
		metrics.RecordAmbiguousMatch()
		s.log.Warn(ctx, "ambiguous match",
			logger.String("observation", d.Key.String()),
			logger.String("battle_id", best.battle.BattleID),
			logger.Float64("score", best.result.Score),
			logger.String("runner_up", runnerUp.battle.BattleID),
			logger.Float64("runner_up_score", runnerUp.result.Score),
			logger.String("policy", string(s.policy)))
		if s.policy == PolicyDefer {
			d.Outcome = model.OutcomeDeferred
			return d
		}
	}

	m := &model.ScreenshotMatch{
		VideoID:          obs.VideoID,
		TimestampSeconds: obs.TimestampSeconds,
		BattleID:         best.battle.BattleID,
		Score:            best.result.Score,
		Ambiguous:        ambiguous,
		ObservedCount:    observed.Len(),
		RosterCount:      s.rosters[best.battle.BattleID].Len(),
		MatchedPairs:     best.result.Pairs,
	}
	if runnerUp != nil {
		m.RunnerUpBattleID = runnerUp.battle.BattleID
		m.RunnerUpScore = runnerUp.result.Score
	}
	d.Outcome = model.OutcomeMatched
	d.Match = m
	metrics.ObserveMatchScore(m.Score)
	s.log.Debug(ctx, "matched",
		logger.String("observation", d.Key.String()),
		logger.String("battle_id", m.BattleID),
		logger.Float64("score", m.Score),
		logger.Bool("ambiguous", ambiguous),
		logger.Bool("degraded", d.Degraded))
	return d
}

func toCandidateScore(c *candidate) *model.MatchCandidateScore {
	if c == nil {
		return nil
	}
	return &model.MatchCandidateScore{
		BattleID:     c.battle.BattleID,
		Score:        c.result.Score,
		MatchedPairs: c.result.Pairs,
	}
}
