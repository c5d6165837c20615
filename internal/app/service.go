// Package service runs the screenshot-to-battle matching pipeline: load the
// roster, match every screenshot in parallel, consolidate, persist, and report.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/replaylink/internal/adapters/diagnostics"
	"github.com/okian/replaylink/internal/adapters/mq/worker"
	"github.com/okian/replaylink/internal/adapters/repository"
	"github.com/okian/replaylink/internal/adapters/screenshots"
	"github.com/okian/replaylink/internal/adapters/sqlite"
	"github.com/okian/replaylink/internal/config"
	"github.com/okian/replaylink/internal/domain/consolidate"
	"github.com/okian/replaylink/internal/domain/model"
	"github.com/okian/replaylink/internal/domain/normalize"
	"github.com/okian/replaylink/internal/domain/scoring"
	"github.com/okian/replaylink/internal/domain/selector"
	"github.com/okian/replaylink/pkg/logger"
	"github.com/okian/replaylink/pkg/metrics"
)

// Store is the battle source and the link sink. *sqlite.Store satisfies it.
type Store interface {
	LoadBattles(ctx context.Context) ([]model.BattleRecord, sqlite.LoadStats, error)
	AcquireWriter(ctx context.Context) (func() error, error)
	ReplaceVideoLinks(ctx context.Context, video model.Video, links []model.VideoBattleLink, runID string, prune bool) error
}

var _ Store = (*sqlite.Store)(nil)

// Service wires the matching components for one configuration.
type Service struct {
	store Store
	cfg   *config.Config

	diagnosticsPath string
	newRunID        func() string
	now             func() time.Time

	logger logger.Logger
}

// New constructs a Service. cfg is expected to be validated.
func New(store Store, cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		store:    store,
		cfg:      cfg,
		newRunID: uuid.NewString,
		now:      time.Now,
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run matches every observation in batch and persists the resulting links.
//
// Only a failed battle load, an empty roster index or an unobtainable writer
// lock return an error. Per-observation problems and per-video write failures
// are collected in the Report.
func (s *Service) Run(ctx context.Context, batch *screenshots.Batch) (*Report, error) {
	started := s.now()
	r := &Report{
		RunID:         s.newRunID(),
		StartedAt:     started,
		Outcomes:      make(map[model.Outcome]int),
		Observations:  len(batch.Observations),
		InputProblems: len(batch.Problems),
	}
	log := s.logger.Named("pipeline")
	defer func() {
		r.Duration = s.now().Sub(started)
		metrics.ObserveRunDuration(r.Duration.Seconds())
	}()

	for _, p := range batch.Problems {
		log.Warn(ctx, "skipped input entry", logger.String("problem", p.String()))
	}

	idx, err := s.buildIndex(ctx, r)
	if err != nil {
		return r, err
	}

	driver := worker.NewDriver(s.selector(idx),
		worker.WithWorkerCount(s.cfg.WorkerCount),
		worker.WithQueueSize(s.cfg.QueueSize),
		worker.WithObservationTimeout(s.cfg.PerObservationTimeout),
		worker.WithDriverLogger(s.logger.Named("driver")))
	res := driver.Run(ctx, batch.Observations)
	r.Cancelled = res.Cancelled > 0

	sortDecisions(res.Decisions)
	r.Decisions = res.Decisions
	incomplete := s.tally(ctx, r)

	r.Links = consolidate.Consolidate(res.Matches())
	log.Info(ctx, "matching finished",
		logger.String("run_id", r.RunID),
		logger.Int("observations", r.Observations),
		logger.Int("matched", r.Count(model.OutcomeMatched)),
		logger.Int("links", len(r.Links)),
		logger.Int("degraded", r.Degraded),
		logger.Int("ambiguous", r.Ambiguous))

	if err := s.persist(ctx, r, batch, incomplete); err != nil {
		return r, err
	}
	s.writeDiagnostics(ctx, r, batch)
	return r, nil
}

func (s *Service) buildIndex(ctx context.Context, r *Report) (*repository.TreapIndex, error) {
	// the store reports orphan and timestamp problems itself
	battles, _, err := s.store.LoadBattles(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadBattles, err)
	}

	b := repository.NewBuilder(repository.WithLogger(s.logger.Named("index")))
	for i := range battles {
		// rejected records are counted by the builder
		_ = b.Add(battles[i])
	}
	r.SkippedBattles = b.Skipped()

	idx, err := b.Build(ctx)
	if err != nil {
		s.logger.Error(ctx, "roster index unavailable", logger.Error(err))
		return nil, err
	}
	r.Battles = idx.Count()
	return idx, nil
}

func (s *Service) selector(idx repository.Index) *selector.Selector {
	norm := normalize.New(normalize.WithConfusionFolding(s.cfg.OCRFolding))
	scorer := scoring.New(
		scoring.WithNormalizer(norm),
		scoring.WithNoiseFloor(s.cfg.NoiseFloor),
		scoring.WithTopK(scoring.TopKStrategy(s.cfg.TopKStrategy), s.cfg.TopK))
	return selector.New(idx, scorer,
		selector.WithWindow(s.cfg.TimeWindowBefore, s.cfg.TimeWindowAfter),
		selector.WithUploadLookback(s.cfg.UploadLookback),
		selector.WithMinConfidence(s.cfg.MinConfidence),
		selector.WithAmbiguity(s.cfg.AmbiguityEpsilon, selector.AmbiguityPolicy(s.cfg.AmbiguityPolicy)),
		selector.WithMinObservedNames(s.cfg.MinObservedNames),
		selector.WithMinCoverage(s.cfg.MinCoverage),
		selector.WithLogger(s.logger.Named("selector")))
}

// tally fills outcome counts and failures, and returns the videos that have
// observations without a real verdict.
func (s *Service) tally(ctx context.Context, r *Report) map[string]bool {
	incomplete := make(map[string]bool)
	for i := range r.Decisions {
		d := &r.Decisions[i]
		r.Outcomes[d.Outcome]++
		metrics.RecordObservation(string(d.Outcome))
		if d.Degraded {
			r.Degraded++
		}
		if d.Outcome == model.OutcomeDeferred || (d.Match != nil && d.Match.Ambiguous) {
			r.Ambiguous++
		}

		switch d.Outcome {
		case model.OutcomeCancelled:
			incomplete[d.Key.VideoID] = true
			r.Failures = append(r.Failures, ObservationFailure{Key: d.Key, Outcome: d.Outcome, Err: d.Err})
		case model.OutcomeFailed, model.OutcomeTimeout, model.OutcomeMalformed, model.OutcomeInsufficient:
			r.Failures = append(r.Failures, ObservationFailure{Key: d.Key, Outcome: d.Outcome, Err: d.Err})
			s.logger.Debug(ctx, "observation not matched",
				logger.String("observation", d.Key.String()),
				logger.String("outcome", string(d.Outcome)),
				logger.Error(d.Err))
		}
	}
	return incomplete
}

// persist writes one transaction per video. Failures are isolated to their video.
func (s *Service) persist(ctx context.Context, r *Report, batch *screenshots.Batch, incomplete map[string]bool) error {
	// already-decided work is written even when the run was interrupted
	wctx := context.WithoutCancel(ctx)

	unlock, err := s.store.AcquireWriter(wctx)
	if err != nil {
		metrics.RecordPersistenceFailure()
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	defer func() {
		if err := unlock(); err != nil {
			s.logger.Warn(ctx, "release writer lock", logger.Error(err))
		}
	}()

	linksByVideo := make(map[string][]model.VideoBattleLink)
	for _, g := range consolidate.GroupByVideo(r.Links) {
		linksByVideo[g.VideoID] = g.Links
	}

	for _, id := range videoIDs(batch, linksByVideo) {
		if incomplete[id] {
			r.FailedVideos = append(r.FailedVideos, VideoFailure{VideoID: id, Err: ErrIncomplete})
			continue
		}
		links := linksByVideo[id]
		if err := s.store.ReplaceVideoLinks(wctx, batch.Video(id), links, r.RunID, s.cfg.PruneStaleLinks); err != nil {
			metrics.RecordPersistenceFailure()
			s.logger.Error(ctx, "persist video links",
				logger.String("video_id", id),
				logger.Error(err))
			r.FailedVideos = append(r.FailedVideos, VideoFailure{VideoID: id, Err: fmt.Errorf("%w: %w", ErrPersistence, err)})
			continue
		}
		metrics.RecordLinksWritten(len(links))
		if len(links) > 0 {
			r.LinkedVideos = append(r.LinkedVideos, id)
		}
	}

	if len(r.FailedVideos) > 0 {
		s.logger.Warn(ctx, "some videos were not persisted",
			logger.Int("linked", len(r.LinkedVideos)),
			logger.Int("failed", len(r.FailedVideos)))
	}
	return nil
}

func (s *Service) writeDiagnostics(ctx context.Context, r *Report, batch *screenshots.Batch) {
	if s.diagnosticsPath == "" {
		return
	}
	a := diagnostics.Build(r.RunID, s.cfg.Echo(), batch.Videos, batch.Observations, r.Decisions)
	if err := diagnostics.Write(s.diagnosticsPath, a); err != nil {
		r.DiagnosticsErr = err
		s.logger.Warn(ctx, "diagnostics not written", logger.Error(err))
		return
	}
	r.DiagnosticsPath = s.diagnosticsPath
}

// videoIDs lists every video that produced observations or links, sorted.
func videoIDs(batch *screenshots.Batch, links map[string][]model.VideoBattleLink) []string {
	set := make(map[string]struct{}, len(batch.Videos))
	for i := range batch.Observations {
		if id := batch.Observations[i].VideoID; strings.TrimSpace(id) != "" {
			set[id] = struct{}{}
		}
	}
	for id := range links {
		set[id] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sortDecisions(ds []model.Decision) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i].Key, ds[j].Key
		if a.VideoID != b.VideoID {
			return a.VideoID < b.VideoID
		}
		if a.TimestampSeconds != b.TimestampSeconds {
			return a.TimestampSeconds < b.TimestampSeconds
		}
		// a duplicate sorts after the occurrence that was decided
		return ds[i].Outcome != model.OutcomeDuplicate && ds[j].Outcome == model.OutcomeDuplicate
	})
}

// IsFatal reports whether err aborted a run before any matching happened.
func IsFatal(err error) bool {
	return errors.Is(err, ErrLoadBattles) || errors.Is(err, repository.ErrIndexUnavailable)
}
