// Package diagnostics writes the per-screenshot match artifact used to tune
// thresholds offline.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/okian/replaylink/internal/domain/model"
)

// Artifact is the root of the diagnostics file.
type Artifact struct {
	RunID       string                `json:"run_id"`
	GeneratedAt time.Time             `json:"generated_at"`
	Config      any                   `json:"config,omitempty"`
	Videos      map[string]VideoEntry `json:"videos"`
}

// VideoEntry carries a video's metadata and what happened to each screenshot.
type VideoEntry struct {
	Title       string                     `json:"title,omitempty"`
	UploadDate  string                     `json:"upload_date,omitempty"`
	Uploader    string                     `json:"uploader,omitempty"`
	Duration    int                        `json:"duration,omitempty"`
	Screenshots map[string]ScreenshotEntry `json:"screenshots"`
}

// ScreenshotEntry is one observation's verdict. PlayersOCR keeps the
// original shape so the file can be fed back to the reader.
type ScreenshotEntry struct {
	PlayersOCR       []string            `json:"players_ocr"`
	MatchedBattleID  *string             `json:"matched_battle_id"`
	MatchScore       float64             `json:"match_score"`
	Outcome          model.Outcome       `json:"outcome"`
	Reference        string              `json:"reference"`
	Degraded         bool                `json:"degraded,omitempty"`
	Candidates       int                 `json:"candidates"`
	BestBattleID     string              `json:"best_battle_id,omitempty"`
	Ambiguous        bool                `json:"ambiguous,omitempty"`
	RunnerUpBattleID string              `json:"runner_up_battle_id,omitempty"`
	RunnerUpScore    float64             `json:"runner_up_score,omitempty"`
	MatchedPairs     []model.MatchedPair `json:"matched_pairs,omitempty"`
	Error            string              `json:"error,omitempty"`
}

// Build assembles an artifact from the run's inputs and decisions. Decisions
// without a matching observation are ignored; observations that never got a
// decision are omitted.
func Build(runID string, cfg any, videos []model.Video, observations []model.ScreenshotObservation, decisions []model.Decision) *Artifact {
	a := &Artifact{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Config:      cfg,
		Videos:      make(map[string]VideoEntry),
	}

	meta := make(map[string]model.Video, len(videos))
	for _, v := range videos {
		meta[v.VideoID] = v
	}
	names := make(map[model.ObservationKey][]string, len(observations))
	for i := range observations {
		o := &observations[i]
		if _, dup := names[o.Key()]; !dup {
			names[o.Key()] = o.ObservedNames
		}
	}

	for i := range decisions {
		d := &decisions[i]
		ocr, ok := names[d.Key]
		if !ok {
			continue
		}
		entry, ok := a.Videos[d.Key.VideoID]
		if !ok {
			v := meta[d.Key.VideoID]
			entry = VideoEntry{
				Title:       v.Title,
				UploadDate:  v.UploadDate,
				Uploader:    v.Uploader,
				Duration:    v.DurationSeconds,
				Screenshots: make(map[string]ScreenshotEntry),
			}
		}
		ts := strconv.Itoa(d.Key.TimestampSeconds)
		if prev, seen := entry.Screenshots[ts]; seen && prev.Outcome != model.OutcomeDuplicate {
			// the first occurrence's verdict is the one that counts
			continue
		}
		entry.Screenshots[ts] = screenshotEntry(ocr, d)
		a.Videos[d.Key.VideoID] = entry
	}
	return a
}

func screenshotEntry(ocr []string, d *model.Decision) ScreenshotEntry {
	if ocr == nil {
		ocr = []string{}
	}
	e := ScreenshotEntry{
		PlayersOCR: ocr,
		Outcome:    d.Outcome,
		Reference:  d.Reference.String(),
		Degraded:   d.Degraded,
		Candidates: d.Candidates,
	}
	if d.Best != nil {
		e.BestBattleID = d.Best.BattleID
		e.MatchScore = d.Best.Score
		e.MatchedPairs = d.Best.MatchedPairs
	}
	if d.RunnerUp != nil {
		e.RunnerUpBattleID = d.RunnerUp.BattleID
		e.RunnerUpScore = d.RunnerUp.Score
	}
	if m := d.Match; m != nil {
		id := m.BattleID
		e.MatchedBattleID = &id
		e.MatchScore = m.Score
		e.Ambiguous = m.Ambiguous
		e.MatchedPairs = m.MatchedPairs
	}
	if d.Outcome == model.OutcomeDeferred {
		e.Ambiguous = true
	}
	if d.Err != nil {
		e.Error = d.Err.Error()
	}
	return e
}

// Write stores the artifact as indented JSON. The file is replaced atomically.
func Write(path string, a *Artifact) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode diagnostics: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create diagnostics dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create diagnostics file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write diagnostics: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close diagnostics: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace diagnostics: %w", err)
	}
	return nil
}
