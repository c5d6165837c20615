package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/okian/replaylink/internal/domain/model"
	"github.com/okian/replaylink/pkg/logger"
)

var syllables = []string{
	"ka", "ri", "to", "mo", "na", "shi", "ven", "dra", "lux", "zor",
	"bel", "quin", "fa", "gor", "ith", "pel", "rax", "sol", "tur", "vey",
	"ash", "bro", "cy", "dun", "el", "fen", "gri", "hal", "jin", "kor",
}

var clanTags = []string{"[GG]", "[KZ]", "[404]", "[Ace]", "[TTV]"}

// OCR digit confusions applied when a name is misread.
var misreads = map[rune]rune{'o': '0', 'O': '0', 'l': '1', 'I': '1', 's': '5', 'S': '5'}

// Screenshot is one synthetic reading and the battle it really shows.
type Screenshot struct {
	TimestampSeconds int
	Names            []string
	BattleID         string
}

// Video is a synthetic recording covering one or more consecutive battles.
type Video struct {
	VideoID         string
	Title           string
	UploadDate      string
	StartedAt       time.Time // zero for videos known only by upload date
	DurationSeconds int
	Screenshots     []Screenshot
}

// Dataset is a generated roster with videos and the right answers.
type Dataset struct {
	Battles []model.BattleRecord
	Videos  []Video
}

// Generate builds a dataset. Output depends only on cfg, not on Workers.
func Generate(ctx context.Context, cfg Config, opts ...Option) (*Dataset, error) {
	cfg.normalize()
	o := options{log: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	o.log.Info(ctx, "generating synthetic dataset",
		logger.Int("battles", cfg.Battles),
		logger.Int("videos", cfg.Videos),
		logger.Int("workers", cfg.Workers))

	rng := rand.New(rand.NewPCG(cfg.Seed, 0))
	pool := playerPool(rng, cfg.PlayerPool)

	ds := &Dataset{Battles: make([]model.BattleRecord, cfg.Battles)}
	for i := range ds.Battles {
		perm := rng.Perm(len(pool))[:cfg.PlayersPerBattle]
		roster := make([]string, len(perm))
		for j, p := range perm {
			roster[j] = pool[p]
		}
		ds.Battles[i] = model.BattleRecord{
			BattleID:         battleID(i),
			StartTime:        cfg.Start.Add(time.Duration(i) * cfg.Spacing),
			MapName:          "synthetic",
			ParticipantNames: roster,
		}
	}

	videos, err := generateVideos(ctx, &cfg, ds.Battles)
	if err != nil {
		return nil, err
	}
	ds.Videos = videos
	o.log.Debug(ctx, "synthetic dataset ready", logger.Int("screenshots", ds.ScreenshotCount()))
	return ds, nil
}

// generateVideos fans video generation out over cfg.Workers goroutines. Each
// video has its own random stream so the result is independent of scheduling.
func generateVideos(ctx context.Context, cfg *Config, battles []model.BattleRecord) ([]Video, error) {
	type videoResult struct {
		index int
		video Video
		err   error
	}

	videos := make([]Video, cfg.Videos)
	resultChan := make(chan videoResult, cfg.Videos)

	workerCount := min(cfg.Workers, cfg.Videos)
	perWorker := cfg.Videos / workerCount
	for w := 0; w < workerCount; w++ {
		start := w * perWorker
		end := start + perWorker
		if w == workerCount-1 {
			end = cfg.Videos
		}
		go func(start, end int) {
			for i := start; i < end; i++ {
				select {
				case <-ctx.Done():
					resultChan <- videoResult{index: i, err: ctx.Err()}
					return
				default:
					rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)+1))
					resultChan <- videoResult{index: i, video: generateVideo(rng, cfg, i, battles)}
				}
			}
		}(start, end)
	}

	for received := 0; received < cfg.Videos; received++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during video generation: %w", ctx.Err())
		case r := <-resultChan:
			if r.err != nil {
				return nil, fmt.Errorf("generate video %d: %w", r.index, r.err)
			}
			videos[r.index] = r.video
		}
	}
	return videos, nil
}

const (
	firstShotOffset = 45  // seconds into the video
	shotInterval    = 70  // seconds between readings of the same battle
	battleGap       = 240 // seconds of lobby between battles
)

func generateVideo(rng *rand.Rand, cfg *Config, index int, battles []model.BattleRecord) Video {
	first := rng.IntN(len(battles))
	count := 1 + rng.IntN(cfg.BattlesPerVideo)
	if first+count > len(battles) {
		count = len(battles) - first
	}
	shown := battles[first : first+count]

	v := Video{
		VideoID: fmt.Sprintf("vid%04d", index+1),
		Title:   fmt.Sprintf("Session %d", index+1),
	}
	// most uploads carry a start time; the rest only an upload day
	if rng.Float64() < 0.75 {
		v.StartedAt = shown[0].StartTime.Add(-time.Duration(firstShotOffset) * time.Second)
	}
	last := shown[len(shown)-1].StartTime
	v.UploadDate = last.AddDate(0, 0, rng.IntN(3)).Format(model.UploadDateLayout)

	offset := firstShotOffset
	for bi, b := range shown {
		if bi > 0 {
			// keep the video clock consistent with the next battle's start
			into := int(b.StartTime.Sub(shown[0].StartTime).Seconds()) + firstShotOffset
			offset = max(offset+battleGap, into)
		}
		for s := 0; s < cfg.ShotsPerBattle; s++ {
			v.Screenshots = append(v.Screenshots, Screenshot{
				TimestampSeconds: offset,
				Names:            readNames(rng, cfg, b.ParticipantNames),
				BattleID:         b.BattleID,
			})
			offset += shotInterval
		}
	}
	v.DurationSeconds = offset
	return v
}

// readNames simulates OCR over a truncated scoreboard.
func readNames(rng *rand.Rand, cfg *Config, roster []string) []string {
	visible := cfg.MinVisible + rng.IntN(len(roster)-cfg.MinVisible+1)
	perm := rng.Perm(len(roster))[:visible]
	out := make([]string, 0, visible)
	for _, p := range perm {
		name := roster[p]
		if rng.Float64() < cfg.NoiseRate {
			name = misread(rng, name)
		}
		out = append(out, name)
	}
	return out
}

func misread(rng *rand.Rand, name string) string {
	switch rng.IntN(4) {
	case 0:
		runes := []rune(name)
		for i, r := range runes {
			if sub, ok := misreads[r]; ok {
				runes[i] = sub
				return string(runes)
			}
		}
		return strings.ToLower(name)
	case 1:
		if len(name) > 4 {
			i := 1 + rng.IntN(len(name)-2)
			return name[:i] + name[i+1:]
		}
		return strings.ToUpper(name)
	case 2:
		return clanTags[rng.IntN(len(clanTags))] + " " + name
	default:
		return "  " + strings.ToLower(name) + " "
	}
}

func playerPool(rng *rand.Rand, n int) []string {
	seen := make(map[string]struct{}, n)
	out := make([]string, 0, n)
	for len(out) < n {
		parts := 2 + rng.IntN(2)
		var b strings.Builder
		for i := 0; i < parts; i++ {
			b.WriteString(syllables[rng.IntN(len(syllables))])
		}
		name := strings.ToUpper(b.String()[:1]) + b.String()[1:]
		if rng.IntN(3) == 0 {
			name += strconv.Itoa(10 + rng.IntN(90))
		}
		if _, dup := seen[strings.ToLower(name)]; dup {
			continue
		}
		seen[strings.ToLower(name)] = struct{}{}
		out = append(out, name)
	}
	return out
}

func battleID(i int) string {
	return fmt.Sprintf("B%05d", i+1)
}

// ScreenshotCount returns the number of generated screenshots.
func (d *Dataset) ScreenshotCount() int {
	n := 0
	for _, v := range d.Videos {
		n += len(v.Screenshots)
	}
	return n
}

// Truth maps every screenshot to the battle it shows.
func (d *Dataset) Truth() Truth {
	t := make(Truth)
	for _, v := range d.Videos {
		for _, s := range v.Screenshots {
			t[model.ObservationKey{VideoID: v.VideoID, TimestampSeconds: s.TimestampSeconds}] = s.BattleID
		}
	}
	return t
}

type videoDoc struct {
	Title          string              `json:"title"`
	UploadDate     string              `json:"upload_date"`
	Uploader       string              `json:"uploader"`
	Duration       int                 `json:"duration"`
	VideoStartedAt string              `json:"video_started_at,omitempty"`
	Screenshots    map[string][]string `json:"screenshots"`
}

// ScreenshotJSON renders the videos in the OCR stage's file format.
func (d *Dataset) ScreenshotJSON() ([]byte, error) {
	doc := make(map[string]videoDoc, len(d.Videos))
	for _, v := range d.Videos {
		vd := videoDoc{
			Title:       v.Title,
			UploadDate:  v.UploadDate,
			Uploader:    "synth",
			Duration:    v.DurationSeconds,
			Screenshots: make(map[string][]string, len(v.Screenshots)),
		}
		if !v.StartedAt.IsZero() {
			vd.VideoStartedAt = v.StartedAt.UTC().Format(time.RFC3339)
		}
		for _, s := range v.Screenshots {
			vd.Screenshots[strconv.Itoa(s.TimestampSeconds)] = s.Names
		}
		doc[v.VideoID] = vd
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ExpectedLinks returns, per video, the battles in the order they appear.
func (d *Dataset) ExpectedLinks() map[string][]string {
	out := make(map[string][]string, len(d.Videos))
	for _, v := range d.Videos {
		shots := append([]Screenshot(nil), v.Screenshots...)
		sort.Slice(shots, func(i, j int) bool { return shots[i].TimestampSeconds < shots[j].TimestampSeconds })
		var ids []string
		for _, s := range shots {
			if len(ids) == 0 || ids[len(ids)-1] != s.BattleID {
				ids = append(ids, s.BattleID)
			}
		}
		out[v.VideoID] = ids
	}
	return out
}
