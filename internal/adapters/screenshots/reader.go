// Package screenshots reads the OCR stage's per-video screenshot file.
//
// The file maps video ids to metadata plus a "screenshots" object keyed by
// in-video seconds. Each screenshot is either a list of names or an object
// carrying them under "players_ocr", so a previous diagnostics file can be
// fed back in.
package screenshots

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/okian/replaylink/internal/domain/model"
)

// ErrInvalidDocument means the file is not a JSON object of videos.
var ErrInvalidDocument = errors.New("invalid screenshot document")

// Problem is an entry the reader could not turn into an observation.
type Problem struct {
	VideoID string
	Field   string
	Reason  string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s: %s", p.VideoID, p.Field, p.Reason)
}

// Batch is the parsed content of one screenshot file.
type Batch struct {
	Videos       []model.Video
	Observations []model.ScreenshotObservation
	Problems     []Problem
}

// Video returns metadata for id, or a bare record when unknown.
func (b *Batch) Video(id string) model.Video {
	i := sort.Search(len(b.Videos), func(i int) bool { return b.Videos[i].VideoID >= id })
	if i < len(b.Videos) && b.Videos[i].VideoID == id {
		return b.Videos[i]
	}
	return model.Video{VideoID: id}
}

// ReadFile parses the screenshot file at path.
func ReadFile(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read screenshots: %w", err)
	}
	return Parse(data)
}

// Parse decodes a screenshot document. Observations are ordered by video id
// then timestamp.
func Parse(data []byte) (*Batch, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidDocument)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: top level must be an object", ErrInvalidDocument)
	}

	b := &Batch{}
	root.ForEach(func(key, value gjson.Result) bool {
		id := strings.TrimSpace(key.String())
		if id == "" || !value.IsObject() {
			b.Problems = append(b.Problems, Problem{VideoID: key.String(), Field: "video", Reason: "not an object"})
			return true
		}
		b.readVideo(id, value)
		return true
	})

	sort.Slice(b.Videos, func(i, j int) bool { return b.Videos[i].VideoID < b.Videos[j].VideoID })
	sort.SliceStable(b.Observations, func(i, j int) bool {
		a, c := &b.Observations[i], &b.Observations[j]
		if a.VideoID != c.VideoID {
			return a.VideoID < c.VideoID
		}
		return a.TimestampSeconds < c.TimestampSeconds
	})
	return b, nil
}

func (b *Batch) readVideo(id string, v gjson.Result) {
	video := model.Video{
		VideoID:         id,
		Title:           v.Get("title").String(),
		UploadDate:      strings.TrimSpace(v.Get("upload_date").String()),
		Uploader:        v.Get("uploader").String(),
		DurationSeconds: int(v.Get("duration").Int()),
	}
	if raw := v.Get("video_started_at"); raw.Exists() && raw.Type != gjson.Null {
		t, err := time.Parse(time.RFC3339, raw.String())
		if err != nil {
			b.Problems = append(b.Problems, Problem{VideoID: id, Field: "video_started_at", Reason: err.Error()})
		} else {
			video.StartedAt = t.UTC()
		}
	}
	if video.UploadDate != "" {
		if _, ok := model.ParseUploadDate(video.UploadDate); !ok {
			b.Problems = append(b.Problems, Problem{VideoID: id, Field: "upload_date", Reason: "not YYYYMMDD: " + video.UploadDate})
		}
	}
	b.Videos = append(b.Videos, video)

	v.Get("screenshots").ForEach(func(key, shot gjson.Result) bool {
		ts, err := strconv.Atoi(strings.TrimSpace(key.String()))
		if err != nil || ts < 0 {
			b.Problems = append(b.Problems, Problem{VideoID: id, Field: "screenshots." + key.String(), Reason: "timestamp is not a non-negative integer"})
			return true
		}
		b.Observations = append(b.Observations, model.ScreenshotObservation{
			VideoID:          id,
			TimestampSeconds: ts,
			UploadDate:       video.UploadDate,
			VideoStartedAt:   video.StartedAt,
			ObservedNames:    names(shot),
		})
		return true
	})
}

func names(shot gjson.Result) []string {
	list := shot
	if shot.IsObject() {
		list = shot.Get("players_ocr")
	}
	if !list.IsArray() {
		return nil
	}
	items := list.Array()
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it.Type == gjson.String {
			out = append(out, it.Str)
		}
	}
	return out
}
