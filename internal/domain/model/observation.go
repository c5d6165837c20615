// Package model contains the records passed between matching stages.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// UploadDateLayout is the YYYYMMDD form the acquisition step writes.
const UploadDateLayout = "20060102"

// ObservationKey identifies a screenshot observation.
type ObservationKey struct {
	VideoID          string
	TimestampSeconds int
}

func (k ObservationKey) String() string {
	return k.VideoID + "@" + strconv.Itoa(k.TimestampSeconds) + "s"
}

// TimeReference tells the selector how much it knows about when a screenshot was taken.
type TimeReference int

const (
	// RefNone means no usable time; the whole index is searched.
	RefNone TimeReference = iota
	// RefUploadDate bounds the search by the video's upload day.
	RefUploadDate
	// RefVideoStart pins the moment to video start plus the in-video offset.
	RefVideoStart
)

func (r TimeReference) String() string {
	switch r {
	case RefUploadDate:
		return "upload_date"
	case RefVideoStart:
		return "video_start"
	default:
		return "none"
	}
}

// ScreenshotObservation is one OCR reading of player names at a moment in a video.
type ScreenshotObservation struct {
	VideoID          string
	TimestampSeconds int
	UploadDate       string    // YYYYMMDD, may be empty or junk
	VideoStartedAt   time.Time // zero when unknown
	ObservedNames    []string
}

// Key returns the observation identity.
func (o *ScreenshotObservation) Key() ObservationKey {
	return ObservationKey{VideoID: o.VideoID, TimestampSeconds: o.TimestampSeconds}
}

// Validate reports missing identity fields or an empty name list.
func (o *ScreenshotObservation) Validate() error {
	switch {
	case strings.TrimSpace(o.VideoID) == "":
		return fmt.Errorf("%w: missing video_id", ErrMalformedObservation)
	case o.TimestampSeconds < 0:
		return fmt.Errorf("%w: negative timestamp %d", ErrMalformedObservation, o.TimestampSeconds)
	}
	for _, n := range o.ObservedNames {
		if strings.TrimSpace(n) != "" {
			return nil
		}
	}
	return fmt.Errorf("%w: %s has no observed names", ErrMalformedObservation, o.Key())
}

// Reference returns the inferred real-world time of the screenshot and how it was derived.
// For RefUploadDate the time is the last second of the upload day (UTC).
func (o *ScreenshotObservation) Reference() (time.Time, TimeReference) {
	if !o.VideoStartedAt.IsZero() {
		return o.VideoStartedAt.Add(time.Duration(o.TimestampSeconds) * time.Second).UTC(), RefVideoStart
	}
	if day, ok := ParseUploadDate(o.UploadDate); ok {
		return day.Add(24*time.Hour - time.Nanosecond), RefUploadDate
	}
	return time.Time{}, RefNone
}

// ParseUploadDate parses a YYYYMMDD date as midnight UTC.
func ParseUploadDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) != len(UploadDateLayout) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(UploadDateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Video carries metadata the acquisition step recorded for a video.
type Video struct {
	VideoID         string
	Title           string
	UploadDate      string
	Uploader        string
	DurationSeconds int
	StartedAt       time.Time
}
