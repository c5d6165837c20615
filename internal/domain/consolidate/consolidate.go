// Package consolidate merges per-screenshot matches into video to battle links.
package consolidate

import (
	"sort"

	"github.com/okian/replaylink/internal/domain/model"
)

// Group is the set of links for one video, written as a unit.
type Group struct {
	VideoID string
	Links   []model.VideoBattleLink
}

// Consolidate groups matches by video and collapses each run of
// consecutive matches naming the same battle into one link. A run keeps
// its earliest timestamp and its highest score. Only a different battle id
// ends a run; discarded screenshots in between do not.
//
// Output is ordered by video id then representative timestamp and does not
// depend on input order.
func Consolidate(matches []model.ScreenshotMatch) []model.VideoBattleLink {
	if len(matches) == 0 {
		return nil
	}

	sorted := append([]model.ScreenshotMatch(nil), matches...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := &sorted[i], &sorted[j]
		if a.VideoID != b.VideoID {
			return a.VideoID < b.VideoID
		}
		if a.TimestampSeconds != b.TimestampSeconds {
			return a.TimestampSeconds < b.TimestampSeconds
		}
		return a.BattleID < b.BattleID
	})

	links := make([]model.VideoBattleLink, 0, len(sorted))
	for i := range sorted {
		m := &sorted[i]
		if n := len(links); n > 0 {
			last := &links[n-1]
			if last.VideoID == m.VideoID && last.BattleID == m.BattleID {
				last.Score = max(last.Score, m.Score)
				last.Ambiguous = last.Ambiguous || m.Ambiguous
				last.ObservedCount = max(last.ObservedCount, m.ObservedCount)
				last.RosterCount = max(last.RosterCount, m.RosterCount)
				continue
			}
		}
		links = append(links, model.VideoBattleLink{
			VideoID:                 m.VideoID,
			BattleID:                m.BattleID,
			RepresentativeTimestamp: m.TimestampSeconds,
			Score:                   m.Score,
			Ambiguous:               m.Ambiguous,
			ObservedCount:           m.ObservedCount,
			RosterCount:             m.RosterCount,
		})
	}
	return links
}

// GroupByVideo splits ordered links into per-video groups, preserving order.
func GroupByVideo(links []model.VideoBattleLink) []Group {
	var groups []Group
	for _, l := range links {
		if n := len(groups); n > 0 && groups[n-1].VideoID == l.VideoID {
			groups[n-1].Links = append(groups[n-1].Links, l)
			continue
		}
		groups = append(groups, Group{VideoID: l.VideoID, Links: []model.VideoBattleLink{l}})
	}
	return groups
}
