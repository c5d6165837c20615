package model

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Start times must fit in int64 unix nanoseconds.
var (
	minStartTime = time.Unix(0, math.MinInt64)
	maxStartTime = time.Unix(0, math.MaxInt64)
)

// BattleRecord is one recorded match with its roster.
type BattleRecord struct {
	BattleID         string
	StartTime        time.Time
	MapName          string
	ParticipantNames []string
}

// Validate rejects records the engine must not index.
func (b *BattleRecord) Validate() error {
	if strings.TrimSpace(b.BattleID) == "" {
		return fmt.Errorf("%w: missing battle_id", ErrInvalidBattle)
	}
	if b.StartTime.IsZero() {
		return fmt.Errorf("%w: %s has no start time", ErrInvalidBattle, b.BattleID)
	}
	if b.StartTime.Before(minStartTime) || b.StartTime.After(maxStartTime) {
		return fmt.Errorf("%w: %s start time %s out of range", ErrInvalidBattle, b.BattleID, b.StartTime)
	}
	if len(b.Roster()) == 0 {
		return fmt.Errorf("%w: %s has no participants", ErrInvalidBattle, b.BattleID)
	}
	return nil
}

// Roster returns the distinct non-blank participant names, sorted.
func (b *BattleRecord) Roster() []string {
	seen := make(map[string]struct{}, len(b.ParticipantNames))
	out := make([]string, 0, len(b.ParticipantNames))
	for _, n := range b.ParticipantNames {
		if strings.TrimSpace(n) == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
