// Package repository holds the in-memory roster index queried during matching.
package repository

import (
	"time"

	"github.com/okian/replaylink/internal/domain/model"
)

// Index is a read-only view over battle records ordered by start time.
//
// Returned records share their ParticipantNames slices with the index and
// must not be modified.
type Index interface {
	// ByTimeWindow returns battles whose start time lies in
	// [center-before, center+after], ordered by start time then battle id.
	// An empty window yields an empty slice, not an error.
	ByTimeWindow(center time.Time, before, after time.Duration) []model.BattleRecord

	// All returns every indexed battle in the same order.
	All() []model.BattleRecord

	// Get returns one battle by id.
	Get(battleID string) (model.BattleRecord, error)

	// Count returns the number of indexed battles.
	Count() int
}
