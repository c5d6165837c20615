package repository

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/okian/replaylink/internal/domain/model"
	"github.com/okian/replaylink/pkg/logger"
	"github.com/okian/replaylink/pkg/metrics"
)

// Treap-based roster index.
//
// Ordering: start time ASC, then battle id ASC (deterministic).
// In-order traversal yields battles oldest first. Priorities come from a
// hash of the battle id so the tree shape does not depend on insert order.

type node struct {
	start int64 // unix nanos
	id    string
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aStart, aID) sorts before (bStart, bID).
func less(aStart int64, aID string, bStart int64, bID string) bool {
	if aStart != bStart {
		return aStart < bStart
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

func idToPriority(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

func insert(n *node, start int64, id string) *node {
	if n == nil {
		return &node{start: start, id: id, prio: idToPriority(id), size: 1}
	}
	if less(start, id, n.start, n.id) {
		n.left = insert(n.left, start, id)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, start, id)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, start int64, id string) *node {
	if n == nil {
		return nil
	}
	if start == n.start && id == n.id {
		// Merge children by rotating highest priority up until leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, start, id)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, start, id)
		}
	} else if less(start, id, n.start, n.id) {
		n.left = deleteNode(n.left, start, id)
	} else {
		n.right = deleteNode(n.right, start, id)
	}
	fix(n)
	return n
}

func clone(n *node) *node {
	if n == nil {
		return nil
	}
	c := *n
	c.left = clone(n.left)
	c.right = clone(n.right)
	return &c
}

// collectRange appends records with lo <= start <= hi in order, skipping
// subtrees that cannot intersect the range.
func collectRange(n *node, lo, hi int64, byID map[string]model.BattleRecord, out *[]model.BattleRecord) {
	if n == nil {
		return
	}
	if n.start >= lo {
		collectRange(n.left, lo, hi, byID, out)
	}
	if n.start >= lo && n.start <= hi {
		*out = append(*out, byID[n.id])
	}
	if n.start <= hi {
		collectRange(n.right, lo, hi, byID, out)
	}
}

// countBelow returns how many keys have start < t in O(log n).
func countBelow(n *node, t int64) int {
	count := 0
	for n != nil {
		if n.start < t {
			count += 1 + nsize(n.left)
			n = n.right
		} else {
			n = n.left
		}
	}
	return count
}

// Builder accumulates battles before a matching run. A later battle with
// the same id replaces the earlier one.
type Builder struct {
	mu      sync.Mutex
	root    *node
	byID    map[string]model.BattleRecord
	skipped int
	log     logger.Logger
}

// NewBuilder creates an empty Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		byID: make(map[string]model.BattleRecord),
		log:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add indexes one battle in O(log n) expected time. Records failing
// validation, including empty rosters, are rejected and counted.
func (b *Builder) Add(rec model.BattleRecord) error {
	if err := rec.Validate(); err != nil {
		b.mu.Lock()
		b.skipped++
		b.mu.Unlock()
		return err
	}

	rec.StartTime = rec.StartTime.UTC()
	start := rec.StartTime.UnixNano()

	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.byID[rec.BattleID]; ok {
		b.root = deleteNode(b.root, old.StartTime.UnixNano(), old.BattleID)
	}
	b.byID[rec.BattleID] = rec
	b.root = insert(b.root, start, rec.BattleID)
	return nil
}

// Skipped returns how many records Add rejected.
func (b *Builder) Skipped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.skipped
}

// Build freezes the current contents into an immutable index. It returns
// ErrIndexUnavailable when nothing usable was added.
func (b *Builder) Build(ctx context.Context) (*TreapIndex, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.byID) == 0 {
		return nil, fmt.Errorf("%w: no battles with participants (%d skipped)", ErrIndexUnavailable, b.skipped)
	}

	byID := make(map[string]model.BattleRecord, len(b.byID))
	for id, rec := range b.byID {
		byID[id] = rec
	}
	idx := &TreapIndex{root: clone(b.root), byID: byID}

	metrics.UpdateIndexBattles(idx.Count())
	b.log.Info(ctx, "roster index built",
		logger.Int("battles", idx.Count()),
		logger.Int("skipped", b.skipped))
	return idx, nil
}

// TreapIndex is an immutable Index. Safe for concurrent readers without locks.
type TreapIndex struct {
	root *node
	byID map[string]model.BattleRecord
}

var _ Index = (*TreapIndex)(nil)

// ByTimeWindow implements Index.ByTimeWindow in O(log n + k).
func (t *TreapIndex) ByTimeWindow(center time.Time, before, after time.Duration) []model.BattleRecord {
	if before < 0 || after < 0 {
		return []model.BattleRecord{}
	}
	lo, hi := unixNanos(center.Add(-before)), unixNanos(center.Add(after))
	out := make([]model.BattleRecord, 0, t.countWindow(lo, hi))
	collectRange(t.root, lo, hi, t.byID, &out)
	return out
}

// CountWindow returns len(ByTimeWindow(center, before, after)) without
// materializing the records.
func (t *TreapIndex) CountWindow(center time.Time, before, after time.Duration) int {
	if before < 0 || after < 0 {
		return 0
	}
	return t.countWindow(unixNanos(center.Add(-before)), unixNanos(center.Add(after)))
}

var (
	minNanoTime = time.Unix(0, math.MinInt64)
	maxNanoTime = time.Unix(0, math.MaxInt64)
)

// unixNanos is t.UnixNano clamped to the int64 range, so window bounds far
// outside 1678..2262 still order correctly.
func unixNanos(t time.Time) int64 {
	switch {
	case t.Before(minNanoTime):
		return math.MinInt64
	case t.After(maxNanoTime):
		return math.MaxInt64
	}
	return t.UnixNano()
}

func (t *TreapIndex) countWindow(lo, hi int64) int {
	if hi < lo {
		return 0
	}
	if hi == math.MaxInt64 {
		return t.Count() - countBelow(t.root, lo)
	}
	return countBelow(t.root, hi+1) - countBelow(t.root, lo)
}

// All returns every battle ordered by start time then id.
func (t *TreapIndex) All() []model.BattleRecord {
	out := make([]model.BattleRecord, 0, t.Count())
	collectRange(t.root, math.MinInt64, math.MaxInt64, t.byID, &out)
	return out
}

// Get returns one battle by id or ErrNotFound.
func (t *TreapIndex) Get(battleID string) (model.BattleRecord, error) {
	rec, ok := t.byID[battleID]
	if !ok {
		return model.BattleRecord{}, fmt.Errorf("%w: %s", ErrNotFound, battleID)
	}
	return rec, nil
}

// Count returns the number of indexed battles.
func (t *TreapIndex) Count() int {
	return nsize(t.root)
}
