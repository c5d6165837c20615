package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/okian/replaylink/internal/domain/model"
	"github.com/okian/replaylink/pkg/logger"
)

// battleTimeLayouts are the start time forms seen in the battles table.
var battleTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseBattleTime parses a stored battle start time. Bare unix seconds are
// accepted too. Times without a zone are taken as UTC.
func ParseBattleTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range battleTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized battle timestamp %q", raw)
}

// LoadStats describes data quality problems seen while loading battles.
type LoadStats struct {
	Battles            int
	Participants       int
	OrphanParticipants int // rows naming a battle not in battles
	BadTimestamps      int
	EmptyRosters       int
}

// LoadBattles reads every battle with its participants.
func (s *Store) LoadBattles(ctx context.Context) ([]model.BattleRecord, LoadStats, error) {
	var stats LoadStats

	rows, err := s.db.QueryContext(ctx, `SELECT battle_id, timestamp, map_name FROM battles`)
	if err != nil {
		return nil, stats, fmt.Errorf("query battles: %w", err)
	}
	byID := make(map[string]*model.BattleRecord)
	for rows.Next() {
		var (
			id, ts  string
			mapName sql.NullString
		)
		if err := rows.Scan(&id, &ts, &mapName); err != nil {
			_ = rows.Close()
			return nil, stats, fmt.Errorf("scan battle: %w", err)
		}
		start, err := ParseBattleTime(ts)
		if err != nil {
			stats.BadTimestamps++
			s.log.Debug(ctx, "skipping battle with bad timestamp", logger.String("battle_id", id), logger.Error(err))
			continue
		}
		byID[id] = &model.BattleRecord{BattleID: id, StartTime: start, MapName: mapName.String}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, stats, fmt.Errorf("iterate battles: %w", err)
	}
	_ = rows.Close()

	prows, err := s.db.QueryContext(ctx, `SELECT battle_id, player_name FROM battle_participants ORDER BY battle_id, player_name`)
	if err != nil {
		return nil, stats, fmt.Errorf("query participants: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var id string
		var name sql.NullString
		if err := prows.Scan(&id, &name); err != nil {
			return nil, stats, fmt.Errorf("scan participant: %w", err)
		}
		if strings.TrimSpace(name.String) == "" {
			continue
		}
		rec, ok := byID[id]
		if !ok {
			stats.OrphanParticipants++
			continue
		}
		rec.ParticipantNames = append(rec.ParticipantNames, name.String)
		stats.Participants++
	}
	if err := prows.Err(); err != nil {
		return nil, stats, fmt.Errorf("iterate participants: %w", err)
	}

	out := make([]model.BattleRecord, 0, len(byID))
	for _, rec := range byID {
		if len(rec.ParticipantNames) == 0 {
			stats.EmptyRosters++
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BattleID < out[j].BattleID })
	stats.Battles = len(out)

	if stats.OrphanParticipants > 0 || stats.BadTimestamps > 0 {
		s.log.Warn(ctx, "battle data has problems",
			logger.Int("orphan_participants", stats.OrphanParticipants),
			logger.Int("bad_timestamps", stats.BadTimestamps))
	}
	return out, stats, nil
}

// UpsertBattles writes battles and their participants in one transaction.
// Existing battles keep participants already recorded.
func (s *Store) UpsertBattles(ctx context.Context, battles []model.BattleRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin battles tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range battles {
		b := &battles[i]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO battles (battle_id, timestamp, map_name) VALUES (?, ?, ?)
			 ON CONFLICT(battle_id) DO UPDATE SET timestamp = excluded.timestamp, map_name = excluded.map_name`,
			b.BattleID, b.StartTime.UTC().Format(time.RFC3339Nano), nullableString(b.MapName),
		); err != nil {
			return fmt.Errorf("upsert battle %s: %w", b.BattleID, err)
		}
		for _, name := range b.ParticipantNames {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO battle_participants (battle_id, player_name) VALUES (?, ?)`,
				b.BattleID, name,
			); err != nil {
				return fmt.Errorf("insert participant %s/%s: %w", b.BattleID, name, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit battles: %w", err)
	}
	return nil
}

func nullableString(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
