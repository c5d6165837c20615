package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/okian/replaylink/internal/domain/model"
)

// LinkRecord is a persisted video to battle link.
type LinkRecord struct {
	model.VideoBattleLink
	RunID     string
	UpdatedAt time.Time
}

// ReplaceVideoLinks writes one video's links in a single transaction. The
// video row is upserted, prior links with the same (video_id, battle_id)
// are removed (every prior link of the video when prune is set), and the
// new links are inserted. Readers never see a half-written video.
func (s *Store) ReplaceVideoLinks(ctx context.Context, video model.Video, links []model.VideoBattleLink, runID string, prune bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin links tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO videos (video_id, upload_date, title, uploader) VALUES (?, ?, ?, ?)
		 ON CONFLICT(video_id) DO UPDATE SET
		   upload_date = COALESCE(excluded.upload_date, videos.upload_date),
		   title = COALESCE(excluded.title, videos.title),
		   uploader = COALESCE(excluded.uploader, videos.uploader)`,
		video.VideoID, nullableString(video.UploadDate), nullableString(video.Title), nullableString(video.Uploader),
	); err != nil {
		return fmt.Errorf("upsert video %s: %w", video.VideoID, err)
	}

	if prune {
		if _, err := tx.ExecContext(ctx, `DELETE FROM video_battle_links WHERE video_id = ?`, video.VideoID); err != nil {
			return fmt.Errorf("prune links for %s: %w", video.VideoID, err)
		}
	} else {
		cleared := make(map[string]struct{}, len(links))
		for _, l := range links {
			if _, ok := cleared[l.BattleID]; ok {
				continue
			}
			cleared[l.BattleID] = struct{}{}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM video_battle_links WHERE video_id = ? AND battle_id = ?`,
				video.VideoID, l.BattleID,
			); err != nil {
				return fmt.Errorf("clear links %s/%s: %w", video.VideoID, l.BattleID, err)
			}
		}
	}

	updated := s.now().UTC().Format(time.RFC3339Nano)
	for _, l := range links {
		if l.VideoID != video.VideoID {
			return fmt.Errorf("link for %s in group %s", l.VideoID, video.VideoID)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO video_battle_links (
				video_id, battle_id, representative_timestamp, score, ambiguous,
				ocr_player_count, battle_player_count, run_id, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.VideoID, l.BattleID, l.RepresentativeTimestamp, l.Score, boolToInt(l.Ambiguous),
			l.ObservedCount, l.RosterCount, runID, updated,
		); err != nil {
			return fmt.Errorf("insert link %s/%s@%d: %w", l.VideoID, l.BattleID, l.RepresentativeTimestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit links for %s: %w", video.VideoID, err)
	}
	return nil
}

// ListLinks returns persisted links ordered by video then timestamp. An
// empty videoID lists every video.
func (s *Store) ListLinks(ctx context.Context, videoID string) ([]LinkRecord, error) {
	query := `SELECT video_id, battle_id, representative_timestamp, score, ambiguous,
		ocr_player_count, battle_player_count, run_id, updated_at
		FROM video_battle_links`
	var args []any
	if videoID != "" {
		query += ` WHERE video_id = ?`
		args = append(args, videoID)
	}
	query += ` ORDER BY video_id, representative_timestamp, battle_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	var out []LinkRecord
	for rows.Next() {
		rec, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return out, nil
}

func scanLink(rows *sql.Rows) (LinkRecord, error) {
	var (
		rec       LinkRecord
		ambiguous int
		updated   string
	)
	if err := rows.Scan(
		&rec.VideoID, &rec.BattleID, &rec.RepresentativeTimestamp, &rec.Score, &ambiguous,
		&rec.ObservedCount, &rec.RosterCount, &rec.RunID, &updated,
	); err != nil {
		return LinkRecord{}, fmt.Errorf("scan link: %w", err)
	}
	rec.Ambiguous = ambiguous != 0
	if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		rec.UpdatedAt = t
	}
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
