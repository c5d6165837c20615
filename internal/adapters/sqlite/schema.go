package sqlite

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS battles (
		battle_id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		map_name TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS battle_participants (
		battle_id TEXT NOT NULL,
		player_name TEXT NOT NULL,
		PRIMARY KEY (battle_id, player_name)
	)`,
	`CREATE TABLE IF NOT EXISTS videos (
		video_id TEXT PRIMARY KEY,
		upload_date TEXT,
		title TEXT,
		uploader TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS video_battle_links (
		video_id TEXT NOT NULL,
		battle_id TEXT NOT NULL,
		representative_timestamp INTEGER NOT NULL,
		score REAL NOT NULL,
		ambiguous INTEGER NOT NULL DEFAULT 0,
		ocr_player_count INTEGER NOT NULL DEFAULT 0,
		battle_player_count INTEGER NOT NULL DEFAULT 0,
		run_id TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (video_id, battle_id, representative_timestamp),
		FOREIGN KEY (video_id) REFERENCES videos (video_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_video_battle_links_battle ON video_battle_links (battle_id)`,
}

func (s *Store) ensureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}
