package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"shorts-sampler/internal/models"

	_ "modernc.org/sqlite"
)

// RecordArchive keeps the full VideoRecords of every run so the exported
// dataset can be rebuilt from scratch. Rows are keyed by video ID and never
// updated.
type RecordArchive struct {
	db   *sql.DB
	path string
}

// OpenArchive opens (or creates) dataDir/records.db.
func OpenArchive(dataDir string) (*RecordArchive, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	path := filepath.Join(dataDir, "records.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer

	if err := initArchiveSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: init schema: %w", err)
	}
	return &RecordArchive{db: db, path: path}, nil
}

func initArchiveSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS records (
		seq          INTEGER PRIMARY KEY AUTOINCREMENT,
		video_id     TEXT NOT NULL UNIQUE,
		tier         TEXT NOT NULL,
		collected_at TEXT NOT NULL,
		data         TEXT NOT NULL
	)`)
	return err
}

func (a *RecordArchive) Path() string {
	return a.path
}

// Append stores the records in one transaction. Records whose ID is already
// archived are skipped.
func (a *RecordArchive) Append(ctx context.Context, records []*models.VideoRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO records (video_id, tier, collected_at, data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("archive: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("archive: encode %s: %w", rec.VideoID, err)
		}
		if _, err := stmt.ExecContext(ctx, rec.VideoID, rec.Tier, rec.CollectedAt.UTC().Format(time.RFC3339), string(data)); err != nil {
			return fmt.Errorf("archive: insert %s: %w", rec.VideoID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}
	return nil
}

// All returns every archived record in insertion order.
func (a *RecordArchive) All(ctx context.Context) ([]*models.VideoRecord, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT data FROM records ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("archive: query: %w", err)
	}
	defer rows.Close()

	var records []*models.VideoRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("archive: scan: %w", err)
		}
		rec := &models.VideoRecord{}
		if err := json.Unmarshal([]byte(data), rec); err != nil {
			return nil, fmt.Errorf("archive: decode row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune deletes every record for which keep returns false and reports how many
// rows were removed.
func (a *RecordArchive) Prune(ctx context.Context, keep func(videoID string) bool) (int, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT video_id FROM records`)
	if err != nil {
		return 0, fmt.Errorf("archive: query ids: %w", err)
	}
	var drop []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("archive: scan id: %w", err)
		}
		if !keep(id) {
			drop = append(drop, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("archive: iterate ids: %w", err)
	}

	for _, id := range drop {
		if _, err := a.db.ExecContext(ctx, `DELETE FROM records WHERE video_id = ?`, id); err != nil {
			return 0, fmt.Errorf("archive: delete %s: %w", id, err)
		}
	}
	return len(drop), nil
}

// Count returns the number of archived records.
func (a *RecordArchive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("archive: count: %w", err)
	}
	return n, nil
}

func (a *RecordArchive) Close() error {
	return a.db.Close()
}
