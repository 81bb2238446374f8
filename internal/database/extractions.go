package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Extraction records one subtitle stream written to a sidecar file
type Extraction struct {
	ID            int64     `json:"id"`
	RunID         *int64    `json:"run_id,omitempty"`
	ItemID        string    `json:"item_id"`
	ItemName      string    `json:"item_name"`
	MediaSourceID string    `json:"media_source_id"`
	StreamIndex   int       `json:"stream_index"`
	Codec         string    `json:"codec"`
	Language      string    `json:"language,omitempty"`
	Output        string    `json:"output"`
	SizeBytes     int64     `json:"size_bytes"`
	ExtractedAt   time.Time `json:"extracted_at"`
}

// UpsertExtraction records an extracted stream, replacing any earlier record of the same stream
func (db *db) UpsertExtraction(e *Extraction) error {
	if e.ExtractedAt.IsZero() {
		e.ExtractedAt = time.Now().UTC()
	}

	_, err := db.exec(`
		INSERT INTO extractions (run_id, item_id, item_name, media_source_id, stream_index, codec, language, output, size_bytes, extracted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(media_source_id, stream_index) DO UPDATE SET
			run_id = excluded.run_id,
			item_id = excluded.item_id,
			item_name = excluded.item_name,
			codec = excluded.codec,
			language = excluded.language,
			output = excluded.output,
			size_bytes = excluded.size_bytes,
			extracted_at = excluded.extracted_at
	`, int64PtrToNull(e.RunID), e.ItemID, e.ItemName, e.MediaSourceID, e.StreamIndex, e.Codec,
		stringToNull(e.Language), e.Output, e.SizeBytes, e.ExtractedAt)
	if err != nil {
		return fmt.Errorf("failed to record extraction for %s:%d: %w", e.MediaSourceID, e.StreamIndex, err)
	}
	return nil
}

// ListExtractions returns the most recent extractions first. runID 0 lists across all runs.
func (db *db) ListExtractions(runID int64, limit int) ([]*Extraction, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, run_id, item_id, item_name, media_source_id, stream_index, codec, language, output, size_bytes, extracted_at FROM extractions`
	args := []any{}
	if runID > 0 {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY extracted_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list extractions: %w", err)
	}
	defer rows.Close()

	out := []*Extraction{}
	for rows.Next() {
		var e Extraction
		var runIDVal sql.NullInt64
		var language sql.NullString
		if err := rows.Scan(&e.ID, &runIDVal, &e.ItemID, &e.ItemName, &e.MediaSourceID, &e.StreamIndex,
			&e.Codec, &language, &e.Output, &e.SizeBytes, &e.ExtractedAt); err != nil {
			return nil, fmt.Errorf("failed to scan extraction: %w", err)
		}
		if runIDVal.Valid {
			id := runIDVal.Int64
			e.RunID = &id
		}
		e.Language = nullStringValue(language)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// CountExtractions returns how many streams a run extracted
func (db *db) CountExtractions(runID int64) (int, error) {
	var n int
	if err := db.queryRow(`SELECT COUNT(*) FROM extractions WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count extractions: %w", err)
	}
	return n, nil
}
