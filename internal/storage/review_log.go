// Package storage persists molt events that need a human look: detections
// below the confidence floor and ecdysis overruns. Alert dedup state is
// deliberately not persisted; it lives with the dispatcher.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/aquamesh/tankguard/internal/model"
)

// ReviewEntry is one flagged event awaiting manual review.
type ReviewEntry struct {
	ID         string     `json:"id"`
	TankID     string     `json:"tank_id"`
	EventID    string     `json:"event_id"`
	SubjectID  string     `json:"subject_id"`
	State      string     `json:"state"`
	Confidence float64    `json:"confidence"`
	Reason     string     `json:"reason"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Note       string     `json:"note,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// ReviewLog defines the review-queue storage operations.
type ReviewLog interface {
	// RecordEvent stores a flagged molt event with the reason it was
	// flagged. Satisfies the risk engine's Reviewer interface.
	RecordEvent(ctx context.Context, reason string, event model.MoltEvent) error

	// List retrieves entries for a tank, newest first.
	List(ctx context.Context, tankID string, offset, limit int) ([]*ReviewEntry, error)

	// Count returns the number of entries for a tank.
	Count(ctx context.Context, tankID string) (int, error)

	// DeleteBefore deletes entries recorded before the given time.
	DeleteBefore(ctx context.Context, before time.Time) error
}

// SQLiteReviewLog implements ReviewLog using SQLite.
type SQLiteReviewLog struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteReviewLog opens (or creates) the review database at dbPath.
func NewSQLiteReviewLog(logger *zap.Logger, dbPath string) (*SQLiteReviewLog, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	log := &SQLiteReviewLog{
		logger: logger.Named("review-log"),
		db:     db,
	}

	if err := log.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return log, nil
}

// initialize creates the necessary tables if they don't exist.
func (s *SQLiteReviewLog) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS molt_review (
			id TEXT PRIMARY KEY,
			tank_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			subject_id TEXT,
			state TEXT NOT NULL,
			confidence REAL NOT NULL,
			reason TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			note TEXT,
			recorded_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_molt_review_tank_id ON molt_review(tank_id);
		CREATE INDEX IF NOT EXISTS idx_molt_review_event_id ON molt_review(event_id);
		CREATE INDEX IF NOT EXISTS idx_molt_review_recorded_at ON molt_review(recorded_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// RecordEvent implements ReviewLog.RecordEvent.
func (s *SQLiteReviewLog) RecordEvent(ctx context.Context, reason string, event model.MoltEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO molt_review (
			id, tank_id, event_id, subject_id, state, confidence, reason,
			started_at, ended_at, note, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(),
		event.TankID,
		event.ID,
		sql.NullString{String: event.SubjectID, Valid: event.SubjectID != ""},
		string(event.State),
		event.Confidence,
		reason,
		event.StartedAt,
		sql.NullTime{Time: derefTime(event.EndedAt), Valid: event.EndedAt != nil},
		sql.NullString{String: event.Note, Valid: event.Note != ""},
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record review entry: %w", err)
	}

	s.logger.Info("Event recorded for review",
		zap.String("event_id", event.ID),
		zap.String("tank_id", event.TankID),
		zap.String("reason", reason))
	return nil
}

// List implements ReviewLog.List.
func (s *SQLiteReviewLog) List(ctx context.Context, tankID string, offset, limit int) ([]*ReviewEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tank_id, event_id, subject_id, state, confidence, reason,
			started_at, ended_at, note, recorded_at
		FROM molt_review
		WHERE tank_id = ?
		ORDER BY recorded_at DESC
		LIMIT ? OFFSET ?`, tankID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list review entries: %w", err)
	}
	defer rows.Close()

	var entries []*ReviewEntry
	for rows.Next() {
		entry := &ReviewEntry{}
		var subjectID, note sql.NullString
		var endedAt sql.NullTime

		err := rows.Scan(
			&entry.ID,
			&entry.TankID,
			&entry.EventID,
			&subjectID,
			&entry.State,
			&entry.Confidence,
			&entry.Reason,
			&entry.StartedAt,
			&endedAt,
			&note,
			&entry.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review entry: %w", err)
		}

		if subjectID.Valid {
			entry.SubjectID = subjectID.String
		}
		if endedAt.Valid {
			entry.EndedAt = &endedAt.Time
		}
		if note.Valid {
			entry.Note = note.String
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return entries, nil
}

// Count implements ReviewLog.Count.
func (s *SQLiteReviewLog) Count(ctx context.Context, tankID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM molt_review WHERE tank_id = ?", tankID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count review entries: %w", err)
	}
	return count, nil
}

// DeleteBefore implements ReviewLog.DeleteBefore.
func (s *SQLiteReviewLog) DeleteBefore(ctx context.Context, before time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM molt_review WHERE recorded_at < ?", before)
	if err != nil {
		return fmt.Errorf("failed to delete review entries: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected > 0 {
		s.logger.Info("Purged old review entries",
			zap.Time("before", before),
			zap.Int64("deleted", affected))
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteReviewLog) Close() error {
	return s.db.Close()
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
