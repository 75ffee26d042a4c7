package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/30ozSteak/StoryboardR-sub000/internal/models"
)

// SessionRepository persists session metadata. It is an audit surface:
// the processing pipeline works entirely off the filesystem and the
// in-memory job registry, so a nil repository is valid and skipped.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateSession inserts a new session row.
func (r *SessionRepository) CreateSession(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (id, source_url, upload_name, video_path, status, frame_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(
		ctx,
		query,
		session.ID,
		session.SourceURL,
		session.UploadName,
		session.VideoPath,
		session.Status,
		session.FrameCount,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSessionByID retrieves a session by ID. A missing row is reported as
// (nil, nil), not an error.
func (r *SessionRepository) GetSessionByID(ctx context.Context, id string) (*models.Session, error) {
	query := `
		SELECT id, source_url, upload_name, video_path, status, frame_count, created_at, updated_at
		FROM sessions
		WHERE id = $1
	`
	var session models.Session
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.SourceURL,
		&session.UploadName,
		&session.VideoPath,
		&session.Status,
		&session.FrameCount,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// UpdateSessionStatus updates the status and frame count of a session.
func (r *SessionRepository) UpdateSessionStatus(ctx context.Context, id, status string, frameCount int) error {
	query := `
		UPDATE sessions
		SET status = $1, frame_count = $2, updated_at = $3
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, status, frameCount, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return nil
}

// DeleteSession deletes a session row by ID.
func (r *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	query := `DELETE FROM sessions WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListSessions returns sessions newest first.
func (r *SessionRepository) ListSessions(ctx context.Context) ([]*models.Session, error) {
	query := `
		SELECT id, source_url, upload_name, video_path, status, frame_count, created_at, updated_at
		FROM sessions
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var session models.Session
		err := rows.Scan(
			&session.ID,
			&session.SourceURL,
			&session.UploadName,
			&session.VideoPath,
			&session.Status,
			&session.FrameCount,
			&session.CreatedAt,
			&session.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}
