package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ImageSession is the stored outcome of one download session.
type ImageSession struct {
	ID          uuid.UUID `json:"id"`
	JobID       string    `json:"job_id,omitempty"`
	URL         string    `json:"url"`
	ProductName string    `json:"product_name"`
	Folder      string    `json:"folder"`
	FirstImage  string    `json:"first_image,omitempty"`
	Downloaded  int       `json:"downloaded"`
	Skipped     int       `json:"skipped"`
	Total       int       `json:"total"`
	CreatedAt   time.Time `json:"created_at"`
}

type SessionRepository struct {
	db *DB
}

func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, s *ImageSession) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO image_sessions (
			id, job_id, url, product_name, folder, first_image,
			downloaded, skipped, total, created_at
		) VALUES (
			$1, NULLIF($2, ''), $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10
		)`

	_, err := tx.Exec(ctx, query,
		s.ID, s.JobID, s.URL, s.ProductName, s.Folder, s.FirstImage,
		s.Downloaded, s.Skipped, s.Total, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert image session: %w", err)
	}

	return nil
}

// List returns the most recent sessions first.
func (r *SessionRepository) List(ctx context.Context, limit int) ([]*ImageSession, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, COALESCE(job_id, ''), url, product_name, folder,
		       COALESCE(first_image, ''), downloaded, skipped, total, created_at
		FROM image_sessions
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list image sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*ImageSession
	for rows.Next() {
		s := &ImageSession{}
		if err := rows.Scan(
			&s.ID, &s.JobID, &s.URL, &s.ProductName, &s.Folder,
			&s.FirstImage, &s.Downloaded, &s.Skipped, &s.Total, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan image session: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return sessions, nil
}
