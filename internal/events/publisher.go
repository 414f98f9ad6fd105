package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/product-image-scraper/internal/database"
	"github.com/maltedev/product-image-scraper/internal/images"
)

type EventType string

const (
	// EventTypeImagesDownloaded is published once per finished download session.
	EventTypeImagesDownloaded EventType = "IMAGES_DOWNLOADED"

	aggregateType = "image_session"
	eventSource   = "image-scraper"
)

// ImagesDownloadedPayload is the body of an IMAGES_DOWNLOADED event.
type ImagesDownloadedPayload struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	SessionID   string    `json:"session_id"`
	JobID       string    `json:"job_id,omitempty"`
	URL         string    `json:"url"`
	ProductName string    `json:"product_name"`
	Folder      string    `json:"folder"`
	FirstImage  string    `json:"first_image,omitempty"`
	Downloaded  int       `json:"downloaded"`
	Skipped     int       `json:"skipped"`
	Total       int       `json:"total"`
	Files       []string  `json:"files,omitempty"`
	Source      string    `json:"source"`
}

type TxRunner interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type SessionWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, s *database.ImageSession) error
}

type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher stores finished sessions and their events through the
// transactional outbox.
type Publisher struct {
	db       TxRunner
	sessions SessionWriter
	outbox   OutboxWriter
	stream   string
	logger   *slog.Logger
}

func NewPublisher(db *database.DB, stream string, logger *slog.Logger) *Publisher {
	return NewPublisherWith(db, database.NewSessionRepository(db), database.NewOutboxRepository(db), stream, logger)
}

// NewPublisherWith wires explicit collaborators.
func NewPublisherWith(db TxRunner, sessions SessionWriter, outbox OutboxWriter, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultStream
	}
	return &Publisher{
		db:       db,
		sessions: sessions,
		outbox:   outbox,
		stream:   stream,
		logger:   logger.With("component", "event_publisher"),
	}
}

// RecordSession inserts the session row and its IMAGES_DOWNLOADED event in
// one transaction.
func (p *Publisher) RecordSession(ctx context.Context, jobID, pageURL string, summary *images.Summary) (*database.ImageSession, error) {
	if summary == nil {
		return nil, fmt.Errorf("failed to record session: nil summary")
	}

	session := &database.ImageSession{
		ID:          uuid.New(),
		JobID:       jobID,
		URL:         pageURL,
		ProductName: summary.ProductName,
		Folder:      summary.Folder,
		FirstImage:  summary.FirstImage,
		Downloaded:  summary.Downloaded,
		Skipped:     summary.Skipped,
		Total:       summary.Total,
		CreatedAt:   time.Now(),
	}

	payload := NewImagesDownloadedPayload(session, summary)
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	event := &database.OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   session.ID.String(),
		EventType:     string(EventTypeImagesDownloaded),
		Payload:       data,
		TargetStream:  p.stream,
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := p.sessions.InsertWithTx(ctx, tx, session); err != nil {
			return err
		}
		return p.outbox.InsertWithTx(ctx, tx, event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("session recorded",
		"session_id", session.ID,
		"event_id", payload.EventID,
		"product", session.ProductName,
		"downloaded", session.Downloaded,
		"outbox_id", event.ID)

	return session, nil
}

func NewImagesDownloadedPayload(session *database.ImageSession, summary *images.Summary) *ImagesDownloadedPayload {
	var files []string
	for _, res := range summary.Results {
		if res.Outcome == images.OutcomeDownloaded {
			files = append(files, res.Path)
		}
	}

	return &ImagesDownloadedPayload{
		EventID:     uuid.New().String(),
		EventType:   string(EventTypeImagesDownloaded),
		Timestamp:   session.CreatedAt,
		SessionID:   session.ID.String(),
		JobID:       session.JobID,
		URL:         session.URL,
		ProductName: session.ProductName,
		Folder:      session.Folder,
		FirstImage:  session.FirstImage,
		Downloaded:  session.Downloaded,
		Skipped:     session.Skipped,
		Total:       session.Total,
		Files:       files,
		Source:      eventSource,
	}
}
