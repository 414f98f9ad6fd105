package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StreamWriter is the part of *redis.Client the relay writes through.
type StreamWriter interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// OutboxStore is satisfied by *OutboxRepository.
type OutboxStore interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxLen caps each target stream (approximate trim); zero keeps everything.
	MaxLen int64
}

// RelayStats counts relay activity since the process started.
type RelayStats struct {
	Relayed uint64    `json:"relayed"`
	Failed  uint64    `json:"failed"`
	LastRun time.Time `json:"last_run"`
}

// Relay moves committed outbox rows onto Redis streams.
type Relay struct {
	store  OutboxStore
	stream StreamWriter
	cfg    RelayConfig
	logger *slog.Logger

	relayed atomic.Uint64
	failed  atomic.Uint64
	lastRun atomic.Int64
}

func NewRelay(store OutboxStore, stream StreamWriter, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Relay{
		store:  store,
		stream: stream,
		cfg:    cfg,
		logger: logger.With("component", "relay"),
	}
}

// Run drains the outbox until ctx is done. A drain that fills a whole
// batch is followed by another one straight away instead of waiting for
// the next poll.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("relay started", "poll_interval", r.cfg.PollInterval, "batch_size", r.cfg.BatchSize)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped", "relayed", r.relayed.Load(), "failed", r.failed.Load())
			return ctx.Err()
		case <-timer.C:
		}

		wait := r.cfg.PollInterval
		n, err := r.Drain(ctx)
		switch {
		case err != nil:
			r.logger.Error("outbox drain failed", "error", err)
		case n == r.cfg.BatchSize:
			wait = 0
		}
		timer.Reset(wait)
	}
}

// Drain relays one batch of due events and returns how many were read.
// A failed publish is recorded on its row and does not stop the batch.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	r.lastRun.Store(time.Now().UnixNano())

	events, err := r.store.GetPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read outbox: %w", err)
	}

	for _, event := range events {
		logger := r.logger.With("event_id", event.ID, "session_id", event.AggregateID)

		id, err := r.publish(ctx, event)
		if err != nil {
			r.failed.Add(1)
			logger.Warn("publish failed", "attempt", event.RetryCount+1, "error", err)
			if err := r.store.MarkFailed(ctx, event.ID, err); err != nil {
				logger.Error("failed to record publish failure", "error", err)
			}
			continue
		}

		if err := r.store.MarkProcessed(ctx, event.ID); err != nil {
			// already on the stream; the next drain publishes it again
			// under the same event_id
			logger.Error("failed to mark event processed", "stream_id", id, "error", err)
			continue
		}
		r.relayed.Add(1)
		logger.Debug("event relayed", "stream", event.TargetStream, "stream_id", id)
	}

	return len(events), nil
}

func (r *Relay) Stats() RelayStats {
	stats := RelayStats{Relayed: r.relayed.Load(), Failed: r.failed.Load()}
	if ns := r.lastRun.Load(); ns != 0 {
		stats.LastRun = time.Unix(0, ns)
	}
	return stats
}

func (r *Relay) publish(ctx context.Context, event *OutboxEvent) (string, error) {
	values, err := StreamValues(event)
	if err != nil {
		return "", err
	}

	args := &redis.XAddArgs{Stream: event.TargetStream, Values: values}
	if r.cfg.MaxLen > 0 {
		args.MaxLen = r.cfg.MaxLen
		args.Approx = true
	}

	id, err := r.stream.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to redis: %w", err)
	}
	return id, nil
}

// sessionFields are copied from the payload onto the stream entry so
// consumers can route on them without decoding data.
var sessionFields = []string{"url", "product_name", "folder", "first_image", "downloaded", "skipped", "total"}

// StreamValues builds the stream entry for an outbox event: the raw
// payload under "data", event identity, and the flat session fields.
func StreamValues(event *OutboxEvent) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(event.Payload))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("invalid payload for event %s: %w", event.ID, err)
	}

	values := map[string]any{
		"data":       string(event.Payload),
		"event_id":   event.ID.String(),
		"event_type": event.EventType,
		"session_id": event.AggregateID,
		"attempt":    strconv.Itoa(event.RetryCount + 1),
		"created_at": event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	for _, key := range sessionFields {
		switch v := payload[key].(type) {
		case string:
			if v != "" {
				values[key] = v
			}
		case json.Number:
			values[key] = v.String()
		}
	}
	return values, nil
}
