// Package intake turns messages on a Redis stream into download jobs.
//
// A message either carries a JSON request in its "data" field or flat
// fields: url (required), selector, parent_dir, user_agent, priority.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/product-image-scraper/internal/images"
	"github.com/maltedev/product-image-scraper/internal/jobs"
	"github.com/redis/go-redis/v9"
)

var (
	ErrMissingURL = errors.New("message has no url")
	errBadPayload = errors.New("malformed request payload")
)

type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

type JobCreator interface {
	CreateJob(ctx context.Context, req jobs.Request) (*jobs.Job, error)
}

type Config struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
	Count    int64
}

type Consumer struct {
	redis  StreamClient
	jobs   JobCreator
	cfg    Config
	logger *slog.Logger
	// pause between read retries after a Redis error
	backoff time.Duration
}

func NewConsumer(client StreamClient, creator JobCreator, cfg Config, logger *slog.Logger) *Consumer {
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	return &Consumer{
		redis:   client,
		jobs:    creator,
		cfg:     cfg,
		logger:  logger.With("component", "intake", "stream", cfg.Stream),
		backoff: time.Second,
	}
}

// Run reads the stream until ctx is done. Messages are acknowledged once a
// job exists for them, or when they can never become one.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "group", c.cfg.Group, "consumer", c.cfg.Consumer)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.Count,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.handle(ctx, msg)
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) {
	logger := c.logger.With("message_id", msg.ID)

	req, err := ParseRequest(msg.Values)
	if err == nil {
		var job *jobs.Job
		job, err = c.jobs.CreateJob(ctx, req)
		if err == nil {
			logger.Info("job queued from stream", "job_id", job.ID, "url", req.URL)
		}
	}

	if err != nil && !permanent(err) {
		// left pending for redelivery
		logger.Error("failed to queue job", "error", err)
		return
	}
	if err != nil {
		logger.Warn("dropping unusable message", "error", err)
	}

	if err := c.redis.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		logger.Error("failed to acknowledge message", "error", err)
	}
}

func permanent(err error) bool {
	return errors.Is(err, ErrMissingURL) || errors.Is(err, images.ErrInvalidURL) || errors.Is(err, errBadPayload)
}

// ParseRequest builds a job request from stream message fields.
func ParseRequest(values map[string]any) (jobs.Request, error) {
	var req jobs.Request

	if data, ok := values["data"].(string); ok && data != "" {
		if err := json.Unmarshal([]byte(data), &req); err != nil {
			return req, fmt.Errorf("%w: %v", errBadPayload, err)
		}
	} else {
		req.URL = field(values, "url")
		req.Selector = field(values, "selector")
		req.ParentDir = field(values, "parent_dir")
		req.UserAgent = field(values, "user_agent")
		if p := field(values, "priority"); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil {
				return req, fmt.Errorf("%w: priority %q", errBadPayload, p)
			}
			req.Priority = n
		}
	}

	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		return req, ErrMissingURL
	}
	return req, nil
}

func field(values map[string]any, key string) string {
	s, _ := values[key].(string)
	return strings.TrimSpace(s)
}
