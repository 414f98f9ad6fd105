package database

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to the database described by the DB_* variables.
// Run with INTEGRATION_TEST=true against a disposable database.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	port, _ := strconv.Atoi(os.Getenv("DB_PORT"))
	if port == 0 {
		port = 5432
	}
	cfg := Config{
		Host:     os.Getenv("DB_HOST"),
		Port:     port,
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
		Database: os.Getenv("DB_NAME"),
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := New(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, db.EnsureSchema(ctx))

	_, err = db.Exec(ctx, `TRUNCATE image_sessions, outbox_event`)
	require.NoError(t, err)

	return db
}

func TestOutboxRepository_InsertAndRelayLifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	sessions := NewSessionRepository(db)
	outbox := NewOutboxRepository(db)

	session := &ImageSession{
		URL:         "https://shop.example/produit/chaise-oslo",
		ProductName: "Chaise Oslo",
		Folder:      "/tmp/images/Chaise_Oslo",
		FirstImage:  "/tmp/images/Chaise_Oslo/photo.jpg",
		Downloaded:  3,
		Skipped:     2,
		Total:       5,
	}
	event := &OutboxEvent{
		AggregateType: "image_session",
		EventType:     "IMAGES_DOWNLOADED",
		Payload:       json.RawMessage(`{"downloaded":3}`),
	}

	err := db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := sessions.InsertWithTx(ctx, tx, session); err != nil {
			return err
		}
		event.AggregateID = session.ID.String()
		return outbox.InsertWithTx(ctx, tx, event)
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultStream, event.TargetStream)
	assert.Equal(t, OutboxStatusPending, event.Status)

	pending, err := outbox.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, session.ID.String(), pending[0].AggregateID)

	listed, err := sessions.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "Chaise Oslo", listed[0].ProductName)
	assert.Equal(t, 3, listed[0].Downloaded)

	require.NoError(t, outbox.MarkFailed(ctx, event.ID, errors.New("redis down")))
	count, dead, err := outbox.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, int64(0), dead)

	require.NoError(t, outbox.MarkProcessed(ctx, event.ID))
	count, _, err = outbox.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	assert.Error(t, outbox.MarkProcessed(ctx, uuid.New()))
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	sessions := NewSessionRepository(db)
	boom := errors.New("boom")

	err := db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := sessions.InsertWithTx(ctx, tx, &ImageSession{URL: "https://shop.example/p", ProductName: "p", Folder: "f"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	listed, err := sessions.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestOutboxRepository_DeadLetter(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	outbox := NewOutboxRepository(db)
	event := &OutboxEvent{
		AggregateType: "image_session",
		AggregateID:   uuid.NewString(),
		EventType:     "IMAGES_DOWNLOADED",
		Payload:       json.RawMessage(`{}`),
	}
	require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
		return outbox.InsertWithTx(ctx, tx, event)
	}))

	for range MaxRetryCount {
		require.NoError(t, outbox.MarkFailed(ctx, event.ID, errors.New("unreachable")))
	}

	_, dead, err := outbox.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)
}
