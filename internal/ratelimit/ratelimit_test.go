package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJitterLimiter_Wait(t *testing.T) {
	t.Run("spaces calls by min delay", func(t *testing.T) {
		l := NewJitterLimiter(50*time.Millisecond, 50*time.Millisecond)
		ctx := context.Background()

		start := time.Now()
		require.NoError(t, l.Wait(ctx))
		require.NoError(t, l.Wait(ctx))
		require.NoError(t, l.Wait(ctx))

		assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	})

	t.Run("zero delay never blocks", func(t *testing.T) {
		l := NewJitterLimiter(0, 0)
		ctx := context.Background()

		start := time.Now()
		for i := 0; i < 100; i++ {
			require.NoError(t, l.Wait(ctx))
		}
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("jitter is added", func(t *testing.T) {
		l := NewJitterLimiter(0, time.Second)
		l.jitter = func(n int64) int64 { return int64(30 * time.Millisecond) }

		start := time.Now()
		require.NoError(t, l.Wait(context.Background()))
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	})

	t.Run("cancelled context", func(t *testing.T) {
		l := NewJitterLimiter(time.Hour, time.Hour)
		require.NoError(t, l.Wait(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.Error(t, l.Wait(ctx))
	})
}

func TestJitterLimiter_SetDelay(t *testing.T) {
	l := NewJitterLimiter(time.Second, 2*time.Second)
	l.SetDelay(3*time.Second, time.Second)

	min, max := l.Delays()
	assert.Equal(t, 3*time.Second, min)
	assert.Equal(t, 3*time.Second, max, "max is clamped to min")
}

func TestAdaptiveRateLimiter(t *testing.T) {
	t.Run("backs off after repeated errors", func(t *testing.T) {
		a := NewAdaptiveRateLimiter(2*time.Second, 4*time.Second)

		a.RecordError()
		a.RecordError()
		min, _ := a.Delays()
		assert.Equal(t, 2*time.Second, min)

		a.RecordError()
		min, max := a.Delays()
		assert.Equal(t, 3*time.Second, min)
		assert.Equal(t, 6*time.Second, max)
	})

	t.Run("recovers but never below the initial delay", func(t *testing.T) {
		a := NewAdaptiveRateLimiter(2*time.Second, 4*time.Second)
		for i := 0; i < 3; i++ {
			a.RecordError()
		}

		for i := 0; i < 60; i++ {
			a.RecordSuccess()
		}
		min, _ := a.Delays()
		assert.Equal(t, 2*time.Second, min)
	})

	t.Run("caps backoff", func(t *testing.T) {
		a := NewAdaptiveRateLimiter(50*time.Second, 100*time.Second)
		for i := 0; i < 30; i++ {
			a.RecordError()
		}
		min, max := a.Delays()
		assert.Equal(t, 60*time.Second, min)
		assert.Equal(t, 120*time.Second, max)
	})
}
