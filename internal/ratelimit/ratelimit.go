package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// JitterLimiter spaces calls at least minDelay apart and adds a random
// extra pause of up to maxDelay-minDelay.
type JitterLimiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	minDelay time.Duration
	maxDelay time.Duration
	jitter   func(n int64) int64
}

func NewJitterLimiter(minDelay, maxDelay time.Duration) *JitterLimiter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &JitterLimiter{
		limiter:  rate.NewLimiter(every(minDelay), 1),
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   rand.Int64N,
	}
}

func (r *JitterLimiter) Wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	extra := r.extraDelay()
	if extra <= 0 {
		return nil
	}

	timer := time.NewTimer(extra)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *JitterLimiter) SetDelay(min, max time.Duration) {
	if max < min {
		max = min
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.minDelay = min
	r.maxDelay = max
	r.limiter.SetLimit(every(min))
}

func (r *JitterLimiter) Delays() (time.Duration, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minDelay, r.maxDelay
}

func (r *JitterLimiter) extraDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	delta := r.maxDelay - r.minDelay
	if delta <= 0 {
		return 0
	}
	return time.Duration(r.jitter(int64(delta)))
}

func every(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// AdaptiveRateLimiter slows down after repeated failures and speeds back
// up after a run of successes.
type AdaptiveRateLimiter struct {
	*JitterLimiter
	floor         time.Duration
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
	stateMu       sync.Mutex
}

func NewAdaptiveRateLimiter(minDelay, maxDelay time.Duration) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		JitterLimiter: NewJitterLimiter(minDelay, maxDelay),
		floor:         minDelay,
		maxErrorCount: 3,
		backoffFactor: 1.5,
	}
}

func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount > 5 {
		min, max := a.Delays()
		newMin := time.Duration(float64(min) * 0.9)
		if newMin < a.floor {
			newMin = a.floor
		}
		a.SetDelay(newMin, max)
		a.successCount = 0
	}
}

func (a *AdaptiveRateLimiter) RecordError() {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount >= a.maxErrorCount {
		min, max := a.Delays()
		newMin := time.Duration(float64(min) * a.backoffFactor)
		newMax := time.Duration(float64(max) * a.backoffFactor)

		if newMin > 60*time.Second {
			newMin = 60 * time.Second
		}
		if newMax > 120*time.Second {
			newMax = 120 * time.Second
		}

		a.SetDelay(newMin, newMax)
		a.errorCount = 0
	}
}
