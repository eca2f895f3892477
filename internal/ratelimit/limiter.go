// Package ratelimit provides hybrid rate limiting for the vault subsystem:
// an optimistic shared-cache fast path backed by a durable, transactional
// time-bucketed counter store. The durable store is the system of record;
// the cache only accelerates the common allow case.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/altexo/walletvault/internal/vault/config"
)

// BucketStore is the durable counter backend, implemented by the repository.
type BucketStore interface {
	IncrementBucket(ctx context.Context, subject, endpoint string, periodStart time.Time, limit int) (allowed bool, count int, err error)
	GetBucket(ctx context.Context, subject, endpoint string, periodStart time.Time) (int, error)
	DeleteBucketsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cache is the fast-path counter. Implementations need no cross-host
// consistency; a miss or error falls through to the durable store.
type Cache interface {
	// IncrWithTTL increments key and sets ttl on first touch, returning the
	// post-increment value.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns the current value and whether the key exists.
	Get(ctx context.Context, key string) (int64, bool, error)
}

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter answers whether a (subject, endpoint) request fits in the current
// time window.
type Limiter struct {
	store  BucketStore
	cache  Cache
	buffer time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// New creates a limiter. cache may be nil, in which case every check uses
// the durable store.
func New(store BucketStore, cache Cache, buffer time.Duration, logger *zap.Logger) *Limiter {
	if buffer <= 0 {
		buffer = time.Minute
	}
	return &Limiter{
		store:  store,
		cache:  cache,
		buffer: buffer,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow performs an atomic check-and-increment for the current window.
func (l *Limiter) Allow(ctx context.Context, subject, endpoint string, rule config.RateLimitRule) (Decision, error) {
	periodStart := l.periodStart(rule.Period)

	if l.cache != nil && !rule.Durable {
		if d, ok := l.allowCached(ctx, subject, endpoint, rule, periodStart); ok {
			observeDecision(endpoint, d.Allowed)
			return d, nil
		}
		// Cache unavailable; the durable path takes over.
	}

	allowed, count, err := l.store.IncrementBucket(ctx, subject, endpoint, periodStart, rule.Limit)
	if err != nil {
		return Decision{}, fmt.Errorf("rate bucket increment: %w", err)
	}
	d := l.decision(rule, periodStart, allowed, count)
	observeDecision(endpoint, d.Allowed)
	return d, nil
}

// Status reports the current window without mutating the counter.
func (l *Limiter) Status(ctx context.Context, subject, endpoint string, rule config.RateLimitRule) (Decision, error) {
	periodStart := l.periodStart(rule.Period)
	count, err := l.store.GetBucket(ctx, subject, endpoint, periodStart)
	if err != nil {
		return Decision{}, fmt.Errorf("rate bucket read: %w", err)
	}
	return l.decision(rule, periodStart, count < rule.Limit, count), nil
}

// Sweep deletes buckets whose window started before now-maxAge.
func (l *Limiter) Sweep(ctx context.Context, maxAge time.Duration) (int64, error) {
	deleted, err := l.store.DeleteBucketsBefore(ctx, l.now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		l.logger.Debug("rate bucket sweep", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

func (l *Limiter) allowCached(ctx context.Context, subject, endpoint string, rule config.RateLimitRule, periodStart time.Time) (Decision, bool) {
	key := fmt.Sprintf("rl:%s:%s:%d", subject, endpoint, periodStart.Unix())
	n, err := l.cache.IncrWithTTL(ctx, key, rule.Period+l.buffer)
	if err != nil {
		l.logger.Warn("rate limit cache unavailable, using durable store", zap.Error(err))
		return Decision{}, false
	}
	return l.decision(rule, periodStart, n <= int64(rule.Limit), int(min64(n, int64(rule.Limit)))), true
}

func (l *Limiter) decision(rule config.RateLimitRule, periodStart time.Time, allowed bool, count int) Decision {
	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	resetAt := periodStart.Add(rule.Period)
	d := Decision{
		Allowed:   allowed,
		Limit:     rule.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !allowed {
		d.RetryAfter = resetAt.Sub(l.now())
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
	}
	return d
}

// periodStart buckets time as floor(now/period)*period.
func (l *Limiter) periodStart(period time.Duration) time.Time {
	return l.now().Truncate(period)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
