// Package ratelimit provides per-tenant, per-provider token-bucket rate
// limiting and failure-triggered circuit breaking for outbound provider
// calls.
package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BucketConfig sizes one token bucket.
type BucketConfig struct {
	// RPS is the sustained refill rate in requests per second.
	RPS float64 `yaml:"rps" json:"rps"`
	// Burst is the bucket capacity.
	Burst int `yaml:"burst" json:"burst"`
}

// DefaultBucketConfig returns the default bucket sizing.
func DefaultBucketConfig() BucketConfig {
	return BucketConfig{RPS: 10, Burst: 20}
}

// Decision is the outcome of an Acquire call. A denied decision carries the
// caller-facing retry hint.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter maintains one token bucket per (tenant, provider) pair. Buckets
// are created lazily; access to the bucket map is serialized, and each
// bucket's token accounting is atomic inside rate.Limiter.
type Limiter struct {
	buckets   map[string]*rate.Limiter
	defaults  BucketConfig
	overrides map[string]BucketConfig
	logger    *zap.Logger
	mu        sync.RWMutex
}

// NewLimiter creates a limiter with the given default bucket sizing.
func NewLimiter(defaults BucketConfig, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults.RPS <= 0 {
		defaults = DefaultBucketConfig()
	}
	return &Limiter{
		buckets:   make(map[string]*rate.Limiter),
		defaults:  defaults,
		overrides: make(map[string]BucketConfig),
		logger:    logger.With(zap.String("component", "rate_limiter")),
	}
}

// SetProviderLimits installs a provider-specific bucket sizing, typically
// taken from the adapter's advertised rate limits at registration time.
// It only affects buckets created afterwards.
func (l *Limiter) SetProviderLimits(provider string, config BucketConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[provider] = config
}

// Acquire consumes one token from the (tenant, provider) bucket. When the
// bucket is empty the decision is denied and RetryAfter reports when the
// next token becomes available.
func (l *Limiter) Acquire(tenantID, provider string) Decision {
	bucket := l.getOrCreate(tenantID, provider)

	res := bucket.Reserve()
	if !res.OK() {
		// Burst of zero: nothing will ever be available.
		return Decision{Allowed: false, RetryAfter: time.Second}
	}
	delay := res.Delay()
	if delay > 0 {
		res.Cancel()
		l.logger.Debug("rate limit denied",
			zap.String("tenant_id", tenantID),
			zap.String("provider", provider),
			zap.Duration("retry_after", delay))
		return Decision{Allowed: false, RetryAfter: delay}
	}
	return Decision{Allowed: true}
}

func (l *Limiter) getOrCreate(tenantID, provider string) *rate.Limiter {
	key := tenantID + "/" + provider

	l.mu.RLock()
	if b, ok := l.buckets[key]; ok {
		l.mu.RUnlock()
		return b
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}

	config := l.defaults
	if override, ok := l.overrides[provider]; ok && override.RPS > 0 {
		config = override
	}
	b := rate.NewLimiter(rate.Limit(config.RPS), config.Burst)
	l.buckets[key] = b
	return b
}
