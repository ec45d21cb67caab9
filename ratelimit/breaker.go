package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed passes requests through while counting failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen denies all requests until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen allows a bounded number of probe requests.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures circuit breaking for one (tenant, provider) pair.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// Cooldown is how long the circuit stays open before allowing a probe.
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
	// HalfOpenMaxProbes bounds concurrent probes in half-open state.
	HalfOpenMaxProbes int `yaml:"half_open_max_probes" json:"half_open_max_probes"`
	// HalfOpenSuccesses is the consecutive successes needed to close again.
	HalfOpenSuccesses int `yaml:"half_open_successes" json:"half_open_successes"`
}

// DefaultBreakerConfig returns the default breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		Cooldown:          30 * time.Second,
		HalfOpenMaxProbes: 1,
		HalfOpenSuccesses: 1,
	}
}

// Breaker is a circuit breaker scoped to one (tenant, provider) pair, so one
// tenant's provider outage never opens the circuit for other tenants that
// share the same provider type.
type Breaker struct {
	key         string
	config      BreakerConfig
	state       BreakerState
	failures    int
	successes   int
	probeCount  int
	lastFailure time.Time
	logger      *zap.Logger
	mu          sync.Mutex
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(key string, config BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.FailureThreshold <= 0 {
		config = DefaultBreakerConfig()
	}
	return &Breaker{
		key:    key,
		config: config,
		state:  BreakerClosed,
		logger: logger.With(zap.String("breaker", key)),
	}
}

// Allow reports whether a request may proceed. When denied, the returned
// duration is the remaining cooldown the caller should surface as a retry
// hint.
func (b *Breaker) Allow() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true, 0

	case BreakerOpen:
		remaining := b.config.Cooldown - time.Since(b.lastFailure)
		if remaining <= 0 {
			b.transitionTo(BreakerHalfOpen, "cooldown elapsed")
			b.probeCount = 1
			b.successes = 0
			return true, 0
		}
		return false, remaining

	case BreakerHalfOpen:
		if b.probeCount < b.config.HalfOpenMaxProbes {
			b.probeCount++
			return true, 0
		}
		return false, b.config.Cooldown

	default:
		return false, b.config.Cooldown
	}
}

// RecordSuccess records a successful provider call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.config.HalfOpenSuccesses {
			b.transitionTo(BreakerClosed, "probe succeeded")
			b.failures = 0
			b.successes = 0
			b.probeCount = 0
		}
	}
}

// RecordFailure records a failed provider call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case BreakerClosed:
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(BreakerOpen, "failure threshold reached")
		}
	case BreakerHalfOpen:
		// Any probe failure re-opens the circuit.
		b.successes = 0
		b.probeCount = 0
		b.transitionTo(BreakerOpen, "probe failed")
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transitionTo must be called with the lock held.
func (b *Breaker) transitionTo(newState BreakerState, reason string) {
	oldState := b.state
	b.state = newState
	b.logger.Info("circuit breaker state change",
		zap.String("old_state", oldState.String()),
		zap.String("new_state", newState.String()),
		zap.String("reason", reason),
		zap.Int("failures", b.failures))
}

// BreakerRegistry manages breakers keyed by (tenant, provider).
type BreakerRegistry struct {
	breakers map[string]*Breaker
	config   BreakerConfig
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewBreakerRegistry creates a registry with shared tuning.
func NewBreakerRegistry(config BreakerConfig, logger *zap.Logger) *BreakerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerRegistry{
		breakers: make(map[string]*Breaker),
		config:   config,
		logger:   logger,
	}
}

// GetOrCreate returns the breaker for the pair, creating it on first use.
func (r *BreakerRegistry) GetOrCreate(tenantID, provider string) *Breaker {
	key := tenantID + "/" + provider

	r.mu.RLock()
	if b, ok := r.breakers[key]; ok {
		r.mu.RUnlock()
		return b
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b := NewBreaker(key, r.config, r.logger)
	r.breakers[key] = b
	return b
}

// States returns a snapshot of all breaker states.
func (r *BreakerRegistry) States() map[string]BreakerState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make(map[string]BreakerState, len(r.breakers))
	for key, b := range r.breakers {
		states[key] = b.State()
	}
	return states
}
