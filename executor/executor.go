// Package executor drives a single action from validated request to terminal
// envelope: idempotency claim, rate limit and circuit breaker admission,
// credential resolution, the provider call with bounded retries, and the
// audit write.
package executor

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/actionmesh/actionmesh/audit"
	"github.com/actionmesh/actionmesh/credential"
	"github.com/actionmesh/actionmesh/envelope"
	"github.com/actionmesh/actionmesh/idempotency"
	"github.com/actionmesh/actionmesh/provider"
	"github.com/actionmesh/actionmesh/ratelimit"
	"github.com/actionmesh/actionmesh/tenant"
	"github.com/actionmesh/actionmesh/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("actionmesh/executor")

// Config tunes the executor's retry and timeout behavior.
type Config struct {
	// DefaultTimeout bounds one provider call when the request does not
	// override it.
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default_timeout"`
	// MaxAttempts is the default retry budget, counting the first attempt.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	// BackoffBase is the first retry delay; each retry doubles it.
	BackoffBase time.Duration `yaml:"backoff_base" json:"backoff_base"`
	// BackoffCap bounds the retry delay.
	BackoffCap time.Duration `yaml:"backoff_cap" json:"backoff_cap"`
	// IdempotencyTTL is the terminal-result linkage window.
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl" json:"idempotency_ttl"`
	// ClaimTTL bounds how long an in-flight claim blocks duplicates when the
	// holder crashes before committing or releasing.
	ClaimTTL time.Duration `yaml:"claim_ttl" json:"claim_ttl"`
	// DuplicateWait is how long a duplicate submission polls for the
	// in-flight winner's result before giving up.
	DuplicateWait time.Duration `yaml:"duplicate_wait" json:"duplicate_wait"`
	// DuplicatePollInterval is the poll cadence while waiting.
	DuplicatePollInterval time.Duration `yaml:"duplicate_poll_interval" json:"duplicate_poll_interval"`
}

// DefaultConfig returns the default executor tuning.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:        30 * time.Second,
		MaxAttempts:           3,
		BackoffBase:           time.Second,
		BackoffCap:            30 * time.Second,
		IdempotencyTTL:        idempotency.DefaultTTL,
		ClaimTTL:              5 * time.Minute,
		DuplicateWait:         30 * time.Second,
		DuplicatePollInterval: 100 * time.Millisecond,
	}
}

// Observer receives per-action measurements and denial signals. The metrics
// collector implements it; tests pass nil.
type Observer interface {
	ObserveAction(operation, provider, status string, duration time.Duration)
	RecordIdempotentReplay(operation, provider string)
	RecordRateLimitDenied(provider string)
	RecordCircuitDenied(provider string)
}

// Executor executes actions against registered providers.
type Executor struct {
	codec       *envelope.Codec
	registry    *provider.Registry
	idem        idempotency.Store
	credentials credential.Store
	limiter     *ratelimit.Limiter
	breakers    *ratelimit.BreakerRegistry
	audits      audit.Store
	observer    Observer
	config      Config
	logger      *zap.Logger
}

// New creates an executor. All collaborators are required except observer
// and logger.
func New(
	codec *envelope.Codec,
	registry *provider.Registry,
	idem idempotency.Store,
	credentials credential.Store,
	limiter *ratelimit.Limiter,
	breakers *ratelimit.BreakerRegistry,
	audits audit.Store,
	observer Observer,
	config Config,
	logger *zap.Logger,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxAttempts <= 0 {
		config = DefaultConfig()
	}
	return &Executor{
		codec:       codec,
		registry:    registry,
		idem:        idem,
		credentials: credentials,
		limiter:     limiter,
		breakers:    breakers,
		audits:      audits,
		observer:    observer,
		config:      config,
		logger:      logger.With(zap.String("component", "executor")),
	}
}

// Execute runs one action to a terminal envelope.
//
// Admission denials (validation, tenant mismatch, idempotency conflict,
// rate limit, open circuit) return a nil envelope and a *types.Error so the
// transport can map them to a status code with a retry hint. Once the
// provider is reached, the outcome is always a terminal envelope: provider
// failures are carried inside it, not returned as a Go error.
func (e *Executor) Execute(ctx context.Context, req *envelope.ActionRequest) (*envelope.ActionEnvelope, error) {
	if err := e.codec.Validate(req); err != nil {
		e.writeAudit(ctx, req, nil, "rejected", types.GetErrorCode(err), 0, false, 0)
		return nil, err
	}
	if err := tenant.Check(ctx, req.TenantID); err != nil {
		return nil, err
	}

	paramsHash := envelope.HashParameters(req.Parameters)

	// Idempotency phase. A store outage degrades to at-least-once rather
	// than refusing the action.
	claimed := false
	if req.IdempotencyKey != "" {
		env, done, err := e.admitIdempotent(ctx, req, paramsHash)
		if done {
			if env != nil {
				e.writeAudit(ctx, req, env, string(env.Status), "", 0, true, 0)
				if e.observer != nil {
					e.observer.RecordIdempotentReplay(req.Operation, req.Provider)
				}
			}
			return env, err
		}
		if err != nil {
			e.logger.Warn("idempotency store unavailable, executing without dedup",
				zap.String("tenant_id", req.TenantID),
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Error(err))
		} else {
			claimed = true
		}
	}

	release := func() {
		if claimed {
			if err := e.idem.Release(ctx, req.TenantID, req.IdempotencyKey); err != nil {
				e.logger.Warn("failed to release idempotency claim", zap.Error(err))
			}
		}
	}

	// Admission: token bucket first, then circuit breaker.
	if decision := e.limiter.Acquire(req.TenantID, req.Provider); !decision.Allowed {
		release()
		err := types.NewError(types.ErrRateLimited, "tenant rate limit exceeded for provider").
			WithProvider(req.Provider).
			WithHTTPStatus(429).
			WithRetryable(true).
			WithRetryAfter(decision.RetryAfter)
		e.writeAudit(ctx, req, nil, "denied", types.ErrRateLimited, 0, false, 0)
		if e.observer != nil {
			e.observer.RecordRateLimitDenied(req.Provider)
		}
		return nil, err
	}

	breaker := e.breakers.GetOrCreate(req.TenantID, req.Provider)
	if ok, cooldown := breaker.Allow(); !ok {
		release()
		err := types.NewError(types.ErrProvider, "circuit open for provider").
			WithProvider(req.Provider).
			WithHTTPStatus(503).
			WithRetryable(true).
			WithRetryAfter(cooldown)
		e.writeAudit(ctx, req, nil, "denied", types.ErrProvider, 0, false, 0)
		if e.observer != nil {
			e.observer.RecordCircuitDenied(req.Provider)
		}
		return nil, err
	}

	env, err := e.codec.NewEnvelope(req)
	if err != nil {
		release()
		return nil, err
	}

	spanCtx, span := tracer.Start(ctx, "action.execute",
		trace.WithAttributes(
			attribute.String("action.operation", req.Operation),
			attribute.String("action.provider", req.Provider),
		))

	start := time.Now()
	attempts, execErr := e.runAttempts(spanCtx, req, breaker)
	elapsed := time.Since(start)

	span.SetAttributes(attribute.Int("action.attempts", attempts.count))
	span.End()

	if execErr == nil {
		env.Succeed(attempts.result, elapsed)
	} else {
		env.Fail(execErr, elapsed)
	}
	env.Attempts = attempts.count

	// Commit terminal outcomes the provider actually produced; release the
	// claim for retryable failures so the caller can retry with the same key.
	if claimed {
		if execErr == nil || !execErr.Retryable {
			if err := e.idem.Commit(ctx, req.TenantID, req.IdempotencyKey, paramsHash, env, e.config.IdempotencyTTL); err != nil {
				e.logger.Warn("failed to commit idempotency record", zap.Error(err))
			}
		} else {
			release()
		}
	}

	e.writeAudit(ctx, req, env, string(env.Status), errCodeOf(execErr), attempts.count, false, elapsed)
	if e.observer != nil {
		e.observer.ObserveAction(req.Operation, req.Provider, string(env.Status), elapsed)
	}
	return env, nil
}

// admitIdempotent runs the check-then-reserve sequence. The returned done
// flag means the caller is finished: either a cached envelope was replayed
// or the key conflicted. A non-nil error with done=false signals store
// degradation.
func (e *Executor) admitIdempotent(ctx context.Context, req *envelope.ActionRequest, paramsHash string) (*envelope.ActionEnvelope, bool, error) {
	cached, err := e.idem.Check(ctx, req.TenantID, req.IdempotencyKey, paramsHash)
	switch {
	case err == nil:
		return cached, true, nil
	case types.GetErrorCode(err) == types.ErrConflict || types.GetErrorCode(err) == types.ErrPermission:
		return nil, true, err
	case err != idempotency.ErrNotFound:
		return nil, false, err
	}

	ok, err := e.idem.Reserve(ctx, req.TenantID, req.IdempotencyKey, paramsHash, e.config.ClaimTTL)
	if err != nil {
		if types.GetErrorCode(err) == types.ErrConflict || types.GetErrorCode(err) == types.ErrPermission {
			return nil, true, err
		}
		return nil, false, err
	}
	if ok {
		return nil, false, nil
	}

	// Another execution holds the claim. Poll for its committed result
	// instead of duplicating the provider call.
	env, err := e.awaitWinner(ctx, req, paramsHash)
	return env, true, err
}

// awaitWinner polls the idempotency store for the in-flight holder's result.
func (e *Executor) awaitWinner(ctx context.Context, req *envelope.ActionRequest, paramsHash string) (*envelope.ActionEnvelope, error) {
	deadline := time.Now().Add(e.config.DuplicateWait)
	ticker := time.NewTicker(e.config.DuplicatePollInterval)
	defer ticker.Stop()

	for {
		cached, err := e.idem.Check(ctx, req.TenantID, req.IdempotencyKey, paramsHash)
		if err == nil {
			return cached, nil
		}
		if err != idempotency.ErrNotFound {
			return nil, err
		}

		if time.Now().After(deadline) {
			return nil, types.NewError(types.ErrTimeout,
				fmt.Sprintf("duplicate of in-flight action with idempotency key %s", req.IdempotencyKey)).
				WithHTTPStatus(409).
				WithRetryable(true).
				WithRetryAfter(e.config.DuplicatePollInterval)
		}

		select {
		case <-ctx.Done():
			return nil, types.NewError(types.ErrTimeout, "canceled while waiting for duplicate action").
				WithCause(ctx.Err())
		case <-ticker.C:
		}
	}
}

type attemptOutcome struct {
	result map[string]any
	count  int
}

// runAttempts resolves the credential and adapter, then runs the provider
// call with bounded retries. Only retryable errors are retried.
func (e *Executor) runAttempts(ctx context.Context, req *envelope.ActionRequest, breaker *ratelimit.Breaker) (attemptOutcome, *types.Error) {
	out := attemptOutcome{}

	cred, err := e.credentials.Get(ctx, req.TenantID, req.Provider)
	if err != nil {
		if types.GetErrorCode(err) == types.ErrNotFound {
			return out, types.NewError(types.ErrAuthentication,
				"no credential configured for provider").WithProvider(req.Provider)
		}
		return out, classify(err)
	}
	if cred.Expired() {
		return out, types.NewError(types.ErrAuthentication, "credential expired").
			WithProvider(req.Provider)
	}

	category := provider.Category(operationCategory(req.Operation))
	adapter, err := e.registry.Resolve(category, req.Provider)
	if err != nil {
		return out, classify(err)
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.config.MaxAttempts
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}

	inv := provider.Invocation{
		Operation:     req.Operation,
		Parameters:    req.Parameters,
		Credential:    cred,
		TenantID:      req.TenantID,
		CorrelationID: req.CorrelationID,
	}

	var lastErr *types.Error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out.count = attempt

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		result, callErr := adapter.Execute(callCtx, inv)
		cancel()

		if callErr == nil {
			breaker.RecordSuccess()
			out.result = result
			return out, nil
		}

		lastErr = classify(callErr)
		breaker.RecordFailure()
		e.logger.Warn("provider call failed",
			zap.String("tenant_id", req.TenantID),
			zap.String("operation", req.Operation),
			zap.String("provider", req.Provider),
			zap.Int("attempt", attempt),
			zap.String("code", string(lastErr.Code)),
			zap.Bool("retryable", lastErr.Retryable))

		if !lastErr.Retryable || attempt == maxAttempts {
			return out, lastErr
		}
		if err := sleepContext(ctx, backoffDelay(attempt, e.config.BackoffBase, e.config.BackoffCap)); err != nil {
			return out, types.NewError(types.ErrTimeout, "canceled during retry backoff").WithCause(err)
		}
	}
	return out, lastErr
}

// backoffDelay returns the delay before the next attempt: exponential with
// the given base, capped, with up to 25% jitter.
func backoffDelay(attempt int, base, limit time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if limit <= 0 {
		limit = 30 * time.Second
	}
	// Double up to the cap instead of shifting; a shift by a large attempt
	// count overflows into a negative delay.
	delay := base
	for i := 1; i < attempt && delay < limit; i++ {
		delay *= 2
		if delay <= 0 {
			delay = limit
			break
		}
	}
	if delay > limit {
		delay = limit
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// operationCategory extracts the capability category from a dot-namespaced
// operation, e.g. "crm.create_contact" belongs to "crm".
func operationCategory(operation string) string {
	if i := strings.IndexByte(operation, '.'); i > 0 {
		return operation[:i]
	}
	return operation
}

func errCodeOf(err *types.Error) types.ErrorCode {
	if err == nil {
		return ""
	}
	return err.Code
}

// writeAudit appends an audit record. Audit failures are logged, never
// propagated: the action outcome already happened.
func (e *Executor) writeAudit(ctx context.Context, req *envelope.ActionRequest, env *envelope.ActionEnvelope, status string, code types.ErrorCode, attempts int, idempotent bool, elapsed time.Duration) {
	if e.audits == nil || req.TenantID == "" {
		return
	}

	actorID, _ := types.ActorID(ctx)
	record := &audit.Record{
		TenantID:      req.TenantID,
		CorrelationID: req.CorrelationID,
		ActorID:       actorID,
		Operation:     req.Operation,
		Provider:      req.Provider,
		Status:        status,
		ErrorCode:     string(code),
		Attempts:      attempts,
		Idempotent:    idempotent,
	}
	if env != nil {
		record.ActionID = env.ActionID
		record.DurationMS = elapsed.Milliseconds()
	}

	if err := e.audits.Append(ctx, record); err != nil {
		e.logger.Error("failed to append audit record",
			zap.String("tenant_id", req.TenantID),
			zap.String("operation", req.Operation),
			zap.Error(err))
	}
}
