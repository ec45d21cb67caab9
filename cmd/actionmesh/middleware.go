package main

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/actionmesh/actionmesh/config"
	"github.com/actionmesh/actionmesh/internal/metrics"
	"github.com/actionmesh/actionmesh/internal/pool"
	"github.com/actionmesh/actionmesh/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// middleware wraps a handler.
type middleware func(http.Handler) http.Handler

// chain applies middlewares left to right, outermost first.
func chain(h http.Handler, mws ...middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// recovery turns panics into 500s instead of dropped connections.
func recovery(logger *zap.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in handler",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path))
					http.Error(w, `{"success":false,"error":{"code":"INTERNAL","message":"internal error"}}`,
						http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// correlationID propagates the caller's correlation ID or mints one.
func correlationID() middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Correlation-ID")
			if id == "" {
				id = uuid.New().String()
			}
			w.Header().Set("X-Correlation-ID", id)
			next.ServeHTTP(w, r.WithContext(types.WithCorrelationID(r.Context(), id)))
		})
	}
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLogger logs one line per request.
func requestLogger(logger *zap.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			tenantID, _ := types.TenantID(r.Context())
			correlationID, _ := types.CorrelationID(r.Context())
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("tenant_id", tenantID),
				zap.String("correlation_id", correlationID))
		})
	}
}

// tracing opens one server span per request, continuing any trace the
// caller propagated.
func tracing() middleware {
	tracer := otel.Tracer("actionmesh/http")
	propagator := otel.GetTextMapPropagator()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.target", r.URL.Path),
				))
			defer span.End()

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))
			span.SetAttributes(attribute.Int("http.status_code", rec.status))
		})
	}
}

// httpMetrics records request counters and latency.
func httpMetrics(collector *metrics.Collector) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			collector.RecordHTTPRequest(r.Method, r.URL.Path, rec.status, time.Since(start))
		})
	}
}

// tenantClaims is the JWT payload the service accepts.
type tenantClaims struct {
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// auth authenticates the request and installs the tenant scope. In dev mode
// a plain X-Tenant-ID header is accepted; otherwise a signed bearer token is
// required and its tenant_id claim is authoritative.
func auth(cfg config.AuthConfig, logger *zap.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.DevMode {
				if tenantID := r.Header.Get("X-Tenant-ID"); tenantID != "" {
					ctx := types.WithTenantID(r.Context(), tenantID)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				unauthorized(w, "missing bearer token")
				return
			}

			claims := &tenantClaims{}
			token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims,
				func(token *jwt.Token) (any, error) {
					if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, jwt.ErrSignatureInvalid
					}
					return []byte(cfg.JWTSecret), nil
				})
			if err != nil || !token.Valid || claims.TenantID == "" {
				logger.Warn("rejected token", zap.Error(err))
				unauthorized(w, "invalid token")
				return
			}

			ctx := types.WithTenantID(r.Context(), claims.TenantID)
			if claims.Subject != "" {
				ctx = types.WithActorID(ctx, claims.Subject)
			}
			if len(claims.Roles) > 0 {
				ctx = types.WithRoles(ctx, claims.Roles)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"success":false,"error":{"code":"AUTHENTICATION","message":"` + message + `"}}`))
}

// tenantConcurrency bounds in-flight requests per tenant.
func tenantConcurrency(limiter *pool.TenantLimiter) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, ok := types.TenantID(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if !limiter.TryAcquire(tenantID) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"success":false,"error":{"code":"RATE_LIMITED","message":"too many concurrent requests"}}`))
				return
			}
			defer limiter.Release(tenantID)
			next.ServeHTTP(w, r)
		})
	}
}

// httpRateLimit bounds request rate per tenant, before any handler work.
func httpRateLimit(rps float64, burst int) middleware {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	get := func(tenantID string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[tenantID]
		if !ok {
			l = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[tenantID] = l
		}
		return l
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, ok := types.TenantID(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if !get(tenantID).Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"success":false,"error":{"code":"RATE_LIMITED","message":"tenant request rate exceeded"}}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// cors answers preflight requests and sets the allow headers.
func cors() middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers",
				"Authorization, Content-Type, X-Correlation-ID, X-Tenant-ID")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// securityHeaders sets conservative response headers.
func securityHeaders() middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
