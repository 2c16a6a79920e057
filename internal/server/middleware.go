package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/worksuite/exportd/internal/common"
)

const (
	headerTenantID   = "X-Tenant-ID"
	headerOperatorID = "X-Operator-ID"
	headerRequestID  = "X-Request-ID"
)

// withTenant resolves the caller's tenant and threads it through ctx.
// The tenant header is attached upstream by the platform's auth layer; an
// operator header switches to the on-behalf-of path, which must be
// covered by an explicit grant and fails closed otherwise.
func (s *Server) withTenant(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(headerTenantID)
		tenantID, err := uuid.Parse(raw)
		if raw == "" || err != nil {
			writeError(w, common.ErrForbidden)
			return
		}

		ctx := r.Context()
		if operatorID := r.Header.Get(headerOperatorID); operatorID != "" {
			if !s.authorizer.CanActFor(operatorID, tenantID) {
				s.logger.Warn("operator grant denied", "operator_id", operatorID, "tenant_id", tenantID)
				writeError(w, common.ErrForbidden)
				return
			}
			ctx = common.WithOperatorID(ctx, operatorID)
		}
		ctx = common.WithTenantID(ctx, tenantID)

		next(w, r.WithContext(ctx))
	}
}

// withRequestID tags every request for log correlation.
func (s *Server) withRequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, requestID)
		next(w, r.WithContext(common.WithRequestID(r.Context(), requestID)))
	}
}

// statusRecorder captures the status written downstream for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withLogging emits one structured line per resolved request. It sits
// inside withTenant so the operator id, when present, is on the context.
func (s *Server) withLogging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"request_id", common.RequestIDFromContext(r.Context()),
		}
		if operatorID := common.OperatorIDFromContext(r.Context()); operatorID != "" {
			attrs = append(attrs, "operator_id", operatorID)
		}
		s.logger.Info("gateway.request", attrs...)
	}
}

// tenantLimiter bounds polling load per tenant. The gateway imposes no
// minimum poll interval, only an aggregate budget. Entries for tenants
// idle past limiterIdleAfter are swept so the map stays bounded by the
// active tenant population; an idle bucket is full again anyway, so
// eviction never grants extra budget.
type tenantLimiter struct {
	mu        sync.Mutex
	limiters  map[uuid.UUID]*limiterEntry
	rate      rate.Limit
	burst     int
	idleAfter time.Duration
	lastSweep time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

const limiterIdleAfter = time.Hour

func newTenantLimiter(perSec float64, burst int) *tenantLimiter {
	return &tenantLimiter{
		limiters:  make(map[uuid.UUID]*limiterEntry),
		rate:      rate.Limit(perSec),
		burst:     burst,
		idleAfter: limiterIdleAfter,
		lastSweep: time.Now(),
	}
}

func (l *tenantLimiter) allow(tenantID uuid.UUID) bool {
	now := time.Now()
	l.mu.Lock()
	if now.Sub(l.lastSweep) >= l.idleAfter {
		for id, e := range l.limiters {
			if now.Sub(e.lastSeen) >= l.idleAfter {
				delete(l.limiters, id)
			}
		}
		l.lastSweep = now
	}
	e, ok := l.limiters[tenantID]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[tenantID] = e
	}
	e.lastSeen = now
	l.mu.Unlock()
	return e.lim.Allow()
}

func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := common.TenantIDFromContext(r.Context())
		if ok && !s.limiter.allow(tenantID) {
			writeError(w, common.ErrRateLimited)
			return
		}
		next(w, r)
	}
}
