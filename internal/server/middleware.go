package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"typerace/internal/gamedata"
	"typerace/internal/identity"
)

type contextKey string

const RequestIDKey contextKey = "request_id"

// RequestID tags each request with an id, logs it, and counts the response
// status.
func (s *Server) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)

		log := s.logger.With().Str("request_id", requestID).Logger()
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		ctx = log.WithContext(ctx)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Msg("request started")

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()

		duration := time.Since(start)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("request completed")
	})
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

func (s *Server) logFor(r *http.Request) *zerolog.Logger {
	log := zerolog.Ctx(r.Context())
	if log.GetLevel() == zerolog.Disabled {
		return &s.logger
	}
	return log
}

// Authenticate resolves the caller from a bearer token, or from X-User-ID
// when dev auth is on. Browsers cannot set headers on EventSource or
// WebSocket requests, so a token query parameter is accepted too. Requests
// without credentials continue anonymously; bad credentials are rejected.
func (s *Server) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.devAuth {
			if id := r.Header.Get("X-User-ID"); id != "" {
				next.ServeHTTP(w, r.WithContext(identity.WithUser(r.Context(), id)))
				return
			}
		}

		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" {
			raw = r.URL.Query().Get("token")
		}
		if raw == "" || s.tokens == nil {
			next.ServeHTTP(w, r)
			return
		}

		userID, err := s.tokens.Verify(raw)
		if err != nil {
			s.logFor(r).Debug().Err(err).Msg("rejected token")
			s.writeError(w, r, gamedata.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithUser(r.Context(), userID)))
	})
}

// RequireAdmin lets through only callers listed as administrators.
func (s *Server) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, ok := identity.UserID(r.Context())
		if !ok {
			s.writeError(w, r, gamedata.ErrUnauthenticated)
			return
		}
		if !s.admins[uid] {
			s.writeError(w, r, gamedata.ErrNotAdmin)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Buckets idle this long are full again and can be dropped.
const (
	limiterIdle  = 10 * time.Minute
	limiterSweep = time.Minute
)

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// userLimiter hands out one token bucket per user.
type userLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	limiters  map[string]*limiterEntry
	lastSweep time.Time
	now       func() time.Time
}

func newUserLimiter(perSecond float64, burst int) *userLimiter {
	return &userLimiter{
		limit:    rate.Limit(perSecond),
		burst:    max(1, burst),
		limiters: make(map[string]*limiterEntry),
		now:      time.Now,
	}
}

func (l *userLimiter) Allow(userID string) bool {
	now := l.now()
	l.mu.Lock()
	if now.Sub(l.lastSweep) >= limiterSweep {
		l.sweep(now)
	}
	e, ok := l.limiters[userID]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = e
	}
	e.seen = now
	l.mu.Unlock()
	return e.lim.AllowN(now, 1)
}

// sweep drops buckets not used within limiterIdle. Caller holds mu.
func (l *userLimiter) sweep(now time.Time) {
	for id, e := range l.limiters {
		if now.Sub(e.seen) > limiterIdle {
			delete(l.limiters, id)
		}
	}
	l.lastSweep = now
}

func (l *userLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
