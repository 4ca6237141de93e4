package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tesela-labs/tesela/internal/apperr"
)

type ctxKey int

const (
	ctxRequestID ctxKey = iota
	ctxSessionID
	ctxRole
)

// Roles, ordered by privilege.
const (
	roleAnalyst = "analyst"
	roleAdmin   = "admin"
)

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequestID).(string)
	return id
}

func sessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxSessionID).(string)
	return id
}

func roleFrom(ctx context.Context) string {
	role, _ := ctx.Value(ctxRole).(string)
	return role
}

// requestContext assigns a request id, extracts the operator session and
// resolves the caller's role from X-API-Key. Every request gets a
// request.start/request.end pair in the log.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		sessionID := r.Header.Get("X-Session-ID")

		role := roleAdmin
		if len(s.cfg.APIKeys) > 0 {
			role = s.cfg.APIKeys[r.Header.Get("X-API-Key")]
		}

		ctx := r.Context()
		ctx = context.WithValue(ctx, ctxRequestID, requestID)
		ctx = context.WithValue(ctx, ctxSessionID, sessionID)
		ctx = context.WithValue(ctx, ctxRole, role)
		w.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		s.log.Debug("request.start",
			zap.String("request_id", requestID),
			zap.String("session_id", sessionID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r.WithContext(ctx))
		s.log.Debug("request.end",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	})
}

// requireRole refuses callers below the given role. Admin implies analyst.
func (s *Server) requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := roleFrom(r.Context())
			ok := got == roleAdmin || (role == roleAnalyst && got == roleAnalyst)
			if !ok {
				s.writeForbidden(w, r, role)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// recoverer converts a handler panic into an internal error response with
// the request id attached, instead of killing the connection.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.log.Error("handler panic",
					zap.Any("panic", p),
					zap.String("request_id", requestIDFrom(r.Context())),
					zap.String("path", r.URL.Path))
				s.writeError(w, r, apperr.Internal(nil, "handler panic: %v", p))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
