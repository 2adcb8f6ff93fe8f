package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/sajanshree/order-api/internal/auth"
	apperrors "github.com/sajanshree/order-api/pkg/errors"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs every request with its outcome
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		keyvals := []interface{}{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"remoteAddr", r.RemoteAddr,
		}

		if rec.status >= http.StatusInternalServerError {
			s.logger.Warn("Request processed", keyvals...)
			return
		}
		s.logger.Info("Request processed", keyvals...)
	})
}

// authMiddleware requires a valid bearer token when authentication is enabled
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authenticator == nil {
			next.ServeHTTP(w, r)
			return
		}

		principal, err := s.authenticator.Authenticate(r)

		if err != nil {
			if errors.Is(err, auth.ErrRoleNotAllowed) {
				s.respondWithError(w, apperrors.NewForbiddenError("role is not allowed to use this API"))
				return
			}
			s.logger.Debug("Authentication failed", "error", err, "path", r.URL.Path)
			s.respondWithError(w, apperrors.NewUnauthorizedError("authentication required"))
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// requireRole restricts a route to one role. It is a no-op without authentication.
func (s *Server) requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.authenticator == nil {
				next.ServeHTTP(w, r)
				return
			}

			p, ok := auth.PrincipalFrom(r.Context())

			if !ok || p.Role != role {
				s.respondWithError(w, apperrors.NewForbiddenError(role+" role required"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
