package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	apperrors "github.com/sajanshree/order-api/pkg/errors"
)

const version = "1.0.0"

// ApiResponse is the envelope of every response
type ApiResponse struct {
	Success  bool                   `json:"success"`
	Data     interface{}            `json:"data,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Code     string                 `json:"code,omitempty"`
	Details  map[string]interface{} `json:"details,omitempty"`
	Warnings []string               `json:"warnings,omitempty"`
}

// Health represents the health check response
type Health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Store     string `json:"store"`
	Timestamp string `json:"timestamp"`
}

// healthCheckHandler reports liveness and store reachability
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	health := Health{
		Status:    "ok",
		Version:   version,
		Store:     s.config.StoreDriver,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.ping(ctx); err != nil {
			s.logger.Warn("Health check failed", "error", err)
			health.Status = "degraded"
			s.respondWithJSON(w, http.StatusServiceUnavailable, ApiResponse{Success: false, Data: health})
			return
		}
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    health,
	})
}

// respondWithError maps err to its status code and writes the error envelope
func (s *Server) respondWithError(w http.ResponseWriter, err error) {
	status := apperrors.StatusCodeOf(err)
	response := ApiResponse{
		Success: false,
		Error:   err.Error(),
		Code:    apperrors.CodeOf(err),
	}

	var appErr *apperrors.AppError

	if errors.As(err, &appErr) && len(appErr.Context) > 0 {
		response.Details = appErr.Context
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err, "status", status)
	}

	s.respondWithJSON(w, status, response)
}

// respondWithJSON sends a JSON response
func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)

	if err != nil {
		s.logger.Error("Failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.NewInvalidInputError("invalid request payload: " + err.Error())
	}
	return nil
}
