package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sajanshree/order-api/internal/repository"
	apperrors "github.com/sajanshree/order-api/pkg/errors"
)

// PaginationResponse wraps one page of dead letters
type PaginationResponse struct {
	Items    interface{} `json:"items"`
	Count    int         `json:"count"`
	Page     int         `json:"page"`
	PageSize int         `json:"pageSize"`
}

// getDeadLettersHandler lists order events that exhausted their delivery attempts
func (s *Server) getDeadLettersHandler(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))

	if err != nil || page < 1 {
		page = 1
	}

	pageSize, err := strconv.Atoi(r.URL.Query().Get("pageSize"))

	if err != nil || pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	messages, err := s.store.Outbox.GetFailedMessages(r.Context(), pageSize, (page-1)*pageSize)

	if err != nil {
		s.respondWithError(w, apperrors.NewPersistenceError("failed to fetch dead letters", err))
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: PaginationResponse{
			Items:    messages,
			Count:    len(messages),
			Page:     page,
			PageSize: pageSize,
		},
	})
}

// retryDeadLetterHandler puts a failed event back in the outbox queue
func (s *Server) retryDeadLetterHandler(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)

	if err != nil {
		s.respondWithError(w, apperrors.NewInvalidInputError("invalid message ID"))
		return
	}

	if err := s.store.Outbox.Requeue(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.respondWithError(w, apperrors.NewNotFoundError("dead letter not found"))
			return
		}
		s.respondWithError(w, apperrors.NewPersistenceError("failed to requeue dead letter", err))
		return
	}

	s.logger.Info("Dead letter requeued", "messageID", id)

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]string{
			"message": "Dead letter requeued",
			"id":      idStr,
		},
	})
}
