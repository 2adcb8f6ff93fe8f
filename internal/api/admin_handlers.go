package api

import (
	"errors"
	"net/http"

	"github.com/sajanshree/order-api/internal/scheduler"
	apperrors "github.com/sajanshree/order-api/pkg/errors"
)

// runOverdueSweepHandler runs the overdue sweep now and returns its report
func (s *Server) runOverdueSweepHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.sweeper.RunOnce(r.Context())

	if errors.Is(err, scheduler.ErrSweepInProgress) {
		s.respondWithError(w, apperrors.NewConflictError(apperrors.CodeSweepInProgress, err.Error()))
		return
	}

	if err != nil {
		s.respondWithError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: report})
}
