package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sajanshree/order-api/internal/assets"
	"github.com/sajanshree/order-api/internal/models"
	"github.com/sajanshree/order-api/internal/repository"
	"github.com/sajanshree/order-api/internal/service"
	apperrors "github.com/sajanshree/order-api/pkg/errors"
)

// Form fields that may carry the image file
var imageFields = []string{"orderImage", "image"}

const formOverhead = 1 << 20

// readOrderPayload normalizes a JSON or multipart body. A multipart image is uploaded
// first; the returned ref must be released if the order write fails.
func (s *Server) readOrderPayload(r *http.Request) (*service.OrderPayload, *models.ImageRef, error) {
	maxUpload := s.config.Assets.MaxUploadBytes
	r.Body = http.MaxBytesReader(nil, r.Body, maxUpload+formOverhead)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType != "multipart/form-data" {
		payload, err := service.DecodeOrderPayload(r.Body)
		return payload, nil, err
	}

	if err := r.ParseMultipartForm(maxUpload + formOverhead); err != nil {
		return nil, nil, apperrors.NewInvalidInputError("invalid multipart form: " + err.Error())
	}

	payload, err := service.PayloadFromForm(r.MultipartForm.Value)

	if err != nil {
		return nil, nil, err
	}

	for _, field := range imageFields {
		files := r.MultipartForm.File[field]

		if len(files) == 0 {
			continue
		}

		header := files[0]

		if header.Size > maxUpload {
			return nil, nil, apperrors.NewAppError(assets.ErrTooLarge,
				fmt.Sprintf("image is %d bytes, limit is %d", header.Size, maxUpload),
				http.StatusRequestEntityTooLarge, false).WithCode(apperrors.CodeInvalidPayload)
		}

		file, err := header.Open()

		if err != nil {
			return nil, nil, apperrors.NewInvalidInputError("cannot read uploaded image")
		}

		data, err := io.ReadAll(file)
		_ = file.Close()

		if err != nil {
			return nil, nil, apperrors.NewInvalidInputError("cannot read uploaded image")
		}

		ref, err := s.assets.Store(r.Context(), data, header.Filename)

		if err != nil {
			return nil, nil, uploadError(err)
		}

		payload.OrderImage = ref
		return payload, ref, nil
	}

	return payload, nil, nil
}

func uploadError(err error) error {
	switch {
	case errors.Is(err, assets.ErrUnsupportedFormat):
		return apperrors.NewInvalidInputError(err.Error()).WithContext("allowed", assets.AllowedFormats)
	case errors.Is(err, assets.ErrTooLarge):
		return apperrors.NewAppError(err, err.Error(), http.StatusRequestEntityTooLarge, false).
			WithCode(apperrors.CodeInvalidPayload)
	case errors.Is(err, assets.ErrStoreDisabled):
		return apperrors.NewAppError(err, err.Error(), http.StatusServiceUnavailable, false).
			WithCode(apperrors.CodeAssetStore)
	default:
		return apperrors.NewAssetStoreError("failed to store image", err)
	}
}

// releaseUpload deletes an image whose order write failed
func (s *Server) releaseUpload(ctx context.Context, ref *models.ImageRef) {
	if ref == nil || ref.AssetID == "" {
		return
	}

	if err := s.assets.Delete(context.WithoutCancel(ctx), ref.AssetID); err != nil {
		s.logger.Warn("Failed to release orphaned upload", "assetId", ref.AssetID, "error", err)
	}
}

// createOrderHandler creates a new order
func (s *Server) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	payload, uploaded, err := s.readOrderPayload(r)

	if err != nil {
		s.respondWithError(w, err)
		return
	}

	order, err := s.orderService.CreateOrder(r.Context(), payload)

	if err != nil {
		s.releaseUpload(r.Context(), uploaded)
		s.respondWithError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusCreated, ApiResponse{
		Success: true,
		Data:    order,
	})
}

func parseFilter(r *http.Request) (repository.OrderFilter, error) {
	q := r.URL.Query()
	filter := repository.OrderFilter{Status: models.OrderStatus(strings.TrimSpace(q.Get("status")))}

	parseDate := func(key string) (time.Time, error) {
		raw := q.Get(key)

		if raw == "" {
			return time.Time{}, nil
		}

		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, nil
			}
		}
		return time.Time{}, apperrors.NewInvalidInputError(fmt.Sprintf("%s: expected a date", key))
	}

	parseInt := func(key string) (int, error) {
		raw := q.Get(key)

		if raw == "" {
			return 0, nil
		}

		n, err := strconv.Atoi(raw)

		if err != nil || n < 0 {
			return 0, apperrors.NewInvalidInputError(fmt.Sprintf("%s: expected a non-negative integer", key))
		}
		return n, nil
	}

	var err error

	if filter.DeliveredBefore, err = parseDate("deliveredBefore"); err != nil {
		return filter, err
	}

	if filter.DeliveredAfter, err = parseDate("deliveredAfter"); err != nil {
		return filter, err
	}

	if filter.Limit, err = parseInt("limit"); err != nil {
		return filter, err
	}

	if filter.Offset, err = parseInt("offset"); err != nil {
		return filter, err
	}

	return filter, nil
}

// listOrdersHandler returns matching orders and the Pending count
func (s *Server) listOrdersHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)

	if err != nil {
		s.respondWithError(w, err)
		return
	}

	list, err := s.orderService.ListOrders(r.Context(), filter)

	if err != nil {
		s.respondWithError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    list,
	})
}

// getOrderHandler returns an order by ID
func (s *Server) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	order, err := s.orderService.GetOrder(r.Context(), mux.Vars(r)["id"])

	if err != nil {
		s.respondWithError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    order,
	})
}

// updateOrderHandler applies a partial update
func (s *Server) updateOrderHandler(w http.ResponseWriter, r *http.Request) {
	payload, uploaded, err := s.readOrderPayload(r)

	if err != nil {
		s.respondWithError(w, err)
		return
	}

	result, err := s.orderService.UpdateOrder(r.Context(), mux.Vars(r)["id"], payload)

	if err != nil {
		s.releaseUpload(r.Context(), uploaded)
		s.respondWithError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success:  true,
		Data:     result.Order,
		Warnings: result.Warnings(),
	})
}

// deleteOrderHandler removes an order and its image
func (s *Server) deleteOrderHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	result, err := s.orderService.DeleteOrder(r.Context(), id)

	if err != nil {
		s.respondWithError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success:  true,
		Data:     map[string]string{"id": id},
		Warnings: result.Warnings(),
	})
}

type statusRequest struct {
	Status string `json:"status"`
}

// updateOrderStatusHandler moves an order through its lifecycle
func (s *Server) updateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req statusRequest

	if err := decodeJSON(r, &req); err != nil {
		s.respondWithError(w, err)
		return
	}

	order, err := s.orderService.SetStatus(r.Context(), mux.Vars(r)["id"], req.Status)

	if err != nil {
		s.respondWithError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    order,
	})
}
