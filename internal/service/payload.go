package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sajanshree/order-api/internal/models"
	apperrors "github.com/sajanshree/order-api/pkg/errors"
	"github.com/shopspring/decimal"
)

// RawItem is an item as received from a client, before validation
type RawItem struct {
	Product string          `json:"product"`
	Sizes   json.RawMessage `json:"sizes"`
	Details json.RawMessage `json:"details"`
}

// PaymentInput is an advance payment as received from a client. A missing date means now.
type PaymentInput struct {
	Amount decimal.Decimal `json:"amount"`
	Date   *time.Time      `json:"date"`
}

// OrderPayload is the canonical request shape for creating or patching an order.
// JSON bodies and multipart forms both normalize into it before validation.
type OrderPayload struct {
	OrderID          string           `json:"orderId"`
	CustomerName     string           `json:"customerName"`
	MobileNumber     string           `json:"mobileNumber"`
	Phone            string           `json:"phone"`
	Email            string           `json:"email"`
	Address          string           `json:"address"`
	DeliveryDate     string           `json:"deliveryDate"`
	Status           string           `json:"status"`
	Product          string           `json:"product"`
	OrderType        string           `json:"orderType"`
	Items            []RawItem        `json:"items"`
	AdvancePayments  []PaymentInput   `json:"advancePayments"`
	OrderDescription string           `json:"orderDescription"`
	OrderImage       *models.ImageRef `json:"orderImage"`
}

var deliveryDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// DecodeOrderPayload reads a JSON order body
func DecodeOrderPayload(r io.Reader) (*OrderPayload, error) {
	var payload OrderPayload

	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("invalid request payload: %v", err))
	}

	payload.normalize()
	return &payload, nil
}

// PayloadFromForm builds a payload from flattened form fields. Nested values (items,
// advancePayments, orderImage) arrive as serialized JSON text.
func PayloadFromForm(values map[string][]string) (*OrderPayload, error) {
	get := func(key string) string {
		if v := values[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	payload := &OrderPayload{
		OrderID:          get("orderId"),
		CustomerName:     get("customerName"),
		MobileNumber:     get("mobileNumber"),
		Phone:            get("phone"),
		Email:            get("email"),
		Address:          get("address"),
		DeliveryDate:     get("deliveryDate"),
		Status:           get("status"),
		Product:          get("product"),
		OrderType:        get("orderType"),
		OrderDescription: get("orderDescription"),
	}

	if raw := get("items"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload.Items); err != nil {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("items: expected a JSON array: %v", err)).
				WithContext("field", "items")
		}
	}

	if raw := get("advancePayments"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload.AdvancePayments); err != nil {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("advancePayments: expected a JSON array: %v", err)).
				WithContext("field", "advancePayments")
		}
	}

	if raw := get("orderImage"); raw != "" {
		payload.OrderImage = parseImageField(raw)
	}

	payload.normalize()
	return payload, nil
}

// parseImageField accepts a JSON reference or a bare locator
func parseImageField(raw string) *models.ImageRef {
	trimmed := []byte(strings.TrimSpace(raw))

	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '"') {
		var ref models.ImageRef

		if err := json.Unmarshal(trimmed, &ref); err == nil {
			return &ref
		}
	}
	return &models.ImageRef{URL: raw}
}

func (p *OrderPayload) normalize() {
	p.OrderID = strings.TrimSpace(p.OrderID)
	p.CustomerName = strings.TrimSpace(p.CustomerName)
	p.MobileNumber = strings.TrimSpace(p.MobileNumber)
	p.Email = strings.TrimSpace(p.Email)
	p.Address = strings.TrimSpace(p.Address)
	p.DeliveryDate = strings.TrimSpace(p.DeliveryDate)
	p.Status = strings.TrimSpace(p.Status)
	p.Product = strings.TrimSpace(p.Product)
	p.OrderType = strings.TrimSpace(p.OrderType)

	if p.MobileNumber == "" {
		p.MobileNumber = strings.TrimSpace(p.Phone)
	}
	p.Phone = ""

	for i := range p.Items {
		p.Items[i].Product = strings.TrimSpace(p.Items[i].Product)
		p.Items[i].Sizes = compactJSON(p.Items[i].Sizes)
		p.Items[i].Details = compactJSON(p.Items[i].Details)
	}

	// Asset ids are minted by uploads only; a client-supplied one is never trusted
	if p.OrderImage != nil {
		p.OrderImage.AssetID = ""
	}

	if p.OrderImage.Empty() {
		p.OrderImage = nil
	}
}

// compactJSON strips insignificant whitespace so JSON and form inputs compare equal
func compactJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}

	var buf bytes.Buffer

	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// MissingFields lists required create fields that are absent
func (p *OrderPayload) MissingFields() []string {
	var missing []string

	if p.CustomerName == "" {
		missing = append(missing, "customerName")
	}

	if p.MobileNumber == "" {
		missing = append(missing, "mobileNumber")
	}

	if p.DeliveryDate == "" {
		missing = append(missing, "deliveryDate")
	}

	if p.Product == "" {
		missing = append(missing, "product")
	}

	if len(p.Items) == 0 {
		missing = append(missing, "items")
	}

	return missing
}

func parseDeliveryDate(raw string) (time.Time, error) {
	for _, layout := range deliveryDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, apperrors.NewInvalidInputError(fmt.Sprintf("deliveryDate: cannot parse %q", raw)).
		WithContext("field", "deliveryDate")
}

func buildPayments(inputs []PaymentInput, now time.Time) ([]models.AdvancePayment, error) {
	payments := make([]models.AdvancePayment, 0, len(inputs))

	for i, in := range inputs {
		if in.Amount.IsNegative() {
			return nil, apperrors.NewValidationError(apperrors.CodeNegativeValue,
				fmt.Sprintf("advancePayments[%d]: amount must not be negative", i)).
				WithContext("index", i)
		}

		date := now

		if in.Date != nil && !in.Date.IsZero() {
			date = in.Date.UTC()
		}

		payments = append(payments, models.AdvancePayment{Amount: in.Amount, Date: date})
	}

	return payments, nil
}
