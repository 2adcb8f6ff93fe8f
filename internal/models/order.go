package models

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultOrderType is the channel tag for orders taken in the shop
const DefaultOrderType = "walk-in"

// Order represents a customer order
type Order struct {
	ID               string           `json:"id" bson:"_id"`
	OrderID          string           `json:"orderId" bson:"orderId,omitempty"`
	CustomerName     string           `json:"customerName" bson:"customerName"`
	MobileNumber     string           `json:"mobileNumber" bson:"mobileNumber"`
	Email            string           `json:"email,omitempty" bson:"email,omitempty"`
	Address          string           `json:"address,omitempty" bson:"address,omitempty"`
	OrderDate        time.Time        `json:"orderDate" bson:"orderDate"`
	DeliveryDate     time.Time        `json:"deliveryDate" bson:"deliveryDate"`
	Status           OrderStatus      `json:"status" bson:"status"`
	Product          string           `json:"product" bson:"product"`
	OrderType        string           `json:"orderType" bson:"orderType"`
	Items            []Item           `json:"items" bson:"items"`
	AdvancePayments  []AdvancePayment `json:"advancePayments" bson:"advancePayments"`
	OrderDescription string           `json:"orderDescription,omitempty" bson:"orderDescription,omitempty"`
	OrderImage       *ImageRef        `json:"orderImage" bson:"orderImage"`
	CreatedAt        time.Time        `json:"createdAt" bson:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt" bson:"updatedAt"`
}

// Item is one product line within an order
type Item struct {
	Product string            `json:"product" bson:"product"`
	Sizes   Sizes             `json:"sizes" bson:"sizes"`
	Details map[string]string `json:"details" bson:"details"`
}

// AdvancePayment records money taken before delivery
type AdvancePayment struct {
	Amount decimal.Decimal `json:"amount" bson:"amount"`
	Date   time.Time       `json:"date" bson:"date"`
}

// ImageRef locates an uploaded order image. AssetID is what the asset store needs to delete it later.
type ImageRef struct {
	URL     string `json:"url" bson:"url"`
	AssetID string `json:"assetId,omitempty" bson:"assetId,omitempty"`
}

// UnmarshalJSON accepts either a bare locator string or a {url, assetId} object
func (r *ImageRef) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)

	if len(trimmed) > 0 && trimmed[0] == '"' {
		var url string

		if err := json.Unmarshal(trimmed, &url); err != nil {
			return err
		}

		*r = ImageRef{URL: url}
		return nil
	}

	type plain ImageRef
	var ref plain

	if err := json.Unmarshal(trimmed, &ref); err != nil {
		return err
	}

	*r = ImageRef(ref)
	return nil
}

// Empty reports whether the reference points nowhere
func (r *ImageRef) Empty() bool {
	return r == nil || (r.URL == "" && r.AssetID == "")
}

// NewOrder builds a Pending order stamped at now. Items are expected to be validated already.
func NewOrder(now time.Time) *Order {
	return &Order{
		ID:              GenerateID(),
		OrderDate:       now,
		Status:          OrderStatusPending,
		OrderType:       DefaultOrderType,
		Items:           []Item{},
		AdvancePayments: []AdvancePayment{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// IsOverdue reports whether the order is still Pending after its delivery date
func (o *Order) IsOverdue(asOf time.Time) bool {
	return o.Status == OrderStatusPending && o.DeliveryDate.Before(asOf)
}

// Total sums every item's sizes
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero

	for _, item := range o.Items {
		total = total.Add(item.Sizes.Subtotal())
	}
	return total
}

// MarshalJSON adds the computed order total to the stored fields
func (o Order) MarshalJSON() ([]byte, error) {
	type stored Order

	return json.Marshal(struct {
		stored
		Total decimal.Decimal `json:"total"`
	}{stored: stored(o), Total: o.Total()})
}

// Clone returns a deep copy so callers can mutate without touching stored state
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}

	clone := *o
	clone.Items = make([]Item, len(o.Items))

	for i, item := range o.Items {
		clone.Items[i] = item.Clone()
	}

	clone.AdvancePayments = append([]AdvancePayment(nil), o.AdvancePayments...)

	if clone.AdvancePayments == nil {
		clone.AdvancePayments = []AdvancePayment{}
	}

	if o.OrderImage != nil {
		img := *o.OrderImage
		clone.OrderImage = &img
	}

	return &clone
}

// Clone returns a deep copy of the item
func (i Item) Clone() Item {
	clone := Item{Product: i.Product, Sizes: append(Sizes{}, i.Sizes...), Details: make(map[string]string, len(i.Details))}

	for k, v := range i.Details {
		clone.Details[k] = v
	}
	return clone
}
