package models

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestParseSizesPreservesOrder(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"XL":{"quantity":1,"price":700},"S":{"quantity":2,"price":500},"M":{"quantity":1,"price":550}}`)

	sizes, err := ParseSizes(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"XL", "S", "M"}, sizes.Labels())

	out, err := json.Marshal(sizes)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(out))
	assert.Equal(t, `{"XL":{"quantity":1,"price":700},"S":{"quantity":2,"price":500},"M":{"quantity":1,"price":550}}`, string(out))
}

func TestParseSizesSubtotal(t *testing.T) {
	t.Parallel()

	sizes, err := ParseSizes([]byte(`{"S":{"quantity":2,"price":500},"M":{"quantity":1,"price":550}}`))
	require.NoError(t, err)

	assert.True(t, sizes.Subtotal().Equal(decimal.NewFromInt(1550)))

	s, ok := sizes.Get("S")
	require.True(t, ok)
	assert.Equal(t, 2.0, s.Quantity)

	_, ok = sizes.Get("XXL")
	assert.False(t, ok)
}

func TestParseSizesRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "array", raw: `[1,2]`, want: ErrSizesFormat},
		{name: "string", raw: `"S"`, want: ErrSizesFormat},
		{name: "scalar quote", raw: `{"S":3}`, want: ErrSizesFormat},
		{name: "negative quantity", raw: `{"S":{"quantity":-1,"price":10}}`, want: ErrNegativeValue},
		{name: "negative price", raw: `{"S":{"quantity":1,"price":-10}}`, want: ErrNegativeValue},
		{name: "duplicate label", raw: `{"S":{"quantity":1},"S":{"quantity":2}}`, want: ErrDuplicateSize},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseSizes([]byte(tc.raw))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestParseSizesEmpty(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "null", "{}"} {
		sizes, err := ParseSizes([]byte(raw))
		require.NoError(t, err, raw)
		assert.Empty(t, sizes)
	}
}

func TestSizesBSONRoundTripKeepsOrder(t *testing.T) {
	t.Parallel()

	sizes, err := ParseSizes([]byte(`{"M":{"quantity":1,"price":550.25},"S":{"quantity":2,"price":500}}`))
	require.NoError(t, err)

	item := Item{Product: "Shirt", Sizes: sizes, Details: map[string]string{"collar": "Round"}}
	data, err := bson.Marshal(item)
	require.NoError(t, err)

	var decoded Item
	require.NoError(t, bson.Unmarshal(data, &decoded))

	assert.Equal(t, []string{"M", "S"}, decoded.Sizes.Labels())
	m, _ := decoded.Sizes.Get("M")
	assert.True(t, m.Price.Equal(decimal.RequireFromString("550.25")))
}

func TestImageRefAcceptsBothShapes(t *testing.T) {
	t.Parallel()

	var bare ImageRef
	require.NoError(t, json.Unmarshal([]byte(`"https://cdn.example.com/a.jpg"`), &bare))
	assert.Equal(t, ImageRef{URL: "https://cdn.example.com/a.jpg"}, bare)

	var object ImageRef
	require.NoError(t, json.Unmarshal([]byte(`{"url":"https://cdn.example.com/b.png","assetId":"orders/b.png"}`), &object))
	assert.Equal(t, ImageRef{URL: "https://cdn.example.com/b.png", AssetID: "orders/b.png"}, object)

	var missing *ImageRef
	assert.True(t, missing.Empty())
	assert.True(t, (&ImageRef{}).Empty())
	assert.False(t, object.Empty())
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusPending, OrderStatusProcessing, true},
		{OrderStatusPending, OrderStatusShipped, true},
		{OrderStatusProcessing, OrderStatusCompleted, true},
		{OrderStatusProcessing, OrderStatusPending, false},
		{OrderStatusCompleted, OrderStatusPending, false},
		{OrderStatusShipped, OrderStatusProcessing, false},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}

	assert.True(t, OrderStatusShipped.IsTerminal())
	assert.False(t, OrderStatusPending.IsTerminal())
}

func TestParseOrderStatusIsExact(t *testing.T) {
	t.Parallel()

	status, ok := ParseOrderStatus("Processing")
	assert.True(t, ok)
	assert.Equal(t, OrderStatusProcessing, status)

	for _, raw := range []string{"processing", "Unknown", ""} {
		_, ok := ParseOrderStatus(raw)
		assert.False(t, ok, raw)
	}
}

func TestNewOrderNumberFormat(t *testing.T) {
	t.Parallel()

	at := time.UnixMilli(1718000000123)
	pattern := regexp.MustCompile(`^ORD-1718000000123-[0-9a-z]{9}$`)

	seen := make(map[string]struct{})

	for i := 0; i < 1000; i++ {
		n := NewOrderNumber(at)
		require.Regexp(t, pattern, n)

		_, dup := seen[n]
		require.False(t, dup, "duplicate order number %s", n)
		seen[n] = struct{}{}
	}
}

func TestTemplateAddOption(t *testing.T) {
	t.Parallel()

	tpl := &Template{
		Name:    "Shirt",
		Details: []DetailField{{Label: "Collar", Key: "collar", Options: []string{"Round"}}},
	}

	require.NoError(t, tpl.AddOption("collar", "Mandarin"))
	assert.Equal(t, []string{"Round", "Mandarin"}, tpl.Details[0].Options)

	assert.ErrorIs(t, tpl.AddOption("collar", "Mandarin"), ErrOptionExists)
	assert.ErrorIs(t, tpl.AddOption("cuff", "French"), ErrDetailNotFound)
}

func TestTemplateValidate(t *testing.T) {
	t.Parallel()

	assert.Error(t, (&Template{}).Validate())
	assert.Error(t, (&Template{Name: "Shirt", Details: []DetailField{{Label: "A", Key: "a"}, {Label: "B", Key: "a"}}}).Validate())
	assert.NoError(t, (&Template{Name: "Shirt", Details: []DetailField{{Label: "Collar", Key: "collar"}}}).Validate())
}

func TestOrderCloneIsDeep(t *testing.T) {
	t.Parallel()

	sizes, err := ParseSizes([]byte(`{"S":{"quantity":2,"price":500}}`))
	require.NoError(t, err)

	order := NewOrder(time.Now().UTC())
	order.Items = []Item{{Product: "Shirt", Sizes: sizes, Details: map[string]string{"collar": "Round"}}}
	order.OrderImage = &ImageRef{URL: "u"}

	clone := order.Clone()
	clone.Items[0].Details["collar"] = "Mandarin"
	clone.Items[0].Sizes[0].Quantity = 9
	clone.OrderImage.URL = "changed"

	assert.Equal(t, "Round", order.Items[0].Details["collar"])
	assert.Equal(t, 2.0, order.Items[0].Sizes[0].Quantity)
	assert.Equal(t, "u", order.OrderImage.URL)
}

func TestOrderJSONIncludesTotal(t *testing.T) {
	t.Parallel()

	sizes, err := ParseSizes([]byte(`{"XL":{"quantity":1,"price":700},"S":{"quantity":2,"price":"425.25"}}`))
	require.NoError(t, err)

	order := NewOrder(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	order.OrderID = "ORD-1-abcdefghi"
	order.Items = []Item{{Product: "Shirt", Sizes: sizes, Details: map[string]string{}}}

	for _, v := range []interface{}{order, *order} {
		raw, err := json.Marshal(v)
		require.NoError(t, err)

		var decoded struct {
			OrderID string          `json:"orderId"`
			Total   decimal.Decimal `json:"total"`
		}
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, "ORD-1-abcdefghi", decoded.OrderID)
		assert.True(t, decoded.Total.Equal(decimal.RequireFromString("1550.50")), decoded.Total.String())

		var back Order
		require.NoError(t, json.Unmarshal(raw, &back))
		assert.Equal(t, []string{"XL", "S"}, back.Items[0].Sizes.Labels())
	}
}

func TestOrderIsOverdue(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	order := NewOrder(now)
	order.DeliveryDate = now.Add(-time.Hour)

	assert.True(t, order.IsOverdue(now))

	order.Status = OrderStatusProcessing
	assert.False(t, order.IsOverdue(now))
}

func TestStatusChangedEventPayload(t *testing.T) {
	t.Parallel()

	order := NewOrder(time.Now().UTC())
	order.OrderID = "ORD-1-abc"
	order.Status = OrderStatusProcessing

	msg, err := NewOrderStatusChangedEvent(order, OrderStatusPending, true)
	require.NoError(t, err)
	assert.Equal(t, EventOrderStatusChanged, msg.EventType)
	assert.Equal(t, OutboxStatusPending, msg.Status)

	var decoded struct {
		EventType string       `json:"event_type"`
		Data      StatusChange `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
	assert.Equal(t, OrderStatusPending, decoded.Data.OldStatus)
	assert.Equal(t, OrderStatusProcessing, decoded.Data.NewStatus)
	assert.True(t, decoded.Data.Automatic)
}
