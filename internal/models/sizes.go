package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrSizesFormat means sizes was not a mapping of label to {quantity, price}
	ErrSizesFormat = errors.New("sizes must be an object mapping size label to {quantity, price}")
	// ErrNegativeValue means a quantity or price was below zero
	ErrNegativeValue = errors.New("quantity and price must not be negative")
	// ErrDuplicateSize means the same size label appeared twice
	ErrDuplicateSize = errors.New("duplicate size label")
)

// SizeQuote is the quantity ordered and unit price for one size
type SizeQuote struct {
	Quantity float64         `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// SizeEntry pairs a size label with its quote
type SizeEntry struct {
	Label string
	SizeQuote
}

// Sizes is an insertion-ordered mapping from size label to quote. It encodes as a JSON/BSON object
// whose key order matches the order the labels were first provided in.
type Sizes []SizeEntry

// Get returns the quote for label. Absent labels read as a zero quote.
func (s Sizes) Get(label string) (SizeQuote, bool) {
	for _, e := range s {
		if e.Label == label {
			return e.SizeQuote, true
		}
	}
	return SizeQuote{Price: decimal.Zero}, false
}

// Labels returns the size labels in order
func (s Sizes) Labels() []string {
	labels := make([]string, 0, len(s))

	for _, e := range s {
		labels = append(labels, e.Label)
	}
	return labels
}

// Subtotal is sum(quantity * price) over every size
func (s Sizes) Subtotal() decimal.Decimal {
	total := decimal.Zero

	for _, e := range s {
		total = total.Add(e.Price.Mul(decimal.NewFromFloat(e.Quantity)))
	}
	return total
}

// ParseSizes decodes a JSON sizes object. null or empty input yields an empty mapping.
func ParseSizes(raw []byte) (Sizes, error) {
	trimmed := bytes.TrimSpace(raw)

	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Sizes{}, nil
	}

	if trimmed[0] != '{' {
		return nil, ErrSizesFormat
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSizesFormat, err)
	}

	sizes := Sizes{}
	seen := make(map[string]struct{})

	for dec.More() {
		tok, err := dec.Token()

		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSizesFormat, err)
		}

		label, ok := tok.(string)

		if !ok {
			return nil, ErrSizesFormat
		}

		if _, dup := seen[label]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSize, label)
		}
		seen[label] = struct{}{}

		var value json.RawMessage

		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSizesFormat, err)
		}

		quote, err := parseSizeQuote(value)

		if err != nil {
			return nil, fmt.Errorf("size %q: %w", label, err)
		}

		sizes = append(sizes, SizeEntry{Label: label, SizeQuote: quote})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSizesFormat, err)
	}

	return sizes, nil
}

func parseSizeQuote(raw json.RawMessage) (SizeQuote, error) {
	quote := SizeQuote{Price: decimal.Zero}
	trimmed := bytes.TrimSpace(raw)

	if bytes.Equal(trimmed, []byte("null")) {
		return quote, nil
	}

	if len(trimmed) == 0 || trimmed[0] != '{' {
		return quote, ErrSizesFormat
	}

	var fields struct {
		Quantity *json.Number `json:"quantity"`
		Price    *json.Number `json:"price"`
	}

	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return quote, fmt.Errorf("%w: %v", ErrSizesFormat, err)
	}

	if fields.Quantity != nil && *fields.Quantity != "" {
		q, err := strconv.ParseFloat(fields.Quantity.String(), 64)

		if err != nil {
			return quote, fmt.Errorf("%w: quantity: %v", ErrSizesFormat, err)
		}
		quote.Quantity = q
	}

	if fields.Price != nil && *fields.Price != "" {
		p, err := decimal.NewFromString(fields.Price.String())

		if err != nil {
			return quote, fmt.Errorf("%w: price: %v", ErrSizesFormat, err)
		}
		quote.Price = p
	}

	if quote.Quantity < 0 || quote.Price.IsNegative() {
		return quote, ErrNegativeValue
	}

	return quote, nil
}

// MarshalJSON writes the sizes as an object in insertion order
func (s Sizes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, e := range s {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(e.Label)

		if err != nil {
			return nil, err
		}

		buf.Write(key)
		buf.WriteString(`:{"quantity":`)
		buf.WriteString(strconv.FormatFloat(e.Quantity, 'f', -1, 64))
		buf.WriteString(`,"price":`)
		buf.WriteString(e.Price.String())
		buf.WriteByte('}')
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses an object, preserving key order
func (s *Sizes) UnmarshalJSON(data []byte) error {
	parsed, err := ParseSizes(data)

	if err != nil {
		return err
	}

	*s = parsed
	return nil
}

// MarshalBSONValue stores sizes as an embedded document with Decimal128 prices
func (s Sizes) MarshalBSONValue() (bsontype.Type, []byte, error) {
	doc := make(bson.D, 0, len(s))

	for _, e := range s {
		price, err := primitive.ParseDecimal128(e.Price.String())

		if err != nil {
			return 0, nil, fmt.Errorf("size %q price: %w", e.Label, err)
		}

		doc = append(doc, bson.E{Key: e.Label, Value: bson.D{
			{Key: "quantity", Value: e.Quantity},
			{Key: "price", Value: price},
		}})
	}

	return bson.MarshalValue(doc)
}

// UnmarshalBSONValue reads an embedded document written by MarshalBSONValue
func (s *Sizes) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t == bsontype.Null || t == bsontype.Undefined {
		*s = Sizes{}
		return nil
	}

	if t != bsontype.EmbeddedDocument {
		return ErrSizesFormat
	}

	var doc bson.D

	if err := bson.Unmarshal(data, &doc); err != nil {
		return err
	}

	sizes := make(Sizes, 0, len(doc))

	for _, elem := range doc {
		fields, ok := elem.Value.(bson.D)

		if !ok {
			return fmt.Errorf("size %q: %w", elem.Key, ErrSizesFormat)
		}

		entry := SizeEntry{Label: elem.Key, SizeQuote: SizeQuote{Price: decimal.Zero}}

		for _, f := range fields {
			switch f.Key {
			case "quantity":
				entry.Quantity = bsonNumberToFloat(f.Value)
			case "price":
				price, err := bsonNumberToDecimal(f.Value)

				if err != nil {
					return fmt.Errorf("size %q price: %w", elem.Key, err)
				}
				entry.Price = price
			}
		}

		sizes = append(sizes, entry)
	}

	*s = sizes
	return nil
}

func bsonNumberToFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case primitive.Decimal128:
		d, err := decimal.NewFromString(n.String())

		if err != nil {
			return 0
		}
		return d.InexactFloat64()
	default:
		return 0
	}
}

func bsonNumberToDecimal(v interface{}) (decimal.Decimal, error) {
	switch n := v.(type) {
	case primitive.Decimal128:
		return decimal.NewFromString(n.String())
	case float64:
		return decimal.NewFromFloat(n), nil
	case int32:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case string:
		return decimal.NewFromString(n)
	default:
		return decimal.Zero, nil
	}
}
