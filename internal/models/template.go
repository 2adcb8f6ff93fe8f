package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Catalog kinds. Both catalogs share the template shape.
const (
	CatalogProducts     = "products"
	CatalogOrderOptions = "order-options"
)

var (
	// ErrDetailNotFound means the template has no detail with the requested key
	ErrDetailNotFound = errors.New("detail key not found")
	// ErrOptionExists means the option is already in the detail's option set
	ErrOptionExists = errors.New("option already exists")
)

// Template is a reusable product definition: selectable sizes and configurable detail fields
type Template struct {
	ID        string        `json:"id" bson:"_id" db:"id"`
	Name      string        `json:"name" bson:"name" db:"name"`
	Sizes     []string      `json:"sizes" bson:"sizes"`
	Details   []DetailField `json:"details" bson:"details"`
	CreatedAt time.Time     `json:"createdAt" bson:"createdAt" db:"created_at"`
	UpdatedAt time.Time     `json:"updatedAt" bson:"updatedAt" db:"updated_at"`
}

// DetailField is one configurable attribute such as collar or cuff style
type DetailField struct {
	Label   string   `json:"label" bson:"label"`
	Key     string   `json:"key" bson:"key"`
	Options []string `json:"options" bson:"options"`
}

// Validate checks the template's structural invariants
func (t *Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("name is required")
	}

	keys := make(map[string]struct{}, len(t.Details))

	for i, d := range t.Details {
		if strings.TrimSpace(d.Label) == "" || strings.TrimSpace(d.Key) == "" {
			return fmt.Errorf("details[%d]: label and key are required", i)
		}

		if _, dup := keys[d.Key]; dup {
			return fmt.Errorf("details[%d]: duplicate key %q", i, d.Key)
		}
		keys[d.Key] = struct{}{}
	}

	return nil
}

// Detail returns the detail field with the given key
func (t *Template) Detail(key string) (*DetailField, bool) {
	for i := range t.Details {
		if t.Details[i].Key == key {
			return &t.Details[i], true
		}
	}
	return nil, false
}

// HasSize reports whether label is one of the allowed sizes
func (t *Template) HasSize(label string) bool {
	for _, s := range t.Sizes {
		if s == label {
			return true
		}
	}
	return false
}

// AddOption appends option to the detail's option set
func (t *Template) AddOption(key, option string) error {
	detail, ok := t.Detail(key)

	if !ok {
		return ErrDetailNotFound
	}

	if detail.HasOption(option) {
		return ErrOptionExists
	}

	detail.Options = append(detail.Options, option)
	return nil
}

// HasOption reports whether option is allowed for the detail
func (d DetailField) HasOption(option string) bool {
	for _, o := range d.Options {
		if o == option {
			return true
		}
	}
	return false
}

// Normalize fills nil collections so templates always encode as arrays
func (t *Template) Normalize() {
	if t.Sizes == nil {
		t.Sizes = []string{}
	}

	if t.Details == nil {
		t.Details = []DetailField{}
	}

	for i := range t.Details {
		if t.Details[i].Options == nil {
			t.Details[i].Options = []string{}
		}
	}
}

// Clone returns a deep copy
func (t *Template) Clone() *Template {
	clone := *t
	clone.Sizes = append([]string(nil), t.Sizes...)
	clone.Details = make([]DetailField, len(t.Details))

	for i, d := range t.Details {
		clone.Details[i] = DetailField{Label: d.Label, Key: d.Key, Options: append([]string(nil), d.Options...)}
	}

	clone.Normalize()
	return &clone
}
