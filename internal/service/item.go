package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sajanshree/order-api/internal/models"
	apperrors "github.com/sajanshree/order-api/pkg/errors"
)

// ValidateItem checks one raw item and returns its canonical form.
// Missing quantity or price read as zero; negatives are rejected rather than clamped.
func ValidateItem(raw RawItem) (models.Item, error) {
	product := strings.TrimSpace(raw.Product)

	if product == "" {
		return models.Item{}, apperrors.NewValidationError(apperrors.CodeMissingField, "product is required").
			WithContext("field", "product")
	}

	sizes, err := models.ParseSizes(raw.Sizes)

	if err != nil {
		if errors.Is(err, models.ErrNegativeValue) {
			return models.Item{}, apperrors.NewValidationError(apperrors.CodeNegativeValue, err.Error()).
				WithContext("field", "sizes")
		}
		return models.Item{}, apperrors.NewValidationError(apperrors.CodeInvalidSizesFormat, err.Error()).
			WithContext("field", "sizes")
	}

	details, err := parseDetails(raw.Details)

	if err != nil {
		return models.Item{}, apperrors.NewValidationError(apperrors.CodeInvalidItemFormat, err.Error()).
			WithContext("field", "details")
	}

	return models.Item{Product: product, Sizes: sizes, Details: details}, nil
}

func parseDetails(raw json.RawMessage) (map[string]string, error) {
	trimmed := bytes.TrimSpace(raw)
	details := map[string]string{}

	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return details, nil
	}

	if trimmed[0] != '{' {
		return nil, errors.New("details must be an object mapping detail key to option")
	}

	var values map[string]interface{}

	if err := json.Unmarshal(trimmed, &values); err != nil {
		return nil, fmt.Errorf("details: %v", err)
	}

	for key, value := range values {
		switch v := value.(type) {
		case nil:
		case string:
			details[key] = v
		case float64, bool:
			details[key] = fmt.Sprint(v)
		default:
			return nil, fmt.Errorf("details[%q] must be a scalar option", key)
		}
	}

	return details, nil
}

// validateItems validates every item, aborting on the first failure with its position
func validateItems(raw []RawItem) ([]models.Item, error) {
	items := make([]models.Item, 0, len(raw))

	for i, r := range raw {
		item, err := ValidateItem(r)

		if err != nil {
			return nil, apperrors.NewValidationError(apperrors.CodeInvalidItemFormat,
				fmt.Sprintf("items[%d]: %v", i, err)).
				WithContext("index", i).
				WithContext("reason", apperrors.CodeOf(err))
		}
		items = append(items, item)
	}

	return items, nil
}

// checkAgainstCatalog verifies an item only uses what its product template allows
func checkAgainstCatalog(index int, item models.Item, tpl *models.Template) error {
	if len(tpl.Sizes) > 0 {
		for _, label := range item.Sizes.Labels() {
			if !tpl.HasSize(label) {
				return apperrors.NewValidationError(apperrors.CodeUnknownSize,
					fmt.Sprintf("items[%d]: size %q is not offered for %s", index, label, tpl.Name)).
					WithContext("index", index)
			}
		}
	}

	for key, option := range item.Details {
		detail, ok := tpl.Detail(key)

		if !ok {
			return apperrors.NewValidationError(apperrors.CodeUnknownDetail,
				fmt.Sprintf("items[%d]: %s has no detail %q", index, tpl.Name, key)).
				WithContext("index", index)
		}

		if len(detail.Options) > 0 && !detail.HasOption(option) {
			return apperrors.NewValidationError(apperrors.CodeUnknownDetail,
				fmt.Sprintf("items[%d]: %q is not an option of %s", index, option, key)).
				WithContext("index", index)
		}
	}

	return nil
}
