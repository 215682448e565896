package flow

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Recognized field keys for the staged product record. "stock" and
// "quantity" are interchangeable on input.
const (
	FieldName        = "name"
	FieldPrice       = "price"
	FieldStock       = "stock"
	FieldQuantity    = "quantity"
	FieldDescription = "description"
	FieldDesc        = "desc"
)

// ParseFields splits a free-text block into named fields. Each non-empty
// line is split on the first colon; keys are trimmed and lowercased, values
// are trimmed. Lines without a colon and empty values are discarded. A colon
// inside a value is preserved.
func ParseFields(text string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		fields[key] = value
	}
	return fields
}

// StagedProduct is the typed staged record accumulated across input turns.
// Pointer fields distinguish "not yet supplied" from zero values.
type StagedProduct struct {
	Name        string
	Price       *float64
	Quantity    *int
	Description string
}

// IsComplete reports whether all required fields are present. Description
// stays optional.
func (p StagedProduct) IsComplete() bool {
	return p.Name != "" && p.Price != nil && p.Quantity != nil
}

// MissingFields lists required fields not yet supplied, in display order.
func (p StagedProduct) MissingFields() []string {
	var missing []string
	if p.Name == "" {
		missing = append(missing, "Name")
	}
	if p.Price == nil {
		missing = append(missing, "Price")
	}
	if p.Quantity == nil {
		missing = append(missing, "Stock")
	}
	return missing
}

// Summary renders the currently accepted values, one per line.
func (p StagedProduct) Summary() string {
	var lines []string
	if p.Name != "" {
		lines = append(lines, "Name: "+p.Name)
	}
	if p.Price != nil {
		lines = append(lines, fmt.Sprintf("Price: %.2f", *p.Price))
	}
	if p.Quantity != nil {
		lines = append(lines, fmt.Sprintf("Stock: %d", *p.Quantity))
	}
	if p.Description != "" {
		lines = append(lines, "Description: "+p.Description)
	}
	return strings.Join(lines, "\n")
}

// MergeAndValidate applies newFields onto existing and returns the merged
// record plus user-facing error messages for invalid values. Merging is
// monotonic: a field only changes when newFields supplies a value for it,
// and an invalid supplied value leaves any previously accepted value intact.
func MergeAndValidate(existing StagedProduct, newFields map[string]string) (StagedProduct, []string) {
	record := existing
	var errs []string

	// Deterministic error order for stable re-prompts.
	keys := make([]string, 0, len(newFields))
	for k := range newFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := newFields[key]
		switch key {
		case FieldName:
			if strings.TrimSpace(value) == "" {
				errs = append(errs, "Name must not be empty.")
				continue
			}
			record.Name = strings.TrimSpace(value)
		case FieldPrice:
			price, err := strconv.ParseFloat(value, 64)
			if err != nil || math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
				errs = append(errs, fmt.Sprintf("Price %q must be a positive number.", value))
				continue
			}
			record.Price = &price
		case FieldStock, FieldQuantity:
			qty, err := strconv.Atoi(value)
			if err != nil || qty < 0 {
				errs = append(errs, fmt.Sprintf("Stock %q must be a whole number of zero or more.", value))
				continue
			}
			record.Quantity = &qty
		case FieldDescription, FieldDesc:
			record.Description = value
		default:
			// Unrecognized keys are ignored rather than rejected, so users
			// can paste surrounding text without breaking the merge.
		}
	}
	return record, errs
}

// stagedProductFromContext retrieves the typed staged record from the
// session's generic context bag, returning the zero record when absent.
func stagedProductFromContext(ctx map[string]any, key string) StagedProduct {
	if v, ok := ctx[key]; ok {
		if record, ok := v.(StagedProduct); ok {
			return record
		}
	}
	return StagedProduct{}
}

// imageRefFromContext retrieves a staged image reference from the context bag.
func imageRefFromContext(ctx map[string]any, key string) (ImageRef, bool) {
	if v, ok := ctx[key]; ok {
		if ref, ok := v.(ImageRef); ok {
			return ref, true
		}
	}
	return ImageRef{}, false
}
