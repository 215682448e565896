package flow

import (
	"strings"
	"testing"
)

func TestParseFields(t *testing.T) {
	fields := ParseFields("Name: Blue Mug\nPrice: 9.99\n\nStock: 3")
	if len(fields) != 3 {
		t.Fatalf("expected 3 fields, got %d: %v", len(fields), fields)
	}
	if fields["name"] != "Blue Mug" {
		t.Errorf("expected name 'Blue Mug', got %q", fields["name"])
	}
	if fields["price"] != "9.99" {
		t.Errorf("expected price '9.99', got %q", fields["price"])
	}
	if fields["stock"] != "3" {
		t.Errorf("expected stock '3', got %q", fields["stock"])
	}
}

func TestParseFieldsKeepsColonInsideValue(t *testing.T) {
	fields := ParseFields("Description: color: blue, size: large")
	if fields["description"] != "color: blue, size: large" {
		t.Errorf("colon inside value not preserved: %q", fields["description"])
	}
}

func TestParseFieldsDiscardsMalformedLines(t *testing.T) {
	fields := ParseFields("just some text\nName:\n: orphan value\nPrice: 5")
	if len(fields) != 1 {
		t.Errorf("expected only the price field, got %v", fields)
	}
	if _, ok := fields["name"]; ok {
		t.Error("empty value must be discarded")
	}
}

func TestParseFieldsLowercasesKeys(t *testing.T) {
	fields := ParseFields("NAME: Widget\n  PrIcE  : 2.50")
	if fields["name"] != "Widget" || fields["price"] != "2.50" {
		t.Errorf("keys not normalized: %v", fields)
	}
}

func TestMergeAndValidateMonotonicAccumulation(t *testing.T) {
	record, errs := MergeAndValidate(StagedProduct{}, map[string]string{"name": "Widget"})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if record.Name != "Widget" {
		t.Fatalf("expected name set, got %q", record.Name)
	}

	record, errs = MergeAndValidate(record, map[string]string{"price": "cheap", "stock": "4"})
	if record.Name != "Widget" {
		t.Error("previously accepted name must survive later merges")
	}
	if record.Price != nil {
		t.Error("invalid price must not be stored")
	}
	if record.Quantity == nil || *record.Quantity != 4 {
		t.Errorf("expected quantity 4, got %v", record.Quantity)
	}
	if len(errs) != 1 || !strings.Contains(errs[0], "Price") {
		t.Errorf("expected exactly one price error, got %v", errs)
	}
}

func TestMergeAndValidateInvalidValueKeepsPriorValue(t *testing.T) {
	price := 9.99
	record, errs := MergeAndValidate(StagedProduct{Price: &price}, map[string]string{"price": "-3"})
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %v", errs)
	}
	if record.Price == nil || *record.Price != 9.99 {
		t.Errorf("prior valid price must be untouched by an invalid update, got %v", record.Price)
	}
}

func TestMergeAndValidatePriceRules(t *testing.T) {
	cases := []struct {
		value string
		ok    bool
	}{
		{"9.99", true},
		{"1", true},
		{"0", false},
		{"-1.5", false},
		{"NaN", false},
		{"Inf", false},
		{"abc", false},
	}
	for _, tc := range cases {
		record, errs := MergeAndValidate(StagedProduct{}, map[string]string{"price": tc.value})
		if tc.ok && (len(errs) != 0 || record.Price == nil) {
			t.Errorf("price %q: expected accept, got errs=%v", tc.value, errs)
		}
		if !tc.ok && (len(errs) == 0 || record.Price != nil) {
			t.Errorf("price %q: expected reject", tc.value)
		}
	}
}

func TestMergeAndValidateQuantityRules(t *testing.T) {
	record, errs := MergeAndValidate(StagedProduct{}, map[string]string{"quantity": "0"})
	if len(errs) != 0 || record.Quantity == nil || *record.Quantity != 0 {
		t.Errorf("quantity 0 must be accepted, got errs=%v qty=%v", errs, record.Quantity)
	}

	record, errs = MergeAndValidate(StagedProduct{}, map[string]string{"stock": "2.5"})
	if len(errs) != 1 || record.Quantity != nil {
		t.Errorf("fractional stock must be rejected, got errs=%v qty=%v", errs, record.Quantity)
	}
}

func TestMergeAndValidateIgnoresUnknownKeys(t *testing.T) {
	record, errs := MergeAndValidate(StagedProduct{}, map[string]string{"color": "blue", "desc": "roomy"})
	if len(errs) != 0 {
		t.Errorf("unknown keys must not produce errors: %v", errs)
	}
	if record.Description != "roomy" {
		t.Errorf("desc alias not applied, got %q", record.Description)
	}
}

func TestIsCompleteRequiresNamePriceQuantity(t *testing.T) {
	price := 1.0
	qty := 1
	cases := []struct {
		record   StagedProduct
		complete bool
	}{
		{StagedProduct{}, false},
		{StagedProduct{Name: "x"}, false},
		{StagedProduct{Name: "x", Price: &price}, false},
		{StagedProduct{Name: "x", Price: &price, Quantity: &qty}, true},
		{StagedProduct{Price: &price, Quantity: &qty}, false},
	}
	for i, tc := range cases {
		if got := tc.record.IsComplete(); got != tc.complete {
			t.Errorf("case %d: IsComplete() = %v, want %v", i, got, tc.complete)
		}
	}
}

func TestMissingFieldsOrder(t *testing.T) {
	missing := StagedProduct{}.MissingFields()
	want := []string{"Name", "Price", "Stock"}
	if len(missing) != len(want) {
		t.Fatalf("expected %v, got %v", want, missing)
	}
	for i := range want {
		if missing[i] != want[i] {
			t.Errorf("expected %v, got %v", want, missing)
			break
		}
	}
}

func TestSummaryShowsOnlyAcceptedValues(t *testing.T) {
	price := 9.99
	record := StagedProduct{Name: "Widget", Price: &price}
	summary := record.Summary()
	if !strings.Contains(summary, "Name: Widget") || !strings.Contains(summary, "Price: 9.99") {
		t.Errorf("summary missing accepted values: %q", summary)
	}
	if strings.Contains(summary, "Stock") {
		t.Errorf("summary must not mention unset fields: %q", summary)
	}
}
