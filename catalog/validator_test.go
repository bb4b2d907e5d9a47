package catalog_test

import (
	"encoding/json"
	"testing"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/event"
)

func TestValidatorKindWithoutSchema(t *testing.T) {
	v, err := catalog.NewValidator(nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := v.Validate(event.KindLinkClick, map[string]any{"key": "value"}); err != nil {
		t.Fatal("kind without schema should accept anything, got:", err)
	}
}

func TestValidatorRequiredAndTypes(t *testing.T) {
	v, err := catalog.NewValidator(map[event.Kind]map[string]any{
		event.KindFormSubmission: {
			"type": "object",
			"properties": map[string]any{
				"formId": map[string]any{"type": "string"},
				"fields": map[string]any{"type": "object"},
			},
			"required": []any{"formId"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		data    any
		wantErr bool
	}{
		{"valid map", map[string]any{"formId": "f1", "fields": map[string]any{"email": "a@b.c"}}, false},
		{"valid raw", json.RawMessage(`{"formId":"f1"}`), false},
		{"valid struct", struct {
			FormID string `json:"formId"`
		}{"f1"}, false},
		{"missing required", map[string]any{"fields": map[string]any{}}, true},
		{"wrong type", map[string]any{"formId": 7}, true},
		{"not an object", []any{1, 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(event.KindFormSubmission, tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatorRejectsBrokenSchema(t *testing.T) {
	_, err := catalog.NewValidator(map[event.Kind]map[string]any{
		event.KindProfileView: {"type": 12},
	})
	if err == nil {
		t.Fatal("expected compile error for invalid schema")
	}
}
