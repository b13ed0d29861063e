package services

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"runtime"
	"testing"
)

func schemasDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine test file path")
	}
	return filepath.Join(filepath.Dir(file), "..", "..", "schemas")
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(context.Background(), schemasDir(t))
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestValidate_GenerationRequest_Valid(t *testing.T) {
	v := newTestValidator(t)

	cases := []string{
		`{"model":"Model A","style":"anime","color":"neon","size":"1024x1024","prompt":"a fox"}`,
		`{"model":"model_b","style":"oil painting","color":"pastel","size":"512x512"}`,
	}
	for _, c := range cases {
		if err := v.Validate(context.Background(), SchemaGenerationRequest, json.RawMessage(c)); err != nil {
			t.Errorf("expected valid body %s, got: %v", c, err)
		}
	}
}

func TestValidate_GenerationRequest_Invalid(t *testing.T) {
	v := newTestValidator(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing size", `{"model":"Model A","style":"anime","color":"neon"}`},
		{"empty model", `{"model":"","style":"anime","color":"neon","size":"512x512"}`},
		{"malformed size", `{"model":"Model A","style":"anime","color":"neon","size":"big"}`},
		{"unknown field", `{"model":"Model A","style":"anime","color":"neon","size":"512x512","credits":0}`},
		{"wrong type", `{"model":1,"style":"anime","color":"neon","size":"512x512"}`},
		{"not JSON", `{"model":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(context.Background(), SchemaGenerationRequest, json.RawMessage(tc.body))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got: %v", err)
			}
		})
	}
}

func TestValidate_UnknownSchema(t *testing.T) {
	v := newTestValidator(t)
	err := v.Validate(context.Background(), "nope", json.RawMessage(`{}`))
	if err == nil || errors.Is(err, ErrValidation) {
		t.Fatalf("expected unknown schema error, got: %v", err)
	}
}

func TestNewValidator_MissingDir(t *testing.T) {
	if _, err := NewValidator(context.Background(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
