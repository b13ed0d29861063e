package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// maxBodyBytes caps request bodies read for validation.
const maxBodyBytes = 64 << 10

// BodyValidator validates a JSON document against a named schema.
type BodyValidator interface {
	Validate(ctx context.Context, name string, doc json.RawMessage) error
}

// ValidateBody rejects bodies that do not match the named JSON schema with
// 400. It reads the body and replaces r.Body so downstream handlers can
// re-read it.
func ValidateBody(v BodyValidator, schema string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			r.Body.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "failed to read body")
				return
			}
			if len(bodyBytes) > maxBodyBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "body too large")
				return
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			if err := v.Validate(r.Context(), schema, bodyBytes); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
