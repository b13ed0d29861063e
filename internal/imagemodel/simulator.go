// Package imagemodel simulates the image generation backends. A fixed share
// of calls fail with a model-side error; the rest yield a placeholder URL on
// the model's host.
package imagemodel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"time"

	"github.com/inaiurai/imagegen/internal/catalog"
	"github.com/inaiurai/imagegen/internal/models"
)

const DefaultFailureRate = 0.05

// ErrGenerationFailed marks a model-side failure. It is final for the
// request and triggers a refund; any other error is retried.
var ErrGenerationFailed = errors.New("image generation failed")

var failureMessages = []string{
	"Model processing timeout",
	"Insufficient GPU resources",
	"Content filter violation",
	"Model overload - please retry",
	"Network connection failed",
}

// FailureError carries the user-facing failure message.
type FailureError struct {
	Message string
}

func (e *FailureError) Error() string { return e.Message }
func (e *FailureError) Unwrap() error { return ErrGenerationFailed }

type Simulator struct {
	Catalog     *catalog.Catalog
	FailureRate float64
	// Latency is how long a call takes; zero returns immediately.
	Latency time.Duration
	// Float64 and IntN default to math/rand/v2.
	Float64 func() float64
	IntN    func(n int) int
}

func NewSimulator(cat *catalog.Catalog, failureRate float64, latency time.Duration) *Simulator {
	return &Simulator{Catalog: cat, FailureRate: failureRate, Latency: latency}
}

// Generate renders the request or returns a *FailureError.
func (s *Simulator) Generate(ctx context.Context, req *models.GenerationRequest) (string, error) {
	if s.Latency > 0 {
		timer := time.NewTimer(s.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	model, ok := s.Catalog.Model(req.Model)
	if !ok {
		return "", &FailureError{Message: fmt.Sprintf("Unknown model %s", req.Model)}
	}

	if s.roll() < s.FailureRate {
		msg := failureMessages[s.pick(len(failureMessages))]
		slog.Warn("simulated generation failure", "request_id", req.ID, "model", req.Model, "error", msg)
		return "", &FailureError{Message: msg}
	}

	q := url.Values{}
	q.Set("model", model.ID)
	q.Set("style", req.Style)
	q.Set("color", req.Color)
	q.Set("size", req.Size)
	return fmt.Sprintf("%s/generated/%s?%s", model.ImageHost, req.ID, q.Encode()), nil
}

func (s *Simulator) roll() float64 {
	if s.Float64 != nil {
		return s.Float64()
	}
	return rand.Float64()
}

func (s *Simulator) pick(n int) int {
	if s.IntN != nil {
		return s.IntN(n)
	}
	return rand.IntN(n)
}
