package gateway

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/genai"

	"github.com/MrWong99/tutorlive/internal/resilience"
)

var (
	// ErrMissingCredential is returned before any remote call when no API
	// key is configured in the environment.
	ErrMissingCredential = errors.New("gateway: api key is missing")

	// ErrNoResponse is returned when the model replied without any text.
	ErrNoResponse = errors.New("gateway: no response received from the model")

	// ErrMalformedResponse is returned when a structured reply cannot be
	// parsed and no degraded result applies.
	ErrMalformedResponse = errors.New("gateway: malformed model response")

	// ErrNoAudioReturned is returned by [Gateway.GenerateSpeech] when the
	// reply carries no audio payload.
	ErrNoAudioReturned = errors.New("gateway: no audio data received")

	// ErrNoAnalysisReturned is returned by [Gateway.AnalyzeVideo] when the
	// reply is empty.
	ErrNoAnalysisReturned = errors.New("gateway: no analysis generated")
)

// UserMessage maps an error from this package to the single line shown to
// the user. Detail stays in the logs.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingCredential):
		return "API Key is missing. Please check your environment variables."
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "The tutor is temporarily unavailable. Please try again in a moment."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request took too long. Please try again."
	case errors.Is(err, ErrNoAudioReturned):
		return "Failed to generate audio explanation."
	case errors.Is(err, ErrNoAnalysisReturned):
		return "Failed to analyze video content. Ensure the file is supported and try again."
	default:
		return "Failed to process the request. Please try again."
	}
}

// permanent reports errors that say nothing about upstream health.
func permanent(err error) bool {
	return errors.Is(err, ErrMissingCredential) || errors.Is(err, context.Canceled)
}

func isCircuitOpen(err error) bool {
	return errors.Is(err, resilience.ErrCircuitOpen)
}

// IsFailure is the circuit breaker classifier for model calls. Client errors
// (HTTP 4xx) describe the request, not the upstream, and do not count;
// rate limiting (429) does.
func IsFailure(err error) bool {
	if !resilience.CountsAsFailure(err) {
		return false
	}
	if code, ok := apiErrorCode(err); ok && code >= 400 && code < 500 {
		return code == http.StatusTooManyRequests
	}
	return true
}

func apiErrorCode(err error) (int, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v.Code, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return p.Code, true
	}
	return 0, false
}
