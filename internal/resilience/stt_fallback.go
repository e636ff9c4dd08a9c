package resilience

import (
	"context"

	"github.com/MrWong99/tutorlive/pkg/provider/stt"
)

// TranscriberFallback is an [stt.Provider] that fails over between
// transcription backends.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a fallback chain with primary preferred.
func NewTranscriberFallback(primary stt.Provider, primaryName string, cfg CircuitBreakerConfig) *TranscriberFallback {
	return &TranscriberFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend to the chain.
func (f *TranscriberFallback) AddFallback(name string, p stt.Provider) {
	f.group.Add(name, p)
}

// Transcribe implements [stt.Provider].
func (f *TranscriberFallback) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	return Do(ctx, f.group, func(ctx context.Context, p stt.Provider) (string, error) {
		return p.Transcribe(ctx, audio, mimeType)
	})
}
