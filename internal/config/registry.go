package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/tutorlive/internal/history"
	"github.com/MrWong99/tutorlive/pkg/provider/stt"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// TranscriberFactory builds a transcription provider. apiKey is the value of
// the configured APIKeyEnv variable.
type TranscriberFactory func(cfg TranscriptionConfig, apiKey string) (stt.Provider, error)

// HistoryFactory opens a history store. The returned close function releases
// its connections; it is never nil on success.
type HistoryFactory func(ctx context.Context, cfg HistoryConfig) (history.Store, func(), error)

// Registry maps backend names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu          sync.RWMutex
	transcriber map[string]TranscriberFactory
	history     map[string]HistoryFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcriber: make(map[string]TranscriberFactory),
		history:     make(map[string]HistoryFactory),
	}
}

// RegisterTranscriber registers a transcription factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscriber(name string, f TranscriberFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber[name] = f
}

// RegisterHistory registers a history store factory under name.
func (r *Registry) RegisterHistory(name string, f HistoryFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[name] = f
}

// CreateTranscriber builds the provider registered under cfg.Backend.
// Returns [ErrBackendNotRegistered] for an unknown name.
func (r *Registry) CreateTranscriber(cfg TranscriptionConfig, apiKey string) (stt.Provider, error) {
	r.mu.RLock()
	f, ok := r.transcriber[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcription/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return f(cfg, apiKey)
}

// CreateHistory opens the store registered under cfg.Backend.
func (r *Registry) CreateHistory(ctx context.Context, cfg HistoryConfig) (history.Store, func(), error) {
	r.mu.RLock()
	f, ok := r.history[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: history/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return f(ctx, cfg)
}
