package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] failed or
// had an open breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds backends of one kind in preference order. Each entry
// gets its own [CircuitBreaker] built from the group's config.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     CircuitBreakerConfig
}

// NewFallbackGroup creates a group with primary as the preferred entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg CircuitBreakerConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.Add(primaryName, primary)
	return g
}

// Add appends a backend. Entries are tried in the order they were added.
// Add must not be called concurrently with [Do].
func (g *FallbackGroup[T]) Add(name string, v T) {
	cfg := g.cfg
	cfg.Name = name
	g.entries = append(g.entries, fallbackEntry[T]{name: name, value: v, breaker: NewCircuitBreaker(cfg)})
}

// Names returns the entry names in preference order.
func (g *FallbackGroup[T]) Names() []string {
	names := make([]string, len(g.entries))
	for i, e := range g.entries {
		names[i] = e.name
	}
	return names
}

// Do calls fn on each entry in turn until one succeeds. Entries whose breaker
// is open are skipped. If ctx ends, Do stops and returns ctx's error. When
// every entry fails the result wraps both [ErrAllFailed] and the last error.
func Do[T, R any](ctx context.Context, g *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range g.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		e := &g.entries[i]
		var out R
		err := e.breaker.Execute(func() error {
			var err error
			out, err = fn(ctx, e.value)
			return err
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend with open circuit", "backend", e.name)
			continue
		}
		slog.Warn("backend failed, trying next", "backend", e.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
