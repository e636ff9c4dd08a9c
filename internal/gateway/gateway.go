// Package gateway issues the one-shot tutoring requests to the remote model:
// solving a problem, narrating a solution, making a flashcard, analysing a
// video, and transcribing a recording.
//
// Every operation reads the API key from the environment first and fails with
// [ErrMissingCredential] before any network call when it is absent. Calls are
// never retried. A [resilience.CircuitBreaker] shared by all operations fails
// fast while the remote model keeps erroring.
//
// A [Gateway] is safe for concurrent use; independent calls may overlap.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/MrWong99/tutorlive/internal/observe"
	"github.com/MrWong99/tutorlive/internal/resilience"
	"github.com/MrWong99/tutorlive/pkg/provider/stt"
)

// Generator is the one call the gateway needs from the model SDK. It matches
// [genai.Models.GenerateContent].
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeneratorFactory builds a [Generator] for an API key.
type GeneratorFactory func(ctx context.Context, apiKey string) (Generator, error)

// Models names the remote model used by each operation.
type Models struct {
	Standard   string
	Fast       string
	Search     string
	Speech     string
	Flashcard  string
	Video      string
	Transcribe string

	// SpeechVoice is the prebuilt voice used for narration.
	SpeechVoice string
}

// DefaultModels returns the stock model selection.
func DefaultModels() Models {
	return Models{
		Standard:    "gemini-2.5-flash",
		Fast:        "gemini-2.5-flash-lite",
		Search:      "gemini-2.5-flash",
		Speech:      "gemini-2.5-flash-preview-tts",
		Flashcard:   "gemini-2.5-flash",
		Video:       "gemini-2.5-flash",
		Transcribe:  "gemini-2.5-flash",
		SpeechVoice: "Kore",
	}
}

// DefaultCredentialEnv lists the environment variables checked for the API
// key, in order.
var DefaultCredentialEnv = []string{"API_KEY", "GEMINI_API_KEY"}

const defaultFlashcardTTL = time.Hour

// Option is a functional option for [New].
type Option func(*Gateway)

// WithModels overrides the model selection. Empty fields keep their default.
func WithModels(m Models) Option {
	return func(g *Gateway) {
		def := g.models
		pick := func(v, d string) string {
			if v == "" {
				return d
			}
			return v
		}
		g.models = Models{
			Standard:    pick(m.Standard, def.Standard),
			Fast:        pick(m.Fast, def.Fast),
			Search:      pick(m.Search, def.Search),
			Speech:      pick(m.Speech, def.Speech),
			Flashcard:   pick(m.Flashcard, def.Flashcard),
			Video:       pick(m.Video, def.Video),
			Transcribe:  pick(m.Transcribe, def.Transcribe),
			SpeechVoice: pick(m.SpeechVoice, def.SpeechVoice),
		}
	}
}

// WithCredentialEnv sets the environment variables checked for the API key.
func WithCredentialEnv(names ...string) Option {
	return func(g *Gateway) {
		if len(names) > 0 {
			g.credentialEnv = names
		}
	}
}

// WithLookupEnv replaces [os.LookupEnv] for credential lookup.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(g *Gateway) { g.lookupEnv = fn }
}

// WithGeneratorFactory replaces the genai-backed generator.
func WithGeneratorFactory(f GeneratorFactory) Option {
	return func(g *Gateway) { g.factory = f }
}

// WithBaseURL points the default genai client at a different endpoint.
func WithBaseURL(u string) Option {
	return func(g *Gateway) { g.baseURL = u }
}

// WithBreaker sets the circuit breaker wrapping every remote call. Give it
// [IsFailure] as classifier so rejected requests do not open it.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(g *Gateway) { g.breaker = cb }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// WithFlashcardTTL sets how long generated flashcards are cached. Zero
// disables the cache.
func WithFlashcardTTL(d time.Duration) Option {
	return func(g *Gateway) { g.flashcardTTL = d }
}

// WithTranscriber routes [Gateway.Transcribe] to p first, falling back to the
// model's own transcription when p fails.
func WithTranscriber(p stt.Provider, name string) Option {
	return func(g *Gateway) {
		g.sttPrimary = p
		g.sttName = name
	}
}

// Gateway issues one-shot model requests.
type Gateway struct {
	models        Models
	credentialEnv []string
	lookupEnv     func(string) (string, bool)
	factory       GeneratorFactory
	baseURL       string
	breaker       *resilience.CircuitBreaker
	metrics       *observe.Metrics
	log           *slog.Logger
	flashcardTTL  time.Duration
	flashcards    *gocache.Cache
	sttPrimary    stt.Provider
	sttName       string
	transcriber   stt.Provider

	mu     sync.Mutex
	gen    Generator
	genKey string
}

// New creates a Gateway. No network activity happens until the first call.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		models:        DefaultModels(),
		credentialEnv: DefaultCredentialEnv,
		lookupEnv:     os.LookupEnv,
		log:           slog.Default(),
		flashcardTTL:  defaultFlashcardTTL,
	}
	for _, o := range opts {
		o(g)
	}
	if g.factory == nil {
		g.factory = genaiFactory(g.baseURL)
	}
	if g.breaker == nil {
		g.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "gemini", IsFailure: IsFailure})
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	if g.flashcardTTL > 0 {
		g.flashcards = gocache.New(g.flashcardTTL, 2*g.flashcardTTL)
	}
	if g.sttPrimary != nil {
		fb := resilience.NewTranscriberFallback(g.sttPrimary, g.sttName, resilience.CircuitBreakerConfig{})
		fb.AddFallback("gemini", geminiTranscriber{g: g})
		g.transcriber = fb
	} else {
		g.transcriber = geminiTranscriber{g: g}
	}
	return g
}

// Models returns the active model selection.
func (g *Gateway) Models() Models { return g.models }

// HasCredential reports whether an API key is configured.
func (g *Gateway) HasCredential() bool { return g.apiKey() != "" }

// CheckCredential returns [ErrMissingCredential] when no API key is set.
// It matches the signature of a readiness check.
func (g *Gateway) CheckCredential(context.Context) error {
	if !g.HasCredential() {
		return ErrMissingCredential
	}
	return nil
}

// Credential returns the configured API key, for components that talk to
// the same remote model outside the gateway (the live voice connection).
func (g *Gateway) Credential() (string, error) {
	key := g.apiKey()
	if key == "" {
		return "", ErrMissingCredential
	}
	return key, nil
}

func (g *Gateway) apiKey() string {
	for _, name := range g.credentialEnv {
		if v, ok := g.lookupEnv(name); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// generator returns a client for the current API key, rebuilding it when
// the key changed.
func (g *Gateway) generator(ctx context.Context) (Generator, error) {
	key := g.apiKey()
	if key == "" {
		return nil, ErrMissingCredential
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gen != nil && g.genKey == key {
		return g.gen, nil
	}
	gen, err := g.factory(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("gateway: create client: %w", err)
	}
	g.gen, g.genKey = gen, key
	return gen, nil
}

func genaiFactory(baseURL string) GeneratorFactory {
	return func(ctx context.Context, apiKey string) (Generator, error) {
		cc := &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		}
		if baseURL != "" {
			cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
		}
		client, err := genai.NewClient(ctx, cc)
		if err != nil {
			return nil, err
		}
		return client.Models, nil
	}
}

// generate performs one remote call for op with tracing, metrics, and the
// circuit breaker. The credential check runs before anything else.
func (g *Gateway) generate(ctx context.Context, op, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	gen, err := g.generator(ctx)
	if err != nil {
		return nil, err
	}

	ctx, span := observe.StartSpan(ctx, "gateway."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(observe.AttrModel.String(model)),
	)
	defer span.End()

	start := time.Now()
	var resp *genai.GenerateContentResponse
	err = g.breaker.Execute(func() error {
		var err error
		resp, err = gen.GenerateContent(ctx, model, contents, cfg)
		return err
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		status := "error"
		if permanent(err) {
			status = "cancelled"
		} else if isCircuitOpen(err) {
			status = "circuit_open"
		} else {
			g.metrics.RecordProviderError(ctx, "gemini", op)
		}
		g.metrics.RecordGatewayRequest(ctx, op, status, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.log.Warn("gateway call failed", "op", op, "model", model, "err", err)
		return nil, fmt.Errorf("gateway: %s: %w", op, err)
	}

	g.metrics.RecordGatewayRequest(ctx, op, "ok", elapsed)
	g.log.Debug("gateway call", "op", op, "model", model, "duration_s", elapsed)
	return resp, nil
}

// userContent wraps parts in a single user turn.
func userContent(parts ...*genai.Part) []*genai.Content {
	return []*genai.Content{{Role: "user", Parts: parts}}
}

// responseText returns the reply text, tolerating a nil response.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Text()
}

// firstCandidate returns the first candidate or nil.
func firstCandidate(resp *genai.GenerateContentResponse) *genai.Candidate {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	return resp.Candidates[0]
}
