package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/tutorlive/internal/config"
	"github.com/MrWong99/tutorlive/internal/history"
	"github.com/MrWong99/tutorlive/pkg/provider/stt"
	sttmock "github.com/MrWong99/tutorlive/pkg/provider/stt/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  allowed_origins: ["tutor.example.com"]
  shutdown_timeout: 30s

gemini:
  api_key_env: TUTOR_KEY
  models:
    standard: gemini-3-pro-preview
    speech_voice: Puck
  flashcard_cache_ttl: 10m
  breaker:
    max_failures: 3
    reset_timeout: 20s

live:
  voice: Kore

transcription:
  backend: OpenAI
  model: gpt-4o-transcribe

history:
  backend: redis
  redis_url: redis://localhost:6379/0
  limit: 50
  ttl: 720h

limits:
  max_upload_mb: 8
`

func mustLoad(t *testing.T, doc string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "tutor.example.com" {
		t.Errorf("allowed_origins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("shutdown_timeout = %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Gemini.APIKeyEnv != "TUTOR_KEY" {
		t.Errorf("api_key_env = %q", cfg.Gemini.APIKeyEnv)
	}
	if cfg.Gemini.Models.Standard != "gemini-3-pro-preview" || cfg.Gemini.Models.SpeechVoice != "Puck" {
		t.Errorf("models = %+v", cfg.Gemini.Models)
	}
	if cfg.Gemini.FlashcardCacheTTL != 10*time.Minute {
		t.Errorf("flashcard_cache_ttl = %v", cfg.Gemini.FlashcardCacheTTL)
	}
	if cfg.Gemini.Breaker.MaxFailures != 3 || cfg.Gemini.Breaker.ResetTimeout != 20*time.Second {
		t.Errorf("breaker = %+v", cfg.Gemini.Breaker)
	}
	if cfg.Live.Voice != "Kore" {
		t.Errorf("live.voice = %q", cfg.Live.Voice)
	}
	if cfg.Transcription.Backend != config.TranscriptionOpenAI {
		t.Errorf("transcription.backend = %q, want lower-cased openai", cfg.Transcription.Backend)
	}
	if cfg.Transcription.APIKeyEnv != config.DefaultOpenAIKeyEnv {
		t.Errorf("transcription.api_key_env = %q", cfg.Transcription.APIKeyEnv)
	}
	if cfg.Transcription.Model != "gpt-4o-transcribe" {
		t.Errorf("transcription.model = %q", cfg.Transcription.Model)
	}
	if cfg.History.Backend != config.HistoryRedis || cfg.History.Limit != 50 || cfg.History.TTL != 720*time.Hour {
		t.Errorf("history = %+v", cfg.History)
	}
	if cfg.History.RedisPrefix != config.DefaultRedisPrefix {
		t.Errorf("redis_prefix = %q", cfg.History.RedisPrefix)
	}
	if got := cfg.Limits.MaxUploadBytes(); got != 8<<20 {
		t.Errorf("MaxUploadBytes = %d", got)
	}
	if got := cfg.Limits.MaxVideoBytes(); got != config.DefaultMaxVideoMB<<20 {
		t.Errorf("MaxVideoBytes = %d", got)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	t.Parallel()
	for _, doc := range []string{"", "{}"} {
		cfg := mustLoad(t, doc)
		if cfg.Server.ListenAddr != config.DefaultListenAddr {
			t.Errorf("%q: listen_addr = %q", doc, cfg.Server.ListenAddr)
		}
		if cfg.Server.LogLevel != config.LogInfo {
			t.Errorf("%q: log_level = %q", doc, cfg.Server.LogLevel)
		}
		if cfg.Gemini.APIKeyEnv != config.DefaultGeminiKeyEnv {
			t.Errorf("%q: api_key_env = %q", doc, cfg.Gemini.APIKeyEnv)
		}
		if cfg.Transcription.Backend != config.TranscriptionGemini {
			t.Errorf("%q: transcription.backend = %q", doc, cfg.Transcription.Backend)
		}
		if cfg.History.Backend != config.HistoryMemory {
			t.Errorf("%q: history.backend = %q", doc, cfg.History.Backend)
		}
		if cfg.Limits.MaxUploadMB != config.DefaultMaxUploadMB || cfg.Limits.MaxVideoMB != config.DefaultMaxVideoMB {
			t.Errorf("%q: limits = %+v", doc, cfg.Limits)
		}
		if cfg.Gemini.FlashcardCacheTTL != config.DefaultFlashcardTTL {
			t.Errorf("%q: flashcard_cache_ttl = %v", doc, cfg.Gemini.FlashcardCacheTTL)
		}
	}
}

func TestLoadFromReader_NegativeCacheTTLKept(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "gemini:\n  flashcard_cache_ttl: -1s\n")
	if cfg.Gemini.FlashcardCacheTTL >= 0 {
		t.Errorf("flashcard_cache_ttl = %v, want negative", cfg.Gemini.FlashcardCacheTTL)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":1\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
}

func TestLoadFromReader_MalformedYAML(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server: [unclosed"))
	if err == nil {
		t.Fatal("expected error for malformed YAML, got nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/tutorlive.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_Transcriber(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := &sttmock.Provider{}
	var gotKey string
	reg.RegisterTranscriber(config.TranscriptionOpenAI, func(cfg config.TranscriptionConfig, apiKey string) (stt.Provider, error) {
		gotKey = apiKey
		return want, nil
	})

	p, err := reg.CreateTranscriber(config.TranscriptionConfig{Backend: config.TranscriptionOpenAI}, "sk-test")
	if err != nil {
		t.Fatalf("CreateTranscriber: %v", err)
	}
	if p != want {
		t.Errorf("provider = %v, want registered mock", p)
	}
	if gotKey != "sk-test" {
		t.Errorf("apiKey = %q", gotKey)
	}
}

func TestRegistry_History(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	closed := false
	reg.RegisterHistory(config.HistoryMemory, func(_ context.Context, cfg config.HistoryConfig) (history.Store, func(), error) {
		return history.NewMemoryStore(cfg.Limit), func() { closed = true }, nil
	})

	store, closeFn, err := reg.CreateHistory(context.Background(), config.HistoryConfig{Backend: config.HistoryMemory, Limit: 1})
	if err != nil {
		t.Fatalf("CreateHistory: %v", err)
	}
	if store == nil {
		t.Fatal("store is nil")
	}
	closeFn()
	if !closed {
		t.Error("close function not returned from factory")
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	_, err := reg.CreateTranscriber(config.TranscriptionConfig{Backend: "deepgram"}, "")
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("CreateTranscriber err = %v, want ErrBackendNotRegistered", err)
	}
	_, _, err = reg.CreateHistory(context.Background(), config.HistoryConfig{Backend: "sqlite"})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("CreateHistory err = %v, want ErrBackendNotRegistered", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterTranscriber("x", func(config.TranscriptionConfig, string) (stt.Provider, error) { return nil, boom })

	if _, err := reg.CreateTranscriber(config.TranscriptionConfig{Backend: "x"}, ""); !errors.Is(err, boom) {
		t.Errorf("err = %v, want factory error", err)
	}
}
