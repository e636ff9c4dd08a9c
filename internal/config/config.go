// Package config provides the configuration schema, loader, hot-reload
// watcher, and backend registry for the tutorlive server.
//
// Secrets never live in the file: API keys are read from environment
// variables whose names the file may override.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Gemini        GeminiConfig        `yaml:"gemini"`
	Live          LiveConfig          `yaml:"live"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	History       HistoryConfig       `yaml:"history"`
	Limits        LimitsConfig        `yaml:"limits"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is applied again on hot reload.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists host patterns (e.g., "tutor.example.com") allowed
	// to open the live WebSocket from another origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// GeminiConfig configures the one-shot request gateway.
type GeminiConfig struct {
	// APIKeyEnv names the environment variable holding the API key.
	// GEMINI_API_KEY is always tried after it. Default: API_KEY.
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the API endpoint.
	BaseURL string `yaml:"base_url"`

	// Models overrides individual model names. Empty fields keep the stock
	// selection.
	Models ModelsConfig `yaml:"models"`

	// FlashcardCacheTTL is how long generated flashcards are reused. Zero
	// keeps the default of one hour; a negative value disables the cache.
	FlashcardCacheTTL time.Duration `yaml:"flashcard_cache_ttl"`

	// Breaker tunes the circuit breaker around remote calls.
	Breaker BreakerConfig `yaml:"breaker"`
}

// ModelsConfig names the model per operation.
type ModelsConfig struct {
	Standard    string `yaml:"standard"`
	Fast        string `yaml:"fast"`
	Search      string `yaml:"search"`
	Speech      string `yaml:"speech"`
	SpeechVoice string `yaml:"speech_voice"`
	Flashcard   string `yaml:"flashcard"`
	Video       string `yaml:"video"`
	Transcribe  string `yaml:"transcribe"`
}

// BreakerConfig tunes a circuit breaker. Zero values take the breaker's
// defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// LiveConfig configures voice sessions.
type LiveConfig struct {
	// Disabled turns off the /api/live route.
	Disabled bool `yaml:"disabled"`

	Model        string `yaml:"model"`
	Voice        string `yaml:"voice"`
	Instructions string `yaml:"instructions"`
	BaseURL      string `yaml:"base_url"`
}

// Transcription backends.
const (
	TranscriptionGemini = "gemini"
	TranscriptionOpenAI = "openai"
)

// TranscriptionConfig selects how voice notes are transcribed. The Gemini
// model always serves as the fallback of any other backend.
type TranscriptionConfig struct {
	// Backend is "gemini" (default) or "openai". Non-gemini backends are
	// built through the [Registry].
	Backend string `yaml:"backend"`

	// APIKeyEnv names the environment variable holding the backend's key.
	// Default for openai: OPENAI_API_KEY.
	APIKeyEnv string `yaml:"api_key_env"`

	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// History backends.
const (
	HistoryMemory   = "memory"
	HistoryRedis    = "redis"
	HistoryPostgres = "postgres"
)

// HistoryConfig selects where solved questions are stored.
type HistoryConfig struct {
	// Backend is "memory" (default), "redis", or "postgres".
	Backend string `yaml:"backend"`

	// Limit caps the entries kept per user. Zero means unlimited.
	Limit int `yaml:"limit"`

	// RedisURL is a redis:// URL, required for the redis backend.
	RedisURL string `yaml:"redis_url"`

	// RedisPrefix is prepended to every Redis key.
	RedisPrefix string `yaml:"redis_prefix"`

	// TTL expires idle Redis histories. Zero keeps them forever.
	TTL time.Duration `yaml:"ttl"`

	// PostgresDSN is the connection string, required for the postgres
	// backend.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LimitsConfig caps attachment sizes in megabytes.
type LimitsConfig struct {
	// MaxUploadMB caps images and documents. Default: 5.
	MaxUploadMB int `yaml:"max_upload_mb"`

	// MaxVideoMB caps videos. Default: 50.
	MaxVideoMB int `yaml:"max_video_mb"`
}

// MaxUploadBytes returns the upload cap in bytes.
func (l LimitsConfig) MaxUploadBytes() int64 { return int64(l.MaxUploadMB) << 20 }

// MaxVideoBytes returns the video cap in bytes.
func (l LimitsConfig) MaxVideoBytes() int64 { return int64(l.MaxVideoMB) << 20 }

// Trace exporters accepted by [TelemetryConfig].
const (
	TracesNone = "none"
	TracesLog  = "log"
)

// TelemetryConfig controls the OpenTelemetry resource and trace export.
// Metrics are always served on /metrics.
type TelemetryConfig struct {
	// ServiceName is reported as service.name. Default: "tutorlive".
	ServiceName string `yaml:"service_name"`

	// Traces selects the span exporter: "none" records spans without
	// exporting them, "log" writes finished spans to the debug log.
	// Default: "none".
	Traces string `yaml:"traces"`

	// SampleRatio is the fraction of new traces that are sampled, in
	// [0, 1]. Zero means sample everything.
	SampleRatio float64 `yaml:"sample_ratio"`
}
