package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":8080"
	DefaultShutdownTimeout  = 15 * time.Second
	DefaultGeminiKeyEnv     = "API_KEY"
	DefaultOpenAIKeyEnv     = "OPENAI_API_KEY"
	DefaultOpenAISTTModel   = "whisper-1"
	DefaultMaxUploadMB      = 5
	DefaultMaxVideoMB       = 50
	DefaultRedisPrefix      = "tutorlive:"
	DefaultFlashcardTTL     = time.Hour
	DefaultServiceName      = "tutorlive"
	defaultLogLevel         = LogInfo
	defaultHistoryBackend   = HistoryMemory
	defaultTranscriptionKey = TranscriptionGemini
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown keys are rejected. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = defaultLogLevel
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Gemini.APIKeyEnv == "" {
		cfg.Gemini.APIKeyEnv = DefaultGeminiKeyEnv
	}
	if cfg.Gemini.FlashcardCacheTTL == 0 {
		cfg.Gemini.FlashcardCacheTTL = DefaultFlashcardTTL
	}

	cfg.Transcription.Backend = strings.ToLower(cfg.Transcription.Backend)
	if cfg.Transcription.Backend == "" {
		cfg.Transcription.Backend = defaultTranscriptionKey
	}
	if cfg.Transcription.Backend == TranscriptionOpenAI {
		if cfg.Transcription.APIKeyEnv == "" {
			cfg.Transcription.APIKeyEnv = DefaultOpenAIKeyEnv
		}
		if cfg.Transcription.Model == "" {
			cfg.Transcription.Model = DefaultOpenAISTTModel
		}
	}

	cfg.History.Backend = strings.ToLower(cfg.History.Backend)
	if cfg.History.Backend == "" {
		cfg.History.Backend = defaultHistoryBackend
	}
	if cfg.History.Backend == HistoryRedis && cfg.History.RedisPrefix == "" {
		cfg.History.RedisPrefix = DefaultRedisPrefix
	}

	if cfg.Limits.MaxUploadMB == 0 {
		cfg.Limits.MaxUploadMB = DefaultMaxUploadMB
	}
	if cfg.Limits.MaxVideoMB == 0 {
		cfg.Limits.MaxVideoMB = DefaultMaxVideoMB
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	cfg.Telemetry.Traces = strings.ToLower(cfg.Telemetry.Traces)
	if cfg.Telemetry.Traces == "" {
		cfg.Telemetry.Traces = TracesNone
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %v must not be negative", cfg.Server.ShutdownTimeout))
	}

	if cfg.Gemini.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("gemini.breaker.max_failures %d must not be negative", cfg.Gemini.Breaker.MaxFailures))
	}
	if cfg.Gemini.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("gemini.breaker.reset_timeout %v must not be negative", cfg.Gemini.Breaker.ResetTimeout))
	}

	switch cfg.Transcription.Backend {
	case "", TranscriptionGemini:
	case TranscriptionOpenAI:
		if cfg.Transcription.APIKeyEnv == "" {
			errs = append(errs, errors.New("transcription.api_key_env is required for the openai backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("transcription.backend %q is invalid; valid values: gemini, openai", cfg.Transcription.Backend))
	}

	switch cfg.History.Backend {
	case "", HistoryMemory:
	case HistoryRedis:
		if cfg.History.RedisURL == "" {
			errs = append(errs, errors.New("history.redis_url is required when backend is redis"))
		}
	case HistoryPostgres:
		if cfg.History.PostgresDSN == "" {
			errs = append(errs, errors.New("history.postgres_dsn is required when backend is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("history.backend %q is invalid; valid values: memory, redis, postgres", cfg.History.Backend))
	}
	if cfg.History.Limit < 0 {
		errs = append(errs, fmt.Errorf("history.limit %d must not be negative", cfg.History.Limit))
	}
	if cfg.History.TTL < 0 {
		errs = append(errs, fmt.Errorf("history.ttl %v must not be negative", cfg.History.TTL))
	}

	if cfg.Limits.MaxUploadMB < 0 {
		errs = append(errs, fmt.Errorf("limits.max_upload_mb %d must not be negative", cfg.Limits.MaxUploadMB))
	}
	if cfg.Limits.MaxVideoMB < 0 {
		errs = append(errs, fmt.Errorf("limits.max_video_mb %d must not be negative", cfg.Limits.MaxVideoMB))
	}

	switch cfg.Telemetry.Traces {
	case "", TracesNone, TracesLog:
	default:
		errs = append(errs, fmt.Errorf("telemetry.traces %q is invalid; valid values: none, log", cfg.Telemetry.Traces))
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %v must be between 0 and 1", r))
	}

	return errors.Join(errs...)
}
