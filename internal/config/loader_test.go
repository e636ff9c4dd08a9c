package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/tutorlive/internal/config"
)

func TestValidate_Rejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		mention string
	}{
		{"bad log level", "server:\n  log_level: bananas\n", "log_level"},
		{"tls without key", "server:\n  tls:\n    cert_file: c.pem\n", "tls"},
		{"unknown transcription backend", "transcription:\n  backend: deepgram\n", "transcription.backend"},
		{"unknown history backend", "history:\n  backend: sqlite\n", "history.backend"},
		{"redis without url", "history:\n  backend: redis\n", "redis_url"},
		{"postgres without dsn", "history:\n  backend: postgres\n", "postgres_dsn"},
		{"negative history limit", "history:\n  limit: -1\n", "history.limit"},
		{"negative upload limit", "limits:\n  max_upload_mb: -5\n", "max_upload_mb"},
		{"negative video limit", "limits:\n  max_video_mb: -5\n", "max_video_mb"},
		{"negative breaker failures", "gemini:\n  breaker:\n    max_failures: -1\n", "max_failures"},
		{"unknown trace exporter", "telemetry:\n  traces: jaeger\n", "telemetry.traces"},
		{"sample ratio above one", "telemetry:\n  sample_ratio: 1.5\n", "sample_ratio"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.mention) {
				t.Errorf("error should mention %q, got: %v", tc.mention, err)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
history:
  backend: postgres
limits:
  max_video_mb: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "postgres_dsn", "max_video_mb"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_BackendsWithSettingsAreValid(t *testing.T) {
	t.Parallel()
	docs := []string{
		"history:\n  backend: postgres\n  postgres_dsn: postgres://localhost/tutor\n",
		"history:\n  backend: redis\n  redis_url: redis://localhost:6379\n",
		"transcription:\n  backend: gemini\n",
		"transcription:\n  backend: openai\n  api_key_env: MY_OPENAI\n",
	}
	for _, doc := range docs {
		if _, err := config.LoadFromReader(strings.NewReader(doc)); err != nil {
			t.Errorf("%q: unexpected error: %v", doc, err)
		}
	}
}

func TestApplyDefaults_OpenAITranscription(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Transcription: config.TranscriptionConfig{Backend: "openai"}}
	config.ApplyDefaults(cfg)
	if cfg.Transcription.APIKeyEnv != config.DefaultOpenAIKeyEnv {
		t.Errorf("api_key_env = %q", cfg.Transcription.APIKeyEnv)
	}
	if cfg.Transcription.Model != config.DefaultOpenAISTTModel {
		t.Errorf("model = %q", cfg.Transcription.Model)
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":1", LogLevel: config.LogWarn},
		Limits: config.LimitsConfig{MaxUploadMB: 2, MaxVideoMB: 3},
	}
	config.ApplyDefaults(cfg)
	if cfg.Server.ListenAddr != ":1" || cfg.Server.LogLevel != config.LogWarn {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Limits.MaxUploadMB != 2 || cfg.Limits.MaxVideoMB != 3 {
		t.Errorf("limits = %+v", cfg.Limits)
	}
}

func TestApplyDefaults_Telemetry(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("telemetry:\n  traces: LOG\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Telemetry.ServiceName != config.DefaultServiceName {
		t.Errorf("service name = %q, want %q", cfg.Telemetry.ServiceName, config.DefaultServiceName)
	}
	if cfg.Telemetry.Traces != config.TracesLog {
		t.Errorf("traces = %q, want %q", cfg.Telemetry.Traces, config.TracesLog)
	}
}
