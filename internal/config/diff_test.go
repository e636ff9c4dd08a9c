package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/tutorlive/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)
	d := config.Diff(cfg, mustLoad(t, sampleYAML))
	if d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level alone should not need a restart, got %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequiredSections(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, sampleYAML)
	new := mustLoad(t, sampleYAML)
	new.Server.ListenAddr = ":7070"
	new.Gemini.Models.Fast = "gemini-flash-lite-latest"
	new.History.Limit = 10

	d := config.Diff(old, new)
	want := []string{"server", "gemini", "history"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false")
	}
}

func TestDiff_AllowedOriginsChange(t *testing.T) {
	t.Parallel()
	old := &config.Config{}
	new := &config.Config{Server: config.ServerConfig{AllowedOrigins: []string{"a.example"}}}
	d := config.Diff(old, new)
	if !slices.Equal(d.RestartRequired, []string{"server"}) {
		t.Errorf("RestartRequired = %v", d.RestartRequired)
	}
}
