package config

import "reflect"

// ConfigDiff describes what changed between two configs.
//
// Only the log level is applied live. Every other changed section is listed
// in RestartRequired so the caller can warn about it.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the top-level sections (e.g., "gemini") whose
	// changes take effect only after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// The log level is hot-reloadable, so it must not mark the server
	// section as needing a restart.
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"gemini", old.Gemini, new.Gemini},
		{"live", old.Live, new.Live},
		{"transcription", old.Transcription, new.Transcription},
		{"history", old.History, new.History},
		{"limits", old.Limits, new.Limits},
		{"telemetry", old.Telemetry, new.Telemetry},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
