// Package stt defines the Provider interface for one-shot Speech-to-Text
// backends.
//
// A provider accepts one complete recording (WAV, WebM, MP3, ...) and returns
// the verbatim transcript. The gateway uses Gemini for this by default; an
// OpenAI-backed provider can be configured instead.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Provider is the abstraction over any one-shot transcription backend.
type Provider interface {
	// Transcribe returns the text spoken in audio. mimeType describes the
	// container format (e.g., "audio/wav"). A recording with no speech
	// yields an empty string and a nil error.
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}
