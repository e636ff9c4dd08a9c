// Package live defines the Provider interface for streaming voice backends.
//
// A live provider wraps a real-time voice model that accepts a continuous
// stream of microphone audio and answers with a stream of synthesised speech
// over one long-lived, stateful connection. The session controller in
// internal/live drives a [Session]; the Gemini Live implementation lives in
// the gemini subpackage.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by [Session.SendAudio] after the session has
// been closed locally.
var ErrSessionClosed = errors.New("live: session closed")

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Voice is the prebuilt voice name the model speaks with (e.g., "Zephyr").
	// Empty leaves the choice to the provider.
	Voice string

	// Instructions is the system-level prompt that defines the tutor's
	// persona and behaviour for the whole session.
	Instructions string
}

// ServerEvent is one message from the remote model that matters to the
// session controller. A single event may carry audio, an interruption, and a
// turn-complete marker at once.
type ServerEvent struct {
	// Audio is the base64 text of a PCM16LE mono chunk at 24 kHz, exactly as
	// received. Empty when the message carried no audio. Decoding happens in
	// the controller so that malformed chunks can be counted and dropped
	// there.
	Audio string

	// Interrupted reports that the model detected the user speaking over it
	// and abandoned its current answer.
	Interrupted bool

	// TurnComplete reports that the model finished its turn.
	TurnComplete bool
}

// Session represents an open streaming connection. It is an interface so that
// test code can supply mock implementations without a live provider
// connection.
//
// Callers must call Close when the session is no longer needed.
type Session interface {
	// SendAudio delivers one PCM16LE mono chunk at 16 kHz to the model.
	// Returns an error if the session is closed or the write failed.
	SendAudio(chunk []byte) error

	// Events returns the channel on which server events arrive. The channel
	// is closed when the session ends for any reason. After it closes, call
	// [Session.Err] to tell a clean remote close from a failure.
	Events() <-chan ServerEvent

	// Err returns the error that ended the session, or nil if it ended
	// cleanly (remote normal closure or local Close).
	Err() error

	// Close terminates the session and releases all resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming voice backend.
type Provider interface {
	// Connect opens a new session and returns once the remote side has
	// acknowledged the session configuration. ctx bounds the connection
	// attempt only. The caller owns the returned Session.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}
