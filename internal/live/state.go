package live

import (
	"errors"
	"fmt"
)

// State is the connection state of a [Session].
type State int

const (
	// StateIdle is the state of a session that has not been started.
	StateIdle State = iota

	// StateConnecting means devices are being acquired and the remote
	// connection is being established.
	StateConnecting

	// StateOpen means audio is flowing in both directions.
	StateOpen

	// StateClosing means teardown is in progress.
	StateClosing

	// StateClosed is the terminal state after a clean shutdown.
	StateClosed

	// StateErrored is the terminal state after a device or connection
	// failure. [Session.Err] reports the cause.
	StateErrored
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored
}

// Status lines shown to the user for each transition.
const (
	StatusConnecting    = "Connecting..."
	StatusListening     = "Listening..."
	StatusDisconnecting = "Disconnecting..."
	StatusDisconnected  = "Disconnected"
	StatusError         = "Error connecting"
	StatusMicDenied     = "Microphone Access Denied"
)

var (
	// ErrSessionActive is returned by [Manager.Start] when the key already has
	// a session that has not reached a terminal state.
	ErrSessionActive = errors.New("live: session already active")

	// ErrAlreadyStarted is returned by [Session.Start] on a session that has
	// left the idle state.
	ErrAlreadyStarted = errors.New("live: session already started")

	// ErrStopped is returned by [Session.Start] when Close was called while
	// the session was still connecting.
	ErrStopped = errors.New("live: session stopped while connecting")
)

// DeviceAccessError reports that a capture or playback device could not be
// acquired. It is fatal to the session attempt; the user has to retry.
type DeviceAccessError struct {
	// Device is "microphone" or "speaker".
	Device string
	Err    error
}

func (e *DeviceAccessError) Error() string {
	return fmt.Sprintf("live: %s access: %v", e.Device, e.Err)
}

func (e *DeviceAccessError) Unwrap() error { return e.Err }

// ConnectionError reports that the remote connection could not be opened or
// failed while open. It is fatal to the session; there is no reconnect.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("live: connection: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Observer receives user-facing session updates. Methods are called from the
// session's goroutines and must not block.
type Observer interface {
	// StateChanged reports a transition together with the status line to
	// display.
	StateChanged(state State, status string)

	// LevelChanged reports the input volume in [0, 1] for each captured
	// frame. Muted frames report 0.
	LevelChanged(level float64)
}

// NopObserver discards all updates.
type NopObserver struct{}

func (NopObserver) StateChanged(State, string) {}
func (NopObserver) LevelChanged(float64)       {}
