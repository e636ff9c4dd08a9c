// Package audio defines the audio types, PCM codec, and device abstractions
// used by the live tutoring session.
//
// The two device abstractions are:
//
//   - [CaptureDevice] opens a microphone and returns a [CaptureStream] that
//     delivers fixed-size mono [Frame] values.
//   - [PlaybackDevice] opens an output device and returns an [Output] on
//     which decoded [Buffer] values are scheduled at absolute device times.
//
// Implementations are provided by adapter packages (audio/virtual for a
// clocked software output, internal/browser for a WebSocket-connected
// browser). The interfaces are intentionally narrow so that the session
// controller stays decoupled from where the audio physically comes from.
package audio

import (
	"context"
	"errors"
)

var (
	// ErrDeviceBusy is returned when a device that only supports one owner is
	// opened a second time before the first stream was closed.
	ErrDeviceBusy = errors.New("audio: device busy")

	// ErrPermissionDenied is returned when the user or the platform refused
	// microphone access.
	ErrPermissionDenied = errors.New("audio: permission denied")

	// ErrDeviceClosed is returned when scheduling on an output that has
	// already been closed.
	ErrDeviceClosed = errors.New("audio: device closed")
)

// CaptureDevice is a microphone. Open may require user permission and may
// fail with [ErrPermissionDenied] or [ErrDeviceBusy].
//
// Implementations must be safe for concurrent use.
type CaptureDevice interface {
	// Open starts capturing. ctx bounds the open attempt only; the returned
	// stream stays live until [CaptureStream.Close] is called.
	Open(ctx context.Context) (CaptureStream, error)
}

// CaptureStream delivers microphone frames until it is closed.
type CaptureStream interface {
	// Frames returns the channel on which captured frames arrive. The channel
	// is closed when the stream ends, either because Close was called or
	// because the device went away.
	Frames() <-chan Frame

	// Close stops capture and releases the device. Safe to call more than
	// once; subsequent calls return nil.
	Close() error
}

// PlaybackDevice is an audio output.
//
// Implementations must be safe for concurrent use.
type PlaybackDevice interface {
	// Open acquires the output. ctx bounds the open attempt only.
	Open(ctx context.Context) (Output, error)
}

// Output is an open playback device with a monotonically increasing clock.
type Output interface {
	// CurrentTime returns the device clock in seconds. The clock never runs
	// backwards.
	CurrentTime() float64

	// Schedule queues buf to start playing at device time at (seconds). If
	// at is already in the past the buffer starts immediately. The returned
	// [Voice] tracks the playing buffer.
	Schedule(buf Buffer, at float64) (Voice, error)

	// Close stops every scheduled voice and releases the device. Safe to call
	// more than once.
	Close() error
}

// Voice is one scheduled buffer.
type Voice interface {
	// Stop ends playback immediately. Stopping a voice that already ended is
	// a no-op.
	Stop()

	// Done is closed when the voice finishes playing or is stopped.
	Done() <-chan struct{}
}
