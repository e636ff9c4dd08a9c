// Package mock provides in-memory implementations of the [audio.CaptureDevice],
// [audio.PlaybackDevice], [audio.Output], and [audio.Voice] interfaces for use
// in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values. The [Output] clock is manual:
// it only moves when the test calls [Output.SetTime].
//
// Typical usage:
//
//	stream := mock.NewCaptureStream(8)
//	mic := &mock.CaptureDevice{Stream: stream}
//	out := mock.NewOutput()
//	speaker := &mock.PlaybackDevice{Output: out}
//	stream.Push(audio.Frame{Samples: make([]float32, 4096), SampleRate: 16000})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/tutorlive/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.CaptureDevice  = (*CaptureDevice)(nil)
	_ audio.CaptureStream  = (*CaptureStream)(nil)
	_ audio.PlaybackDevice = (*PlaybackDevice)(nil)
	_ audio.Output         = (*Output)(nil)
	_ audio.Voice          = (*Voice)(nil)
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// CaptureDevice is a mock implementation of [audio.CaptureDevice].
type CaptureDevice struct {
	mu sync.Mutex

	// Stream is returned by Open when OpenErr is nil.
	Stream *CaptureStream

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCalls records how many times Open was called.
	OpenCalls int
}

// Open implements [audio.CaptureDevice].
func (d *CaptureDevice) Open(_ context.Context) (audio.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls++
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	return d.Stream, nil
}

// CaptureStream is a mock implementation of [audio.CaptureStream] whose frames
// are pushed by the test.
type CaptureStream struct {
	mu         sync.Mutex
	frames     chan audio.Frame
	closed     bool
	closeCalls int
}

// NewCaptureStream returns a stream with a frame buffer of the given size.
func NewCaptureStream(buffer int) *CaptureStream {
	return &CaptureStream{frames: make(chan audio.Frame, buffer)}
}

// Frames implements [audio.CaptureStream].
func (s *CaptureStream) Frames() <-chan audio.Frame { return s.frames }

// Push delivers f to the consumer. It is a no-op after the stream ends.
func (s *CaptureStream) Push(f audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frames <- f
}

// End closes the frame channel as if the device went away.
func (s *CaptureStream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
}

// Close implements [audio.CaptureStream].
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	s.closeCalls++
	s.mu.Unlock()
	s.End()
	return nil
}

// CloseCalls returns how many times Close was called.
func (s *CaptureStream) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// ─── Playback ─────────────────────────────────────────────────────────────────

// PlaybackDevice is a mock implementation of [audio.PlaybackDevice].
type PlaybackDevice struct {
	mu sync.Mutex

	// Output is returned by Open when OpenErr is nil.
	Output *Output

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCalls records how many times Open was called.
	OpenCalls int
}

// Open implements [audio.PlaybackDevice].
func (d *PlaybackDevice) Open(_ context.Context) (audio.Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls++
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	return d.Output, nil
}

// Scheduled records one call to [Output.Schedule].
type Scheduled struct {
	Buffer audio.Buffer
	At     float64
	Voice  *Voice
}

// Output is a mock implementation of [audio.Output] with a manual clock.
type Output struct {
	mu         sync.Mutex
	now        float64
	scheduled  []Scheduled
	closeCalls int

	// ScheduleErr, if non-nil, is returned by Schedule.
	ScheduleErr error

	// OnSchedule, if set, is called after every successful Schedule.
	OnSchedule func(Scheduled)
}

// NewOutput returns an [Output] whose clock reads zero.
func NewOutput() *Output { return &Output{} }

// SetTime moves the device clock to t seconds.
func (o *Output) SetTime(t float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = t
}

// CurrentTime implements [audio.Output].
func (o *Output) CurrentTime() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Schedule implements [audio.Output].
func (o *Output) Schedule(buf audio.Buffer, at float64) (audio.Voice, error) {
	o.mu.Lock()
	if o.ScheduleErr != nil {
		err := o.ScheduleErr
		o.mu.Unlock()
		return nil, err
	}
	s := Scheduled{Buffer: buf, At: at, Voice: &Voice{done: make(chan struct{})}}
	o.scheduled = append(o.scheduled, s)
	hook := o.OnSchedule
	o.mu.Unlock()

	if hook != nil {
		hook(s)
	}
	return s.Voice, nil
}

// Close implements [audio.Output].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeCalls++
	return nil
}

// Scheduled returns a copy of every Schedule call so far.
func (o *Output) Scheduled() []Scheduled {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Scheduled, len(o.scheduled))
	copy(out, o.scheduled)
	return out
}

// CloseCalls returns how many times Close was called.
func (o *Output) CloseCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closeCalls
}

// Voice is a mock implementation of [audio.Voice]. It ends when the test
// calls [Voice.Finish] or the code under test calls Stop.
type Voice struct {
	mu        sync.Mutex
	stopCalls int
	once      sync.Once
	done      chan struct{}
}

// Stop implements [audio.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	v.stopCalls++
	v.mu.Unlock()
	v.Finish()
}

// Done implements [audio.Voice].
func (v *Voice) Done() <-chan struct{} { return v.done }

// Finish ends the voice as if playback ran to completion.
func (v *Voice) Finish() {
	v.once.Do(func() { close(v.done) })
}

// StopCalls returns how many times Stop was called.
func (v *Voice) StopCalls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopCalls
}
