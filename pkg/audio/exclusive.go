package audio

import (
	"context"
	"sync"
	"sync/atomic"
)

// Compile-time interface assertions.
var (
	_ CaptureDevice  = (*ExclusiveCapture)(nil)
	_ PlaybackDevice = (*ExclusivePlayback)(nil)
)

// ExclusiveCapture wraps a [CaptureDevice] so that at most one stream is open
// at a time. A second Open before the first stream is closed fails with
// [ErrDeviceBusy] and leaves the first stream untouched.
type ExclusiveCapture struct {
	dev  CaptureDevice
	held atomic.Bool
}

// NewExclusiveCapture returns an [ExclusiveCapture] around dev.
func NewExclusiveCapture(dev CaptureDevice) *ExclusiveCapture {
	return &ExclusiveCapture{dev: dev}
}

// Open implements [CaptureDevice].
func (e *ExclusiveCapture) Open(ctx context.Context) (CaptureStream, error) {
	if !e.held.CompareAndSwap(false, true) {
		return nil, ErrDeviceBusy
	}
	s, err := e.dev.Open(ctx)
	if err != nil {
		e.held.Store(false)
		return nil, err
	}
	return &exclusiveStream{CaptureStream: s, release: func() { e.held.Store(false) }}, nil
}

type exclusiveStream struct {
	CaptureStream
	once    sync.Once
	release func()
}

func (s *exclusiveStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.CaptureStream.Close()
		s.release()
	})
	return err
}

// ExclusivePlayback wraps a [PlaybackDevice] so that at most one output is
// open at a time.
type ExclusivePlayback struct {
	dev  PlaybackDevice
	held atomic.Bool
}

// NewExclusivePlayback returns an [ExclusivePlayback] around dev.
func NewExclusivePlayback(dev PlaybackDevice) *ExclusivePlayback {
	return &ExclusivePlayback{dev: dev}
}

// Open implements [PlaybackDevice].
func (e *ExclusivePlayback) Open(ctx context.Context) (Output, error) {
	if !e.held.CompareAndSwap(false, true) {
		return nil, ErrDeviceBusy
	}
	o, err := e.dev.Open(ctx)
	if err != nil {
		e.held.Store(false)
		return nil, err
	}
	return &exclusiveOutput{Output: o, release: func() { e.held.Store(false) }}, nil
}

type exclusiveOutput struct {
	Output
	once    sync.Once
	release func()
}

func (o *exclusiveOutput) Close() error {
	var err error
	o.once.Do(func() {
		err = o.Output.Close()
		o.release()
	})
	return err
}
