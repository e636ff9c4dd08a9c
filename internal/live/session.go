// Package live implements the streaming session controller: it wires a
// microphone, an output device, and a streaming model connection into one
// live voice conversation.
//
// A [Session] walks the state machine
//
//	Idle → Connecting → Open → Closing → Closed
//
// with [StateErrored] reachable from Connecting and Open. While Open, a single
// run-loop goroutine owns all session state. Captured frames, server events,
// voice-ended notifications, and stop requests all arrive on channels and go
// through one handle method. Transmission happens on a separate sender
// goroutine fed through an unbounded FIFO, so a slow connection never stalls
// frame delivery and no captured frame is lost while the session is open.
//
// [Manager] keeps at most one live session per UI key.
package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/tutorlive/internal/observe"
	"github.com/MrWong99/tutorlive/pkg/audio"
	providerlive "github.com/MrWong99/tutorlive/pkg/provider/live"
)

// Option is a functional option for configuring a [Session].
type Option func(*Session)

// WithObserver sets the observer for status and level updates.
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observer = o }
}

// WithMetrics overrides the metrics sink. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithLevelGain sets the gain applied to the RMS level before clamping.
// The default is [audio.DefaultLevelGain].
func WithLevelGain(g float64) Option {
	return func(s *Session) { s.levelGain = g }
}

// Session is one live voice conversation. Create it with [New], start it
// with [Session.Start], and end it with [Session.Close]. A session is single
// use: once terminal it cannot be restarted.
//
// All exported methods are safe for concurrent use.
type Session struct {
	capture  audio.CaptureDevice
	playback audio.PlaybackDevice
	provider providerlive.Provider
	cfg      providerlive.SessionConfig

	observer  Observer
	metrics   *observe.Metrics
	log       *slog.Logger
	levelGain float64

	mu            sync.Mutex
	state         State
	err           error
	cancelConnect context.CancelFunc

	muted atomic.Bool

	stop     chan struct{}
	stopOnce sync.Once

	done     chan struct{}
	doneOnce sync.Once
}

// New creates an idle session. The devices and provider are not touched
// until [Session.Start].
func New(capture audio.CaptureDevice, playback audio.PlaybackDevice, provider providerlive.Provider, cfg providerlive.SessionConfig, opts ...Option) *Session {
	s := &Session{
		capture:   capture,
		playback:  playback,
		provider:  provider,
		cfg:       cfg,
		observer:  NopObserver{},
		log:       slog.Default(),
		levelGain: audio.DefaultLevelGain,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session to [StateErrored], or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done returns a channel that is closed once the session is terminal and
// every resource has been released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Muted reports whether transmission is suppressed.
func (s *Session) Muted() bool { return s.muted.Load() }

// SetMuted toggles transmission without affecting the connection state.
func (s *Session) SetMuted(muted bool) { s.muted.Store(muted) }

// resources are the handles acquired by Start. Any field may be nil when
// acquisition stopped part way.
type resources struct {
	stream   audio.CaptureStream
	out      audio.Output
	conn     providerlive.Session
	queue    *playbackQueue
	outgoing *sendQueue
	once     sync.Once
}

// Start acquires the microphone, the output device, and the remote
// connection, in that order, and moves the session to [StateOpen]. ctx
// bounds the acquisition only. On failure every resource acquired so far is
// released and the session ends in [StateErrored] with a
// [*DeviceAccessError] or [*ConnectionError].
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelConnect = cancel
	s.state = StateConnecting
	s.mu.Unlock()
	s.observer.StateChanged(StateConnecting, StatusConnecting)

	r := &resources{}

	stream, err := s.capture.Open(ctx)
	if err != nil {
		return s.failStart(r, &DeviceAccessError{Device: "microphone", Err: err}, StatusMicDenied)
	}
	r.stream = stream

	out, err := s.playback.Open(ctx)
	if err != nil {
		return s.failStart(r, &DeviceAccessError{Device: "speaker", Err: err}, StatusError)
	}
	r.out = out
	r.queue = newPlaybackQueue(out)

	conn, err := s.provider.Connect(ctx, s.cfg)
	if err != nil {
		return s.failStart(r, &ConnectionError{Err: err}, StatusError)
	}
	r.conn = conn

	// Close may have raced with the last acquisition step.
	select {
	case <-s.stop:
		return s.failStart(r, nil, "")
	default:
	}

	r.outgoing = newSendQueue()
	s.setState(StateOpen, StatusListening)
	s.metrics.ActiveSessions.Add(context.Background(), 1)
	s.log.Info("live session open")

	go s.sendLoop(conn, r.outgoing)
	go s.run(r)
	return nil
}

// failStart releases r and ends the session. A nil cause means Close was
// requested during Start; the session ends Closed and Start returns
// [ErrStopped].
func (s *Session) failStart(r *resources, cause error, status string) error {
	s.release(r)
	select {
	case <-s.stop:
		s.setState(StateClosed, StatusDisconnected)
		s.finish()
		return ErrStopped
	default:
	}
	s.log.Warn("live session failed to start", "err", cause)
	s.fail(cause, status)
	s.finish()
	return cause
}

// Close ends the session and blocks until every resource is released. It is
// safe to call in any state and more than once.
func (s *Session) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.state = StateClosed
		s.mu.Unlock()
		s.observer.StateChanged(StateClosed, StatusDisconnected)
		s.finish()
		return nil
	case StateConnecting:
		if s.cancelConnect != nil {
			s.cancelConnect()
		}
	}
	s.mu.Unlock()

	<-s.done
	return nil
}

func (s *Session) setState(st State, status string) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.observer.StateChanged(st, status)
}

func (s *Session) fail(err error, status string) {
	s.mu.Lock()
	s.state = StateErrored
	s.err = err
	s.mu.Unlock()
	s.observer.StateChanged(StateErrored, status)
}

func (s *Session) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

// release frees every acquired resource exactly once, whichever path ended
// the session.
func (s *Session) release(r *resources) {
	r.once.Do(func() {
		if r.stream != nil {
			if err := r.stream.Close(); err != nil {
				s.log.Debug("live: close capture stream", "err", err)
			}
		}
		if r.queue != nil {
			r.queue.interrupt()
		}
		if r.out != nil {
			if err := r.out.Close(); err != nil {
				s.log.Debug("live: close output", "err", err)
			}
		}
		if r.outgoing != nil {
			r.outgoing.close()
		}
		if r.conn != nil {
			if err := r.conn.Close(); err != nil {
				s.log.Debug("live: close connection", "err", err)
			}
		}
	})
}

// ── Run loop ──────────────────────────────────────────────────────────────────

// event is anything the run loop reacts to.
type event interface{ isEvent() }

type (
	frameEvent      struct{ frame audio.Frame }
	serverEvent     struct{ msg providerlive.ServerEvent }
	voiceEndedEvent struct{ id uint64 }
	captureEnded    struct{}
	remoteClosed    struct{ err error }
	stopRequested   struct{}
)

func (frameEvent) isEvent()      {}
func (serverEvent) isEvent()     {}
func (voiceEndedEvent) isEvent() {}
func (captureEnded) isEvent()    {}
func (remoteClosed) isEvent()    {}
func (stopRequested) isEvent()   {}

// loop is the per-run state owned by the run goroutine.
type loop struct {
	r          *resources
	conv       audio.FrameConverter
	voiceEnded chan uint64
	exited     chan struct{}
}

// run is the session's single owner goroutine while Open.
func (s *Session) run(r *resources) {
	l := &loop{
		r:          r,
		conv:       audio.FrameConverter{TargetRate: audio.InputSampleRate},
		voiceEnded: make(chan uint64, 16),
		exited:     make(chan struct{}),
	}
	defer close(l.exited)

	frames := r.stream.Frames()
	events := r.conn.Events()

	for {
		var ev event
		select {
		case f, ok := <-frames:
			if !ok {
				ev = captureEnded{}
			} else {
				ev = frameEvent{frame: f}
			}
		case msg, ok := <-events:
			if !ok {
				ev = remoteClosed{err: r.conn.Err()}
			} else {
				ev = serverEvent{msg: msg}
			}
		case id := <-l.voiceEnded:
			ev = voiceEndedEvent{id: id}
		case <-s.stop:
			ev = stopRequested{}
		}
		if s.handle(l, ev) {
			return
		}
	}
}

// handle applies one event. It reports true once the session reached a
// terminal state and the run loop must exit.
func (s *Session) handle(l *loop, ev event) bool {
	if st := s.State(); st != StateOpen {
		s.log.Debug("live: ignoring event outside open state", "state", st)
		return st.Terminal()
	}

	switch e := ev.(type) {
	case frameEvent:
		s.onFrame(l, e.frame)
	case serverEvent:
		s.onServer(l, e.msg)
	case voiceEndedEvent:
		l.r.queue.finished(e.id)
	case captureEnded:
		s.log.Info("live: capture stream ended")
		s.shutdown(l, nil)
		return true
	case remoteClosed:
		if e.err != nil {
			s.shutdown(l, &ConnectionError{Err: e.err})
		} else {
			s.shutdown(l, nil)
		}
		return true
	case stopRequested:
		s.shutdown(l, nil)
		return true
	}
	return false
}

// onFrame runs the input pipeline for one captured frame.
func (s *Session) onFrame(l *loop, f audio.Frame) {
	ctx := context.Background()
	if s.muted.Load() {
		s.observer.LevelChanged(0)
		s.metrics.RecordFrameDropped(ctx, "muted")
		return
	}

	s.observer.LevelChanged(audio.Level(f.Samples, s.levelGain))

	f = l.conv.Convert(f)
	pcm := audio.EncodePCM16Clamped(f.Samples)
	if !l.r.outgoing.push(pcm) {
		s.metrics.RecordFrameDropped(ctx, "closed")
	}
}

// onServer schedules reply audio and applies interruptions.
func (s *Session) onServer(l *loop, msg providerlive.ServerEvent) {
	ctx := context.Background()

	if msg.Audio != "" {
		buf, err := audio.DecodeChunk(msg.Audio, audio.OutputSampleRate)
		if err != nil {
			s.log.Debug("live: dropping malformed chunk", "err", err)
			s.metrics.ChunksDropped.Add(ctx, 1)
		} else if id, v, err := l.r.queue.enqueue(buf); err != nil {
			s.log.Debug("live: dropping unschedulable chunk", "err", err)
			s.metrics.ChunksDropped.Add(ctx, 1)
		} else {
			s.metrics.ChunksScheduled.Add(ctx, 1)
			go l.watch(id, v)
		}
	}

	if msg.Interrupted {
		n := l.r.queue.interrupt()
		s.metrics.Interruptions.Add(ctx, 1)
		s.log.Debug("live: interrupted", "stopped_voices", n)
	}
}

// watch reports when v ends, unless the run loop exited first.
func (l *loop) watch(id uint64, v audio.Voice) {
	select {
	case <-v.Done():
		select {
		case l.voiceEnded <- id:
		case <-l.exited:
		}
	case <-l.exited:
	}
}

// shutdown moves Open → Closing → Closed, or Open → Errored when cause is
// non-nil, releasing every resource on the way.
func (s *Session) shutdown(l *loop, cause error) {
	ctx := context.Background()
	s.metrics.ActiveSessions.Add(ctx, -1)

	if cause != nil {
		s.log.Warn("live session failed", "err", cause)
		s.release(l.r)
		s.metrics.RecordSessionEnded(ctx, "errored")
		s.fail(cause, StatusError)
		s.finish()
		return
	}

	s.setState(StateClosing, StatusDisconnecting)
	s.release(l.r)
	s.metrics.RecordSessionEnded(ctx, "closed")
	s.setState(StateClosed, StatusDisconnected)
	s.log.Info("live session closed")
	s.finish()
}

// sendLoop transmits encoded frames in capture order until outgoing is
// closed. Send failures are counted and logged; the receive side decides how
// the session ends.
func (s *Session) sendLoop(conn providerlive.Session, outgoing *sendQueue) {
	ctx := context.Background()
	warned := false
	for {
		batch, ok := outgoing.take()
		if !ok {
			return
		}
		for _, chunk := range batch {
			if err := conn.SendAudio(chunk); err != nil {
				s.metrics.RecordFrameDropped(ctx, "send_error")
				if !warned && !errors.Is(err, providerlive.ErrSessionClosed) {
					s.log.Warn("live: send audio failed", "err", err)
					warned = true
				}
				continue
			}
			s.metrics.FramesSent.Add(ctx, 1)
		}
	}
}
