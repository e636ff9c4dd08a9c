// Package browser adapts a browser tab, connected over one WebSocket, into
// the audio devices and status sink of a live session.
//
// Wire protocol, browser to server:
//
//   - binary frames: mono float32 little-endian samples at the capture rate
//     announced in hello
//   - {"type":"hello","sampleRate":48000,"permission":"granted"}
//   - {"type":"mute","muted":true}
//   - {"type":"leave"}
//
// Server to browser, all JSON text frames:
//
//   - {"type":"state","state":"OPEN","status":"Listening..."}
//   - {"type":"level","level":0.42}
//   - {"type":"play","id":3,"sampleRate":24000,"audio":"<base64 pcm16>"}
//   - {"type":"stop","id":3}
//   - {"type":"error","message":"..."}
//
// A [Bridge] is an [audio.CaptureDevice], a [virtual.Sink], and a
// [live.Observer] at the same time.
package browser

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tutorlive/internal/live"
	"github.com/MrWong99/tutorlive/pkg/audio"
	"github.com/MrWong99/tutorlive/pkg/audio/virtual"
)

// Compile-time interface assertions.
var (
	_ audio.CaptureDevice = (*Bridge)(nil)
	_ audio.CaptureStream = (*captureStream)(nil)
	_ virtual.Sink        = (*Bridge)(nil)
	_ live.Observer       = (*Bridge)(nil)
)

const (
	defaultFrameBuffer = 32
	defaultSendBuffer  = 64
	writeTimeout       = 5 * time.Second
	maxMessageBytes    = 1 << 20
)

// ErrClosed is returned when the bridge has stopped.
var ErrClosed = errors.New("browser: bridge closed")

// ── Wire messages ─────────────────────────────────────────────────────────────

type inbound struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Permission string `json:"permission,omitempty"`
	Muted      bool   `json:"muted,omitempty"`
}

type outbound struct {
	Type       string   `json:"type"`
	State      string   `json:"state,omitempty"`
	Status     string   `json:"status,omitempty"`
	Level      *float64 `json:"level,omitempty"`
	ID         uint64   `json:"id,omitempty"`
	SampleRate int      `json:"sampleRate,omitempty"`
	Audio      string   `json:"audio,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// hello is what the browser announced about its microphone.
type hello struct {
	sampleRate int
	denied     bool
}

// Option configures a [Bridge].
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// WithFrameBuffer sets how many captured frames may queue before new ones
// are dropped.
func WithFrameBuffer(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.frameBuffer = n
		}
	}
}

// Bridge is one browser tab's connection.
type Bridge struct {
	conn        *websocket.Conn
	log         *slog.Logger
	frameBuffer int

	frames chan audio.Frame
	send   chan outbound
	done   chan struct{}

	helloCh   chan hello
	helloOnce sync.Once

	// captureRate is set from hello before any binary frame is accepted.
	captureRate atomic.Int64
	capturing   atomic.Bool

	mu      sync.Mutex
	onMute  func(bool)
	onLeave func()

	closeOnce  sync.Once
	started    atomic.Bool
	writerDone chan struct{}
	dropped    atomic.Int64
}

// New wraps an accepted WebSocket connection. Call [Bridge.Run] to start
// moving data.
func New(conn *websocket.Conn, opts ...Option) *Bridge {
	b := &Bridge{
		conn:        conn,
		log:         slog.Default(),
		frameBuffer: defaultFrameBuffer,
		send:        make(chan outbound, defaultSendBuffer),
		done:        make(chan struct{}),
		helloCh:     make(chan hello, 1),
		writerDone:  make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	b.frames = make(chan audio.Frame, b.frameBuffer)
	conn.SetReadLimit(maxMessageBytes)
	return b
}

// OnControl installs the handlers for mute and leave messages. Handlers run
// on the read goroutine and must not block.
func (b *Bridge) OnControl(mute func(bool), leave func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onMute = mute
	b.onLeave = leave
}

// Dropped returns how many captured frames were discarded because nobody
// was reading them fast enough.
func (b *Bridge) Dropped() int64 { return b.dropped.Load() }

// Run reads and writes until the connection ends or ctx is cancelled. The
// capture stream ends when Run returns.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return errors.New("browser: Run called twice")
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer close(b.frames)
		return b.readLoop(egCtx)
	})
	eg.Go(func() error {
		defer close(b.writerDone)
		return b.writeLoop(egCtx)
	})

	err := eg.Wait()
	b.shutdown()
	if isNormalClose(err) {
		return nil
	}
	return err
}

// Close ends the connection with a normal closure. Messages queued before
// Close are written first.
func (b *Bridge) Close(reason string) error {
	b.shutdown()
	if b.started.Load() {
		select {
		case <-b.writerDone:
		case <-time.After(writeTimeout):
		}
	}
	return b.conn.Close(websocket.StatusNormalClosure, reason)
}

func (b *Bridge) shutdown() {
	b.closeOnce.Do(func() { close(b.done) })
}

func isNormalClose(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

// ── Read side ─────────────────────────────────────────────────────────────────

func (b *Bridge) readLoop(ctx context.Context) error {
	for {
		typ, data, err := b.conn.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			b.onAudio(data)
		case websocket.MessageText:
			b.onControl(data)
		}
	}
}

func (b *Bridge) onAudio(data []byte) {
	if !b.capturing.Load() {
		return
	}
	samples, err := DecodeFloat32(data)
	if err != nil {
		b.log.Debug("browser: dropping malformed audio frame", "err", err)
		return
	}
	f := audio.Frame{Samples: samples, SampleRate: int(b.captureRate.Load())}
	select {
	case b.frames <- f:
	default:
		b.dropped.Add(1)
	}
}

func (b *Bridge) onControl(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		b.log.Debug("browser: ignoring malformed control message", "err", err)
		return
	}

	b.mu.Lock()
	mute, leave := b.onMute, b.onLeave
	b.mu.Unlock()

	switch msg.Type {
	case "hello":
		b.helloOnce.Do(func() {
			rate := msg.SampleRate
			if rate <= 0 {
				rate = audio.InputSampleRate
			}
			b.captureRate.Store(int64(rate))
			b.helloCh <- hello{sampleRate: rate, denied: msg.Permission == "denied"}
		})
	case "mute":
		if mute != nil {
			mute(msg.Muted)
		}
	case "leave":
		if leave != nil {
			leave()
		}
	default:
		b.log.Debug("browser: unknown control message", "type", msg.Type)
	}
}

// DecodeFloat32 decodes little-endian float32 samples.
func DecodeFloat32(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of 4", audio.ErrMalformedPCM, len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// EncodeFloat32 is the inverse of [DecodeFloat32].
func EncodeFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// ── Capture device ────────────────────────────────────────────────────────────

// Open implements [audio.CaptureDevice]. It waits for the browser's hello;
// a hello reporting a denied permission fails with
// [audio.ErrPermissionDenied].
func (b *Bridge) Open(ctx context.Context) (audio.CaptureStream, error) {
	var h hello
	select {
	case h = <-b.helloCh:
		// Put it back so a later Open sees the same answer.
		b.helloCh <- h
	case <-b.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if h.denied {
		return nil, audio.ErrPermissionDenied
	}
	if !b.capturing.CompareAndSwap(false, true) {
		return nil, audio.ErrDeviceBusy
	}
	return &captureStream{b: b}, nil
}

type captureStream struct {
	b    *Bridge
	once sync.Once
}

func (s *captureStream) Frames() <-chan audio.Frame { return s.b.frames }

func (s *captureStream) Close() error {
	s.once.Do(func() { s.b.capturing.Store(false) })
	return nil
}

// ── Sink and observer ─────────────────────────────────────────────────────────

// Play implements [virtual.Sink].
func (b *Bridge) Play(id uint64, buf audio.Buffer) error {
	if len(buf.Channels) == 0 {
		return fmt.Errorf("browser: play voice %d: empty buffer", id)
	}
	return b.enqueue(outbound{
		Type:       "play",
		ID:         id,
		SampleRate: buf.SampleRate,
		Audio:      audio.EncodeBase64(audio.EncodePCM16Clamped(buf.Channels[0])),
	})
}

// Stop implements [virtual.Sink].
func (b *Bridge) Stop(id uint64) {
	if err := b.enqueue(outbound{Type: "stop", ID: id}); err != nil {
		b.log.Debug("browser: stop not delivered", "id", id, "err", err)
	}
}

// StateChanged implements [live.Observer].
func (b *Bridge) StateChanged(st live.State, status string) {
	if err := b.enqueue(outbound{Type: "state", State: st.String(), Status: status}); err != nil {
		b.log.Debug("browser: state not delivered", "state", st, "err", err)
	}
}

// LevelChanged implements [live.Observer]. Level updates are lossy.
func (b *Bridge) LevelChanged(level float64) {
	select {
	case b.send <- outbound{Type: "level", Level: &level}:
	default:
	}
}

// SendError tells the browser why the session could not run.
func (b *Bridge) SendError(message string) error {
	return b.enqueue(outbound{Type: "error", Message: message})
}

func (b *Bridge) enqueue(m outbound) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	select {
	case b.send <- m:
		return nil
	case <-b.done:
		return ErrClosed
	}
}

// ── Write side ────────────────────────────────────────────────────────────────

func (b *Bridge) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return b.flush(ctx)
		case m := <-b.send:
			if err := b.write(ctx, m); err != nil {
				return err
			}
		}
	}
}

// flush writes whatever is still queued. The read side keeps running so the
// close handshake can complete.
func (b *Bridge) flush(ctx context.Context) error {
	for {
		select {
		case m := <-b.send:
			if err := b.write(ctx, m); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (b *Bridge) write(ctx context.Context, m outbound) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("browser: encode %s message: %w", m.Type, err)
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := b.conn.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("browser: write %s message: %w", m.Type, err)
	}
	return nil
}
