package virtual

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/tutorlive/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.PlaybackDevice = (*Device)(nil)
	_ audio.Output         = (*Output)(nil)
	_ audio.Voice          = (*voice)(nil)
)

// Sink receives buffers when they start playing. Implementations forward
// them to wherever sound is actually produced (a browser, a file, a test
// recorder).
//
// Play and Stop are called sequentially from the output's dispatch goroutine
// and must not block for extended periods.
type Sink interface {
	// Play starts buf now. id identifies the voice for a later Stop.
	Play(id uint64, buf audio.Buffer) error

	// Stop cuts voice id short. Called only for voices that were passed to
	// Play and have not ended yet.
	Stop(id uint64)
}

// Option configures a [Device].
type Option func(*Device)

// WithLogger sets the logger used for sink failures. Defaults to
// [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		d.log = l
	}
}

// Device is an [audio.PlaybackDevice] that opens clocked [Output] values
// writing to a [Sink].
type Device struct {
	sink Sink
	log  *slog.Logger
}

// New returns a [Device] that delivers audio to sink.
func New(sink Sink, opts ...Option) *Device {
	d := &Device{sink: sink, log: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open implements [audio.PlaybackDevice]. The returned output's clock starts
// at zero.
func (d *Device) Open(_ context.Context) (audio.Output, error) {
	o := &Output{
		sink:   d.sink,
		log:    d.log,
		opened: time.Now(),
		queue:  make(voiceHeap, 0, 16),
		active: make(map[uint64]*voice),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	heap.Init(&o.queue)
	go o.dispatch()
	return o, nil
}

// Output is an open virtual device. All exported methods are safe for
// concurrent use.
type Output struct {
	sink   Sink
	log    *slog.Logger
	opened time.Time

	mu     sync.Mutex
	queue  voiceHeap
	active map[uint64]*voice // voices handed to the sink and not yet ended
	seq    uint64
	closed bool

	notify chan struct{}
	done   chan struct{}
}

// CurrentTime implements [audio.Output].
func (o *Output) CurrentTime() float64 {
	return time.Since(o.opened).Seconds()
}

// Schedule implements [audio.Output].
func (o *Output) Schedule(buf audio.Buffer, at float64) (audio.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, audio.ErrDeviceClosed
	}
	o.seq++
	v := &voice{
		out:  o,
		id:   o.seq,
		seq:  o.seq,
		at:   at,
		buf:  buf,
		done: make(chan struct{}),
	}
	heap.Push(&o.queue, v)

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return v, nil
}

// Close implements [audio.Output]. Every queued or playing voice is stopped.
func (o *Output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	pending := append(voiceHeap(nil), o.queue...)
	o.queue = o.queue[:0]
	playing := make([]*voice, 0, len(o.active))
	for _, v := range o.active {
		playing = append(playing, v)
	}
	clear(o.active)
	o.mu.Unlock()

	close(o.done)
	for _, v := range pending {
		v.finish()
	}
	for _, v := range playing {
		v.stopTimer()
		o.sink.Stop(v.id)
		v.finish()
	}
	return nil
}

// dispatch starts queued voices once the device clock reaches their start
// time. It runs until Close.
func (o *Output) dispatch() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		o.mu.Lock()
		wait := time.Hour
		for o.queue.Len() > 0 {
			next := o.queue[0]
			if next.cancelled {
				heap.Pop(&o.queue)
				continue
			}
			delay := next.at - o.CurrentTime()
			if delay > 0 {
				wait = time.Duration(delay * float64(time.Second))
				break
			}
			heap.Pop(&o.queue)
			o.startLocked(next)
		}
		o.mu.Unlock()

		timer.Reset(wait)
		select {
		case <-o.done:
			return
		case <-o.notify:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}
	}
}

// startLocked hands v to the sink and arms its end timer. o.mu must be held.
func (o *Output) startLocked(v *voice) {
	if err := o.sink.Play(v.id, v.buf); err != nil {
		o.log.Warn("virtual output: sink play failed", "voice", v.id, "err", err)
		v.finish()
		return
	}
	o.active[v.id] = v
	d := time.Duration(v.buf.Duration() * float64(time.Second))
	v.timer = time.AfterFunc(d, func() { o.ended(v) })
}

// ended is called from the voice timer when playback runs to completion.
func (o *Output) ended(v *voice) {
	o.mu.Lock()
	delete(o.active, v.id)
	o.mu.Unlock()
	v.finish()
}

// stop cancels v whether it is still queued or already playing.
func (o *Output) stop(v *voice) {
	o.mu.Lock()
	v.cancelled = true
	_, playing := o.active[v.id]
	if playing {
		delete(o.active, v.id)
	}
	o.mu.Unlock()

	if playing {
		v.stopTimer()
		o.sink.Stop(v.id)
	}
	v.finish()
}

// voice is one scheduled buffer on an [Output].
type voice struct {
	out *Output
	id  uint64
	seq uint64
	at  float64
	buf audio.Buffer

	cancelled bool        // guarded by out.mu
	timer     *time.Timer // guarded by out.mu until started

	once sync.Once
	done chan struct{}
}

// Stop implements [audio.Voice].
func (v *voice) Stop() { v.out.stop(v) }

// Done implements [audio.Voice].
func (v *voice) Done() <-chan struct{} { return v.done }

func (v *voice) finish() {
	v.once.Do(func() { close(v.done) })
}

func (v *voice) stopTimer() {
	v.out.mu.Lock()
	t := v.timer
	v.out.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}
