package live_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/tutorlive/internal/live"
	"github.com/MrWong99/tutorlive/internal/observe"
	"github.com/MrWong99/tutorlive/pkg/audio"
	audiomock "github.com/MrWong99/tutorlive/pkg/audio/mock"
	providerlive "github.com/MrWong99/tutorlive/pkg/provider/live"
	livemock "github.com/MrWong99/tutorlive/pkg/provider/live/mock"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

type recordingObserver struct {
	mu       sync.Mutex
	states   []live.State
	statuses []string
	levels   []float64
}

func (o *recordingObserver) StateChanged(st live.State, status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, st)
	o.statuses = append(o.statuses, status)
}

func (o *recordingObserver) LevelChanged(l float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.levels = append(o.levels, l)
}

func (o *recordingObserver) snapshot() ([]live.State, []string, []float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]live.State(nil), o.states...),
		append([]string(nil), o.statuses...),
		append([]float64(nil), o.levels...)
}

type fixture struct {
	stream   *audiomock.CaptureStream
	mic      *audiomock.CaptureDevice
	out      *audiomock.Output
	speaker  *audiomock.PlaybackDevice
	conn     *livemock.Session
	provider *livemock.Provider
	obs      *recordingObserver
	sess     *live.Session
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newFixture(t *testing.T, opts ...live.Option) *fixture {
	t.Helper()
	f := &fixture{
		stream: audiomock.NewCaptureStream(32),
		out:    audiomock.NewOutput(),
		conn:   livemock.NewSession(32),
		obs:    &recordingObserver{},
	}
	f.mic = &audiomock.CaptureDevice{Stream: f.stream}
	f.speaker = &audiomock.PlaybackDevice{Output: f.out}
	f.provider = &livemock.Provider{Session: f.conn}
	opts = append([]live.Option{
		live.WithObserver(f.obs),
		live.WithMetrics(testMetrics(t)),
	}, opts...)
	f.sess = live.New(f.mic, f.speaker, f.provider, providerlive.SessionConfig{Voice: "Zephyr", Instructions: "tutor"}, opts...)
	t.Cleanup(func() { _ = f.sess.Close() })
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st := f.sess.State(); st != live.StateOpen {
		t.Fatalf("state after Start = %v, want OPEN", st)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitDone(t *testing.T, s *live.Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish")
	}
}

// chunkOf returns the base64 wire form of n mono samples at 24 kHz.
func chunkOf(n int) string {
	return audio.EncodeBase64(audio.EncodePCM16(make([]float32, n)))
}

func frameOf(v float32, n int) audio.Frame {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return audio.Frame{Samples: s, SampleRate: audio.InputSampleRate}
}

// ── Start ─────────────────────────────────────────────────────────────────────

func TestStart_OpensEverythingAndReportsStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	if f.mic.OpenCalls != 1 || f.speaker.OpenCalls != 1 {
		t.Errorf("device opens = %d/%d, want 1/1", f.mic.OpenCalls, f.speaker.OpenCalls)
	}
	calls := f.provider.Calls()
	if len(calls) != 1 || calls[0].Cfg.Voice != "Zephyr" {
		t.Fatalf("Connect calls = %+v, want one with voice Zephyr", calls)
	}

	states, statuses, _ := f.obs.snapshot()
	if len(states) != 2 || states[0] != live.StateConnecting || states[1] != live.StateOpen {
		t.Errorf("states = %v, want [CONNECTING OPEN]", states)
	}
	if statuses[0] != live.StatusConnecting || statuses[1] != live.StatusListening {
		t.Errorf("statuses = %q", statuses)
	}
}

func TestStart_MicrophoneDenied(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mic.OpenErr = audio.ErrPermissionDenied

	err := f.sess.Start(context.Background())

	var dae *live.DeviceAccessError
	if !errors.As(err, &dae) || dae.Device != "microphone" {
		t.Fatalf("err = %v, want microphone DeviceAccessError", err)
	}
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Errorf("err should wrap ErrPermissionDenied: %v", err)
	}
	if st := f.sess.State(); st != live.StateErrored {
		t.Errorf("state = %v, want ERRORED", st)
	}
	if !errors.Is(f.sess.Err(), audio.ErrPermissionDenied) {
		t.Errorf("Err = %v", f.sess.Err())
	}
	if f.speaker.OpenCalls != 0 || len(f.provider.Calls()) != 0 {
		t.Error("nothing else may be acquired after the microphone fails")
	}
	_, statuses, _ := f.obs.snapshot()
	if last := statuses[len(statuses)-1]; last != live.StatusMicDenied {
		t.Errorf("last status = %q, want %q", last, live.StatusMicDenied)
	}
	waitDone(t, f.sess)
}

func TestStart_SpeakerFailureReleasesMicrophone(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.speaker.OpenErr = audio.ErrDeviceBusy

	err := f.sess.Start(context.Background())
	var dae *live.DeviceAccessError
	if !errors.As(err, &dae) || dae.Device != "speaker" {
		t.Fatalf("err = %v, want speaker DeviceAccessError", err)
	}
	if f.stream.CloseCalls() != 1 {
		t.Errorf("capture stream closes = %d, want 1", f.stream.CloseCalls())
	}
	if len(f.provider.Calls()) != 0 {
		t.Error("provider must not be contacted")
	}
}

func TestStart_ConnectionFailureReleasesDevices(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.provider.ConnectErr = errors.New("handshake refused")

	err := f.sess.Start(context.Background())
	var ce *live.ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConnectionError", err)
	}
	if f.stream.CloseCalls() != 1 || f.out.CloseCalls() != 1 {
		t.Errorf("closes stream=%d out=%d, want 1/1", f.stream.CloseCalls(), f.out.CloseCalls())
	}
	if st := f.sess.State(); st != live.StateErrored {
		t.Errorf("state = %v, want ERRORED", st)
	}
	_, statuses, _ := f.obs.snapshot()
	if last := statuses[len(statuses)-1]; last != live.StatusError {
		t.Errorf("last status = %q, want %q", last, live.StatusError)
	}
}

func TestStart_Twice(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	if err := f.sess.Start(context.Background()); !errors.Is(err, live.ErrAlreadyStarted) {
		t.Fatalf("second Start err = %v, want ErrAlreadyStarted", err)
	}
	if st := f.sess.State(); st != live.StateOpen {
		t.Errorf("state = %v, want OPEN", st)
	}
}

// ── Input pipeline ────────────────────────────────────────────────────────────

func TestInput_EncodesAndSendsFrames(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	fr := frameOf(0.25, 4096)
	f.stream.Push(fr)
	f.stream.Push(fr)

	waitFor(t, "two sent chunks", func() bool { return len(f.conn.SentChunks()) == 2 })
	want := audio.EncodePCM16Clamped(fr.Samples)
	for i, c := range f.conn.SentChunks() {
		if string(c) != string(want) {
			t.Errorf("chunk %d differs from the clamped PCM16 encoding", i)
		}
	}

	_, _, levels := f.obs.snapshot()
	if len(levels) < 2 || math.Abs(levels[0]-1) > 1e-9 {
		t.Errorf("levels = %v, want 1 (0.25 rms × 5 clamped)", levels)
	}
}

func TestInput_SlowUplinkKeepsEveryFrameInOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.conn.SendDelay = 20 * time.Millisecond
	f.start(t)

	const n = 40
	for i := range n {
		f.stream.Push(audio.Frame{Samples: []float32{float32(i) / 100}, SampleRate: audio.InputSampleRate})
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(f.conn.SentChunks()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("sent %d chunks, want %d", len(f.conn.SentChunks()), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	sent := f.conn.SentChunks()
	if len(sent) != n {
		t.Fatalf("sent %d chunks, want exactly %d", len(sent), n)
	}
	for i, c := range sent {
		want := audio.EncodePCM16Clamped([]float32{float32(i) / 100})
		if string(c) != string(want) {
			t.Fatalf("chunk %d = %v, want %v (frames out of order or lost)", i, c, want)
		}
	}
}

func TestInput_ClampsOutOfRangeSamples(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.stream.Push(audio.Frame{Samples: []float32{1.5, -2}, SampleRate: audio.InputSampleRate})
	waitFor(t, "sent chunk", func() bool { return len(f.conn.SentChunks()) == 1 })

	got := f.conn.SentChunks()[0]
	want := []byte{0xff, 0x7f, 0x00, 0x80}
	if string(got) != string(want) {
		t.Errorf("chunk = %#v, want saturated %#v", got, want)
	}
}

func TestInput_ResamplesToInputRate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.stream.Push(audio.Frame{Samples: make([]float32, 480), SampleRate: 48000})
	waitFor(t, "sent chunk", func() bool { return len(f.conn.SentChunks()) == 1 })
	if n := len(f.conn.SentChunks()[0]); n != 320 {
		t.Errorf("chunk bytes = %d, want 320 (160 samples at 16 kHz)", n)
	}
}

func TestInput_MuteSuppressesTransmission(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.sess.SetMuted(true)
	if !f.sess.Muted() {
		t.Fatal("Muted() = false after SetMuted(true)")
	}
	for range 5 {
		f.stream.Push(frameOf(0.5, 256))
	}
	waitFor(t, "muted levels", func() bool {
		_, _, levels := f.obs.snapshot()
		return len(levels) == 5
	})
	if n := len(f.conn.SentChunks()); n != 0 {
		t.Fatalf("sent %d chunks while muted", n)
	}

	f.sess.SetMuted(false)
	f.stream.Push(frameOf(0.1, 256))
	waitFor(t, "unmuted chunk", func() bool { return len(f.conn.SentChunks()) >= 1 })
	if n := len(f.conn.SentChunks()); n != 1 {
		t.Fatalf("sent %d chunks, want only the unmuted one", n)
	}

	_, _, levels := f.obs.snapshot()
	if len(levels) != 6 {
		t.Fatalf("level updates = %d, want 6", len(levels))
	}
	for i := range 5 {
		if levels[i] != 0 {
			t.Errorf("muted level %d = %v, want 0", i, levels[i])
		}
	}
	if st := f.sess.State(); st != live.StateOpen {
		t.Errorf("mute changed state to %v", st)
	}
}

// ── Output scheduling ─────────────────────────────────────────────────────────

func TestOutput_SchedulesGaplessInOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	f.out.SetTime(0.5)

	// 0.1 s, 0.25 s, 0.05 s at 24 kHz.
	for _, n := range []int{2400, 6000, 1200} {
		f.conn.Push(providerlive.ServerEvent{Audio: chunkOf(n)})
	}
	waitFor(t, "three scheduled chunks", func() bool { return len(f.out.Scheduled()) == 3 })

	sch := f.out.Scheduled()
	if sch[0].At != 0.5 {
		t.Errorf("start[0] = %v, want device time 0.5", sch[0].At)
	}
	for i := 1; i < len(sch); i++ {
		prev := sch[i-1]
		want := prev.At + prev.Buffer.Duration()
		if math.Abs(sch[i].At-want) > 1e-9 {
			t.Errorf("start[%d] = %v, want %v (previous start + duration)", i, sch[i].At, want)
		}
	}
	for _, s := range sch {
		if s.Buffer.SampleRate != audio.OutputSampleRate || len(s.Buffer.Channels) != 1 {
			t.Errorf("buffer = %d ch at %d Hz, want mono 24 kHz", len(s.Buffer.Channels), s.Buffer.SampleRate)
		}
	}
}

func TestOutput_LateChunkStartsAtDeviceTime(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.conn.Push(providerlive.ServerEvent{Audio: chunkOf(2400)}) // ends at 0.1
	waitFor(t, "first chunk", func() bool { return len(f.out.Scheduled()) == 1 })

	f.out.SetTime(3)
	f.conn.Push(providerlive.ServerEvent{Audio: chunkOf(2400)})
	waitFor(t, "second chunk", func() bool { return len(f.out.Scheduled()) == 2 })

	if at := f.out.Scheduled()[1].At; at != 3 {
		t.Errorf("late chunk start = %v, want current device time 3", at)
	}
}

func TestOutput_InterruptionStopsVoicesAndResetsCursor(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	f.out.SetTime(1)

	f.conn.Push(providerlive.ServerEvent{Audio: chunkOf(24000)})
	f.conn.Push(providerlive.ServerEvent{Audio: chunkOf(24000)})
	waitFor(t, "two chunks", func() bool { return len(f.out.Scheduled()) == 2 })

	f.out.SetTime(1.2)
	f.conn.Push(providerlive.ServerEvent{Interrupted: true})
	f.conn.Push(providerlive.ServerEvent{Audio: chunkOf(2400)})
	waitFor(t, "post-interrupt chunk", func() bool { return len(f.out.Scheduled()) == 3 })

	sch := f.out.Scheduled()
	for i := range 2 {
		if sch[i].Voice.StopCalls() != 1 {
			t.Errorf("voice %d stop calls = %d, want 1", i, sch[i].Voice.StopCalls())
		}
	}
	if at := sch[2].At; at != 1.2 {
		t.Errorf("post-interrupt start = %v, want 1.2 (cursor reset)", at)
	}
}

func TestOutput_MalformedChunkIsDropped(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.conn.Push(providerlive.ServerEvent{Audio: "%%% not base64"})
	f.conn.Push(providerlive.ServerEvent{Audio: audio.EncodeBase64([]byte{1, 2, 3})})
	f.conn.Push(providerlive.ServerEvent{Audio: chunkOf(240)})

	waitFor(t, "valid chunk", func() bool { return len(f.out.Scheduled()) == 1 })
	if st := f.sess.State(); st != live.StateOpen {
		t.Errorf("state = %v, want OPEN after malformed chunks", st)
	}
}

func TestOutput_FinishedVoiceIsNotStoppedOnInterrupt(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.conn.Push(providerlive.ServerEvent{Audio: chunkOf(240)})
	waitFor(t, "chunk", func() bool { return len(f.out.Scheduled()) == 1 })
	v := f.out.Scheduled()[0].Voice
	v.Finish()

	// Let the run loop observe the voice end before interrupting.
	time.Sleep(10 * time.Millisecond)
	f.conn.Push(providerlive.ServerEvent{Interrupted: true})
	f.stream.Push(frameOf(0, 16))
	waitFor(t, "frame after interrupt", func() bool { return len(f.conn.SentChunks()) == 1 })

	if v.StopCalls() != 0 {
		t.Errorf("finished voice stop calls = %d, want 0", v.StopCalls())
	}
}

// ── Teardown ──────────────────────────────────────────────────────────────────

func assertReleasedOnce(t *testing.T, f *fixture) {
	t.Helper()
	if n := f.stream.CloseCalls(); n != 1 {
		t.Errorf("capture stream closes = %d, want 1", n)
	}
	if n := f.out.CloseCalls(); n != 1 {
		t.Errorf("output closes = %d, want 1", n)
	}
	if n := f.conn.CloseCalls(); n != 1 {
		t.Errorf("connection closes = %d, want 1", n)
	}
}

func TestClose_UserLeave(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	f.conn.Push(providerlive.ServerEvent{Audio: chunkOf(24000)})
	waitFor(t, "chunk", func() bool { return len(f.out.Scheduled()) == 1 })

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.sess.Close()
		}()
	}
	wg.Wait()

	if st := f.sess.State(); st != live.StateClosed {
		t.Errorf("state = %v, want CLOSED", st)
	}
	if f.sess.Err() != nil {
		t.Errorf("Err = %v, want nil", f.sess.Err())
	}
	assertReleasedOnce(t, f)
	if f.out.Scheduled()[0].Voice.StopCalls() != 1 {
		t.Error("playing voice should be stopped on close")
	}

	states, statuses, _ := f.obs.snapshot()
	tail := states[len(states)-2:]
	if tail[0] != live.StateClosing || tail[1] != live.StateClosed {
		t.Errorf("final states = %v, want [CLOSING CLOSED]", tail)
	}
	if last := statuses[len(statuses)-1]; last != live.StatusDisconnected {
		t.Errorf("last status = %q, want %q", last, live.StatusDisconnected)
	}
}

func TestClose_RemoteCleanClose(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.conn.End(nil)
	waitDone(t, f.sess)

	if st := f.sess.State(); st != live.StateClosed {
		t.Errorf("state = %v, want CLOSED", st)
	}
	assertReleasedOnce(t, f)
	_ = f.sess.Close()
	assertReleasedOnce(t, f)
}

func TestClose_RemoteError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	cause := errors.New("stream reset")
	f.conn.End(cause)
	waitDone(t, f.sess)

	if st := f.sess.State(); st != live.StateErrored {
		t.Errorf("state = %v, want ERRORED", st)
	}
	var ce *live.ConnectionError
	if err := f.sess.Err(); !errors.As(err, &ce) || !errors.Is(err, cause) {
		t.Errorf("Err = %v, want ConnectionError wrapping the cause", err)
	}
	assertReleasedOnce(t, f)
}

func TestClose_CaptureEnded(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.stream.End()
	waitDone(t, f.sess)

	if st := f.sess.State(); st != live.StateClosed {
		t.Errorf("state = %v, want CLOSED", st)
	}
	assertReleasedOnce(t, f)
}

func TestClose_Idle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if err := f.sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if st := f.sess.State(); st != live.StateClosed {
		t.Errorf("state = %v, want CLOSED", st)
	}
	if err := f.sess.Start(context.Background()); !errors.Is(err, live.ErrAlreadyStarted) {
		t.Errorf("Start after Close err = %v, want ErrAlreadyStarted", err)
	}
	if f.mic.OpenCalls != 0 {
		t.Error("closed session must not open devices")
	}
}

// blockingProvider blocks Connect until ctx is cancelled.
type blockingProvider struct{ entered chan struct{} }

func (p *blockingProvider) Connect(ctx context.Context, _ providerlive.SessionConfig) (providerlive.Session, error) {
	close(p.entered)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestClose_WhileConnecting(t *testing.T) {
	t.Parallel()

	stream := audiomock.NewCaptureStream(1)
	out := audiomock.NewOutput()
	p := &blockingProvider{entered: make(chan struct{})}
	sess := live.New(&audiomock.CaptureDevice{Stream: stream}, &audiomock.PlaybackDevice{Output: out}, p,
		providerlive.SessionConfig{}, live.WithMetrics(testMetrics(t)))

	errc := make(chan error, 1)
	go func() { errc <- sess.Start(context.Background()) }()
	<-p.entered

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := <-errc; !errors.Is(err, live.ErrStopped) {
		t.Errorf("Start err = %v, want ErrStopped", err)
	}
	if st := sess.State(); st != live.StateClosed {
		t.Errorf("state = %v, want CLOSED", st)
	}
	if stream.CloseCalls() != 1 || out.CloseCalls() != 1 {
		t.Errorf("closes stream=%d out=%d, want 1/1", stream.CloseCalls(), out.CloseCalls())
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		s    live.State
		want string
	}{
		{live.StateIdle, "IDLE"},
		{live.StateConnecting, "CONNECTING"},
		{live.StateOpen, "OPEN"},
		{live.StateClosing, "CLOSING"},
		{live.StateClosed, "CLOSED"},
		{live.StateErrored, "ERRORED"},
		{live.State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
	if live.StateOpen.Terminal() || !live.StateErrored.Terminal() || !live.StateClosed.Terminal() {
		t.Error("Terminal() wrong")
	}
}
