package live

import "github.com/MrWong99/tutorlive/pkg/audio"

// playbackQueue schedules reply chunks back to back on one output device.
// It is owned by the session's run loop and is not safe for concurrent use.
type playbackQueue struct {
	out audio.Output

	// nextStart is the device time at which the next chunk may begin. Zero
	// after an interruption so that the next chunk starts immediately.
	nextStart float64

	seq    uint64
	active map[uint64]audio.Voice
}

func newPlaybackQueue(out audio.Output) *playbackQueue {
	return &playbackQueue{out: out, active: make(map[uint64]audio.Voice)}
}

// enqueue schedules buf at max(device time, cursor) and advances the cursor
// by the buffer's duration.
func (q *playbackQueue) enqueue(buf audio.Buffer) (uint64, audio.Voice, error) {
	start := max(q.out.CurrentTime(), q.nextStart)
	v, err := q.out.Schedule(buf, start)
	if err != nil {
		return 0, nil, err
	}
	q.nextStart = start + buf.Duration()
	q.seq++
	q.active[q.seq] = v
	return q.seq, v, nil
}

// finished forgets a voice that ended on its own.
func (q *playbackQueue) finished(id uint64) {
	delete(q.active, id)
}

// interrupt stops every active voice, clears the set, and resets the cursor.
// It returns how many voices were stopped.
func (q *playbackQueue) interrupt() int {
	n := len(q.active)
	for _, v := range q.active {
		v.Stop()
	}
	clear(q.active)
	q.nextStart = 0
	return n
}
