// Package virtual provides a clocked software [audio.PlaybackDevice]. Device
// time is the number of seconds since the output was opened. Scheduled
// buffers are held in a start-time queue and handed to a [Sink] when their
// start time arrives; each voice ends after its buffer's duration.
package virtual

// voiceHeap implements [container/heap.Interface] as a min-heap ordered by
// start time (ascending), with FIFO tie-breaking on seq.
type voiceHeap []*voice

func (h voiceHeap) Len() int { return len(h) }

// Less reports whether voice i should start before voice j.
func (h voiceHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}

func (h voiceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *voiceHeap) Push(x any) {
	*h = append(*h, x.(*voice))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *voiceHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return v
}
