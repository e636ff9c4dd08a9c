package audio

// Fixed stream formats used by the live tutoring session.
const (
	// InputSampleRate is the rate at which microphone audio is sent to the model.
	InputSampleRate = 16000

	// OutputSampleRate is the rate of the audio the model sends back.
	OutputSampleRate = 24000

	// InputMIMEType tags every outgoing audio chunk on the streaming connection.
	InputMIMEType = "audio/pcm;rate=16000"
)

// Frame is one fixed-size block of mono samples delivered by a capture device
// per callback tick. Samples are nominally in [-1, 1].
//
// Frames are ephemeral: they are produced and consumed within one processing
// step and must not be retained after the consumer returns.
type Frame struct {
	// Samples holds single-channel floating-point audio.
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for model input, 48000 for a browser
	// AudioContext running at its native rate).
	SampleRate int
}

// Buffer is decoded audio ready for playback. Channels holds one sample
// slice per channel; all slices have the same length.
type Buffer struct {
	Channels   [][]float32
	SampleRate int
}

// Frames returns the number of sample frames in the buffer.
func (b Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of the buffer in seconds.
func (b Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}
