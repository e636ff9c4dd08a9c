package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrMalformedPCM is returned by [DecodePCM16] when the byte length does not
// line up with 16-bit samples for the requested channel count.
var ErrMalformedPCM = errors.New("audio: malformed pcm data")

// pcmScale maps between float samples and signed 16-bit integers.
const pcmScale = 32768

// EncodePCM16 converts float samples to little-endian signed 16-bit PCM.
// Each sample is multiplied by 32768 and truncated toward zero. No clipping
// is applied: input outside [-1, 1) wraps around when narrowed to int16. Use
// [EncodePCM16Clamped] when the input is not known to be band-limited.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(int32(float64(s) * pcmScale))
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// EncodePCM16Clamped is like [EncodePCM16] but saturates samples to the
// int16 range instead of wrapping.
func EncodePCM16Clamped(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		f := float64(s) * pcmScale
		if f > 32767 {
			f = 32767
		} else if f < -32768 {
			f = -32768
		}
		v := int16(f)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodePCM16 converts little-endian signed 16-bit PCM into a playback
// [Buffer]. Interleaved multi-channel input is split so that channel c of
// frame i comes from sample index i*channels + c.
//
// The byte length must be a whole number of frames; anything else returns
// [ErrMalformedPCM].
func DecodePCM16(data []byte, sampleRate, channels int) (Buffer, error) {
	if channels <= 0 {
		return Buffer{}, fmt.Errorf("%w: channel count %d", ErrMalformedPCM, channels)
	}
	if len(data)%(2*channels) != 0 {
		return Buffer{}, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMalformedPCM, len(data), 2*channels)
	}

	frames := len(data) / 2 / channels
	buf := Buffer{
		Channels:   make([][]float32, channels),
		SampleRate: sampleRate,
	}
	for c := range channels {
		ch := make([]float32, frames)
		for i := range frames {
			idx := (i*channels + c) * 2
			v := int16(data[idx]) | int16(data[idx+1])<<8
			ch[i] = float32(float64(v) / pcmScale)
		}
		buf.Channels[c] = ch
	}
	return buf, nil
}

// EncodeBase64 returns the standard base64 encoding of data.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes standard base64 text.
func DecodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64: %w", err)
	}
	return b, nil
}

// DecodeChunk turns one base64 wire chunk into a mono playback buffer at
// sampleRate. Empty chunks are reported as [ErrMalformedPCM].
func DecodeChunk(chunk string, sampleRate int) (Buffer, error) {
	raw, err := DecodeBase64(chunk)
	if err != nil {
		return Buffer{}, err
	}
	if len(raw) == 0 {
		return Buffer{}, fmt.Errorf("%w: empty chunk", ErrMalformedPCM)
	}
	return DecodePCM16(raw, sampleRate, 1)
}
