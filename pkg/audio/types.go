// Package audio defines the capture types shared by every microphone source
// and by the consumers of captured audio (the analyzer ring and the
// recognition session).
//
// A [Source] delivers [AudioFrame] values carrying 16-bit little-endian PCM.
// Implementations live in sub-packages: audio/portaudio opens a local input
// device and audio/browser accepts frames streamed from a web client.
package audio

import (
	"encoding/binary"
	"errors"
	"time"
)

// ErrSourceClosed is returned by operations on a [Source] after Close.
var ErrSourceClosed = errors.New("audio: source closed")

// AudioFrame is one chunk of captured microphone audio.
type AudioFrame struct {
	// Data is interleaved signed 16-bit little-endian PCM.
	Data []byte

	// SampleRate in Hz (e.g. 48000 for a browser capture, 16000 for STT).
	SampleRate int

	// Channels is the number of interleaved channels in Data.
	Channels int

	// Timestamp is the capture offset relative to the start of the stream.
	Timestamp time.Duration
}

// Duration returns the play length of the frame. It returns 0 when the
// format fields are unset.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Source is a live microphone stream.
//
// Frames returns the same channel on every call; it is closed when the source
// stops delivering audio, either because Close was called or because the
// underlying device went away. Implementations must be safe for concurrent use.
type Source interface {
	// Frames returns the channel of captured frames.
	Frames() <-chan AudioFrame

	// Format reports the sample rate and channel count of delivered frames.
	Format() Format

	// Close stops capture and closes the Frames channel. Calling Close more
	// than once is safe and returns nil.
	Close() error
}

// Float32Mono decodes 16-bit PCM into mono float32 samples in [-1, 1],
// averaging channels when the input is interleaved multi-channel audio.
// A trailing partial sample is ignored.
func Float32Mono(pcm []byte, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(pcm) / (2 * channels)
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			off := (i*channels + ch) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[off:]))) / 32768
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// PCM16 encodes float32 samples in [-1, 1] as 16-bit little-endian PCM,
// clamping values outside that range.
func PCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	return out
}
