// Package browser implements an [audio.Source] fed by a web client that
// streams its microphone over a WebSocket.
//
// The transport layer (internal/web) calls [Source.Push] with every binary
// message it receives. Depending on the configured [Codec] the payload is
// either raw 16-bit little-endian PCM or a single Opus packet, which is
// decoded with gopus before delivery.
package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"layeh.com/gopus"

	"github.com/b-aragu/organic-sphere/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)

// Codec names the payload encoding of pushed messages.
type Codec string

const (
	CodecPCM16 Codec = "pcm16"
	CodecOpus  Codec = "opus"
)

const (
	frameChannelBuffer = 64

	// opusFrameMs is the longest Opus frame a browser encoder emits.
	opusFrameMs = 60
)

// ErrUnknownCodec is returned by [New] for an unsupported codec name.
var ErrUnknownCodec = errors.New("browser: unknown codec")

// Source accepts pushed audio payloads and exposes them as frames.
// It is safe for concurrent use.
type Source struct {
	codec  Codec
	format audio.Format

	mu      sync.Mutex
	decoder *gopus.Decoder
	frames  chan audio.AudioFrame
	closed  bool
	elapsed time.Duration
	dropped int
}

// New returns a Source that decodes codec payloads in the given format.
// Opus supports 8, 12, 16, 24 and 48 kHz with one or two channels.
func New(codec Codec, format audio.Format) (*Source, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("browser: invalid format %s", format)
	}
	s := &Source{
		codec:  codec,
		format: format,
		frames: make(chan audio.AudioFrame, frameChannelBuffer),
	}
	switch codec {
	case CodecPCM16:
	case CodecOpus:
		dec, err := gopus.NewDecoder(format.SampleRate, format.Channels)
		if err != nil {
			return nil, fmt.Errorf("browser: create opus decoder: %w", err)
		}
		s.decoder = dec
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, codec)
	}
	return s, nil
}

// Codec reports the configured payload encoding.
func (s *Source) Codec() Codec { return s.codec }

// Push decodes one payload and enqueues the resulting frame. When the
// consumer is behind the frame is dropped. Push returns [audio.ErrSourceClosed]
// after Close and a decode error for malformed payloads.
func (s *Source) Push(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrSourceClosed
	}
	if len(payload) == 0 {
		return nil
	}

	pcm, err := s.decode(payload)
	if err != nil {
		return err
	}
	frame := audio.AudioFrame{
		Data:       pcm,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Timestamp:  s.elapsed,
	}
	s.elapsed += frame.Duration()

	select {
	case s.frames <- frame:
	default:
		s.dropped++
		if s.dropped == 1 || s.dropped%100 == 0 {
			slog.Debug("browser: consumer behind, dropping frames", "dropped", s.dropped)
		}
	}
	return nil
}

func (s *Source) decode(payload []byte) ([]byte, error) {
	switch s.codec {
	case CodecOpus:
		maxFrame := s.format.SampleRate * opusFrameMs / 1000
		samples, err := s.decoder.Decode(payload, maxFrame, false)
		if err != nil {
			return nil, fmt.Errorf("browser: opus decode: %w", err)
		}
		return int16sToBytes(samples), nil
	default:
		if len(payload)%(2*s.format.Channels) != 0 {
			return nil, fmt.Errorf("browser: pcm payload of %d bytes is not a whole number of %d-channel samples",
				len(payload), s.format.Channels)
		}
		return append([]byte(nil), payload...), nil
	}
}

// Reset restarts the stream clock and decoder state, e.g. when a new client
// takes over the microphone.
func (s *Source) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elapsed = 0
	if s.decoder != nil {
		s.decoder.ResetState()
	}
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.AudioFrame { return s.frames }

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, v := range pcm {
		b[i*2] = byte(v)
		b[i*2+1] = byte(v >> 8)
	}
	return b
}
