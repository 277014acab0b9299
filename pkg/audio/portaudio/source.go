// Package portaudio captures a local microphone through PortAudio and exposes
// it as an [audio.Source].
//
// The default input device is opened in mono float32 mode; every filled
// buffer is converted to 16-bit PCM and delivered as one [audio.AudioFrame].
// When the consumer falls behind, frames are dropped rather than stalling the
// device callback.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/b-aragu/organic-sphere/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)

const (
	defaultSampleRate      = 48000
	defaultFramesPerBuffer = 1024
	frameChannelBuffer     = 64
)

// Option configures a [Source].
type Option func(*Source)

// WithSampleRate sets the capture sample rate in Hz. Default: 48000.
func WithSampleRate(hz int) Option {
	return func(s *Source) {
		if hz > 0 {
			s.format.SampleRate = hz
		}
	}
}

// WithFramesPerBuffer sets the number of samples read per device buffer.
// Default: 1024.
func WithFramesPerBuffer(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.framesPerBuffer = n
		}
	}
}

// stream is the subset of *portaudio.Stream the capture loop uses.
type stream interface {
	Read() error
	Stop() error
	Close() error
}

// Source is a PortAudio-backed microphone. It is safe for concurrent use.
type Source struct {
	format          audio.Format
	framesPerBuffer int

	stream    stream
	buf       []float32
	frames    chan audio.AudioFrame
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
	terminate func() error

	dropped int
}

// Open initialises PortAudio, opens the default input device and starts
// capturing. The caller must Close the source to release the device.
func Open(opts ...Option) (*Source, error) {
	s := newSource(opts...)

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	st, err := portaudio.OpenDefaultStream(s.format.Channels, 0, float64(s.format.SampleRate), s.framesPerBuffer, s.buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open default input: %w", err)
	}
	if err := st.Start(); err != nil {
		_ = st.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start input: %w", err)
	}

	s.stream = st
	s.terminate = portaudio.Terminate
	go s.captureLoop()

	slog.Info("portaudio: capture started",
		"format", s.format.String(),
		"frames_per_buffer", s.framesPerBuffer,
	)
	return s, nil
}

func newSource(opts ...Option) *Source {
	s := &Source{
		format:          audio.Format{SampleRate: defaultSampleRate, Channels: 1},
		framesPerBuffer: defaultFramesPerBuffer,
		frames:          make(chan audio.AudioFrame, frameChannelBuffer),
		done:            make(chan struct{}),
		exited:          make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.buf = make([]float32, s.framesPerBuffer*s.format.Channels)
	return s
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.AudioFrame { return s.frames }

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// Close stops the device, waits for the capture loop to exit and releases
// PortAudio. Subsequent calls return nil.
func (s *Source) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		close(s.done)
		// Stopping the stream unblocks a pending Read.
		if err := s.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: stop: %w", err))
		}
		<-s.exited
		if err := s.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: close: %w", err))
		}
		if s.terminate != nil {
			if err := s.terminate(); err != nil {
				errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}

// captureLoop reads device buffers until Close is called or the device fails.
// It closes the frame channel on exit.
func (s *Source) captureLoop() {
	defer close(s.exited)
	defer close(s.frames)

	var elapsed time.Duration
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			select {
			case <-s.done:
			default:
				slog.Warn("portaudio: read failed, stopping capture", "err", err)
			}
			return
		}

		frame := audio.AudioFrame{
			Data:       audio.PCM16(s.buf),
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  elapsed,
		}
		elapsed += frame.Duration()

		select {
		case s.frames <- frame:
		default:
			s.dropped++
			if s.dropped == 1 || s.dropped%100 == 0 {
				slog.Debug("portaudio: consumer behind, dropping frames", "dropped", s.dropped)
			}
		}
	}
}
