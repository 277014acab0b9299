// Package mock provides an in-memory [audio.Source] for unit tests.
//
// Tests push frames with [Source.Push] and observe how the consumer reacts.
// Closing the source closes the frame channel exactly like a real device
// going away.
//
//	src := mock.NewSource(audio.Format{SampleRate: 16000, Channels: 1})
//	src.Push(audio.AudioFrame{Data: pcm, SampleRate: 16000, Channels: 1})
//	src.Close()
package mock

import (
	"sync"

	"github.com/b-aragu/organic-sphere/pkg/audio"
)

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu     sync.Mutex
	format audio.Format
	frames chan audio.AudioFrame
	closed bool

	// CloseErr is returned by Close.
	CloseErr error

	// CloseCallCount records how many times Close was called.
	CloseCallCount int
}

// NewSource returns a Source reporting format with a buffered frame channel.
func NewSource(format audio.Format) *Source {
	return &Source{format: format, frames: make(chan audio.AudioFrame, 64)}
}

// Push enqueues a frame. It reports false when the source is closed.
func (s *Source) Push(f audio.AudioFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.frames <- f
	return true
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.AudioFrame { return s.frames }

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return s.CloseErr
}

var _ audio.Source = (*Source)(nil)
