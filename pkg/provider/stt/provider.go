// Package stt defines the Provider interface for streaming speech-to-text
// backends.
//
// A provider wraps a transcription service (Deepgram, a whisper.cpp server or
// an in-process whisper.cpp model) behind one streaming abstraction: once a
// session is opened it accepts raw PCM chunks and emits an ordered stream of
// [Transcript] values. Interim guesses and committed final segments travel on
// the same channel so consumers see them in the order the engine produced
// them.
//
// A session ends either because the caller closed it or because the engine
// gave up (network failure, server-side timeout). In both cases the Results
// channel is closed; [SessionHandle.Err] then tells the two apart.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after the session has ended.
var ErrSessionClosed = errors.New("stt: session closed")

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 suits every bundled
	// provider.
	SampleRate int

	// Channels is the number of interleaved channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g. "en-US"). An
	// empty string lets the provider pick its default.
	Language string

	// Keywords are vocabulary hints that increase the recognition probability
	// of uncommon words. Providers without keyword support ignore them.
	Keywords []KeywordBoost
}

// SessionHandle is an open streaming session. All methods are safe for
// concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of 16-bit little-endian PCM matching the
	// StreamConfig format. It returns ErrSessionClosed once the session has
	// ended.
	SendAudio(chunk []byte) error

	// Results returns the ordered stream of interim and final transcripts.
	// The channel is closed when the session ends for any reason.
	Results() <-chan Transcript

	// Err returns the error that ended the session, or nil when it ended
	// through Close. It is only meaningful after Results has been closed.
	Err() error

	// Close terminates the session and releases its resources. After Close
	// returns the Results channel is closed. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend. Implementations must be
// safe for concurrent use.
type Provider interface {
	// StartStream opens a new streaming session. It returns an error when the
	// session cannot be established (authentication failure, unreachable
	// server, ctx already cancelled). The caller owns the handle and must
	// Close it.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
