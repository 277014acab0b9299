// Package recognition runs continuous speech recognition over a streaming
// [stt.Provider] and reports cumulative transcripts to a [Listener].
//
// Each [Session.Start] opens a new provider stream and assigns it a
// generation number. Every event carries the generation it belongs to, so a
// consumer that restarts recognition can discard late events of a stream it
// already abandoned. For one generation all transcripts are delivered before
// the end event, from a single goroutine.
package recognition

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/b-aragu/organic-sphere/internal/observe"
	"github.com/b-aragu/organic-sphere/pkg/audio"
	"github.com/b-aragu/organic-sphere/pkg/provider/stt"
)

// Transcript is the recognised text of a session so far: every final
// segment since Start followed by the current interim segment, if any.
type Transcript struct {
	// Text is the cumulative utterance.
	Text string

	// Seq increases by one with every transcript of a session, starting at 1.
	Seq uint64

	// Generation identifies the session that produced the transcript.
	Generation uint64

	// Final is true when Text consists of final segments only.
	Final bool

	// Confidence of the latest segment, 0 when the provider does not report
	// one.
	Confidence float64
}

// Listener receives session events. Calls for one generation come from a
// single goroutine and must not block for long.
type Listener interface {
	// OnTranscript is called for every non-empty recognition result.
	OnTranscript(t Transcript)

	// OnEnded is called exactly once per generation, after its last
	// transcript, whether the session was stopped or the engine gave up.
	OnEnded(generation uint64)

	// OnError reports an engine error. It precedes the OnEnded of the same
	// generation when the error ended the stream.
	OnError(generation uint64, err error)
}

// Config describes the stream each session opens.
type Config struct {
	// Format is the PCM format sent to the provider. Captured frames are
	// converted to it.
	Format audio.Format

	// Language is a BCP-47 tag; empty selects the provider default.
	Language string

	// Keywords are recognition hints passed to the provider.
	Keywords []stt.KeywordBoost
}

// Option configures a [Session].
type Option func(*Session)

// WithMetrics records stream setup latency and outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithProviderName sets the provider label used in metrics. Default "stt".
func WithProviderName(name string) Option {
	return func(s *Session) { s.providerName = name }
}

// Session manages one recognition stream at a time. Start and Stop are
// meant to be called from one goroutine; Feed may be called concurrently
// from the capture pump.
type Session struct {
	provider     stt.Provider
	listener     Listener
	metrics      *observe.Metrics
	providerName string

	mu       sync.Mutex
	cfg      Config
	gen      uint64
	handle   stt.SessionHandle
	conv     *audio.FormatConverter
	starting bool
}

// New returns a stopped session.
func New(provider stt.Provider, listener Listener, cfg Config, opts ...Option) *Session {
	s := &Session{
		provider:     provider,
		listener:     listener,
		cfg:          cfg,
		providerName: "stt",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetKeywords replaces the recognition hints. They apply from the next
// Start.
func (s *Session) SetKeywords(keywords []stt.KeywordBoost) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Keywords = append([]stt.KeywordBoost(nil), keywords...)
}

// Start opens a provider stream and returns its generation. When a stream
// is already running, Start returns its generation without opening another.
func (s *Session) Start(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	if s.handle != nil || s.starting {
		gen := s.gen
		s.mu.Unlock()
		return gen, nil
	}
	s.starting = true
	cfg := s.cfg
	s.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "recognition.start")
	start := time.Now()
	h, err := s.provider.StartStream(ctx, stt.StreamConfig{
		SampleRate: cfg.Format.SampleRate,
		Channels:   cfg.Format.Channels,
		Language:   cfg.Language,
		Keywords:   cfg.Keywords,
	})
	s.record(ctx, time.Since(start), err)
	observe.EndSpan(span, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
	if err != nil {
		return 0, fmt.Errorf("recognition: start stream: %w", err)
	}
	s.gen++
	s.handle = h
	s.conv = &audio.FormatConverter{Target: cfg.Format}
	go s.deliver(s.gen, h)

	observe.Logger(ctx).Debug("recognition started", "generation", s.gen)
	return s.gen, nil
}

// Stop ends the running stream, if any. The listener's OnEnded for the
// stopped generation follows asynchronously once the provider has closed.
func (s *Session) Stop() {
	s.mu.Lock()
	h := s.handle
	gen := s.gen
	s.handle, s.conv = nil, nil
	s.mu.Unlock()
	if h == nil {
		return
	}
	go func() {
		if err := h.Close(); err != nil {
			slog.Debug("recognition: close stream", "generation", gen, "err", err)
		}
	}()
}

// Running reports whether a stream is open.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

// Generation returns the generation of the most recently started stream,
// 0 before the first Start.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Feed sends a captured frame to the running stream. Frames arriving while
// no stream is open are dropped. A stream the engine has just ended may
// still report [stt.ErrSessionClosed].
func (s *Session) Feed(frame audio.AudioFrame) error {
	s.mu.Lock()
	h := s.handle
	var out audio.AudioFrame
	if h != nil {
		out = s.conv.Convert(frame)
	}
	s.mu.Unlock()

	if h == nil || len(out.Data) == 0 {
		return nil
	}
	return h.SendAudio(out.Data)
}

// deliver forwards results of one stream to the listener until the stream
// ends.
func (s *Session) deliver(gen uint64, h stt.SessionHandle) {
	var (
		finals []string
		seq    uint64
	)
	for r := range h.Results() {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		parts := finals
		if r.IsFinal {
			finals = append(finals, text)
			parts = finals
		} else {
			parts = append(parts[:len(parts):len(parts)], text)
		}
		seq++
		s.listener.OnTranscript(Transcript{
			Text:       strings.Join(parts, " "),
			Seq:        seq,
			Generation: gen,
			Final:      r.IsFinal,
			Confidence: r.Confidence,
		})
	}

	if err := h.Err(); err != nil {
		s.listener.OnError(gen, err)
	}

	s.mu.Lock()
	if s.gen == gen && s.handle == h {
		s.handle, s.conv = nil, nil
	}
	s.mu.Unlock()

	s.listener.OnEnded(gen)
}

func (s *Session) record(ctx context.Context, d time.Duration, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecognitionStartDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(observe.Attr("status", status)))
	s.metrics.RecordProviderRequest(ctx, s.providerName, "stt", status)
}
