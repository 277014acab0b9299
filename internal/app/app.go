// Package app wires the organic-sphere subsystems into a running service.
//
// New builds every component from the config and the providers created by
// main. Run starts the capture pump, the turn controller, the HTTP server
// and the config watcher in one errgroup and blocks until ctx is cancelled
// or one of them fails. Shutdown releases what New acquired.
//
// For testing, inject doubles via functional options (WithSource,
// WithHistory, WithClock, ...).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/b-aragu/organic-sphere/internal/config"
	"github.com/b-aragu/organic-sphere/internal/health"
	"github.com/b-aragu/organic-sphere/internal/history"
	"github.com/b-aragu/organic-sphere/internal/observe"
	"github.com/b-aragu/organic-sphere/internal/recognition"
	"github.com/b-aragu/organic-sphere/internal/responder"
	"github.com/b-aragu/organic-sphere/internal/transcript"
	"github.com/b-aragu/organic-sphere/internal/transcript/llmcorrect"
	"github.com/b-aragu/organic-sphere/internal/transcript/phonetic"
	"github.com/b-aragu/organic-sphere/internal/turn"
	"github.com/b-aragu/organic-sphere/internal/web"
	"github.com/b-aragu/organic-sphere/pkg/audio"
	"github.com/b-aragu/organic-sphere/pkg/audio/analysis"
	"github.com/b-aragu/organic-sphere/pkg/provider/llm"
	"github.com/b-aragu/organic-sphere/pkg/provider/stt"
)

const shutdownTimeout = 5 * time.Second

// Providers holds the backends created by main via the config registry.
// A nil STT leaves recognition idle; a nil LLM requires responder.mode
// "http".
type Providers struct {
	LLM     llm.Provider
	STT     stt.Provider
	LLMName string
	STTName string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	source   audio.Source
	ring     *audio.Ring
	analyzer *analysis.Analyzer
	session  *recognition.Session
	pipeline *transcript.Pipeline
	resp     responder.Responder
	llmResp  *responder.LLM
	history  history.Store
	hub      *web.Hub
	ctrl     *turn.Controller
	health   *health.Handler
	handler  http.Handler

	metrics        *observe.Metrics
	metricsHandler http.Handler
	clock          turn.Clock
	listener       net.Listener
	configPath     string
	levelVar       *slog.LevelVar

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option configures New. Use these to inject test doubles.
type Option func(*App)

// WithSource sets the capture source. Without one the analyzer stays not
// ready and no audio reaches recognition. A source that also implements
// [web.AudioSink] receives audio sent by browser clients.
func WithSource(src audio.Source) Option {
	return func(a *App) { a.source = src }
}

// WithHistory injects a turn store instead of creating one from config.
func WithHistory(s history.Store) Option {
	return func(a *App) { a.history = s }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithClock replaces the clock of the silence and restart timers.
func WithClock(c turn.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithListener serves HTTP on ln instead of listening on server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithConfigWatch enables hot reload of the config file at path.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initAudio(); err != nil {
		return nil, fmt.Errorf("app: init audio: %w", err)
	}
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	if err := a.initResponder(); err != nil {
		return nil, fmt.Errorf("app: init responder: %w", err)
	}
	a.initTranscript()
	if err := a.initController(); err != nil {
		return nil, fmt.Errorf("app: init controller: %w", err)
	}
	a.initHTTP()
	return a, nil
}

// captureStaleAfter is how long the capture stream may go without audio
// before the analyzer reads silence.
const captureStaleAfter = 500 * time.Millisecond

// initAudio connects the analyzer to the capture ring. A missing source is
// not an error: the analyzer reports not ready and readiness fails.
func (a *App) initAudio() error {
	an, err := analysis.New(
		analysis.WithFFTSize(a.cfg.Audio.FFTSize),
		analysis.WithSmoothing(smoothing(a.cfg.Audio.Smoothing)),
	)
	if err != nil {
		return err
	}
	a.analyzer = an
	var now func() time.Time
	if a.clock != nil {
		now = a.clock.Now
	}
	a.ring = audio.NewRing(an.FFTSize(), audio.WithStaleAfter(captureStaleAfter, now))

	var hubOpts []web.HubOption
	hubOpts = append(hubOpts, web.WithHubMetrics(a.metrics))
	if a.source != nil {
		a.analyzer.Connect(a.ring)
		a.closers = append(a.closers, a.source.Close)
		if sink, ok := a.source.(web.AudioSink); ok {
			hubOpts = append(hubOpts, web.WithAudioSink(captureSink{AudioSink: sink, ring: a.ring}))
		}
	} else {
		slog.Warn("no audio source available; running without capture")
	}
	a.hub = web.NewHub(hubOpts...)
	return nil
}

// captureSink clears the analyzer window whenever the browser stream
// changes hands.
type captureSink struct {
	web.AudioSink
	ring *audio.Ring
}

func (s captureSink) Reset() {
	s.AudioSink.Reset()
	s.ring.Reset()
}

func escalateAfter(p *int) int {
	if p == nil {
		return config.DefaultEscalateAfter
	}
	return *p
}

func smoothing(p *float64) float64 {
	if p == nil {
		return config.DefaultSmoothing
	}
	return *p
}

func (a *App) initHistory(ctx context.Context) error {
	if a.history != nil {
		return nil
	}
	dsn := a.cfg.History.PostgresDSN
	if dsn == "" {
		a.history = history.NewMemoryStore(a.cfg.History.MaxTurns)
		return nil
	}
	store, err := history.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	a.history = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("turn history stored in postgres")
	return nil
}

func (a *App) initResponder() error {
	rc := a.cfg.Responder
	switch rc.Mode {
	case config.ResponderHTTP:
		if rc.URL == "" {
			return errors.New("responder.url is required in http mode")
		}
		a.resp = responder.NewClient(rc.URL)
	default:
		if a.providers.LLM == nil {
			return errors.New("an LLM provider is required in llm mode")
		}
		opts := []responder.Option{
			responder.WithSystemPrompt(rc.SystemPrompt),
			responder.WithFallbackText(rc.FallbackText),
			responder.WithMaxTokens(rc.MaxTokens),
			responder.WithHistory(a.history, a.cfg.History.ContextTurns),
			responder.WithMetrics(a.metrics),
			responder.WithProviderName(a.providers.LLMName),
		}
		if rc.Temperature != nil {
			opts = append(opts, responder.WithTemperature(*rc.Temperature))
		}
		a.llmResp = responder.NewLLM(a.providers.LLM, opts...)
		a.resp = a.llmResp
	}
	return nil
}

func (a *App) initTranscript() {
	vc := a.cfg.Vocabulary
	opts := []transcript.Option{
		transcript.WithMatcher(phonetic.New(
			phonetic.WithPhoneticThreshold(vc.PhoneticThreshold),
			phonetic.WithFuzzyThreshold(vc.FuzzyThreshold),
		)),
	}
	if vc.LLMCorrect && a.providers.LLM != nil {
		opts = append(opts, transcript.WithLLMCorrector(llmcorrect.New(a.providers.LLM)))
	}
	a.pipeline = transcript.NewPipeline(vc.Terms, opts...)
}

func (a *App) initController() error {
	tc := a.cfg.Turn
	rc := a.cfg.Recognition
	var keywords []stt.KeywordBoost
	for _, kw := range rc.Keywords {
		keywords = append(keywords, stt.KeywordBoost{Keyword: kw.Keyword, Boost: kw.Boost})
	}

	deps := turn.Deps{
		NewRecognizer: func(l recognition.Listener) turn.Recognizer {
			if a.providers.STT == nil {
				slog.Warn("no speech recognition provider; transcripts disabled")
				return &idleRecognizer{}
			}
			a.session = recognition.New(a.providers.STT, l, recognition.Config{
				Format:   audio.Format{SampleRate: rc.SampleRate, Channels: rc.Channels},
				Language: rc.Language,
				Keywords: keywords,
			}, recognition.WithMetrics(a.metrics), recognition.WithProviderName(a.providers.STTName))
			return a.session
		},
		Meter:     a.analyzer,
		Responder: a.resp,
		Display:   a.hub,
		Corrector: a.pipeline,
		History:   a.history,
		Metrics:   a.metrics,
		Clock:     a.clock,
	}

	ctrl, err := turn.New(turn.Config{
		SilenceThreshold: tc.SilenceThreshold,
		SilenceDuration:  tc.SilenceDuration,
		PollInterval:     tc.PollInterval,
		LevelsInterval:   tc.LevelsInterval,
		RestartInitial:   tc.RestartInitial,
		RestartMax:       tc.RestartMax,
		EscalateAfter:    escalateAfter(tc.EscalateAfter),
		ResponseTimeout:  a.cfg.Responder.Timeout,
		ErrorText:        a.cfg.Responder.ErrorText,
	}, deps)
	if err != nil {
		return err
	}
	a.ctrl = ctrl
	return nil
}

func (a *App) initHTTP() {
	a.health = health.New(a.healthCheckers()...)
	a.handler = web.NewHandler(web.Options{
		Hub:            a.hub,
		State:          a.ctrl.Snapshot,
		History:        a.history,
		Responder:      a.resp,
		Health:         a.health,
		MetricsHandler: a.metricsHandler,
		Metrics:        a.metrics,
	})
}

// healthCheckers reports capture as critical. History and recognition
// only degrade the service.
func (a *App) healthCheckers() []health.Checker {
	checkers := []health.Checker{{
		Name:     "capture",
		Critical: true,
		Check: func(context.Context) error {
			if !a.analyzer.Ready() {
				return errors.New("no audio stream connected")
			}
			return nil
		},
	}}
	if p, ok := a.history.(interface{ Ping(context.Context) error }); ok {
		checkers = append(checkers, health.Checker{Name: "history", Check: p.Ping})
	}
	checkers = append(checkers, health.Checker{
		Name: "recognition",
		Check: func(context.Context) error {
			limit := escalateAfter(a.cfg.Turn.EscalateAfter)
			if limit <= 0 {
				limit = config.DefaultEscalateAfter
			}
			if s := a.ctrl.Snapshot(); s.ErrorStreak >= limit {
				return fmt.Errorf("%d consecutive recognition errors", s.ErrorStreak)
			}
			return nil
		},
	})
	return checkers
}

// Handler returns the HTTP handler of the service.
func (a *App) Handler() http.Handler { return a.handler }

// Controller returns the turn controller.
func (a *App) Controller() *turn.Controller { return a.ctrl }

// Pipeline returns the vocabulary correction pipeline.
func (a *App) Pipeline() *transcript.Pipeline { return a.pipeline }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run blocks until ctx is cancelled or a component fails. It returns nil on
// a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}
	srv := &http.Server{Handler: a.handler, ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.ctrl.Run(ctx) })
	if a.source != nil {
		g.Go(func() error { a.pump(ctx); return nil })
	}
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig)
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			g.Go(func() error { return w.Run(ctx) })
		}
	}

	slog.Info("app running", "source", a.cfg.Audio.Source, "responder", a.cfg.Responder.Mode)
	return g.Wait()
}

// pump copies captured frames into the analyzer ring and the recognition
// stream until the source closes or ctx is done.
func (a *App) pump(ctx context.Context) {
	frames := a.source.Frames()
	defer a.analyzer.Connect(nil)
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				slog.Warn("audio source closed; capture stopped")
				return
			}
			a.ring.WriteFrame(frame)
			if a.session == nil {
				continue
			}
			if err := a.session.Feed(frame); err != nil {
				a.metrics.DroppedFrames.Add(ctx, 1)
				if !errors.Is(err, stt.ErrSessionClosed) {
					slog.Debug("recognition rejected audio", "err", err)
				}
			}
		}
	}
}

// applyConfig applies the hot-reloadable parts of a changed config.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TurnChanged {
		a.ctrl.Reconfigure(d.NewTurn.SilenceThreshold, d.NewTurn.SilenceDuration)
		slog.Info("silence detection reconfigured",
			"threshold", d.NewTurn.SilenceThreshold,
			"duration", d.NewTurn.SilenceDuration,
		)
	}
	if d.SystemPromptChanged && a.llmResp != nil {
		a.llmResp.SetSystemPrompt(d.NewSystemPrompt)
		slog.Info("system prompt updated")
	}
	if d.VocabularyChanged {
		a.pipeline.SetTerms(d.NewVocabulary.Terms)
		slog.Info("vocabulary updated", "terms", len(d.NewVocabulary.Terms))
	}
}

// ParseLevel maps a config log level to its slog level.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown runs the closers in order. It respects the context deadline: if
// ctx expires first the remaining closers are skipped and the context error
// is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// idleRecognizer stands in when no STT provider is configured. It accepts
// Start and never reports a transcript.
type idleRecognizer struct {
	gen uint64
}

func (r *idleRecognizer) Start(context.Context) (uint64, error) {
	r.gen++
	return r.gen, nil
}

func (r *idleRecognizer) Stop() {}
