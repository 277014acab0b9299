package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/b-aragu/organic-sphere/internal/history"
	"github.com/b-aragu/organic-sphere/internal/observe"
	"github.com/b-aragu/organic-sphere/internal/recognition"
	"github.com/b-aragu/organic-sphere/internal/transcript"
	"github.com/b-aragu/organic-sphere/pkg/audio/analysis"
)

// Display kinds.
const (
	KindInput   = "input"
	KindReply   = "reply"
	KindInterim = "interim"
	KindError   = "error"
)

// Recognizer is the speech recognition stream the controller drives.
// [recognition.Session] implements it.
type Recognizer interface {
	Start(ctx context.Context) (uint64, error)
	Stop()
}

// Meter reports the input level. [analysis.Analyzer] implements it.
type Meter interface {
	Poll()
	Volume() float64
	Levels() [analysis.Bands]float64
}

// Responder turns a finished utterance into a reply.
type Responder interface {
	Send(ctx context.Context, text string) (string, error)
}

// Display shows conversation output to the user.
type Display interface {
	Display(kind, text string)
}

// LevelsDisplay is implemented by displays that also render the input
// level. The controller throttles calls to Config.LevelsInterval.
type LevelsDisplay interface {
	DisplayLevels(volume float64, bands [analysis.Bands]float64)
}

// Corrector fixes misheard vocabulary. [transcript.Pipeline] implements it.
type Corrector interface {
	Correct(ctx context.Context, text string) (*transcript.Result, error)
}

// Config holds the controller settings. Zero values select defaults.
type Config struct {
	SilenceThreshold float64
	SilenceDuration  time.Duration

	// PollInterval is the period of volume polling.
	PollInterval time.Duration

	// LevelsInterval throttles level updates to the display. Zero disables
	// them.
	LevelsInterval time.Duration

	// RestartInitial and RestartMax bound the backoff between recognition
	// restarts after errors.
	RestartInitial time.Duration
	RestartMax     time.Duration

	// EscalateAfter is the number of consecutive recognition errors after
	// which an error is displayed. Zero never displays one.
	EscalateAfter int

	// ResponseTimeout bounds a responder call. Zero waits indefinitely.
	ResponseTimeout time.Duration

	// ErrorText is displayed as the reply when the responder fails.
	ErrorText string
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 16 * time.Millisecond
	}
	if c.RestartInitial <= 0 {
		c.RestartInitial = 250 * time.Millisecond
	}
	if c.RestartMax <= 0 {
		c.RestartMax = 10 * time.Second
	}
	if c.ErrorText == "" {
		c.ErrorText = "Sorry, I could not get an answer right now."
	}
}

// Deps are the collaborators of a [Controller]. NewRecognizer, Meter,
// Responder and Display are required.
type Deps struct {
	// NewRecognizer builds the recognizer that reports to l. It is called
	// once by [New].
	NewRecognizer func(l recognition.Listener) Recognizer

	Meter     Meter
	Responder Responder
	Display   Display

	Corrector Corrector
	History   history.Store
	Metrics   *observe.Metrics
	Clock     Clock
}

// Snapshot is a point-in-time view of the controller for health checks and
// the browser client.
type Snapshot struct {
	State          State  `json:"state"`
	Buffer         string `json:"buffer"`
	Turns          int    `json:"turns"`
	Generation     uint64 `json:"generation"`
	Recognizing    bool   `json:"recognizing"`
	SilencePending bool   `json:"silence_pending"`
	ErrorStreak    int    `json:"error_streak"`
}

type eventKind int

const (
	evTranscript eventKind = iota
	evEnded
	evError
	evSilence
	evResponse
	evRestart
	evReconfigure
)

type event struct {
	kind       eventKind
	generation uint64
	transcript recognition.Transcript
	err        error
	token      uint64
	response   response
	threshold  float64
	duration   time.Duration
}

type response struct {
	turn history.Turn
	err  error
}

// Controller is the turn-taking state machine. Create it with [New] and
// drive it with [Controller.Run].
type Controller struct {
	cfg     Config
	deps    Deps
	rec     Recognizer
	silence *SilenceDetector
	clock   Clock
	metrics *observe.Metrics
	levels  LevelsDisplay

	events chan event
	done   chan struct{}
	snap   atomic.Pointer[Snapshot]

	// Loop state, owned by the Run goroutine.
	state          State
	buffer         string
	generation     uint64
	recognizing    bool
	turns          int
	errStreak      int
	escalated      bool
	restartPending bool
	backoff        *backoff.ExponentialBackOff
	lastLevels     time.Time
}

// New validates deps and returns an idle controller.
func New(cfg Config, deps Deps) (*Controller, error) {
	switch {
	case deps.NewRecognizer == nil:
		return nil, errors.New("turn: NewRecognizer is required")
	case deps.Meter == nil:
		return nil, errors.New("turn: Meter is required")
	case deps.Responder == nil:
		return nil, errors.New("turn: Responder is required")
	case deps.Display == nil:
		return nil, errors.New("turn: Display is required")
	}
	cfg.applyDefaults()

	clock := deps.Clock
	if clock == nil {
		clock = realClock{}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.RestartInitial
	bo.MaxInterval = cfg.RestartMax
	bo.Reset()

	c := &Controller{
		cfg:     cfg,
		deps:    deps,
		silence: NewSilenceDetector(cfg.SilenceThreshold, cfg.SilenceDuration, clock),
		clock:   clock,
		metrics: deps.Metrics,
		events:  make(chan event, 256),
		done:    make(chan struct{}),
		backoff: bo,
	}
	c.levels, _ = deps.Display.(LevelsDisplay)
	c.silence.OnSilence(func(token uint64) {
		c.post(event{kind: evSilence, token: token})
	})
	c.rec = deps.NewRecognizer(listener{c})
	if c.rec == nil {
		return nil, errors.New("turn: NewRecognizer returned nil")
	}
	c.publish()
	return c, nil
}

// Snapshot returns the state as of the last processed event. It is safe to
// call from any goroutine.
func (c *Controller) Snapshot() Snapshot {
	return *c.snap.Load()
}

// Reconfigure changes the silence settings. They apply from the next armed
// timer.
func (c *Controller) Reconfigure(threshold float64, duration time.Duration) {
	c.post(event{kind: evReconfigure, threshold: threshold, duration: duration})
}

// Run starts listening and processes events until ctx is done. Recognition
// is stopped on return. Run returns nil on cancellation.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	c.state = Listening
	c.startRecognition(ctx)
	c.publish()

	for {
		select {
		case <-ctx.Done():
			c.silence.Cancel()
			c.rec.Stop()
			c.state = Idle
			c.recognizing = false
			c.publish()
			return nil
		case <-ticker.C:
			c.tick()
		case ev := <-c.events:
			c.handle(ctx, ev)
			c.publish()
		}
	}
}

// post enqueues ev unless the loop has exited.
func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) tick() {
	c.deps.Meter.Poll()
	volume := c.deps.Meter.Volume()

	if c.state == Listening {
		wasPending := c.silence.Pending()
		c.silence.Observe(volume)
		if wasPending != c.silence.Pending() {
			c.publish()
		}
	}

	if c.levels != nil && c.cfg.LevelsInterval > 0 {
		if now := c.clock.Now(); now.Sub(c.lastLevels) >= c.cfg.LevelsInterval {
			c.lastLevels = now
			c.levels.DisplayLevels(volume, c.deps.Meter.Levels())
		}
	}
}

func (c *Controller) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evTranscript:
		c.onTranscript(ev.transcript)
	case evEnded:
		c.onEnded(ctx, ev.generation)
	case evError:
		c.onError(ctx, ev.generation, ev.err)
	case evSilence:
		c.onSilence(ctx, ev.token)
	case evResponse:
		c.onResponse(ctx, ev.response)
	case evRestart:
		c.restartPending = false
		if c.state == Listening && !c.recognizing {
			c.startRecognition(ctx)
		}
	case evReconfigure:
		c.silence.SetConfig(ev.threshold, ev.duration)
		slog.Info("turn: silence settings updated", "threshold", ev.threshold, "duration", ev.duration)
	}
}

func (c *Controller) onTranscript(t recognition.Transcript) {
	if c.state != Listening || t.Generation != c.generation {
		return
	}
	c.buffer = t.Text
	if c.errStreak > 0 {
		c.errStreak = 0
		c.escalated = false
		c.backoff.Reset()
	}
	c.deps.Display.Display(KindInterim, t.Text)
}

func (c *Controller) onSilence(ctx context.Context, token uint64) {
	if !c.silence.Fire(token) {
		return
	}
	if c.state != Listening || strings.TrimSpace(c.buffer) == "" {
		return
	}
	c.submit(ctx)
}

func (c *Controller) onEnded(ctx context.Context, gen uint64) {
	if gen != c.generation || !c.recognizing {
		return
	}
	c.recognizing = false
	if c.state != Listening {
		return
	}
	if strings.TrimSpace(c.buffer) != "" {
		c.submit(ctx)
		return
	}
	if c.errStreak > 0 {
		c.scheduleRestart("error")
		return
	}
	c.recordRestart(ctx, "ended")
	c.startRecognition(ctx)
}

func (c *Controller) onError(ctx context.Context, gen uint64, err error) {
	if gen != c.generation || !c.recognizing {
		return
	}
	observe.Logger(ctx).Warn("turn: recognition error", "generation", gen, "err", err)
	c.recognitionFailed(err)
}

// recognitionFailed counts a failure and displays an error once per streak.
func (c *Controller) recognitionFailed(err error) {
	c.errStreak++
	if c.cfg.EscalateAfter > 0 && c.errStreak >= c.cfg.EscalateAfter && !c.escalated {
		c.escalated = true
		c.deps.Display.Display(KindError, "Speech recognition is unavailable: "+err.Error())
	}
}

func (c *Controller) startRecognition(ctx context.Context) {
	gen, err := c.rec.Start(ctx)
	if err != nil {
		observe.Logger(ctx).Warn("turn: cannot start recognition", "err", err)
		c.recognitionFailed(err)
		c.scheduleRestart("start_failed")
		return
	}
	c.generation = gen
	c.recognizing = true
}

func (c *Controller) scheduleRestart(reason string) {
	if c.restartPending {
		return
	}
	c.restartPending = true
	delay := c.backoff.NextBackOff()
	c.recordRestart(context.Background(), reason)
	slog.Debug("turn: restarting recognition", "reason", reason, "delay", delay)
	c.clock.AfterFunc(delay, func() { c.post(event{kind: evRestart}) })
}

func (c *Controller) recordRestart(ctx context.Context, reason string) {
	if c.metrics != nil {
		c.metrics.RecordRestart(ctx, reason)
	}
}

// submit ends the turn: recognition stops, the utterance is shown and sent
// to the responder on its own goroutine.
func (c *Controller) submit(ctx context.Context) {
	c.silence.Cancel()
	c.rec.Stop()
	c.recognizing = false
	text := strings.TrimSpace(c.buffer)
	c.buffer = ""
	c.state = AwaitingResponse
	c.deps.Display.Display(KindInput, text)

	go c.respond(ctx, text, time.Now())
}

func (c *Controller) respond(ctx context.Context, text string, started time.Time) {
	if c.cfg.ResponseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ResponseTimeout)
		defer cancel()
	}
	ctx, span := observe.StartSpan(ctx, "turn.respond")

	corrected := text
	if c.deps.Corrector != nil {
		res, err := c.deps.Corrector.Correct(ctx, text)
		if err != nil {
			observe.Logger(ctx).Warn("turn: vocabulary correction failed", "err", err)
		}
		if res != nil {
			corrected = res.Corrected
			if res.Changed() {
				observe.Logger(ctx).Debug("turn: corrected utterance", "from", text, "to", corrected)
			}
		}
	}

	reply, err := c.deps.Responder.Send(ctx, corrected)
	if err != nil {
		err = fmt.Errorf("turn: responder: %w", err)
		reply = c.cfg.ErrorText
	}
	observe.EndSpan(span, err)

	t := history.Turn{
		Input:      text,
		Corrected:  corrected,
		Reply:      reply,
		Failed:     err != nil,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if c.deps.History != nil {
		if herr := c.deps.History.Record(context.WithoutCancel(ctx), &t); herr != nil {
			observe.Logger(ctx).Warn("turn: record history", "err", herr)
		}
	}
	c.post(event{kind: evResponse, response: response{turn: t, err: err}})
}

func (c *Controller) onResponse(ctx context.Context, r response) {
	if c.state != AwaitingResponse {
		return
	}
	status := "ok"
	if r.err != nil {
		status = "error"
		observe.Logger(ctx).Warn("turn: responder failed", "err", r.err)
	}
	if c.metrics != nil {
		c.metrics.RecordTurn(ctx, status, r.turn.FinishedAt.Sub(r.turn.StartedAt).Seconds())
	}
	c.turns++
	c.deps.Display.Display(KindReply, r.turn.Reply)

	c.state = Listening
	c.startRecognition(ctx)
}

func (c *Controller) publish() {
	s := &Snapshot{
		State:          c.state,
		Buffer:         c.buffer,
		Turns:          c.turns,
		Generation:     c.generation,
		Recognizing:    c.recognizing,
		SilencePending: c.silence.Pending(),
		ErrorStreak:    c.errStreak,
	}
	c.snap.Store(s)
	if c.metrics != nil {
		c.metrics.TurnState.Record(context.Background(), int64(c.state))
	}
}

// listener adapts recognition callbacks to controller events.
type listener struct{ c *Controller }

func (l listener) OnTranscript(t recognition.Transcript) {
	l.c.post(event{kind: evTranscript, generation: t.Generation, transcript: t})
}

func (l listener) OnEnded(gen uint64) {
	l.c.post(event{kind: evEnded, generation: gen})
}

func (l listener) OnError(gen uint64, err error) {
	l.c.post(event{kind: evError, generation: gen, err: err})
}
