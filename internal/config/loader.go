package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":8080"
	DefaultSampleRate       = 48000
	DefaultFramesPerBuffer  = 1024
	DefaultFFTSize          = 256
	DefaultSmoothing        = 0.8
	DefaultSTTSampleRate    = 16000
	DefaultLanguage         = "en-US"
	DefaultSilenceThreshold = 0.01
	DefaultSilenceDuration  = 2 * time.Second
	DefaultPollInterval     = 16 * time.Millisecond
	DefaultLevelsInterval   = 100 * time.Millisecond
	DefaultRestartInitial   = 250 * time.Millisecond
	DefaultRestartMax       = 10 * time.Second
	DefaultEscalateAfter    = 3
	DefaultSystemPrompt     = "You are a helpful assistant."
	DefaultFallbackText     = "No response from the language model"
	DefaultErrorText        = "Sorry, I could not get an answer right now."
	DefaultMaxTurns         = 1000
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "groq", "anthropic", "ollama", "gemini", "deepseek", "mistral", "llamacpp", "llamafile"},
	"stt": {"deepgram", "whisper", "whisper-native"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field that has a documented default.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	a := &cfg.Audio
	setDefault(&a.Source, SourcePortAudio)
	setDefault(&a.SampleRate, DefaultSampleRate)
	setDefault(&a.Channels, 1)
	setDefault(&a.FramesPerBuffer, DefaultFramesPerBuffer)
	setDefault(&a.Codec, "pcm16")
	setDefault(&a.FFTSize, DefaultFFTSize)
	if a.Smoothing == nil {
		s := DefaultSmoothing
		a.Smoothing = &s
	}

	rc := &cfg.Recognition
	setDefault(&rc.Language, DefaultLanguage)
	setDefault(&rc.SampleRate, DefaultSTTSampleRate)
	setDefault(&rc.Channels, 1)

	t := &cfg.Turn
	setDefault(&t.SilenceThreshold, DefaultSilenceThreshold)
	setDefault(&t.SilenceDuration, DefaultSilenceDuration)
	setDefault(&t.PollInterval, DefaultPollInterval)
	setDefault(&t.LevelsInterval, DefaultLevelsInterval)
	setDefault(&t.RestartInitial, DefaultRestartInitial)
	setDefault(&t.RestartMax, DefaultRestartMax)
	if t.EscalateAfter == nil {
		n := DefaultEscalateAfter
		t.EscalateAfter = &n
	}

	rs := &cfg.Responder
	setDefault(&rs.Mode, ResponderLLM)
	setDefault(&rs.SystemPrompt, DefaultSystemPrompt)
	setDefault(&rs.FallbackText, DefaultFallbackText)
	setDefault(&rs.ErrorText, DefaultErrorText)

	setDefault(&cfg.History.MaxTurns, DefaultMaxTurns)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; speech will not be recognised")
	}

	// Audio
	a := cfg.Audio
	if a.Source != "" && !a.Source.IsValid() {
		errs = append(errs, fmt.Errorf("audio.source %q is invalid; valid values: portaudio, browser, none", a.Source))
	}
	if a.SampleRate < 0 || a.Channels < 0 || a.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio: sample_rate %d / channels %d is not a supported capture format", a.SampleRate, a.Channels))
	}
	if a.Codec != "" && a.Codec != "pcm16" && a.Codec != "opus" {
		errs = append(errs, fmt.Errorf("audio.codec %q is invalid; valid values: pcm16, opus", a.Codec))
	}
	if a.FFTSize != 0 && (a.FFTSize < 32 || a.FFTSize > 32768 || a.FFTSize&(a.FFTSize-1) != 0) {
		errs = append(errs, fmt.Errorf("audio.fft_size %d must be a power of two in [32, 32768]", a.FFTSize))
	}
	if a.Smoothing != nil && (*a.Smoothing < 0 || *a.Smoothing >= 1) {
		errs = append(errs, fmt.Errorf("audio.smoothing %.2f is out of range [0, 1)", *a.Smoothing))
	}

	// Recognition
	for i, kw := range cfg.Recognition.Keywords {
		if strings.TrimSpace(kw.Keyword) == "" {
			errs = append(errs, fmt.Errorf("recognition.keywords[%d].keyword is required", i))
		}
	}

	// Turn
	t := cfg.Turn
	if t.SilenceThreshold < 0 || t.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("turn.silence_threshold %.3f is out of range [0, 1]", t.SilenceThreshold))
	}
	if t.SilenceDuration < 0 || t.PollInterval < 0 || t.LevelsInterval < 0 {
		errs = append(errs, errors.New("turn: durations must not be negative"))
	}
	if t.RestartMax != 0 && t.RestartMax < t.RestartInitial {
		errs = append(errs, fmt.Errorf("turn.restart_max %v is below turn.restart_initial %v", t.RestartMax, t.RestartInitial))
	}
	if t.EscalateAfter != nil && *t.EscalateAfter < 0 {
		errs = append(errs, fmt.Errorf("turn.escalate_after %d must not be negative", *t.EscalateAfter))
	}

	// Responder
	rs := cfg.Responder
	if rs.Mode != "" && !rs.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("responder.mode %q is invalid; valid values: llm, http", rs.Mode))
	}
	if rs.Mode == ResponderLLM && cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; finished utterances cannot be answered")
	}
	if rs.Mode == ResponderHTTP && rs.URL == "" {
		errs = append(errs, errors.New("responder.url is required when mode is http"))
	}
	if rs.Timeout < 0 {
		errs = append(errs, fmt.Errorf("responder.timeout %v must not be negative", rs.Timeout))
	}
	if rs.Temperature != nil && (*rs.Temperature < 0 || *rs.Temperature > 2) {
		errs = append(errs, fmt.Errorf("responder.temperature %.2f is out of range [0, 2]", *rs.Temperature))
	}

	// History
	if cfg.History.ContextTurns < 0 {
		errs = append(errs, fmt.Errorf("history.context_turns %d must not be negative", cfg.History.ContextTurns))
	}

	// Vocabulary
	v := cfg.Vocabulary
	for _, th := range []float64{v.PhoneticThreshold, v.FuzzyThreshold} {
		if th < 0 || th > 1 {
			errs = append(errs, fmt.Errorf("vocabulary: threshold %.2f is out of range [0, 1]", th))
		}
	}
	if v.LLMCorrect && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("vocabulary.llm_correct requires providers.llm to be configured"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not in the known list for kind.
// An empty name is silently accepted (provider not configured).
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if !slices.Contains(ValidProviderNames[kind], name) {
		slog.Warn("unknown provider name; it must be registered before use",
			"kind", kind,
			"name", name,
			"known", ValidProviderNames[kind],
		)
	}
}
