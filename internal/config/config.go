// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for the organic-sphere voice service.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SourceKind selects where microphone audio comes from.
type SourceKind string

const (
	// SourcePortAudio captures from the default local input device.
	SourcePortAudio SourceKind = "portaudio"

	// SourceBrowser accepts audio streamed by a web client over /ws.
	SourceBrowser SourceKind = "browser"

	// SourceNone runs without capture; the analyzer stays not-ready.
	SourceNone SourceKind = "none"
)

// IsValid reports whether k is a recognised source kind.
func (k SourceKind) IsValid() bool {
	switch k {
	case SourcePortAudio, SourceBrowser, SourceNone:
		return true
	}
	return false
}

// ResponderMode selects how finished utterances are answered.
type ResponderMode string

const (
	// ResponderLLM calls the configured language model directly.
	ResponderLLM ResponderMode = "llm"

	// ResponderHTTP posts to another instance's /api/respond endpoint.
	ResponderHTTP ResponderMode = "http"
)

// IsValid reports whether m is a recognised responder mode.
func (m ResponderMode) IsValid() bool {
	return m == ResponderLLM || m == ResponderHTTP
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Audio       AudioConfig       `yaml:"audio"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Turn        TurnConfig        `yaml:"turn"`
	Responder   ResponderConfig   `yaml:"responder"`
	History     HistoryConfig     `yaml:"history"`
	Vocabulary  VocabularyConfig  `yaml:"vocabulary"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP server (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set. Browsers only grant microphone access to
	// secure origins, so remote clients need it.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the speech recognition and language model
// backends. Each entry names a factory registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`

	// LLMFallbacks and STTFallbacks are tried in order when the primary
	// fails or its circuit breaker is open.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	// Breaker tunes the per-provider circuit breakers.
	Breaker BreakerConfig `yaml:"breaker"`
}

// ProviderEntry is the configuration block shared by all provider types.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "groq", "deepgram").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API, if it has one.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider (e.g. "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// BreakerConfig mirrors the tuning knobs of a circuit breaker.
type BreakerConfig struct {
	MaxFailures int           `yaml:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown"`
	Probes      int           `yaml:"probes"`
}

// AudioConfig describes the capture source and the analyzer attached to it.
type AudioConfig struct {
	// Source selects the capture source. Default: portaudio.
	Source SourceKind `yaml:"source"`

	// SampleRate and Channels describe captured frames. For the browser
	// source they must match what the client sends. Default: 48000 Hz mono.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// FramesPerBuffer is the PortAudio buffer length. Default: 1024.
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// Codec is the browser payload encoding: pcm16 or opus. Default: pcm16.
	Codec string `yaml:"codec"`

	// FFTSize is the analyzer window length. Default: 256.
	FFTSize int `yaml:"fft_size"`

	// Smoothing is the analyzer time constant in [0, 1). Default: 0.8.
	Smoothing *float64 `yaml:"smoothing"`
}

// RecognitionConfig controls the streaming speech-to-text session.
type RecognitionConfig struct {
	// Language is the BCP-47 recognition language. Default: en-US.
	Language string `yaml:"language"`

	// SampleRate and Channels are the format sent to the STT provider;
	// captured audio is converted as needed. Default: 16000 Hz mono.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// Keywords are boosted by providers that support it.
	Keywords []KeywordConfig `yaml:"keywords"`
}

// KeywordConfig is a single recognition boost.
type KeywordConfig struct {
	Keyword string  `yaml:"keyword"`
	Boost   float64 `yaml:"boost"`
}

// TurnConfig tunes end-of-utterance detection and recognition restarts.
// SilenceThreshold and SilenceDuration are hot-reloadable.
type TurnConfig struct {
	// SilenceThreshold is the RMS volume under which input counts as
	// silence. Default: 0.01.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// SilenceDuration is how long volume must stay below the threshold
	// before the turn ends. Default: 2s.
	SilenceDuration time.Duration `yaml:"silence_duration"`

	// PollInterval is the analyzer polling period. Default: 16ms.
	PollInterval time.Duration `yaml:"poll_interval"`

	// LevelsInterval throttles band level broadcasts. Default: 100ms.
	LevelsInterval time.Duration `yaml:"levels_interval"`

	// RestartInitial and RestartMax bound the exponential backoff used to
	// reopen recognition after failures. Defaults: 250ms and 10s.
	RestartInitial time.Duration `yaml:"restart_initial"`
	RestartMax     time.Duration `yaml:"restart_max"`

	// EscalateAfter is the number of consecutive recognition errors after
	// which an error is shown to the user. Zero never shows one. Default: 3.
	EscalateAfter *int `yaml:"escalate_after"`
}

// ResponderConfig selects and tunes the component that answers utterances.
type ResponderConfig struct {
	// Mode selects the responder. Default: llm.
	Mode ResponderMode `yaml:"mode"`

	// URL is the /api/respond endpoint used in http mode.
	URL string `yaml:"url"`

	// SystemPrompt is sent with every request. Hot-reloadable.
	// Default: "You are a helpful assistant."
	SystemPrompt string `yaml:"system_prompt"`

	// FallbackText is the reply shown when the model returns no content.
	FallbackText string `yaml:"fallback_text"`

	// ErrorText is the reply shown when the responder fails.
	ErrorText string `yaml:"error_text"`

	// Timeout bounds a single responder call. Zero means no limit.
	Timeout time.Duration `yaml:"timeout"`

	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

// HistoryConfig controls turn persistence and conversational context.
type HistoryConfig struct {
	// PostgresDSN enables the PostgreSQL store. When empty, turns are kept
	// in memory only.
	PostgresDSN string `yaml:"postgres_dsn"`

	// ContextTurns is the number of previous turns sent to the model.
	// Zero keeps every request stateless.
	ContextTurns int `yaml:"context_turns"`

	// MaxTurns caps the in-memory store. Default: 1000.
	MaxTurns int `yaml:"max_turns"`
}

// VocabularyConfig lists domain terms that recognition tends to mangle.
// Finished utterances are corrected against them before they are sent to
// the responder. Hot-reloadable.
type VocabularyConfig struct {
	Terms []string `yaml:"terms"`

	// PhoneticThreshold and FuzzyThreshold are the minimum Jaro-Winkler
	// scores for phonetic and pure string matches. Defaults: 0.70 and 0.85.
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`
	FuzzyThreshold    float64 `yaml:"fuzzy_threshold"`

	// LLMCorrect enables a second correction pass by the language model.
	LLMCorrect bool `yaml:"llm_correct"`
}
