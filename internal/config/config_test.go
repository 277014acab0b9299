package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/b-aragu/organic-sphere/internal/config"
	"github.com/b-aragu/organic-sphere/pkg/provider/llm"
	"github.com/b-aragu/organic-sphere/pkg/provider/stt"
)

const validYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
providers:
  llm:
    name: groq
    api_key: gsk-test
    model: llama-3.3-70b-versatile
  llm_fallbacks:
    - name: ollama
      base_url: http://localhost:11434
      model: llama3.2
  stt:
    name: deepgram
    api_key: dg-test
    model: nova-3
  breaker:
    max_failures: 2
    cooldown: 10s
audio:
  source: browser
  codec: opus
  sample_rate: 48000
recognition:
  language: en-GB
  keywords:
    - keyword: Groq
      boost: 5
turn:
  silence_threshold: 0.02
  silence_duration: 1500ms
responder:
  system_prompt: You are terse.
  timeout: 30s
history:
  context_turns: 4
vocabulary:
  terms: [Groq, Mixtral]
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Providers.LLM.Name != "groq" || len(cfg.Providers.LLMFallbacks) != 1 {
		t.Errorf("providers.llm = %+v, fallbacks %v", cfg.Providers.LLM, cfg.Providers.LLMFallbacks)
	}
	if cfg.Providers.Breaker.Cooldown != 10*time.Second {
		t.Errorf("breaker.cooldown = %v", cfg.Providers.Breaker.Cooldown)
	}
	if cfg.Audio.Source != config.SourceBrowser || cfg.Audio.Codec != "opus" {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if got := cfg.Recognition.Keywords; len(got) != 1 || got[0].Keyword != "Groq" || got[0].Boost != 5 {
		t.Errorf("keywords = %+v", got)
	}
	if cfg.Turn.SilenceThreshold != 0.02 || cfg.Turn.SilenceDuration != 1500*time.Millisecond {
		t.Errorf("turn = %+v", cfg.Turn)
	}
	if cfg.Responder.SystemPrompt != "You are terse." || cfg.Responder.Timeout != 30*time.Second {
		t.Errorf("responder = %+v", cfg.Responder)
	}
	if cfg.History.ContextTurns != 4 {
		t.Errorf("history.context_turns = %d", cfg.History.ContextTurns)
	}
	// Unset values keep their defaults.
	if cfg.Turn.PollInterval != config.DefaultPollInterval {
		t.Errorf("turn.poll_interval = %v, want default", cfg.Turn.PollInterval)
	}
}

func TestLoadFromReader_EmptyAppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"listen_addr", cfg.Server.ListenAddr, ":8080"},
		{"log_level", cfg.Server.LogLevel, config.LogInfo},
		{"audio.source", cfg.Audio.Source, config.SourcePortAudio},
		{"audio.fft_size", cfg.Audio.FFTSize, 256},
		{"audio.smoothing", *cfg.Audio.Smoothing, 0.8},
		{"recognition.sample_rate", cfg.Recognition.SampleRate, 16000},
		{"turn.silence_threshold", cfg.Turn.SilenceThreshold, 0.01},
		{"turn.silence_duration", cfg.Turn.SilenceDuration, 2 * time.Second},
		{"turn.poll_interval", cfg.Turn.PollInterval, 16 * time.Millisecond},
		{"turn.escalate_after", *cfg.Turn.EscalateAfter, 3},
		{"responder.mode", cfg.Responder.Mode, config.ResponderLLM},
		{"responder.system_prompt", cfg.Responder.SystemPrompt, "You are a helpful assistant."},
		{"responder.fallback_text", cfg.Responder.FallbackText, "No response from the language model"},
		{"responder.timeout", cfg.Responder.Timeout, time.Duration(0)},
		{"history.context_turns", cfg.History.ContextTurns, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadFromReader_ExplicitZeroSmoothing(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("audio:\n  smoothing: 0\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if *cfg.Audio.Smoothing != 0 {
		t.Errorf("smoothing = %v, want 0", *cfg.Audio.Smoothing)
	}
}

func TestLoadFromReader_EscalateAfter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		want    int
		wantErr bool
	}{
		{"explicit zero", "turn:\n  escalate_after: 0\n", 0, false},
		{"explicit value", "turn:\n  escalate_after: 5\n", 5, false},
		{"negative", "turn:\n  escalate_after: -1\n", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected validation error")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadFromReader: %v", err)
			}
			if got := *cfg.Turn.EscalateAfter; got != tt.want {
				t.Errorf("escalate_after = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("turn:\n  silence_timeout: 2s\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{"log level", "server:\n  log_level: bananas\n", "server.log_level"},
		{"tls half configured", "server:\n  tls:\n    cert_file: c.pem\n", "server.tls"},
		{"source", "audio:\n  source: alsa\n", "audio.source"},
		{"codec", "audio:\n  codec: flac\n", "audio.codec"},
		{"fft size", "audio:\n  fft_size: 100\n", "audio.fft_size"},
		{"smoothing", "audio:\n  smoothing: 1\n", "audio.smoothing"},
		{"threshold", "turn:\n  silence_threshold: 1.5\n", "turn.silence_threshold"},
		{"negative duration", "turn:\n  silence_duration: -1s\n", "must not be negative"},
		{"restart bounds", "turn:\n  restart_initial: 5s\n  restart_max: 1s\n", "turn.restart_max"},
		{"responder mode", "responder:\n  mode: carrier-pigeon\n", "responder.mode"},
		{"http needs url", "responder:\n  mode: http\n", "responder.url"},
		{"temperature", "providers:\n  llm:\n    name: groq\nresponder:\n  temperature: 3\n", "responder.temperature"},
		{"context turns", "history:\n  context_turns: -2\n", "history.context_turns"},
		{"empty keyword", "recognition:\n  keywords:\n    - boost: 2\n", "recognition.keywords[0]"},
		{"unnamed fallback", "providers:\n  stt_fallbacks:\n    - model: base\n", "providers.stt_fallbacks[0]"},
		{"vocabulary threshold", "vocabulary:\n  fuzzy_threshold: 2\n", "vocabulary"},
		{"llm correct without llm", "vocabulary:\n  llm_correct: true\n", "vocabulary.llm_correct"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q should mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
audio:
  source: tape
turn:
  escalate_after: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"server.log_level", "audio.source", "turn.escalate_after"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"llm", "stt"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("no known %s providers", kind)
		}
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

type stubLLM struct{}

func (stubLLM) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{}, nil
}

type stubSTT struct{}

func (stubSTT) StartStream(context.Context, stt.StreamConfig) (stt.SessionHandle, error) {
	return nil, nil
}

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLLM err = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var gotEntry config.ProviderEntry
	reg.RegisterLLM("groq", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return stubLLM{}, nil
	})
	reg.RegisterSTT("deepgram", func(config.ProviderEntry) (stt.Provider, error) {
		return stubSTT{}, nil
	})

	p, err := reg.CreateLLM(config.ProviderEntry{Name: "groq", Model: "llama3"})
	if err != nil || p == nil {
		t.Fatalf("CreateLLM = %v, %v", p, err)
	}
	if gotEntry.Model != "llama3" {
		t.Errorf("factory got entry %+v", gotEntry)
	}
	if s, err := reg.CreateSTT(config.ProviderEntry{Name: "deepgram"}); err != nil || s == nil {
		t.Fatalf("CreateSTT = %v, %v", s, err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("missing api key")
	reg.RegisterLLM("groq", func(config.ProviderEntry) (llm.Provider, error) { return nil, boom })
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "groq"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want factory error", err)
	}
}

func TestOptHelpers(t *testing.T) {
	t.Parallel()
	opts := map[string]any{"language": "de", "silence_ms": 800, "ratio": 1.5, "flag": true}
	if got := config.OptString(opts, "language"); got != "de" {
		t.Errorf("OptString = %q", got)
	}
	if got := config.OptString(opts, "flag"); got != "" {
		t.Errorf("OptString(non-string) = %q", got)
	}
	if got := config.OptString(nil, "language"); got != "" {
		t.Errorf("OptString(nil) = %q", got)
	}
	if got := config.OptInt(opts, "silence_ms"); got != 800 {
		t.Errorf("OptInt = %d", got)
	}
	if got := config.OptInt(opts, "ratio"); got != 1 {
		t.Errorf("OptInt(float) = %d", got)
	}
	if got := config.OptInt(opts, "missing"); got != 0 {
		t.Errorf("OptInt(missing) = %d", got)
	}
}
