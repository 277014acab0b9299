// Command organic-sphere listens to a microphone, turns what it hears into
// text, hands each finished utterance to a language model and shows the
// reply in the browser.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/b-aragu/organic-sphere/internal/app"
	"github.com/b-aragu/organic-sphere/internal/config"
	"github.com/b-aragu/organic-sphere/internal/observe"
	"github.com/b-aragu/organic-sphere/internal/resilience"
	"github.com/b-aragu/organic-sphere/pkg/audio"
	"github.com/b-aragu/organic-sphere/pkg/audio/browser"
	"github.com/b-aragu/organic-sphere/pkg/audio/portaudio"
	"github.com/b-aragu/organic-sphere/pkg/provider/llm"
	"github.com/b-aragu/organic-sphere/pkg/provider/llm/anyllm"
	"github.com/b-aragu/organic-sphere/pkg/provider/llm/openai"
	"github.com/b-aragu/organic-sphere/pkg/provider/stt"
	"github.com/b-aragu/organic-sphere/pkg/provider/stt/deepgram"
	"github.com/b-aragu/organic-sphere/pkg/provider/stt/whisper"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "organic-sphere: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "organic-sphere: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.ParseLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("organic-sphere starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Capture ───────────────────────────────────────────────────────────────
	opts := []app.Option{
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.Handler()),
		app.WithConfigWatch(*configPath),
		app.WithLevelVar(level),
	}
	if src := openSource(cfg.Audio); src != nil {
		opts = append(opts, app.WithSource(src))
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	code := 0
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		code = 1
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// openSource opens the configured capture source. Failing to open the
// device is logged and the service keeps running without capture.
func openSource(ac config.AudioConfig) audio.Source {
	switch ac.Source {
	case config.SourceNone:
		return nil
	case config.SourceBrowser:
		src, err := browser.New(browser.Codec(ac.Codec), audio.Format{SampleRate: ac.SampleRate, Channels: ac.Channels})
		if err != nil {
			slog.Warn("browser audio source unavailable", "err", err)
			return nil
		}
		return src
	default:
		src, err := portaudio.Open(
			portaudio.WithSampleRate(ac.SampleRate),
			portaudio.WithFramesPerBuffer(ac.FramesPerBuffer),
		)
		if err != nil {
			slog.Warn("microphone unavailable", "err", err)
			return nil
		}
		return src
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmBackends are served through any-llm-go. "openai" uses the official
// SDK instead.
var anyllmBackends = []string{"groq", "anthropic", "gemini", "deepseek", "mistral", "llamacpp", "llamafile", "ollama"}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	for _, providerName := range anyllmBackends {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := config.OptString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if ms := config.OptInt(entry.Options, "silence_threshold_ms"); ms > 0 {
			opts = append(opts, whisper.WithSilenceThresholdMs(ms))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = config.OptString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})
}

// buildProviders instantiates the configured providers and wraps each kind
// in a circuit-breaker fallback chain when fallbacks are configured.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	pc := cfg.Providers
	bc := resilience.BreakerConfig{
		MaxFailures: pc.Breaker.MaxFailures,
		Cooldown:    pc.Breaker.Cooldown,
		Probes:      pc.Breaker.Probes,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state changed", "provider", name, "from", from, "to", to)
			metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}
	ps := &app.Providers{LLMName: pc.LLM.Name, STTName: pc.STT.Name}

	if pc.LLM.Name != "" {
		primary, err := reg.CreateLLM(pc.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", pc.LLM.Name, err)
		}
		slog.Info("provider created", "kind", "llm", "name", pc.LLM.Name)
		ps.LLM = primary
		if len(pc.LLMFallbacks) > 0 {
			chain := resilience.NewLLMFallback(pc.LLM.Name, primary, bc)
			for _, entry := range pc.LLMFallbacks {
				p, err := reg.CreateLLM(entry)
				if err != nil {
					return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
				}
				chain.AddFallback(entry.Name, p)
			}
			slog.Info("llm fallback chain", "order", chain.Names())
			ps.LLM = chain
		}
	}

	if pc.STT.Name != "" {
		primary, err := reg.CreateSTT(pc.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", pc.STT.Name, err)
		}
		slog.Info("provider created", "kind", "stt", "name", pc.STT.Name)
		ps.STT = primary
		if len(pc.STTFallbacks) > 0 {
			chain := resilience.NewSTTFallback(pc.STT.Name, primary, bc)
			for _, entry := range pc.STTFallbacks {
				p, err := reg.CreateSTT(entry)
				if err != nil {
					return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
				}
				chain.AddFallback(entry.Name, p)
			}
			slog.Info("stt fallback chain", "order", chain.Names())
			ps.STT = chain
		}
	}
	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║     organic-sphere startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printRow("Audio source", string(cfg.Audio.Source))
	printRow("Responder", string(cfg.Responder.Mode))
	history := "memory"
	if cfg.History.PostgresDSN != "" {
		history = "postgres"
	}
	printRow("History", history)
	printRow("Vocabulary", fmt.Sprintf("%d terms", len(cfg.Vocabulary.Terms)))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}
