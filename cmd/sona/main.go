// Command sona is the reference host for the Sona conversation pipeline: it
// loads config, builds the configured providers, wires the application, and
// runs a local chat loop for development alongside the ops HTTP endpoints.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/sona-app/sona/internal/app"
	"github.com/sona-app/sona/internal/config"
	"github.com/sona-app/sona/internal/feedback"
	"github.com/sona-app/sona/internal/observe"
	"github.com/sona-app/sona/internal/turn"
	"github.com/sona-app/sona/pkg/provider/embeddings"
	ollamaembed "github.com/sona-app/sona/pkg/provider/embeddings/ollama"
	oaembed "github.com/sona-app/sona/pkg/provider/embeddings/openai"
	"github.com/sona-app/sona/pkg/provider/llm"
	"github.com/sona-app/sona/pkg/provider/llm/anyllm"
	oaillm "github.com/sona-app/sona/pkg/provider/llm/openai"
	"github.com/sona-app/sona/pkg/provider/stt"
	oaistt "github.com/sona-app/sona/pkg/provider/stt/openai"
	"github.com/sona-app/sona/pkg/provider/tts"
	"github.com/sona-app/sona/pkg/provider/tts/coqui"
	"github.com/sona-app/sona/pkg/provider/tts/elevenlabs"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	chat := flag.Bool("chat", true, "run the interactive chat loop on stdin")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sona: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sona: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("sona starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "sona"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, updated *config.Config) {
		applyConfigChange(application.Pipeline(), old, updated)
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Chat loop ─────────────────────────────────────────────────────────────
	if *chat && len(cfg.Personas) > 0 {
		go chatLoop(ctx, application.Pipeline(), application.Feedback(), cfg.Personas[0].ID, stop)
	}

	slog.Info("sona ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Chat loop ─────────────────────────────────────────────────────────────────

// chatLoop is the development REPL: each stdin line becomes one turn against
// the active persona. "/persona <id>" switches personas, "/rate <1-5>" rates
// the previous reply, "/quit" exits.
func chatLoop(ctx context.Context, pipeline *turn.Pipeline, ratings *feedback.FileStore, personaID string, stop func()) {
	scanner := bufio.NewScanner(os.Stdin)
	var lastSession int64
	fmt.Printf("[%s] > ", personaID)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			stop()
			return
		case strings.HasPrefix(line, "/persona "):
			personaID = strings.TrimSpace(strings.TrimPrefix(line, "/persona "))
			fmt.Printf("switched to %s\n", personaID)
		case strings.HasPrefix(line, "/rate "):
			rateReply(ratings, lastSession, personaID, strings.TrimPrefix(line, "/rate "))
		default:
			res, err := pipeline.Turn(ctx, turn.Request{
				UserID:    "local",
				PersonaID: personaID,
				Text:      line,
			})
			if err != nil {
				fmt.Printf("error: %v\n", err)
				break
			}
			lastSession = res.SessionID
			fmt.Println(res.Text)
			if res.Action != "" {
				fmt.Printf("  (action: %s)\n", res.Action)
			}
			if res.PersistErr != nil {
				fmt.Println("  (warning: this exchange was not saved)")
			}
		}
		if ctx.Err() != nil {
			return
		}
		fmt.Printf("[%s] > ", personaID)
	}
}

// rateReply parses "/rate <1-5> [comment]" and records it against the most
// recent exchange.
func rateReply(ratings *feedback.FileStore, sessionID int64, personaID, args string) {
	if ratings == nil {
		fmt.Println("feedback collection is not configured (set stores.feedback_path)")
		return
	}
	if sessionID == 0 {
		fmt.Println("nothing to rate yet")
		return
	}
	scoreStr, comment, _ := strings.Cut(strings.TrimSpace(args), " ")
	score, err := strconv.Atoi(scoreStr)
	if err != nil {
		fmt.Println("usage: /rate <1-5> [comment]")
		return
	}
	err = ratings.Save(feedback.Rating{
		SessionID: sessionID,
		UserID:    "local",
		PersonaID: personaID,
		Score:     score,
		Comment:   strings.TrimSpace(comment),
	})
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("thanks, noted")
}

// ── Config hot reload ─────────────────────────────────────────────────────────

// applyConfigChange applies a validated config reload: the log level takes
// effect immediately, persona instruction edits are pushed into the pipeline.
// Provider and store changes require a restart.
func applyConfigChange(pipeline *turn.Pipeline, old, updated *config.Config) {
	diff := config.Diff(old, updated)

	if diff.LogLevelChanged {
		slog.SetDefault(newLogger(diff.NewLogLevel))
		slog.Info("log level updated", "level", diff.NewLogLevel)
	}

	for _, pd := range diff.PersonaChanges {
		switch {
		case pd.Added, pd.Removed:
			slog.Warn("persona added/removed in config, restart required", "persona", pd.ID)
		case pd.InstructionsChanged:
			for _, pc := range updated.Personas {
				if pc.ID != pd.ID {
					continue
				}
				pipeline.SetPersona(turn.Persona{
					ID:                 pc.ID,
					Name:               pc.Name,
					Kind:               pc.Kind,
					SystemInstructions: pc.SystemInstructions,
					SummaryStyle:       pc.SummaryStyle,
				})
				slog.Info("persona instructions updated", "persona", pc.ID)
			}
		case pd.VoiceChanged, pd.SummaryStyleChanged:
			slog.Warn("persona voice/summary style changed in config, restart required", "persona", pd.ID)
		}
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Hosted vendors share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
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

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// "openai-sdk" talks to OpenAI through the official SDK instead of the
	// any-llm gateway, for deployments that need organization scoping or
	// per-request timeouts.
	reg.RegisterLLM("openai-sdk", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if timeout := optString(entry.Options, "timeout"); timeout != "" {
			d, err := time.ParseDuration(timeout)
			if err != nil {
				return nil, fmt.Errorf("parse openai-sdk timeout: %w", err)
			}
			opts = append(opts, oaillm.WithTimeout(d))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaembed.WithOrganization(org))
		}
		if timeout := optString(entry.Options, "timeout"); timeout != "" {
			d, err := time.ParseDuration(timeout)
			if err != nil {
				return nil, fmt.Errorf("parse openai embeddings timeout: %w", err)
			}
			opts = append(opts, oaembed.WithTimeout(d))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if timeout := optString(entry.Options, "timeout"); timeout != "" {
			d, err := time.ParseDuration(timeout)
			if err != nil {
				return nil, fmt.Errorf("parse ollama embeddings timeout: %w", err)
			}
			opts = append(opts, ollamaembed.WithTimeout(d))
		}
		if dims, ok := entry.Options["dimensions"].(int); ok && dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		ps.LLM = p
		slog.Info("provider created", "kind", "llm", "name", name)
	}

	for _, entry := range cfg.Providers.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
		}
		ps.LLMFallbacks = append(ps.LLMFallbacks, app.NamedLLM{Name: entry.Name, Provider: p})
		slog.Info("provider created", "kind", "llm-fallback", "name", entry.Name)
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		ps.STT = p
		slog.Info("provider created", "kind", "stt", "name", name)
	}

	for _, entry := range cfg.Providers.STTFallbacks {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
		}
		ps.STTFallbacks = append(ps.STTFallbacks, app.NamedSTT{Name: entry.Name, Provider: p})
		slog.Info("provider created", "kind", "stt-fallback", "name", entry.Name)
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		ps.TTS = p
		slog.Info("provider created", "kind", "tts", "name", name)
	}

	for _, entry := range cfg.Providers.TTSFallbacks {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
		}
		ps.TTSFallbacks = append(ps.TTSFallbacks, app.NamedTTS{Name: entry.Name, Provider: p})
		slog.Info("provider created", "kind", "tts-fallback", "name", entry.Name)
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Sona — startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	fmt.Printf("║  Personas        : %-19d ║\n", len(cfg.Personas))
	fmt.Printf("║  LLM fallbacks   : %-19d ║\n", len(cfg.Providers.LLMFallbacks))
	if cfg.Stores.PostgresDSN != "" {
		fmt.Printf("║  Postgres        : %-19s ║\n", "configured")
	} else {
		fmt.Printf("║  Postgres        : %-19s ║\n", "(local mode)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
