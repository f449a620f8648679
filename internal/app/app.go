// Package app wires all Sona subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the
// stores and the conversation pipeline, Run serves the ops HTTP endpoints
// until the context is cancelled, and Shutdown tears everything down in
// order.
//
// For testing, inject doubles via functional options (WithProfileStore,
// WithRetriever, WithHistoryStore). When an option is not provided, New
// creates real implementations from the config: postgres-backed profile and
// corpus stores when a DSN is configured, in-memory profiles and the static
// snippet retriever otherwise.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sona-app/sona/internal/compose"
	"github.com/sona-app/sona/internal/config"
	"github.com/sona-app/sona/internal/feedback"
	"github.com/sona-app/sona/internal/health"
	"github.com/sona-app/sona/internal/history"
	"github.com/sona-app/sona/internal/lexicon"
	"github.com/sona-app/sona/internal/normalize"
	"github.com/sona-app/sona/internal/observe"
	"github.com/sona-app/sona/internal/profile"
	profilepg "github.com/sona-app/sona/internal/profile/postgres"
	"github.com/sona-app/sona/internal/resilience"
	"github.com/sona-app/sona/internal/retrieval"
	"github.com/sona-app/sona/internal/retrieval/pgvector"
	"github.com/sona-app/sona/internal/sentiment"
	"github.com/sona-app/sona/internal/speech"
	"github.com/sona-app/sona/internal/summary"
	"github.com/sona-app/sona/internal/transcript"
	"github.com/sona-app/sona/internal/transcript/llmcorrect"
	"github.com/sona-app/sona/internal/transcript/phonetic"
	"github.com/sona-app/sona/internal/turn"
	"github.com/sona-app/sona/pkg/provider/embeddings"
	"github.com/sona-app/sona/pkg/provider/llm"
	"github.com/sona-app/sona/pkg/provider/stt"
	"github.com/sona-app/sona/pkg/provider/tts"
	"github.com/sona-app/sona/pkg/types"
)

// defaultSQLitePath is the on-device history database location when the
// config does not set one.
const defaultSQLitePath = "sona.db"

// NamedLLM pairs an instantiated LLM provider with its config name, for the
// generation fallback chain.
type NamedLLM struct {
	Name     string
	Provider llm.Provider
}

// NamedSTT pairs an instantiated STT provider with its config name.
type NamedSTT struct {
	Name     string
	Provider stt.Provider
}

// NamedTTS pairs an instantiated TTS provider with its config name.
type NamedTTS struct {
	Name     string
	Provider tts.Provider
}

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM          llm.Provider
	LLMFallbacks []NamedLLM
	STT          stt.Provider
	STTFallbacks []NamedSTT
	TTS          tts.Provider
	TTSFallbacks []NamedTTS
	Embeddings   embeddings.Provider
}

// App owns all subsystem lifetimes and the Sona conversation pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	history   turn.HistoryStore
	profiles  profile.Store
	retriever retrieval.Retriever
	lexicon   lexicon.Store
	feedback  *feedback.FileStore
	pipeline  *turn.Pipeline
	metrics   *observe.Metrics

	ops *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a history store instead of opening the SQLite file.
func WithHistoryStore(s turn.HistoryStore) Option {
	return func(a *App) { a.history = s }
}

// WithProfileStore injects a profile store instead of creating one from config.
func WithProfileStore(s profile.Store) Option {
	return func(a *App) { a.profiles = s }
}

// WithRetriever injects a retriever instead of creating one from config.
func WithRetriever(r retrieval.Retriever) Option {
	return func(a *App) { a.retriever = r }
}

// WithLexicon injects a vocabulary store instead of creating one from config.
func WithLexicon(s lexicon.Store) Option {
	return func(a *App) { a.lexicon = s }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any store.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an llm provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		metrics:   observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. History store ─────────────────────────────────────────────────
	if err := a.initHistory(); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 2. Profile store + retriever ─────────────────────────────────────
	if err := a.initStores(ctx); err != nil {
		return nil, fmt.Errorf("app: init stores: %w", err)
	}

	// ── 3. Conversation pipeline ─────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 4. Ops HTTP server ───────────────────────────────────────────────
	a.initOpsServer()

	return a, nil
}

// Pipeline returns the conversation pipeline for hosts to run turns against.
func (a *App) Pipeline() *turn.Pipeline {
	return a.pipeline
}

// Feedback returns the reply-rating store, or nil when feedback collection is
// not configured.
func (a *App) Feedback() *feedback.FileStore {
	return a.feedback
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initHistory opens the SQLite history store unless one was injected.
func (a *App) initHistory() error {
	if a.history != nil {
		return nil
	}

	path := a.cfg.Stores.SQLitePath
	if path == "" {
		path = defaultSQLitePath
	}
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	a.history = store
	a.closers = append(a.closers, store.Close)
	slog.Info("history store opened", "path", path)
	return nil
}

// initStores sets up the profile store and the retriever. With a postgres DSN
// both are postgres-backed (profiles + pgvector corpus); without one, Sona
// runs in local mode with in-memory profiles and the static snippet set.
func (a *App) initStores(ctx context.Context) error {
	dsn := a.cfg.Stores.PostgresDSN

	if a.profiles == nil {
		if dsn != "" {
			store, err := profilepg.New(ctx, dsn)
			if err != nil {
				return fmt.Errorf("connect profile store: %w", err)
			}
			a.profiles = store
			a.closers = append(a.closers, func() error {
				store.Close()
				return nil
			})
			slog.Info("profile store connected", "backend", "postgres")
		} else {
			a.profiles = profile.NewMemStore()
			slog.Warn("no postgres DSN configured, profiles are in-memory only")
		}
	}

	if a.retriever == nil {
		if dsn != "" && a.providers.Embeddings != nil {
			store, err := pgvector.New(ctx, dsn, a.providers.Embeddings)
			if err != nil {
				return fmt.Errorf("connect corpus store: %w", err)
			}
			a.retriever = store
			a.closers = append(a.closers, func() error {
				store.Close()
				return nil
			})
			slog.Info("retriever ready", "backend", "pgvector")
		} else {
			a.retriever = retrieval.NewStatic()
			slog.Info("retriever ready", "backend", "static")
		}
	}

	if err := a.initLexicon(ctx); err != nil {
		return err
	}

	if path := a.cfg.Stores.FeedbackPath; path != "" {
		a.feedback = feedback.NewFileStore(path)
		slog.Info("feedback store ready", "path", path)
	}

	return nil
}

// initLexicon sets up the personal vocabulary store and applies the seed file.
func (a *App) initLexicon(ctx context.Context) error {
	if a.lexicon == nil {
		if path := a.cfg.Stores.LexiconPath; path != "" {
			store, err := lexicon.Open(path)
			if err != nil {
				return fmt.Errorf("open lexicon store: %w", err)
			}
			a.lexicon = store
			a.closers = append(a.closers, store.Close)
			slog.Info("lexicon store opened", "path", path)
		} else {
			a.lexicon = lexicon.NewMemStore()
			slog.Info("lexicon store ready", "backend", "memory")
		}
	}

	if seedPath := a.cfg.Stores.LexiconSeed; seedPath != "" {
		sf, err := lexicon.LoadSeedFile(seedPath)
		if err != nil {
			return fmt.Errorf("load lexicon seed: %w", err)
		}
		n, err := lexicon.Seed(ctx, a.lexicon, sf)
		if err != nil {
			return fmt.Errorf("seed lexicon: %w", err)
		}
		slog.Info("lexicon seeded", "terms", n)
	}
	return nil
}

// initPipeline builds the per-persona components and the turn pipeline.
func (a *App) initPipeline() error {
	gen := a.generationProvider()

	var normOpts []normalize.Option
	if a.providers.STT != nil {
		normOpts = append(normOpts,
			normalize.WithSTT(a.transcriptionProvider()),
			normalize.WithCorrector(transcript.New(
				transcript.WithMatcher(phonetic.New()),
				transcript.WithLLM(llmcorrect.New(gen)),
			)),
		)
	}
	if t := a.cfg.Pipeline.ConfidenceThreshold; t > 0 {
		normOpts = append(normOpts, normalize.WithConfidenceThreshold(t))
	}

	synthTTS := a.synthesisProvider()

	summarizers := make(map[string]turn.Summarizer, len(a.cfg.Personas))
	synthesizers := make(map[string]turn.Synthesizer, len(a.cfg.Personas))
	personas := make([]turn.Persona, 0, len(a.cfg.Personas))
	for _, pc := range a.cfg.Personas {
		personas = append(personas, turn.Persona{
			ID:                 pc.ID,
			Name:               pc.Name,
			Kind:               pc.Kind,
			SystemInstructions: pc.SystemInstructions,
			SummaryStyle:       pc.SummaryStyle,
		})

		var sumOpts []summary.Option
		if pc.SummaryStyle != "" {
			sumOpts = append(sumOpts, summary.WithStyle(pc.SummaryStyle))
		}
		if n := a.cfg.Pipeline.SummaryMaxTokens; n > 0 {
			sumOpts = append(sumOpts, summary.WithMaxTokens(n))
		}
		summarizers[pc.ID] = summary.New(gen, sumOpts...)

		if a.providers.TTS != nil {
			var speechOpts []speech.Option
			if pc.VoiceID != "" {
				speechOpts = append(speechOpts, speech.WithVoice(types.VoiceProfile{ID: pc.VoiceID}))
			}
			if d := a.cfg.Pipeline.Timeouts.Synthesize.Std(); d > 0 {
				speechOpts = append(speechOpts, speech.WithTimeout(d))
			}
			synthesizers[pc.ID] = speech.New(synthTTS, slog.Default(), speechOpts...)
		}
	}

	deps := turn.Deps{
		Normalizer:   normalize.New(gen, normOpts...),
		Sentiment:    sentiment.New(gen),
		Retriever:    a.retriever,
		Profiles:     a.profiles,
		Composer:     compose.New(gen),
		History:      a.history,
		Lexicon:      a.lexicon,
		Summarizers:  summarizers,
		Synthesizers: synthesizers,
	}

	pipeOpts := []turn.Option{
		turn.WithMetrics(a.metrics),
		turn.WithTimeouts(a.timeouts()),
	}
	if n := a.cfg.Pipeline.HistoryWindow; n > 0 {
		pipeOpts = append(pipeOpts, turn.WithHistoryWindow(n))
	}

	pipeline, err := turn.New(deps, personas, pipeOpts...)
	if err != nil {
		return err
	}
	a.pipeline = pipeline
	return nil
}

// generationProvider wraps the primary LLM in a fallback chain when fallback
// providers are configured.
func (a *App) generationProvider() llm.Provider {
	if len(a.providers.LLMFallbacks) == 0 {
		return a.providers.LLM
	}

	primaryName := a.cfg.Providers.LLM.Name
	if primaryName == "" {
		primaryName = "primary"
	}
	fb := resilience.NewLLMFallback(a.providers.LLM, primaryName, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
		},
	})
	for _, entry := range a.providers.LLMFallbacks {
		fb.AddFallback(entry.Name, entry.Provider)
		slog.Info("generation fallback registered", "name", entry.Name)
	}
	return fb
}

// transcriptionProvider wraps the primary STT in a fallback chain when
// fallback providers are configured.
func (a *App) transcriptionProvider() stt.Provider {
	if len(a.providers.STTFallbacks) == 0 {
		return a.providers.STT
	}

	primaryName := a.cfg.Providers.STT.Name
	if primaryName == "" {
		primaryName = "primary"
	}
	fb := resilience.NewSTTFallback(a.providers.STT, primaryName, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
		},
	})
	for _, entry := range a.providers.STTFallbacks {
		fb.AddFallback(entry.Name, entry.Provider)
		slog.Info("transcription fallback registered", "name", entry.Name)
	}
	return fb
}

// synthesisProvider wraps the primary TTS in a fallback chain when fallback
// providers are configured. Returns nil when no TTS is configured.
func (a *App) synthesisProvider() tts.Provider {
	if a.providers.TTS == nil || len(a.providers.TTSFallbacks) == 0 {
		return a.providers.TTS
	}

	primaryName := a.cfg.Providers.TTS.Name
	if primaryName == "" {
		primaryName = "primary"
	}
	fb := resilience.NewTTSFallback(a.providers.TTS, primaryName, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
		},
	})
	for _, entry := range a.providers.TTSFallbacks {
		fb.AddFallback(entry.Name, entry.Provider)
		slog.Info("synthesis fallback registered", "name", entry.Name)
	}
	return fb
}

// timeouts converts the config stage deadlines, leaving zero values to the
// pipeline defaults.
func (a *App) timeouts() turn.Timeouts {
	t := a.cfg.Pipeline.Timeouts
	return turn.Timeouts{
		Transcribe: t.Transcribe.Std(),
		Understand: t.Understand.Std(),
		Enrich:     t.Enrich.Std(),
		Generate:   t.Generate.Std(),
		Summarize:  t.Summarize.Std(),
		Synthesize: t.Synthesize.Std(),
	}
}

// initOpsServer builds the /metrics, /healthz, and /readyz endpoints behind
// the observability middleware.
func (a *App) initOpsServer() {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		return
	}

	checks := []health.Checker{
		{Name: "history", Check: func(ctx context.Context) error {
			_, err := a.history.GetRecentExchanges(ctx, 0, 1)
			if errors.Is(err, history.ErrNotFound) {
				return nil
			}
			return err
		}},
		{Name: "profiles", Check: func(ctx context.Context) error {
			_, err := a.profiles.Get(ctx, "healthcheck")
			return err
		}},
	}

	mux := http.NewServeMux()
	health.New(checks...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.ops = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the ops HTTP endpoints and blocks until ctx is cancelled. When
// no listen address is configured, Run just waits for cancellation.
func (a *App) Run(ctx context.Context) error {
	if a.ops == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ops server listening", "addr", a.ops.Addr)
		tls := a.cfg.Server.TLS
		if tls != nil {
			errCh <- a.ops.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.ops.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: ops server: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.ops != nil {
			if err := a.ops.Shutdown(ctx); err != nil {
				slog.Warn("ops server shutdown error", "err", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
