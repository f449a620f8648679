package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"openai"},
	"tts":        {"elevenlabs", "coqui"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, fb := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	for _, fb := range cfg.Providers.STTFallbacks {
		validateProviderName("stt", fb.Name)
	}
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for _, fb := range cfg.Providers.TTSFallbacks {
		validateProviderName("tts", fb.Name)
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// A generation provider is the one hard requirement of the pipeline.
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
	}

	// Fallbacks for an unconfigured primary can never be consulted.
	if cfg.Providers.STT.Name == "" && len(cfg.Providers.STTFallbacks) > 0 {
		errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt"))
	}
	if cfg.Providers.TTS.Name == "" && len(cfg.Providers.TTSFallbacks) > 0 {
		errs = append(errs, errors.New("providers.tts_fallbacks requires providers.tts"))
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
	}
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
	}

	// Embeddings ↔ retrieval dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Stores.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but stores.embedding_dimensions is not set; defaulting to 1536")
	}

	// Retrieval availability
	if cfg.Stores.PostgresDSN == "" {
		slog.Warn("stores.postgres_dsn is empty; retrieval falls back to the static snippet set and profiles are kept in memory")
	}

	// Persona duplicate ID detection
	personaIDsSeen := make(map[string]int, len(cfg.Personas))

	// Personas
	for i, p := range cfg.Personas {
		prefix := fmt.Sprintf("personas[%d]", i)
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := personaIDsSeen[p.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of personas[%d]", prefix, p.ID, prev))
			}
			personaIDsSeen[p.ID] = i
		}
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if p.Kind != "" && !p.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: chat, journal", prefix, p.Kind))
		}

		// Voice ↔ TTS provider cross-validation
		if p.VoiceID != "" && cfg.Providers.TTS.Name == "" {
			slog.Warn("persona declares a voice but no TTS provider is configured; replies will be text-only",
				"persona", p.ID,
				"voice_id", p.VoiceID,
			)
		}
	}

	// Pipeline ranges
	if t := cfg.Pipeline.ConfidenceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("pipeline.confidence_threshold %.2f is out of range [0, 1]", t))
	}
	if cfg.Pipeline.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("pipeline.history_window %d must not be negative", cfg.Pipeline.HistoryWindow))
	}
	if cfg.Pipeline.SummaryMaxTokens < 0 {
		errs = append(errs, fmt.Errorf("pipeline.summary_max_tokens %d must not be negative", cfg.Pipeline.SummaryMaxTokens))
	}
	validateTimeout(&errs, "transcribe", cfg.Pipeline.Timeouts.Transcribe)
	validateTimeout(&errs, "understand", cfg.Pipeline.Timeouts.Understand)
	validateTimeout(&errs, "enrich", cfg.Pipeline.Timeouts.Enrich)
	validateTimeout(&errs, "generate", cfg.Pipeline.Timeouts.Generate)
	validateTimeout(&errs, "summarize", cfg.Pipeline.Timeouts.Summarize)
	validateTimeout(&errs, "synthesize", cfg.Pipeline.Timeouts.Synthesize)

	return errors.Join(errs...)
}

// validateTimeout appends an error when a stage timeout is negative.
// Zero means "use the built-in default" and is always valid.
func validateTimeout(errs *[]error, stage string, d Duration) {
	if d < 0 {
		*errs = append(*errs, fmt.Errorf("pipeline.timeouts.%s must not be negative", stage))
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
