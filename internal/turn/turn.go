// Package turn orchestrates a single conversation turn through the full
// pipeline: normalize → enrich → compose → persist → synthesize.
//
// The orchestrator's contract is "always answer": individual stage failures
// degrade to neutral defaults (recorded as degradation metrics) instead of
// failing the turn. A turn only errors outright when the input itself is
// unusable — empty, or audio with no transcription provider configured.
//
// Turns for the same persona session are serialized by a keyed mutex, so
// summary folds and history appends never interleave for one conversation.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sona-app/sona/internal/compose"
	"github.com/sona-app/sona/internal/history"
	"github.com/sona-app/sona/internal/lexicon"
	"github.com/sona-app/sona/internal/normalize"
	"github.com/sona-app/sona/internal/observe"
	"github.com/sona-app/sona/internal/profile"
	"github.com/sona-app/sona/internal/retrieval"
	"github.com/sona-app/sona/internal/sentiment"
	"github.com/sona-app/sona/internal/speech"
	"github.com/sona-app/sona/internal/summary"
	"github.com/sona-app/sona/pkg/types"
)

// retrievalLimit caps the context documents fetched per turn.
const retrievalLimit = 4

// defaultHistoryWindow is the number of recent exchanges included in the
// grounding prompt when not overridden.
const defaultHistoryWindow = 10

// titleMaxWords bounds the session title derived from the first utterance.
const titleMaxWords = 6

// ErrUnknownPersona is returned when a request names a persona the pipeline
// was not configured with.
var ErrUnknownPersona = errors.New("turn: unknown persona")

// Timeouts bounds each pipeline stage. Zero fields fall back to the defaults
// from [DefaultTimeouts].
type Timeouts struct {
	Transcribe time.Duration
	Understand time.Duration
	Enrich     time.Duration
	Generate   time.Duration
	Summarize  time.Duration
	Synthesize time.Duration
}

// DefaultTimeouts returns the stage deadlines used when the config does not
// override them.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Transcribe: 15 * time.Second,
		Understand: 5 * time.Second,
		Enrich:     5 * time.Second,
		Generate:   20 * time.Second,
		Summarize:  15 * time.Second,
		Synthesize: 10 * time.Second,
	}
}

// fillDefaults replaces zero fields with the default deadlines.
func (t Timeouts) fillDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Transcribe <= 0 {
		t.Transcribe = d.Transcribe
	}
	if t.Understand <= 0 {
		t.Understand = d.Understand
	}
	if t.Enrich <= 0 {
		t.Enrich = d.Enrich
	}
	if t.Generate <= 0 {
		t.Generate = d.Generate
	}
	if t.Summarize <= 0 {
		t.Summarize = d.Summarize
	}
	if t.Synthesize <= 0 {
		t.Synthesize = d.Synthesize
	}
	return t
}

// Persona describes one configured conversation partner. Chat personas and
// the journal companion are both Personas; they differ in Kind, instructions,
// and summary style.
type Persona struct {
	// ID is the stable persona key. One history session exists per ID.
	ID string

	// Name is the display name used in prompts.
	Name string

	// Kind distinguishes chat personas from the journal companion.
	Kind types.SessionKind

	// SystemInstructions is the persona's base prompt.
	SystemInstructions string

	// SummaryStyle is an optional steering fragment for the rolling summary.
	SummaryStyle string

}

// HistoryStore is the slice of the history store the orchestrator needs.
// *history.Store satisfies it; tests substitute fault-injecting fakes.
type HistoryStore interface {
	CreateSession(ctx context.Context, sess history.Session) (*history.Session, error)
	GetRecentExchanges(ctx context.Context, sessionID int64, n int) ([]types.Exchange, error)
	AppendExchange(ctx context.Context, sessionID int64, userPrompt, botResponse string) (*types.Exchange, error)
	UpdateSummary(ctx context.Context, sessionID int64, summary string) error
}

var _ HistoryStore = (*history.Store)(nil)

// Summarizer folds one exchange into the rolling summary.
// *summary.Summarizer satisfies it.
type Summarizer interface {
	Fold(ctx context.Context, userText, botText, oldSummary string) (string, error)
}

var _ Summarizer = (*summary.Summarizer)(nil)

// Synthesizer renders reply text as audio. *speech.Synthesizer satisfies it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, languageCode string) speech.Result
}

var _ Synthesizer = (*speech.Synthesizer)(nil)

// Lexicon is the slice of the vocabulary store the orchestrator needs: terms
// for transcript correction going in, names observed in the user's messages
// going out. lexicon.Store implementations satisfy it.
type Lexicon interface {
	Terms(ctx context.Context, userID string) ([]string, error)
	Observe(ctx context.Context, userID string, names []string) error
}

var _ Lexicon = (*lexicon.MemStore)(nil)

// Deps carries the stage implementations the pipeline is built from.
// All fields except Synthesizers entries are required.
type Deps struct {
	Normalizer *normalize.Normalizer
	Sentiment  *sentiment.Analyzer
	Retriever  retrieval.Retriever
	Profiles   profile.Store
	Composer   *compose.Composer
	History    HistoryStore

	// Lexicon is the personal vocabulary store. Optional; when nil, voice
	// notes are transcribed without vocabulary correction and no names are
	// recorded.
	Lexicon Lexicon

	// Summarizers maps persona ID to its rolling-summary folder. Personas
	// without an entry get no summary maintenance.
	Summarizers map[string]Summarizer

	// Synthesizers maps persona ID to its voice. Nil map or missing entry
	// means replies for that persona are text-only.
	Synthesizers map[string]Synthesizer
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithTimeouts overrides the per-stage deadlines.
func WithTimeouts(t Timeouts) Option {
	return func(p *Pipeline) {
		p.timeouts = t.fillDefaults()
	}
}

// WithHistoryWindow overrides the number of recent exchanges included in the
// grounding prompt. The default is 10.
func WithHistoryWindow(n int) Option {
	return func(p *Pipeline) {
		if n >= 0 {
			p.historyWindow = n
		}
	}
}

// WithMetrics injects the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithLogger injects the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l.With("component", "turn")
		}
	}
}

// Pipeline runs conversation turns. Safe for concurrent use; turns for the
// same persona are serialized internally.
type Pipeline struct {
	deps Deps

	personasMu sync.RWMutex
	personas   map[string]Persona

	timeouts      Timeouts
	historyWindow int
	metrics       *observe.Metrics
	logger        *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a Pipeline over the given stage implementations and personas.
func New(deps Deps, personas []Persona, opts ...Option) (*Pipeline, error) {
	switch {
	case deps.Normalizer == nil:
		return nil, errors.New("turn: normalizer is required")
	case deps.Sentiment == nil:
		return nil, errors.New("turn: sentiment analyzer is required")
	case deps.Retriever == nil:
		return nil, errors.New("turn: retriever is required")
	case deps.Profiles == nil:
		return nil, errors.New("turn: profile store is required")
	case deps.Composer == nil:
		return nil, errors.New("turn: composer is required")
	case deps.History == nil:
		return nil, errors.New("turn: history store is required")
	}
	if len(personas) == 0 {
		return nil, errors.New("turn: at least one persona is required")
	}

	byID := make(map[string]Persona, len(personas))
	for _, pers := range personas {
		if _, dup := byID[pers.ID]; dup {
			return nil, fmt.Errorf("turn: duplicate persona %q", pers.ID)
		}
		byID[pers.ID] = pers
	}

	p := &Pipeline{
		deps:          deps,
		personas:      byID,
		timeouts:      DefaultTimeouts(),
		historyWindow: defaultHistoryWindow,
		metrics:       observe.DefaultMetrics(),
		logger:        slog.Default().With("component", "turn"),
		locks:         make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Request is one raw user turn addressed to a persona.
type Request struct {
	// UserID identifies the user for profile lookup and history attribution.
	UserID string

	// PersonaID selects the configured persona (and thereby the session).
	PersonaID string

	// Text is typed input. Ignored when Audio is set.
	Text string

	// Audio is a voice-note payload to transcribe.
	Audio []byte

	// MIMEType describes the audio encoding. Optional.
	MIMEType string
}

// Result is the outcome of a completed turn. A non-nil Result is always
// renderable: Text is never empty.
type Result struct {
	// SessionID is the history session the exchange belongs to. Zero when the
	// session could not be created this turn.
	SessionID int64

	// Text is the reply to present to the user.
	Text string

	// Action is a detected app action ID (e.g. "book_session"), empty when the
	// reply carries none.
	Action string

	// Utterance is the normalized input that produced the reply.
	Utterance types.Utterance

	// Sentiment is the classification used for tone adaptation.
	Sentiment types.Sentiment

	// LowConfidence reports that the transcription fell below the confidence
	// threshold; the UI may offer a "did you mean" affordance.
	LowConfidence bool

	// Audio is the synthesised reply. Nil when TTS is disabled for the user,
	// not configured, or fell back.
	Audio []byte

	// AudioFallback reports that the reply is delivered as text only: the user
	// has TTS disabled, the persona has no synthesizer, or synthesis failed.
	AudioFallback bool

	// PersistErr is set when the exchange could not be written to history even
	// after a retry. The turn still completed.
	PersistErr error

	// Degraded lists the stages that substituted default values this turn.
	Degraded []string
}

// Turn runs one full conversation turn. It returns an error only for
// unusable input ([normalize.ErrEmptyInput], [normalize.ErrNoSTT]) or an
// unknown persona; every other failure degrades and the turn completes.
func (p *Pipeline) Turn(ctx context.Context, req Request) (*Result, error) {
	p.personasMu.RLock()
	pers, ok := p.personas[req.PersonaID]
	p.personasMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPersona, req.PersonaID)
	}

	unlock := p.lockPersona(req.PersonaID)
	defer unlock()

	ctx, span := observe.StartSpan(ctx, "turn")
	defer span.End()
	p.metrics.ActiveTurns.Add(ctx, 1)
	defer p.metrics.ActiveTurns.Add(ctx, -1)

	start := time.Now()
	res := &Result{}
	logger := observe.Logger(ctx).With("persona", req.PersonaID, "user", req.UserID)

	// ── Normalizing ──────────────────────────────────────────────────────
	var vocabulary []string
	if len(req.Audio) > 0 && p.deps.Lexicon != nil {
		terms, lerr := p.deps.Lexicon.Terms(ctx, req.UserID)
		if lerr != nil {
			p.degrade(ctx, res, "lexicon")
			logger.Warn("vocabulary lookup failed, transcribing without it", "error", lerr)
		} else {
			vocabulary = terms
		}
	}

	utterance, err := p.normalizeStage(ctx, req, vocabulary)
	if err != nil {
		if errors.Is(err, normalize.ErrEmptyInput) || errors.Is(err, normalize.ErrNoSTT) {
			p.metrics.RecordTurn(ctx, req.PersonaID, "rejected", time.Since(start).Seconds())
			return nil, err
		}
		stage := "understand"
		if len(req.Audio) > 0 && utterance.RawText == "" {
			stage = "transcribe"
		}
		p.degrade(ctx, res, stage)
		logger.Warn("normalization degraded", "stage", stage, "error", err)
	}
	res.Utterance = utterance
	res.LowConfidence = utterance.LowConfidence

	// Ensure the session exists before enrichment so the compose prompt can
	// include the rolling summary and recent exchanges. Creation is
	// idempotent; the title only takes effect on the very first turn.
	sess, err := p.deps.History.CreateSession(ctx, history.Session{
		PersonaID:          pers.ID,
		Kind:               pers.Kind,
		SystemInstructions: pers.SystemInstructions,
		Title:              deriveTitle(utterance.RawText),
	})
	if err != nil {
		p.degrade(ctx, res, "history")
		logger.Warn("session lookup failed, composing without history", "error", err)
	}

	// ── Enriching ────────────────────────────────────────────────────────
	sent, prof, docs := p.enrichStage(ctx, res, req.UserID, utterance.RawText, logger)
	res.Sentiment = sent

	var (
		recent      []types.Exchange
		rollSummary string
	)
	if sess != nil {
		res.SessionID = sess.ID
		rollSummary = sess.Summary
		recent, err = p.deps.History.GetRecentExchanges(ctx, sess.ID, p.historyWindow)
		if err != nil {
			p.degrade(ctx, res, "history")
			logger.Warn("recent exchange lookup failed", "error", err)
			recent = nil
		}
	}

	// ── Composing ────────────────────────────────────────────────────────
	reply, composeErr := p.composeStage(ctx, compose.Input{
		Utterance:          utterance,
		Sentiment:          sent,
		Documents:          docs,
		Profile:            prof,
		Recent:             recent,
		PersonaName:        pers.Name,
		SystemInstructions: pers.SystemInstructions,
		Summary:            rollSummary,
	})
	if composeErr != nil {
		p.degrade(ctx, res, "generate")
		logger.Error("generation failed, replying with apology", "error", composeErr)
	}
	res.Text = reply.Text
	res.Action = reply.Action

	// ── Persisting ───────────────────────────────────────────────────────
	p.persistStage(ctx, res, sess, pers, prof, utterance.RawText, reply.Text, composeErr == nil, logger)

	// Names the understanding stage spotted feed the vocabulary, so future
	// voice notes transcribe them correctly.
	if p.deps.Lexicon != nil && len(utterance.Entities) > 0 {
		names := make([]string, 0, len(utterance.Entities))
		for _, v := range utterance.Entities {
			names = append(names, v)
		}
		if err := p.deps.Lexicon.Observe(ctx, req.UserID, names); err != nil {
			p.degrade(ctx, res, "lexicon")
			logger.Warn("vocabulary observation failed", "error", err)
		}
	}

	// ── Synthesizing ─────────────────────────────────────────────────────
	p.synthesizeStage(ctx, res, pers, prof)

	status := "ok"
	if composeErr != nil {
		status = "apology"
	}
	p.metrics.RecordTurn(ctx, req.PersonaID, status, time.Since(start).Seconds())
	return res, nil
}

// SetPersona replaces (or adds) a persona's definition. Used for config hot
// reload; the persona's summarizer and voice are fixed at construction and
// are not affected.
func (p *Pipeline) SetPersona(pers Persona) {
	p.personasMu.Lock()
	p.personas[pers.ID] = pers
	p.personasMu.Unlock()
}

// lockPersona serializes turns per persona session.
func (p *Pipeline) lockPersona(personaID string) func() {
	p.locksMu.Lock()
	l, ok := p.locks[personaID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[personaID] = l
	}
	p.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

// degrade records a stage fallback on both the metrics and the result.
func (p *Pipeline) degrade(ctx context.Context, res *Result, stage string) {
	p.metrics.RecordDegradation(ctx, stage)
	res.Degraded = append(res.Degraded, stage)
}

// stageSpan opens a child span for a stage and returns a done func that ends
// it and records the stage duration histogram.
func (p *Pipeline) stageSpan(ctx context.Context, stage string) (context.Context, func()) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "turn."+stage)
	return ctx, func() {
		span.End()
		p.metrics.RecordStage(ctx, stage, time.Since(start).Seconds())
	}
}

func (p *Pipeline) normalizeStage(ctx context.Context, req Request, vocabulary []string) (types.Utterance, error) {
	// Normalization covers transcription and understanding in one call, so
	// its deadline is the sum of both stage budgets when audio is present.
	deadline := p.timeouts.Understand
	if len(req.Audio) > 0 {
		deadline += p.timeouts.Transcribe
	}
	ctx, done := p.stageSpan(ctx, "normalize")
	defer done()
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	return p.deps.Normalizer.Normalize(ctx, normalize.Input{
		Text:       req.Text,
		Audio:      req.Audio,
		MIMEType:   req.MIMEType,
		Vocabulary: vocabulary,
	})
}

// enrichStage runs sentiment, profile lookup, and retrieval concurrently.
// Each branch has its own deadline and substitutes its default on failure;
// the group is a join barrier and never returns an error.
func (p *Pipeline) enrichStage(ctx context.Context, res *Result, userID, text string, logger *slog.Logger) (types.Sentiment, *profile.Profile, []types.ContextDocument) {
	ctx, done := p.stageSpan(ctx, "enrich")
	defer done()

	var (
		mu   sync.Mutex
		sent = sentiment.Neutral()
		prof *profile.Profile
		docs []types.ContextDocument
	)

	branch := func(stage string, run func(ctx context.Context) error) func() error {
		return func() error {
			bctx, cancel := context.WithTimeout(ctx, p.timeouts.Enrich)
			defer cancel()
			if err := run(bctx); err != nil {
				mu.Lock()
				p.degrade(bctx, res, stage)
				mu.Unlock()
				logger.Warn("enrichment branch degraded", "stage", stage, "error", err)
			}
			return nil
		}
	}

	// Plain group, no shared cancellation: one branch failing must not
	// starve the others of their own deadline.
	var g errgroup.Group
	g.Go(branch("sentiment", func(bctx context.Context) error {
		s, err := p.deps.Sentiment.Analyze(bctx, text)
		mu.Lock()
		sent = s
		mu.Unlock()
		return err
	}))
	g.Go(branch("profile", func(bctx context.Context) error {
		got, err := p.deps.Profiles.Get(bctx, userID)
		if err != nil {
			return err
		}
		mu.Lock()
		prof = got
		mu.Unlock()
		return nil
	}))
	g.Go(branch("retrieval", func(bctx context.Context) error {
		got, err := p.deps.Retriever.Retrieve(bctx, text, userID, retrievalLimit)
		if err != nil {
			return err
		}
		mu.Lock()
		docs = got
		mu.Unlock()
		return nil
	}))
	_ = g.Wait() // branches never return errors

	if prof == nil {
		prof = profile.Default(userID)
	}
	return sent, prof, docs
}

func (p *Pipeline) composeStage(ctx context.Context, in compose.Input) (compose.Reply, error) {
	ctx, done := p.stageSpan(ctx, "generate")
	defer done()
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.Generate)
	defer cancel()

	return p.deps.Composer.Compose(ctx, in)
}

// persistStage writes the exchange, folds the rolling summary, and appends
// both texts to the profile history. The exchange append gets one immediate
// retry; a second failure sets Result.PersistErr and the turn completes.
// Summary and profile failures only degrade.
func (p *Pipeline) persistStage(ctx context.Context, res *Result, sess *history.Session, pers Persona, prof *profile.Profile, userText, botText string, foldSummary bool, logger *slog.Logger) {
	ctx, done := p.stageSpan(ctx, "persist")
	defer done()

	if sess == nil {
		// Session creation failed earlier; this is the one retry.
		var err error
		sess, err = p.deps.History.CreateSession(ctx, history.Session{
			PersonaID:          pers.ID,
			Kind:               pers.Kind,
			SystemInstructions: pers.SystemInstructions,
			Title:              deriveTitle(userText),
		})
		if err != nil {
			res.PersistErr = fmt.Errorf("turn: persist: %w", err)
			p.metrics.RecordPersistFailure(ctx)
			logger.Error("exchange lost: session unavailable after retry", "error", err)
			return
		}
		res.SessionID = sess.ID
	}

	if _, err := p.deps.History.AppendExchange(ctx, sess.ID, userText, botText); err != nil {
		logger.Warn("exchange append failed, retrying", "error", err)
		if _, err = p.deps.History.AppendExchange(ctx, sess.ID, userText, botText); err != nil {
			res.PersistErr = fmt.Errorf("turn: persist: %w", err)
			p.metrics.RecordPersistFailure(ctx)
			logger.Error("exchange lost after retry", "error", err)
		}
	}

	// Fold the exchange into the rolling summary. Skipped for apology
	// replies — a degraded generation has nothing worth remembering.
	if foldSummary {
		if folder, ok := p.deps.Summarizers[pers.ID]; ok && folder != nil {
			sctx, cancel := context.WithTimeout(ctx, p.timeouts.Summarize)
			merged, err := folder.Fold(sctx, userText, botText, sess.Summary)
			cancel()
			switch {
			case err != nil:
				p.degrade(ctx, res, "summarize")
				logger.Warn("summary fold failed, keeping previous summary", "error", err)
			case merged != sess.Summary:
				if err := p.deps.History.UpdateSummary(ctx, sess.ID, merged); err != nil {
					p.degrade(ctx, res, "summarize")
					logger.Warn("summary write failed", "error", err)
				}
			}
		}
	}

	if _, err := p.deps.Profiles.AppendHistory(ctx, prof.UserID, userText, botText); err != nil {
		p.degrade(ctx, res, "profile")
		logger.Warn("profile history append failed", "error", err)
	}
}

// synthesizeStage renders reply audio when the user has TTS enabled and the
// persona has a synthesizer. Best-effort: every skip or failure sets
// AudioFallback so clients always know the reply is text only.
func (p *Pipeline) synthesizeStage(ctx context.Context, res *Result, pers Persona, prof *profile.Profile) {
	if prof == nil || !prof.TTSEnabled {
		res.AudioFallback = true
		return
	}
	synth, ok := p.deps.Synthesizers[pers.ID]
	if !ok || synth == nil {
		res.AudioFallback = true
		return
	}

	ctx, done := p.stageSpan(ctx, "synthesize")
	defer done()

	lang := prof.Language
	if lang == "" {
		lang = res.Utterance.LanguageCode
	}
	sres := synth.Synthesize(ctx, res.Text, lang)
	res.Audio = sres.Audio
	res.AudioFallback = sres.Fallback
}

// deriveTitle builds a short session title from the first utterance: the
// leading words, truncated. No model call.
func deriveTitle(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return "New conversation"
	}
	truncated := len(words) > titleMaxWords
	if truncated {
		words = words[:titleMaxWords]
	}
	title := strings.Join(words, " ")
	if truncated {
		title += "…"
	}
	return title
}
