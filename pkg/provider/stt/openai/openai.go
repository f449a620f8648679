// Package openai provides an STT provider backed by the OpenAI audio
// transcription API (Whisper and the gpt-4o-transcribe family).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/sona-app/sona/pkg/provider/stt"
)

// maxUploadBytes is the OpenAI audio upload limit (25 MB).
const maxUploadBytes = 25 * 1024 * 1024

// Provider implements stt.Provider using the OpenAI transcription API.
type Provider struct {
	client oai.Client
	model  string
}

var _ stt.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	baseURL string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible local Whisper servers.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// New constructs a new OpenAI transcription Provider.
//
// model is the transcription model to use (e.g., "whisper-1",
// "gpt-4o-mini-transcribe").
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, cfg stt.Config) (*stt.Transcript, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("openai: audio clip is empty")
	}
	if len(audio) > maxUploadBytes {
		return nil, fmt.Errorf("openai: clip is %d bytes: %w", len(audio), stt.ErrAudioTooLarge)
	}

	format := cfg.Format
	if format == "" {
		format = "wav"
	}

	params := oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(p.model),
		File:  oai.File(bytes.NewReader(audio), "audio."+format, "audio/"+format),
	}
	if cfg.Language != "" {
		params.Language = param.NewOpt(cfg.Language)
	}
	if cfg.Prompt != "" {
		params.Prompt = param.NewOpt(cfg.Prompt)
	}
	// Token logprobs are only available on the gpt-4o-transcribe family;
	// whisper-1 rejects the include parameter.
	if supportsLogprobs(p.model) {
		params.Include = []oai.TranscriptionInclude{oai.TranscriptionIncludeLogprobs}
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: transcribe: %w", err)
	}

	return &stt.Transcript{
		Text:       strings.TrimSpace(resp.Text),
		Confidence: confidenceFromLogprobs(resp.Logprobs),
		Language:   cfg.Language,
	}, nil
}

// supportsLogprobs reports whether the model can return token logprobs.
func supportsLogprobs(model string) bool {
	return strings.Contains(strings.ToLower(model), "transcribe")
}

// confidenceFromLogprobs converts per-token logprobs to an overall
// confidence in [0, 1]. Without logprobs the clip is reported as fully
// confident so that callers without a signal do not flag every voice note.
func confidenceFromLogprobs(lps []oai.TranscriptionLogprob) float64 {
	if len(lps) == 0 {
		return 1
	}
	sum := 0.0
	for _, lp := range lps {
		sum += lp.Logprob
	}
	mean := sum / float64(len(lps))
	conf := math.Exp(mean)
	if conf > 1 {
		conf = 1
	}
	return conf
}
