// Package transcript corrects misheard personal vocabulary in voice-note
// transcripts.
//
// Speech-to-text output is rarely perfect for the proper nouns that matter
// most in a journal: the names of people, pets, places, and practices the
// user talks about every day ("Marisol" heard as "marry soul", "Wim Hof"
// heard as "whim hoff"). The [Corrector] applies a two-stage strategy:
//
//  1. Phonetic matching ([Matcher]): fast, in-process alignment based on
//     pronunciation similarity. No network calls.
//
//  2. LLM-assisted correction: a language model resolves spans the phonetic
//     stage could not, using the full vocabulary list. Only runs when the
//     transcript's overall confidence is low, and every substitution it
//     reports is verified against the actual text diff before acceptance.
//
// Each [Correction] records which stage produced the substitution and its
// confidence, so callers can audit or display the changes.
package transcript

import (
	"github.com/sona-app/sona/pkg/provider/stt"
)

// Correction captures a single substitution made while correcting a transcript.
type Correction struct {
	// Original is the text as produced by the transcription provider.
	Original string

	// Corrected is the replacement vocabulary term.
	Corrected string

	// Confidence is the corrector's confidence in this substitution (0.0–1.0).
	Confidence float64

	// Method describes which stage produced this substitution.
	// Well-known values:
	//   "phonetic" — produced by a [Matcher].
	//   "llm"      — produced by the language-model pass.
	Method string
}

// Corrected is the output of a [Corrector.Correct] call. It pairs the raw
// [stt.Transcript] with the corrected text and an itemised record of every
// substitution applied.
type Corrected struct {
	// Original is the transcript as received from the transcription provider.
	Original stt.Transcript

	// Text is the corrected transcript text. When no corrections were needed
	// it equals Original.Text.
	Text string

	// Corrections lists the substitutions applied, in text order. Empty
	// (non-nil) when nothing was changed.
	Corrections []Correction
}

// Matcher resolves a word or short phrase to a known vocabulary term based on
// pronunciation similarity. It is the first correction stage and must be fast
// enough to sit on the voice-note path: no network calls.
//
// Implementations must be safe for concurrent use.
type Matcher interface {
	// Match attempts to find the vocabulary term most phonetically similar
	// to word.
	//
	// Return values:
	//   corrected  — the best-matching term from vocabulary.
	//   confidence — similarity score in [0.0, 1.0].
	//   matched    — true when a sufficiently similar term was found.
	//
	// When matched is false, corrected equals word unchanged and confidence
	// is 0.
	Match(word string, vocabulary []string) (corrected string, confidence float64, matched bool)
}
