package retrieval

import (
	"context"
	"strings"

	"github.com/sona-app/sona/pkg/types"
)

// defaultSnippets is the built-in wellness knowledge served when no corpus
// database is configured.
var defaultSnippets = []types.ContextDocument{
	{
		Content: "Box breathing: inhale for four counts, hold for four, exhale for four, hold for four. Repeating the cycle for a few minutes activates the parasympathetic nervous system and reduces acute stress.",
		Source:  "builtin/breathing",
	},
	{
		Content: "Naming an emotion precisely — \"I feel overwhelmed\" rather than \"I feel bad\" — measurably lowers its intensity. This is called affect labeling.",
		Source:  "builtin/affect-labeling",
	},
	{
		Content: "Journaling about a stressful event for 10 to 15 minutes helps organize the experience into a narrative, which is associated with improved mood and sleep.",
		Source:  "builtin/journaling",
	},
	{
		Content: "Gratitude practice: writing down three specific things that went well today, and why, builds a durable habit of noticing positives.",
		Source:  "builtin/gratitude",
	},
	{
		Content: "A brisk ten-minute walk reliably improves mood for up to two hours and is one of the most accessible interventions for low energy.",
		Source:  "builtin/movement",
	},
	{
		Content: "Sleep hygiene basics: consistent wake time, no screens in the last half hour before bed, and a cool dark room matter more than total time in bed.",
		Source:  "builtin/sleep",
	},
}

// Static serves context documents from a fixed in-memory snippet set.
// It is the degraded retrieval mode used when no corpus store is configured.
type Static struct {
	snippets []types.ContextDocument
}

var _ Retriever = (*Static)(nil)

// NewStatic returns a Static retriever over the built-in wellness snippets.
func NewStatic() *Static {
	return &Static{snippets: defaultSnippets}
}

// NewStaticWith returns a Static retriever over a caller-supplied snippet set.
func NewStaticWith(snippets []types.ContextDocument) *Static {
	return &Static{snippets: snippets}
}

// Retrieve returns up to limit snippets. Snippets sharing a word with the
// query rank first; the remainder fill the list in declaration order, so the
// result is never empty while the set has entries. userID is ignored — the
// built-in corpus is shared.
func (s *Static) Retrieve(_ context.Context, query, _ string, limit int) ([]types.ContextDocument, error) {
	if limit <= 0 {
		return []types.ContextDocument{}, nil
	}

	words := queryWords(query)

	var matched, rest []types.ContextDocument
	for _, doc := range s.snippets {
		if overlaps(doc.Content, words) {
			matched = append(matched, doc)
		} else {
			rest = append(rest, doc)
		}
	}

	out := append(matched, rest...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// queryWords lowercases and splits the query, dropping words too short to be
// meaningful match terms.
func queryWords(query string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) >= 4 {
			words = append(words, w)
		}
	}
	return words
}

func overlaps(content string, words []string) bool {
	lower := strings.ToLower(content)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
