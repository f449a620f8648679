package phonetic_test

import (
	"testing"

	"github.com/sona-app/sona/internal/transcript/phonetic"
)

func TestMatcher_SingleWordMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	// "sirena" and "Serena" share the Double Metaphone code SRN, so the
	// phonetic stage should align them.
	vocabulary := []string{"Serena", "Matteo", "Solace Garden"}

	corrected, conf, matched := m.Match("sirena", vocabulary)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "sirena")
	}
	if corrected != "Serena" {
		t.Errorf("Match(%q): corrected=%q, want %q", "sirena", corrected, "Serena")
	}
	if conf < 0.7 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.7", "sirena", conf)
	}
}

func TestMatcher_MultiWordTermMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	vocabulary := []string{"Solace Garden", "Serena", "Matteo"}

	corrected, conf, matched := m.Match("solis garden", vocabulary)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "solis garden")
	}
	if corrected != "Solace Garden" {
		t.Errorf("Match(%q): corrected=%q, want %q", "solis garden", corrected, "Solace Garden")
	}
	if conf < 0.7 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.7", "solis garden", conf)
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	vocabulary := []string{"Serena", "Matteo"}

	corrected, conf, matched := m.Match("hello", vocabulary)
	if matched {
		t.Fatalf("Match(%q): matched=true, want false", "hello")
	}
	if corrected != "hello" {
		t.Errorf("Match(%q): corrected=%q, want original word", "hello", corrected)
	}
	if conf != 0 {
		t.Errorf("Match(%q): confidence=%f, want 0", "hello", conf)
	}
}

func TestMatcher_CaseInsensitivity(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	vocabulary := []string{"Serena"}

	corrected, _, matched := m.Match("SERENA", vocabulary)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "SERENA")
	}
	// The canonical casing from the vocabulary wins.
	if corrected != "Serena" {
		t.Errorf("Match(%q): corrected=%q, want %q", "SERENA", corrected, "Serena")
	}
}

func TestMatcher_ExactMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	vocabulary := []string{"Matteo", "Serena"}

	corrected, conf, matched := m.Match("matteo", vocabulary)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "matteo")
	}
	if corrected != "Matteo" {
		t.Errorf("Match(%q): corrected=%q, want %q", "matteo", corrected, "Matteo")
	}
	if conf < 0.9 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.9 for near-exact match", "matteo", conf)
	}
}

func TestMatcher_ThresholdFiltering(t *testing.T) {
	t.Parallel()

	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)
	vocabulary := []string{"Serena"}

	_, _, matched := m.Match("sirena", vocabulary)
	if matched {
		t.Fatal("Match with threshold=0.99 should reject near-matches, got matched=true")
	}
}

func TestMatcher_EmptyVocabulary(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	corrected, conf, matched := m.Match("serena", nil)
	if matched {
		t.Fatal("Match with nil vocabulary should return matched=false")
	}
	if corrected != "serena" {
		t.Errorf("corrected=%q, want original", corrected)
	}
	if conf != 0 {
		t.Errorf("conf=%f, want 0", conf)
	}
}

func TestMatcher_EmptyWord(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	corrected, conf, matched := m.Match("", []string{"Serena"})
	if matched {
		t.Fatal("Match with empty word should return matched=false")
	}
	if corrected != "" {
		t.Errorf("corrected=%q, want empty string", corrected)
	}
	if conf != 0 {
		t.Errorf("conf=%f, want 0", conf)
	}
}
