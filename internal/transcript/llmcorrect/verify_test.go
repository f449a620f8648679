package llmcorrect

import "testing"

func TestVerifyCorrectedText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		original    string
		corrected   string
		corrections []Correction
		wantText    string
		wantCount   int
	}{
		{
			name:      "unchanged text passes through",
			original:  "saw Serena at the market",
			corrected: "saw Serena at the market",
			corrections: []Correction{
				{Original: "sirena", Corrected: "Serena"},
			},
			wantText:  "saw Serena at the market",
			wantCount: 1,
		},
		{
			name:      "declared substitution is kept",
			original:  "saw sirena at the market",
			corrected: "saw Serena at the market",
			corrections: []Correction{
				{Original: "sirena", Corrected: "Serena"},
			},
			wantText:  "saw Serena at the market",
			wantCount: 1,
		},
		{
			name:        "undeclared substitution is reverted",
			original:    "saw sirena at the market",
			corrected:   "saw Serena at the bazaar",
			corrections: []Correction{{Original: "sirena", Corrected: "Serena"}},
			wantText:    "saw Serena at the market",
			wantCount:   1,
		},
		{
			name:        "fully undeclared rewrite reverts everything",
			original:    "went for a walk",
			corrected:   "took a stroll",
			corrections: nil,
			wantText:    "went for a walk",
			wantCount:   0,
		},
		{
			name:      "trailing punctuation does not block the lookup",
			original:  "talked to sirena.",
			corrected: "talked to Serena.",
			corrections: []Correction{
				{Original: "sirena", Corrected: "Serena"},
			},
			wantText:  "talked to Serena.",
			wantCount: 1,
		},
		{
			name:      "substitution at the end of the text",
			original:  "today I met matayo",
			corrected: "today I met Matteo",
			corrections: []Correction{
				{Original: "matayo", Corrected: "Matteo"},
			},
			wantText:  "today I met Matteo",
			wantCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			text, verified := verifyCorrectedText(tt.original, tt.corrected, tt.corrections)
			if text != tt.wantText {
				t.Errorf("text=%q, want %q", text, tt.wantText)
			}
			if len(verified) != tt.wantCount {
				t.Errorf("verified=%d corrections, want %d", len(verified), tt.wantCount)
			}
		})
	}
}
