package lexicon

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile is the structure of a vocabulary seed YAML file.
//
// Example:
//
//	lexicon:
//	  - term: "Serena"
//	    kind: person
//	  - term: "Solace Garden"
//	    kind: place
type SeedFile struct {
	Lexicon []Term `yaml:"lexicon"`
}

// LoadSeedFile reads and parses a vocabulary seed file from disk.
func LoadSeedFile(path string) (*SeedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lexicon: open seed file %q: %w", path, err)
	}
	defer f.Close()

	sf, err := LoadSeedFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("lexicon: parse seed file %q: %w", path, err)
	}
	return sf, nil
}

// LoadSeedFromReader parses seed YAML from r. The reader is consumed
// entirely; the caller closes it.
func LoadSeedFromReader(r io.Reader) (*SeedFile, error) {
	var sf SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&sf); err != nil {
		return nil, fmt.Errorf("lexicon: decode seed yaml: %w", err)
	}

	for i, t := range sf.Lexicon {
		if t.Term == "" {
			return nil, fmt.Errorf("lexicon: seed entry %d has no term", i)
		}
		if !t.Kind.IsValid() {
			return nil, fmt.Errorf("lexicon: seed entry %q has unknown kind %q", t.Term, t.Kind)
		}
	}
	return &sf, nil
}

// Seed imports all terms from sf into store under [SharedUser] and returns
// how many were imported. An error from the store aborts the import with the
// count so far.
func Seed(ctx context.Context, store Store, sf *SeedFile) (int, error) {
	if sf == nil {
		return 0, fmt.Errorf("lexicon: seed file must not be nil")
	}
	count := 0
	for _, t := range sf.Lexicon {
		t.Source = "seed"
		if err := store.Add(ctx, SharedUser, t); err != nil {
			return count, fmt.Errorf("lexicon: seed term %q: %w", t.Term, err)
		}
		count++
	}
	return count, nil
}
