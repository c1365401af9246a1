package mapping

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Writer is implemented by backends that accept new mappings.
type Writer interface {
	Put(ctx context.Context, challengeID, key, ticker string) error
}

// Entry is one challenge-scoped key -> ticker mapping.
type Entry struct {
	ChallengeID   string
	InstrumentKey string
	Ticker        string
}

// seedFile is the YAML layout accepted by LoadFile:
//
//	challenges:
//	  spring-2025:
//	    STOCK_A: AAPL
//	    STOCK_B: "005930"
type seedFile struct {
	Challenges map[string]map[string]string `yaml:"challenges"`
}

// LoadFile reads mappings from the YAML file at path, ordered by challenge
// and key.
func LoadFile(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instrument mappings: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse instrument mappings %s: %w", path, err)
	}

	var entries []Entry
	for challenge, keys := range f.Challenges {
		for key, ticker := range keys {
			entries = append(entries, Entry{ChallengeID: challenge, InstrumentKey: key, Ticker: ticker})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ChallengeID != entries[j].ChallengeID {
			return entries[i].ChallengeID < entries[j].ChallengeID
		}
		return entries[i].InstrumentKey < entries[j].InstrumentKey
	})
	return entries, nil
}

// Seed writes every entry to w and stops at the first failure.
func Seed(ctx context.Context, w Writer, entries []Entry) error {
	for _, e := range entries {
		if err := w.Put(ctx, e.ChallengeID, e.InstrumentKey, e.Ticker); err != nil {
			return fmt.Errorf("seed %s/%s: %w", e.ChallengeID, e.InstrumentKey, err)
		}
	}
	return nil
}
