package hypergrep

import (
	"errors"
	"reflect"
	"testing"
)

func utf8Entries(patterns ...string) []PatternEntry {
	var entries = make([]PatternEntry, len(patterns))
	for idx, pattern := range patterns {
		entries[idx] = PatternEntry{Pattern: pattern, Encodings: []string{"UTF-8"}}
	}
	return entries
}

func caseInsensitive(entries []PatternEntry) []PatternEntry {
	for idx := range entries {
		entries[idx].Options.CaseInsensitive = true
	}
	return entries
}

func Test_SimpleEngineUpdatePatterns(t *testing.T) {
	t.Parallel()

	var engine = NewSimpleEngine()
	defer engine.Close()
	var tests = []struct {
		name     string
		patterns []PatternEntry
		wantErr  error
	}{
		{"Empty pattern list",
			nil,
			ErrNoPatterns,
		},
		{
			"Invalid pattern",
			utf8Entries("pattern("),
			ErrCompile,
		},
		{
			"Anchored pattern",
			utf8Entries("^pattern"),
			ErrCompile,
		},
		{
			"Unknown encoding",
			[]PatternEntry{{Pattern: "pattern", Encodings: []string{"bogus"}}},
			ErrInvalidArgument,
		},
		{
			"Engine initializes successfully",
			utf8Entries("pattern"),
			nil,
		},
	}

	for _, tt := range tests {
		var err = engine.Update(tt.patterns)

		if !errors.Is(err, tt.wantErr) || (err == nil) != (tt.wantErr == nil) {
			t.Errorf("%s got: %v, want: %v", tt.name, err, tt.wantErr)
		}
	}
}

func Test_SimpleEngineMatch(t *testing.T) {
	t.Parallel()

	var tests = []struct {
		name        string
		engineGen   func() *SimpleEngine
		corpus      []string
		wantMatches []string
		wantErr     error
	}{
		{"Patterns not loaded",
			func() *SimpleEngine {
				return NewSimpleEngine()
			},
			[]string{"corpus"},
			nil,
			ErrNotLoaded,
		},
		{
			"Match not found",
			func() *SimpleEngine {
				var engine = NewSimpleEngine()
				engine.Update(utf8Entries("someotherkeyword"))

				return engine
			},
			[]string{"corpus"},
			[]string{},
			nil,
		},
		{
			"Exact match found",
			func() *SimpleEngine {
				var engine = NewSimpleEngine()
				engine.Update(utf8Entries("corpus"))

				return engine
			},
			[]string{"corpus"},
			[]string{"corpus"},
			nil,
		},
		{
			"Case insensitive match found",
			func() *SimpleEngine {
				var engine = NewSimpleEngine()
				engine.Update(caseInsensitive(utf8Entries("cOrPuS")))

				return engine
			},
			[]string{"corpus"},
			[]string{"cOrPuS"},
			nil,
		},
		{
			"Multiple matches found",
			func() *SimpleEngine {
				var engine = NewSimpleEngine()
				engine.Update(caseInsensitive(utf8Entries("cOrPuS", "pus")))

				return engine
			},
			[]string{"corpus"},
			[]string{"cOrPuS", "pus"},
			nil,
		},
		{
			"Matches across blocks",
			func() *SimpleEngine {
				var engine = NewSimpleEngine()
				engine.Update(utf8Entries("b+", "c"))

				return engine
			},
			[]string{"ccc", "abba"},
			[]string{"c", "b+"},
			nil,
		},
	}

	for _, tt := range tests {
		var engine = tt.engineGen()
		var results, err = engine.MatchStrings(tt.corpus)
		engine.Close()

		var matches []string
		if results != nil {
			matches = MatchedPatterns(results)
		}
		if !reflect.DeepEqual(matches, tt.wantMatches) {
			t.Errorf("%s got: %#v, want: %#v", tt.name, matches, tt.wantMatches)
		}

		if !reflect.DeepEqual(err, tt.wantErr) {
			t.Errorf("%s got: %#v, want: %#v", tt.name, err, tt.wantErr)
		}
	}
}

func Test_SimpleEngineHitsPerBlock(t *testing.T) {
	t.Parallel()

	var engine = NewSimpleEngine()
	defer engine.Close()
	if err := engine.Update([]PatternEntry{
		{Pattern: "ab", Encodings: []string{"UTF-8", "UTF-16LE"}},
		{Pattern: "x+", Encodings: []string{"UTF-8"}},
	}); err != nil {
		t.Fatal(err)
	}

	var results, err = engine.Match([][]byte{
		[]byte("--ab--"),
		[]byte("a\x00b\x00xx"),
		nil,
	})
	if err != nil {
		t.Fatal(err)
	}

	var want = [][]Hit{
		{{Start: 2, End: 4, KeywordIndex: 0, Pattern: "ab", EncChain: "UTF-8"}},
		{
			{Start: 0, End: 4, KeywordIndex: 0, Pattern: "ab", EncChain: "UTF-16LE"},
			{Start: 4, End: 6, KeywordIndex: 1, Pattern: "x+", EncChain: "UTF-8"},
		},
		{},
	}
	if !reflect.DeepEqual(results, want) {
		t.Errorf("got: %v, want: %v", results, want)
	}
}
