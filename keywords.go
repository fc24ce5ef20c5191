package hypergrep

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// KeywordDefaults supplies the options and encodings of keyword lines that
// carry only a pattern
type KeywordDefaults struct {
	Options   KeyOpts
	Encodings []string
}

// Keyword is one parsed keyword line; Line is its zero-based line number and
// serves as the keyword index of its hits
type Keyword struct {
	PatternEntry
	Line int
}

// ParseKeywordLine parses one keyword line:
//
//	pattern
//	pattern<TAB>fixed<TAB>caseInsensitive<TAB>enc1,enc2,...
//
// where fixed and caseInsensitive are "0" or "1" and any other value, empty
// included, keeps the default. An empty encoding list keeps the default
// encodings. It reports false for lines that define no keyword.
func ParseKeywordLine(line string, defaults KeywordDefaults) (PatternEntry, bool) {
	var fields = strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if fields[0] == "" {
		return PatternEntry{}, false
	}

	var entry = PatternEntry{Pattern: fields[0], Options: defaults.Options}
	var encodings = defaults.Encodings
	if len(fields) == 4 {
		setFlag(fields[1], &entry.Options.FixedString)
		setFlag(fields[2], &entry.Options.CaseInsensitive)
		if named := strings.FieldsFunc(fields[3], func(r rune) bool { return r == ',' }); len(named) > 0 {
			encodings = named
		}
	}
	if len(encodings) == 0 {
		return PatternEntry{}, false
	}
	entry.Encodings = append([]string(nil), encodings...)

	return entry, true
}

func setFlag(s string, b *bool) {
	switch s {
	case "1":
		*b = true
	case "0":
		*b = false
	}
}

// ReadKeywords parses every line of r. Lines without a keyword are skipped
// but still count towards the line numbers of later keywords.
func ReadKeywords(r io.Reader, defaults KeywordDefaults) ([]Keyword, error) {
	var (
		keywords []Keyword
		scanner  = bufio.NewScanner(r)
		line     = 0
	)
	scanner.Buffer(make([]byte, 0, 8192), 1<<20)
	for ; scanner.Scan(); line++ {
		if entry, ok := ParseKeywordLine(scanner.Text(), defaults); ok {
			keywords = append(keywords, Keyword{PatternEntry: entry, Line: line})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading keywords at line %d: %w", line, err)
	}

	return keywords, nil
}

// AddKeywords registers every keyword with f under its line number, once per
// encoding. On failure nothing is kept and the failing line is reported.
func (f *Fsm) AddKeywords(prog *Program, pat *Pattern, keywords []Keyword, sink *ErrorSink) error {
	if err := f.checkAdd(prog, pat, sink); err != nil {
		return err
	}

	var (
		mark  = len(f.frags)
		bound = f.prog != nil
	)
	for _, kw := range keywords {
		var err = pat.Parse(kw.Pattern, kw.Options, sink)
		if err == nil {
			for _, name := range kw.Encodings {
				if _, err = f.AddPattern(prog, pat, name, uint64(kw.Line), sink); err != nil {
					break
				}
			}
		}
		if err != nil {
			f.rollback(mark, bound)
			return fmt.Errorf("keyword on line %d: %w", kw.Line+1, err)
		}
	}

	return nil
}
