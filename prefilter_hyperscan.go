//go:build hyperscan

package hypergrep

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
	"unicode/utf8"

	"github.com/flier/gohs/hyperscan"
)

var errPrefilterHit = errors.New("prefilter hit")

// hyperscanPrefilter compiles the entries into one Hyperscan block database
// in prefilter mode, which matches a superset of what the automaton does
type hyperscanPrefilter struct {
	db        hyperscan.BlockDatabase
	scratches sync.Pool
}

func newPrefilter(entries []progEntry) (prefilter, error) {
	var patterns = make([]*hyperscan.Pattern, 0, len(entries))
	for idx, e := range entries {
		switch e.encoding {
		case "UTF-8", "US-ASCII":
		default:
			return nil, fmt.Errorf("entry %d is searched in %s", idx, e.encoding)
		}

		var expr = e.pattern
		if e.opts.FixedString {
			expr = regexp.QuoteMeta(expr)
		}
		var flags = hyperscan.DotAll | hyperscan.SingleMatch | hyperscan.AllowEmpty |
			hyperscan.Utf8Mode | hyperscan.PrefilterMode
		if e.opts.CaseInsensitive {
			flags |= hyperscan.Caseless
		}
		var pattern = hyperscan.NewPattern(expr, flags)
		pattern.Id = idx
		patterns = append(patterns, pattern)
	}

	db, err := hyperscan.NewBlockDatabase(patterns...)
	if err != nil {
		return nil, fmt.Errorf("building prefilter database: %w", err)
	}

	var f = &hyperscanPrefilter{db: db}
	f.scratches.New = func() any {
		scratch, err := hyperscan.NewScratch(db)
		if err != nil {
			return nil
		}
		return scratch
	}

	return f, nil
}

func (f *hyperscanPrefilter) mayMatch(buf []byte) bool {
	// the database runs in UTF-8 mode, whose behaviour on invalid input is undefined
	if !utf8.Valid(buf) {
		return true
	}
	scratch, ok := f.scratches.Get().(*hyperscan.Scratch)
	if !ok || scratch == nil {
		return true
	}
	defer f.scratches.Put(scratch)

	var matched bool
	var err = f.db.Scan(buf, scratch, func(id uint, from, to uint64, flags uint, context interface{}) error {
		matched = true
		return errPrefilterHit
	}, nil)

	return matched || err != nil
}

func (f *hyperscanPrefilter) close() {
	f.db.Close()
}
