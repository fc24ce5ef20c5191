package hypergrep

import (
	"fmt"
	"regexp/syntax"
)

// Pattern holds one parsed pattern string together with the options it was
// parsed with. A Pattern is reused across AddPattern calls: every Parse
// replaces the previous content.
type Pattern struct {
	handle *Handle
	text   string
	opts   KeyOpts
	re     *syntax.Regexp
}

// NewPattern returns an open, unparsed Pattern
func NewPattern() *Pattern {
	return &Pattern{handle: NewHandle(acquireHandle())}
}

// Parse validates text under opts and stores the result. A failed parse
// leaves the Pattern unparsed and writes the diagnostic to sink.
func (p *Pattern) Parse(text string, opts KeyOpts, sink *ErrorSink) error {
	if err := p.check(); err != nil {
		return err
	}
	if err := sink.check(); err != nil {
		return err
	}
	if text == "" {
		var err = argError("empty pattern")
		sink.record(err)
		return err
	}

	p.text, p.opts, p.re = "", KeyOpts{}, nil

	re, err := parseExpr(text, opts)
	if err != nil {
		sink.record(err)
		return err
	}

	p.text, p.opts, p.re = text, opts, re

	return nil
}

// Text returns the last successfully parsed pattern string
func (p *Pattern) Text() string {
	return p.text
}

// Options returns the options of the last successful parse
func (p *Pattern) Options() KeyOpts {
	return p.opts
}

// Parsed reports whether the Pattern holds a successfully parsed expression
func (p *Pattern) Parsed() bool {
	return p != nil && p.re != nil
}

// Close releases the Pattern; it is idempotent
func (p *Pattern) Close() error {
	if p == nil {
		return nil
	}
	p.handle.Close()
	p.re = nil
	return nil
}

func (p *Pattern) check() error {
	if p == nil {
		return argError("nil pattern")
	}
	if !p.handle.IsOpen() {
		return closedError("pattern")
	}
	return nil
}

// parseExpr turns a pattern string into a simplified syntax tree. Dot
// matches every character since streams have no line structure, and for
// the same reason anchors and word boundaries are refused.
func parseExpr(text string, opts KeyOpts) (*syntax.Regexp, error) {
	var flags = syntax.Perl | syntax.DotNL
	if opts.FixedString {
		flags |= syntax.Literal
	}
	if opts.CaseInsensitive {
		flags |= syntax.FoldCase
	}

	re, err := syntax.Parse(text, flags)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %v: %w", text, err, ErrCompile)
	}
	if op, found := findAssertion(re); found {
		return nil, fmt.Errorf("parsing %q: unsupported assertion %s: %w", text, op, ErrCompile)
	}

	return re.Simplify(), nil
}

func findAssertion(re *syntax.Regexp) (syntax.Op, bool) {
	switch re.Op {
	case syntax.OpBeginLine, syntax.OpEndLine, syntax.OpBeginText, syntax.OpEndText,
		syntax.OpWordBoundary, syntax.OpNoWordBoundary:
		return re.Op, true
	}
	for _, sub := range re.Sub {
		if op, found := findAssertion(sub); found {
			return op, true
		}
	}
	return 0, false
}
