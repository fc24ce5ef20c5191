package hypergrep

import (
	"fmt"
	"regexp/syntax"
	"unicode"
	"unicode/utf8"
)

type opcode uint8

const (
	// opByte consumes one byte in [lo, hi] and continues at x
	opByte opcode = iota + 1
	// opSplit continues at x and at y, x preferred
	opSplit
	// opJump continues at x
	opJump
	// opMatch reports a match for entry label
	opMatch
	// opFail never matches
	opFail
)

func (op opcode) String() string {
	switch op {
	case opByte:
		return "byte"
	case opSplit:
		return "split"
	case opJump:
		return "jump"
	case opMatch:
		return "match"
	case opFail:
		return "fail"
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

type inst struct {
	op     opcode
	lo, hi byte
	x, y   uint32
	label  uint32
}

// frag is a partially built automaton: an entry pc plus the dangling
// transitions that still have to be pointed at whatever follows it
type frag struct {
	start uint32
	out   []hole
}

type hole struct {
	pc     uint32
	second bool
}

// fragment is the compiled automaton of one (pattern, encoding) entry with
// pcs local to insts
type fragment struct {
	start uint32
	insts []inst
}

type nfaCompiler struct {
	enc   encoder
	insts []inst
}

// compileFragment lowers a parsed expression to a byte-level automaton for
// enc whose accepting instruction reports label
func compileFragment(re *syntax.Regexp, enc encoder, label uint32) (fragment, error) {
	var c = &nfaCompiler{enc: enc}

	f, err := c.compile(re)
	if err != nil {
		return fragment{}, err
	}
	var m = c.emit(inst{op: opMatch, label: label})
	c.patch(f.out, m)

	return fragment{start: f.start, insts: c.insts}, nil
}

func (c *nfaCompiler) emit(i inst) uint32 {
	c.insts = append(c.insts, i)
	return uint32(len(c.insts) - 1)
}

func (c *nfaCompiler) patch(holes []hole, target uint32) {
	for _, h := range holes {
		if h.second {
			c.insts[h.pc].y = target
		} else {
			c.insts[h.pc].x = target
		}
	}
}

func (c *nfaCompiler) empty() frag {
	var pc = c.emit(inst{op: opJump})
	return frag{start: pc, out: []hole{{pc: pc}}}
}

func (c *nfaCompiler) compile(re *syntax.Regexp) (frag, error) {
	switch re.Op {
	case syntax.OpNoMatch:
		return frag{start: c.emit(inst{op: opFail})}, nil
	case syntax.OpEmptyMatch:
		return c.empty(), nil
	case syntax.OpLiteral:
		var fold = re.Flags&syntax.FoldCase != 0
		var subs = make([]frag, 0, len(re.Rune))
		for _, r := range re.Rune {
			var ranges = []rune{r, r}
			if fold {
				ranges = foldRanges(r)
			}
			f, err := c.class(ranges)
			if err != nil {
				return frag{}, err
			}
			subs = append(subs, f)
		}
		return c.cat(subs), nil
	case syntax.OpCharClass:
		return c.class(re.Rune)
	case syntax.OpAnyCharNotNL:
		return c.class([]rune{0, '\n' - 1, '\n' + 1, utf8.MaxRune})
	case syntax.OpAnyChar:
		return c.class([]rune{0, utf8.MaxRune})
	case syntax.OpCapture:
		return c.compile(re.Sub[0])
	case syntax.OpConcat, syntax.OpAlternate:
		var subs = make([]frag, 0, len(re.Sub))
		for _, sub := range re.Sub {
			f, err := c.compile(sub)
			if err != nil {
				return frag{}, err
			}
			subs = append(subs, f)
		}
		if re.Op == syntax.OpConcat {
			return c.cat(subs), nil
		}
		return c.alt(subs), nil
	case syntax.OpStar, syntax.OpPlus, syntax.OpQuest:
		f, err := c.compile(re.Sub[0])
		if err != nil {
			return frag{}, err
		}
		switch re.Op {
		case syntax.OpStar:
			var l = c.emit(inst{op: opSplit, x: f.start})
			c.patch(f.out, l)
			return frag{start: l, out: []hole{{pc: l, second: true}}}, nil
		case syntax.OpPlus:
			var l = c.emit(inst{op: opSplit, x: f.start})
			c.patch(f.out, l)
			return frag{start: f.start, out: []hole{{pc: l, second: true}}}, nil
		default:
			var l = c.emit(inst{op: opSplit, x: f.start})
			return frag{start: l, out: append(f.out, hole{pc: l, second: true})}, nil
		}
	}
	return frag{}, fmt.Errorf("unsupported expression %s: %w", re.Op, ErrCompile)
}

func (c *nfaCompiler) cat(subs []frag) frag {
	if len(subs) == 0 {
		return c.empty()
	}
	var f = subs[0]
	for _, next := range subs[1:] {
		c.patch(f.out, next.start)
		f.out = next.out
	}
	return f
}

func (c *nfaCompiler) alt(subs []frag) frag {
	switch len(subs) {
	case 0:
		return frag{start: c.emit(inst{op: opFail})}
	case 1:
		return subs[0]
	}

	var rest = c.alt(subs[1:])
	var l = c.emit(inst{op: opSplit, x: subs[0].start, y: rest.start})
	var out = make([]hole, 0, len(subs[0].out)+len(rest.out))
	out = append(out, subs[0].out...)
	return frag{start: l, out: append(out, rest.out...)}
}

// class compiles a set of character ranges, given as lo/hi pairs, into the
// alternation of their encoded byte sequences
func (c *nfaCompiler) class(ranges []rune) (frag, error) {
	var seqs [][]byteRange
	for i := 0; i+1 < len(ranges); i += 2 {
		seqs = append(seqs, c.enc.sequences(ranges[i], ranges[i+1])...)
	}
	if len(seqs) == 0 {
		return frag{}, fmt.Errorf("character class %s has no representation in %s: %w",
			formatRanges(ranges), c.enc.name(), ErrCompile)
	}

	var subs = make([]frag, 0, len(seqs))
	for _, seq := range seqs {
		var f = frag{start: uint32(len(c.insts))}
		for i, br := range seq {
			var pc = c.emit(inst{op: opByte, lo: br.lo, hi: br.hi})
			if i > 0 {
				c.insts[pc-1].x = pc
			}
		}
		f.out = []hole{{pc: uint32(len(c.insts) - 1)}}
		subs = append(subs, f)
	}

	return c.alt(subs), nil
}

// foldRanges returns the simple case folding orbit of r as lo/hi pairs
func foldRanges(r rune) []rune {
	var out = []rune{r, r}
	for f := unicode.SimpleFold(r); f != r; f = unicode.SimpleFold(f) {
		out = append(out, f, f)
	}
	return out
}

func formatRanges(ranges []rune) string {
	if len(ranges) == 2 && ranges[0] == ranges[1] {
		return fmt.Sprintf("%q", ranges[0])
	}
	return fmt.Sprintf("%U", ranges)
}
