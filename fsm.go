package hypergrep

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// PatternEntry describes one keyword for Fsm.AddPatterns and the engines:
// the pattern text, the encodings to search it in and its options
type PatternEntry struct {
	Pattern   string   `json:"pattern"`
	Encodings []string `json:"encodings"`
	Options   KeyOpts  `json:"options"`
}

// Fsm accumulates the automata of (pattern, encoding) entries for exactly
// one Program. Entries are appended and never removed, except when a failed
// AddPatterns batch rolls back its own additions.
type Fsm struct {
	handle *Handle
	prog   *Program
	frags  []fragment
}

// NewFsm returns an empty Fsm sized for about capacityHint entries
func NewFsm(capacityHint int) (*Fsm, error) {
	if capacityHint < 0 {
		return nil, argError("negative capacity hint %d", capacityHint)
	}
	return &Fsm{
		handle: NewHandle(acquireHandle()),
		frags:  make([]fragment, 0, capacityHint),
	}, nil
}

// Count returns the number of entries added so far
func (f *Fsm) Count() (int, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	return len(f.frags), nil
}

// AddPattern registers the parsed pattern in the given encoding under
// keywordIndex and returns the slot index of the new entry
func (f *Fsm) AddPattern(prog *Program, pat *Pattern, encoding string, keywordIndex uint64, sink *ErrorSink) (int, error) {
	if err := f.checkAdd(prog, pat, sink); err != nil {
		return -1, err
	}
	if !pat.Parsed() {
		return -1, fmt.Errorf("pattern has not been parsed: %w", ErrInvalidState)
	}
	enc, err := lookupEncoder(encoding)
	if err != nil {
		sink.record(err)
		return -1, err
	}

	idx, err := f.add(prog, pat, enc, keywordIndex)
	if err != nil {
		sink.record(err)
		return -1, err
	}

	return idx, nil
}

// AddPatterns parses every entry with pat and registers it once per listed
// encoding, keyed by the entry's position in entries. Either every
// registration succeeds or none is kept.
func (f *Fsm) AddPatterns(prog *Program, pat *Pattern, entries []PatternEntry, sink *ErrorSink) error {
	if err := f.checkAdd(prog, pat, sink); err != nil {
		return err
	}
	if len(entries) == 0 {
		return argError("no pattern entries")
	}

	var encoders = make([][]encoder, len(entries))
	for i, e := range entries {
		if len(e.Encodings) == 0 {
			var err = argError("entry %d (%q) lists no encodings", i, e.Pattern)
			sink.record(err)
			return err
		}
		for _, name := range e.Encodings {
			enc, err := lookupEncoder(name)
			if err != nil {
				sink.record(err)
				return err
			}
			encoders[i] = append(encoders[i], enc)
		}
	}

	var (
		mark  = len(f.frags)
		bound = f.prog != nil
	)
	for i, e := range entries {
		var err = pat.Parse(e.Pattern, e.Options, sink)
		if err == nil {
			for _, enc := range encoders[i] {
				if _, err = f.add(prog, pat, enc, uint64(i)); err != nil {
					break
				}
			}
		}
		if err != nil {
			sink.record(err)
			f.rollback(mark, bound)
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}

	return nil
}

func (f *Fsm) checkAdd(prog *Program, pat *Pattern, sink *ErrorSink) error {
	if err := f.check(); err != nil {
		return err
	}
	if err := prog.check(); err != nil {
		return err
	}
	if err := pat.check(); err != nil {
		return err
	}
	if err := sink.check(); err != nil {
		return err
	}
	if prog.compiled {
		return fmt.Errorf("program already compiled: %w", ErrInvalidState)
	}
	if (f.prog != nil && f.prog != prog) || (prog.builder != nil && prog.builder != f) {
		return argError("automaton and program belong to different builds")
	}
	return nil
}

func (f *Fsm) add(prog *Program, pat *Pattern, enc encoder, keywordIndex uint64) (int, error) {
	frg, err := compileFragment(pat.re, enc, uint32(len(prog.entries)))
	if err != nil {
		return -1, fmt.Errorf("%q in %s: %w", pat.text, enc.name(), err)
	}
	return f.appendEntry(prog, frg, progEntry{
		key:      keywordIndex,
		pattern:  pat.text,
		encoding: enc.name(),
		opts:     pat.opts,
	}), nil
}

// appendEntry binds f and prog and appends an entry whose automaton was
// compiled for the next free label
func (f *Fsm) appendEntry(prog *Program, frg fragment, entry progEntry) int {
	f.prog, prog.builder = prog, f
	f.frags = append(f.frags, frg)
	prog.entries = append(prog.entries, entry)
	return len(prog.entries) - 1
}

func (f *Fsm) rollback(mark int, bound bool) {
	clear(f.frags[mark:])
	f.frags = f.frags[:mark]
	if f.prog != nil {
		f.prog.entries = f.prog.entries[:mark]
		if !bound {
			f.prog.builder, f.prog = nil, nil
		}
	}
}

// Close releases the Fsm; it is idempotent
func (f *Fsm) Close() error {
	if f == nil {
		return nil
	}
	if f.handle.Close() {
		f.frags = nil
	}
	return nil
}

func (f *Fsm) check() error {
	if f == nil {
		return argError("nil automaton")
	}
	if !f.handle.IsOpen() {
		return closedError("automaton")
	}
	return nil
}

// WriteGraphviz renders every entry automaton as one cluster of a dot graph
func (f *Fsm) WriteGraphviz(w io.Writer) error {
	if err := f.check(); err != nil {
		return err
	}
	if w == nil {
		return argError("nil writer")
	}

	var bw = bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph fsm {")
	fmt.Fprintln(bw, "\trankdir=LR;")
	fmt.Fprintln(bw, "\tstart [shape=point];")
	for i, frg := range f.frags {
		var entry progEntry
		if f.prog != nil && i < len(f.prog.entries) {
			entry = f.prog.entries[i]
		}
		fmt.Fprintf(bw, "\tsubgraph cluster_%d {\n", i)
		fmt.Fprintf(bw, "\t\tlabel=%s;\n", strconv.Quote(fmt.Sprintf("%d: %s (%s)", entry.key, entry.pattern, entry.encoding)))
		for pc, in := range frg.insts {
			fmt.Fprintf(bw, "\t\tn%d_%d [%s];\n", i, pc, nodeAttrs(in))
		}
		fmt.Fprintln(bw, "\t}")
		fmt.Fprintf(bw, "\tstart -> n%d_%d;\n", i, frg.start)
		for pc, in := range frg.insts {
			switch in.op {
			case opByte:
				fmt.Fprintf(bw, "\tn%d_%d -> n%d_%d [label=%s];\n", i, pc, i, in.x, strconv.Quote(byteLabel(in.lo, in.hi)))
			case opJump:
				fmt.Fprintf(bw, "\tn%d_%d -> n%d_%d;\n", i, pc, i, in.x)
			case opSplit:
				fmt.Fprintf(bw, "\tn%d_%d -> n%d_%d;\n", i, pc, i, in.x)
				fmt.Fprintf(bw, "\tn%d_%d -> n%d_%d [style=dashed];\n", i, pc, i, in.y)
			}
		}
	}
	fmt.Fprintln(bw, "}")

	return bw.Flush()
}

func nodeAttrs(in inst) string {
	switch in.op {
	case opMatch:
		return "shape=doublecircle,label=\"\""
	case opFail:
		return "shape=box,label=\"fail\""
	}
	return "shape=circle,label=\"\""
}

func byteLabel(lo, hi byte) string {
	if lo == hi {
		return printableByte(lo)
	}
	return printableByte(lo) + "-" + printableByte(hi)
}

func printableByte(b byte) string {
	if b > ' ' && b < 0x7F {
		return string(rune(b))
	}
	return fmt.Sprintf("0x%02X", b)
}
