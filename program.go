package hypergrep

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// progEntry is the table row of one (pattern, encoding) registration; its
// position in the table is the label its automaton reports
type progEntry struct {
	key      uint64
	pattern  string
	encoding string
	opts     KeyOpts
	start    uint32
}

// Program is the compiled, immutable automaton searched by Contexts. Its
// entry table is filled while patterns are added to the Fsm that builds it,
// and Compile freezes it. A compiled Program may be shared by any number of
// Contexts.
type Program struct {
	handle  *Handle
	builder *Fsm
	entries []progEntry

	compiled bool
	opts     ProgramOptions
	insts    []inst
	owner    []int32
	first    [256]bool
	encoded  []byte

	filterOnce sync.Once
	filter     prefilter
}

// NewProgram returns an empty Program sized for about capacityHint entries
func NewProgram(capacityHint int) (*Program, error) {
	if capacityHint < 0 {
		return nil, argError("negative capacity hint %d", capacityHint)
	}
	return &Program{
		handle:  NewHandle(acquireHandle()),
		entries: make([]progEntry, 0, capacityHint),
	}, nil
}

// ReadProgram reconstructs a compiled Program from the output of Write
func ReadProgram(buf []byte) (*Program, error) {
	p, err := decodeProgram(buf)
	if err != nil {
		return nil, err
	}
	p.handle = NewHandle(acquireHandle())
	p.encoded = bytes.Clone(buf)
	p.compiled = true
	return p, nil
}

// Compile assembles the automata accumulated in fsm into the Program
func (p *Program) Compile(fsm *Fsm, opts ProgramOptions) error {
	if err := p.check(); err != nil {
		return err
	}
	if err := fsm.check(); err != nil {
		return err
	}
	if p.compiled {
		return fmt.Errorf("program already compiled: %w", ErrInvalidState)
	}
	if len(fsm.frags) == 0 {
		return fmt.Errorf("no patterns to compile: %w", ErrCompile)
	}
	if fsm.prog != p {
		return argError("automaton was built for a different program")
	}

	_, span := tracer().Start(context.Background(), "hypergrep.Compile")
	defer span.End()
	span.SetAttributes(attribute.Int("hypergrep.entries", len(p.entries)))

	var began = time.Now()

	p.opts = opts
	p.insts = assemble(fsm.frags, p.entries)
	owner, err := ownership(p.insts, p.entries)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("assembling program: %v: %w", err, ErrCompile)
	}
	p.owner = owner
	p.first = seedBytes(p.insts, opts.Determinize)
	p.encoded = encodeProgram(p)
	p.compiled = true

	var elapsed = time.Since(began)
	var tel = instrumentation()
	tel.compiles.Add(context.Background(), 1)
	tel.compileSeconds.Record(context.Background(), elapsed.Seconds(),
		metric.WithAttributes(attribute.Bool("determinize", opts.Determinize)))
	logger().Debug("program compiled",
		"entries", len(p.entries),
		"instructions", len(p.insts),
		"size", len(p.encoded),
		"determinize", opts.Determinize,
		"elapsed", elapsed)

	return nil
}

// Count returns the number of (pattern, encoding) entries in the Program
func (p *Program) Count() (int, error) {
	if err := p.check(); err != nil {
		return 0, err
	}
	return len(p.entries), nil
}

// Size returns the serialized length of the Program, 0 until it is compiled
func (p *Program) Size() (int, error) {
	if err := p.check(); err != nil {
		return 0, err
	}
	return len(p.encoded), nil
}

// Write returns the serialized form of a compiled Program
func (p *Program) Write() ([]byte, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	if !p.compiled {
		return nil, fmt.Errorf("program not compiled: %w", ErrInvalidState)
	}
	return bytes.Clone(p.encoded), nil
}

// Close releases the Program. Contexts created from it fail with
// ErrInvalidState from then on.
func (p *Program) Close() error {
	if p == nil {
		return nil
	}
	if p.handle.Close() && p.filter != nil {
		p.filter.close()
	}
	return nil
}

func (p *Program) check() error {
	if p == nil {
		return argError("nil program")
	}
	if !p.handle.IsOpen() {
		return closedError("program")
	}
	return nil
}

// prefilter returns the buffer prefilter of the Program, or nil when no
// backend is available or some entry cannot be expressed by it
func (p *Program) prefilter() prefilter {
	p.filterOnce.Do(func() {
		f, err := newPrefilter(p.entries)
		if err != nil {
			logger().Debug("prefilter unavailable", "err", err)
			return
		}
		p.filter = f
	})
	return p.filter
}

// assemble lays out a start block that forks into every entry in
// registration order, followed by the relocated entry automata
func assemble(frags []fragment, entries []progEntry) []inst {
	var (
		n     = len(frags)
		bases = make([]uint32, n)
		total = n
	)
	for i, frg := range frags {
		bases[i] = uint32(total)
		entries[i].start = bases[i] + frg.start
		total += len(frg.insts)
	}

	var insts = make([]inst, 0, total)
	insts = append(insts, startBlock(entries)...)
	for i, frg := range frags {
		for _, in := range frg.insts {
			switch in.op {
			case opByte, opJump:
				in.x += bases[i]
			case opSplit:
				in.x += bases[i]
				in.y += bases[i]
			}
			insts = append(insts, in)
		}
	}

	return insts
}

func startBlock(entries []progEntry) []inst {
	var block = make([]inst, len(entries))
	for i, e := range entries {
		if i == len(entries)-1 {
			block[i] = inst{op: opJump, x: e.start}
		} else {
			block[i] = inst{op: opSplit, x: e.start, y: uint32(i + 1)}
		}
	}
	return block
}

// ownership labels every instruction with the entry whose automaton it
// belongs to, -1 for the start block, and checks that automata are disjoint
// and report their own label
func ownership(insts []inst, entries []progEntry) ([]int32, error) {
	var owner = make([]int32, len(insts))
	for pc := range owner {
		owner[pc] = -1
	}
	var (
		seen  = make([]bool, len(insts))
		stack []uint32
	)
	for i, e := range entries {
		stack = append(stack[:0], e.start)
		for len(stack) > 0 {
			var pc = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if int(pc) < len(entries) || int(pc) >= len(insts) {
				return nil, fmt.Errorf("entry %d reaches invalid instruction %d", i, pc)
			}
			if seen[pc] {
				if owner[pc] != int32(i) {
					return nil, fmt.Errorf("entries %d and %d share instruction %d", owner[pc], i, pc)
				}
				continue
			}
			seen[pc], owner[pc] = true, int32(i)

			var in = insts[pc]
			switch in.op {
			case opByte, opJump:
				stack = append(stack, in.x)
			case opSplit:
				stack = append(stack, in.x, in.y)
			case opMatch:
				if in.label != uint32(i) {
					return nil, fmt.Errorf("entry %d reports label %d", i, in.label)
				}
			case opFail:
			default:
				return nil, fmt.Errorf("unknown opcode %d at %d", in.op, pc)
			}
		}
	}
	return owner, nil
}

// seedBytes returns the bytes on which a new match may begin. Without
// determinization every byte seeds.
func seedBytes(insts []inst, determinize bool) [256]bool {
	var first [256]bool
	if !determinize {
		for b := range first {
			first[b] = true
		}
		return first
	}

	var (
		seen  = make([]bool, len(insts))
		stack = []uint32{0}
	)
	for len(stack) > 0 {
		var pc = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[pc] {
			continue
		}
		seen[pc] = true

		var in = insts[pc]
		switch in.op {
		case opByte:
			for b := int(in.lo); b <= int(in.hi); b++ {
				first[b] = true
			}
		case opJump:
			stack = append(stack, in.x)
		case opSplit:
			stack = append(stack, in.x, in.y)
		}
	}
	return first
}
