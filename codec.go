package hypergrep

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/spaolacci/murmur3"
)

const (
	programMagic   = "HGP1"
	programVersion = uint16(1)

	flagDeterminize = uint16(1 << 0)

	optFixed           = byte(1 << 0)
	optCaseInsensitive = byte(1 << 1)
)

// encodeProgram serializes a compiled program: magic, version, flags, the
// entry table, the instructions and the seed byte set, followed by a
// murmur3 checksum of everything before it. Integers are little-endian or
// unsigned varints.
func encodeProgram(p *Program) []byte {
	var buf = make([]byte, 0, 64+len(p.insts)*4)
	buf = append(buf, programMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, programVersion)

	var flags uint16
	if p.opts.Determinize {
		flags |= flagDeterminize
	}
	buf = binary.LittleEndian.AppendUint16(buf, flags)

	buf = binary.AppendUvarint(buf, uint64(len(p.entries)))
	for _, e := range p.entries {
		buf = binary.AppendUvarint(buf, e.key)
		buf = binary.AppendUvarint(buf, uint64(e.start))
		var opts byte
		if e.opts.FixedString {
			opts |= optFixed
		}
		if e.opts.CaseInsensitive {
			opts |= optCaseInsensitive
		}
		buf = append(buf, opts)
		buf = appendString(buf, e.pattern)
		buf = appendString(buf, e.encoding)
	}

	buf = binary.AppendUvarint(buf, uint64(len(p.insts)))
	for _, in := range p.insts {
		buf = append(buf, byte(in.op))
		switch in.op {
		case opByte:
			buf = append(buf, in.lo, in.hi)
			buf = binary.AppendUvarint(buf, uint64(in.x))
		case opSplit:
			buf = binary.AppendUvarint(buf, uint64(in.x))
			buf = binary.AppendUvarint(buf, uint64(in.y))
		case opJump:
			buf = binary.AppendUvarint(buf, uint64(in.x))
		case opMatch:
			buf = binary.AppendUvarint(buf, uint64(in.label))
		}
	}

	var set [32]byte
	for b, ok := range p.first {
		if ok {
			set[b/8] |= 1 << (b % 8)
		}
	}
	buf = append(buf, set[:]...)

	return binary.LittleEndian.AppendUint32(buf, murmur3.Sum32(buf))
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// decodeProgram validates and reconstructs a serialized program, without
// its handle
func decodeProgram(buf []byte) (*Program, error) {
	if len(buf) < len(programMagic)+4+4 {
		return nil, fmt.Errorf("program of %d bytes is truncated: %w", len(buf), ErrSerialization)
	}
	if !bytes.HasPrefix(buf, []byte(programMagic)) {
		return nil, fmt.Errorf("bad program magic %q: %w", buf[:len(programMagic)], ErrSerialization)
	}
	var body, sum = buf[:len(buf)-4], binary.LittleEndian.Uint32(buf[len(buf)-4:])
	if murmur3.Sum32(body) != sum {
		return nil, fmt.Errorf("program checksum mismatch: %w", ErrSerialization)
	}

	var r = &programReader{buf: body, off: len(programMagic)}
	if v := r.u16(); v != programVersion {
		return nil, fmt.Errorf("unsupported program version %d: %w", v, ErrSerialization)
	}
	var p = &Program{}
	p.opts.Determinize = r.u16()&flagDeterminize != 0

	var n = r.count()
	p.entries = make([]progEntry, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		var e = progEntry{key: r.uvarint(), start: r.u32()}
		var opts = r.u8()
		e.opts = KeyOpts{FixedString: opts&optFixed != 0, CaseInsensitive: opts&optCaseInsensitive != 0}
		e.pattern = r.str()
		e.encoding = r.str()
		p.entries = append(p.entries, e)
	}

	var m = r.count()
	p.insts = make([]inst, 0, m)
	for i := 0; i < m && r.err == nil; i++ {
		var in = inst{op: opcode(r.u8())}
		switch in.op {
		case opByte:
			in.lo, in.hi = r.u8(), r.u8()
			in.x = r.u32()
		case opSplit:
			in.x, in.y = r.u32(), r.u32()
		case opJump:
			in.x = r.u32()
		case opMatch:
			in.label = r.u32()
		case opFail:
		default:
			r.fail(fmt.Errorf("unknown opcode %d", in.op))
		}
		p.insts = append(p.insts, in)
	}

	var set = r.next(32)
	if r.err == nil && r.off != len(body) {
		r.fail(fmt.Errorf("%d trailing bytes", len(body)-r.off))
	}
	if r.err != nil {
		return nil, fmt.Errorf("decoding program: %v: %w", r.err, ErrSerialization)
	}
	for b := range p.first {
		p.first[b] = set[b/8]&(1<<(b%8)) != 0
	}

	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("decoding program: %v: %w", err, ErrSerialization)
	}

	return p, nil
}

// validate checks the structural invariants Compile establishes
func (p *Program) validate() error {
	if len(p.entries) == 0 {
		return fmt.Errorf("no entries")
	}
	if len(p.insts) < len(p.entries) {
		return fmt.Errorf("%d instructions for %d entries", len(p.insts), len(p.entries))
	}
	for i, e := range p.entries {
		if _, err := lookupEncoder(e.encoding); err != nil {
			return fmt.Errorf("entry %d: %v", i, err)
		}
		if int(e.start) >= len(p.insts) {
			return fmt.Errorf("entry %d starts at invalid instruction %d", i, e.start)
		}
	}
	for pc, in := range startBlock(p.entries) {
		if p.insts[pc] != in {
			return fmt.Errorf("corrupt start block at %d", pc)
		}
	}
	owner, err := ownership(p.insts, p.entries)
	if err != nil {
		return err
	}
	p.owner = owner
	return nil
}

type programReader struct {
	buf []byte
	off int
	err error
}

func (r *programReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *programReader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.fail(fmt.Errorf("truncated at offset %d", r.off))
		return nil
	}
	var b = r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *programReader) u8() byte {
	if b := r.next(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *programReader) u16() uint16 {
	if b := r.next(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *programReader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		r.fail(fmt.Errorf("bad varint at offset %d", r.off))
		return 0
	}
	r.off += n
	return v
}

func (r *programReader) u32() uint32 {
	var v = r.uvarint()
	if v > 1<<32-1 {
		r.fail(fmt.Errorf("value %d out of range at offset %d", v, r.off))
		return 0
	}
	return uint32(v)
}

// count reads a length that must be satisfiable by the remaining input,
// which bounds allocations for hostile buffers
func (r *programReader) count() int {
	var v = r.uvarint()
	if v > uint64(len(r.buf)-r.off) {
		r.fail(fmt.Errorf("count %d exceeds remaining input", v))
		return 0
	}
	return int(v)
}

func (r *programReader) str() string {
	return string(r.next(r.count()))
}
