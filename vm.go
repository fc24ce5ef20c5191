package hypergrep

import (
	"math"
	"slices"
)

// noStart marks an unused second start
const noStart = math.MaxUint64

// thread is a state of an entry automaton with the two earliest starts of
// the matches in progress that reached it
type thread struct {
	pc    uint32
	start uint64
	next  uint64
}

// mergeStarts keeps the two smallest distinct starts of both pairs
func mergeStarts(s, n, t, m uint64) (uint64, uint64) {
	for _, x := range [2]uint64{t, m} {
		switch {
		case x == s || x == n:
		case x < s:
			s, n = x, s
		case x < n:
			n = x
		}
	}
	return s, n
}

// threadQueue is a sparse set of threads keyed by pc that remembers
// insertion order, which is thread priority
type threadQueue struct {
	sparse []uint32
	dense  []thread
}

func newThreadQueue(size int) *threadQueue {
	return &threadQueue{
		sparse: make([]uint32, size),
		dense:  make([]thread, 0, size),
	}
}

func (q *threadQueue) contains(pc uint32) bool {
	var i = q.sparse[pc]
	return int(i) < len(q.dense) && q.dense[i].pc == pc
}

func (q *threadQueue) add(t thread) {
	q.sparse[t.pc] = uint32(len(q.dense))
	q.dense = append(q.dense, t)
}

func (q *threadQueue) clear() {
	q.dense = q.dense[:0]
}

// candidate is a match waiting for every thread that could still produce an
// earlier or longer match of the same entry to die
type candidate struct {
	start, end uint64
}

type entryState struct {
	// cands is ordered by start; each start keeps its longest end
	cands []candidate
	// lastEnd is the end of the last reported hit; matches starting before
	// it overlap that hit and are dropped
	lastEnd uint64
	active  bool
}

// vm runs all entry automata of a Program in lockstep over a byte stream,
// one thread per reachable state. Threads that reach the same state are
// merged, keeping the two earliest starts. Each entry reports leftmost-longest,
// non-overlapping, non-empty matches.
type vm struct {
	prog   *Program
	cur    *threadQueue
	next   *threadQueue
	stack  []uint32
	states []entryState
	// active lists the labels with pending candidates in ascending order
	active []uint32

	emit func(label uint32, c candidate)
	// trace, when set, observes each step that has live threads
	trace func(pos uint64, b byte, threads int)
}

func newVM(prog *Program, emit func(uint32, candidate)) *vm {
	return &vm{
		prog:   prog,
		cur:    newThreadQueue(len(prog.insts)),
		next:   newThreadQueue(len(prog.insts)),
		states: make([]entryState, len(prog.entries)),
		emit:   emit,
	}
}

func (v *vm) reset() {
	v.cur.clear()
	v.next.clear()
	clear(v.states)
	v.active = v.active[:0]
}

// run advances the automata over buf, whose first byte sits at offset in
// the stream. New matches may begin at every byte, or only at buf[0] when
// anchored is set.
func (v *vm) run(buf []byte, offset uint64, anchored bool) {
	var insts = v.prog.insts
	for i, b := range buf {
		var pos = offset + uint64(i)
		if (!anchored || i == 0) && v.prog.first[b] {
			v.addThread(v.cur, 0, pos, noStart, pos)
		}
		if len(v.cur.dense) == 0 {
			continue
		}
		if v.trace != nil {
			v.trace(pos, b, len(v.cur.dense))
		}

		v.next.clear()
		for _, t := range v.cur.dense {
			var in = &insts[t.pc]
			if in.op == opByte && in.lo <= b && b <= in.hi {
				v.addThread(v.next, in.x, t.start, t.next, pos+1)
			}
		}
		v.cur, v.next = v.next, v.cur

		if len(v.active) > 0 {
			v.finalize(false)
		}
	}
}

// closeOut ends the stream: every pending candidate becomes final
func (v *vm) closeOut() {
	v.finalize(true)
	v.cur.clear()
}

// addThread adds the thread at pc and everything reachable from it without
// consuming input, in priority order, recording the matches it reaches.
// A state already queued takes the starts it lacks and passes them on.
func (v *vm) addThread(q *threadQueue, pc uint32, start, next, at uint64) {
	var insts = v.prog.insts
	v.stack = append(v.stack[:0], pc)
	for len(v.stack) > 0 {
		pc = v.stack[len(v.stack)-1]
		v.stack = v.stack[:len(v.stack)-1]
		if q.contains(pc) {
			var t = &q.dense[q.sparse[pc]]
			s, n := mergeStarts(t.start, t.next, start, next)
			if s == t.start && n == t.next {
				continue
			}
			t.start, t.next = s, n
		} else {
			q.add(thread{pc: pc, start: start, next: next})
		}

		var in = &insts[pc]
		switch in.op {
		case opJump:
			v.stack = append(v.stack, in.x)
		case opSplit:
			v.stack = append(v.stack, in.y, in.x)
		case opMatch:
			v.record(in.label, start, at)
			if next != noStart {
				v.record(in.label, next, at)
			}
		}
	}
}

func (v *vm) record(label uint32, start, end uint64) {
	if end <= start {
		return
	}
	var st = &v.states[label]
	if start < st.lastEnd {
		return
	}

	i, found := slices.BinarySearchFunc(st.cands, start, func(c candidate, s uint64) int {
		switch {
		case c.start < s:
			return -1
		case c.start > s:
			return 1
		}
		return 0
	})
	if found {
		st.cands[i].end = max(st.cands[i].end, end)
		return
	}
	st.cands = slices.Insert(st.cands, i, candidate{start: start, end: end})

	if !st.active {
		st.active = true
		j, _ := slices.BinarySearch(v.active, label)
		v.active = slices.Insert(v.active, j, label)
	}
}

// finalize reports every candidate that can no longer be improved upon, in
// label order. When closing, no thread survives and all candidates are final.
func (v *vm) finalize(closing bool) {
	var (
		kept   = v.active[:0]
		killed = false
	)
	for _, label := range v.active {
		var st = &v.states[label]
		for len(st.cands) > 0 {
			var c = st.cands[0]
			if !closing && v.earliestLive(label, st.lastEnd) <= c.start {
				break
			}
			v.emit(label, c)
			st.lastEnd = c.end

			var drop = 1
			for drop < len(st.cands) && st.cands[drop].start < c.end {
				drop++
			}
			st.cands = append(st.cands[:0], st.cands[drop:]...)
			killed = true
		}
		if len(st.cands) == 0 {
			st.active = false
		} else {
			kept = append(kept, label)
		}
	}
	v.active = kept

	if killed && !closing {
		v.prune()
	}
}

// earliestLive returns the smallest start, not below floor, of the threads
// of label still waiting for input
func (v *vm) earliestLive(label uint32, floor uint64) uint64 {
	var (
		earliest = uint64(math.MaxUint64)
		owner    = v.prog.owner
		insts    = v.prog.insts
	)
	for _, t := range v.cur.dense {
		if owner[t.pc] != int32(label) || insts[t.pc].op != opByte {
			continue
		}
		var s = t.start
		if s < floor {
			s = t.next
		}
		if s >= floor && s < earliest {
			earliest = s
		}
	}
	return earliest
}

// prune drops the threads whose matches would overlap an already reported
// hit of their entry. A thread whose second start clears the hit continues
// from that start.
func (v *vm) prune() {
	var (
		q     = v.cur
		owner = v.prog.owner
		n     = 0
	)
	for _, t := range q.dense {
		if o := owner[t.pc]; o >= 0 && t.start < v.states[o].lastEnd {
			if t.next == noStart || t.next < v.states[o].lastEnd {
				continue
			}
			t.start, t.next = t.next, noStart
		}
		q.sparse[t.pc] = uint32(n)
		q.dense[n] = t
		n++
	}
	q.dense = q.dense[:n]
}
