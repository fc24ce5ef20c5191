package hypergrep

import (
	"context"
	"fmt"
	"math"
)

type ctxState uint8

const (
	ctxReady ctxState = iota
	ctxScanning
	ctxClosedOut
)

// Context carries the search state of one stream over a compiled Program:
// the live threads, the pending candidates and the stream cursor. A Context
// belongs to a single goroutine; create one per concurrent stream.
type Context struct {
	handle *Handle
	prog   *Program
	opts   ContextOptions
	vm     *vm

	state ctxState
	// next is the stream offset just past the last searched byte
	next uint64

	acc  HitCollector
	hits int64
}

// NewContext returns a Context ready to search a stream with prog
func NewContext(prog *Program, opts ContextOptions) (*Context, error) {
	if err := prog.check(); err != nil {
		return nil, err
	}
	if !prog.compiled {
		return nil, fmt.Errorf("program not compiled: %w", ErrInvalidState)
	}

	var c = &Context{
		handle: NewHandle(acquireHandle()),
		prog:   prog,
		opts:   opts,
	}
	c.vm = newVM(prog, c.report)
	if opts.TraceBegin < opts.TraceEnd {
		c.vm.trace = c.traceStep
	}
	instrumentation().activeContexts.Add(context.Background(), 1)

	return c, nil
}

// Search continues the stream with buf, whose first byte is at offset.
// Matches may begin anywhere; matches still open at the end of buf stay
// pending until later data or CloseOut decides them.
func (c *Context) Search(buf []byte, offset uint64, acc HitCollector) error {
	return c.scan(buf, offset, acc, false)
}

// StartsWith continues the stream with buf like Search, but new matches may
// only begin at buf[0]. Threads from earlier buffers carry on.
func (c *Context) StartsWith(buf []byte, offset uint64, acc HitCollector) error {
	return c.scan(buf, offset, acc, true)
}

// CloseOut ends the stream and reports every pending match. The Context
// refuses further data until Reset.
func (c *Context) CloseOut(acc HitCollector) error {
	if err := c.check(); err != nil {
		return err
	}
	if err := checkCollector(acc); err != nil {
		return err
	}
	if c.state == ctxClosedOut {
		return nil
	}

	c.acc = acc
	c.vm.closeOut()
	c.acc = nil
	c.state = ctxClosedOut
	c.flushHits()

	return nil
}

// Reset discards all stream state so the Context can search a new stream
func (c *Context) Reset() error {
	if err := c.check(); err != nil {
		return err
	}
	c.reset()
	return nil
}

// SearchBuffer searches buf as a complete stream starting at offset 0 and
// leaves the Context reset
func (c *Context) SearchBuffer(buf []byte, acc HitCollector) error {
	return c.searchWhole(buf, acc, false)
}

// SearchBufferStartsWith searches buf as a complete stream in which matches
// may only begin at offset 0, and leaves the Context reset
func (c *Context) SearchBufferStartsWith(buf []byte, acc HitCollector) error {
	return c.searchWhole(buf, acc, true)
}

// Close releases the Context; it is idempotent
func (c *Context) Close() error {
	if c == nil {
		return nil
	}
	if c.handle.Close() {
		c.vm = nil
		instrumentation().activeContexts.Add(context.Background(), -1)
	}
	return nil
}

func (c *Context) check() error {
	if c == nil {
		return argError("nil context")
	}
	if !c.handle.IsOpen() {
		return closedError("context")
	}
	if !c.prog.handle.IsOpen() {
		return closedError("program")
	}
	return nil
}

func (c *Context) scan(buf []byte, offset uint64, acc HitCollector, anchored bool) error {
	if err := c.check(); err != nil {
		return err
	}
	if err := checkCollector(acc); err != nil {
		return err
	}
	switch {
	case c.state == ctxClosedOut:
		return fmt.Errorf("stream closed out, reset required: %w", ErrInvalidState)
	case c.state == ctxScanning && offset < c.next:
		return argError("offset %d precedes stream position %d", offset, c.next)
	case offset > math.MaxUint64-uint64(len(buf)):
		return argError("buffer of %d bytes at offset %d overflows the stream", len(buf), offset)
	}

	c.state = ctxScanning
	c.acc = acc
	c.vm.run(buf, offset, anchored)
	c.acc = nil
	c.next = offset + uint64(len(buf))

	instrumentation().scannedBytes.Add(context.Background(), int64(len(buf)))
	c.flushHits()

	return nil
}

func (c *Context) searchWhole(buf []byte, acc HitCollector, anchored bool) error {
	if err := c.check(); err != nil {
		return err
	}
	if err := checkCollector(acc); err != nil {
		return err
	}

	c.reset()
	if c.opts.Prefilter {
		if f := c.prog.prefilter(); f != nil && !f.mayMatch(buf) {
			instrumentation().skippedBuffers.Add(context.Background(), 1)
			return nil
		}
	}

	c.acc = acc
	c.vm.run(buf, 0, anchored)
	c.vm.closeOut()
	c.acc = nil
	c.reset()

	instrumentation().scannedBytes.Add(context.Background(), int64(len(buf)))
	c.flushHits()

	return nil
}

func (c *Context) reset() {
	c.vm.reset()
	c.state = ctxReady
	c.next = 0
}

func (c *Context) report(label uint32, cand candidate) {
	var e = &c.prog.entries[label]
	c.acc.Collect(Hit{
		Start:        cand.start,
		End:          cand.end,
		KeywordIndex: e.key,
		Pattern:      e.pattern,
		EncChain:     e.encoding,
	})
	c.hits++
}

func (c *Context) flushHits() {
	if c.hits == 0 {
		return
	}
	instrumentation().hits.Add(context.Background(), c.hits)
	c.hits = 0
}

func (c *Context) traceStep(pos uint64, b byte, threads int) {
	if !c.opts.tracing(pos) {
		return
	}
	logger().Debug("search step",
		"offset", pos,
		"byte", fmt.Sprintf("0x%02X", b),
		"threads", threads,
		"pending", len(c.vm.active))
}

