package hypergrep

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultBlockSize is the block size used by SearchReader callers that have
// no better figure
const DefaultBlockSize = 8 << 20

type readBlock struct {
	buf []byte
	n   int
	err error
}

// SearchReader resets c and searches everything r yields as one stream,
// blockSize bytes at a time, then closes the stream out. The next block is
// read in the background while the current one is searched. Cancelling ctx
// stops the search between blocks. It returns the number of bytes searched.
func SearchReader(ctx context.Context, c *Context, r io.Reader, blockSize int, acc HitCollector) (uint64, error) {
	if r == nil {
		return 0, argError("nil reader")
	}
	if blockSize <= 0 {
		return 0, argError("block size %d", blockSize)
	}
	if err := checkCollector(acc); err != nil {
		return 0, err
	}
	if err := c.Reset(); err != nil {
		return 0, err
	}

	ctx, span := tracer().Start(ctx, "hypergrep.SearchReader")
	defer span.End()

	var (
		bufs    = [2][]byte{make([]byte, blockSize), make([]byte, blockSize)}
		cur     = 0
		offset  uint64
		pending = readAhead(r, bufs[cur])
	)
	for {
		var blk readBlock
		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, "cancelled")
			return offset, ctx.Err()
		case blk = <-pending:
		}

		var last = blk.err != nil
		if last && !errors.Is(blk.err, io.EOF) && !errors.Is(blk.err, io.ErrUnexpectedEOF) {
			span.RecordError(blk.err)
			span.SetStatus(codes.Error, "read failed")
			return offset, fmt.Errorf("reading block at offset %d: %w", offset, blk.err)
		}
		if !last {
			cur ^= 1
			pending = readAhead(r, bufs[cur])
		}

		if blk.n > 0 {
			if err := c.Search(blk.buf[:blk.n], offset, acc); err != nil {
				span.RecordError(err)
				return offset, err
			}
			offset += uint64(blk.n)
		}
		if last {
			break
		}
	}

	if err := c.CloseOut(acc); err != nil {
		return offset, err
	}
	span.SetAttributes(attribute.Int64("hypergrep.bytes", int64(offset)))

	return offset, nil
}

// readAhead fills buf in the background
func readAhead(r io.Reader, buf []byte) <-chan readBlock {
	var ch = make(chan readBlock, 1)
	go func() {
		n, err := io.ReadFull(r, buf)
		ch <- readBlock{buf: buf, n: n, err: err}
	}()
	return ch
}
