package hypergrep

import "sync/atomic"

// handleSeq hands out process-wide unique resource identifiers
var handleSeq atomic.Uint64

func acquireHandle() uint64 {
	return handleSeq.Add(1)
}

// Handle guards a resource identifier that is open while non-zero. It moves
// from open to closed exactly once; every object in this package embeds one
// and checks it before touching its state.
type Handle struct {
	id atomic.Uint64
}

// NewHandle returns a Handle holding id. A zero id yields a closed handle.
func NewHandle(id uint64) *Handle {
	var h = &Handle{}
	h.id.Store(id)
	return h
}

// IsOpen reports whether the handle still holds its identifier
func (h *Handle) IsOpen() bool {
	return h != nil && h.id.Load() != 0
}

// Get returns the identifier, or ErrInvalidState once the handle is closed
func (h *Handle) Get() (uint64, error) {
	if !h.IsOpen() {
		return 0, closedError("handle")
	}
	return h.id.Load(), nil
}

// EnsureOpen returns ErrInvalidState if the handle is closed
func (h *Handle) EnsureOpen() error {
	if !h.IsOpen() {
		return closedError("handle")
	}
	return nil
}

// Close clears the identifier. It is idempotent and reports whether this
// call was the one that closed the handle.
func (h *Handle) Close() bool {
	if h == nil {
		return false
	}
	return h.id.Swap(0) != 0
}
