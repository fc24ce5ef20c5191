package hypergrep

import (
	"errors"
	"testing"
)

func Test_Handle(t *testing.T) {
	t.Parallel()

	var id = acquireHandle()
	var h = NewHandle(id)
	if !h.IsOpen() {
		t.Fatal("new handle is closed")
	}
	if got, err := h.Get(); err != nil || got != id {
		t.Errorf("got: %d, %v, want: %d", got, err, id)
	}
	if err := h.EnsureOpen(); err != nil {
		t.Errorf("got: %v, want: nil", err)
	}

	if !h.Close() {
		t.Error("first close not reported")
	}
	if h.Close() {
		t.Error("second close reported")
	}
	if _, err := h.Get(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("got: %v, want: %v", err, ErrInvalidState)
	}
	if err := h.EnsureOpen(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("got: %v, want: %v", err, ErrInvalidState)
	}

	var zero = NewHandle(0)
	if zero.IsOpen() {
		t.Error("zero handle is open")
	}
	var nilHandle *Handle
	if nilHandle.IsOpen() || nilHandle.Close() {
		t.Error("nil handle is open")
	}
}

func Test_AcquireHandleUnique(t *testing.T) {
	t.Parallel()

	var seen = make(map[uint64]struct{})
	for i := 0; i < 1000; i++ {
		var id = acquireHandle()
		if id == 0 {
			t.Fatal("acquired zero handle")
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("handle %d acquired twice", id)
		}
		seen[id] = struct{}{}
	}
}

func Test_ErrorSink(t *testing.T) {
	t.Parallel()

	var sink = NewErrorSink()
	var pat = NewPattern()
	defer pat.Close()

	if sink.Message() != "" {
		t.Errorf("got: %q, want empty message", sink.Message())
	}
	if err := pat.Parse("a(b", KeyOpts{}, sink); !errors.Is(err, ErrCompile) {
		t.Fatalf("got: %v, want: %v", err, ErrCompile)
	}
	if sink.Message() == "" {
		t.Error("failed parse left no diagnostic")
	}

	sink.Close()
	sink.Close()
	if err := pat.Parse("ab", KeyOpts{}, sink); !errors.Is(err, ErrInvalidState) {
		t.Errorf("got: %v, want: %v", err, ErrInvalidState)
	}
	if err := pat.Parse("ab", KeyOpts{}, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("got: %v, want: %v", err, ErrInvalidArgument)
	}
}
