package hypergrep

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// SimpleEngine is a basic Engine implementation with a single Context protected by a mutex
type SimpleEngine struct {
	prog   *Program
	ctx    *Context
	opts   ContextOptions
	loaded uint32
	mu     sync.Mutex
}

// NewSimpleEngine returns a SimpleEngine instance
func NewSimpleEngine() *SimpleEngine {
	return NewSimpleEngineWithOptions(ContextOptions{})
}

// NewSimpleEngineWithOptions returns a SimpleEngine whose Context uses opts
func NewSimpleEngineWithOptions(opts ContextOptions) *SimpleEngine {
	return &SimpleEngine{
		opts: opts,
		mu:   sync.Mutex{},
	}
}

// Update rebuilds the program, returning an optional error
func (se *SimpleEngine) Update(entries []PatternEntry) error {
	if len(entries) == 0 {
		return ErrNoPatterns
	}

	// compile the entries, returning an error on the first one that fails
	var newProg, compileErr = compileEntries(entries, defaultProgramOptions)
	if compileErr != nil {
		return fmt.Errorf("error updating pattern database: %w", compileErr)
	}

	// allocate the search context for the new program
	var newCtx, ctxErr = NewContext(newProg, se.opts)
	if ctxErr != nil {
		newProg.Close()
		return fmt.Errorf("error updating pattern database: %w", ctxErr)
	}

	se.mu.Lock()
	if se.isLoaded() {
		se.ctx.Close()
		se.prog.Close()
	}
	se.prog = newProg
	se.ctx = newCtx
	se.setLoaded()
	se.mu.Unlock()

	return nil
}

// Match takes a vectored byte corpus and returns the hits of every block and an optional error
func (se *SimpleEngine) Match(corpus [][]byte) ([][]Hit, error) {
	// if the program has not yet been loaded, return an error
	if !se.isLoaded() {
		return nil, ErrNotLoaded
	}

	// the context carries per-stream state, so searches are serialized
	se.mu.Lock()
	defer se.mu.Unlock()

	return searchBlocks(se.ctx, corpus)
}

// MatchStrings takes a vectored string corpus and returns the hits of every block and an optional error
func (se *SimpleEngine) MatchStrings(corpus []string) ([][]Hit, error) {
	return se.Match(stringsToBytes(corpus))
}

// Close releases the loaded program
func (se *SimpleEngine) Close() error {
	se.mu.Lock()
	defer se.mu.Unlock()

	if se.isLoaded() {
		se.ctx.Close()
		se.prog.Close()
		atomic.StoreUint32(&se.loaded, 0)
	}

	return nil
}

func (se *SimpleEngine) isLoaded() bool {
	return atomic.LoadUint32(&se.loaded) == 1
}

func (se *SimpleEngine) setLoaded() {
	atomic.StoreUint32(&se.loaded, 1)
}
