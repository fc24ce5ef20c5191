package hypergrep

import (
	"fmt"
	"sync"
)

// PooledEngine is a concurrent Engine implementation
// backed by a pool of goroutines with individual search contexts
type PooledEngine struct {
	requestChan chan concurrentScanRequest
	stopChan    chan struct{}
	stopped     sync.WaitGroup
	workers     []*poolWorker
	opts        ContextOptions
	prog        *Program
	loaded      bool
	started     bool
	mu          sync.RWMutex
}

type concurrentScanRequest struct {
	blocks       [][]byte
	responseChan chan concurrentScanResponse
}

type concurrentScanResponse struct {
	hits [][]Hit
	err  error
}

// NewPooledEngine returns a PooledEngine
func NewPooledEngine(numWorkers int) *PooledEngine {
	return NewPooledEngineWithOptions(numWorkers, ContextOptions{})
}

// NewPooledEngineWithOptions returns a PooledEngine whose workers search with opts
func NewPooledEngineWithOptions(numWorkers int, opts ContextOptions) *PooledEngine {
	return &PooledEngine{
		requestChan: make(chan concurrentScanRequest),
		workers:     make([]*poolWorker, max(numWorkers, 1)),
		opts:        opts,
		loaded:      false,
		started:     false,
		mu:          sync.RWMutex{},
	}
}

// Update re-initializes the program used by the
// workers, returning an error if any entry fails to compile
func (pe *PooledEngine) Update(entries []PatternEntry) error {
	if len(entries) == 0 {
		return ErrNoPatterns
	}

	// do not update the program if the workers are not running - that would block
	var started bool
	pe.mu.RLock()
	started = pe.started
	pe.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}

	// compile the entries, returning an error on the first one that fails
	var prog, compileErr = compileEntries(entries, defaultProgramOptions)
	if compileErr != nil {
		return fmt.Errorf("error updating pattern database: %w", compileErr)
	}

	// hand the new program to every worker before closing the old one, so
	// that no in-flight scan sees its program closed
	pe.mu.Lock()
	defer pe.mu.Unlock()
	if !pe.started {
		prog.Close()
		return ErrNotStarted
	}
	for _, worker := range pe.workers {
		worker.refreshChan <- prog
	}
	if pe.loaded {
		pe.prog.Close()
	}
	pe.prog = prog
	pe.loaded = true

	return nil
}

// Match takes a vectored byte corpus and returns the hits of
// every block and an optional error
func (pe *PooledEngine) Match(corpus [][]byte) ([][]Hit, error) {
	// if the program has not yet been loaded or started, return an error
	pe.mu.RLock()
	var loaded, started = pe.loaded, pe.started
	pe.mu.RUnlock()
	switch {
	case !loaded:
		return nil, ErrNotLoaded
	case !started:
		return nil, ErrNotStarted
	}

	// attempt to send the scan request in non-blocking
	// mode, returning an error if all workers are busy
	// the response is read from a per-request channel
	var request = concurrentScanRequest{
		blocks:       corpus,
		responseChan: make(chan concurrentScanResponse),
	}
	var response concurrentScanResponse
	select {
	case pe.requestChan <- request: // request sent, must wait for response
		response = <-request.responseChan
	default:
		return nil, ErrBusy
	}
	if response.err != nil {
		return nil, response.err
	}

	return response.hits, nil
}

// MatchStrings takes a vectored string corpus and returns the hits of
// every block and an optional error
func (pe *PooledEngine) MatchStrings(corpus []string) ([][]Hit, error) {
	return pe.Match(stringsToBytes(corpus))
}

// Start starts the workers backing the concurrent engine
func (pe *PooledEngine) Start() error {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	if pe.started {
		return ErrStarted
	}

	pe.stopChan = make(chan struct{})
	pe.stopped.Add(len(pe.workers))
	for idx := range pe.workers {
		pe.workers[idx] = newPoolWorker(pe.requestChan, pe.stopChan, &pe.stopped, pe.opts)
		go pe.workers[idx].start()
	}

	pe.started = true

	return nil
}

// Stop stops the workers backing the concurrent engine
func (pe *PooledEngine) Stop() error {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	if !pe.started {
		return ErrNotStarted
	}

	// close stopChan, signaling workers to stop, and wait for in-flight
	// scans to finish before the program goes away
	close(pe.stopChan)
	pe.stopped.Wait()

	// close the program if it is loaded
	if pe.loaded {
		pe.prog.Close()
		pe.loaded = false
	}

	pe.started = false

	return nil
}
