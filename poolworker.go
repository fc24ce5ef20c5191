package hypergrep

import "sync"

// poolWorker is a matching worker owning one search Context
type poolWorker struct {
	stopChan    chan struct{}
	requestChan chan concurrentScanRequest
	refreshChan chan *Program
	stopped     *sync.WaitGroup
	opts        ContextOptions
	ctx         *Context
	err         error
}

// newPoolWorker returns a worker
func newPoolWorker(requestChan chan concurrentScanRequest, stopChan chan struct{}, stopped *sync.WaitGroup, opts ContextOptions) *poolWorker {
	return &poolWorker{
		requestChan: requestChan,
		stopChan:    stopChan,
		refreshChan: make(chan *Program),
		stopped:     stopped,
		opts:        opts,
		err:         ErrWorkerUninitialized,
	}
}

func (pw *poolWorker) start() {
	for {
		select {
		case request := <-pw.requestChan:
			pw.onScan(request)
		case newProg := <-pw.refreshChan:
			pw.onUpdateProgram(newProg)
		case <-pw.stopChan:
			pw.onStop()
			return
		}
	}
}

func (pw *poolWorker) onUpdateProgram(newProg *Program) {
	if pw.ctx != nil {
		pw.ctx.Close()
	}
	pw.ctx, pw.err = NewContext(newProg, pw.opts)
}

func (pw *poolWorker) onScan(request concurrentScanRequest) {
	if pw.err != nil {
		request.responseChan <- concurrentScanResponse{err: pw.err}
		return
	}

	var response concurrentScanResponse
	response.hits, response.err = searchBlocks(pw.ctx, request.blocks)

	request.responseChan <- response
}

// onStop releases the context and reports the worker as stopped
func (pw *poolWorker) onStop() {
	if pw.ctx != nil {
		pw.ctx.Close()
	}
	pw.stopped.Done()
}
