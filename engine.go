package hypergrep

// Engine is the hypergrep batch matching interface
type Engine interface {
	// Update rebuilds the program from entries, returning an optional error.
	// Hits report the position of their entry in entries as KeywordIndex.
	Update(entries []PatternEntry) error
	// Match searches every block of a vectored byte corpus as an independent
	// stream and returns the hits of block i at index i and an optional error
	Match(corpus [][]byte) ([][]Hit, error)
	// MatchStrings is Match for a vectored string corpus
	MatchStrings(corpus []string) ([][]Hit, error)
}

// defaultProgramOptions are the options engines compile their programs with
var defaultProgramOptions = ProgramOptions{Determinize: true}

// searchBlocks searches each block with ctx as a separate stream
func searchBlocks(ctx *Context, corpus [][]byte) ([][]Hit, error) {
	var results = make([][]Hit, len(corpus))
	for idx, block := range corpus {
		var acc = &HitAccumulator{Hits: make([]Hit, 0)}
		if err := ctx.SearchBuffer(block, acc); err != nil {
			return nil, err
		}
		results[idx] = acc.Hits
	}

	return results, nil
}
