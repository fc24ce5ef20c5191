package hypergrep

// KeyOpts controls how a single pattern string is interpreted
type KeyOpts struct {
	// FixedString matches the pattern literally, without regex metacharacters
	FixedString bool
	// CaseInsensitive folds case when matching
	CaseInsensitive bool
}

// IsFixed reports whether the pattern is matched literally
func (o KeyOpts) IsFixed() bool {
	return o.FixedString
}

// IsCaseSensitive reports whether the pattern is matched case-sensitively
func (o KeyOpts) IsCaseSensitive() bool {
	return !o.CaseInsensitive
}

// ProgramOptions controls Program compilation
type ProgramOptions struct {
	// Determinize precomputes the set of bytes that can begin a match so the
	// search only starts new threads on those bytes. Results are identical.
	Determinize bool
}

// ContextOptions controls a search Context
type ContextOptions struct {
	// TraceBegin and TraceEnd bound a half-open range of stream offsets for
	// which the context logs every automaton step at debug level. An empty
	// range disables tracing.
	TraceBegin uint64
	TraceEnd   uint64
	// Prefilter lets SearchBuffer skip buffers that cannot contain a match,
	// when the binary is built with a prefilter backend
	Prefilter bool
}

func (o ContextOptions) tracing(offset uint64) bool {
	return o.TraceBegin < o.TraceEnd && offset >= o.TraceBegin && offset < o.TraceEnd
}
