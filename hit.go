package hypergrep

// Hit is one reported match in stream coordinates: the half-open byte range
// [Start, End), the keyword index the entry was registered under, and the
// pattern and encoding of that entry
type Hit struct {
	Start        uint64 `json:"start"`
	End          uint64 `json:"end"`
	KeywordIndex uint64 `json:"keywordIndex"`
	Pattern      string `json:"pattern"`
	EncChain     string `json:"encChain"`
}

// Len returns the length of the hit in bytes
func (h Hit) Len() uint64 {
	return h.End - h.Start
}

// HitCollector receives hits as a Context reports them
type HitCollector interface {
	Collect(Hit)
}

// HitFunc adapts a function to HitCollector
type HitFunc func(Hit)

// Collect calls f(h)
func (f HitFunc) Collect(h Hit) {
	f(h)
}

// HitAccumulator appends every hit it collects, in reporting order
type HitAccumulator struct {
	Hits []Hit
}

// Collect appends h
func (a *HitAccumulator) Collect(h Hit) {
	a.Hits = append(a.Hits, h)
}

// Reset discards the collected hits and keeps the storage
func (a *HitAccumulator) Reset() {
	a.Hits = a.Hits[:0]
}

func checkCollector(acc HitCollector) error {
	switch a := acc.(type) {
	case nil:
		return argError("nil hit collector")
	case *HitAccumulator:
		if a == nil {
			return argError("nil hit accumulator")
		}
	case HitFunc:
		if a == nil {
			return argError("nil hit function")
		}
	}
	return nil
}
