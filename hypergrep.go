package hypergrep

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"
)

// entryBuild holds the automata of one PatternEntry, one per encoding,
// compiled for labels starting at firstLabel
type entryBuild struct {
	firstLabel uint32
	encs       []encoder
	frags      []fragment
}

// compileEntries builds and compiles a Program from entries, keyed by their
// position in the slice
func compileEntries(entries []PatternEntry, opts ProgramOptions) (*Program, error) {
	var builds = make([]entryBuild, len(entries))
	var label uint32
	for idx, entry := range entries {
		if len(entry.Encodings) == 0 {
			return nil, argError("entry %d (%q) lists no encodings", idx, entry.Pattern)
		}
		builds[idx].firstLabel = label
		label += uint32(len(entry.Encodings))
	}

	// automata are compiled concurrently: every goroutine owns a disjoint
	// range of builds and of compileErrors, so no locking is needed
	var wg sync.WaitGroup
	var compileErrors = make([]error, len(entries))
	for _, entryRange := range subSlices(len(entries), runtime.NumCPU()) {
		wg.Add(1)
		go func(span [2]int) {
			defer wg.Done()
			for idx := span[0]; idx < span[1]; idx++ {
				if err := builds[idx].compile(entries[idx]); err != nil {
					compileErrors[idx] = fmt.Errorf("error parsing pattern %s: %w", entries[idx].Pattern, err)
					return
				}
			}
		}(entryRange)
	}
	wg.Wait()

	// check for errors, returning the first one found
	for _, compileErr := range compileErrors {
		if compileErr != nil {
			return nil, compileErr
		}
	}

	prog, err := NewProgram(int(label))
	if err != nil {
		return nil, err
	}
	fsm, err := NewFsm(int(label))
	if err != nil {
		return nil, err
	}
	defer fsm.Close()

	for idx, build := range builds {
		for i, frg := range build.frags {
			fsm.appendEntry(prog, frg, progEntry{
				key:      uint64(idx),
				pattern:  entries[idx].Pattern,
				encoding: build.encs[i].name(),
				opts:     entries[idx].Options,
			})
		}
	}
	if err := prog.Compile(fsm, opts); err != nil {
		prog.Close()
		return nil, err
	}

	return prog, nil
}

func (b *entryBuild) compile(entry PatternEntry) error {
	if entry.Pattern == "" {
		return argError("empty pattern")
	}
	re, err := parseExpr(entry.Pattern, entry.Options)
	if err != nil {
		return err
	}
	for i, name := range entry.Encodings {
		enc, err := lookupEncoder(name)
		if err != nil {
			return err
		}
		frg, err := compileFragment(re, enc, b.firstLabel+uint32(i))
		if err != nil {
			return fmt.Errorf("in %s: %w", enc.name(), err)
		}
		b.encs = append(b.encs, enc)
		b.frags = append(b.frags, frg)
	}
	return nil
}

// MatchedPatterns returns the distinct patterns that produced the hits, in
// order of first appearance
func MatchedPatterns(results [][]Hit) []string {
	var matchedSieve = make(map[string]struct{})
	var matchedPatterns = make([]string, 0)
	for _, hits := range results {
		for _, hit := range hits {
			if _, seen := matchedSieve[hit.Pattern]; seen {
				continue
			}
			matchedSieve[hit.Pattern] = struct{}{}
			matchedPatterns = append(matchedPatterns, hit.Pattern)
		}
	}

	return matchedPatterns
}

func stringsToBytes(corpus []string) [][]byte {
	var corpusBlocks = make([][]byte, len(corpus))
	for idx, corpusElement := range corpus {
		corpusBlocks[idx] = stringToByteSlice(corpusElement)
	}

	return corpusBlocks
}

// zero copy string to []byte conversion; the search never writes to its input
func stringToByteSlice(input string) []byte {
	return unsafe.Slice(unsafe.StringData(input), len(input))
}

// subSlices splits [0, n) into numSlices contiguous ranges plus a remainder
func subSlices(n, numSlices int) [][2]int {
	var numPerSlice = n / numSlices
	var splitIndices = make([][2]int, 0, numSlices+1)

	for i := 0; i < numSlices; i++ {
		splitIndices = append(splitIndices, [2]int{i * numPerSlice, (i + 1) * numPerSlice})
	}

	if numSlices*numPerSlice < n {
		splitIndices = append(splitIndices, [2]int{numSlices * numPerSlice, n})
	}

	return splitIndices
}
