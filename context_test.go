package hypergrep

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"reflect"
	"strings"
	"testing"
)

// searchAll searches data as one complete stream with a new context
func searchAll(t *testing.T, prog *Program, opts ContextOptions, data []byte) []Hit {
	t.Helper()

	ctx, err := NewContext(prog, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Close()

	var acc = &HitAccumulator{}
	if err := ctx.SearchBuffer(data, acc); err != nil {
		t.Fatal(err)
	}

	return acc.Hits
}

func assertHits(t *testing.T, got, want []Hit) {
	t.Helper()

	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got: %+v, want: %+v", got, want)
	}
}

func utf8Hit(start, end, key uint64, pattern string) Hit {
	return Hit{Start: start, End: end, KeywordIndex: key, Pattern: pattern, EncChain: "UTF-8"}
}

func Test_ContextSearch(t *testing.T) {
	t.Parallel()

	var prog, fsm, pat, sink = newBuild(t)
	if err := pat.Parse("a+b", KeyOpts{}, sink); err != nil {
		t.Fatal(err)
	}
	if _, err := fsm.AddPattern(prog, pat, "UTF-8", 42, sink); err != nil {
		t.Fatal(err)
	}
	if err := prog.Compile(fsm, ProgramOptions{}); err != nil {
		t.Fatal(err)
	}

	ctx, err := NewContext(prog, ContextOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Close()

	var acc = &HitAccumulator{}
	if err := ctx.Search([]byte("xxxyyyaaaabcdef"), 0, acc); err != nil {
		t.Fatal(err)
	}
	if err := ctx.CloseOut(acc); err != nil {
		t.Fatal(err)
	}
	assertHits(t, acc.Hits, []Hit{utf8Hit(6, 11, 42, "a+b")})

	acc.Reset()
	if err := ctx.Reset(); err != nil {
		t.Fatal(err)
	}
	if err := ctx.StartsWith([]byte("aaaabcdef"), 0, acc); err != nil {
		t.Fatal(err)
	}
	if err := ctx.CloseOut(acc); err != nil {
		t.Fatal(err)
	}
	assertHits(t, acc.Hits, []Hit{utf8Hit(0, 5, 42, "a+b")})
}

func Test_ContextMatchSemantics(t *testing.T) {
	t.Parallel()

	var tests = []struct {
		name     string
		patterns []string
		data     string
		want     []Hit
	}{
		{"No match", []string{"abc"}, "abdabx", nil},
		{"Non-overlapping", []string{"aa"}, "aaaaa", []Hit{
			utf8Hit(0, 2, 0, "aa"),
			utf8Hit(2, 4, 0, "aa"),
		}},
		{"Longest alternative", []string{"ab|abcd"}, "abcde", []Hit{
			utf8Hit(0, 4, 0, "ab|abcd"),
		}},
		{"Leftmost wins", []string{"a+"}, "baaab", []Hit{
			utf8Hit(1, 4, 0, "a+"),
		}},
		{"Empty matches are never reported", []string{"x*"}, "abxxc", []Hit{
			utf8Hit(2, 4, 0, "x*"),
		}},
		{"Entries report independently", []string{"aa", "a"}, "aa", []Hit{
			utf8Hit(0, 1, 1, "a"),
			utf8Hit(0, 2, 0, "aa"),
			utf8Hit(1, 2, 1, "a"),
		}},
		{"Same position in registration order", []string{"bc", "abc"}, "abc", []Hit{
			utf8Hit(1, 3, 0, "bc"),
			utf8Hit(0, 3, 1, "abc"),
		}},
		{"Dot matches newline", []string{"a.b"}, "a\nb", []Hit{
			utf8Hit(0, 3, 0, "a.b"),
		}},
		{"Multibyte class", []string{"[à-ÿ]+"}, "voilà ça", []Hit{
			utf8Hit(4, 6, 0, "[à-ÿ]+"),
			utf8Hit(7, 9, 0, "[à-ÿ]+"),
		}},
		{"Merged start survives an overlapping hit", []string{"ab(zzzz)?|b+y"}, "abbbby", []Hit{
			utf8Hit(0, 2, 0, "ab(zzzz)?|b+y"),
			utf8Hit(2, 6, 0, "ab(zzzz)?|b+y"),
		}},
	}

	for _, tt := range tests {
		var prog = compileTest(t, ProgramOptions{}, utf8Entries(tt.patterns...)...)
		var got = searchAll(t, prog, ContextOptions{}, []byte(tt.data))
		if len(got) != 0 || len(tt.want) != 0 {
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("%s got: %+v, want: %+v", tt.name, got, tt.want)
			}
		}
	}
}

func Test_ContextOptionsOfPatterns(t *testing.T) {
	t.Parallel()

	var prog = compileTest(t, ProgramOptions{},
		PatternEntry{Pattern: "a.b", Encodings: []string{"UTF-8"}, Options: KeyOpts{FixedString: true}},
		PatternEntry{Pattern: "héllo", Encodings: []string{"UTF-8"}, Options: KeyOpts{CaseInsensitive: true}},
	)

	var got = searchAll(t, prog, ContextOptions{}, []byte("axb a.b HÉLLO"))
	assertHits(t, got, []Hit{
		utf8Hit(4, 7, 0, "a.b"),
		utf8Hit(8, 14, 1, "héllo"),
	})
}

func Test_ContextStreaming(t *testing.T) {
	t.Parallel()

	var prog = compileTest(t, ProgramOptions{}, utf8Entries("ab|abcd")...)
	ctx, err := NewContext(prog, ContextOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Close()

	// the short alternative stays pending while the long one is alive
	var acc = &HitAccumulator{}
	if err := ctx.Search([]byte("xab"), 0, acc); err != nil {
		t.Fatal(err)
	}
	assertHits(t, acc.Hits, nil)
	if err := ctx.Search([]byte("cd"), 3, acc); err != nil {
		t.Fatal(err)
	}
	assertHits(t, acc.Hits, []Hit{utf8Hit(1, 5, 0, "ab|abcd")})

	// CloseOut decides what is still pending
	acc.Reset()
	ctx.Reset()
	if err := ctx.Search([]byte("xab"), 100, acc); err != nil {
		t.Fatal(err)
	}
	if err := ctx.CloseOut(acc); err != nil {
		t.Fatal(err)
	}
	assertHits(t, acc.Hits, []Hit{utf8Hit(101, 103, 0, "ab|abcd")})
}

func Test_ContextSplitEquivalence(t *testing.T) {
	t.Parallel()

	var prog = compileTest(t, ProgramOptions{}, utf8Entries("a+b", "b[^a]*c", "cab|ca")...)
	var data = []byte("aabcabbbacabxcaaab")
	var want = searchAll(t, prog, ContextOptions{}, data)
	if len(want) == 0 {
		t.Fatal("no hits in whole buffer")
	}

	ctx, err := NewContext(prog, ContextOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Close()

	for split := 0; split <= len(data); split++ {
		var acc = &HitAccumulator{}
		ctx.Reset()
		if err := ctx.Search(data[:split], 0, acc); err != nil {
			t.Fatal(err)
		}
		if err := ctx.Search(data[split:], uint64(split), acc); err != nil {
			t.Fatal(err)
		}
		if err := ctx.CloseOut(acc); err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(acc.Hits, want) {
			t.Errorf("split at %d got: %+v, want: %+v", split, acc.Hits, want)
		}
	}
}

func Test_ContextDeterminize(t *testing.T) {
	t.Parallel()

	var entries = []PatternEntry{
		{Pattern: "[0-9]{3}-[0-9]{4}", Encodings: []string{"UTF-8", "UTF-16LE"}},
		{Pattern: "secret", Encodings: []string{"UTF-8", "UTF-16BE", "windows-1252"}, Options: KeyOpts{CaseInsensitive: true}},
		{Pattern: "€+", Encodings: []string{"UTF-8", "windows-1252"}},
	}
	var plain = compileTest(t, ProgramOptions{}, entries...)
	var seeded = compileTest(t, ProgramOptions{Determinize: true}, entries...)

	var data = []byte("call 555-1234 or 5\x005\x005\x00-\x001\x002\x003\x004\x00 SeCrEt \x00S\x00E\x00C\x00R\x00E\x00T €€ \x80\x80\x80")
	var want = searchAll(t, plain, ContextOptions{}, data)
	if len(want) != 7 {
		t.Fatalf("got %d hits: %+v, want: 7", len(want), want)
	}
	assertHits(t, searchAll(t, seeded, ContextOptions{}, data), want)
}

func Test_ContextSearchBuffer(t *testing.T) {
	t.Parallel()

	var prog = compileTest(t, ProgramOptions{}, utf8Entries("ab")...)
	ctx, err := NewContext(prog, ContextOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Close()

	// SearchBuffer discards an unfinished stream and leaves the context reset
	var acc = &HitAccumulator{}
	if err := ctx.Search([]byte("xxa"), 50, acc); err != nil {
		t.Fatal(err)
	}
	if err := ctx.SearchBuffer([]byte("b ab"), acc); err != nil {
		t.Fatal(err)
	}
	assertHits(t, acc.Hits, []Hit{utf8Hit(2, 4, 0, "ab")})
	if err := ctx.Search([]byte("ab"), 0, acc); err != nil {
		t.Errorf("got: %v, want: nil", err)
	}

	acc.Reset()
	if err := ctx.SearchBufferStartsWith([]byte("abab"), acc); err != nil {
		t.Fatal(err)
	}
	assertHits(t, acc.Hits, []Hit{utf8Hit(0, 2, 0, "ab")})

	acc.Reset()
	if err := ctx.SearchBufferStartsWith([]byte("xab"), acc); err != nil {
		t.Fatal(err)
	}
	assertHits(t, acc.Hits, nil)

	// nil and empty buffers are empty streams
	if err := ctx.SearchBuffer(nil, acc); err != nil {
		t.Errorf("got: %v, want: nil", err)
	}
	var collected []Hit
	if err := ctx.SearchBuffer([]byte("abab"), HitFunc(func(h Hit) { collected = append(collected, h) })); err != nil {
		t.Fatal(err)
	}
	assertHits(t, collected, []Hit{utf8Hit(0, 2, 0, "ab"), utf8Hit(2, 4, 0, "ab")})
}

func Test_ContextStartsWithContinues(t *testing.T) {
	t.Parallel()

	var prog = compileTest(t, ProgramOptions{}, utf8Entries("a+b")...)
	ctx, err := NewContext(prog, ContextOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Close()

	var acc = &HitAccumulator{}
	if err := ctx.StartsWith([]byte("aa"), 0, acc); err != nil {
		t.Fatal(err)
	}
	if err := ctx.StartsWith([]byte("bab"), 2, acc); err != nil {
		t.Fatal(err)
	}
	if err := ctx.CloseOut(acc); err != nil {
		t.Fatal(err)
	}
	assertHits(t, acc.Hits, []Hit{utf8Hit(0, 3, 0, "a+b")})
}

func Test_ContextOffsetOverflow(t *testing.T) {
	t.Parallel()

	var prog = compileTest(t, ProgramOptions{}, utf8Entries("ab")...)
	ctx, err := NewContext(prog, ContextOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Close()

	var acc = &HitAccumulator{}
	if err := ctx.Search([]byte("ab"), math.MaxUint64-1, acc); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("overflowing buffer got: %v, want: %v", err, ErrInvalidArgument)
	}
	if err := ctx.Search([]byte("a"), math.MaxUint64-1, acc); err != nil {
		t.Fatalf("buffer ending at the last offset got: %v, want: nil", err)
	}
	if err := ctx.Search([]byte("b"), 0, acc); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("backwards offset after the last offset got: %v, want: %v", err, ErrInvalidArgument)
	}
	if err := ctx.Search([]byte("b"), math.MaxUint64, acc); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("byte past the last offset got: %v, want: %v", err, ErrInvalidArgument)
	}
	if err := ctx.CloseOut(acc); err != nil {
		t.Fatal(err)
	}
	assertHits(t, acc.Hits, nil)
}

func Test_ContextStateErrors(t *testing.T) {
	t.Parallel()

	var prog = compileTest(t, ProgramOptions{}, utf8Entries("ab")...)
	ctx, err := NewContext(prog, ContextOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Close()

	var acc = &HitAccumulator{}
	if err := ctx.Search([]byte("ab"), 10, acc); err != nil {
		t.Fatal(err)
	}
	if err := ctx.Search([]byte("ab"), 5, acc); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("backwards offset got: %v, want: %v", err, ErrInvalidArgument)
	}
	if err := ctx.Search([]byte("ab"), 20, acc); err != nil {
		t.Errorf("forward gap got: %v, want: nil", err)
	}
	if err := ctx.Search([]byte("ab"), 0, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("nil collector got: %v, want: %v", err, ErrInvalidArgument)
	}
	var nilAcc *HitAccumulator
	if err := ctx.CloseOut(nilAcc); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("nil accumulator got: %v, want: %v", err, ErrInvalidArgument)
	}

	if err := ctx.CloseOut(acc); err != nil {
		t.Fatal(err)
	}
	assertHits(t, acc.Hits, []Hit{utf8Hit(10, 12, 0, "ab"), utf8Hit(20, 22, 0, "ab")})
	if err := ctx.CloseOut(acc); err != nil {
		t.Errorf("second close out got: %v, want: nil", err)
	}
	if err := ctx.Search([]byte("ab"), 30, acc); !errors.Is(err, ErrInvalidState) {
		t.Errorf("closed out got: %v, want: %v", err, ErrInvalidState)
	}
	if err := ctx.StartsWith([]byte("ab"), 30, acc); !errors.Is(err, ErrInvalidState) {
		t.Errorf("closed out got: %v, want: %v", err, ErrInvalidState)
	}
	if err := ctx.Reset(); err != nil {
		t.Fatal(err)
	}
	if err := ctx.Search([]byte("ab"), 0, acc); err != nil {
		t.Errorf("after reset got: %v, want: nil", err)
	}

	ctx.Close()
	ctx.Close()
	if err := ctx.Search([]byte("ab"), 0, acc); !errors.Is(err, ErrInvalidState) {
		t.Errorf("closed context got: %v, want: %v", err, ErrInvalidState)
	}
	if err := ctx.Reset(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("closed context got: %v, want: %v", err, ErrInvalidState)
	}
}

func Test_ContextProgramState(t *testing.T) {
	t.Parallel()

	uncompiled, err := NewProgram(0)
	if err != nil {
		t.Fatal(err)
	}
	defer uncompiled.Close()
	if _, err := NewContext(uncompiled, ContextOptions{}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("uncompiled got: %v, want: %v", err, ErrInvalidState)
	}
	if _, err := NewContext(nil, ContextOptions{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("nil program got: %v, want: %v", err, ErrInvalidArgument)
	}

	prog, err := compileEntries(utf8Entries("ab"), ProgramOptions{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, err := NewContext(prog, ContextOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Close()

	prog.Close()
	var acc = &HitAccumulator{}
	if err := ctx.Search([]byte("ab"), 0, acc); !errors.Is(err, ErrInvalidState) {
		t.Errorf("closed program got: %v, want: %v", err, ErrInvalidState)
	}
	if err := ctx.SearchBuffer([]byte("ab"), acc); !errors.Is(err, ErrInvalidState) {
		t.Errorf("closed program got: %v, want: %v", err, ErrInvalidState)
	}
	if _, err := NewContext(prog, ContextOptions{}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("closed program got: %v, want: %v", err, ErrInvalidState)
	}
}

func Test_ContextTrace(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer SetLogger(nil)

	var prog = compileTest(t, ProgramOptions{}, utf8Entries("a")...)
	var got = searchAll(t, prog, ContextOptions{TraceBegin: 1, TraceEnd: 3}, []byte("aaaa"))
	if len(got) != 4 {
		t.Errorf("got %d hits, want: 4", len(got))
	}
	if n := strings.Count(buf.String(), `"msg":"search step"`); n != 2 {
		t.Errorf("got %d trace records, want: 2\n%s", n, buf.String())
	}

	buf.Reset()
	searchAll(t, prog, ContextOptions{TraceBegin: 3, TraceEnd: 3}, []byte("aaaa"))
	if strings.Contains(buf.String(), "search step") {
		t.Errorf("empty trace range logged:\n%s", buf.String())
	}
}
