package hypergrep

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func Test_ParseKeywordLine(t *testing.T) {
	t.Parallel()

	var defaults = KeywordDefaults{Encodings: []string{"UTF-8"}}
	var fixedDefaults = KeywordDefaults{Options: KeyOpts{FixedString: true}, Encodings: []string{"UTF-8"}}

	var tests = []struct {
		name     string
		line     string
		defaults KeywordDefaults
		want     PatternEntry
		wantOk   bool
	}{
		{"Pattern only", "foo", defaults,
			PatternEntry{Pattern: "foo", Encodings: []string{"UTF-8"}}, true},
		{"Pattern only keeps default options", "a.b", fixedDefaults,
			PatternEntry{Pattern: "a.b", Encodings: []string{"UTF-8"}, Options: KeyOpts{FixedString: true}}, true},
		{"Full line", "a.b\t1\t0\tUTF-8,UTF-16LE", defaults,
			PatternEntry{Pattern: "a.b", Encodings: []string{"UTF-8", "UTF-16LE"}, Options: KeyOpts{FixedString: true}}, true},
		{"Unknown flag keeps default", "x\t2\t1\tlatin1", fixedDefaults,
			PatternEntry{Pattern: "x", Encodings: []string{"latin1"}, Options: KeyOpts{FixedString: true, CaseInsensitive: true}}, true},
		{"Zero flag clears default", "x\t0\t0\tlatin1", fixedDefaults,
			PatternEntry{Pattern: "x", Encodings: []string{"latin1"}}, true},
		{"Line ending trimmed", "foo\r\n", defaults,
			PatternEntry{Pattern: "foo", Encodings: []string{"UTF-8"}}, true},
		{"Partial line uses defaults", "foo\t1", defaults,
			PatternEntry{Pattern: "foo", Encodings: []string{"UTF-8"}}, true},
		{"Empty flag keeps its position", "foo\t\t1\tUTF-8", fixedDefaults,
			PatternEntry{Pattern: "foo", Encodings: []string{"UTF-8"}, Options: KeyOpts{FixedString: true, CaseInsensitive: true}}, true},
		{"Empty fields keep defaults", "foo\t\t\t", fixedDefaults,
			PatternEntry{Pattern: "foo", Encodings: []string{"UTF-8"}, Options: KeyOpts{FixedString: true}}, true},
		{"Blank line", "", defaults, PatternEntry{}, false},
		{"Empty pattern", "\t1\t1\tUTF-8", defaults, PatternEntry{}, false},
		{"Tabs only", "\t\t", defaults, PatternEntry{}, false},
		{"No encodings", "foo", KeywordDefaults{}, PatternEntry{}, false},
	}

	for _, tt := range tests {
		got, ok := ParseKeywordLine(tt.line, tt.defaults)
		if ok != tt.wantOk || !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s got: %+v, %v, want: %+v, %v", tt.name, got, ok, tt.want, tt.wantOk)
		}
	}
}

func Test_ReadKeywords(t *testing.T) {
	t.Parallel()

	var input = "foo\n\nbar\t0\t1\tUTF-16BE\n\t\nbaz"
	keywords, err := ReadKeywords(strings.NewReader(input), KeywordDefaults{Encodings: []string{"UTF-8"}})
	if err != nil {
		t.Fatal(err)
	}

	var want = []Keyword{
		{PatternEntry: PatternEntry{Pattern: "foo", Encodings: []string{"UTF-8"}}, Line: 0},
		{PatternEntry: PatternEntry{Pattern: "bar", Encodings: []string{"UTF-16BE"}, Options: KeyOpts{CaseInsensitive: true}}, Line: 2},
		{PatternEntry: PatternEntry{Pattern: "baz", Encodings: []string{"UTF-8"}}, Line: 4},
	}
	if !reflect.DeepEqual(keywords, want) {
		t.Errorf("got: %+v, want: %+v", keywords, want)
	}
}

func Test_AddKeywords(t *testing.T) {
	t.Parallel()

	keywords, err := ReadKeywords(strings.NewReader("foo\n\nbar\t0\t1\tUTF-8,UTF-16BE\n"), KeywordDefaults{Encodings: []string{"UTF-8"}})
	if err != nil {
		t.Fatal(err)
	}

	var prog, fsm, pat, sink = newBuild(t)
	if err := fsm.AddKeywords(prog, pat, keywords, sink); err != nil {
		t.Fatal(err)
	}
	if n, _ := prog.Count(); n != 3 {
		t.Fatalf("got: %d entries, want: 3", n)
	}
	if err := prog.Compile(fsm, ProgramOptions{Determinize: true}); err != nil {
		t.Fatal(err)
	}

	var got = searchAll(t, prog, ContextOptions{}, []byte("foo BAR \x00b\x00A\x00r"))
	assertHits(t, got, []Hit{
		utf8Hit(0, 3, 0, "foo"),
		utf8Hit(4, 7, 2, "bar"),
		{Start: 8, End: 14, KeywordIndex: 2, Pattern: "bar", EncChain: "UTF-16BE"},
	})
}

func Test_AddKeywordsRollback(t *testing.T) {
	t.Parallel()

	var prog, fsm, pat, sink = newBuild(t)
	var tests = []struct {
		name     string
		input    string
		wantErr  error
		wantLine string
	}{
		{"Invalid pattern", "foo\nbar\n(baz\n", ErrCompile, "line 3"},
		{"Unknown encoding", "foo\nbar\t0\t0\tUTF-8,nope\n", ErrInvalidArgument, "line 2"},
	}

	for _, tt := range tests {
		keywords, err := ReadKeywords(strings.NewReader(tt.input), KeywordDefaults{Encodings: []string{"UTF-8"}})
		if err != nil {
			t.Fatal(err)
		}
		err = fsm.AddKeywords(prog, pat, keywords, sink)
		if !errors.Is(err, tt.wantErr) || !strings.Contains(err.Error(), tt.wantLine) {
			t.Errorf("%s got: %v, want: %v on %s", tt.name, err, tt.wantErr, tt.wantLine)
		}
		if n, _ := fsm.Count(); n != 0 {
			t.Errorf("%s left %d entries", tt.name, n)
		}
	}
}
