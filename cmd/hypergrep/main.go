// Command hypergrep searches files and streams for many patterns in many
// encodings at once.
package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/brknstrngz/hypergrep"
	"github.com/brknstrngz/hypergrep/internal/store"
	"github.com/brknstrngz/hypergrep/internal/telemetry"
)

const serviceName = "hypergrep"

const usage = `usage: hypergrep [flags] <command> [input ...]

commands:
  search   search the inputs (files, or - for stdin) and print one hit per line:
           offset, length, keyword index, pattern, encoding[, context]
           the keyword index is the line of the keyword, counted across
           all -k files in order, or the position of its -p flag
  prog     compile the keywords and write the serialized program
  graph    write the keyword automata as a Graphviz dot graph
  help     print this message

flags:
`

type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

type config struct {
	keyFiles    stringList
	patterns    stringList
	encodings   string
	fixed       bool
	ignoreCase  bool
	output      string
	blockSize   int
	window      int
	determinize bool
	noOutput    bool
	programFile string
	storePath   string
	storeKey    string
	otel        bool
	traceBegin  uint64
	traceEnd    uint64
	prefilter   bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (*config, []string, error) {
	var cfg = &config{}
	var fs = flag.NewFlagSet(serviceName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Var(&cfg.keyFiles, "k", "keywords `file`, one pattern per line (repeatable)")
	fs.Var(&cfg.patterns, "p", "keyword `pattern` (repeatable, overrides -k)")
	fs.StringVar(&cfg.encodings, "e", "UTF-8", "comma-separated default `encodings`")
	fs.BoolVar(&cfg.fixed, "F", false, "interpret patterns as fixed strings")
	fs.BoolVar(&cfg.ignoreCase, "i", false, "ignore case")
	fs.StringVar(&cfg.output, "o", "-", "output `file`, - for stdout")
	fs.IntVar(&cfg.blockSize, "block-size", hypergrep.DefaultBlockSize, "read block size in `bytes`")
	fs.IntVar(&cfg.window, "c", 0, "print `n` bytes of decoded context around hits (seekable inputs only)")
	fs.BoolVar(&cfg.determinize, "determinize", true, "precompute the bytes that can start a match")
	fs.BoolVar(&cfg.noOutput, "no-output", false, "count hits without printing them")
	fs.StringVar(&cfg.programFile, "program", "", "search with a serialized program `file` instead of keywords")
	fs.StringVar(&cfg.storePath, "store", "", "program store `database`; compiled programs are cached there")
	fs.StringVar(&cfg.storeKey, "store-key", "", "program store `key` (default: fingerprint of the keywords)")
	fs.BoolVar(&cfg.otel, "otel", false, "export metrics and traces to OTEL_EXPORTER_OTLP_ENDPOINT")
	fs.Uint64Var(&cfg.traceBegin, "trace-begin", 0, "first stream `offset` to trace at debug level")
	fs.Uint64Var(&cfg.traceEnd, "trace-end", 0, "stream `offset` where tracing stops")
	fs.BoolVar(&cfg.prefilter, "prefilter", false, "skip inputs that cannot match (hyperscan builds)")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return cfg, fs.Args(), nil
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, rest, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if len(rest) == 0 || rest[0] == "help" {
		fmt.Fprint(stderr, usage)
		return 0
	}

	telemetry.InitLogging(serviceName)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if cfg.otel {
		var shutdowns = []telemetry.ShutdownFunc{
			telemetry.InitMetrics(ctx, serviceName, 10*time.Second),
			telemetry.InitTracer(ctx, serviceName),
		}
		defer telemetry.Flush(context.Background(), shutdowns...)
	}

	var app = &app{cfg: cfg, stdin: stdin, stdout: stdout, stderr: stderr}
	switch rest[0] {
	case "search":
		err = app.search(ctx, rest[1:])
	case "prog":
		err = app.writeProgram()
	case "graph":
		err = app.graph()
	default:
		err = fmt.Errorf("unknown command %q", rest[0])
	}
	if err != nil {
		slog.Error("hypergrep failed", "command", rest[0], "error", err)
		return 1
	}
	return 0
}

type app struct {
	cfg    *config
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// keywords gathers the -p patterns, or else every -k file
func (a *app) keywords() ([]hypergrep.Keyword, error) {
	var defaults = hypergrep.KeywordDefaults{
		Options:   hypergrep.KeyOpts{FixedString: a.cfg.fixed, CaseInsensitive: a.cfg.ignoreCase},
		Encodings: strings.Split(a.cfg.encodings, ","),
	}

	var keywords []hypergrep.Keyword
	if len(a.cfg.patterns) > 0 {
		for idx, p := range a.cfg.patterns {
			if entry, ok := hypergrep.ParseKeywordLine(p, defaults); ok {
				keywords = append(keywords, hypergrep.Keyword{PatternEntry: entry, Line: idx})
			}
		}
	} else {
		// line numbers, and so keyword indices, run on across files
		var base = 0
		for _, path := range a.cfg.keyFiles {
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("could not open keywords file: %w", err)
			}
			kws, err := hypergrep.ReadKeywords(bytes.NewReader(raw), defaults)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			for _, kw := range kws {
				kw.Line += base
				keywords = append(keywords, kw)
			}
			base += lineCount(raw)
		}
	}
	if len(keywords) == 0 {
		return nil, errors.New("no keywords: use -p or -k")
	}
	return keywords, nil
}

// lineCount counts lines the way bufio.ScanLines splits them
func lineCount(raw []byte) int {
	var n = bytes.Count(raw, []byte{'\n'})
	if len(raw) > 0 && raw[len(raw)-1] != '\n' {
		n++
	}
	return n
}

// build registers the keywords in a fresh Fsm bound to a fresh Program
func (a *app) build() (*hypergrep.Fsm, *hypergrep.Program, error) {
	keywords, err := a.keywords()
	if err != nil {
		return nil, nil, err
	}

	prog, err := hypergrep.NewProgram(len(keywords))
	if err != nil {
		return nil, nil, err
	}
	fsm, err := hypergrep.NewFsm(len(keywords))
	if err != nil {
		prog.Close()
		return nil, nil, err
	}
	var pat = hypergrep.NewPattern()
	defer pat.Close()
	var sink = hypergrep.NewErrorSink()
	defer sink.Close()

	if err := fsm.AddKeywords(prog, pat, keywords, sink); err != nil {
		fsm.Close()
		prog.Close()
		return nil, nil, err
	}
	return fsm, prog, nil
}

func (a *app) compile() (*hypergrep.Program, error) {
	fsm, prog, err := a.build()
	if err != nil {
		return nil, err
	}
	defer fsm.Close()

	if err := prog.Compile(fsm, hypergrep.ProgramOptions{Determinize: a.cfg.determinize}); err != nil {
		prog.Close()
		return nil, err
	}
	return prog, nil
}

func (a *app) storeKey() (string, error) {
	if a.cfg.storeKey != "" {
		return a.cfg.storeKey, nil
	}
	keywords, err := a.keywords()
	if err != nil {
		return "", err
	}
	return store.Fingerprint(keywords, hypergrep.ProgramOptions{Determinize: a.cfg.determinize}), nil
}

// program loads the search program from -program, from the store, or
// compiles it and caches it in the store
func (a *app) program() (*hypergrep.Program, error) {
	if a.cfg.programFile != "" {
		raw, err := os.ReadFile(a.cfg.programFile)
		if err != nil {
			return nil, err
		}
		return hypergrep.ReadProgram(raw)
	}
	if a.cfg.storePath == "" {
		return a.compile()
	}

	s, err := store.Open(a.cfg.storePath)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	key, err := a.storeKey()
	if err != nil {
		return nil, err
	}

	prog, err := s.Get(key)
	switch {
	case err == nil:
		slog.Debug("program loaded from store", "key", key)
		return prog, nil
	case !errors.Is(err, store.ErrNotFound):
		slog.Warn("stored program unusable, recompiling", "key", key, "error", err)
	}

	if prog, err = a.compile(); err != nil {
		return nil, err
	}
	if err := s.Put(key, prog); err != nil {
		slog.Warn("could not cache program", "key", key, "error", err)
	}
	return prog, nil
}

func (a *app) openOutput() (io.Writer, func() error, error) {
	if a.cfg.output == "-" {
		return a.stdout, func() error { return nil }, nil
	}
	f, err := os.Create(a.cfg.output)
	if err != nil {
		return nil, nil, fmt.Errorf("could not open output file: %w", err)
	}
	return f, f.Close, nil
}

func (a *app) search(ctx context.Context, inputs []string) error {
	prog, err := a.program()
	if err != nil {
		return err
	}
	defer prog.Close()

	sctx, err := hypergrep.NewContext(prog, hypergrep.ContextOptions{
		TraceBegin: a.cfg.traceBegin,
		TraceEnd:   a.cfg.traceEnd,
		Prefilter:  a.cfg.prefilter,
	})
	if err != nil {
		return err
	}
	defer sctx.Close()

	out, closeOut, err := a.openOutput()
	if err != nil {
		return err
	}
	defer closeOut()
	var w = bufio.NewWriter(out)
	defer w.Flush()

	if len(inputs) == 0 {
		inputs = []string{"-"}
	}
	var (
		began     = time.Now()
		total     uint64
		totalHits uint64
	)
	for _, input := range inputs {
		n, hits, err := a.searchInput(ctx, sctx, input, w)
		total += n
		totalHits += hits
		if err != nil {
			return fmt.Errorf("%s: %w", input, err)
		}
	}

	var elapsed = time.Since(began).Seconds()
	var throughput float64
	if elapsed > 0 {
		throughput = float64(total) / elapsed / (1 << 20)
	}
	fmt.Fprintf(a.stderr, "%d bytes\n%.3f searchTime\n%.2f MB/s avg\n%d hits\n", total, elapsed, throughput, totalHits)

	return nil
}

func (a *app) searchInput(ctx context.Context, sctx *hypergrep.Context, input string, w io.Writer) (uint64, uint64, error) {
	var r io.Reader = a.stdin
	var file *os.File
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return 0, 0, err
		}
		defer f.Close()
		r, file = f, f
	}

	var (
		hits     uint64
		deferred []hypergrep.Hit
		collect  hypergrep.HitFunc
	)
	switch {
	case a.cfg.noOutput:
		collect = func(hypergrep.Hit) { hits++ }
	case a.cfg.window > 0 && file != nil:
		collect = func(h hypergrep.Hit) {
			hits++
			deferred = append(deferred, h)
		}
	default:
		if a.cfg.window > 0 {
			slog.Warn("context needs a seekable input, printing hits without it", "input", input)
		}
		collect = func(h hypergrep.Hit) {
			hits++
			writeHit(w, h, "")
		}
	}

	var interactive = isTerminal(a.stderr)
	if interactive {
		fmt.Fprintf(a.stderr, "searching %s...\r", input)
	}
	n, err := a.searchStream(ctx, sctx, r, file, collect)
	if interactive {
		fmt.Fprintf(a.stderr, "\r%s\r", strings.Repeat(" ", len(input)+13))
	}
	if err != nil {
		return n, hits, err
	}

	if len(deferred) > 0 {
		if err := a.writeWithContext(w, file, deferred); err != nil {
			return n, hits, err
		}
	}
	return n, hits, nil
}

// searchStream searches r block by block. With -prefilter, a file that fits
// in one block is searched whole so the prefilter can skip it.
func (a *app) searchStream(ctx context.Context, sctx *hypergrep.Context, r io.Reader, file *os.File, collect hypergrep.HitCollector) (uint64, error) {
	if a.cfg.prefilter && file != nil {
		if info, err := file.Stat(); err == nil && info.Mode().IsRegular() && info.Size() <= int64(a.cfg.blockSize) {
			raw, err := io.ReadAll(file)
			if err != nil {
				return 0, err
			}
			return uint64(len(raw)), sctx.SearchBuffer(raw, collect)
		}
	}
	return hypergrep.SearchReader(ctx, sctx, r, a.cfg.blockSize, collect)
}

// writeWithContext decodes the window around every hit by reading it back
// from the file
func (a *app) writeWithContext(w io.Writer, file *os.File, hits []hypergrep.Hit) error {
	var dec = hypergrep.NewHitDecoder()
	defer dec.Close()

	var window = uint64(a.cfg.window)
	var buf []byte
	for _, h := range hits {
		var begin = h.Start - min(h.Start, window)
		var size = int(h.End + window - begin)
		if cap(buf) < size {
			buf = make([]byte, size)
		}
		n, err := file.ReadAt(buf[:size], int64(begin))
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		text, err := dec.HitContext(buf[:n], begin, h, a.cfg.window)
		if err != nil {
			return err
		}
		writeHit(w, h, text)
	}
	return nil
}

func writeHit(w io.Writer, h hypergrep.Hit, text string) {
	fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s", h.Start, h.Len(), h.KeywordIndex, h.Pattern, h.EncChain)
	if text != "" {
		fmt.Fprintf(w, "\t%q", text)
	}
	fmt.Fprintln(w)
}

func (a *app) writeProgram() error {
	prog, err := a.compile()
	if err != nil {
		return err
	}
	defer prog.Close()

	if a.cfg.storePath != "" {
		s, err := store.Open(a.cfg.storePath)
		if err != nil {
			return err
		}
		defer s.Close()
		key, err := a.storeKey()
		if err != nil {
			return err
		}
		if err := s.Put(key, prog); err != nil {
			return err
		}
		fmt.Fprintf(a.stderr, "stored program as %s\n", key)
		if a.cfg.output == "-" {
			return nil
		}
	}

	raw, err := prog.Write()
	if err != nil {
		return err
	}
	if a.cfg.output == "-" && isTerminal(a.stdout) {
		return errors.New("refusing to write a binary program to a terminal, use -o")
	}
	out, closeOut, err := a.openOutput()
	if err != nil {
		return err
	}
	if _, err := out.Write(raw); err != nil {
		closeOut()
		return err
	}
	count, _ := prog.Count()
	fmt.Fprintf(a.stderr, "%d entries, %d bytes\n", count, len(raw))
	return closeOut()
}

func (a *app) graph() error {
	fsm, prog, err := a.build()
	if err != nil {
		return err
	}
	defer prog.Close()
	defer fsm.Close()

	out, closeOut, err := a.openOutput()
	if err != nil {
		return err
	}
	if err := fsm.WriteGraphviz(out); err != nil {
		closeOut()
		return err
	}
	return closeOut()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
