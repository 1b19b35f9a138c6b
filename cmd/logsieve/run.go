package main

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/logsieve/logsieve/internal/chunker"
	"github.com/logsieve/logsieve/internal/engine"
	"github.com/logsieve/logsieve/internal/follow"
	"github.com/logsieve/logsieve/internal/pool"
	"github.com/logsieve/logsieve/internal/stats"
	"github.com/logsieve/logsieve/pkg/checkpoint"
	"github.com/logsieve/logsieve/pkg/config"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
	"github.com/logsieve/logsieve/pkg/parser"
	"github.com/logsieve/logsieve/pkg/storage/s3"
	"github.com/logsieve/logsieve/pkg/tui"
	"github.com/logsieve/logsieve/pkg/writer"
)

func runRoot(cmd *cobra.Command, args []string) error {
	flagsParsed = true
	ctx := cmd.Context()

	mgr := config.Global()
	applyConfigDefaults(cmd, mgr.Get())

	if statsOnly {
		statsFlag = true
	}
	if followFlag && parallelFlag {
		return lserrors.Usage("--follow runs sequentially; drop --parallel")
	}
	if followFlag {
		if len(args) == 0 {
			return lserrors.Usage("--follow needs at least one file argument")
		}
		for _, a := range args {
			if a == "-" || s3.IsURL(a) {
				return lserrors.Usage("--follow tails local files only, got %q", a)
			}
		}
	}
	if outputFormat == "duckdb" && outputFile == "" {
		return lserrors.Usage("duckdb output needs --output-file for the database path")
	}

	join, err := chunker.ParseJoin(joinFlag)
	if err != nil {
		return err
	}
	chk, err := chunker.New(multilineSpec(multilineFlag), join)
	if err != nil {
		return err
	}

	p, err := buildParser()
	if err != nil {
		return err
	}

	stages := collectStages(expandedArgs)

	mode := lserrors.ReportPrint
	switch {
	case quietCount == 1:
		mode = lserrors.ReportQuiet
	case quietCount >= 2:
		mode = lserrors.ReportSummary
	}
	reporter := lserrors.NewReporter(mode)

	color, err := resolveColor()
	if err != nil {
		return err
	}

	out, formatter, sink, closeOut, err := buildOutput(color)
	if err != nil {
		return err
	}
	defer closeOut()

	inputs, err := buildInputs(args, mgr.Get())
	if err != nil {
		return err
	}

	sel, err := buildSelectors()
	if err != nil {
		return err
	}

	var ignoreRe *regexp.Regexp
	if ignoreLines != "" {
		ignoreRe, err = regexp.Compile(ignoreLines)
		if err != nil {
			return lserrors.BadRegex(ignoreLines, err)
		}
	}

	threads := threadsFlag
	if threads == 0 {
		threads = runtime.NumCPU()
	}
	flushEvery, err := str2duration.ParseDuration(batchTimeout)
	if err != nil {
		return lserrors.Usage("bad --batch-timeout %q: %v", batchTimeout, err)
	}

	st := stats.New()

	eng, err := engine.New(engine.Config{
		Inputs:       inputs,
		Chunker:      chk,
		Parser:       p,
		Stages:       stages,
		Formatter:    formatter,
		Sink:         sink,
		Out:          out,
		Diag:         os.Stderr,
		Reporter:     reporter,
		Stats:        st,
		Strict:       strictFlag,
		StatsOnly:    statsOnly,
		Parallel:     parallelFlag,
		Threads:      threads,
		BatchSize:    batchSize,
		BatchTimeout: flushEvery,
		SkipLines:    skipLinesFlag,
		IgnoreLines:  ignoreRe,
		Select:       sel,
		Take:         takeFlag,
		TSField:      tsFieldFlag,
		TSFormat:     tsFormatFlag,
	})
	if err != nil {
		return err
	}

	if verboseFlag {
		fmt.Fprintf(os.Stderr, "logsieve: %d input(s), multiline=%s parser=%s output=%s parallel=%v\n",
			len(inputs), multilineFlag, parserFlag, outputFormat, parallelFlag)
	}

	var runErr error
	if followFlag {
		runErr = runFollow(ctx, eng, args)
	} else {
		runErr = eng.Run(ctx)
	}

	// Flush the data stream before the stderr summary.
	closeOut()
	finishErr := finish(sink, reporter, st, color)
	if runErr != nil {
		return runErr
	}
	if finishErr != nil {
		return finishErr
	}

	if code, ok := eng.ExitRequested(); ok {
		exitCode = code
	} else {
		exitCode = reporter.ExitCode()
	}
	return nil
}

// applyConfigDefaults lets the config file supply defaults for flags
// the user did not set on the command line.
func applyConfigDefaults(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	d := cfg.Defaults
	if !set("parser") && d.Parser != "" {
		parserFlag = d.Parser
	}
	if !set("output-format") && d.OutputFormat != "" {
		outputFormat = d.OutputFormat
	}
	if !set("multiline") && d.Multiline != "" {
		multilineFlag = d.Multiline
	}
	if !set("join") && d.Join != "" {
		joinFlag = d.Join
	}
	if !set("threads") && d.Threads != 0 {
		threadsFlag = d.Threads
	}
	if !set("batch-size") && d.BatchSize != 0 {
		batchSize = d.BatchSize
	}
	if !set("batch-timeout") && d.BatchTimeout != "" {
		batchTimeout = d.BatchTimeout
	}
	if !set("color") && d.Color != "" {
		colorFlag = d.Color
	}
	if !set("checkpoint") && cfg.Checkpoint.Store != "" {
		checkpointFlag = cfg.Checkpoint.Store
	}
}

// multilineSpec maps the flag's "line" default to the chunker's empty
// spec (no grouping).
func multilineSpec(s string) string {
	if s == "line" {
		return ""
	}
	return s
}

func buildParser() (parser.Parser, error) {
	// --keys doubles as the column list for header-less CSV input.
	if parserFlag == "csv" && len(keysFlag) > 0 {
		return parser.NewCSVParser(keysFlag), nil
	}
	return parser.New(parserFlag)
}

func resolveColor() (bool, error) {
	switch colorFlag {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "auto":
		if outputFile != "" {
			return false, nil
		}
		fi, err := os.Stdout.Stat()
		if err != nil {
			return false, nil
		}
		return fi.Mode()&os.ModeCharDevice != 0, nil
	default:
		return false, lserrors.Usage("--color accepts auto, always, or never, got %q", colorFlag)
	}
}

// buildOutput resolves the destination stream and formatter. The
// returned closeOut flushes buffering and closes any opened file; it is
// safe to call once even on error paths.
func buildOutput(color bool) (io.Writer, writer.Formatter, *writer.DuckDBSink, func(), error) {
	if outputFormat == "duckdb" {
		sink, err := writer.NewDuckDBSink(outputFile)
		if err != nil {
			return nil, nil, nil, func() {}, err
		}
		return io.Discard, nil, sink, func() {}, nil
	}

	formatter, err := writer.New(outputFormat, writer.Options{Keys: keysFlag, Color: color})
	if err != nil {
		return nil, nil, nil, func() {}, err
	}

	dst := io.Writer(os.Stdout)
	var file *os.File
	if outputFile != "" {
		file, err = os.Create(outputFile)
		if err != nil {
			return nil, nil, nil, func() {}, lserrors.Wrapf(err, lserrors.SeverityFatal,
				lserrors.CodeWriteFailed, "creating %s", outputFile)
		}
		dst = file
	}
	buf := bufio.NewWriterSize(dst, 64*1024)
	closed := false
	closeOut := func() {
		if closed {
			return
		}
		closed = true
		buf.Flush()
		if file != nil {
			file.Close()
		}
	}
	return buf, formatter, nil, closeOut, nil
}

// buildInputs turns the positional arguments into engine inputs. No
// arguments (or "-") reads stdin; s3:// URLs stream from object
// storage; .gz files decompress transparently.
func buildInputs(args []string, cfg *config.Config) ([]engine.Input, error) {
	if len(args) == 0 {
		args = []string{"-"}
	}
	inputs := make([]engine.Input, 0, len(args))
	for _, arg := range args {
		arg := arg
		switch {
		case arg == "-":
			inputs = append(inputs, engine.Input{
				Name: "stdin",
				Open: func(ctx context.Context) (io.ReadCloser, error) {
					return io.NopCloser(os.Stdin), nil
				},
			})
		case s3.IsURL(arg):
			inputs = append(inputs, engine.Input{Name: arg, Open: openS3(arg, cfg.S3)})
		default:
			inputs = append(inputs, engine.Input{Name: arg, Open: openFile(arg)})
		}
	}
	return inputs, nil
}

func openFile(path string) func(ctx context.Context) (io.ReadCloser, error) {
	return func(ctx context.Context) (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, lserrors.Wrapf(err, lserrors.SeverityFatal, lserrors.CodeFileOpen,
				"opening %s", path)
		}
		var size int64
		if fi, err := f.Stat(); err == nil {
			size = fi.Size()
		}
		return wrapInput(f, path, size)
	}
}

func openS3(url string, s3cfg config.S3Config) func(ctx context.Context) (io.ReadCloser, error) {
	return func(ctx context.Context) (io.ReadCloser, error) {
		bucket, key, err := s3.ParseURL(url)
		if err != nil {
			return nil, err
		}
		client, err := s3.NewClient(ctx, s3.Config{
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			UsePathStyle:    s3cfg.PathStyle,
			AccessKeyID:     s3cfg.AccessKey,
			SecretAccessKey: s3cfg.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		rc, size, err := client.Reader(ctx, bucket, key)
		if err != nil {
			return nil, err
		}
		return wrapInput(rc, url, size)
	}
}

// wrapInput layers the optional progress bar and gzip decompression
// over a raw input stream. The progress bar counts compressed bytes so
// it tracks the known source size.
func wrapInput(rc io.ReadCloser, name string, size int64) (io.ReadCloser, error) {
	r := io.Reader(rc)
	closers := []func() error{rc.Close}

	if progress && size > 0 {
		bar := tui.ShowProgress(size, name)
		r = io.TeeReader(r, bar)
		closers = append(closers, bar.Finish)
	}

	if strings.HasSuffix(name, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			rc.Close()
			return nil, lserrors.Wrapf(err, lserrors.SeverityFatal, lserrors.CodeDecompress,
				"reading gzip header of %s", name)
		}
		r = gz
		closers = append(closers, gz.Close)
	}

	return &layeredReader{r: r, closers: closers}, nil
}

type layeredReader struct {
	r       io.Reader
	closers []func() error
}

func (l *layeredReader) Read(p []byte) (int, error) { return l.r.Read(p) }

func (l *layeredReader) Close() error {
	var first error
	for i := len(l.closers) - 1; i >= 0; i-- {
		if err := l.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func buildSelectors() (engine.Selectors, error) {
	sel := engine.Selectors{
		Levels:        levelsFlag,
		ExcludeLevels: exclLevelsFlag,
		Keys:          keysFlag,
		ExcludeKeys:   exclKeysFlag,
	}
	var err error
	if sinceFlag != "" {
		if sel.Since, err = parseTimeBound(sinceFlag); err != nil {
			return sel, err
		}
	}
	if untilFlag != "" {
		if sel.Until, err = parseTimeBound(untilFlag); err != nil {
			return sel, err
		}
	}
	return sel, nil
}

// parseTimeBound accepts an absolute timestamp in any recognized layout
// or a relative duration like "15m" or "2d", meaning that long ago.
func parseTimeBound(s string) (time.Time, error) {
	if d, err := str2duration.ParseDuration(s); err == nil {
		return time.Now().Add(-d), nil
	}
	if t, ok := pool.ParseTimestamp(s); ok {
		return t, nil
	}
	return time.Time{}, lserrors.Usage("cannot parse time bound %q (try a timestamp or 15m, 2h, 1d)", s)
}

// runFollow tails the inputs through a sequential session, persisting
// offsets to the checkpoint store between flushes.
func runFollow(ctx context.Context, eng *engine.Engine, paths []string) error {
	var store checkpoint.Store
	if checkpointFlag != "" {
		var err error
		store, err = checkpoint.Open(ctx, checkpointFlag)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	sess, err := eng.NewSession()
	if err != nil {
		return err
	}

	tailer, err := follow.New(ctx, sess, store, paths)
	if err != nil {
		return err
	}
	runErr := tailer.Run(ctx)
	if err := sess.Finish(true); err != nil && !engine.IsStop(err) && runErr == nil {
		runErr = err
	}
	if runErr != nil && ctx.Err() != nil {
		// Cancellation is the normal way out of a tail; the signal
		// handler owns the exit code.
		return nil
	}
	return runErr
}

// finish drains the sink, prints the error summary, and emits run
// statistics.
func finish(sink *writer.DuckDBSink, reporter *lserrors.Reporter, st *stats.Stats, color bool) error {
	var err error
	if sink != nil {
		if cerr := sink.Close(); cerr != nil {
			err = cerr
		} else if statsFlag {
			fmt.Fprintf(os.Stderr, "wrote %d rows to %s\n", sink.Rows(), outputFile)
		}
	}
	if summary := reporter.Summary(); summary != "" {
		fmt.Fprint(os.Stderr, summary)
	}
	if statsFlag {
		fmt.Fprint(os.Stderr, st.Render(color))
	}
	if metricsFile != "" {
		if werr := st.WriteMetricsFile(metricsFile); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}
