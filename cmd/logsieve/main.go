// logsieve - scriptable log processing
// Reassembles multiline records, runs CEL filter/transform stages over
// each record, and emits formatted output, sequentially or in parallel.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/logsieve/logsieve/pkg/config"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	multilineFlag string
	joinFlag      string
	parserFlag    string

	filterFlags []string
	execFlags   []string
	beginFlags  []string
	endFlags    []string

	outputFormat string
	outputFile   string
	keysFlag     []string
	exclKeysFlag []string

	levelsFlag     []string
	exclLevelsFlag []string
	sinceFlag      string
	untilFlag      string
	takeFlag       int
	skipLinesFlag  int
	ignoreLines    string
	tsFieldFlag    string
	tsFormatFlag   string

	parallelFlag bool
	threadsFlag  int
	batchSize    int
	batchTimeout string

	strictFlag  bool
	quietCount  int
	verboseFlag bool
	colorFlag   string

	statsFlag   bool
	statsOnly   bool
	metricsFile string
	progress    bool

	followFlag     bool
	checkpointFlag string

	aliasFlags []string
)

var rootCmd = &cobra.Command{
	Use:   "logsieve [flags] [file ...]",
	Short: "Scriptable log filtering and transformation",
	Long: `logsieve ingests log streams, reassembles multiline records, runs
CEL filter/transform expressions over each record, and emits formatted
output. Sequential and parallel runs produce byte-identical output.

Inputs are files, s3://bucket/key URLs, or stdin ("-" or no argument);
.gz inputs decompress transparently. Stage flags apply in the exact
order they appear on the command line.

Examples:
  logsieve --filter 'e.level == "error"' app.log
  logsieve -m indent -e 'set("host", "web1")' --output-format json app.log
  cat app.log | logsieve --filter 'matches(e.msg, "timeout")' --parallel
  logsieve --follow --checkpoint offsets.json /var/log/app.log
  logsieve -a errs s3://logs/app/today.log.gz`,
	Args:          cobra.ArbitraryArgs,
	RunE:          runRoot,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("logsieve %s (%s)\n", version, commit)
	},
}

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List input parsers and output formats",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Input parsers (--parser):")
		fmt.Println("  auto      detect on the first record (default)")
		fmt.Println("  line      raw text, one msg field")
		fmt.Println("  json      one JSON object per record")
		fmt.Println("  logfmt    key=value pairs")
		fmt.Println("  syslog    RFC3164-style syslog lines")
		fmt.Println("  combined  Apache/Nginx access log")
		fmt.Println("  csv       header row or --keys columns")
		fmt.Println()
		fmt.Println("Output formats (--output-format):")
		fmt.Println("  default   ts level msg k=v (colored on a TTY)")
		fmt.Println("  json      one object per line, field order preserved")
		fmt.Println("  logfmt    key=value pairs")
		fmt.Println("  csv       columns fixed by --keys")
		fmt.Println("  duckdb    append to an events table in --output-file")
	},
}

func init() {
	f := rootCmd.Flags()

	f.StringVarP(&multilineFlag, "multiline", "m", "line", "Multiline strategy (line, all, indent, timestamp[:format=LAYOUT], regex:start=PAT[:end=PAT])")
	f.StringVar(&joinFlag, "join", "newline", "Join policy between grouped lines (newline, space, empty)")
	f.StringVarP(&parserFlag, "parser", "p", "auto", "Input parser (auto, line, json, logfmt, syslog, combined, csv)")

	f.StringArrayVar(&filterFlags, "filter", nil, "Filter stage: drop events where EXPR is false (repeatable)")
	f.StringArrayVarP(&execFlags, "exec", "e", nil, "Exec stage: evaluate EXPR for effect; map results merge into the event (repeatable)")
	f.StringArrayVar(&beginFlags, "begin", nil, "Run EXPR once before the first event (repeatable)")
	f.StringArrayVar(&endFlags, "end", nil, "Run EXPR once after the last event (repeatable)")

	f.StringVar(&outputFormat, "output-format", "default", "Output format (default, json, logfmt, csv, duckdb)")
	f.StringVarP(&outputFile, "output-file", "o", "", "Write output to a file (the database path for duckdb)")
	f.StringSliceVar(&keysFlag, "keys", nil, "Project output to these fields, in order")
	f.StringSliceVar(&exclKeysFlag, "exclude-keys", nil, "Drop these fields from output")

	f.StringSliceVar(&levelsFlag, "levels", nil, "Keep only events with one of these levels")
	f.StringSliceVar(&exclLevelsFlag, "exclude-levels", nil, "Drop events with one of these levels")
	f.StringVar(&sinceFlag, "since", "", "Keep events at or after this time (layout or relative like 15m, 2h, 1d)")
	f.StringVar(&untilFlag, "until", "", "Keep events at or before this time")
	f.IntVar(&takeFlag, "take", 0, "Stop after N emitted events")
	f.IntVar(&skipLinesFlag, "skip-lines", 0, "Skip the first N input lines")
	f.StringVar(&ignoreLines, "ignore-lines", "", "Drop raw lines matching this regex before chunking")
	f.StringVar(&tsFieldFlag, "ts-field", "", "Field holding the event timestamp")
	f.StringVar(&tsFormatFlag, "ts-format", "", "Go time layout for --ts-field")

	f.BoolVar(&parallelFlag, "parallel", false, "Process in parallel worker batches")
	f.IntVar(&threadsFlag, "threads", 0, "Worker count for --parallel (0 = all CPUs)")
	f.IntVar(&batchSize, "batch-size", 1000, "Chunks per parallel batch")
	f.StringVar(&batchTimeout, "batch-timeout", "200ms", "Flush a short batch after this long")

	f.BoolVar(&strictFlag, "strict", false, "Abort on per-record parse/eval errors")
	f.CountVarP(&quietCount, "quiet", "q", "Suppress per-record diagnostics (-qq: summary at end)")
	f.BoolVarP(&verboseFlag, "verbose", "v", false, "Verbose diagnostics")
	f.StringVar(&colorFlag, "color", "auto", "Colorize default output (auto, always, never)")

	f.BoolVar(&statsFlag, "stats", false, "Print run statistics to stderr")
	f.BoolVar(&statsOnly, "stats-only", false, "Suppress the data stream, print statistics only")
	f.StringVar(&metricsFile, "metrics-file", "", "Write run counters and track() values as JSON")
	f.BoolVar(&progress, "progress", false, "Show a progress bar for file inputs")

	f.BoolVar(&followFlag, "follow", false, "Tail file inputs for appended lines (sequential only)")
	f.StringVar(&checkpointFlag, "checkpoint", "", "Follow-mode resume store: a file path or redis:// URL")

	f.StringArrayVarP(&aliasFlags, "alias", "a", nil, "Expand a named flag bundle from the config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(formatsCmd)
}

// expandedArgs is the argv after alias expansion; stage collection
// scans it to preserve flag interleaving.
var expandedArgs []string

// receivedSignal records the first terminating signal.
var receivedSignal atomic.Int64

// exitCode is the code runRoot settled on when it returned nil.
var exitCode = lserrors.ExitSuccess

func main() {
	os.Exit(run())
}

func run() int {
	args, err := expandAliases(os.Args[1:], config.Global().Alias)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logsieve: "+err.Error())
		return lserrors.ExitUsage
	}
	expandedArgs = args
	rootCmd.SetArgs(args)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		receivedSignal.Store(int64(sig.(syscall.Signal)))
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "logsieve: "+err.Error())
		if code, ok := signalExit(); ok {
			return code
		}
		switch {
		case errors.Is(err, syscall.EPIPE):
			return lserrors.ExitPipe
		case lserrors.IsCode(err, lserrors.CodeUsage):
			return lserrors.ExitUsage
		case !flagsParsed:
			// cobra rejected the command line before runRoot started
			return lserrors.ExitUsage
		default:
			return lserrors.ExitError
		}
	}

	if code, ok := signalExit(); ok {
		return code
	}
	return exitCode
}

// flagsParsed distinguishes cobra flag-parse failures from runtime
// errors for exit-code purposes.
var flagsParsed bool

func signalExit() (int, bool) {
	switch syscall.Signal(receivedSignal.Load()) {
	case syscall.SIGINT:
		return lserrors.ExitInterrupt, true
	case syscall.SIGTERM:
		return lserrors.ExitTerm, true
	}
	return 0, false
}
