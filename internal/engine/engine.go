// Package engine orchestrates the pipeline: lines through the chunker,
// chunks through the format parser, events through the script stages,
// survivors to the output writer. Two modes share one observable
// contract: sequential (ordered, stateful) and parallel (batched,
// state-denied) runs produce byte-identical output streams.
package engine

import (
	"context"
	"errors"
	"io"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/logsieve/logsieve/internal/chunker"
	"github.com/logsieve/logsieve/internal/model"
	"github.com/logsieve/logsieve/internal/script"
	"github.com/logsieve/logsieve/internal/stats"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
	"github.com/logsieve/logsieve/pkg/parser"
	"github.com/logsieve/logsieve/pkg/writer"
)

// Input is one named line source. Open is called once when the engine
// reaches it; the engine closes the reader.
type Input struct {
	Name string
	Open func(ctx context.Context) (io.ReadCloser, error)
}

// Selectors are the built-in pre/post-script filters.
type Selectors struct {
	// Levels keeps only events whose level is in the set; ExcludeLevels
	// drops matches. Both compare normalized upper-case levels.
	Levels        []string
	ExcludeLevels []string

	// Since/Until bound the event timestamp window. Zero means unset.
	// Events without a parsed timestamp pass both bounds.
	Since time.Time
	Until time.Time

	// Keys projects the output fields (in the given order); ExcludeKeys
	// removes fields. Applied after the script stages.
	Keys        []string
	ExcludeKeys []string
}

// Config wires the engine's collaborators. The CLI builds everything;
// the engine only orchestrates.
type Config struct {
	Inputs []Input

	Chunker *chunker.Chunker

	// Parser is nil for auto-detection on the first chunk.
	Parser parser.Parser

	Stages []script.Stage

	Formatter writer.Formatter

	// Sink, when set, receives events instead of formatted lines.
	Sink *writer.DuckDBSink

	Out  io.Writer
	Diag io.Writer

	Reporter *lserrors.Reporter
	Stats    *stats.Stats

	// Strict promotes Medium errors to aborts.
	Strict bool

	// StatsOnly suppresses the data stream.
	StatsOnly bool

	// Parallel mode parameters.
	Parallel     bool
	Threads      int
	BatchSize    int
	BatchTimeout time.Duration

	// Line-level pre-filters.
	SkipLines   int
	IgnoreLines *regexp.Regexp

	Select Selectors

	// Take stops the run after N emitted events. 0 means unlimited.
	Take int

	// Timestamp extraction overrides.
	TSField  string
	TSFormat string
}

// Engine is one run of the pipeline.
type Engine struct {
	cfg Config

	parser parser.Parser
	primed bool

	wroteHeader bool
	outputCount int64

	stopped  atomic.Bool
	exitSet  atomic.Bool
	exitCode atomic.Int64
}

// New validates the configuration and builds an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Parallel {
		if cfg.Threads < 1 {
			return nil, lserrors.Usage("parallel mode needs at least one worker thread")
		}
		if cfg.BatchSize < 1 {
			return nil, lserrors.Usage("batch size must be positive")
		}
		if cfg.BatchTimeout <= 0 {
			return nil, lserrors.Usage("batch timeout must be positive")
		}
	}
	return &Engine{cfg: cfg, parser: cfg.Parser}, nil
}

// Run executes the pipeline to completion.
func (e *Engine) Run(ctx context.Context) error {
	if e.cfg.Parallel {
		return e.runParallel(ctx)
	}
	return e.runSequential(ctx)
}

// ExitRequested returns a script-requested exit code, if any.
func (e *Engine) ExitRequested() (int, bool) {
	return int(e.exitCode.Load()), e.exitSet.Load()
}

// requestExit records the first script exit request and stops intake.
func (e *Engine) requestExit(code int) {
	if e.exitSet.CompareAndSwap(false, true) {
		e.exitCode.Store(int64(code))
	}
	e.stopped.Store(true)
}

// errStop unwinds the read loop on take limits and exit requests. It
// never escapes Run; follow-mode callers driving a Session directly
// test for it with IsStop.
var errStop = lserrors.New(lserrors.SeveritySoft, lserrors.CodeCanceled, "stop")

// IsStop reports whether a Session call ended the run normally, by a
// take limit or a scripted exit.
func IsStop(err error) bool {
	return errors.Is(err, errStop)
}

// report routes one non-aborting error through the reporter, counting
// it and emitting the diagnostic line through emit (stderr directly in
// sequential mode, the capture buffer in workers).
func (e *Engine) report(err error, emit func(string)) {
	e.cfg.Stats.CountError(err)
	if line, ok := e.cfg.Reporter.Report(err); ok {
		emit(line)
	}
}

// resolveParser returns the parser, detecting on the first chunk when
// the format was left on auto, and priming header-consuming parsers.
// The second return is true when the chunk was consumed by priming.
func (e *Engine) resolveParser(chunk model.Chunk) (parser.Parser, bool, error) {
	if e.parser == nil {
		e.parser = parser.Detect(chunk)
	}
	if !e.primed {
		e.primed = true
		if p, ok := e.parser.(parser.Primer); ok {
			consumed, err := p.Prime(chunk)
			if err != nil {
				return nil, false, err
			}
			if consumed {
				return e.parser, true, nil
			}
		}
	}
	return e.parser, false, nil
}

// parseChunk builds the event for one chunk and extracts its timestamp.
func (e *Engine) parseChunk(p parser.Parser, chunk model.Chunk, emit func(string)) (*model.Event, error) {
	ev, err := p.Parse(chunk)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, nil
	}
	e.cfg.Stats.EventsParsed.Add(1)
	if err := parser.ExtractTimestamp(ev, e.cfg.TSField, e.cfg.TSFormat); err != nil {
		e.report(err, emit)
	}
	return ev, nil
}

// preSelect applies the level and timestamp window selectors.
func (e *Engine) preSelect(ev *model.Event) bool {
	sel := e.cfg.Select
	if len(sel.Levels) > 0 || len(sel.ExcludeLevels) > 0 {
		level := ev.Level()
		if len(sel.Levels) > 0 && !containsLevel(sel.Levels, level) {
			return false
		}
		if containsLevel(sel.ExcludeLevels, level) {
			return false
		}
	}
	if !sel.Since.IsZero() || !sel.Until.IsZero() {
		if ts, ok := ev.Timestamp(); ok {
			if !sel.Since.IsZero() && ts.Before(sel.Since) {
				return false
			}
			if !sel.Until.IsZero() && ts.After(sel.Until) {
				return false
			}
		}
	}
	return true
}

func containsLevel(set []string, level string) bool {
	for _, l := range set {
		if model.NormalizeLevel(l) == level {
			return true
		}
	}
	return false
}

// project applies the output field projection.
func (e *Engine) project(ev *model.Event) {
	if len(e.cfg.Select.Keys) > 0 || len(e.cfg.Select.ExcludeKeys) > 0 {
		ev.Project(e.cfg.Select.Keys, e.cfg.Select.ExcludeKeys)
	}
}

// emitEvent writes one surviving event to the configured destination.
// It returns errStop once the take limit is reached.
func (e *Engine) emitEvent(ev *model.Event, formatted string) error {
	e.cfg.Stats.EventsOutput.Add(1)
	if !e.cfg.StatsOnly {
		if e.cfg.Sink != nil {
			if err := e.cfg.Sink.WriteEvent(ev); err != nil {
				return err
			}
		} else {
			if err := e.writeHeaderOnce(); err != nil {
				return err
			}
			if _, err := io.WriteString(e.cfg.Out, formatted+"\n"); err != nil {
				return lserrors.Wrap(err, lserrors.SeverityFatal, lserrors.CodeWriteFailed,
					"writing output")
			}
		}
	}
	e.outputCount++
	if e.cfg.Take > 0 && e.outputCount >= int64(e.cfg.Take) {
		e.stopped.Store(true)
		return errStop
	}
	return nil
}

func (e *Engine) writeHeaderOnce() error {
	if e.wroteHeader {
		return nil
	}
	e.wroteHeader = true
	if hf, ok := e.cfg.Formatter.(writer.HeaderFormatter); ok {
		if _, err := io.WriteString(e.cfg.Out, hf.Header()+"\n"); err != nil {
			return lserrors.Wrap(err, lserrors.SeverityFatal, lserrors.CodeWriteFailed,
				"writing header")
		}
	}
	return nil
}
