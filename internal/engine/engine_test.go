package engine

import (
	"bytes"
	"context"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/logsieve/logsieve/internal/chunker"
	"github.com/logsieve/logsieve/internal/script"
	"github.com/logsieve/logsieve/internal/stats"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
	"github.com/logsieve/logsieve/pkg/parser"
	"github.com/logsieve/logsieve/pkg/writer"
)

// testRun holds one engine run's wiring and captured streams.
type testRun struct {
	eng  *Engine
	out  *bytes.Buffer
	diag *bytes.Buffer
}

func mustCompile(t *testing.T, expr string) *regexp.Regexp {
	t.Helper()
	re, err := regexp.Compile(expr)
	if err != nil {
		t.Fatal(err)
	}
	return re
}

func stringInput(name, content string) Input {
	return Input{
		Name: name,
		Open: func(context.Context) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func newTestRun(t *testing.T, input string, parallel bool, mutate func(*Config)) *testRun {
	t.Helper()
	ch, err := chunker.New("", chunker.JoinNewline)
	if err != nil {
		t.Fatal(err)
	}
	out := &bytes.Buffer{}
	diag := &bytes.Buffer{}
	cfg := Config{
		Inputs:       []Input{stringInput("test.log", input)},
		Chunker:      ch,
		Parser:       parser.LogfmtParser{},
		Formatter:    writer.LogfmtFormatter{},
		Out:          out,
		Diag:         diag,
		Reporter:     lserrors.NewReporter(lserrors.ReportPrint),
		Stats:        stats.New(),
		Parallel:     parallel,
		Threads:      4,
		BatchSize:    2,
		BatchTimeout: 50 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	eng, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return &testRun{eng: eng, out: out, diag: diag}
}

const sampleInput = `level=info msg=one n=1
level=error msg=two n=2
level=info msg=three n=3
level=error msg=four n=4
level=info msg=five n=5
`

func TestSequentialFilterAndOutput(t *testing.T) {
	r := newTestRun(t, sampleInput, false, func(cfg *Config) {
		cfg.Stages = []script.Stage{{Kind: script.StageFilter, Source: `e.level == "error"`}}
	})
	if err := r.eng.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := "level=error msg=two n=2\nlevel=error msg=four n=4\n"
	if r.out.String() != want {
		t.Errorf("out = %q, want %q", r.out.String(), want)
	}
	if got := r.eng.cfg.Stats.EventsDropped.Load(); got != 3 {
		t.Errorf("EventsDropped = %d, want 3", got)
	}
}

// Sequential and parallel runs over the same input and stages must
// produce byte-identical output, captured prints included.
func TestSequentialParallelByteIdentity(t *testing.T) {
	stages := []script.Stage{
		{Kind: script.StageExec, Source: `e.n >= 3 ? print("big: " + e.msg) : true`},
		{Kind: script.StageFilter, Source: `e.level == "info"`},
		{Kind: script.StageExec, Source: `{"seen": true}`},
	}

	seq := newTestRun(t, sampleInput, false, func(cfg *Config) {
		cfg.Stages = stages
	})
	if err := seq.eng.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, batchSize := range []int{1, 2, 100} {
		par := newTestRun(t, sampleInput, true, func(cfg *Config) {
			cfg.Stages = stages
			cfg.BatchSize = batchSize
		})
		if err := par.eng.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
		if par.out.String() != seq.out.String() {
			t.Errorf("batch-size %d: parallel out = %q, sequential = %q",
				batchSize, par.out.String(), seq.out.String())
		}
		if par.diag.String() != seq.diag.String() {
			t.Errorf("batch-size %d: parallel diag = %q, sequential = %q",
				batchSize, par.diag.String(), seq.diag.String())
		}
	}
}

func TestParallelStateAccessFailsFast(t *testing.T) {
	r := newTestRun(t, sampleInput, true, func(cfg *Config) {
		cfg.Stages = []script.Stage{{Kind: script.StageExec, Source: `state_set("count", 1)`}}
	})
	err := r.eng.Run(context.Background())
	if err == nil {
		t.Fatal("state access in parallel mode must fail")
	}
	if got := lserrors.SeverityOf(err); got != lserrors.SeverityHard {
		t.Errorf("severity = %v, want hard", got)
	}
	if !strings.Contains(err.Error(), "parallel") {
		t.Errorf("error %q does not explain the parallel restriction", err)
	}
}

func TestSequentialStateAccumulates(t *testing.T) {
	r := newTestRun(t, sampleInput, false, func(cfg *Config) {
		cfg.Stages = []script.Stage{
			{Kind: script.StageBegin, Source: `state_set("count", 0)`},
			{Kind: script.StageExec, Source: `state_set("count", state["count"] + 1)`},
			{Kind: script.StageEnd, Source: `print("total " + string(state["count"]))`},
		}
	})
	if err := r.eng.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(r.out.String(), "total 5\n") {
		t.Errorf("end stage did not see accumulated state:\n%s", r.out.String())
	}
}

func TestInputBoundaryClosesChunk(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		r := newTestRun(t, "", parallel, func(cfg *Config) {
			ch, err := chunker.New("indent", chunker.JoinNewline)
			if err != nil {
				t.Fatal(err)
			}
			cfg.Chunker = ch
			cfg.Parser = parser.LineParser{}
			cfg.Inputs = []Input{
				stringInput("a.log", "first\n  cont\n"),
				stringInput("b.log", "  stray\nsecond\n"),
			}
		})
		if err := r.eng.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
		// b.log's indented first line must not join a.log's open chunk.
		if got := r.eng.cfg.Stats.ChunksBuilt.Load(); got != 3 {
			t.Errorf("parallel=%v: %d chunks, want 3", parallel, got)
		}
	}
}

func TestTakeLimit(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		r := newTestRun(t, sampleInput, parallel, func(cfg *Config) {
			cfg.Take = 2
		})
		if err := r.eng.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
		lines := strings.Count(r.out.String(), "\n")
		if lines != 2 {
			t.Errorf("parallel=%v: output %d lines, want 2:\n%s", parallel, lines, r.out.String())
		}
	}
}

func TestScriptExit(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		r := newTestRun(t, sampleInput, parallel, func(cfg *Config) {
			cfg.Stages = []script.Stage{
				{Kind: script.StageExec, Source: `e.n == 3 ? exit(7) : true`},
			}
		})
		if err := r.eng.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
		code, requested := r.eng.ExitRequested()
		if !requested || code != 7 {
			t.Errorf("parallel=%v: exit = (%d, %v), want (7, true)", parallel, code, requested)
		}
		// The current event still completes; later events do not.
		if !strings.Contains(r.out.String(), "msg=three") {
			t.Errorf("parallel=%v: event triggering exit was lost:\n%s", parallel, r.out.String())
		}
		if strings.Contains(r.out.String(), "msg=five") {
			t.Errorf("parallel=%v: events after exit were emitted:\n%s", parallel, r.out.String())
		}
	}
}

func TestStrictModeAbortsOnParseError(t *testing.T) {
	input := "level=info msg=ok\n== not logfmt ==\nlevel=info msg=after\n"

	resilient := newTestRun(t, input, false, nil)
	if err := resilient.eng.Run(context.Background()); err != nil {
		t.Fatalf("resilient run failed: %v", err)
	}
	if !strings.Contains(resilient.out.String(), "msg=after") {
		t.Error("resilient mode did not continue past the bad record")
	}
	if resilient.diag.Len() == 0 {
		t.Error("parse error was not reported")
	}

	strict := newTestRun(t, input, false, func(cfg *Config) {
		cfg.Strict = true
	})
	err := strict.eng.Run(context.Background())
	if err == nil {
		t.Fatal("strict run should abort on the parse error")
	}
	if strings.Contains(strict.out.String(), "msg=after") {
		t.Error("strict mode emitted events after the abort")
	}
}

func TestSelectors(t *testing.T) {
	r := newTestRun(t, sampleInput, false, func(cfg *Config) {
		cfg.Select = Selectors{
			Levels:      []string{"error"},
			ExcludeKeys: []string{"n"},
		}
	})
	if err := r.eng.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := "level=error msg=two\nlevel=error msg=four\n"
	if r.out.String() != want {
		t.Errorf("out = %q, want %q", r.out.String(), want)
	}
}

func TestIgnoreAndSkipLines(t *testing.T) {
	r := newTestRun(t, sampleInput, false, func(cfg *Config) {
		cfg.SkipLines = 1
		cfg.IgnoreLines = mustCompile(t, `msg=four`)
	})
	if err := r.eng.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	out := r.out.String()
	if strings.Contains(out, "msg=one") || strings.Contains(out, "msg=four") {
		t.Errorf("skip/ignore not applied:\n%s", out)
	}
	if !strings.Contains(out, "msg=five") {
		t.Errorf("surviving lines missing:\n%s", out)
	}
}
