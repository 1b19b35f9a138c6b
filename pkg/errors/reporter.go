package errors

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Process exit codes. Script-requested exit codes take precedence over the
// severity-derived code once buffered output has drained.
const (
	ExitSuccess   = 0
	ExitError     = 1
	ExitUsage     = 2
	ExitInterrupt = 130
	ExitPipe      = 141
	ExitTerm      = 143
)

// ReportMode selects how per-record diagnostics reach stderr.
type ReportMode uint8

const (
	// ReportPrint emits every diagnostic as it happens.
	ReportPrint ReportMode = iota

	// ReportQuiet suppresses individual diagnostics but keeps counting.
	ReportQuiet

	// ReportSummary suppresses individual diagnostics and prints one
	// per-class summary with a few examples at end of run.
	ReportSummary
)

// maxExamples bounds how many sample messages each error class retains
// for the end-of-run summary.
const maxExamples = 3

// Reporter aggregates non-fatal errors across a run. It is safe for
// concurrent use; parallel workers report through the same instance.
type Reporter struct {
	mode ReportMode

	mu       sync.Mutex
	total    int
	counts   map[Code]int
	examples map[Code][]string
	worst    Severity
	hasWorst bool
}

// NewReporter creates a Reporter with the given mode.
func NewReporter(mode ReportMode) *Reporter {
	return &Reporter{
		mode:     mode,
		counts:   make(map[Code]int),
		examples: make(map[Code][]string),
	}
}

// Report records err and returns the diagnostic line to emit now, if any.
// The caller owns the destination: sequential mode writes straight to
// stderr, parallel mode captures the line for ordered replay.
func (r *Reporter) Report(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sev := SeverityOf(err)
	code := CodeOf(err)

	r.total++
	r.counts[code]++
	if len(r.examples[code]) < maxExamples {
		r.examples[code] = append(r.examples[code], err.Error())
	}
	if !r.hasWorst || sev > r.worst {
		r.worst = sev
		r.hasWorst = true
	}

	if r.mode != ReportPrint {
		return "", false
	}
	return fmt.Sprintf("logsieve: %s: %s", sev, err.Error()), true
}

// Total returns the number of reported errors.
func (r *Reporter) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Worst returns the highest severity seen, and whether any error was seen.
func (r *Reporter) Worst() (Severity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.worst, r.hasWorst
}

// Summary renders the end-of-run report for ReportSummary mode. It returns
// an empty string when nothing was reported or the mode does not want one.
func (r *Reporter) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mode != ReportSummary || r.total == 0 {
		return ""
	}

	codes := make([]Code, 0, len(r.counts))
	for code := range r.counts {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	var sb strings.Builder
	fmt.Fprintf(&sb, "logsieve: %d error(s) during processing\n", r.total)
	for _, code := range codes {
		fmt.Fprintf(&sb, "  %s: %d occurrence(s)\n", code, r.counts[code])
		for _, ex := range r.examples[code] {
			fmt.Fprintf(&sb, "    %s\n", ex)
		}
		if r.counts[code] > len(r.examples[code]) {
			fmt.Fprintf(&sb, "    ... and %d more\n", r.counts[code]-len(r.examples[code]))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// ExitCode maps the worst reported severity to a process exit code.
// Soft and Medium errors leave the exit status at success: resilient
// mode already reported the skipped records, and strict mode aborts
// before reaching here.
func (r *Reporter) ExitCode() int {
	worst, ok := r.Worst()
	if !ok || worst < SeverityHard {
		return ExitSuccess
	}
	return ExitError
}
