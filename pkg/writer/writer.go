// Package writer renders surviving events for output. Formatters
// produce one line per event and must be safe for concurrent use, since
// parallel workers format their own batches. The DuckDB sink is the
// exception: it runs only on the coordinator.
package writer

import (
	"strings"

	"github.com/logsieve/logsieve/internal/model"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

// Formatter renders one event as one output line (no trailing newline).
type Formatter interface {
	Format(e *model.Event) string
}

// HeaderFormatter is implemented by formats that emit a header line
// before the first event (CSV).
type HeaderFormatter interface {
	Header() string
}

// Options configure formatter construction.
type Options struct {
	// Keys is the --keys projection, required for csv output.
	Keys []string

	// Color enables ANSI styling in the default format.
	Color bool
}

// New builds a formatter from the --output-format value. "duckdb" is
// not constructed here: the engine builds the sink itself because it
// needs the output path.
func New(spec string, opts Options) (Formatter, error) {
	switch spec {
	case "", "default":
		return NewDefault(opts.Color), nil
	case "json", "jsonl":
		return JSONFormatter{}, nil
	case "logfmt":
		return LogfmtFormatter{}, nil
	case "csv":
		if len(opts.Keys) == 0 {
			return nil, lserrors.Usage("csv output requires --keys to fix the column order")
		}
		return NewCSV(opts.Keys), nil
	default:
		return nil, lserrors.Usage("unknown output format %q", spec)
	}
}

// needsQuoting reports whether a logfmt-style value must be quoted.
func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	return strings.ContainsAny(s, " \t\n\"=")
}

// appendQuoted writes s double-quoted with backslash escapes.
func appendQuoted(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteByte(s[i])
		}
	}
	sb.WriteByte('"')
}
