// Package parser turns completed chunks into events. Every parser is
// safe for concurrent use: parallel workers share one instance per run.
package parser

import (
	"strings"

	"github.com/logsieve/logsieve/internal/model"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

// Parser converts one chunk into one event. A nil event with a nil
// error means the chunk carried no record (a CSV header row).
type Parser interface {
	// Name returns the format name as accepted by --format.
	Name() string

	// Parse builds the event for one chunk. Failures are Medium errors
	// carrying the format and line number.
	Parse(chunk model.Chunk) (*model.Event, error)
}

// Primer is implemented by parsers that consume the stream's first chunk
// for setup instead of producing an event. The engine primes on the
// coordinator before any worker runs, so priming never races.
type Primer interface {
	// Prime inspects the first chunk. It reports whether the chunk was
	// consumed and must not be parsed again.
	Prime(chunk model.Chunk) (consumed bool, err error)
}

// New builds a parser from the --format value. Supported:
// "line", "json", "jsonl", "logfmt", "syslog", "combined",
// "csv[:cols=a,b,c]", and "auto" (empty string).
func New(spec string) (Parser, error) {
	switch {
	case spec == "" || spec == "auto":
		// Resolved by Detect on the first chunk.
		return nil, nil
	case spec == "line":
		return LineParser{}, nil
	case spec == "json" || spec == "jsonl" || spec == "ndjson":
		return JSONParser{}, nil
	case spec == "logfmt":
		return LogfmtParser{}, nil
	case spec == "syslog":
		return SyslogParser{}, nil
	case spec == "combined":
		return CombinedParser{}, nil
	case spec == "csv":
		return NewCSVParser(nil), nil
	case strings.HasPrefix(spec, "csv:"):
		cols, ok := strings.CutPrefix(strings.TrimPrefix(spec, "csv:"), "cols=")
		if !ok || cols == "" {
			return nil, lserrors.Usage("csv format options: csv:cols=a,b,c, got %q", spec)
		}
		return NewCSVParser(strings.Split(cols, ",")), nil
	default:
		return nil, lserrors.Usage("unknown input format %q", spec)
	}
}

// Detect picks a parser from the first completed chunk. The filename
// extension is tried first; content probing runs JSON, logfmt, syslog,
// then combined, falling back to the raw line parser.
func Detect(chunk model.Chunk) Parser {
	if p := detectByExtension(chunk.File); p != nil {
		return p
	}
	text := strings.TrimSpace(chunk.Text)
	if text == "" {
		return LineParser{}
	}
	if text[0] == '{' {
		if _, err := (JSONParser{}).Parse(chunk); err == nil {
			return JSONParser{}
		}
	}
	if looksLikeLogfmt(text) {
		return LogfmtParser{}
	}
	if syslogRe.MatchString(text) {
		return SyslogParser{}
	}
	if combinedRe.MatchString(text) {
		return CombinedParser{}
	}
	return LineParser{}
}

func detectByExtension(name string) Parser {
	name = strings.TrimSuffix(strings.ToLower(name), ".gz")
	switch {
	case strings.HasSuffix(name, ".json"), strings.HasSuffix(name, ".jsonl"),
		strings.HasSuffix(name, ".ndjson"):
		return JSONParser{}
	case strings.HasSuffix(name, ".csv"):
		return NewCSVParser(nil)
	default:
		return nil
	}
}

// looksLikeLogfmt accepts lines whose first token is key=value with a
// bare identifier key.
func looksLikeLogfmt(text string) bool {
	first, _, _ := strings.Cut(text, " ")
	key, _, ok := strings.Cut(first, "=")
	if !ok || key == "" {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-' || c == '.' || c == '@':
		default:
			return false
		}
	}
	return true
}
