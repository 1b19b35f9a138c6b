package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/logsieve/logsieve/internal/model"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

// LogfmtParser decodes key=value pairs separated by whitespace. Values
// may be double-quoted with backslash escapes; a bare key with no "="
// becomes a true boolean flag.
type LogfmtParser struct{}

// Name implements Parser.
func (LogfmtParser) Name() string { return "logfmt" }

// Parse implements Parser.
func (p LogfmtParser) Parse(chunk model.Chunk) (*model.Event, error) {
	e := model.NewEvent(chunk.Text, chunk.File, chunk.LNum)
	s := chunk.Text
	i := 0
	pairs := 0
	for i < len(s) {
		for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n') {
			i++
		}
		if i == len(s) {
			break
		}
		start := i
		for i < len(s) && s[i] != '=' && s[i] != ' ' && s[i] != '\t' && s[i] != '\n' {
			i++
		}
		key := s[start:i]
		if key == "" {
			return nil, lserrors.ParseError(p.Name(), chunk.LNum,
				fmt.Errorf("bare %q at offset %d", s[i], i))
		}
		if i == len(s) || s[i] != '=' {
			e.Set(key, model.Bool(true))
			pairs++
			continue
		}
		i++ // consume '='
		var val string
		if i < len(s) && s[i] == '"' {
			end, unquoted, err := readQuoted(s, i)
			if err != nil {
				return nil, lserrors.ParseError(p.Name(), chunk.LNum, err)
			}
			i = end
			val = unquoted
			e.Set(key, model.String(val))
		} else {
			start = i
			for i < len(s) && s[i] != ' ' && s[i] != '\t' && s[i] != '\n' {
				i++
			}
			val = s[start:i]
			e.Set(key, typedScalar(val))
		}
		pairs++
	}
	if pairs == 0 {
		return nil, lserrors.ParseError(p.Name(), chunk.LNum,
			fmt.Errorf("no key=value pairs in %q", truncate(s, 40)))
	}
	return e, nil
}

// readQuoted parses a double-quoted value starting at the opening quote,
// returning the index just past the closing quote.
func readQuoted(s string, start int) (int, string, error) {
	i := start + 1
	var sb strings.Builder
	for i < len(s) {
		switch s[i] {
		case '\\':
			if i+1 >= len(s) {
				return 0, "", fmt.Errorf("dangling escape at offset %d", i)
			}
			switch s[i+1] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				sb.WriteByte(s[i+1])
			}
			i += 2
		case '"':
			return i + 1, sb.String(), nil
		default:
			sb.WriteByte(s[i])
			i++
		}
	}
	return 0, "", fmt.Errorf("unterminated quote starting at offset %d", start)
}

// typedScalar converts an unquoted logfmt value to its natural type.
// Quoted values always stay strings.
func typedScalar(s string) model.Value {
	switch s {
	case "":
		return model.String("")
	case "true":
		return model.Bool(true)
	case "false":
		return model.Bool(false)
	case "null":
		return model.Null()
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return model.Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return model.Float(f)
	}
	return model.String(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
