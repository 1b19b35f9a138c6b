package writer

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/logsieve/logsieve/internal/model"
)

// Level colors follow the tui palette.
var (
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5F87AF"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00"))
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#00CC66"))
	debugStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

// DefaultFormatter renders logfmt-style human output: timestamp and
// level lead when present, the remaining fields follow in insertion
// order as key=value.
type DefaultFormatter struct {
	color bool
}

// NewDefault creates the human-readable formatter.
func NewDefault(color bool) *DefaultFormatter {
	return &DefaultFormatter{color: color}
}

// Format implements Formatter.
func (f *DefaultFormatter) Format(e *model.Event) string {
	var sb strings.Builder

	for _, fd := range e.Fields() {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		if isTimestampField(fd.Name) {
			if ts, ok := e.Timestamp(); ok {
				f.writeStyled(&sb, dimStyle, ts.Format(time.RFC3339))
				continue
			}
		}
		if isLevelField(fd.Name) {
			if s, ok := fd.Value.AsString(); ok {
				f.writeStyled(&sb, levelStyle(model.NormalizeLevel(s)), model.NormalizeLevel(s))
				continue
			}
		}
		if fd.Name == "msg" || fd.Name == "message" {
			sb.WriteString(fd.Value.Render())
			continue
		}
		f.writeStyled(&sb, keyStyle, fd.Name)
		sb.WriteByte('=')
		val := fd.Value.Render()
		if fd.Value.Kind() == model.KindString && needsQuoting(val) {
			appendQuoted(&sb, val)
		} else {
			sb.WriteString(val)
		}
	}
	return sb.String()
}

func (f *DefaultFormatter) writeStyled(sb *strings.Builder, style lipgloss.Style, s string) {
	if f.color {
		sb.WriteString(style.Render(s))
		return
	}
	sb.WriteString(s)
}

func isTimestampField(name string) bool {
	for _, t := range model.TimestampFields {
		if name == t {
			return true
		}
	}
	return false
}

func isLevelField(name string) bool {
	for _, l := range model.LevelFields {
		if name == l {
			return true
		}
	}
	return false
}

func levelStyle(level string) lipgloss.Style {
	switch level {
	case "ERROR", "FATAL":
		return errStyle
	case "WARN":
		return warnStyle
	case "INFO":
		return infoStyle
	default:
		return debugStyle
	}
}

// JSONFormatter emits one JSON object per event, top-level fields in
// insertion order, nested maps with sorted keys.
type JSONFormatter struct{}

// Format implements Formatter.
func (JSONFormatter) Format(e *model.Event) string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, fd := range e.Fields() {
		if i > 0 {
			sb.WriteByte(',')
		}
		model.String(fd.Name).AppendJSON(&sb)
		sb.WriteByte(':')
		fd.Value.AppendJSON(&sb)
	}
	sb.WriteByte('}')
	return sb.String()
}

// LogfmtFormatter emits key=value pairs in insertion order.
type LogfmtFormatter struct{}

// Format implements Formatter.
func (LogfmtFormatter) Format(e *model.Event) string {
	var sb strings.Builder
	for i, fd := range e.Fields() {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(fd.Name)
		sb.WriteByte('=')
		val := fd.Value.Render()
		if fd.Value.Kind() == model.KindString && needsQuoting(val) {
			appendQuoted(&sb, val)
		} else {
			sb.WriteString(val)
		}
	}
	return sb.String()
}

// CSVFormatter emits the configured columns in order. Absent fields
// leave an empty cell.
type CSVFormatter struct {
	keys []string
}

// NewCSV creates a CSV formatter over the fixed column set.
func NewCSV(keys []string) *CSVFormatter {
	return &CSVFormatter{keys: keys}
}

// Header implements HeaderFormatter.
func (f *CSVFormatter) Header() string {
	var sb strings.Builder
	for i, k := range f.keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		writeCSVCell(&sb, k)
	}
	return sb.String()
}

// Format implements Formatter.
func (f *CSVFormatter) Format(e *model.Event) string {
	var sb strings.Builder
	for i, k := range f.keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		if v, ok := e.Get(k); ok {
			writeCSVCell(&sb, v.Render())
		}
	}
	return sb.String()
}

func writeCSVCell(sb *strings.Builder, s string) {
	if !strings.ContainsAny(s, ",\"\n\r") {
		sb.WriteString(s)
		return
	}
	sb.WriteByte('"')
	sb.WriteString(strings.ReplaceAll(s, `"`, `""`))
	sb.WriteByte('"')
}
