package parser

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/logsieve/logsieve/internal/model"
	"github.com/logsieve/logsieve/internal/pool"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

// syslogRe matches the classic BSD syslog line:
//
//	Jan  2 15:04:05 host prog[pid]: message
var syslogRe = regexp.MustCompile(
	`^(?:<(\d{1,3})>)?` + // optional priority
		`([A-Z][a-z]{2} [ \d]\d \d{2}:\d{2}:\d{2}) ` + // timestamp
		`(\S+) ` + // hostname
		`([^:\[\s]+)` + // program
		`(?:\[(\d+)\])?` + // optional pid
		`:? ?(.*)$`) // message

// SyslogParser decodes RFC 3164-style syslog lines.
type SyslogParser struct{}

// Name implements Parser.
func (SyslogParser) Name() string { return "syslog" }

// Parse implements Parser.
func (p SyslogParser) Parse(chunk model.Chunk) (*model.Event, error) {
	m := syslogRe.FindStringSubmatch(chunk.Text)
	if m == nil {
		return nil, lserrors.ParseError(p.Name(), chunk.LNum,
			fmt.Errorf("not a syslog line: %q", truncate(chunk.Text, 40)))
	}

	e := model.NewEvent(chunk.Text, chunk.File, chunk.LNum)
	e.Set("ts", model.String(m[2]))
	if t, ok := pool.ParseTimestamp(m[2]); ok {
		e.SetTimestamp(t)
	}
	e.Set("host", model.String(m[3]))
	e.Set("prog", model.String(m[4]))
	if m[5] != "" {
		pid, _ := strconv.ParseInt(m[5], 10, 64)
		e.Set("pid", model.Int(pid))
	}
	e.Set("msg", model.String(m[6]))
	if m[1] != "" {
		pri, _ := strconv.ParseInt(m[1], 10, 64)
		e.Set("facility", model.Int(pri/8))
		e.Set("severity", model.Int(pri%8))
	}
	return e, nil
}
