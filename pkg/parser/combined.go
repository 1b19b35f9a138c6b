package parser

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/logsieve/logsieve/internal/model"
	"github.com/logsieve/logsieve/internal/pool"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

// combinedRe matches Apache/Nginx combined (and common) access logs:
//
//	1.2.3.4 - frank [10/Oct/2000:13:55:36 -0700] "GET /x HTTP/1.0" 200 2326 "ref" "agent"
var combinedRe = regexp.MustCompile(
	`^(\S+) (\S+) (\S+) \[([^\]]+)\] "([A-Z]+) ([^" ]+)(?: (HTTP/[\d.]+))?" (\d{3}) (\d+|-)` +
		`(?: "([^"]*)" "([^"]*)")?`)

// CombinedParser decodes Apache/Nginx access-log lines in common or
// combined format.
type CombinedParser struct{}

// Name implements Parser.
func (CombinedParser) Name() string { return "combined" }

// Parse implements Parser.
func (p CombinedParser) Parse(chunk model.Chunk) (*model.Event, error) {
	m := combinedRe.FindStringSubmatch(chunk.Text)
	if m == nil {
		return nil, lserrors.ParseError(p.Name(), chunk.LNum,
			fmt.Errorf("not an access-log line: %q", truncate(chunk.Text, 40)))
	}

	e := model.NewEvent(chunk.Text, chunk.File, chunk.LNum)
	e.Set("ip", model.String(m[1]))
	if m[2] != "-" {
		e.Set("ident", model.String(m[2]))
	}
	if m[3] != "-" {
		e.Set("user", model.String(m[3]))
	}
	e.Set("ts", model.String(m[4]))
	if t, ok := pool.ParseTimestamp(m[4]); ok {
		e.SetTimestamp(t)
	}
	e.Set("method", model.String(m[5]))
	e.Set("path", model.String(m[6]))
	if m[7] != "" {
		e.Set("proto", model.String(m[7]))
	}
	status, _ := strconv.ParseInt(m[8], 10, 64)
	e.Set("status", model.Int(status))
	if m[9] != "-" {
		size, _ := strconv.ParseInt(m[9], 10, 64)
		e.Set("size", model.Int(size))
	}
	if m[10] != "" && m[10] != "-" {
		e.Set("referer", model.String(m[10]))
	}
	if m[11] != "" && m[11] != "-" {
		e.Set("agent", model.String(m[11]))
	}
	return e, nil
}
