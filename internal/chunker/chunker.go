// Package chunker reassembles physical lines into logical records. One
// Chunker instance owns one stream's buffered lines; it is not safe for
// concurrent use.
package chunker

import (
	"regexp"
	"strings"

	"github.com/logsieve/logsieve/internal/model"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

// JoinPolicy selects the separator placed between buffered lines when a
// chunk is sealed.
type JoinPolicy uint8

const (
	JoinNewline JoinPolicy = iota
	JoinSpace
	JoinEmpty
)

// ParseJoin parses the --join flag value. The empty string means newline.
func ParseJoin(s string) (JoinPolicy, error) {
	switch s {
	case "", "newline":
		return JoinNewline, nil
	case "space":
		return JoinSpace, nil
	case "empty":
		return JoinEmpty, nil
	default:
		return 0, lserrors.Usage("unknown join policy %q (want newline, space, or empty)", s)
	}
}

func (j JoinPolicy) separator() string {
	switch j {
	case JoinSpace:
		return " "
	case JoinEmpty:
		return ""
	default:
		return "\n"
	}
}

// Mode selects the grouping strategy.
type Mode uint8

const (
	// ModeLine passes every line through as its own chunk.
	ModeLine Mode = iota

	// ModeAll buffers the whole stream into one chunk.
	ModeAll

	// ModeIndent starts a chunk at every line without leading whitespace.
	ModeIndent

	// ModeTimestamp starts a chunk at every line the timestamp detector
	// recognizes as a header.
	ModeTimestamp

	// ModeRegex groups lines between start and optional end patterns.
	ModeRegex
)

// Chunker is the multiline grouping state machine. Completed chunks queue
// internally; FeedLine hands out at most one per call and Flush drains
// the rest, so a line that completes several chunks at once never loses
// any of them.
type Chunker struct {
	mode Mode
	join JoinPolicy

	det   *timestampDetector
	start *regexp.Regexp
	end   *regexp.Regexp

	buf     []string
	bufFile string
	bufLNum int
	open    bool

	queue []model.Chunk
}

// New builds a Chunker from the --multiline strategy spec. Supported
// specs: "" (per-line), "all", "indent", "timestamp",
// "timestamp:format=<layout>", "regex:start=<pat>[:end=<pat>]".
// Malformed specs and unparsable patterns fail construction.
func New(spec string, join JoinPolicy) (*Chunker, error) {
	c := &Chunker{join: join}

	switch {
	case spec == "" || spec == "line":
		c.mode = ModeLine

	case spec == "all":
		c.mode = ModeAll
		// One chunk of the whole stream joined by spaces is useless;
		// all promotes space to newline.
		if c.join == JoinSpace {
			c.join = JoinNewline
		}

	case spec == "indent":
		c.mode = ModeIndent

	case spec == "timestamp":
		c.mode = ModeTimestamp
		c.det = newTimestampDetector("")

	case strings.HasPrefix(spec, "timestamp:"):
		hint, ok := strings.CutPrefix(strings.TrimPrefix(spec, "timestamp:"), "format=")
		if !ok || hint == "" {
			return nil, lserrors.Usage("timestamp strategy options: timestamp:format=<layout>, got %q", spec)
		}
		c.mode = ModeTimestamp
		c.det = newTimestampDetector(hint)

	case strings.HasPrefix(spec, "regex:"):
		rest := strings.TrimPrefix(spec, "regex:")
		body, endPat, hasEnd := strings.Cut(rest, ":end=")
		startPat, ok := strings.CutPrefix(body, "start=")
		if !ok || startPat == "" {
			return nil, lserrors.Usage("regex strategy requires start=<pattern>, got %q", spec)
		}
		start, err := regexp.Compile(startPat)
		if err != nil {
			return nil, lserrors.BadChunkPattern("start", startPat, err)
		}
		c.start = start
		if hasEnd {
			if endPat == "" {
				return nil, lserrors.Usage("regex strategy end= needs a pattern, got %q", spec)
			}
			end, err := regexp.Compile(endPat)
			if err != nil {
				return nil, lserrors.BadChunkPattern("end", endPat, err)
			}
			c.end = end
		}
		c.mode = ModeRegex

	default:
		return nil, lserrors.Usage("unknown multiline strategy %q", spec)
	}

	return c, nil
}

// Mode returns the grouping strategy in use.
func (c *Chunker) Mode() Mode {
	return c.mode
}

// FeedLine advances the state machine with one terminator-free line and
// returns at most one completed chunk. Extra completions queue for later
// calls.
func (c *Chunker) FeedLine(line, file string, lnum int) (model.Chunk, bool) {
	switch c.mode {
	case ModeLine:
		c.queue = append(c.queue, model.Chunk{Text: line, File: file, LNum: lnum})

	case ModeAll:
		c.push(line, file, lnum)

	case ModeIndent:
		if !indented(line) {
			c.closeOpen()
		}
		c.push(line, file, lnum)

	case ModeTimestamp:
		if c.det.detect(line) {
			c.closeOpen()
		}
		c.push(line, file, lnum)

	case ModeRegex:
		if c.start.MatchString(line) {
			c.closeOpen()
		}
		c.push(line, file, lnum)
		if c.end != nil && c.end.MatchString(line) {
			c.closeOpen()
		}
	}

	return c.pop()
}

// Flush returns queued chunks first, then force-closes the open buffer.
// Call it repeatedly at stream end until the second return is false.
func (c *Chunker) Flush() (model.Chunk, bool) {
	if ch, ok := c.pop(); ok {
		return ch, true
	}
	if c.open {
		return c.seal(), true
	}
	return model.Chunk{}, false
}

// HasPending reports whether any buffered or queued content has not been
// handed out yet.
func (c *Chunker) HasPending() bool {
	return c.open || len(c.queue) > 0
}

// indented reports whether the line continues an indent-mode chunk.
// An empty line has no leading whitespace, so it starts a new chunk.
func indented(line string) bool {
	return line != "" && (line[0] == ' ' || line[0] == '\t')
}

func (c *Chunker) push(line, file string, lnum int) {
	if !c.open {
		c.open = true
		c.bufFile = file
		c.bufLNum = lnum
		c.buf = c.buf[:0]
	}
	c.buf = append(c.buf, line)
}

func (c *Chunker) closeOpen() {
	if !c.open {
		return
	}
	c.queue = append(c.queue, c.seal())
}

func (c *Chunker) seal() model.Chunk {
	ch := model.Chunk{
		Text: strings.Join(c.buf, c.join.separator()),
		File: c.bufFile,
		LNum: c.bufLNum,
	}
	c.buf = c.buf[:0]
	c.open = false
	return ch
}

func (c *Chunker) pop() (model.Chunk, bool) {
	if len(c.queue) == 0 {
		return model.Chunk{}, false
	}
	ch := c.queue[0]
	copy(c.queue, c.queue[1:])
	c.queue = c.queue[:len(c.queue)-1]
	return ch, true
}
