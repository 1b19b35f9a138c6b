// Package pool provides pooled line scanning and the shared timestamp
// parsing used on the pipeline hot path.
package pool

import (
	"bufio"
	"io"
	"sync"
)

const (
	// DefaultBufferSize is the initial scanner buffer size.
	DefaultBufferSize = 64 * 1024

	// MaxLineSize bounds a single physical line.
	MaxLineSize = 16 * 1024 * 1024
)

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, DefaultBufferSize)
		return &b
	},
}

// LineScanner reads terminator-free lines from a stream, tracking the
// 1-based line number. The scan buffer comes from a shared pool; Close
// returns it.
type LineScanner struct {
	sc   *bufio.Scanner
	buf  *[]byte
	lnum int
}

// NewLineScanner creates a scanner over r.
func NewLineScanner(r io.Reader) *LineScanner {
	buf := bufferPool.Get().(*[]byte)
	sc := bufio.NewScanner(r)
	sc.Buffer(*buf, MaxLineSize)
	return &LineScanner{sc: sc, buf: buf}
}

// Scan advances to the next line.
func (s *LineScanner) Scan() bool {
	if s.sc.Scan() {
		s.lnum++
		return true
	}
	return false
}

// Line returns the current line with \n and \r\n terminators stripped.
// The returned string is a copy and stays valid across Scan calls.
func (s *LineScanner) Line() string {
	return string(s.sc.Bytes())
}

// LNum returns the 1-based number of the current line.
func (s *LineScanner) LNum() int {
	return s.lnum
}

// Err returns the first non-EOF error encountered.
func (s *LineScanner) Err() error {
	return s.sc.Err()
}

// Close returns the scan buffer to the pool. The scanner must not be
// used afterwards.
func (s *LineScanner) Close() {
	if s.buf != nil {
		bufferPool.Put(s.buf)
		s.buf = nil
	}
}
