// Package script embeds the CEL expression engine and exposes the
// pipeline's script surface: filter/exec/begin/end stages, the shared
// state map, and side-effect capture for parallel replay.
package script

import (
	"fmt"
	"io"
)

// Stream tags a captured message with its destination.
type Stream uint8

const (
	// StreamOut messages belong to the data stream (stdout).
	StreamOut Stream = iota

	// StreamErr messages belong to the diagnostic stream (stderr).
	StreamErr
)

// Message is one print/eprint/diagnostic line produced while evaluating
// an event's stages.
type Message struct {
	Stream Stream
	Text   string
}

// Effects collects script side effects. In direct mode (sequential
// execution) messages write through immediately; otherwise they buffer
// per event so the parallel sink can replay them in input order.
type Effects struct {
	direct bool
	out    io.Writer
	diag   io.Writer

	msgs   []Message
	tracks map[string]float64

	exitRequested bool
	exitCode      int
}

// NewEffects creates a buffering capture (parallel workers).
func NewEffects() *Effects {
	return &Effects{}
}

// NewDirectEffects creates a write-through capture (sequential mode).
// Messages still count toward tracks and exit handling.
func NewDirectEffects(out, diag io.Writer) *Effects {
	return &Effects{direct: true, out: out, diag: diag}
}

// Print emits text to the data stream.
func (fx *Effects) Print(text string) {
	if fx.direct {
		fmt.Fprintln(fx.out, text)
		return
	}
	fx.msgs = append(fx.msgs, Message{Stream: StreamOut, Text: text})
}

// EPrint emits text to the diagnostic stream.
func (fx *Effects) EPrint(text string) {
	if fx.direct {
		fmt.Fprintln(fx.diag, text)
		return
	}
	fx.msgs = append(fx.msgs, Message{Stream: StreamErr, Text: text})
}

// Track accumulates a named metric delta for this capture window.
func (fx *Effects) Track(name string, delta float64) {
	if fx.tracks == nil {
		fx.tracks = make(map[string]float64)
	}
	fx.tracks[name] += delta
}

// RequestExit records a script exit request. The code clamps to 0..255
// and the first request wins.
func (fx *Effects) RequestExit(code int) {
	if fx.exitRequested {
		return
	}
	if code < 0 {
		code = 0
	}
	if code > 255 {
		code = 255
	}
	fx.exitRequested = true
	fx.exitCode = code
}

// ExitRequested returns the pending exit request, if any.
func (fx *Effects) ExitRequested() (int, bool) {
	return fx.exitCode, fx.exitRequested
}

// TakeMessages returns the buffered messages and starts a new window.
func (fx *Effects) TakeMessages() []Message {
	msgs := fx.msgs
	fx.msgs = nil
	return msgs
}

// TakeTracks returns the accumulated metric deltas and resets them.
func (fx *Effects) TakeTracks() map[string]float64 {
	t := fx.tracks
	fx.tracks = nil
	return t
}
