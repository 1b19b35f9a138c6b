package model

import (
	"strings"
	"time"
)

// TimestampFields are the field names probed, in order, when no explicit
// timestamp field is configured.
var TimestampFields = []string{"ts", "time", "timestamp", "@timestamp", "at", "_ts"}

// LevelFields are the field names probed for a log level.
var LevelFields = []string{"level", "lvl", "severity", "loglevel", "log_level"}

// Field is one named value inside an event.
type Field struct {
	Name  string
	Value Value
}

// Event is one parsed log record. Fields keep insertion order so output
// reproduces the order the parser (or script) established.
type Event struct {
	fields []Field
	index  map[string]int

	ts    time.Time
	hasTS bool

	// Provenance of the chunk this event came from.
	Raw  string
	File string
	LNum int
}

// NewEvent creates an empty event carrying the chunk provenance.
func NewEvent(raw, file string, lnum int) *Event {
	return &Event{
		index: make(map[string]int),
		Raw:   raw,
		File:  file,
		LNum:  lnum,
	}
}

// Set inserts or overwrites a field. New names append at the end,
// existing names keep their position.
func (e *Event) Set(name string, v Value) {
	if i, ok := e.index[name]; ok {
		e.fields[i].Value = v
		return
	}
	e.index[name] = len(e.fields)
	e.fields = append(e.fields, Field{Name: name, Value: v})
}

// Get returns the named field value.
func (e *Event) Get(name string) (Value, bool) {
	i, ok := e.index[name]
	if !ok {
		return Value{}, false
	}
	return e.fields[i].Value, true
}

// Has reports whether the field exists.
func (e *Event) Has(name string) bool {
	_, ok := e.index[name]
	return ok
}

// Delete removes a field. A later Set of the same name appends at the end.
func (e *Event) Delete(name string) bool {
	i, ok := e.index[name]
	if !ok {
		return false
	}
	e.fields = append(e.fields[:i], e.fields[i+1:]...)
	delete(e.index, name)
	for j := i; j < len(e.fields); j++ {
		e.index[e.fields[j].Name] = j
	}
	return true
}

// Fields returns the fields in insertion order. The slice is shared;
// callers must not modify it.
func (e *Event) Fields() []Field {
	return e.fields
}

// Len returns the number of fields.
func (e *Event) Len() int {
	return len(e.fields)
}

// Timestamp returns the parsed event timestamp, if one was extracted.
func (e *Event) Timestamp() (time.Time, bool) {
	return e.ts, e.hasTS
}

// SetTimestamp records the parsed event timestamp.
func (e *Event) SetTimestamp(t time.Time) {
	e.ts = t
	e.hasTS = true
}

// Level returns the upper-cased log level from the first recognized level
// field, or "" when the event has none.
func (e *Event) Level() string {
	for _, name := range LevelFields {
		if v, ok := e.Get(name); ok {
			if s, ok := v.AsString(); ok {
				return NormalizeLevel(s)
			}
		}
	}
	return ""
}

// NormalizeLevel upper-cases a level string and collapses common aliases.
func NormalizeLevel(s string) string {
	up := strings.ToUpper(strings.TrimSpace(s))
	switch up {
	case "WARNING":
		return "WARN"
	case "ERR":
		return "ERROR"
	case "CRITICAL", "CRIT":
		return "FATAL"
	default:
		return up
	}
}

// FieldMap converts the fields into a plain map for script binding.
func (e *Event) FieldMap() map[string]interface{} {
	out := make(map[string]interface{}, len(e.fields))
	for _, f := range e.fields {
		out[f.Name] = f.Value.ToAny()
	}
	return out
}

// Project keeps only the named fields (in the given order) when keep is
// non-empty, then removes every field named in drop.
func (e *Event) Project(keep, drop []string) {
	if len(keep) > 0 {
		kept := make([]Field, 0, len(keep))
		index := make(map[string]int, len(keep))
		for _, name := range keep {
			if i, ok := e.index[name]; ok {
				index[name] = len(kept)
				kept = append(kept, e.fields[i])
			}
		}
		e.fields = kept
		e.index = index
	}
	for _, name := range drop {
		e.Delete(name)
	}
}
