// Package stats collects run counters. Counters are atomic so parallel
// workers and the coordinator update them without coordination; script
// track() values merge at batch boundaries under one lock.
package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

// Stats is one run's counter set.
type Stats struct {
	LinesRead     atomic.Int64
	ChunksBuilt   atomic.Int64
	EventsParsed  atomic.Int64
	EventsOutput  atomic.Int64
	EventsDropped atomic.Int64 // filtered out by stages or selectors
	ParseErrors   atomic.Int64
	ScriptErrors  atomic.Int64
	SoftErrors    atomic.Int64
	FilesFailed   atomic.Int64

	start time.Time
	runID string

	mu     sync.Mutex
	tracks map[string]float64
}

// New creates a Stats with the clock started and a fresh run ID.
func New() *Stats {
	return &Stats{
		start:  time.Now(),
		runID:  uuid.New().String(),
		tracks: make(map[string]float64),
	}
}

// RunID returns the unique identifier stamped into the metrics file.
func (s *Stats) RunID() string {
	return s.runID
}

// Elapsed returns the run duration so far.
func (s *Stats) Elapsed() time.Duration {
	return time.Since(s.start)
}

// MergeTracks folds one capture window's track() deltas in.
func (s *Stats) MergeTracks(deltas map[string]float64) {
	if len(deltas) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range deltas {
		s.tracks[k] += v
	}
}

// Tracks returns a copy of the accumulated track() values.
func (s *Stats) Tracks() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.tracks))
	for k, v := range s.tracks {
		out[k] = v
	}
	return out
}

// CountError bumps the counter for one reported error.
func (s *Stats) CountError(err error) {
	switch lserrors.SeverityOf(err) {
	case lserrors.SeveritySoft:
		s.SoftErrors.Add(1)
	case lserrors.SeverityMedium:
		if lserrors.IsCode(err, lserrors.CodeParseFailed) {
			s.ParseErrors.Add(1)
		} else {
			s.ScriptErrors.Add(1)
		}
	default:
		s.ScriptErrors.Add(1)
	}
}

// MetricsMap builds the read-only metrics binding for end stages and the
// metrics file.
func (s *Stats) MetricsMap() map[string]interface{} {
	out := map[string]interface{}{
		"lines_read":     s.LinesRead.Load(),
		"chunks":         s.ChunksBuilt.Load(),
		"events_parsed":  s.EventsParsed.Load(),
		"events_output":  s.EventsOutput.Load(),
		"events_dropped": s.EventsDropped.Load(),
		"parse_errors":   s.ParseErrors.Load(),
		"script_errors":  s.ScriptErrors.Load(),
		"soft_errors":    s.SoftErrors.Load(),
		"elapsed_ms":     s.Elapsed().Milliseconds(),
	}
	for k, v := range s.Tracks() {
		out["track_"+k] = v
	}
	return out
}

var (
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	numStyle   = lipgloss.NewStyle().Bold(true)
)

// Render draws the --stats box for stderr.
func (s *Stats) Render(color bool) string {
	elapsed := s.Elapsed()
	rate := float64(0)
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(s.EventsOutput.Load()) / secs
	}

	rows := []struct {
		label string
		value string
	}{
		{"lines read", fmt.Sprintf("%d", s.LinesRead.Load())},
		{"chunks", fmt.Sprintf("%d", s.ChunksBuilt.Load())},
		{"events parsed", fmt.Sprintf("%d", s.EventsParsed.Load())},
		{"events output", fmt.Sprintf("%d", s.EventsOutput.Load())},
		{"events dropped", fmt.Sprintf("%d", s.EventsDropped.Load())},
		{"parse errors", fmt.Sprintf("%d", s.ParseErrors.Load())},
		{"script errors", fmt.Sprintf("%d", s.ScriptErrors.Load())},
		{"soft errors", fmt.Sprintf("%d", s.SoftErrors.Load())},
		{"elapsed", elapsed.Round(time.Millisecond).String()},
		{"events/s", fmt.Sprintf("%.0f", rate)},
	}

	tracks := s.Tracks()
	names := make([]string, 0, len(tracks))
	for k := range tracks {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		rows = append(rows, struct {
			label string
			value string
		}{"track " + k, formatTrack(tracks[k])})
	}

	width := 0
	for _, r := range rows {
		if len(r.label) > width {
			width = len(r.label)
		}
	}

	var sb strings.Builder
	for i, r := range rows {
		if i > 0 {
			sb.WriteByte('\n')
		}
		label := fmt.Sprintf("%-*s", width, r.label)
		if color {
			sb.WriteString(labelStyle.Render(label))
			sb.WriteString("  ")
			sb.WriteString(numStyle.Render(r.value))
		} else {
			sb.WriteString(label)
			sb.WriteString("  ")
			sb.WriteString(r.value)
		}
	}
	if color {
		return boxStyle.Render(sb.String())
	}
	return sb.String()
}

// formatTrack renders a track value without a trailing .0 for whole numbers.
func formatTrack(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// metricsDoc is the --metrics-file JSON shape.
type metricsDoc struct {
	RunID    string                 `json:"run_id"`
	Started  time.Time              `json:"started"`
	Finished time.Time              `json:"finished"`
	Counters map[string]interface{} `json:"counters"`
	Tracks   map[string]float64     `json:"tracks,omitempty"`
}

// WriteMetricsFile writes the run's metrics document to path.
func (s *Stats) WriteMetricsFile(path string) error {
	doc := metricsDoc{
		RunID:    s.runID,
		Started:  s.start,
		Finished: time.Now(),
		Counters: s.MetricsMap(),
		Tracks:   s.Tracks(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return lserrors.Wrap(err, lserrors.SeverityFatal, lserrors.CodeInternal,
			"encoding metrics")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return lserrors.Wrap(err, lserrors.SeverityFatal, lserrors.CodeWriteFailed,
			"writing metrics file")
	}
	return nil
}
