package chunker

import (
	"strings"

	"github.com/logsieve/logsieve/internal/pool"
)

const (
	// maxHeaderTokens bounds how many leading tokens are combined into
	// timestamp candidates.
	maxHeaderTokens = 6

	// maxHeaderLen bounds candidate length in bytes.
	maxHeaderLen = 64
)

// timestampDetector classifies chunk headers: a line whose leading tokens
// parse as a timestamp starts a new chunk. A layout that matched once is
// tried first on later lines.
type timestampDetector struct {
	hint       string
	lastLayout string
}

func newTimestampDetector(hint string) *timestampDetector {
	return &timestampDetector{hint: hint}
}

// detect reports whether line opens a new chunk. Empty and indented lines
// are never headers.
func (d *timestampDetector) detect(line string) bool {
	if line == "" || line[0] == ' ' || line[0] == '\t' {
		return false
	}
	for _, cand := range headerCandidates(line) {
		if d.hint != "" {
			if _, ok := pool.ParseLayout(cand, d.hint); ok {
				return true
			}
		}
		if d.lastLayout != "" {
			if _, ok := pool.ParseLayout(cand, d.lastLayout); ok {
				return true
			}
		}
		if _, layout, ok := pool.DetectLayout(cand); ok {
			d.lastLayout = layout
			return true
		}
	}
	return false
}

// headerCandidates builds the prefixes tried against the layout table:
// the first 1..6 whitespace-delimited token prefixes (at most 64 bytes),
// each also in a trailing-punctuation-trimmed variant when that leaves at
// least 4 bytes, plus the whole line capped at 64 bytes. Order is
// preserved and duplicates are removed.
func headerCandidates(line string) []string {
	var out []string
	seen := make(map[string]struct{}, 8)
	add := func(s string) {
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	tokens := 0
	inToken := false
	for i := 0; i <= len(line); i++ {
		boundary := i == len(line) || line[i] == ' ' || line[i] == '\t'
		switch {
		case inToken && boundary:
			tokens++
			prefix := line[:i]
			if len(prefix) <= maxHeaderLen {
				add(prefix)
				trimmed := strings.TrimRight(prefix, ":,;-.")
				if len(trimmed) >= 4 {
					add(trimmed)
				}
			}
			inToken = false
		case !inToken && !boundary:
			inToken = true
		}
		if tokens == maxHeaderTokens {
			break
		}
	}
	// Always offer the capped whole-line prefix: a short header with
	// more tokens than the scan covers is still a candidate.
	fallback := line
	if len(fallback) > maxHeaderLen {
		fallback = fallback[:maxHeaderLen]
	}
	add(strings.TrimRight(fallback, " \t"))
	return out
}
