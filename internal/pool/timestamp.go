package pool

import (
	"strconv"
	"strings"
	"time"
)

// LayoutISO8601 names the byte-level ISO 8601 fast path in place of a Go
// layout string.
const LayoutISO8601 = "iso8601"

// commonLayouts are tried in order of likelihood in real log streams.
// The ISO 8601 family is handled by the byte fast path before this table.
var commonLayouts = []string{
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05,000", // log4j-style comma millis
	"2006-01-02 15:04:05",
	"02/Jan/2006:15:04:05 -0700", // Apache/Nginx access log
	"Jan _2 15:04:05",            // syslog
	"02/01/2006 15:04:05",
	"01/02/2006 15:04:05",
	"2006/01/02 15:04:05",
	"15:04:05.000",
	"15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.ANSIC,
}

// DetectLayout parses s against the fast path and the layout table,
// returning the parsed time and the layout that matched.
func DetectLayout(s string) (time.Time, string, bool) {
	if t, ok := parseISO8601(s); ok {
		return t, LayoutISO8601, true
	}
	for _, layout := range commonLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return withYear(t), layout, true
		}
	}
	return time.Time{}, "", false
}

// ParseLayout parses s against one known layout (a Go layout string or
// LayoutISO8601).
func ParseLayout(s, layout string) (time.Time, bool) {
	if layout == LayoutISO8601 {
		return parseISO8601(s)
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, false
	}
	return withYear(t), true
}

// ParseTimestamp parses a timestamp in any recognized form: the layout
// table, then numeric epochs (seconds, millis, micros, nanos by
// magnitude; fractional seconds as a float).
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, _, ok := DetectLayout(s); ok {
		return t, true
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return EpochToTime(n), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(f)
		nsec := int64((f - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), true
	}
	return time.Time{}, false
}

// EpochToTime guesses the epoch unit from magnitude: seconds, millis,
// micros, then nanos.
func EpochToTime(n int64) time.Time {
	abs := n
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < 1e11:
		return time.Unix(n, 0).UTC()
	case abs < 1e14:
		return time.UnixMilli(n).UTC()
	case abs < 1e17:
		return time.UnixMicro(n).UTC()
	default:
		return time.Unix(0, n).UTC()
	}
}

// withYear substitutes the current year into layouts that carry none
// (syslog, time-only).
func withYear(t time.Time) time.Time {
	if t.Year() == 0 {
		now := time.Now()
		return t.AddDate(now.Year(), 0, 0)
	}
	return t
}

// parseISO8601 parses the ISO 8601 family with direct byte arithmetic:
// YYYY-MM-DD, optionally followed by T or space, HH:MM:SS, fractional
// seconds (dot or comma), and Z or a numeric offset. The whole string
// must be consumed; trailing text fails the parse.
func parseISO8601(s string) (time.Time, bool) {
	if len(s) < 10 {
		return time.Time{}, false
	}

	year, ok := digits(s[0:4])
	if !ok || s[4] != '-' {
		return time.Time{}, false
	}
	month, ok := digits(s[5:7])
	if !ok || s[7] != '-' {
		return time.Time{}, false
	}
	day, ok := digits(s[8:10])
	if !ok || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}

	if len(s) == 10 {
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
	}
	if s[10] != 'T' && s[10] != ' ' {
		return time.Time{}, false
	}
	if len(s) < 19 {
		return time.Time{}, false
	}

	hour, ok1 := digits(s[11:13])
	minute, ok2 := digits(s[14:16])
	second, ok3 := digits(s[17:19])
	if !ok1 || !ok2 || !ok3 || s[13] != ':' || s[16] != ':' {
		return time.Time{}, false
	}
	if hour > 23 || minute > 59 || second > 60 {
		return time.Time{}, false
	}

	i := 19
	nsec := 0
	if i < len(s) && (s[i] == '.' || s[i] == ',') {
		i++
		start := i
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i == start {
			return time.Time{}, false
		}
		nsec = fraction(s[start:i])
	}

	loc := time.UTC
	switch {
	case i == len(s):
		// naked timestamp, treated as UTC
	case s[i] == 'Z' && i+1 == len(s):
		i++
	case s[i] == '+' || s[i] == '-':
		offset, n, ok := parseOffset(s[i:])
		if !ok {
			return time.Time{}, false
		}
		i += n
		if i != len(s) {
			return time.Time{}, false
		}
		loc = time.FixedZone("", offset)
	default:
		return time.Time{}, false
	}
	if i != len(s) {
		return time.Time{}, false
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, nsec, loc), true
}

// parseOffset parses ±HH, ±HHMM, or ±HH:MM, returning the offset in
// seconds and the number of bytes consumed.
func parseOffset(s string) (int, int, bool) {
	if len(s) < 3 {
		return 0, 0, false
	}
	sign := 1
	if s[0] == '-' {
		sign = -1
	}
	hours, ok := digits(s[1:3])
	if !ok || hours > 23 {
		return 0, 0, false
	}
	n := 3
	mins := 0
	switch {
	case len(s) >= 6 && s[3] == ':':
		mins, ok = digits(s[4:6])
		n = 6
	case len(s) >= 5:
		mins, ok = digits(s[3:5])
		n = 5
	}
	if !ok || mins > 59 {
		return 0, 0, false
	}
	return sign * (hours*3600 + mins*60), n, true
}

// digits parses an all-digit substring without allocation.
func digits(s string) (int, bool) {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// fraction converts fractional-second digits to nanoseconds.
func fraction(s string) int {
	result := int64(0)
	multiplier := int64(100000000)
	for i := 0; i < len(s) && i < 9; i++ {
		result += int64(s[i]-'0') * multiplier
		multiplier /= 10
	}
	return int(result)
}
