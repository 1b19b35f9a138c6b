package pool

import (
	"testing"
	"time"
)

func TestParseISO8601_FastPath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
		ok   bool
	}{
		{
			"utc",
			"2024-01-15T10:30:00Z",
			time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
			true,
		},
		{
			"naked datetime",
			"2024-01-15T10:30:00",
			time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
			true,
		},
		{
			"space separator with millis",
			"2024-01-15 10:30:00.123",
			time.Date(2024, 1, 15, 10, 30, 0, 123000000, time.UTC),
			true,
		},
		{
			"comma millis",
			"2024-01-15 10:30:00,123",
			time.Date(2024, 1, 15, 10, 30, 0, 123000000, time.UTC),
			true,
		},
		{
			"date only",
			"2024-01-15",
			time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			true,
		},
		{
			"positive offset",
			"2024-01-15T10:30:00+02:00",
			time.Date(2024, 1, 15, 10, 30, 0, 0, time.FixedZone("", 7200)),
			true,
		},
		{
			"compact offset",
			"2024-01-15T10:30:00-0500",
			time.Date(2024, 1, 15, 10, 30, 0, 0, time.FixedZone("", -18000)),
			true,
		},
		{"trailing junk", "2024-01-15T10:30:00Zabc", time.Time{}, false},
		{"bad month", "2024-13-01", time.Time{}, false},
		{"bad hour", "2024-01-15T25:30:00", time.Time{}, false},
		{"not a date", "hello-wo-rld", time.Time{}, false},
		{"too short", "2024-01", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseISO8601(tt.in)
			if ok != tt.ok {
				t.Fatalf("parseISO8601(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("parseISO8601(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDetectLayout(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"2024-01-15T10:30:00Z", true},
		{"2024-01-15 10:30:00", true},
		{"15/Mar/2024:10:30:00 +0000", true},
		{"Jan  5 04:12:33", true},
		{"10:30:00", true},
		{"ERROR something failed", false},
		{"404", false},
		{"no timestamp here", false},
		{"", false},
	}

	for _, tt := range tests {
		_, _, ok := DetectLayout(tt.in)
		if ok != tt.ok {
			t.Errorf("DetectLayout(%q) ok = %v, want %v", tt.in, ok, tt.ok)
		}
	}
}

func TestDetectLayout_ReturnsReusableLayout(t *testing.T) {
	in := "Jan  5 04:12:33"
	ts, layout, ok := DetectLayout(in)
	if !ok {
		t.Fatalf("DetectLayout(%q) failed", in)
	}
	ts2, ok := ParseLayout(in, layout)
	if !ok || !ts2.Equal(ts) {
		t.Errorf("ParseLayout with detected layout = (%v, %v), want (%v, true)", ts2, ok, ts)
	}
}

func TestDetectLayout_SyslogGetsCurrentYear(t *testing.T) {
	ts, _, ok := DetectLayout("Jan  5 04:12:33")
	if !ok {
		t.Fatal("syslog timestamp not detected")
	}
	if ts.Year() != time.Now().Year() {
		t.Errorf("year = %d, want %d", ts.Year(), time.Now().Year())
	}
}

func TestParseTimestamp_Epochs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"seconds", "1700000000", time.Unix(1700000000, 0).UTC()},
		{"millis", "1700000000123", time.UnixMilli(1700000000123).UTC()},
		{"micros", "1700000000123456", time.UnixMicro(1700000000123456).UTC()},
		{"nanos", "1700000000123456789", time.Unix(0, 1700000000123456789).UTC()},
		{"float seconds", "1700000000.5", time.Unix(1700000000, 500000000).UTC()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.in)
			if !ok {
				t.Fatalf("ParseTimestamp(%q) failed", tt.in)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseTimestamp_Invalid(t *testing.T) {
	for _, in := range []string{"", "not a time", "12:xx:00"} {
		if _, ok := ParseTimestamp(in); ok {
			t.Errorf("ParseTimestamp(%q) = true, want false", in)
		}
	}
}
