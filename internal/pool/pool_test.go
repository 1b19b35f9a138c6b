package pool

import (
	"strings"
	"testing"
)

func TestLineScanner(t *testing.T) {
	s := NewLineScanner(strings.NewReader("one\r\ntwo\n\nthree"))
	defer s.Close()

	var lines []string
	var lnums []int
	for s.Scan() {
		lines = append(lines, s.Line())
		lnums = append(lnums, s.LNum())
	}
	if err := s.Err(); err != nil {
		t.Fatal(err)
	}

	wantLines := []string{"one", "two", "", "three"}
	if len(lines) != len(wantLines) {
		t.Fatalf("got %d lines, want %d", len(lines), len(wantLines))
	}
	for i := range wantLines {
		if lines[i] != wantLines[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], wantLines[i])
		}
		if lnums[i] != i+1 {
			t.Errorf("lnum %d = %d, want %d", i, lnums[i], i+1)
		}
	}
}

func TestLineScanner_Empty(t *testing.T) {
	s := NewLineScanner(strings.NewReader(""))
	defer s.Close()

	if s.Scan() {
		t.Error("Scan on empty input = true, want false")
	}
	if s.LNum() != 0 {
		t.Errorf("LNum = %d, want 0", s.LNum())
	}
}

func TestLineScanner_LongLine(t *testing.T) {
	long := strings.Repeat("x", DefaultBufferSize*2)
	s := NewLineScanner(strings.NewReader(long + "\nshort"))
	defer s.Close()

	if !s.Scan() {
		t.Fatalf("Scan failed on long line: %v", s.Err())
	}
	if got := s.Line(); got != long {
		t.Errorf("long line length = %d, want %d", len(got), len(long))
	}
	if !s.Scan() || s.Line() != "short" {
		t.Error("second line not read after buffer growth")
	}
}
