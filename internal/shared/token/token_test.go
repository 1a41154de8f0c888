package token

import (
	"strings"
	"testing"
)

func TestEstimate(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		if got := Estimate(tc.text); got != tc.want {
			t.Errorf("Estimate(%d chars) = %d, want %d", len(tc.text), got, tc.want)
		}
	}
}

func TestCount(t *testing.T) {
	// Count may use the real encoding or the heuristic fallback depending on
	// whether the encoding data is available.
	if got := Count(""); got != 0 {
		t.Errorf("Count(empty) = %d", got)
	}
	if got := Count("hello world, this is a longer sentence"); got < 4 {
		t.Errorf("Count = %d, implausibly low", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 100, "[truncated]"); got != "short" {
		t.Errorf("under budget = %q", got)
	}
	got := Truncate(strings.Repeat("a", 100), 5, "[truncated]")
	if got != strings.Repeat("a", 20)+"[truncated]" {
		t.Errorf("truncated = %q", got)
	}
	if got := Truncate("anything", 0, "[truncated]"); got != "[truncated]" {
		t.Errorf("zero budget = %q", got)
	}
}
