package textutil

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	got := Tokenize("Check the DNS-cache, twice!")
	want := []string{"check", "the", "dns", "cache", "twice"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize = %v, want %v", got, want)
	}
	if got := Tokenize("!!! ... ---"); len(got) != 0 {
		t.Errorf("punctuation only = %v", got)
	}
}

func TestTokenSet(t *testing.T) {
	set := TokenSet("retry the retry loop")
	if len(set) != 3 || !set["retry"] || !set["the"] || !set["loop"] {
		t.Errorf("set = %v", set)
	}
}

func TestOverlapRatio(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"fix the build", "fix the build", 1},
		{"fix the build", "fix the deploy", 2.0 / 3.0},
		{"fix the build", "rotate certificates", 0},
		{"", "anything", 0},
	}
	for _, tc := range cases {
		if got := OverlapRatio(tc.a, tc.b); got != tc.want {
			t.Errorf("OverlapRatio(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestSimilarityScore(t *testing.T) {
	if got := SimilarityScore("alpha beta gamma", "beta gamma delta"); got != 0.5 {
		t.Errorf("score = %v", got)
	}
	if got := SimilarityScore("", "beta"); got != 0 {
		t.Errorf("empty score = %v", got)
	}
	if got := SimilarityScore("same words", "same words"); got != 1 {
		t.Errorf("identical score = %v", got)
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	if got := NormalizeWhitespace("  a\t b\n\nc "); got != "a b c" {
		t.Errorf("normalized = %q", got)
	}
	if got := NormalizeWhitespace(""); got != "" {
		t.Errorf("normalized empty = %q", got)
	}
}
