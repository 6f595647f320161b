package similarity

import (
	"math"
	"testing"
)

func TestRatio_EqualStrings(t *testing.T) {
	for _, s := range []string{"", "a", "api.example.com", `{"page":"1"}`} {
		if got := Ratio(s, s); got != 1.0 {
			t.Errorf("Ratio(%q, %q) = %v, want 1.0", s, s, got)
		}
	}
}

func TestRatio_Disjoint(t *testing.T) {
	if got := Ratio("abc", "xyz"); got != 0.0 {
		t.Errorf("Ratio disjoint = %v, want 0.0", got)
	}
}

func TestRatio_EmptyVsNonEmpty(t *testing.T) {
	if got := Ratio("", "abc"); got != 0.0 {
		t.Errorf("Ratio(\"\", \"abc\") = %v, want 0.0", got)
	}
	if got := Ratio("abc", ""); got != 0.0 {
		t.Errorf("Ratio(\"abc\", \"\") = %v, want 0.0", got)
	}
}

func TestRatio_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"api.example.com", "api.example.org"},
		{`{"page":"1"}`, `{"page":"1","size":"20"}`},
		{"abcdef", "abdf"},
	}
	for _, p := range pairs {
		ab := Ratio(p[0], p[1])
		ba := Ratio(p[1], p[0])
		if ab != ba {
			t.Errorf("Ratio(%q, %q) = %v but reversed = %v", p[0], p[1], ab, ba)
		}
	}
}

func TestRatio_KnownValues(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		// LCS "abcd" missing nothing: a="abcd", b="abd": LCS=3, ratio 6/7.
		{"abcd", "abd", 6.0 / 7.0},
		// One substitution in the middle: LCS=4 of 5+5.
		{"abcde", "abXde", 8.0 / 10.0},
		{"a", "b", 0.0},
	}
	for _, tt := range tests {
		got := Ratio(tt.a, tt.b)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Ratio(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestRatio_Range(t *testing.T) {
	pairs := [][2]string{
		{"host-a.example.com", "host-b.example.com"},
		{`{"q":"golang"}`, `{"q":"golang","page":"2"}`},
		{"short", "a much longer string entirely"},
	}
	for _, p := range pairs {
		got := Ratio(p[0], p[1])
		if got < 0.0 || got > 1.0 {
			t.Errorf("Ratio(%q, %q) = %v, out of [0,1]", p[0], p[1], got)
		}
	}
}
