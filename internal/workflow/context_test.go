package workflow

import (
	"strings"
	"testing"
)

func Test_EstimateTokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"ab", 1}, // short non-empty strings round up to 1
		{"abcd", 1},
		{strings.Repeat("a", 400), 100},
	}
	for _, tt := range tests {
		if got := estimateTokens(tt.input); got != tt.want {
			t.Errorf("estimateTokens(%d chars) = %d, want %d", len(tt.input), got, tt.want)
		}
	}
}

func Test_TruncateToTokens_NoTruncationNeeded(t *testing.T) {
	t.Parallel()

	s := "short text"
	if got := truncateToTokens(s, 100); got != s {
		t.Errorf("expected input unchanged, got %q", got)
	}
	if got := truncateToTokens(s, 0); got != s {
		t.Errorf("zero budget should disable truncation, got %q", got)
	}
}

func Test_TruncateToTokens_CutsAtNewline(t *testing.T) {
	t.Parallel()

	line := strings.Repeat("a", 30)
	s := line + "\n" + strings.Repeat("b", 30) + "\n" + strings.Repeat("c", 30)

	got := truncateToTokens(s, 10) // 40-char budget lands mid second line
	if strings.Contains(got, "c") {
		t.Errorf("third line should be truncated, got %q", got)
	}
	if strings.HasSuffix(got, "b") && len(got) != 40 {
		t.Errorf("cut should fall on the newline boundary, got %d chars", len(got))
	}
	if !strings.HasPrefix(got, line) {
		t.Errorf("first line should survive truncation, got %q", got)
	}
	if estimateTokens(got) > 10 {
		t.Errorf("truncated text exceeds budget: %d tokens", estimateTokens(got))
	}
}
