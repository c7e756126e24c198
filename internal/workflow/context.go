package workflow

// Token budgeting for retrieved context. Because the engine supports multiple
// LLM backends with different tokenizers, estimation uses a conservative
// character-based heuristic: 1 token ≈ 4 characters (English prose and code).

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	// 4 chars/token is standard for English and code.
	charsPerToken = 4

	// defaultMaxContextTokens is the default budget for retrieved context
	// injected into grading and answer prompts. Conservative enough to fit
	// within 8k-context models while leaving room for the output.
	defaultMaxContextTokens = 6000
)

// estimateTokens returns a rough token count for s using the character heuristic.
func estimateTokens(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// truncateToTokens trims s so its estimated token count fits within maxTokens,
// cutting at the last newline before the limit where one exists so chunks are
// not split mid-line. Returns s unchanged when it already fits.
func truncateToTokens(s string, maxTokens int) string {
	if maxTokens <= 0 || estimateTokens(s) <= maxTokens {
		return s
	}

	limit := maxTokens * charsPerToken
	if limit >= len(s) {
		return s
	}

	cut := s[:limit]
	if i := lastNewline(cut); i > 0 {
		cut = cut[:i]
	}
	return cut
}

// lastNewline returns the index of the last '\n' in s, or -1.
func lastNewline(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}
