package chunker

import "strings"

// tokensPerWord is the conservative word-to-token ratio used for estimation.
// ~1.33 tokens/word is standard for English prose; deliberately
// over-estimating leaves headroom so chunks stay inside embedding-model
// context limits regardless of which backend tokenizer is in play.
const tokensPerWord = 1.33

// EstimateTokens returns a rough token count for s using a word-based
// heuristic. Exact tokenization is not required for chunking — the estimate
// only affects chunk granularity, and each backend tokenizes differently
// anyway.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	words := len(strings.Fields(s))
	n := int(float64(words) * tokensPerWord)
	if n < 1 {
		return 1
	}
	return n
}

// overlapWords converts a token budget into the number of trailing words to
// carry into the next chunk.
func overlapWords(tokens int) int {
	return int(float64(tokens) / tokensPerWord)
}
