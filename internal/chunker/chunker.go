// Package chunker splits extracted document text into bounded, overlapping
// segments suitable for embedding and retrieval. Boundaries are decided on
// whole sentences (falling back to whole words for overlap seeding), never
// mid-word, so a chunk always reads as coherent text.
package chunker

import "strings"

// Config controls chunking behaviour.
type Config struct {
	// MaxTokens is the soft upper bound on a chunk's estimated token count.
	// A single sentence larger than this is emitted whole rather than split
	// mid-sentence. Defaults to 400 if zero.
	MaxTokens int

	// OverlapTokens is the token budget of trailing words carried from a
	// closed chunk into the next one, preserving context across boundaries.
	// Defaults to 40 if negative or >= MaxTokens.
	OverlapTokens int

	// MinSentenceLen is the minimum rune length of a sentence unit. Shorter
	// candidates are merged into the next unit so abbreviations ("e.g.",
	// "No. 5") and decimals do not cause spurious splits. Defaults to 12.
	MinSentenceLen int
}

// Chunk is one bounded span of document text.
type Chunk struct {
	// Text is the chunk content.
	Text string

	// Index is the chunk's position in the deduplicated output sequence.
	// Record ids are derived from (namespace, Index) so re-ingesting the
	// same document under the same namespace overwrites rather than
	// duplicates.
	Index int

	// Oversized marks a chunk whose single sentence exceeded MaxTokens and
	// was emitted whole. A documented limitation, not an error.
	Oversized bool
}

// builder accumulates sentences into one chunk and tracks whether the buffer
// holds anything beyond the overlap seed carried from the previous chunk.
type builder struct {
	buf    strings.Builder
	tokens int
	seeded bool // buffer currently holds only overlap seed text
}

// add appends one sentence to the buffer.
func (b *builder) add(sent string, tokens int) {
	if b.buf.Len() > 0 {
		b.buf.WriteString(" ")
	}
	b.buf.WriteString(sent)
	b.tokens += tokens
	b.seeded = false
}

// close returns the buffered text and resets the builder, seeding it with up
// to overlapTokens worth of trailing words from the closed chunk. Returns ""
// when the buffer held nothing but seed text.
func (b *builder) close(overlapTokens int) string {
	if b.seeded || b.buf.Len() == 0 {
		b.buf.Reset()
		b.tokens = 0
		b.seeded = false
		return ""
	}
	closed := strings.TrimSpace(b.buf.String())
	b.buf.Reset()
	b.tokens = 0
	b.seeded = false

	if seed := trailingWords(closed, overlapTokens); seed != "" {
		b.buf.WriteString(seed)
		b.tokens = EstimateTokens(seed)
		b.seeded = true
	}
	return closed
}

// Split divides text into chunks per cfg. The result is finite, materialized,
// deduplicated preserving first occurrence, and deterministic for a given
// (text, cfg) pair.
func Split(text string, cfg Config) []Chunk {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 400
	}
	if cfg.OverlapTokens < 0 || cfg.OverlapTokens >= cfg.MaxTokens {
		cfg.OverlapTokens = 40
	}
	if cfg.MinSentenceLen <= 0 {
		cfg.MinSentenceLen = 12
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var (
		out []Chunk
		b   builder
	)

	for _, sent := range splitSentences(text, cfg.MinSentenceLen) {
		sentTokens := EstimateTokens(sent)

		// A lone sentence over budget is emitted whole. Close the pending
		// buffer first and drop its overlap seed — the oversized chunk
		// stands alone.
		if sentTokens > cfg.MaxTokens {
			if closed := b.close(0); closed != "" {
				out = append(out, Chunk{Text: closed})
			}
			out = append(out, Chunk{Text: sent, Oversized: true})
			continue
		}

		if b.tokens+sentTokens > cfg.MaxTokens && b.tokens > 0 {
			if closed := b.close(cfg.OverlapTokens); closed != "" {
				out = append(out, Chunk{Text: closed})
			}
		}

		b.add(sent, sentTokens)
	}

	if closed := b.close(0); closed != "" {
		out = append(out, Chunk{Text: closed})
	}

	return dedupe(out)
}

// splitSentences segments text into sentence-like units on terminal
// punctuation. A unit must reach minLen runes before a terminator closes it,
// which keeps abbreviations and decimal points from splitting mid-thought.
// This is approximate by design, not a full sentence tokenizer.
func splitSentences(text string, minLen int) []string {
	var (
		units   []string
		current strings.Builder
		runes   int
	)

	flush := func() {
		unit := strings.TrimSpace(current.String())
		if unit != "" {
			units = append(units, unit)
		}
		current.Reset()
		runes = 0
	}

	prev := rune(0)
	for _, r := range text {
		// Collapse whitespace runs (page breaks, layout newlines) to spaces.
		if r == '\n' || r == '\r' || r == '\t' {
			r = ' '
		}
		if r == ' ' && prev == ' ' {
			continue
		}
		current.WriteRune(r)
		runes++

		if (prev == '.' || prev == '!' || prev == '?') && r == ' ' && runes >= minLen {
			flush()
		}
		prev = r
	}
	flush()

	return units
}

// trailingWords returns up to tokens worth of words from the end of text,
// or "" when the whole text would be carried (no point overlapping a chunk
// with itself).
func trailingWords(text string, tokens int) string {
	n := overlapWords(tokens)
	if n <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) <= n {
		return ""
	}
	return strings.Join(words[len(words)-n:], " ")
}

// dedupe removes chunks with identical text, preserving first-occurrence
// order, then assigns final indices.
func dedupe(chunks []Chunk) []Chunk {
	seen := make(map[string]bool, len(chunks))
	out := chunks[:0]
	for _, c := range chunks {
		if seen[c.Text] {
			continue
		}
		seen[c.Text] = true
		c.Index = len(out)
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
