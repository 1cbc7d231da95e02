package search

import (
	"sort"
	"strings"
)

// fieldExtractor attempts to pull passage text out of one hit payload.
// Extractors are pure functions tried in priority order.
type fieldExtractor func(payload map[string]any) (string, bool)

// minFallbackLen is the minimum length a string field must have for the
// generic fallback extractor to treat it as passage text rather than a tag
// or identifier.
const minFallbackLen = 20

// clauseChain is the ordered extractor chain applied to every hit: the known
// text field names first, then the generic long-string fallback. The chain
// exists to defend against heterogeneous indexing schemas — records this
// system wrote always match the first extractor.
var clauseChain = []fieldExtractor{
	namedField("text"),
	namedField("chunk_text"),
	namedField("content"),
	namedField("description"),
	namedField("body"),
	firstLongString(minFallbackLen),
}

// extractClause runs the chain and returns the first passage found.
func extractClause(payload map[string]any) (string, bool) {
	for _, ex := range clauseChain {
		if clause, ok := ex(payload); ok {
			return clause, true
		}
	}
	return "", false
}

// namedField returns an extractor matching a single known field name holding
// a non-empty string.
func namedField(name string) fieldExtractor {
	return func(payload map[string]any) (string, bool) {
		if v, ok := payload[name].(string); ok && strings.TrimSpace(v) != "" {
			return v, true
		}
		return "", false
	}
}

// firstLongString returns the generic fallback extractor: the first
// string-valued field longer than min characters, scanning field names in
// sorted order so the choice is deterministic.
func firstLongString(min int) fieldExtractor {
	return func(payload map[string]any) (string, bool) {
		keys := make([]string, 0, len(payload))
		for k := range payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if v, ok := payload[k].(string); ok && len(v) > min {
				return v, true
			}
		}
		return "", false
	}
}
