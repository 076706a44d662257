// Package contentfilter turns raw document text into indexable tokens. It is
// a pure, stateless transform: lowercase, collapse runs of non-word
// characters to single spaces, split on whitespace, and drop tokens that are
// too short, too long, or sit in one of two compile-time word lists.
//
// Filter removes both lists (used when indexing content). FilterQuery
// removes only the Stop list and preserves original case, since a caller may
// legitimately search for a Common term even though it would never be worth
// indexing on its own.
package contentfilter

import (
	"strings"
	"unicode"
)

const (
	minTokenLen = 2
	maxTokenLen = 50
	// MaxFilteredContentBytes is the length filtered content is truncated to
	// before being persisted, per spec.md section 3.
	MaxFilteredContentBytes = 500
)

// stopWords is the generic-English stop set, lifted from the platform's
// tokenizer package.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// commonWords is the domain-specific high-frequency set: terms that are
// legitimate English words (so not stop words) but common enough within this
// system's document corpus that indexing on them rarely narrows a search.
var commonWords = map[string]struct{}{
	"search": {}, "document": {}, "documents": {}, "index": {}, "indexed": {},
	"query": {}, "queries": {}, "result": {}, "results": {}, "data": {},
	"system": {}, "platform": {}, "service": {}, "content": {}, "shard": {},
	"meme": {}, "memes": {}, "funny": {}, "cat": {}, "cats": {},
}

func isNonWord(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, isNonWord)
}

func isCommon(token string) bool {
	if _, ok := stopWords[token]; ok {
		return true
	}
	_, ok := commonWords[token]
	return ok
}

// Filter lowercases raw, splits it into words, and keeps only tokens of
// length [2, 50] that are in neither the Stop set nor the Common set. The
// result is a space-joined string, truncated by the caller to
// MaxFilteredContentBytes before persisting. Filter is idempotent:
// Filter(Filter(x)) == Filter(x), since every retained token is already
// lowercase, within the length bound, and not a stop/common word.
func Filter(raw string) string {
	words := splitWords(strings.ToLower(raw))
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < minTokenLen || len(w) > maxTokenLen {
			continue
		}
		if isCommon(w) {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// FilterQuery removes only the Stop set, preserving original case and
// keeping Common-set terms, since a user may legitimately search for one.
// FilterQuery is idempotent for the same reason as Filter.
func FilterQuery(raw string) string {
	words := splitWords(raw)
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < minTokenLen || len(w) > maxTokenLen {
			continue
		}
		if _, stop := stopWords[strings.ToLower(w)]; stop {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// TruncateBytes truncates s to at most n bytes without splitting a multi-byte
// rune in the middle.
func TruncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	b := []byte(s)[:n]
	for len(b) > 0 && !utf8ValidStart(b) {
		b = b[:len(b)-1]
	}
	return string(b)
}

// utf8ValidStart reports whether b ends on a complete UTF-8 rune boundary.
func utf8ValidStart(b []byte) bool {
	return strings.ToValidUTF8(string(b), "") == string(b)
}

// IsCommonToken reports whether a single lowercase token belongs to the Stop
// or Common set — used by the query planner to compute a query's
// common-term ratio.
func IsCommonToken(token string) bool {
	return isCommon(strings.ToLower(token))
}
