// Package ingest turns document text into ordered, embedded chunks and
// writes them to the chunk store.
//
// Splitting is deterministic: identical text and policy always produce
// identical chunk boundaries and ordering, so re-ingestion is reproducible
// and testable. Embedding failures for individual chunks never abort a
// document; the affected chunks are stored without a vector and reported
// for backfill.
package ingest

import (
	"fmt"
	"strings"
	"unicode"
)

// Policy controls how a document's text is split into chunks.
type Policy struct {
	// MaxChunkLen is the maximum chunk length in runes. Required.
	MaxChunkLen int

	// Overlap is the number of trailing runes of a chunk carried into the
	// next one, at sentence granularity. Zero disables overlap.
	Overlap int
}

// Validate checks the policy for internal consistency.
func (p Policy) Validate() error {
	if p.MaxChunkLen < 1 {
		return fmt.Errorf("max chunk length must be at least 1, got %d", p.MaxChunkLen)
	}
	if p.Overlap < 0 {
		return fmt.Errorf("overlap must not be negative, got %d", p.Overlap)
	}
	if p.Overlap >= p.MaxChunkLen {
		return fmt.Errorf("overlap %d must be smaller than max chunk length %d", p.Overlap, p.MaxChunkLen)
	}
	return nil
}

// Split breaks text into ordered chunks under the policy. Sentences are
// kept together when they fit; a sentence longer than MaxChunkLen is hard
// split at the rune limit. Every non-whitespace rune of the input appears
// in exactly one chunk (plus overlap duplicates); chunk-boundary
// whitespace is trimmed.
func Split(text string, p Policy) []string {
	var sentences []string
	for _, s := range splitSentences(text) {
		sentences = append(sentences, hardSplit(s, p.MaxChunkLen)...)
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)

	flush := func() {
		c := strings.TrimSpace(cur.String())
		if c != "" {
			chunks = append(chunks, c)
		}
		cur.Reset()
		curLen = 0
	}

	for _, sentence := range sentences {
		trimmed := strings.TrimSpace(sentence)
		if trimmed == "" {
			continue
		}
		n := len([]rune(trimmed))

		if curLen > 0 && curLen+1+n > p.MaxChunkLen {
			prev := strings.TrimSpace(cur.String())
			flush()
			if p.Overlap > 0 {
				// Carry trailing sentences of the previous chunk, but never
				// past the length budget of the new one.
				carry := overlapTail(prev, p.Overlap)
				if carry != "" && len([]rune(carry))+1+n <= p.MaxChunkLen {
					cur.WriteString(carry)
					curLen = len([]rune(carry))
				}
			}
		}

		if curLen > 0 {
			cur.WriteString(" ")
			curLen++
		}
		cur.WriteString(trimmed)
		curLen += n
	}
	flush()

	return chunks
}

// splitSentences cuts text after runs of sentence terminators (.!?)
// followed by whitespace or end of text. Trailing whitespace stays with
// the preceding sentence, so the pieces concatenate back to the input.
func splitSentences(text string) []string {
	var (
		sentences []string
		runes     = []rune(text)
		start     = 0
	)

	i := 0
	for i < len(runes) {
		if isTerminator(runes[i]) {
			// Consume the full terminator run ("...", "?!").
			for i < len(runes) && isTerminator(runes[i]) {
				i++
			}
			if i >= len(runes) || unicode.IsSpace(runes[i]) {
				for i < len(runes) && unicode.IsSpace(runes[i]) {
					i++
				}
				sentences = append(sentences, string(runes[start:i]))
				start = i
				continue
			}
			continue
		}
		i++
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}

	return sentences
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// hardSplit cuts a sentence exceeding maxLen into maxLen-rune windows.
// Sentences within the limit pass through unchanged.
func hardSplit(s string, maxLen int) []string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= maxLen {
		return []string{s}
	}

	parts := make([]string, 0, (len(runes)+maxLen-1)/maxLen)
	for start := 0; start < len(runes); start += maxLen {
		end := min(start+maxLen, len(runes))
		parts = append(parts, string(runes[start:end]))
	}
	return parts
}

// overlapTail returns the trailing sentences of prev totaling at most
// maxRunes, or the trailing maxRunes runes when even the last sentence is
// longer than the budget.
func overlapTail(prev string, maxRunes int) string {
	if prev == "" {
		return ""
	}

	sentences := splitSentences(prev)
	var (
		tail []string
		used int
	)
	for i := len(sentences) - 1; i >= 0; i-- {
		s := strings.TrimSpace(sentences[i])
		n := len([]rune(s))
		if n == 0 {
			continue
		}
		if used > 0 && used+1+n > maxRunes {
			break
		}
		if used == 0 && n > maxRunes {
			runes := []rune(s)
			return string(runes[len(runes)-maxRunes:])
		}
		tail = append([]string{s}, tail...)
		used += n
		if used < maxRunes {
			used++ // joining space
		}
	}

	return strings.Join(tail, " ")
}
