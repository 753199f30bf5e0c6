package segmenter

import (
	"strings"
	"unicode"
)

// DefaultMaxChunkChars matches the per-request character limit of the speech
// provider.
const DefaultMaxChunkChars = 3000

// Segmenter splits text into provider-sized chunks, preferring sentence
// boundaries so chunk seams fall on natural pauses. It is pure: no state,
// no side effects.
type Segmenter struct {
	maxChars int
}

// New returns a Segmenter with the given chunk limit. Non-positive limits
// fall back to DefaultMaxChunkChars.
func New(maxChars int) *Segmenter {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}
	return &Segmenter{maxChars: maxChars}
}

// Split returns an ordered, non-empty list of chunks, each at most maxChars
// characters. Sentences are kept whole where possible; a sentence longer
// than the limit is split at word boundaries instead.
func (s *Segmenter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= s.maxChars {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	for _, sentence := range splitSentences(text) {
		if len(sentence) > s.maxChars {
			if current.Len() > 0 {
				chunks = append(chunks, strings.TrimSpace(current.String()))
				current.Reset()
			}
			chunks = append(chunks, s.splitWords(sentence)...)
			continue
		}

		if current.Len() > 0 && current.Len()+1+len(sentence) > s.maxChars {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}

	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}
	return chunks
}

// splitWords breaks an oversized sentence at word boundaries.
func (s *Segmenter) splitWords(sentence string) []string {
	var chunks []string
	var current strings.Builder

	for _, word := range strings.Fields(sentence) {
		if current.Len() > 0 && current.Len()+1+len(word) > s.maxChars {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// splitSentences splits on sentence-terminal punctuation, keeping the
// terminator attached to its sentence.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Only break when the terminator ends the text or is followed by
		// whitespace, so "3.14" and "e.g." stay intact more often than not.
		if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
