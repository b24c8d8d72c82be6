package channel

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxChunkLength is the largest message, in characters, sent in one request.
const MaxChunkLength = 4000

// Segmenter splits text into units that the chunker packs greedily.
// Units must not be empty.
type Segmenter func(text string) []string

var sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)

// SplitSentences breaks text after '.', '!' or '?' followed by whitespace.
// The whitespace is dropped and the punctuation stays with its sentence.
func SplitSentences(text string) []string {
	var units []string
	prev := 0
	for _, m := range sentenceBoundary.FindAllStringIndex(text, -1) {
		if u := strings.TrimSpace(text[prev : m[0]+1]); u != "" {
			units = append(units, u)
		}
		prev = m[1]
	}
	if u := strings.TrimSpace(text[prev:]); u != "" {
		units = append(units, u)
	}
	return units
}

// Chunk splits text into pieces of at most limit characters. Units from seg
// are packed greedily, joined by single spaces; a unit longer than limit is
// cut at exact limit boundaries and its tail starts the next buffer.
// A limit outside 1..MaxChunkLength means MaxChunkLength; a nil seg means
// SplitSentences.
func Chunk(text string, limit int, seg Segmenter) []string {
	if limit <= 0 || limit > MaxChunkLength {
		limit = MaxChunkLength
	}
	if seg == nil {
		seg = SplitSentences
	}
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var (
		chunks []string
		buf    []rune
	)
	flush := func() {
		if len(buf) > 0 {
			chunks = append(chunks, string(buf))
			buf = nil
		}
	}

	for _, unit := range seg(text) {
		r := []rune(unit)
		if len(r) == 0 {
			continue
		}
		if len(buf) > 0 && len(buf)+1+len(r) <= limit {
			buf = append(buf, ' ')
			buf = append(buf, r...)
			continue
		}
		flush()
		for len(r) > limit {
			chunks = append(chunks, string(r[:limit]))
			r = r[limit:]
		}
		buf = append(buf, r...)
	}
	flush()
	return chunks
}
