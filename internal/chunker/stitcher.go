package chunker

import (
	"strings"
	"unicode"

	"github.com/oasisdevteambal/regula/internal/model"
)

// Stitch injects context windows between sequence-adjacent chunks: the last
// overlap words of chunk i's core text are prepended to chunk i+1's
// stitched text. Core text and byte ranges are never touched — the stitched
// text exists only for the extraction call. Applied word counts are
// recorded on both sides of each boundary, so the first chunk always has
// OverlapPrev == 0 and the last always has OverlapNext == 0.
func Stitch(chunks []model.DocumentChunk, cfg Config) {
	for i := range chunks {
		chunks[i].StitchedText = chunks[i].Text
	}
	for i := 0; i+1 < len(chunks); i++ {
		src := &chunks[i]
		dst := &chunks[i+1]

		want := cfg.Overlap.For(src.ContentType)
		overlap, applied := tailWords(src.Text, want)
		if applied == 0 {
			continue
		}
		src.OverlapNext = applied
		dst.OverlapPrev = applied

		if !strings.HasSuffix(overlap, "\n") {
			dst.StitchedText = overlap + "\n" + dst.Text
		} else {
			dst.StitchedText = overlap + dst.Text
		}
		dst.ContextKeywords = model.KeywordsIn(overlap, cfg.Keywords)
	}
}

// tailWords returns the exact byte suffix of s starting at the n-th word
// from the end, with the word count actually covered. Short texts yield the
// whole string and a smaller count.
func tailWords(s string, n int) (string, int) {
	if n <= 0 {
		return "", 0
	}
	var starts []int
	inWord := false
	for i, r := range s {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			starts = append(starts, i)
			inWord = true
		}
	}
	if len(starts) == 0 {
		return "", 0
	}
	if n >= len(starts) {
		return s, len(starts)
	}
	return s[starts[len(starts)-n]:], n
}
