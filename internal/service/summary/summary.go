// Package summary produces short extractive summaries of redacted transcripts.
package summary

import (
	"strings"
	"unicode"
)

// DefaultMaxSentences is used when a non-positive limit is given.
const DefaultMaxSentences = 3

// Summarizer keeps the leading sentences of a text.
type Summarizer struct {
	maxSentences int
}

func New(maxSentences int) *Summarizer {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	return &Summarizer{maxSentences: maxSentences}
}

// Summarize returns the first maxSentences sentences of text.
func (s *Summarizer) Summarize(text string) string {
	return Summarize(text, s.maxSentences)
}

// Summarize returns the first maxSentences sentences of text, terminated with
// a period if the last kept sentence has no end punctuation. Blank input
// yields "".
func Summarize(text string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	sentences := Sentences(text)
	if len(sentences) == 0 {
		return ""
	}
	if len(sentences) > maxSentences {
		sentences = sentences[:maxSentences]
	}

	out := strings.Join(sentences, " ")
	if !isTerminal(rune(out[len(out)-1])) {
		out += "."
	}
	return out
}

// Sentences splits text at '.', '!' or '?' followed by whitespace or the end
// of input. Decimal points and dotted tokens do not split.
func Sentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i, r := range runes {
		if !isTerminal(r) {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" && !onlyPunct(s) {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" && !onlyPunct(s) {
		out = append(out, s)
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func onlyPunct(s string) bool {
	for _, r := range s {
		if !unicode.IsPunct(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
