package redaction

import (
	"regexp"
	"strings"

	"speech-audit-pipeline/internal/models"
)

var digitWords = map[string]byte{
	"zero": '0', "oh": '0',
	"one": '1', "two": '2', "three": '3', "four": '4', "five": '5',
	"six": '6', "seven": '7', "eight": '8', "nine": '9',
}

var (
	wordPattern = regexp.MustCompile(`[A-Za-z]+`)
	// separators allowed between spoken digits of one run
	digitGapPattern = regexp.MustCompile(`^[\s,\-]{1,3}$`)
)

// normalized is text with spoken digit runs collapsed into digit strings.
// Every output byte i came from source bytes [srcStart[i], srcEnd[i]).
type normalized struct {
	text     string
	srcStart []int
	srcEnd   []int
}

// sourceSpan maps a span of the normalized text back to the source text.
func (n normalized) sourceSpan(start, end int) models.Span {
	return models.Span{Start: n.srcStart[start], End: n.srcEnd[end-1]}
}

// normalizeSpokenDigits rewrites runs of two or more spoken digits
// ("four five three two") into contiguous digits ("4532"). Everything else
// is copied byte for byte.
func normalizeSpokenDigits(text string) normalized {
	var (
		b     strings.Builder
		n     = normalized{srcStart: make([]int, 0, len(text)), srcEnd: make([]int, 0, len(text))}
		pos   int
		words = wordPattern.FindAllStringIndex(text, -1)
	)
	b.Grow(len(text))

	copyRange := func(from, to int) {
		for i := from; i < to; i++ {
			b.WriteByte(text[i])
			n.srcStart = append(n.srcStart, i)
			n.srcEnd = append(n.srcEnd, i+1)
		}
	}

	for i := 0; i < len(words); {
		j := i
		for j < len(words) && isDigitWord(text, words[j]) {
			// "oh" only counts as zero inside a run
			if j == i && strings.EqualFold(text[words[j][0]:words[j][1]], "oh") {
				break
			}
			if j > i && !digitGapPattern.MatchString(text[words[j-1][1]:words[j][0]]) {
				break
			}
			j++
		}
		if j-i < 2 {
			i++
			continue
		}

		copyRange(pos, words[i][0])
		for _, w := range words[i:j] {
			b.WriteByte(digitWords[strings.ToLower(text[w[0]:w[1]])])
			n.srcStart = append(n.srcStart, w[0])
			n.srcEnd = append(n.srcEnd, w[1])
		}
		pos = words[j-1][1]
		i = j
	}
	copyRange(pos, len(text))

	n.text = b.String()
	return n
}

func isDigitWord(text string, w []int) bool {
	_, ok := digitWords[strings.ToLower(text[w[0]:w[1]])]
	return ok
}
