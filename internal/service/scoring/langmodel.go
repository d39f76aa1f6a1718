package scoring

import (
	_ "embed"
	"math"
	"sync"
)

// LanguageModel measures how surprising a text is. Lower is more fluent.
type LanguageModel interface {
	Perplexity(text string) float64
}

//go:embed corpus.txt
var referenceCorpus string

const (
	alphabet = 27 // space class + a-z
	smoothK  = 0.1
)

// CharBigramModel is a character bigram model with add-k smoothing. Letters are
// case-folded; every other rune collapses into a single boundary symbol.
type CharBigramModel struct {
	bigrams  [alphabet][alphabet]float64
	unigrams [alphabet]float64
}

var (
	defaultModel     *CharBigramModel
	defaultModelOnce sync.Once
)

// DefaultLanguageModel returns the model trained on the embedded reference corpus.
func DefaultLanguageModel() *CharBigramModel {
	defaultModelOnce.Do(func() {
		defaultModel = TrainCharBigram(referenceCorpus)
	})
	return defaultModel
}

// TrainCharBigram builds a model from corpus.
func TrainCharBigram(corpus string) *CharBigramModel {
	m := &CharBigramModel{}
	symbols := symbolize(corpus)
	for i := 1; i < len(symbols); i++ {
		m.bigrams[symbols[i-1]][symbols[i]]++
		m.unigrams[symbols[i-1]]++
	}
	return m
}

// Perplexity returns exp of the mean negative log-likelihood per transition.
// Text without letters carries no evidence and scores as a uniform model would.
func (m *CharBigramModel) Perplexity(text string) float64 {
	symbols := symbolize(text)
	if len(symbols) < 3 {
		return alphabet
	}
	var nll float64
	for i := 1; i < len(symbols); i++ {
		a, b := symbols[i-1], symbols[i]
		p := (m.bigrams[a][b] + smoothK) / (m.unigrams[a] + smoothK*alphabet)
		nll -= math.Log(p)
	}
	return math.Exp(nll / float64(len(symbols)-1))
}

// symbolize maps text to symbol indices, wrapped in boundary symbols.
func symbolize(text string) []int {
	out := make([]int, 0, len(text)+2)
	out = append(out, 0)
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, int(r-'a')+1)
		case r >= 'A' && r <= 'Z':
			out = append(out, int(r-'A')+1)
		case r == '\'':
			// contractions stay inside a word
		default:
			if out[len(out)-1] != 0 {
				out = append(out, 0)
			}
		}
	}
	if out[len(out)-1] != 0 {
		out = append(out, 0)
	}
	return out
}
