package scoring

import "testing"

func TestCharBigram_FluentBeatsGibberish(t *testing.T) {
	lm := DefaultLanguageModel()

	fluent := lm.Perplexity("thank you for calling, how can I help you today")
	gibberish := lm.Perplexity("qzxv kkjw ppqz xxjq vbzk")

	if fluent >= gibberish {
		t.Errorf("expected fluent (%v) < gibberish (%v)", fluent, gibberish)
	}
	if fluent <= 1 {
		t.Errorf("perplexity must exceed 1, got %v", fluent)
	}
}

func TestCharBigram_CaseInsensitive(t *testing.T) {
	lm := DefaultLanguageModel()
	if a, b := lm.Perplexity("Hello World"), lm.Perplexity("hello world"); a != b {
		t.Errorf("expected case folding, got %v vs %v", a, b)
	}
}

func TestCharBigram_NoLettersIsUniform(t *testing.T) {
	lm := DefaultLanguageModel()
	if got := lm.Perplexity("4532 1234"); got != alphabet {
		t.Errorf("expected %d, got %v", alphabet, got)
	}
}

func TestTrainCharBigram_Deterministic(t *testing.T) {
	a := TrainCharBigram("the cat sat on the mat")
	b := TrainCharBigram("the cat sat on the mat")
	if a.Perplexity("the hat") != b.Perplexity("the hat") {
		t.Error("training must be deterministic")
	}
}
