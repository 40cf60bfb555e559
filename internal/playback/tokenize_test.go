package playback

import (
	"testing"
)

func railwayVocab() *ManifestResolver {
	return NewManifestResolver("", map[string]string{
		"attention":      "a.jsonl",
		"all":            "b.jsonl",
		"train":          "c.jsonl",
		"number":         "d.jsonl",
		"from":           "e.jsonl",
		"platform":       "f.jsonl",
		"leave":          "g.jsonl",
		"andhra pradesh": "h.jsonl",
		"good morning":   "i.jsonl",
	})
}

func TestTokenizeAnnouncement(t *testing.T) {
	tok := NewTokenizer(railwayVocab())
	got := tok.Tokenize("Attention all, train no. 1675 from P/F nine B will leave from Andhra Pradesh at 12:45.")
	want := []string{
		"attention", "all", "train", "number", "1", "6", "7", "5", "from", "platform", "9", "B",
		"leave", "from", "andhra pradesh", "A", "T", "1", "2", "4", "5",
	}
	if !equalStrings(got, want) {
		t.Fatalf("tokenize mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestTokenizeNumberWordsAndMixedTokens(t *testing.T) {
	tok := NewTokenizer(railwayVocab())
	if got := tok.Tokenize("platform twelve"); !equalStrings(got, []string{"platform", "1", "2"}) {
		t.Fatalf("unexpected %q", got)
	}
	if got := tok.Tokenize("9B"); !equalStrings(got, []string{"9", "B"}) {
		t.Fatalf("unexpected %q", got)
	}
}

func TestTokenizePhraseBeforeStopWords(t *testing.T) {
	tok := NewTokenizer(NewManifestResolver("", map[string]string{"how are you": "x.jsonl"}))
	if got := tok.Tokenize("How are you?"); !equalStrings(got, []string{"how are you"}) {
		t.Fatalf("unexpected %q", got)
	}
}

func TestTokenizeWithoutVocabulary(t *testing.T) {
	tok := NewTokenizer(nil)
	if got := tok.Tokenize("The train is late!"); !equalStrings(got, []string{"train", "late"}) {
		t.Fatalf("unexpected %q", got)
	}
	if got := tok.Tokenize("  ,.  "); len(got) != 0 {
		t.Fatalf("expected nothing, got %q", got)
	}
}
