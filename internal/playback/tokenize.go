package playback

import (
	"strconv"
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an the by is am are was were be been being
		do does did has have had will shall would should can could may might must
		and or nor so for yet oh uh um ah wow`) {
		stopWords[w] = struct{}{}
	}
}

var numberWords = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4,
	"five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9,
	"ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
	"twenty": 20,
}

var abbreviations = map[string]string{
	"no.":  "number",
	"no:":  "number",
	"p/f":  "platform",
	"pf":   "platform",
	"plat": "platform",
}

// Tokenizer turns free text into the word sequence the pipeline plays.
// Multi-word vocabulary phrases become one token, stop words are dropped,
// numbers become single digits and anything without its own sign is spelled
// as upper-case letters.
type Tokenizer struct {
	vocab Vocabulary
}

// NewTokenizer returns a tokenizer over vocab. A nil vocab keeps every word.
func NewTokenizer(vocab Vocabulary) *Tokenizer {
	return &Tokenizer{vocab: vocab}
}

func (t *Tokenizer) Tokenize(text string) []string {
	words := t.clean(text)
	var phrases [][]string
	if t.vocab != nil {
		for _, p := range t.vocab.Phrases() {
			phrases = append(phrases, strings.Fields(p))
		}
	}

	var out []string
	for i := 0; i < len(words); {
		if n := matchPhrase(words[i:], phrases); n > 0 {
			out = append(out, strings.Join(words[i:i+n], " "))
			i += n
			continue
		}
		out = append(out, t.expand(words[i])...)
		i++
	}
	return out
}

// clean lower-cases text, rewrites abbreviations and strips punctuation.
func (t *Tokenizer) clean(text string) []string {
	var words []string
	for _, field := range strings.Fields(strings.ToLower(text)) {
		if full, ok := abbreviations[strings.TrimRight(field, ",;!?")]; ok {
			words = append(words, full)
			continue
		}
		w := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
				return r
			}
			return -1
		}, field)
		w = strings.Trim(w, "'")
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

func (t *Tokenizer) expand(word string) []string {
	if _, stop := stopWords[word]; stop {
		return nil
	}
	if n, ok := numberWords[word]; ok {
		return splitChars(strconv.Itoa(n))
	}
	if strings.IndexFunc(word, unicode.IsDigit) >= 0 {
		return splitChars(word)
	}
	if t.vocab == nil || t.vocab.Contains(word) {
		return []string{word}
	}
	return splitChars(word)
}

// splitChars emits one token per letter or digit, letters upper-cased.
func splitChars(word string) []string {
	var out []string
	for _, r := range word {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, string(unicode.ToUpper(r)))
		}
	}
	return out
}

func matchPhrase(words []string, phrases [][]string) int {
	for _, p := range phrases {
		if len(p) > len(words) {
			continue
		}
		match := true
		for i := range p {
			if words[i] != p[i] {
				match = false
				break
			}
		}
		if match {
			return len(p)
		}
	}
	return 0
}
