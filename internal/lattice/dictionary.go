package lattice

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Dictionary is a sorted, de-duplicated, lower-cased word list searched by
// binary search. It is immutable once built.
type Dictionary struct {
	words []string
}

// NewDictionary builds a dictionary from arbitrary words. Blank entries are
// dropped.
func NewDictionary(words []string) *Dictionary {
	normalized := make([]string, 0, len(words))
	for _, w := range words {
		if w = normalize(w); w != "" {
			normalized = append(normalized, w)
		}
	}
	sort.Strings(normalized)
	out := normalized[:0]
	for i, w := range normalized {
		if i == 0 || w != normalized[i-1] {
			out = append(out, w)
		}
	}
	return &Dictionary{words: out}
}

// ReadDictionary reads one word per line. Lines starting with # are ignored.
func ReadDictionary(r io.Reader) (*Dictionary, error) {
	var words []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dictionary: %w", err)
	}
	return NewDictionary(words), nil
}

// LoadDictionary reads a dictionary file from disk.
func LoadDictionary(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dictionary: %w", err)
	}
	defer f.Close()
	return ReadDictionary(f)
}

func (d *Dictionary) Contains(word string) bool {
	if d == nil {
		return false
	}
	word = normalize(word)
	i := sort.SearchStrings(d.words, word)
	return i < len(d.words) && d.words[i] == word
}

func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.words)
}

// Words returns the sorted entries. The slice must not be modified.
func (d *Dictionary) Words() []string {
	if d == nil {
		return nil
	}
	return d.words
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
