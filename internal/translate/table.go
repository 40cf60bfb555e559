// Package translate maps recognized text to other display languages.
package translate

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Table is an immutable lookup of text -> language -> translation plus the
// ordered set of selectable languages.
type Table struct {
	entries   map[string]map[string]string
	languages []string
}

// New builds a table. Keys are matched case-insensitively.
func New(entries map[string]map[string]string, languages []string) *Table {
	t := &Table{
		entries:   make(map[string]map[string]string, len(entries)),
		languages: append([]string(nil), languages...),
	}
	for key, byLang := range entries {
		t.entries[normalize(key)] = byLang
	}
	if len(t.languages) == 0 {
		t.languages = []string{"en"}
	}
	return t
}

// Load reads a YAML mapping of the form:
//
//	hello:
//	  hi: नमस्ते
//	  kn: ನಮಸ್ಕಾರ
//
// An empty path yields a table with no entries.
func Load(path string, languages []string) (*Table, error) {
	if path == "" {
		return New(nil, languages), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read translations: %w", err)
	}
	var entries map[string]map[string]string
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse translations: %w", err)
	}
	return New(entries, languages), nil
}

func (t *Table) Languages() []string {
	return append([]string(nil), t.languages...)
}

// Default is the first configured language.
func (t *Table) Default() string {
	return t.languages[0]
}

// Select returns requested when it is a configured language, otherwise the
// language after current in rotation order.
func (t *Table) Select(requested, current string) string {
	if requested != "" && slices.Contains(t.languages, requested) {
		return requested
	}
	i := slices.Index(t.languages, current)
	return t.languages[(i+1)%len(t.languages)]
}

// Translate looks up text in lang. Text in the default language is returned
// unchanged.
func (t *Table) Translate(text, lang string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	if lang == t.Default() {
		return text, true
	}
	byLang, ok := t.entries[normalize(text)]
	if !ok {
		return "", false
	}
	out, ok := byLang[lang]
	return out, ok
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
