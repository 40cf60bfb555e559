// Package lattice recovers dictionary words from per-letter candidate
// lattices produced by the gesture classifier.
package lattice

import (
	"context"
	"errors"
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/varshagowdavg/signbridge/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultFanOut    = 3
	DefaultMaxLength = 8
)

const (
	MethodLattice = "lattice"
	MethodFuzzy   = "fuzzy"
	MethodRaw     = "raw"
)

var (
	ErrEmptyLattice   = errors.New("lattice: no positions")
	ErrLatticeTooLong = errors.New("lattice: too many positions")
)

// Lattice holds ranked candidates per letter position: Lattice[position][rank].
type Lattice [][]protocol.Candidate

// Raw concatenates the top-ranked candidate at every position.
func (l Lattice) Raw() (string, float64) {
	var b strings.Builder
	var score float64
	for _, ranked := range l {
		if len(ranked) == 0 {
			continue
		}
		b.WriteString(normalize(ranked[0].Symbol))
		score += ranked[0].Probability
	}
	return b.String(), score
}

// Result is the outcome of Corrector.Resolve.
type Result struct {
	Word   string
	Score  float64
	Raw    string
	Method string
}

type Option func(*Corrector)

// WithFanOut limits how many ranked candidates per position are expanded.
func WithFanOut(k int) Option {
	return func(c *Corrector) {
		if k > 0 {
			c.fanOut = k
		}
	}
}

// WithMaxLength bounds the number of positions accepted.
func WithMaxLength(n int) Option {
	return func(c *Corrector) {
		if n > 0 {
			c.maxLength = n
		}
	}
}

// WithFuzzyThreshold enables a Jaro-Winkler nearest-word fallback when no
// exact path matches. Zero disables it.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.fuzzy = threshold
	}
}

// Corrector searches every path through a lattice for the best scoring
// dictionary word.
type Corrector struct {
	dict      *Dictionary
	fanOut    int
	maxLength int
	fuzzy     float64
	tracer    trace.Tracer
}

func New(dict *Dictionary, opts ...Option) *Corrector {
	c := &Corrector{
		dict:      dict,
		fanOut:    DefaultFanOut,
		maxLength: DefaultMaxLength,
		tracer:    otel.Tracer("github.com/varshagowdavg/signbridge/lattice"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type path struct {
	text  string
	score float64
}

// Correct expands the lattice breadth-first, scoring each complete string by
// the sum of its candidate probabilities, and returns the highest scoring
// string present in the dictionary. Ties keep the first match in expansion
// order. It returns ("", 0) when no path is a dictionary word.
func (c *Corrector) Correct(l Lattice) (string, float64, error) {
	if len(l) == 0 {
		return "", 0, ErrEmptyLattice
	}
	if len(l) > c.maxLength {
		return "", 0, ErrLatticeTooLong
	}

	paths := []path{{}}
	for _, ranked := range l {
		k := min(c.fanOut, len(ranked))
		if k == 0 {
			return "", 0, nil
		}
		next := make([]path, 0, k*len(paths))
		for _, cand := range ranked[:k] {
			sym := normalize(cand.Symbol)
			for _, p := range paths {
				next = append(next, path{text: p.text + sym, score: p.score + cand.Probability})
			}
		}
		paths = next
	}

	var (
		best      string
		bestScore float64
	)
	for _, p := range paths {
		if c.dict.Contains(p.text) && p.score > bestScore {
			best, bestScore = p.text, p.score
		}
	}
	return best, bestScore, nil
}

// Resolve runs Correct and falls back to the fuzzy nearest word or the raw
// top-1 spelling when no exact path matches.
func (c *Corrector) Resolve(ctx context.Context, l Lattice) Result {
	_, span := c.tracer.Start(ctx, "lattice.resolve", trace.WithAttributes(attribute.Int("positions", len(l))))
	defer span.End()

	raw, rawScore := l.Raw()
	word, score, err := c.Correct(l)
	if err != nil {
		span.RecordError(err)
	}
	if word != "" {
		span.SetAttributes(attribute.String("method", MethodLattice))
		return Result{Word: word, Score: score, Raw: raw, Method: MethodLattice}
	}
	if fuzzy, similarity, ok := c.Nearest(raw); ok {
		span.SetAttributes(attribute.String("method", MethodFuzzy))
		return Result{Word: fuzzy, Score: similarity, Raw: raw, Method: MethodFuzzy}
	}
	span.SetAttributes(attribute.String("method", MethodRaw))
	return Result{Word: raw, Score: rawScore, Raw: raw, Method: MethodRaw}
}

// Nearest returns the dictionary word most similar to s by Jaro-Winkler
// similarity, if one reaches the fuzzy threshold.
func (c *Corrector) Nearest(s string) (string, float64, bool) {
	if c.fuzzy <= 0 || s == "" {
		return "", 0, false
	}
	s = normalize(s)
	var (
		best      string
		bestScore float64
	)
	for _, w := range c.dict.Words() {
		if score := matchr.JaroWinkler(s, w, false); score > bestScore {
			best, bestScore = w, score
		}
	}
	if bestScore < c.fuzzy {
		return "", 0, false
	}
	return best, bestScore, true
}

func (c *Corrector) Dictionary() *Dictionary {
	return c.dict
}
