package recognize

import (
	"time"

	"github.com/varshagowdavg/signbridge/internal/lattice"
	"github.com/varshagowdavg/signbridge/internal/protocol"
)

// SessionOptions configure a recognition Session.
type SessionOptions struct {
	StableFrames        int
	ConfidenceThreshold float64
	ClearDelay          time.Duration
	// Alphabet restricts which stable symbols are accumulated. Empty accepts all.
	Alphabet string
	// CommandLabels maps gesture labels to command kinds.
	CommandLabels map[string]string
	// Languages picks the display language on SwitchLanguage. Nil keeps "en".
	Languages LanguageSelector
}

// LanguageSelector chooses the next display language.
type LanguageSelector interface {
	Default() string
	Select(requested, current string) string
}

// Outcome reports what a single input did to a session.
type Outcome struct {
	Symbol      *StableSymbol
	Command     string
	Text        string
	TextChanged bool
	Cleared     bool
	Reason      string
	Language    string
	LanguageSet bool
	// Word holds the candidate lattice of a word closed by this input.
	Word lattice.Lattice
}

// Session is the per-user recognition state: a stabilizer feeding a word
// accumulator, plus the candidate lattice of the word being spelled.
// It is not safe for concurrent use.
type Session struct {
	ID string

	stabilizer *Stabilizer
	acc        *Accumulator
	alphabet   map[string]struct{}
	commands   map[string]string
	languages  LanguageSelector
	language   string
	pending    lattice.Lattice
	lastSeen   time.Time
}

func NewSession(id string, opts SessionOptions) *Session {
	s := &Session{
		ID:         id,
		stabilizer: NewStabilizer(opts.StableFrames, opts.ConfidenceThreshold),
		acc:        NewAccumulator(opts.ClearDelay),
		commands:   opts.CommandLabels,
		languages:  opts.Languages,
	}
	s.language = "en"
	if s.languages != nil {
		s.language = s.languages.Default()
	}
	if opts.Alphabet != "" {
		s.alphabet = make(map[string]struct{})
		for _, r := range opts.Alphabet {
			s.alphabet[string(r)] = struct{}{}
		}
	}
	return s
}

// Frame processes one classification (nil for no detection) at time now.
func (s *Session) Frame(c *FrameClassification, now time.Time) Outcome {
	s.lastSeen = now
	out := s.Tick(now)

	sym, ok := s.stabilizer.Observe(c)
	if !ok {
		return out
	}
	out.Symbol = &sym

	if kind, isCommand := s.commands[sym.Symbol]; isCommand {
		cmdOut := s.Command(Command{Kind: kind}, now)
		cmdOut.Symbol = &sym
		if out.Cleared && !cmdOut.Cleared {
			cmdOut.Cleared, cmdOut.Reason = true, out.Reason
			cmdOut.TextChanged = true
		}
		if cmdOut.Word == nil {
			cmdOut.Word = out.Word
		}
		return cmdOut
	}
	if s.alphabet != nil {
		if _, allowed := s.alphabet[sym.Symbol]; !allowed {
			return out
		}
	}

	before := s.acc.Len()
	out.Text = s.acc.Apply(sym, now)
	if s.acc.Len() != before {
		out.TextChanged = true
		candidates := sym.Candidates
		if len(candidates) == 0 {
			candidates = []protocol.Candidate{{Symbol: sym.Symbol, Probability: 1}}
		}
		s.pending = append(s.pending, candidates)
	}
	return out
}

// Command applies an interactive command at time now.
func (s *Session) Command(cmd Command, now time.Time) Outcome {
	s.lastSeen = now
	out := Outcome{Command: cmd.Kind}
	before := s.acc.Text()

	switch cmd.Kind {
	case protocol.CommandSpace:
		out.Word = s.takePending()
	case protocol.CommandClear:
		s.stabilizer.Reset()
		s.pending = nil
		out.Cleared = before != ""
		out.Reason = "command"
	case protocol.CommandSwitchLanguage:
		if s.languages != nil {
			s.language = s.languages.Select(cmd.Language, s.language)
		}
		out.LanguageSet = true
	}

	out.Text = s.acc.Apply(cmd, now)
	out.TextChanged = out.Text != before || out.LanguageSet
	out.Language = s.language
	return out
}

// Tick runs the inactivity check. A cleared buffer also closes the pending word.
func (s *Session) Tick(now time.Time) Outcome {
	out := Outcome{Language: s.language}
	if s.acc.Tick(now) {
		out.Cleared = true
		out.TextChanged = true
		out.Reason = "idle"
		out.Word = s.takePending()
	}
	out.Text = s.acc.Text()
	return out
}

// Reset restarts the session from scratch.
func (s *Session) Reset() {
	s.stabilizer.Reset()
	s.acc.Clear()
	s.pending = nil
}

func (s *Session) Text() string {
	return s.acc.Text()
}

func (s *Session) Language() string {
	return s.language
}

func (s *Session) LastSeen() time.Time {
	return s.lastSeen
}

func (s *Session) takePending() lattice.Lattice {
	if len(s.pending) == 0 {
		return nil
	}
	word := s.pending
	s.pending = nil
	return word
}
