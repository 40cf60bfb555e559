package recognize

import (
	"testing"
	"time"

	"github.com/varshagowdavg/signbridge/internal/protocol"
	"github.com/varshagowdavg/signbridge/internal/translate"
)

func newTestSession(opts SessionOptions) *Session {
	if opts.StableFrames == 0 {
		opts.StableFrames = 3
	}
	if opts.ClearDelay == 0 {
		opts.ClearDelay = 2 * time.Second
	}
	return NewSession("s1", opts)
}

func hold(s *Session, label string, n int, now time.Time) []Outcome {
	var outs []Outcome
	for i := 0; i < n; i++ {
		c := &FrameClassification{
			Label:      label,
			Confidence: 0.9,
			Candidates: []protocol.Candidate{{Symbol: label, Probability: 0.9}, {Symbol: "X", Probability: 0.1}},
		}
		outs = append(outs, s.Frame(c, now))
	}
	return outs
}

func TestSessionSpellsAndClosesWord(t *testing.T) {
	s := newTestSession(SessionOptions{})
	hold(s, "H", 3, t0)
	hold(s, "I", 3, t0)
	if s.Text() != "HI" {
		t.Fatalf("expected HI, got %q", s.Text())
	}
	out := s.Command(Command{Kind: protocol.CommandSpace}, t0)
	if out.Text != "HI " || !out.TextChanged {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(out.Word) != 2 || out.Word[0][0].Symbol != "H" || out.Word[1][1].Symbol != "X" {
		t.Fatalf("unexpected word lattice %+v", out.Word)
	}
	if out2 := s.Command(Command{Kind: protocol.CommandSpace}, t0); out2.Word != nil {
		t.Fatalf("second space should not close a word, got %+v", out2.Word)
	}
}

func TestSessionCommandLabel(t *testing.T) {
	s := newTestSession(SessionOptions{CommandLabels: map[string]string{"SPACE": protocol.CommandSpace}})
	hold(s, "O", 3, t0)
	outs := hold(s, "SPACE", 3, t0)
	last := outs[len(outs)-1]
	if last.Command != protocol.CommandSpace || last.Symbol == nil {
		t.Fatalf("expected space command from gesture, got %+v", last)
	}
	if s.Text() != "O " {
		t.Fatalf("expected %q, got %q", "O ", s.Text())
	}
	if len(last.Word) != 1 {
		t.Fatalf("expected one-letter word, got %+v", last.Word)
	}
}

func TestSessionAlphabetFilter(t *testing.T) {
	s := newTestSession(SessionOptions{Alphabet: "ABC"})
	outs := hold(s, "Z", 3, t0)
	if outs[2].Symbol == nil || outs[2].TextChanged {
		t.Fatalf("symbol outside alphabet should be emitted but not accumulated: %+v", outs[2])
	}
	hold(s, "A", 3, t0)
	if s.Text() != "A" {
		t.Fatalf("expected A, got %q", s.Text())
	}
}

func TestSessionIdleClosesWord(t *testing.T) {
	s := newTestSession(SessionOptions{})
	hold(s, "N", 3, t0)
	hold(s, "O", 3, t0)
	if out := s.Tick(t0.Add(1900 * time.Millisecond)); out.Cleared {
		t.Fatal("should not clear before the delay")
	}
	out := s.Tick(t0.Add(2500 * time.Millisecond))
	if !out.Cleared || out.Reason != "idle" || out.Text != "" {
		t.Fatalf("expected idle clear, got %+v", out)
	}
	if len(out.Word) != 2 {
		t.Fatalf("idle clear should close the pending word, got %+v", out.Word)
	}
}

func TestSessionStaleTextClearedBeforeNewSymbol(t *testing.T) {
	s := newTestSession(SessionOptions{})
	hold(s, "A", 3, t0)
	later := t0.Add(5 * time.Second)
	s.Frame(nil, later)
	hold(s, "B", 3, later)
	if s.Text() != "B" {
		t.Fatalf("expected stale A to be cleared, got %q", s.Text())
	}
}

func TestSessionClearResetsStabilizer(t *testing.T) {
	s := newTestSession(SessionOptions{StableFrames: 4})
	hold(s, "A", 2, t0)
	out := s.Command(Command{Kind: protocol.CommandClear}, t0)
	if out.Cleared {
		t.Fatal("clearing an empty buffer should not report a clear")
	}
	outs := hold(s, "A", 2, t0)
	for _, o := range outs {
		if o.Symbol != nil {
			t.Fatal("run should restart after clear")
		}
	}
}

func TestSessionSwitchLanguage(t *testing.T) {
	table := translate.New(nil, []string{"en", "hi", "kn"})
	s := newTestSession(SessionOptions{Languages: table})
	hold(s, "A", 3, t0)
	out := s.Command(Command{Kind: protocol.CommandSwitchLanguage}, t0)
	if out.Language != "hi" || out.Text != "A" || !out.TextChanged {
		t.Fatalf("unexpected outcome %+v", out)
	}
	out = s.Command(Command{Kind: protocol.CommandSwitchLanguage, Language: "en"}, t0)
	if out.Language != "en" {
		t.Fatalf("expected explicit en, got %s", out.Language)
	}
}
