// Package recognize turns per-frame gesture classifications into stable
// symbols and accumulated text.
package recognize

import (
	"time"

	"github.com/varshagowdavg/signbridge/internal/protocol"
)

const (
	DefaultStableFrames = 10
	DefaultClearDelay   = 2 * time.Second
)

// FrameClassification is the classifier verdict for a single frame.
type FrameClassification struct {
	Label      string
	Confidence float64
	Timestamp  time.Time
	Candidates []protocol.Candidate
}

// StableSymbol is a label that held for a full run of consecutive frames.
type StableSymbol struct {
	Symbol     string
	EmittedAt  time.Time
	Candidates []protocol.Candidate
}

// Stabilizer debounces a noisy classification stream. A label is emitted once
// when it has been the confident top label for exactly StableFrames
// consecutive frames; it is not emitted again until the run is broken.
//
// A Stabilizer is owned by a single session and is not safe for concurrent use.
type Stabilizer struct {
	stableFrames int
	threshold    float64

	candidate  string
	run        int
	lastChange time.Time
}

func NewStabilizer(stableFrames int, threshold float64) *Stabilizer {
	if stableFrames <= 0 {
		stableFrames = DefaultStableFrames
	}
	return &Stabilizer{stableFrames: stableFrames, threshold: threshold}
}

// Observe feeds one frame. A nil classification means nothing was detected.
func (s *Stabilizer) Observe(c *FrameClassification) (StableSymbol, bool) {
	if c == nil || c.Label == "" || c.Confidence < s.threshold {
		s.Reset()
		return StableSymbol{}, false
	}

	if c.Label == s.candidate {
		s.run++
	} else {
		s.candidate = c.Label
		s.run = 1
		s.lastChange = c.Timestamp
	}

	if s.run != s.stableFrames {
		return StableSymbol{}, false
	}
	emitted := c.Timestamp
	if emitted.IsZero() {
		emitted = time.Now()
	}
	return StableSymbol{Symbol: c.Label, EmittedAt: emitted, Candidates: c.Candidates}, true
}

// Reset drops the current run.
func (s *Stabilizer) Reset() {
	s.candidate = ""
	s.run = 0
	s.lastChange = time.Time{}
}

// Candidate reports the label being tracked and its current run length.
func (s *Stabilizer) Candidate() (string, int) {
	return s.candidate, s.run
}

// Since reports when the current candidate first appeared.
func (s *Stabilizer) Since() time.Time {
	return s.lastChange
}
