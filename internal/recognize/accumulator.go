package recognize

import (
	"strings"
	"time"

	"github.com/varshagowdavg/signbridge/internal/protocol"
)

const spaceMarker = " "

// Event is an input to the Accumulator: either a StableSymbol or a Command.
type Event interface {
	isEvent()
}

// Command is an interactive control applied to the word buffer.
type Command struct {
	Kind     string
	Language string
}

func (StableSymbol) isEvent() {}
func (Command) isEvent()      {}

// Accumulator builds text out of stable symbols and commands. The buffer only
// grows, except for a full clear on command or after ClearDelay of inactivity.
type Accumulator struct {
	clearDelay time.Duration
	symbols    []string
	lastUpdate time.Time
}

func NewAccumulator(clearDelay time.Duration) *Accumulator {
	if clearDelay <= 0 {
		clearDelay = DefaultClearDelay
	}
	return &Accumulator{clearDelay: clearDelay}
}

// Apply updates the buffer with ev and returns the resulting text.
func (a *Accumulator) Apply(ev Event, now time.Time) string {
	switch e := ev.(type) {
	case StableSymbol:
		a.appendSymbol(e.Symbol, now)
	case Command:
		switch e.Kind {
		case protocol.CommandSpace:
			if n := len(a.symbols); n > 0 && a.symbols[n-1] != spaceMarker {
				a.symbols = append(a.symbols, spaceMarker)
			}
			a.lastUpdate = now
		case protocol.CommandClear:
			a.Clear()
		}
		// switch_language and cancel leave the buffer alone.
	}
	return a.Text()
}

func (a *Accumulator) appendSymbol(symbol string, now time.Time) {
	if symbol == "" {
		return
	}
	if n := len(a.symbols); n > 0 && a.symbols[n-1] == symbol {
		return
	}
	a.symbols = append(a.symbols, symbol)
	a.lastUpdate = now
}

// Tick clears a non-empty buffer that has not been updated for longer than
// the clear delay. It reports whether a clear happened.
func (a *Accumulator) Tick(now time.Time) bool {
	if len(a.symbols) == 0 {
		return false
	}
	if now.Sub(a.lastUpdate) <= a.clearDelay {
		return false
	}
	a.Clear()
	return true
}

func (a *Accumulator) Clear() {
	a.symbols = a.symbols[:0]
}

func (a *Accumulator) Text() string {
	return strings.Join(a.symbols, "")
}

func (a *Accumulator) Len() int {
	return len(a.symbols)
}

// LastUpdate is the time of the last append or space.
func (a *Accumulator) LastUpdate() time.Time {
	return a.lastUpdate
}
