package recognize

import (
	"testing"
	"time"
)

var t0 = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func sym(s string) StableSymbol { return StableSymbol{Symbol: s} }

func TestAccumulatorSuppressesRepeats(t *testing.T) {
	a := NewAccumulator(2 * time.Second)
	a.Apply(sym("H"), t0)
	a.Apply(sym("H"), t0)
	if got := a.Apply(sym("I"), t0); got != "HI" {
		t.Fatalf("expected HI, got %q", got)
	}
}

func TestAccumulatorSpace(t *testing.T) {
	a := NewAccumulator(2 * time.Second)
	if got := a.Apply(Command{Kind: "space"}, t0); got != "" {
		t.Fatalf("space on empty buffer should be ignored, got %q", got)
	}
	a.Apply(sym("H"), t0)
	a.Apply(sym("I"), t0)
	a.Apply(Command{Kind: "space"}, t0)
	a.Apply(Command{Kind: "space"}, t0)
	if got := a.Apply(sym("Y"), t0); got != "HI Y" {
		t.Fatalf("expected %q, got %q", "HI Y", got)
	}
}

func TestAccumulatorSpaceRefreshesTimer(t *testing.T) {
	a := NewAccumulator(2 * time.Second)
	a.Apply(sym("A"), t0)
	a.Apply(Command{Kind: "space"}, t0.Add(1500*time.Millisecond))
	a.Apply(Command{Kind: "space"}, t0.Add(3*time.Second))
	if a.Tick(t0.Add(4 * time.Second)) {
		t.Fatal("repeated space should still refresh the inactivity timer")
	}
}

func TestAccumulatorSymbolAfterSpaceNotSuppressed(t *testing.T) {
	a := NewAccumulator(2 * time.Second)
	a.Apply(sym("A"), t0)
	a.Apply(Command{Kind: "space"}, t0)
	if got := a.Apply(sym("A"), t0); got != "A A" {
		t.Fatalf("expected %q, got %q", "A A", got)
	}
}

func TestAccumulatorClear(t *testing.T) {
	a := NewAccumulator(2 * time.Second)
	a.Apply(sym("A"), t0)
	if got := a.Apply(Command{Kind: "clear"}, t0); got != "" {
		t.Fatalf("expected empty buffer, got %q", got)
	}
	if got := a.Apply(sym("A"), t0); got != "A" {
		t.Fatalf("expected A after clear, got %q", got)
	}
}

func TestAccumulatorSwitchLanguageKeepsBuffer(t *testing.T) {
	a := NewAccumulator(2 * time.Second)
	a.Apply(sym("O"), t0)
	a.Apply(sym("K"), t0)
	if got := a.Apply(Command{Kind: "switch_language", Language: "hi"}, t0); got != "OK" {
		t.Fatalf("expected OK, got %q", got)
	}
	if got := a.Apply(Command{Kind: "cancel"}, t0); got != "OK" {
		t.Fatalf("expected OK, got %q", got)
	}
}

func TestAccumulatorInactivityClear(t *testing.T) {
	a := NewAccumulator(2 * time.Second)
	a.Apply(sym("A"), t0)
	if a.Tick(t0.Add(1900 * time.Millisecond)) {
		t.Fatal("buffer updated 1.9s ago must not be cleared")
	}
	if a.Tick(t0.Add(2 * time.Second)) {
		t.Fatal("exactly the clear delay must not clear")
	}
	if !a.Tick(t0.Add(2100 * time.Millisecond)) {
		t.Fatal("buffer updated 2.1s ago must be cleared")
	}
	if a.Text() != "" {
		t.Fatalf("expected empty buffer, got %q", a.Text())
	}
}

func TestAccumulatorTickEmptyBuffer(t *testing.T) {
	a := NewAccumulator(time.Second)
	if a.Tick(t0.Add(time.Hour)) {
		t.Fatal("empty buffer should report no clear")
	}
}

func TestAccumulatorSuppressedSymbolDoesNotRefresh(t *testing.T) {
	a := NewAccumulator(2 * time.Second)
	a.Apply(sym("A"), t0)
	a.Apply(sym("A"), t0.Add(1500*time.Millisecond))
	if !a.LastUpdate().Equal(t0) {
		t.Fatalf("suppressed symbol should not refresh, got %v", a.LastUpdate())
	}
}
