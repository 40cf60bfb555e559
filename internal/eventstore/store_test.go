package eventstore

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/varshagowdavg/signbridge/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "events.db")
	}
	es, err := Open(context.Background(), cfg, "node-test", newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "ephemeral"})
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.Record(context.Background(), "s", KindRecognition, "", TypeSymbol, map[string]string{"symbol": "A"}); err != nil {
		t.Fatalf("ephemeral record should be a no-op: %v", err)
	}
	if n, err := es.CountEvents(context.Background(), TypeSymbol); err != nil || n != 0 {
		t.Fatalf("expected zero events, got %d/%v", n, err)
	}
}

func TestRecordAndList(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})
	ctx := context.Background()

	if err := es.Record(ctx, "session-123", KindRecognition, "trace-1", TypeSymbol, map[string]string{"symbol": "H"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := es.Record(ctx, "session-123", KindRecognition, "trace-1", TypeWord, map[string]string{"word": "hi"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "session-123", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != TypeSymbol || events[1].Type != TypeWord {
		t.Fatalf("unexpected order %s, %s", events[0].Type, events[1].Type)
	}
	if events[0].TraceID != "trace-1" {
		t.Fatalf("expected trace id, got %q", events[0].TraceID)
	}
	var payload map[string]string
	if err := json.Unmarshal(events[1].Payload, &payload); err != nil || payload["word"] != "hi" {
		t.Fatalf("unexpected payload %s", events[1].Payload)
	}

	n, err := es.CountEvents(ctx, TypeSymbol)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 symbol event, got %d", n)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1})
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.Record(ctx, "old-session", KindPlayback, "", TypePlaybackSkipped, map[string]string{"word": "x"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(ctx, "new-session", KindPlayback); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
}
