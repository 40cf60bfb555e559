package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/varshagowdavg/signbridge/internal/capability"
	"github.com/varshagowdavg/signbridge/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func getJSON(t *testing.T, h http.Handler, path string, v any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v (%s)", path, err, rec.Body.String())
	}
	return rec.Code
}

func TestReadyzReportsFailingChecks(t *testing.T) {
	r := New(config.Default(), "test", newLogger())
	healthy := true
	r.addCheck("bus", func() bool { return true })
	r.addCheck("playback", func() bool { return healthy })

	var res probeResult
	if code := getJSON(t, r.Handler(), "/readyz", &res); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before start, got %d", code)
	}

	r.ready.Store(true)
	if code := getJSON(t, r.Handler(), "/readyz", &res); code != http.StatusOK || res.Status != "ok" {
		t.Fatalf("expected ready, got %d %+v", code, res)
	}

	healthy = false
	res = probeResult{}
	code := getJSON(t, r.Handler(), "/readyz", &res)
	if code != http.StatusServiceUnavailable || res.Checks["playback"] != "fail: not healthy" || res.Checks["bus"] != "ok" {
		t.Fatalf("unexpected readiness %d %+v", code, res)
	}

	if code := getJSON(t, r.Handler(), "/healthz", &res); code != http.StatusOK || res.Status != "ok" {
		t.Fatalf("healthz should always pass, got %d %+v", code, res)
	}
}

func TestBuildWiresEnabledServices(t *testing.T) {
	dir := t.TempDir()
	dictPath := filepath.Join(dir, "words.txt")
	if err := os.WriteFile(dictPath, []byte("hello\nhi\n"), 0o644); err != nil {
		t.Fatalf("write dictionary: %v", err)
	}

	cfg := config.Default()
	cfg.Environment = "test"
	cfg.Bus.Host = "127.0.0.1"
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = ""
	cfg.EventStore.RetentionMode = "ephemeral"
	cfg.Corrector.DictionaryPath = dictPath
	cfg.Playback.Resolver = "directory"
	cfg.Playback.AssetDir = dir

	ctx, cancel := context.WithCancel(context.Background())
	r := New(cfg, "test", newLogger())
	if err := r.build(ctx); err != nil {
		cancel()
		r.wg.Wait()
		_ = r.shutdown()
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		r.wg.Wait()
		if err := r.shutdown(); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	r.ready.Store(true)

	var res probeResult
	if code := getJSON(t, r.Handler(), "/readyz", &res); code != http.StatusOK {
		t.Fatalf("expected ready, got %d %+v", code, res)
	}
	for _, name := range []string{"bus", "corrector", "recognition", "playback", "capability"} {
		if res.Checks[name] != "ok" {
			t.Fatalf("check %s = %q in %+v", name, res.Checks[name], res.Checks)
		}
	}
	if _, ok := res.Checks["mqtt"]; ok {
		t.Fatal("mqtt is disabled and should not be checked")
	}

	var nodes []capability.NodeInfo
	if code := getJSON(t, r.Handler(), "/nodes?capability="+capability.SignPlayback, &nodes); code != http.StatusOK {
		t.Fatalf("nodes returned %d", code)
	}
	if len(nodes) != 1 || nodes[0].ID != cfg.Node.ID {
		t.Fatalf("expected this node to offer playback, got %+v", nodes)
	}

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics returned %d", rec.Code)
	}
}
