package playback

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/varshagowdavg/signbridge/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestManifestResolver(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "clips", "hello.jsonl"), `{"pose":[{"x":0.5,"y":0.5,"z":0}]}`+"\n")
	manifest := filepath.Join(dir, "vocabulary.yaml")
	writeFile(t, manifest, `assets:
  Hello: clips/hello.jsonl
  good morning: clips/good_morning.jsonl
  andhra pradesh: clips/andhra.jsonl
  thank you very much: clips/thanks.jsonl
`)

	r, err := LoadManifest(manifest)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	asset, ok, err := r.Resolve(context.Background(), "HELLO")
	if err != nil || !ok {
		t.Fatalf("expected hello to resolve, got ok=%v err=%v", ok, err)
	}
	if asset.Path != filepath.Join(dir, "clips", "hello.jsonl") {
		t.Fatalf("unexpected path %s", asset.Path)
	}
	if _, ok, _ := r.Resolve(context.Background(), "goodbye"); ok {
		t.Fatal("goodbye should not resolve")
	}

	phrases := r.Phrases()
	if len(phrases) != 3 || phrases[0] != "thank you very much" {
		t.Fatalf("expected longest phrase first, got %v", phrases)
	}

	if errs := r.Validate(); len(errs) != 3 {
		t.Fatalf("expected 3 missing clips, got %v", errs)
	}
}

func TestLoadManifestRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	writeFile(t, path, "assets: {}\n")
	if _, err := LoadManifest(path); err == nil {
		t.Fatal("expected error for empty manifest")
	}
}

func TestDirResolver(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "train.jsonl"), "{}\n")
	writeFile(t, filepath.Join(dir, "good_morning.jsonl"), "{}\n")

	r := NewDirResolver(dir)
	if _, ok, err := r.Resolve(context.Background(), "Train"); !ok || err != nil {
		t.Fatalf("expected train to resolve, got ok=%v err=%v", ok, err)
	}
	asset, ok, _ := r.Resolve(context.Background(), "good  morning")
	if !ok || filepath.Base(asset.Path) != "good_morning.jsonl" {
		t.Fatalf("unexpected phrase asset %+v ok=%v", asset, ok)
	}
	if _, ok, _ := r.Resolve(context.Background(), "../secret"); ok {
		t.Fatal("path traversal must not resolve")
	}
	if phrases := r.Phrases(); len(phrases) != 1 || phrases[0] != "good morning" {
		t.Fatalf("unexpected phrases %v", phrases)
	}
}

func TestNewResolverFromConfig(t *testing.T) {
	if _, err := NewResolver(config.PlaybackConfig{Resolver: "directory"}); err == nil {
		t.Fatal("expected error without asset dir")
	}
	if _, err := NewResolver(config.PlaybackConfig{Resolver: "s3"}); err == nil {
		t.Fatal("expected error for unknown resolver")
	}
	r, err := NewResolver(config.PlaybackConfig{Resolver: "directory", AssetDir: t.TempDir()})
	if err != nil {
		t.Fatalf("directory resolver: %v", err)
	}
	if _, ok := r.(Vocabulary); !ok {
		t.Fatal("directory resolver should expose its vocabulary")
	}
}
