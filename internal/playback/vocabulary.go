package playback

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/varshagowdavg/signbridge/internal/config"
	"gopkg.in/yaml.v3"
)

// Vocabulary is the set of words and phrases that have their own sign.
type Vocabulary interface {
	Contains(word string) bool
	// Phrases lists multi-word entries, longest first.
	Phrases() []string
}

// Manifest is the on-disk vocabulary file.
//
//	assets:
//	  hello: clips/hello.jsonl
//	  good morning: clips/good_morning.jsonl
type Manifest struct {
	Assets map[string]string `yaml:"assets"`
}

// ManifestResolver resolves words through a YAML manifest. Relative asset
// paths are taken from the manifest's directory.
type ManifestResolver struct {
	dir     string
	assets  map[string]string
	phrases []string
}

func NewManifestResolver(dir string, assets map[string]string) *ManifestResolver {
	r := &ManifestResolver{dir: dir, assets: make(map[string]string, len(assets))}
	for word, path := range assets {
		key := normalizeWord(word)
		if key == "" {
			continue
		}
		r.assets[key] = path
		if strings.Contains(key, " ") {
			r.phrases = append(r.phrases, key)
		}
	}
	sortPhrases(r.phrases)
	return r
}

func LoadManifest(path string) (*ManifestResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Assets) == 0 {
		return nil, errors.New("manifest lists no assets")
	}
	return NewManifestResolver(filepath.Dir(path), m.Assets), nil
}

func (r *ManifestResolver) Resolve(_ context.Context, word string) (Asset, bool, error) {
	key := normalizeWord(word)
	rel, ok := r.assets[key]
	if !ok {
		return Asset{}, false, nil
	}
	return Asset{Word: key, Path: r.path(rel)}, true, nil
}

func (r *ManifestResolver) Contains(word string) bool {
	_, ok := r.assets[normalizeWord(word)]
	return ok
}

func (r *ManifestResolver) Phrases() []string {
	return r.phrases
}

func (r *ManifestResolver) Len() int {
	return len(r.assets)
}

// Validate checks that every listed asset exists and is a regular file.
func (r *ManifestResolver) Validate() []error {
	words := make([]string, 0, len(r.assets))
	for w := range r.assets {
		words = append(words, w)
	}
	sort.Strings(words)

	var errs []error
	for _, w := range words {
		p := r.path(r.assets[w])
		info, err := os.Stat(p)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", w, err))
		case info.IsDir():
			errs = append(errs, fmt.Errorf("%s: %s is a directory", w, p))
		}
	}
	return errs
}

func (r *ManifestResolver) path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(r.dir, rel)
}

// DirResolver looks words up as <dir>/<word>.jsonl, with spaces in phrases
// written as underscores.
type DirResolver struct {
	dir string
}

func NewDirResolver(dir string) *DirResolver {
	return &DirResolver{dir: dir}
}

func (r *DirResolver) Resolve(_ context.Context, word string) (Asset, bool, error) {
	key := normalizeWord(word)
	p, ok := r.file(key)
	if !ok {
		return Asset{}, false, nil
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Asset{}, false, nil
	}
	if err != nil {
		return Asset{}, false, err
	}
	if info.IsDir() {
		return Asset{}, false, nil
	}
	return Asset{Word: key, Path: p}, true, nil
}

func (r *DirResolver) Contains(word string) bool {
	_, ok, err := r.Resolve(context.Background(), word)
	return ok && err == nil
}

func (r *DirResolver) Phrases() []string {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil
	}
	var phrases []string
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".jsonl")
		if e.IsDir() || name == e.Name() || !strings.Contains(name, "_") {
			continue
		}
		phrases = append(phrases, strings.ReplaceAll(name, "_", " "))
	}
	sortPhrases(phrases)
	return phrases
}

func (r *DirResolver) file(key string) (string, bool) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", false
	}
	return filepath.Join(r.dir, strings.ReplaceAll(key, " ", "_")+".jsonl"), true
}

// NewResolver builds the resolver selected by cfg.Resolver.
func NewResolver(cfg config.PlaybackConfig) (Resolver, error) {
	switch cfg.Resolver {
	case "", "manifest":
		return LoadManifest(cfg.Manifest)
	case "directory":
		if cfg.AssetDir == "" {
			return nil, errors.New("playback.asset_dir is required for the directory resolver")
		}
		return NewDirResolver(cfg.AssetDir), nil
	default:
		return nil, fmt.Errorf("unknown playback resolver %q", cfg.Resolver)
	}
}

func normalizeWord(w string) string {
	return strings.Join(strings.Fields(strings.ToLower(w)), " ")
}

// sortPhrases orders phrases by word count, longest first, then alphabetically.
func sortPhrases(phrases []string) {
	sort.Slice(phrases, func(i, j int) bool {
		ni, nj := strings.Count(phrases[i], " "), strings.Count(phrases[j], " ")
		if ni != nj {
			return ni > nj
		}
		return phrases[i] < phrases[j]
	})
}
