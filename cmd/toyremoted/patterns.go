package main

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"toyremote/remote"
)

// ErrPatternNotFound is returned when a library lookup matches nothing.
var ErrPatternNotFound = errors.New("pattern not found")

// PatternSummary is the library listing entry sent to UIs.
type PatternSummary struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Author     string   `json:"author,omitempty"`
	Loop       bool     `json:"loop"`
	DurationMS int64    `json:"duration_ms"`
	Brands     []string `json:"brands"`
}

// PatternLibrary is the on-disk set of saved patterns, one YAML document per file.
// It is owned by the daemon loop and not safe for concurrent use.
type PatternLibrary struct {
	dir      string
	patterns map[string]remote.Pattern
	logger   *slog.Logger
}

func NewPatternLibrary(dir string, logger *slog.Logger) *PatternLibrary {
	return &PatternLibrary{
		dir:      dir,
		patterns: make(map[string]remote.Pattern),
		logger:   logger,
	}
}

func (l *PatternLibrary) Dir() string { return l.dir }

// Load (re)reads every *.yaml file in the library directory. Invalid files are logged
// and skipped. A missing directory is created.
func (l *PatternLibrary) Load() error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create pattern dir: %w", err)
	}
	matches, err := filepath.Glob(filepath.Join(l.dir, "*.yaml"))
	if err != nil {
		return fmt.Errorf("list pattern dir: %w", err)
	}

	loaded := make(map[string]remote.Pattern, len(matches))
	for _, path := range matches {
		p, err := readPatternFile(path)
		if err != nil {
			l.logger.Warn("skipping pattern file", "path", path, "error", err)
			continue
		}
		if _, dup := loaded[p.ID]; dup {
			l.logger.Warn("skipping duplicate pattern id", "path", path, "id", p.ID)
			continue
		}
		loaded[p.ID] = p
	}
	l.patterns = loaded
	l.logger.Info("pattern library loaded", "dir", l.dir, "patterns", len(loaded))
	return nil
}

func readPatternFile(path string) (remote.Pattern, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return remote.Pattern{}, err
	}
	var p remote.Pattern
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return remote.Pattern{}, fmt.Errorf("decode pattern yaml: %w", err)
	}
	if err := p.Validate(); err != nil {
		return remote.Pattern{}, err
	}
	return p, nil
}

// Get finds a pattern by id, falling back to a case-insensitive name match.
func (l *PatternLibrary) Get(ref string) (remote.Pattern, error) {
	if p, ok := l.patterns[ref]; ok {
		return p, nil
	}
	for _, id := range l.sortedIDs() {
		if p := l.patterns[id]; strings.EqualFold(p.Name, ref) {
			return p, nil
		}
	}
	return remote.Pattern{}, fmt.Errorf("%w: %q", ErrPatternNotFound, ref)
}

// Save writes p as <id>.yaml and adds it to the library. The file is replaced atomically.
func (l *PatternLibrary) Save(p remote.Pattern) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", fmt.Errorf("create pattern dir: %w", err)
	}
	b, err := yaml.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode pattern yaml: %w", err)
	}

	path := filepath.Join(l.dir, p.ID+".yaml")
	tmp, err := os.CreateTemp(l.dir, ".pattern-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write pattern: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write pattern: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename pattern: %w", err)
	}

	l.patterns[p.ID] = p
	return path, nil
}

// List returns summaries sorted by name, then id.
func (l *PatternLibrary) List() []PatternSummary {
	out := make([]PatternSummary, 0, len(l.patterns))
	for _, p := range l.patterns {
		out = append(out, PatternSummary{
			ID:         p.ID,
			Name:       p.Name,
			Author:     p.Author,
			Loop:       p.Loop,
			DurationMS: p.Duration().Milliseconds(),
			Brands:     p.Brands(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (l *PatternLibrary) sortedIDs() []string {
	ids := make([]string, 0, len(l.patterns))
	for id := range l.patterns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
