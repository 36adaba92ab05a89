package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/indubitablygregarious/immerse-yourself/internal/errs"
)

// document pairs a validated base Descriptor with the raw, untyped form
// of the same YAML document — the raw form is what time-variant merges
// operate on, since a merge target must accept partial structure.
type document struct {
	base Descriptor
	raw  map[string]any
}

// Store is the Config Store: an in-memory, reload-able table of
// descriptors keyed by name, plus lazily loaded sound collections. It is
// safe for concurrent reads; Reload replaces the table atomically.
type Store struct {
	log     *slog.Logger
	dir     string
	collDir string

	mu      sync.RWMutex
	docs    map[string]document
	version int
}

func NewStore(dir, collectionsDir string, log *slog.Logger) *Store {
	return &Store{
		log:     log,
		dir:     dir,
		collDir: collectionsDir,
		docs:    map[string]document{},
	}
}

// Reload re-scans dir for *.yaml/*.yml documents, strictly decodes and
// validates each, and swaps in the new table. A malformed document is
// logged and excluded rather than aborting the whole reload (spec §7:
// "an Invalid descriptor is excluded from the Config Store").
func (s *Store) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("config: read dir %s: %w", s.dir, err)
	}

	docs := make(map[string]document, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(s.dir, name)
		doc, err := loadDocument(path)
		if err != nil {
			s.log.Warn("config: excluding descriptor", "file", path, "error", err)
			continue
		}
		if existing, dup := docs[doc.base.Name]; dup {
			s.log.Warn("config: duplicate descriptor name, keeping first", "name", doc.base.Name, "kept_file", existing.base.Name, "skipped_file", path)
			continue
		}
		docs[doc.base.Name] = doc
	}

	s.mu.Lock()
	s.docs = docs
	s.version++
	s.mu.Unlock()
	return nil
}

// Version returns the monotonic reload counter (OrchestratorState's
// config_version, spec §3).
func (s *Store) Version() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// loadDocument reads, strict-decodes, and validates a single descriptor
// file, and retains its raw form for later time-variant merges.
func loadDocument(path string) (document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return document{}, fmt.Errorf("read %s: %w", path, err)
	}

	var base Descriptor
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&base); err != nil {
		return document{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := base.Validate(); err != nil {
		return document{}, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return document{}, fmt.Errorf("decode %s (raw): %w", path, err)
	}
	delete(raw, "time_variants")

	return document{base: base, raw: raw}, nil
}

// Resolve returns the descriptor named `name`, deep-merged with the
// variant override for `t` when one exists (Daytime never merges — it is
// the identity variant per spec §3).
func (s *Store) Resolve(name string, t TimeOfDay) (Descriptor, error) {
	s.mu.RLock()
	doc, ok := s.docs[name]
	s.mu.RUnlock()
	if !ok {
		return Descriptor{}, fmt.Errorf("config: no descriptor named %q: %w", name, errs.NotFound)
	}
	if t == Daytime || t == "" {
		return doc.base, nil
	}
	override, hasVariant := doc.base.TimeVariants[t]
	if !hasVariant {
		return doc.base, nil
	}

	merged := mergeMaps(doc.raw, override)
	b, err := yaml.Marshal(merged)
	if err != nil {
		return Descriptor{}, fmt.Errorf("config: remarshal merged %q/%s: %w", name, t, err)
	}

	var out Descriptor
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil {
		return Descriptor{}, fmt.Errorf("config: re-decode merged %q/%s: %w", name, t, err)
	}
	if err := out.Validate(); err != nil {
		return Descriptor{}, fmt.Errorf("config: merged %q/%s invalid: %w", name, t, err)
	}
	// Preserve TimeVariants on the merged value so AvailableTimes still
	// reflects the base document, not the (variant-free) merge result.
	out.TimeVariants = doc.base.TimeVariants
	return out, nil
}

// Lookup returns the unmerged base descriptor, used by AvailableTimes
// and Search.
func (s *Store) Lookup(name string) (Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[name]
	return doc.base, ok
}

// Search performs a case-insensitive substring match over name, category,
// and mix display names — a pure, read-only query (spec §4.1).
func (s *Store) Search(query string) []Descriptor {
	q := strings.ToLower(strings.TrimSpace(query))
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Descriptor
	for _, doc := range s.docs {
		if matchesQuery(doc.base, q) {
			out = append(out, doc.base)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func matchesQuery(d Descriptor, q string) bool {
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(d.Name), q) || strings.Contains(strings.ToLower(d.Category), q) {
		return true
	}
	for _, m := range d.Atmosphere {
		if strings.Contains(strings.ToLower(m.DisplayName), q) {
			return true
		}
	}
	return false
}

// All returns every loaded base descriptor, name-sorted, e.g. as the
// input to DeriveLoopDescriptors.
func (s *Store) All() []Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Descriptor, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc.base)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadSoundCollection resolves a "sound_conf:<id>" indirection (spec §6)
// by reading "<collectionsDir>/<id>.yaml". Collections are not cached in
// the Store table since they are looked up rarely (only at activation of
// a descriptor using the indirection) and re-reading picks up edits
// without a full Reload.
func (s *Store) LoadSoundCollection(id string) (SoundCollection, error) {
	path := filepath.Join(s.collDir, id+".yaml")
	b, err := os.ReadFile(path)
	if err != nil {
		return SoundCollection{}, fmt.Errorf("config: load sound collection %q: %w", id, errs.NotFound)
	}
	var sc SoundCollection
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return SoundCollection{}, fmt.Errorf("config: decode sound collection %q: %w", id, err)
	}
	if len(sc.Entries) == 0 {
		return SoundCollection{}, fmt.Errorf("config: sound collection %q has no entries: %w", id, errs.Invalid)
	}
	return sc, nil
}
