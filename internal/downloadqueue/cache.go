package downloadqueue

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// License classes the cache is bucketed by (spec §4.3). The exact
// derivation of a given URL's class is not observable outside the
// package — the only external contract is that IsCached and the
// completion path agree, which they do because both derive the file name
// from cacheStem.
const (
	classCC0     = "cc0"
	classCCBy    = "cc-by"
	classUnknown = "unknown"
)

func licenseDirs() []string {
	return []string{classCC0, classCCBy, classUnknown}
}

func ensureCacheDirs(root string) error {
	for _, d := range licenseDirs() {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return fmt.Errorf("downloadqueue: create cache dir %s: %w", d, err)
		}
	}
	return nil
}

func clearCacheDirs(root string) (int, error) {
	count := 0
	for _, d := range licenseDirs() {
		dir := filepath.Join(root, d)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return count, fmt.Errorf("downloadqueue: list %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return count, fmt.Errorf("downloadqueue: remove %s: %w", e.Name(), err)
			}
			count++
		}
	}
	return count, nil
}

// freesoundPattern extracts (creator, soundID) from a freesound.org sound
// page URL, grounded in the original's parse_freesound_url.
var freesoundPattern = regexp.MustCompile(`freesound\.org/people/([^/]+)/sounds/(\d+)`)

// licenseClass decides which bucket a URL's cached copy belongs in. URLs
// carry an explicit ?license= query parameter when the Config Store
// author knows it; otherwise the file lands in unknown/ until someone
// reclassifies it.
func licenseClass(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return classUnknown
	}
	switch strings.ToLower(u.Query().Get("license")) {
	case "cc0":
		return classCC0
	case "cc-by", "ccby":
		return classCCBy
	default:
		return classUnknown
	}
}

// cacheStem derives the filename stem (without extension) for a URL: a
// human-legible "<creator>_<id>" for recognized freesound URLs, otherwise
// a stable hash of the URL.
func cacheStem(rawURL string) string {
	if m := freesoundPattern.FindStringSubmatch(rawURL); m != nil {
		return fmt.Sprintf("%s_%s", m[1], m[2])
	}
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:16]
}

// findCached looks for any file already on disk for url, across every
// license-class bucket, regardless of extension (the extension is only
// known once fetched).
func findCached(root, rawURL string) (string, bool) {
	stem := cacheStem(rawURL)
	for _, d := range licenseDirs() {
		dir := filepath.Join(root, d)
		matches, err := filepath.Glob(filepath.Join(dir, stem+".*"))
		if err != nil || len(matches) == 0 {
			continue
		}
		return matches[0], true
	}
	return "", false
}

// writeToCache atomically writes audio into the correct license-class
// bucket: the data lands at a uuid-named temp path first, then is
// renamed into place, so a concurrent IsCached check never observes a
// partially written file.
func writeToCache(root, rawURL string, audio FetchedAudio) (string, error) {
	class := licenseClass(rawURL)
	dir := filepath.Join(root, class)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	ext := audio.SuggestedExt
	if ext == "" {
		ext = "mp3"
	}
	finalPath := filepath.Join(dir, cacheStem(rawURL)+"."+ext)
	tmpPath := filepath.Join(dir, uuid.NewString()+".part")

	if err := os.WriteFile(tmpPath, audio.Data, 0o644); err != nil {
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename into place: %w", err)
	}
	return finalPath, nil
}
