package downloadqueue

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// HTTPFetcher resolves a sound page URL to its underlying audio bytes.
// Grounded in the original's download_sound: for page URLs (e.g. a
// freesound.org sound page) it scrapes the audio stream location out of
// the page's <meta> tags rather than assuming the URL itself is the
// audio file.
type HTTPFetcher struct {
	Client *http.Client
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: 30 * time.Second}}
}

var (
	metaAudioStream = regexp.MustCompile(`<meta[^>]+(?:name|property)="(?:twitter:player:stream|og:audio)"[^>]+content="([^"]+)"`)
	audioExtPattern = regexp.MustCompile(`(?i)\.(mp3|wav|flac|ogg|opus)(?:\?|$)`)
)

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (FetchedAudio, error) {
	if looksLikeAudioURL(rawURL) {
		return f.fetchBytes(ctx, rawURL)
	}

	page, err := f.fetchBytes(ctx, rawURL)
	if err != nil {
		return FetchedAudio{}, err
	}
	m := metaAudioStream.FindSubmatch(page.Data)
	if m == nil {
		return FetchedAudio{}, fmt.Errorf("downloadqueue: no audio stream meta tag found at %s", rawURL)
	}
	return f.fetchBytes(ctx, string(m[1]))
}

func looksLikeAudioURL(u string) bool {
	return audioExtPattern.MatchString(u)
}

func (f *HTTPFetcher) fetchBytes(ctx context.Context, rawURL string) (FetchedAudio, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchedAudio{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return FetchedAudio{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return FetchedAudio{}, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchedAudio{}, fmt.Errorf("read body %s: %w", rawURL, err)
	}
	return FetchedAudio{Data: data, SuggestedExt: extensionOf(rawURL)}, nil
}

func extensionOf(rawURL string) string {
	if m := audioExtPattern.FindStringSubmatch(rawURL); m != nil {
		return strings.ToLower(m[1])
	}
	return "mp3"
}
