// Package downloadqueue implements the Download Queue: a single-worker,
// deduplicating, content-addressed cache for network-sourced audio (spec
// §4.3). It knows nothing about environments or generations — that guard
// lives one layer up, in the Atmosphere Engine.
package downloadqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gofrs/flock"

	"github.com/indubitablygregarious/immerse-yourself/internal/errs"
	"github.com/indubitablygregarious/immerse-yourself/internal/metrics"
)

// Outcome is the immediate, synchronous result of Enqueue.
type Outcome int

const (
	// Cached: the URL already resolves to a file on disk; the callback
	// (if any) was already invoked synchronously before Enqueue returned.
	Cached Outcome = iota
	// Queued: a new record was created at the tail of the FIFO.
	Queued
	// InProgress: a record for this URL already exists; the callback (if
	// any) was attached to it and will fire when that record completes.
	InProgress
)

// Result is what a Callback receives when a record completes.
type Result struct {
	Path string
	Err  error
}

// Callback is invoked exactly once per registration, in registration
// order. It is non-blocking from the worker's perspective: the worker
// hands a record's callbacks to one goroutine that runs them in turn. A
// callback passed to Enqueue for an already-cached URL runs
// synchronously before Enqueue returns.
type Callback func(Result)

type recordStatus int

const (
	statusQueued recordStatus = iota
	statusInProgress
)

type record struct {
	url       string
	status    recordStatus
	callbacks []Callback
}

// Fetcher resolves a URL to bytes plus enough metadata to pick a cache
// filename. The default implementation (fetch.go) fetches over HTTP; it
// is swappable so tests never make network calls.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchedAudio, error)
}

// FetchedAudio is what a Fetcher produces for a successfully resolved URL.
type FetchedAudio struct {
	Data         []byte
	SuggestedExt string
}

// Queue is the Download Queue. Safe for concurrent use.
type Queue struct {
	log      *slog.Logger
	cacheDir string
	fetch    Fetcher

	mu      sync.Mutex
	records map[string]*record
	work    chan string

	clearLock *flock.Flock
	metrics   *metrics.Metrics
}

// SetMetrics attaches a metrics sink. Optional — a Queue built without
// one simply records nothing.
func (q *Queue) SetMetrics(m *metrics.Metrics) { q.metrics = m }

// New constructs a Queue rooted at cacheDir (which must already contain,
// or be creatable to contain, the cc0/cc-by/unknown license-class
// subdirectories — see cache.go). The worker goroutine starts
// immediately and runs until ctx is cancelled.
func New(ctx context.Context, cacheDir string, fetch Fetcher, log *slog.Logger) (*Queue, error) {
	if err := ensureCacheDirs(cacheDir); err != nil {
		return nil, err
	}
	q := &Queue{
		log:       log,
		cacheDir:  cacheDir,
		fetch:     fetch,
		records:   map[string]*record{},
		work:      make(chan string, 1024),
		clearLock: flock.New(cacheDir + "/.clear.lock"),
	}
	go q.runWorker(ctx)
	return q, nil
}

// IsCached reports whether url already resolves to a file on disk. Pure
// filesystem check; never touches the queue or the worker.
func (q *Queue) IsCached(url string) bool {
	_, ok := findCached(q.cacheDir, url)
	return ok
}

// ResolveCachedPath returns the on-disk path for an already-cached URL.
func (q *Queue) ResolveCachedPath(url string) (string, bool) {
	return findCached(q.cacheDir, url)
}

// Enqueue registers interest in url. If cb is non-nil it is attached to
// whatever record results (or invoked synchronously, if already cached).
func (q *Queue) Enqueue(url string, cb Callback) Outcome {
	if path, ok := findCached(q.cacheDir, url); ok {
		if cb != nil {
			cb(Result{Path: path})
		}
		return Cached
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if rec, exists := q.records[url]; exists {
		if cb != nil {
			rec.callbacks = append(rec.callbacks, cb)
		}
		return InProgress
	}

	rec := &record{url: url, status: statusQueued}
	if cb != nil {
		rec.callbacks = append(rec.callbacks, cb)
	}
	q.records[url] = rec
	q.work <- url
	return Queued
}

// PendingCount reports the number of distinct URLs with an outstanding
// record (queued or in progress).
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// IsDownloading reports whether any record is actively in progress
// (distinct from merely queued behind the current worker item).
func (q *Queue) IsDownloading() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, rec := range q.records {
		if rec.status == statusInProgress {
			return true
		}
	}
	return false
}

func (q *Queue) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case url := <-q.work:
			q.process(ctx, url)
		}
	}
}

func (q *Queue) process(ctx context.Context, url string) {
	q.mu.Lock()
	rec, ok := q.records[url]
	if !ok {
		q.mu.Unlock()
		return
	}
	rec.status = statusInProgress
	q.mu.Unlock()

	path, err := q.download(ctx, url)

	q.mu.Lock()
	delete(q.records, url)
	callbacks := rec.callbacks
	q.mu.Unlock()

	res := Result{Path: path, Err: err}
	go func() {
		for _, cb := range callbacks {
			cb(res)
		}
	}()
}

func (q *Queue) download(ctx context.Context, url string) (string, error) {
	audio, err := q.fetch.Fetch(ctx, url)
	if err != nil {
		q.log.Warn("downloadqueue: fetch failed", "url", url, "error", err)
		q.metrics.IncDownloadFailures()
		return "", fmt.Errorf("download %s: %w", url, errs.Transient)
	}
	path, err := writeToCache(q.cacheDir, url, audio)
	if err != nil {
		q.metrics.IncDownloadFailures()
		return "", fmt.Errorf("cache write %s: %w", url, err)
	}
	q.metrics.IncDownloads()
	return path, nil
}

// ClearCache deletes every cached file and returns the count removed.
// quiescent must report whether it is safe to do so right now (spec §4.3
// / §9 open question: the core forbids clearing while anything plays).
func (q *Queue) ClearCache(quiescent func() bool) (int, error) {
	if !quiescent() {
		return 0, fmt.Errorf("downloadqueue: cache is in use: %w", errs.Invalid)
	}
	locked, err := q.clearLock.TryLock()
	if err != nil {
		return 0, fmt.Errorf("downloadqueue: acquire clear lock: %w", err)
	}
	if !locked {
		return 0, fmt.Errorf("downloadqueue: cache clear already in progress: %w", errs.Unavailable)
	}
	defer q.clearLock.Unlock()

	return clearCacheDirs(q.cacheDir)
}
