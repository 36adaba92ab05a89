package downloadqueue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

type fakeFetcher struct {
	mu       sync.Mutex
	delay    time.Duration
	fail     map[string]bool
	fetched  []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (FetchedAudio, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	fail := f.fail[url]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return FetchedAudio{}, ctx.Err()
		}
	}
	if fail {
		return FetchedAudio{}, errors.New("simulated fetch failure")
	}
	return FetchedAudio{Data: []byte("audio-bytes"), SuggestedExt: "mp3"}, nil
}

func testQueue(t *testing.T, f *fakeFetcher) (*Queue, context.CancelFunc) {
	t.Helper()
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	q, err := New(ctx, dir, f, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return q, cancel
}

func TestQueue_EnqueueThenCallback(t *testing.T) {
	q, cancel := testQueue(t, &fakeFetcher{})
	defer cancel()

	done := make(chan Result, 1)
	outcome := q.Enqueue("https://example.com/a.mp3", func(r Result) { done <- r })
	if outcome != Queued {
		t.Fatalf("expected Queued, got %v", outcome)
	}

	select {
	case r := <-done:
		if r.Err != nil {
			t.Fatalf("unexpected error: %v", r.Err)
		}
		if r.Path == "" {
			t.Fatal("expected a cache path")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}

	if !q.IsCached("https://example.com/a.mp3") {
		t.Fatal("expected URL to be cached after successful download")
	}
}

func TestQueue_SecondEnqueueAttachesToInFlight(t *testing.T) {
	f := &fakeFetcher{delay: 200 * time.Millisecond}
	q, cancel := testQueue(t, f)
	defer cancel()

	doneA := make(chan Result, 1)
	doneB := make(chan Result, 1)

	outcomeA := q.Enqueue("https://example.com/b.mp3", func(r Result) { doneA <- r })
	outcomeB := q.Enqueue("https://example.com/b.mp3", func(r Result) { doneB <- r })

	if outcomeA != Queued {
		t.Fatalf("expected first enqueue Queued, got %v", outcomeA)
	}
	if outcomeB != InProgress {
		t.Fatalf("expected second enqueue InProgress, got %v", outcomeB)
	}

	<-doneA
	<-doneB

	f.mu.Lock()
	count := len(f.fetched)
	f.mu.Unlock()
	if count != 1 {
		t.Fatalf("expected exactly one fetch for a duplicate URL, got %d", count)
	}
}

func TestQueue_CachedReturnsSynchronousCallback(t *testing.T) {
	f := &fakeFetcher{}
	q, cancel := testQueue(t, f)
	defer cancel()

	done := make(chan Result, 1)
	q.Enqueue("https://example.com/c.mp3", func(r Result) { done <- r })
	<-done

	outcome := q.Enqueue("https://example.com/c.mp3", func(r Result) { done <- r })
	if outcome != Cached {
		t.Fatalf("expected Cached on second enqueue, got %v", outcome)
	}
	r := <-done
	if r.Err != nil {
		t.Fatalf("unexpected error on cached callback: %v", r.Err)
	}

	f.mu.Lock()
	count := len(f.fetched)
	f.mu.Unlock()
	if count != 1 {
		t.Fatalf("expected no re-fetch for a cached URL, got %d fetches", count)
	}
}

func TestQueue_FailurePropagatesAndAllowsRetry(t *testing.T) {
	f := &fakeFetcher{fail: map[string]bool{"https://example.com/d.mp3": true}}
	q, cancel := testQueue(t, f)
	defer cancel()

	done := make(chan Result, 1)
	q.Enqueue("https://example.com/d.mp3", func(r Result) { done <- r })
	r := <-done
	if r.Err == nil {
		t.Fatal("expected failure to propagate")
	}
	if q.IsCached("https://example.com/d.mp3") {
		t.Fatal("a failed download must not be cached")
	}
	if q.PendingCount() != 0 {
		t.Fatalf("expected no lingering record after failure, got %d", q.PendingCount())
	}

	// No negative caching: a fresh enqueue creates a new record.
	f.fail["https://example.com/d.mp3"] = false
	done2 := make(chan Result, 1)
	outcome := q.Enqueue("https://example.com/d.mp3", func(r Result) { done2 <- r })
	if outcome != Queued {
		t.Fatalf("expected a fresh Queued outcome after prior failure, got %v", outcome)
	}
	r2 := <-done2
	if r2.Err != nil {
		t.Fatalf("expected retry to succeed, got %v", r2.Err)
	}
}

func TestQueue_ClearCacheRefusesWhenNotQuiescent(t *testing.T) {
	q, cancel := testQueue(t, &fakeFetcher{})
	defer cancel()

	_, err := q.ClearCache(func() bool { return false })
	if err == nil {
		t.Fatal("expected ClearCache to refuse when not quiescent")
	}
}

func TestQueue_ClearCacheRemovesFiles(t *testing.T) {
	q, cancel := testQueue(t, &fakeFetcher{})
	defer cancel()

	done := make(chan Result, 1)
	q.Enqueue("https://example.com/e.mp3", func(r Result) { done <- r })
	<-done

	n, err := q.ClearCache(func() bool { return true })
	if err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 file removed, got %d", n)
	}
	if q.IsCached("https://example.com/e.mp3") {
		t.Fatal("expected cache entry to be gone")
	}
}
